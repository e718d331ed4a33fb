package main

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sushant-115/gojoheap/core/heapfile"
	"github.com/sushant-115/gojoheap/core/write_engine/bufferpool"
	flushmanager "github.com/sushant-115/gojoheap/core/write_engine/flush_manager"
	"github.com/sushant-115/gojoheap/pkg/logger"
	"go.uber.org/zap"
)

const (
	records  = 20000
	poolSize = 64
	pageSize = 4096
)

func main() {
	baseDataDir := filepath.Join(os.TempDir(), "gojoheap")
	if err := os.MkdirAll(baseDataDir, 0755); err != nil {
		log.Fatalf("failed to create data dir: %v", err)
	}
	dbPath := filepath.Join(baseDataDir, "heapfile_perf.db")
	_ = os.Remove(dbPath)

	zlogger, err := logger.New(logger.Config{Level: "info", Format: "console", OutputFile: "stderr"})
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	dm, err := flushmanager.NewDiskManager(dbPath, pageSize, zlogger.Named("disk_manager"))
	if err != nil {
		zlogger.Fatal("failed to create disk manager", zap.Error(err))
	}
	if _, err := dm.OpenOrCreateFile(true); err != nil {
		zlogger.Fatal("failed to create database file", zap.Error(err))
	}
	defer dm.Close()
	bpm, err := bufferpool.NewBufferPoolManager(poolSize, dm, zlogger)
	if err != nil {
		zlogger.Fatal("failed to create buffer pool", zap.Error(err))
	}
	hf, err := heapfile.Open(bpm, dm, "perf", heapfile.WithLogger(zlogger.Named("heapfile")))
	if err != nil {
		zlogger.Fatal("failed to open heap file", zap.Error(err))
	}

	rids := make([]heapfile.RID, records)
	start := time.Now()
	write(hf, rids, zlogger)
	zlogger.Info("insert phase done", zap.Int("records", records), zap.Duration("elapsed", time.Since(start)))

	start = time.Now()
	read(hf, rids, zlogger)
	zlogger.Info("select phase done", zap.Int("records", records), zap.Duration("elapsed", time.Since(start)))

	if err := bpm.FlushAllPages(); err != nil {
		zlogger.Error("flush failed", zap.Error(err))
	}
	st := bpm.Stats()
	zlogger.Info("buffer pool stats",
		zap.Uint64("hits", st.Hits),
		zap.Uint64("misses", st.Misses),
		zap.Uint64("evictions", st.Evictions),
		zap.Uint64("writeBacks", st.WriteBacks),
		zap.Uint64("diskReads", dm.Reads()),
		zap.Uint64("diskWrites", dm.Writes()))
}

func value(i int) string {
	return "value-" + strconv.Itoa(i)
}

func write(hf *heapfile.HeapFile, rids []heapfile.RID, zlogger *zap.Logger) {
	wg := sync.WaitGroup{}
	maxWorkers := 20
	sem := make(chan struct{}, maxWorkers)
	for i := range rids {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			rid, err := hf.InsertRecord([]byte(value(i)))
			if err != nil {
				zlogger.Error("insert failed", zap.Int("i", i), zap.Error(err))
				return
			}
			rids[i] = rid
		}()
	}
	wg.Wait()
}

func read(hf *heapfile.HeapFile, rids []heapfile.RID, zlogger *zap.Logger) {
	wg := sync.WaitGroup{}
	maxWorkers := 10
	sem := make(chan struct{}, maxWorkers)
	for i, rid := range rids {
		if !rid.PageID.IsValid() {
			continue
		}
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			rec, err := hf.SelectRecord(rid)
			if err != nil {
				zlogger.Error("select failed", zap.Stringer("rid", rid), zap.Error(err))
				return
			}
			if string(rec) != value(i) {
				zlogger.Error("record mismatch", zap.Stringer("rid", rid), zap.String("want", value(i)), zap.ByteString("got", rec))
			}
		}()
	}
	wg.Wait()
}
