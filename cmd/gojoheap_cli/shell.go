package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sushant-115/gojoheap/core/heapfile"
	"github.com/sushant-115/gojoheap/core/write_engine/bufferpool"
	flushmanager "github.com/sushant-115/gojoheap/core/write_engine/flush_manager"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var errNoFile = errors.New("no heap file is open; use 'open <name>'")

// shell runs commands against one open heap file at a time.
type shell struct {
	dm       *flushmanager.DiskManager
	bpm      *bufferpool.BufferPoolManager
	hf       *heapfile.HeapFile
	fileOpts []heapfile.Option
	tracer   trace.Tracer
	logger   *zap.Logger
	out      io.Writer
}

var commandNames = []string{
	"open", "files", "insert", "select", "update", "delete", "count",
	"scan", "dirs", "flush", "stats", "drop", "help", "exit", "quit",
}

// execute runs one command line. exit reports that the shell should stop.
func (s *shell) execute(ctx context.Context, line string) (exit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd := strings.ToLower(fields[0])
	args := fields[1:]
	// Record text keeps its inner spacing.
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))

	_, span := s.tracer.Start(ctx, "shell."+cmd)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	if s.hf != nil {
		span.SetAttributes(attribute.String("heapfile", s.hf.Name()))
	}

	switch cmd {
	case "exit", "quit":
		return true, nil
	case "help":
		s.help()
		return false, nil
	case "open":
		if len(args) != 1 {
			return false, errors.New("usage: open <name>")
		}
		return false, s.open(args[0])
	case "files":
		for _, e := range s.dm.FileEntries() {
			fmt.Fprintf(s.out, "%s\thead=%d\n", e.Name, e.HeadPageID)
		}
		return false, nil
	case "flush":
		if err := s.bpm.FlushAllPages(); err != nil {
			return false, err
		}
		fmt.Fprintln(s.out, "flushed")
		return false, nil
	case "stats":
		s.stats()
		return false, nil
	}

	if s.hf == nil {
		return false, errNoFile
	}
	switch cmd {
	case "insert":
		if rest == "" {
			return false, errors.New("usage: insert <text>")
		}
		rid, err := s.hf.InsertRecord([]byte(rest))
		if err != nil {
			return false, err
		}
		span.SetAttributes(attribute.String("rid", rid.String()))
		fmt.Fprintln(s.out, rid)
	case "select":
		if len(args) != 1 {
			return false, errors.New("usage: select <page:slot>")
		}
		rid, err := heapfile.ParseRID(args[0])
		if err != nil {
			return false, err
		}
		rec, err := s.hf.SelectRecord(rid)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(s.out, string(rec))
	case "update":
		if len(args) < 2 {
			return false, errors.New("usage: update <page:slot> <text>")
		}
		rid, err := heapfile.ParseRID(args[0])
		if err != nil {
			return false, err
		}
		text := strings.TrimSpace(strings.TrimPrefix(rest, args[0]))
		if err := s.hf.UpdateRecord(rid, []byte(text)); err != nil {
			return false, err
		}
		fmt.Fprintln(s.out, "updated", rid)
	case "delete":
		if len(args) != 1 {
			return false, errors.New("usage: delete <page:slot>")
		}
		rid, err := heapfile.ParseRID(args[0])
		if err != nil {
			return false, err
		}
		if err := s.hf.DeleteRecord(rid); err != nil {
			return false, err
		}
		fmt.Fprintln(s.out, "deleted", rid)
	case "count":
		n, err := s.hf.RecordCount()
		if err != nil {
			return false, err
		}
		fmt.Fprintln(s.out, n)
	case "scan":
		return false, s.scan()
	case "dirs":
		return false, s.dirs()
	case "drop":
		name := s.hf.Name()
		if err := s.hf.DeleteFile(); err != nil {
			return false, err
		}
		s.hf = nil
		fmt.Fprintln(s.out, "dropped", name)
	default:
		return false, fmt.Errorf("unknown command %q; type 'help'", cmd)
	}
	return false, nil
}

func (s *shell) open(name string) error {
	hf, err := heapfile.Open(s.bpm, s.dm, name, s.fileOpts...)
	if err != nil {
		return err
	}
	s.hf = hf
	s.logger.Info("Opened heap file", zap.String("name", name), zap.Uint64("head_page_id", uint64(hf.HeadPageID())))
	fmt.Fprintf(s.out, "opened %s (head page %d)\n", name, hf.HeadPageID())
	return nil
}

func (s *shell) scan() error {
	scan, err := s.hf.OpenScan()
	if err != nil {
		return err
	}
	defer scan.Close()
	n := 0
	for {
		rid, rec, ok, err := scan.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		fmt.Fprintf(s.out, "%s\t%s\n", rid, rec)
		n++
	}
	fmt.Fprintf(s.out, "(%d records)\n", n)
	return nil
}

func (s *shell) dirs() error {
	infos, err := s.hf.DirectoryPages()
	if err != nil {
		return err
	}
	for _, d := range infos {
		fmt.Fprintf(s.out, "dir %d prev=%d next=%d entries=%d/%d\n",
			d.PageID, d.Prev, d.Next, len(d.Entries), s.hf.MaxDirEntries())
		for _, e := range d.Entries {
			fmt.Fprintf(s.out, "  data %d records=%d free=%d\n", e.PageID, e.RecCnt, e.FreeCnt)
		}
	}
	return nil
}

func (s *shell) stats() {
	st := s.bpm.Stats()
	fmt.Fprintf(s.out, "pool: size=%d resident=%d pinned=%d dirty=%d\n", st.PoolSize, st.Resident, st.Pinned, st.Dirty)
	fmt.Fprintf(s.out, "pool: hits=%d misses=%d evictions=%d writebacks=%d exhausted=%d\n",
		st.Hits, st.Misses, st.Evictions, st.WriteBacks, st.Exhausted)
	fmt.Fprintf(s.out, "disk: pages=%d free=%d reads=%d writes=%d\n",
		s.dm.NumPages(), s.dm.FreePageCount(), s.dm.Reads(), s.dm.Writes())
}

func (s *shell) help() {
	fmt.Fprintln(s.out, "Commands:")
	fmt.Fprintln(s.out, "  open <name>                 open or create a heap file")
	fmt.Fprintln(s.out, "  files                       list cataloged heap files")
	fmt.Fprintln(s.out, "  insert <text>               insert a record, prints its rid")
	fmt.Fprintln(s.out, "  select <page:slot>")
	fmt.Fprintln(s.out, "  update <page:slot> <text>   text must keep the record length")
	fmt.Fprintln(s.out, "  delete <page:slot>")
	fmt.Fprintln(s.out, "  count | scan | dirs")
	fmt.Fprintln(s.out, "  flush | stats")
	fmt.Fprintln(s.out, "  drop                        delete the open heap file")
	fmt.Fprintln(s.out, "  help | exit | quit")
}
