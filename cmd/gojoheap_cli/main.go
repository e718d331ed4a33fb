package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/chzyer/readline"
	"github.com/sushant-115/gojoheap/config"
	"github.com/sushant-115/gojoheap/core/heapfile"
	"github.com/sushant-115/gojoheap/core/write_engine/bufferpool"
	flushmanager "github.com/sushant-115/gojoheap/core/write_engine/flush_manager"
	internaltelemetry "github.com/sushant-115/gojoheap/internal/telemetry"
	"github.com/sushant-115/gojoheap/pkg/logger"
	"github.com/sushant-115/gojoheap/pkg/telemetry"
	"go.uber.org/zap"
)

var CLI struct {
	Config        string   `name:"config" short:"c" type:"path" help:"YAML configuration file."`
	DB            string   `name:"db" type:"path" help:"Database file, overrides storage.db_path."`
	PageSize      int      `name:"page-size" help:"Page size in bytes for a new database file; existing files keep theirs."`
	PoolSize      int      `name:"pool-size" help:"Number of buffer pool frames."`
	MaxDirEntries int      `name:"max-dir-entries" help:"Entries per directory page, 0 for page capacity."`
	LogLevel      string   `name:"log-level" help:"debug, info, warn or error."`
	File          string   `name:"file" short:"f" default:"main" help:"Heap file opened at startup."`
	Command       []string `arg:"" optional:"" help:"Run one command and exit instead of starting the shell."`
}

func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if CLI.Config != "" {
		var err error
		if cfg, err = config.Load(CLI.Config); err != nil {
			return cfg, err
		}
	}
	if CLI.DB != "" {
		cfg.Storage.DBPath = CLI.DB
	}
	if CLI.PageSize != 0 {
		cfg.Storage.PageSize = CLI.PageSize
	}
	if CLI.PoolSize != 0 {
		cfg.Storage.PoolSize = CLI.PoolSize
	}
	if CLI.MaxDirEntries != 0 {
		cfg.Storage.MaxDirEntries = CLI.MaxDirEntries
	}
	if CLI.LogLevel != "" {
		cfg.Logger.Level = CLI.LogLevel
	}
	return cfg, cfg.Validate()
}

// openStore opens or creates the database file and stacks a buffer pool on
// it. An existing file keeps the page size it was created with. The returned
// close func flushes every dirty page before closing.
func openStore(cfg config.Config, tel *telemetry.Telemetry, log *zap.Logger, out io.Writer) (*shell, func() error, error) {
	_, statErr := os.Stat(cfg.Storage.DBPath)
	create := errors.Is(statErr, os.ErrNotExist)
	if !create {
		header, err := flushmanager.ReadFileHeader(cfg.Storage.DBPath)
		if err != nil {
			return nil, nil, err
		}
		if int(header.PageSize) != cfg.Storage.PageSize {
			log.Info("Using page size from database file",
				zap.Uint32("file_page_size", header.PageSize),
				zap.Int("configured_page_size", cfg.Storage.PageSize))
			cfg.Storage.PageSize = int(header.PageSize)
		}
	}
	dm, err := flushmanager.NewDiskManager(cfg.Storage.DBPath, cfg.Storage.PageSize, log)
	if err != nil {
		return nil, nil, err
	}
	if _, err := dm.OpenOrCreateFile(create); err != nil {
		return nil, nil, err
	}
	dm.SetWriteLimiter(flushmanager.NewWriteLimiter(cfg.Storage.MaxWriteBytesPerSec, dm.PageSize()))

	bpm, err := bufferpool.NewBufferPoolManager(cfg.Storage.PoolSize, dm, log)
	if err != nil {
		dm.Close()
		return nil, nil, err
	}
	metrics, err := internaltelemetry.NewBufferPoolMetrics(tel.Meter)
	if err != nil {
		dm.Close()
		return nil, nil, err
	}
	bpm.SetMetrics(metrics)

	sh := &shell{
		dm:     dm,
		bpm:    bpm,
		tracer: tel.Tracer,
		logger: log,
		out:    out,
		fileOpts: []heapfile.Option{
			heapfile.WithMaxDirEntries(cfg.Storage.MaxDirEntries),
			heapfile.WithLogger(log),
		},
	}
	closeFn := func() error {
		return errors.Join(bpm.FlushAllPages(), dm.Close())
	}
	return sh, closeFn, nil
}

func main() {
	kong.Parse(&CLI,
		kong.Name("gojoheap_cli"),
		kong.Description("Interactive shell over a gojoheap heap file."),
		kong.UsageOnError(),
	)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	tel, shutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()
	if tel.MetricsAddr != "" {
		log.Info("Serving metrics", zap.String("addr", "http://"+tel.MetricsAddr+"/metrics"))
	}

	sh, closeStore, err := openStore(cfg, tel, log, os.Stdout)
	if err != nil {
		log.Fatal("Failed to open database", zap.String("path", cfg.Storage.DBPath), zap.Error(err))
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Error("Failed to close database", zap.Error(err))
		}
	}()
	if err := sh.open(CLI.File); err != nil {
		log.Error("Failed to open heap file", zap.String("file", CLI.File), zap.Error(err))
		return
	}

	ctx := context.Background()
	if len(CLI.Command) > 0 {
		if _, err := sh.execute(ctx, strings.Join(CLI.Command, " ")); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return
	}
	runInteractive(ctx, sh, log)
}

func runInteractive(ctx context.Context, sh *shell, log *zap.Logger) {
	items := make([]readline.PrefixCompleterInterface, 0, len(commandNames))
	for _, name := range commandNames {
		items = append(items, readline.PcItem(name))
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "gojoheap> ",
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		log.Error("Failed to start line editor", zap.Error(err))
		return
	}
	defer rl.Close()

	fmt.Println("gojoheap shell. Type 'help' for commands.")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				return
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			log.Error("Reading input failed", zap.Error(err))
			return
		}
		exit, err := sh.execute(ctx, line)
		if err != nil {
			fmt.Println("Error:", err)
		}
		if exit {
			return
		}
	}
}
