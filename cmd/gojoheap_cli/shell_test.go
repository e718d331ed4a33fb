package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sushant-115/gojoheap/config"
	flushmanager "github.com/sushant-115/gojoheap/core/write_engine/flush_manager"
	"github.com/sushant-115/gojoheap/pkg/telemetry"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setupShell(t *testing.T, dbPath string) (*shell, *bytes.Buffer, func() error) {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.DBPath = dbPath
	cfg.Storage.PageSize = 512
	cfg.Storage.PoolSize = 8
	require.NoError(t, cfg.Validate())

	tel, _, err := telemetry.New(telemetry.Config{})
	require.NoError(t, err)
	out := &bytes.Buffer{}
	sh, closeStore, err := openStore(cfg, tel, zaptest.NewLogger(t), out)
	require.NoError(t, err)
	return sh, out, closeStore
}

// run executes line and returns what it printed.
func run(t *testing.T, sh *shell, out *bytes.Buffer, line string) string {
	t.Helper()
	out.Reset()
	exit, err := sh.execute(context.Background(), line)
	require.NoError(t, err, line)
	require.False(t, exit)
	return strings.TrimSpace(out.String())
}

func TestShell_RecordCommands(t *testing.T) {
	sh, out, closeStore := setupShell(t, filepath.Join(t.TempDir(), "cli.db"))
	defer closeStore()

	_, err := sh.execute(context.Background(), "insert orphan")
	require.ErrorIs(t, err, errNoFile)

	require.Contains(t, run(t, sh, out, "open students"), "opened students")
	rid := run(t, sh, out, "insert  ada   lovelace")
	require.Equal(t, "ada   lovelace", run(t, sh, out, "select "+rid))

	require.Contains(t, run(t, sh, out, "update "+rid+" ADA   LOVELACE"), "updated")
	require.Equal(t, "ADA   LOVELACE", run(t, sh, out, "select "+rid))

	_, err = sh.execute(context.Background(), "update "+rid+" short")
	require.ErrorIs(t, err, flushmanager.ErrInvalidArgument)

	second := run(t, sh, out, "insert grace hopper")
	require.Equal(t, "2", run(t, sh, out, "count"))

	scan := run(t, sh, out, "scan")
	require.Contains(t, scan, rid+"\tADA   LOVELACE")
	require.Contains(t, scan, second+"\tgrace hopper")
	require.Contains(t, scan, "(2 records)")

	require.Contains(t, run(t, sh, out, "dirs"), "records=2")

	require.Contains(t, run(t, sh, out, "delete "+rid), "deleted")
	require.Equal(t, "1", run(t, sh, out, "count"))
	_, err = sh.execute(context.Background(), "select "+rid)
	require.ErrorIs(t, err, flushmanager.ErrInvalidArgument)

	require.Contains(t, run(t, sh, out, "stats"), "pool: size=8")
	require.Equal(t, "flushed", run(t, sh, out, "flush"))
}

func TestShell_UsageAndExit(t *testing.T) {
	sh, out, closeStore := setupShell(t, filepath.Join(t.TempDir(), "cli.db"))
	defer closeStore()
	run(t, sh, out, "open main")

	for _, line := range []string{"select", "select nonsense", "delete 1", "update 3:0", "insert", "bogus"} {
		_, err := sh.execute(context.Background(), line)
		require.Error(t, err, line)
	}

	require.Empty(t, run(t, sh, out, "   "))
	require.Contains(t, run(t, sh, out, "help"), "Commands:")

	exit, err := sh.execute(context.Background(), "QUIT")
	require.NoError(t, err)
	require.True(t, exit)
}

func TestShell_DropAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")
	sh, out, closeStore := setupShell(t, path)
	run(t, sh, out, "open keep")
	rid := run(t, sh, out, "insert persisted")
	run(t, sh, out, "open gone")
	run(t, sh, out, "insert temporary")

	files := run(t, sh, out, "files")
	require.Contains(t, files, "keep")
	require.Contains(t, files, "gone")

	require.Equal(t, "dropped gone", run(t, sh, out, "drop"))
	_, err := sh.execute(context.Background(), "count")
	require.ErrorIs(t, err, errNoFile)
	require.NotContains(t, run(t, sh, out, "files"), "gone")
	require.NoError(t, closeStore())

	sh, out, closeStore = setupShell(t, path)
	defer closeStore()
	run(t, sh, out, "open keep")
	require.Equal(t, "persisted", run(t, sh, out, "select "+rid))
	require.Equal(t, "1", run(t, sh, out, "count"))
}

func TestOpenStore_ExistingFileKeepsItsPageSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")
	sh, out, closeStore := setupShell(t, path)
	run(t, sh, out, "open small")
	rid := run(t, sh, out, "insert created with 512 byte pages")
	require.NoError(t, closeStore())

	// Reopen with the default configuration.
	cfg := config.Default()
	cfg.Storage.DBPath = path
	require.Equal(t, 4096, cfg.Storage.PageSize)
	tel, _, err := telemetry.New(telemetry.Config{})
	require.NoError(t, err)
	out = &bytes.Buffer{}
	sh, closeStore, err = openStore(cfg, tel, zaptest.NewLogger(t), out)
	require.NoError(t, err)
	defer closeStore()

	require.Equal(t, 512, sh.bpm.PageSize())
	run(t, sh, out, "open small")
	require.Equal(t, "created with 512 byte pages", run(t, sh, out, "select "+rid))
}
