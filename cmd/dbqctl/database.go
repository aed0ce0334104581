package main

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	mbp "go.gazette.dev/dbqueue/mainboilerplate"
	"go.gazette.dev/dbqueue/queue"
)

// DatabaseConfig is common configuration of commands which open a database.
type DatabaseConfig struct {
	Path        string        `long:"path" env:"PATH" required:"true" description:"Path of the SQLite database"`
	JournalMode string        `long:"journal-mode" env:"JOURNAL_MODE" default:"WAL" description:"Journal mode of the database"`
	BusyTimeout time.Duration `long:"busy-timeout" env:"BUSY_TIMEOUT" default:"5s" description:"Duration to wait on a database locked by another process"`
	ForeignKeys bool          `long:"foreign-keys" env:"FOREIGN_KEYS" description:"Enforce foreign key constraints"`
}

// mustOpen opens a Queue of the configured database, named |name|.
func (cfg DatabaseConfig) mustOpen(ctx context.Context, name string, readOnly bool) *queue.Queue {
	var q, err = queue.Open(ctx, queue.Config{
		Path:        cfg.Path,
		Name:        name,
		JournalMode: cfg.JournalMode,
		BusyTimeout: cfg.BusyTimeout,
		ForeignKeys: cfg.ForeignKeys,
		ReadOnly:    readOnly,
	})
	mbp.Must(err, "failed to open database", "path", cfg.Path)
	return q
}

// readScript returns statements of |args| joined by semicolons or, if
// there are none, the contents of stdin.
func readScript(args []string) string {
	if len(args) != 0 {
		return strings.Join(args, ";\n")
	}
	var b, err = io.ReadAll(os.Stdin)
	mbp.Must(err, "failed to read statements from stdin")
	return string(b)
}
