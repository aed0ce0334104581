package queue

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.gazette.dev/dbqueue/schedule"
)

// Config of a Queue. Path is required. The zero value of every other field
// has a useful default.
type Config struct {
	// Path of the database file, created if it doesn't exist. The parent
	// directory must exist. ":memory:" opens a private in-memory database.
	Path string
	// Name of the Queue, used in logs and metrics. Defaults to a generated name.
	Name string
	// JournalMode of the database. Defaults to "WAL".
	JournalMode string
	// BusyTimeout bounds how long a statement waits on a lock held by another
	// connection before failing with SQLITE_BUSY. Defaults to five seconds.
	BusyTimeout time.Duration
	// ForeignKeys enables enforcement of foreign key constraints, including
	// ON DELETE and ON UPDATE cascades.
	ForeignKeys bool
	// ReadOnly opens the database without write access.
	ReadOnly bool
	// FileMode, if non-zero, is applied to the database file once opened.
	FileMode os.FileMode
	// Fs through which FileMode is applied. Defaults to the OS filesystem.
	Fs afero.Fs
	// StatementCacheSize is the capacity of the connection's cache of
	// prepared statements. Defaults to 64.
	StatementCacheSize int
	// PreUpdateHooks enables delivery of PreUpdateEvents to Observers which
	// accept them. It requires a build with the "sqlite_preupdate_hook" tag.
	PreUpdateHooks bool
	// Prepare, if set, is called within the connection's first scheduled
	// block after pragmas are applied. Use it for schema creation, or
	// further pragmas.
	Prepare func(context.Context, *Conn) error
	// Scheduler of the Queue. Defaults to schedule.Default.
	Scheduler *schedule.Scheduler
}

// Defaults of Config fields.
const (
	DefaultJournalMode        = "WAL"
	DefaultBusyTimeout        = 5 * time.Second
	DefaultStatementCacheSize = 64
)

// Validate returns an error if the Config is not well-formed.
func (cfg *Config) Validate() error {
	if cfg.Path == "" {
		return errors.New("expected Path")
	} else if cfg.BusyTimeout < 0 {
		return errors.Errorf("invalid BusyTimeout (%s; expected >= 0)", cfg.BusyTimeout)
	} else if cfg.StatementCacheSize < 0 {
		return errors.Errorf("invalid StatementCacheSize (%d; expected >= 0)", cfg.StatementCacheSize)
	}
	switch strings.ToUpper(cfg.JournalMode) {
	case "", "DELETE", "TRUNCATE", "PERSIST", "MEMORY", "WAL", "OFF":
	default:
		return errors.Errorf("invalid JournalMode (%s)", cfg.JournalMode)
	}
	return nil
}

// withDefaults returns a copy of the Config with defaults applied.
func (cfg Config) withDefaults() Config {
	if cfg.Name == "" {
		cfg.Name = petname.Generate(2, "-")
	}
	if cfg.JournalMode == "" {
		cfg.JournalMode = DefaultJournalMode
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = DefaultBusyTimeout
	}
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.StatementCacheSize == 0 {
		cfg.StatementCacheSize = DefaultStatementCacheSize
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = schedule.Default
	}
	return cfg
}

func (cfg *Config) inMemory() bool {
	return cfg.Path == ":memory:" || strings.HasPrefix(cfg.Path, "file::memory:")
}

// dsn returns the go-sqlite3 data source name of the Config.
func (cfg *Config) dsn() string {
	var v = make(url.Values)
	v.Set("_busy_timeout", strconv.FormatInt(cfg.BusyTimeout.Milliseconds(), 10))
	// Connections are confined to a single queue, and never used concurrently.
	v.Set("_mutex", "no")

	if cfg.ReadOnly {
		v.Set("mode", "ro")
	}
	if cfg.Path == ":memory:" {
		return "file::memory:?" + v.Encode()
	}
	return "file:" + uriEscaper.Replace(cfg.Path) + "?" + v.Encode()
}

// pragmas applied to each connection, in order.
func (cfg *Config) pragmas() []string {
	var out = []string{
		fmt.Sprintf("PRAGMA journal_mode = %s", cfg.JournalMode),
	}
	if cfg.ForeignKeys {
		out = append(out, "PRAGMA foreign_keys = ON")
	} else {
		out = append(out, "PRAGMA foreign_keys = OFF")
	}
	if strings.EqualFold(cfg.JournalMode, "WAL") {
		// NORMAL is durable in WAL mode, save for the most recent
		// transactions upon power loss.
		out = append(out, "PRAGMA synchronous = NORMAL")
	}
	return out
}

var uriEscaper = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")
