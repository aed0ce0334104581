package main

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	mbp "go.gazette.dev/dbqueue/mainboilerplate"
	"go.gazette.dev/dbqueue/queue"
	"go.gazette.dev/dbqueue/row"
)

type cmdStats struct {
	DB DatabaseConfig `group:"Database" namespace:"db" env-namespace:"DB"`
}

func init() {
	registry.AddCommand("", "stats", "Print statistics of a database", `
Print the on-disk size of a database and its journal files, its page
statistics and journal mode, and the row count of each table.
`, &cmdStats{})
}

// dbStats are statistics of a database.
type dbStats struct {
	files     []fileStat
	pageCount int64
	pageSize  int64
	freePages int64
	journal   string
	tables    []tableStat
}

type fileStat struct {
	path string
	size int64
}

type tableStat struct {
	name string
	rows int64
}

func (cmd *cmdStats) Execute([]string) error {
	defer startup()()

	var ctx = context.Background()
	var q = cmd.DB.mustOpen(ctx, "dbqctl-stats", false)
	defer q.Close()

	var stats, err = queue.PerformSync(ctx, q, readStats)
	mbp.Must(err, "failed to read database statistics")

	stats.files, err = statFiles(afero.NewOsFs(), cmd.DB.Path)
	mbp.Must(err, "failed to stat database files")

	mbp.Must(stats.write(os.Stdout), "failed to write statistics")
	return nil
}

func readStats(ctx context.Context, conn *queue.Conn) (dbStats, error) {
	var out dbStats
	var err error

	for _, p := range []struct {
		pragma string
		into   *int64
	}{
		{"PRAGMA page_count", &out.pageCount},
		{"PRAGMA page_size", &out.pageSize},
		{"PRAGMA freelist_count", &out.freePages},
	} {
		if *p.into, _, err = queue.FetchValue[int64](ctx, conn, p.pragma); err != nil {
			return out, err
		}
	}
	if out.journal, _, err = queue.FetchValue[string](ctx, conn, "PRAGMA journal_mode"); err != nil {
		return out, err
	}

	var names []string
	if err = conn.ForEach(ctx, func(r row.Row) error {
		names = append(names, row.Get[string](r, 0))
		return nil
	}, "SELECT name FROM sqlite_schema WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name"); err != nil {
		return out, err
	}
	for _, name := range names {
		var n int64
		if n, _, err = queue.FetchValue[int64](ctx, conn,
			"SELECT COUNT(*) FROM "+quoteIdentifier(name)); err != nil {
			return out, err
		}
		out.tables = append(out.tables, tableStat{name: name, rows: n})
	}
	return out, nil
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// statFiles returns sizes of the database file at |path|, and of its
// journal files if they exist.
func statFiles(fs afero.Fs, path string) ([]fileStat, error) {
	var out []fileStat
	for i, p := range []string{path, path + "-wal", path + "-shm", path + "-journal"} {
		var info, err = fs.Stat(p)
		if os.IsNotExist(err) && i != 0 {
			continue
		} else if err != nil {
			return nil, err
		}
		out = append(out, fileStat{path: p, size: info.Size()})
	}
	return out, nil
}

func (s dbStats) write(w io.Writer) error {
	var lines = [][]string{
		{"journal mode", s.journal},
		{"pages", humanize.Comma(s.pageCount)},
		{"page size", humanize.IBytes(uint64(s.pageSize))},
		{"free pages", humanize.Comma(s.freePages)},
	}
	for _, f := range s.files {
		lines = append(lines, []string{f.path, humanize.Bytes(uint64(f.size))})
	}
	for _, t := range s.tables {
		lines = append(lines, []string{"table " + t.name, humanize.Comma(t.rows) + " rows"})
	}
	return writeTable(w, []string{"Statistic", "Value"}, lines)
}
