package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.gazette.dev/dbqueue/change"
	"go.gazette.dev/dbqueue/queue"
	"go.gazette.dev/dbqueue/row"
)

func TestRowEncodings(t *testing.T) {
	var rows = []row.Row{
		row.New([]string{"id", "name", "data"},
			[]row.Value{row.IntValue(1), row.TextValue("arthur"), row.BlobValue([]byte("hi"))}),
		row.New([]string{"id", "name", "data"},
			[]row.Value{row.IntValue(2), row.NullValue(), row.FloatValue(1.5)}),
	}

	var buf bytes.Buffer
	require.NoError(t, writeYAML(&buf, rows))
	require.Equal(t, `- id: 1
  name: arthur
  data: hi
- id: 2
  name: null
  data: 1.5
`, buf.String())

	buf.Reset()
	require.NoError(t, writeJSON(&buf, rows))
	require.Equal(t, `{"data":"hi","id":1,"name":"arthur"}
{"data":1.5,"id":2,"name":null}
`, buf.String())

	require.Equal(t, [][]string{
		{"1", `"arthur"`, "x'6869'"},
		{"2", "NULL", "1.5"},
	}, tableCells(rows))

	buf.Reset()
	require.NoError(t, writeTable(&buf, []string{"id", "name", "data"}, tableCells(rows)))
	require.Contains(t, buf.String(), `"arthur"`)
}

func TestWatchFilter(t *testing.T) {
	var cmd = cmdWatch{Tables: []string{"t"}, Kinds: []string{"delete", "update"}}
	var filter, err = cmd.filter()
	require.NoError(t, err)

	require.True(t, filter(change.Event{Kind: change.Delete, Table: "T"}))
	require.True(t, filter(change.Event{Kind: change.Update, Table: "t"}))
	require.False(t, filter(change.Event{Kind: change.Insert, Table: "t"}))
	require.False(t, filter(change.Event{Kind: change.Delete, Table: "other"}))

	cmd = cmdWatch{}
	filter, err = cmd.filter()
	require.NoError(t, err)
	require.True(t, filter(change.Event{Kind: change.Insert, Table: "any"}))

	cmd = cmdWatch{Kinds: []string{"upsert"}}
	_, err = cmd.filter()
	require.EqualError(t, err, `unknown kind "upsert"`)
}

func TestYAMLPrinterWritesCommittedTransactions(t *testing.T) {
	var ctx = context.Background()
	var q, err = queue.Open(ctx, queue.Config{Path: filepath.Join(t.TempDir(), "watch.db")})
	require.NoError(t, err)
	defer q.Close()

	var buf bytes.Buffer
	var printer = &yamlPrinter{w: &buf}
	q.AddObserver(change.Strong(printer), change.Tables("t"))

	require.NoError(t, q.Perform(ctx, func(ctx context.Context, conn *queue.Conn) error {
		var _, err = conn.Exec(ctx, `
			CREATE TABLE t (id INTEGER PRIMARY KEY);
			CREATE TABLE other (id INTEGER PRIMARY KEY);
			INSERT INTO other (id) VALUES (1);
			BEGIN;
			INSERT INTO t (id) VALUES (1);
			SAVEPOINT sp;
			INSERT INTO t (id) VALUES (2);
			RELEASE sp;
			COMMIT;
			BEGIN;
			DELETE FROM t WHERE id = 1;
			ROLLBACK;
			DELETE FROM t WHERE id = 2;
		`)
		return err
	}))
	require.Equal(t, 2, printer.docs)
	require.Equal(t, `---
- kind: insert
  database: main
  table: t
  rowid: 1
- kind: insert
  database: main
  table: t
  rowid: 2
  depth: 1
---
- kind: delete
  database: main
  table: t
  rowid: 2
`, buf.String())
}

func TestLoadAndStats(t *testing.T) {
	var ctx = context.Background()
	var cmd = cmdLoad{
		DB:          DatabaseConfig{Path: filepath.Join(t.TempDir(), "load.db"), JournalMode: "WAL"},
		Rows:        25,
		Batch:       10,
		PayloadSize: 16,
		Pipeline:    2,
	}
	var q = cmd.DB.mustOpen(ctx, "test-load", false)
	defer q.Close()

	require.NoError(t, q.Perform(ctx, func(ctx context.Context, conn *queue.Conn) error {
		var _, err = conn.Exec(ctx, loadSchema)
		return err
	}))
	var counter = new(insertCounter)
	q.AddObserver(change.Strong(counter), change.Kinds(change.Insert))

	require.NoError(t, cmd.write(ctx, q, 0))
	require.NoError(t, cmd.write(ctx, q, 1))
	require.Equal(t, int64(50), counter.committed.Load())

	var stats, err = queue.PerformSync(ctx, q, readStats)
	require.NoError(t, err)
	require.Equal(t, "wal", stats.journal)
	require.Equal(t, []tableStat{{name: "dbqctl_load", rows: 50}}, stats.tables)
	require.True(t, stats.pageCount > 0)

	stats.files, err = statFiles(afero.NewOsFs(), cmd.DB.Path)
	require.NoError(t, err)
	require.Equal(t, cmd.DB.Path, stats.files[0].path)
	require.True(t, stats.files[0].size > 0)

	var buf bytes.Buffer
	require.NoError(t, stats.write(&buf))
	require.Contains(t, buf.String(), "50 rows")
}

func TestStatFiles(t *testing.T) {
	var fs = afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/db", make([]byte, 4096), 0644))
	require.NoError(t, afero.WriteFile(fs, "/db-wal", make([]byte, 100), 0644))

	var files, err = statFiles(fs, "/db")
	require.NoError(t, err)
	require.Equal(t, []fileStat{{"/db", 4096}, {"/db-wal", 100}}, files)

	_, err = statFiles(fs, "/missing")
	require.Error(t, err)
}
