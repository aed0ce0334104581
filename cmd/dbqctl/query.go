package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	mbp "go.gazette.dev/dbqueue/mainboilerplate"
	"go.gazette.dev/dbqueue/queue"
	"go.gazette.dev/dbqueue/row"
	"gopkg.in/yaml.v2"
)

type cmdQuery struct {
	DB     DatabaseConfig `group:"Database" namespace:"db" env-namespace:"DB"`
	Format string         `long:"format" short:"o" choice:"table" choice:"yaml" choice:"json" default:"table" description:"Output format"`
	Args   struct {
		Query string `required:"yes"`
		Args  []string
	} `positional-args:"yes" positional-arg-name:"SQL"`
}

func init() {
	registry.AddCommand("", "query", "Query a database and print its rows", `
Run a query within a read-only transaction, and print its rows. Further
arguments are bound in order to positional parameters of the query.

Results can be output in a variety of --format options:
table: Prints as a table.
yaml:  Prints a YAML sequence of rows, each a mapping of column names to values.
json:  Prints rows as JSON objects, one per line.

Print rows having a given name:
>    dbqctl query --db.path my.db "SELECT * FROM t WHERE name = ?" arthur
`, &cmdQuery{})
}

func (cmd *cmdQuery) Execute([]string) error {
	defer startup()()

	var ctx = context.Background()
	var q = cmd.DB.mustOpen(ctx, "dbqctl-query", false)
	defer q.Close()

	var args = make([]interface{}, len(cmd.Args.Args))
	for i, a := range cmd.Args.Args {
		args[i] = a
	}
	var columns []string
	var rows []row.Row

	mbp.Must(q.Read(ctx, func(ctx context.Context, conn *queue.Conn) error {
		var cur, err = conn.Query(ctx, cmd.Args.Query, args...)
		if err != nil {
			return err
		}
		defer cur.Close()

		columns = cur.Columns()
		for cur.Next() {
			rows = append(rows, cur.Row().Materialize())
		}
		return cur.Err()
	}), "failed to run query")

	switch cmd.Format {
	case "table":
		mbp.Must(writeTable(os.Stdout, columns, tableCells(rows)), "failed to write table")
	case "yaml":
		mbp.Must(writeYAML(os.Stdout, rows), "failed to write yaml")
	case "json":
		mbp.Must(writeJSON(os.Stdout, rows), "failed to write json")
	}
	return nil
}

func writeTable(w io.Writer, columns []string, cells [][]string) error {
	var table = tablewriter.NewWriter(w)

	var header = make([]interface{}, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	table.Header(header...)

	if err := table.Bulk(cells); err != nil {
		return err
	}
	return table.Render()
}

// tableCells renders Values of |rows| as SQL literals.
func tableCells(rows []row.Row) [][]string {
	var out = make([][]string, 0, len(rows))
	for _, r := range rows {
		var line = make([]string, r.Count())
		for i := range line {
			line[i] = r.Value(i).String()
		}
		out = append(out, line)
	}
	return out
}

func writeYAML(w io.Writer, rows []row.Row) error {
	var out = make([]yaml.MapSlice, 0, len(rows))
	for _, r := range rows {
		var m = make(yaml.MapSlice, r.Count())
		for i := range m {
			m[i] = yaml.MapItem{Key: r.Column(i), Value: plainValue(r.Value(i))}
		}
		out = append(out, m)
	}
	var b, err = yaml.Marshal(out)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func writeJSON(w io.Writer, rows []row.Row) error {
	var enc = json.NewEncoder(w)
	for _, r := range rows {
		var m = make(map[string]interface{}, r.Count())
		for i := 0; i != r.Count(); i++ {
			m[r.Column(i)] = plainValue(r.Value(i))
		}
		if err := enc.Encode(m); err != nil {
			return err
		}
	}
	return nil
}

// plainValue of |v| for encoding. Blobs are presented as strings.
func plainValue(v row.Value) interface{} {
	if b, ok := v.Blob(); ok {
		return string(b)
	}
	return v.Driver()
}
