package main

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.gazette.dev/dbqueue/change"
	mbp "go.gazette.dev/dbqueue/mainboilerplate"
	"go.gazette.dev/dbqueue/queue"
	"gopkg.in/yaml.v2"
)

type cmdWatch struct {
	DB     DatabaseConfig `group:"Database" namespace:"db" env-namespace:"DB"`
	Tables []string       `long:"table" short:"t" description:"Tables to watch. May be repeated. All tables are watched if not set"`
	Kinds  []string       `long:"kind" short:"k" choice:"insert" choice:"update" choice:"delete" description:"Kinds of changes to watch. May be repeated. All kinds are watched if not set"`
	Args   struct {
		Statements []string
	} `positional-args:"yes" positional-arg-name:"SQL"`
}

func init() {
	registry.AddCommand("", "watch", "Apply statements and print the changes they commit", `
Apply SQL statements in autocommit mode, printing a YAML document of the row
changes committed by each transaction which match --table and --kind filters.
Statements are given as arguments or, if there are none, read from stdin.
Explicit BEGIN and COMMIT statements group changes into a single document.

Watch deletions of table t:
>    dbqctl watch --db.path my.db --table t --kind delete < script.sql
`, &cmdWatch{})
}

func (cmd *cmdWatch) Execute([]string) error {
	defer startup()()

	var filter, err = cmd.filter()
	mbp.Must(err, "invalid filter")

	var ctx = context.Background()
	var q = cmd.DB.mustOpen(ctx, "dbqctl-watch", false)
	defer q.Close()

	var printer = &yamlPrinter{w: os.Stdout}
	q.AddObserver(change.Strong(printer), filter)

	var script = readScript(cmd.Args.Statements)
	mbp.Must(q.Perform(ctx, func(ctx context.Context, conn *queue.Conn) error {
		var _, err = conn.Exec(ctx, script)
		return err
	}), "failed to apply statements")

	log.WithField("transactions", printer.docs).Info("watch complete")
	return nil
}

func (cmd *cmdWatch) filter() (change.Filter, error) {
	var filters []change.Filter

	if len(cmd.Tables) != 0 {
		filters = append(filters, change.Tables(cmd.Tables...))
	}
	if len(cmd.Kinds) != 0 {
		var kinds []change.Kind
		for _, k := range cmd.Kinds {
			switch k {
			case "insert":
				kinds = append(kinds, change.Insert)
			case "update":
				kinds = append(kinds, change.Update)
			case "delete":
				kinds = append(kinds, change.Delete)
			default:
				return nil, errors.Errorf("unknown kind %q", k)
			}
		}
		filters = append(filters, change.Kinds(kinds...))
	}
	return change.And(filters...), nil
}

// yamlEvent is the YAML representation of a change.Event.
type yamlEvent struct {
	Kind     string `yaml:"kind"`
	Database string `yaml:"database"`
	Table    string `yaml:"table"`
	RowID    int64  `yaml:"rowid"`
	Depth    int    `yaml:"depth,omitempty"`
}

// yamlPrinter is an Observer which writes a YAML document of the Events of
// each committed transaction having any.
type yamlPrinter struct {
	w       io.Writer
	pending []yamlEvent
	docs    int
}

func (p *yamlPrinter) OnChange(e change.Event) {
	p.pending = append(p.pending, yamlEvent{
		Kind:     e.Kind.String(),
		Database: e.Database,
		Table:    e.Table,
		RowID:    e.RowID,
		Depth:    e.Depth,
	})
}

func (p *yamlPrinter) BeforeCommit() error { return nil }
func (p *yamlPrinter) AfterRollback()      { p.pending = nil }

func (p *yamlPrinter) AfterCommit() {
	if len(p.pending) == 0 {
		return
	}
	var b, err = yaml.Marshal(p.pending)
	mbp.Must(err, "failed to encode events")

	_, _ = io.WriteString(p.w, "---\n")
	_, _ = p.w.Write(b)

	p.pending = nil
	p.docs++
}
