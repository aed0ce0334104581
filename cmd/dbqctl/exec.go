package main

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"go.gazette.dev/dbqueue/change"
	mbp "go.gazette.dev/dbqueue/mainboilerplate"
	"go.gazette.dev/dbqueue/queue"
)

type cmdExec struct {
	DB   DatabaseConfig `group:"Database" namespace:"db" env-namespace:"DB"`
	Args struct {
		Statements []string
	} `positional-args:"yes" positional-arg-name:"SQL"`
}

func init() {
	registry.AddCommand("", "exec", "Execute statements within a transaction", `
Execute SQL statements within a single transaction, and print the row changes
it commits. Statements are given as arguments or, if there are none, read from
stdin. If any statement fails, the transaction rolls back and nothing is printed.

Create a table and insert into it:
>    dbqctl exec --db.path my.db \
>        "CREATE TABLE IF NOT EXISTS t (id INTEGER PRIMARY KEY, name TEXT)" \
>        "INSERT INTO t (name) VALUES ('arthur'), ('ford')"

Run a script:
>    dbqctl exec --db.path my.db < script.sql
`, &cmdExec{})
}

func (cmd *cmdExec) Execute([]string) error {
	defer startup()()

	var ctx = context.Background()
	var q = cmd.DB.mustOpen(ctx, "dbqctl-exec", false)
	defer q.Close()

	var obs = new(eventCollector)
	q.AddObserver(change.Strong(obs), change.All)

	var script = readScript(cmd.Args.Statements)
	var res queue.Result

	mbp.Must(q.Write(ctx, func(ctx context.Context, conn *queue.Conn) (err error) {
		res, err = conn.Exec(ctx, script)
		return err
	}), "failed to execute statements")

	for _, e := range obs.events {
		fmt.Fprintln(os.Stdout, e.String())
	}
	log.WithFields(log.Fields{
		"events":       len(obs.events),
		"lastInsertID": res.LastInsertID,
	}).Info("committed")

	return nil
}

// eventCollector is an Observer which retains committed Events.
type eventCollector struct {
	pending []change.Event
	events  []change.Event
}

func (c *eventCollector) OnChange(e change.Event) { c.pending = append(c.pending, e) }
func (c *eventCollector) BeforeCommit() error     { return nil }
func (c *eventCollector) AfterRollback()          { c.pending = c.pending[:0] }

func (c *eventCollector) AfterCommit() {
	c.events = append(c.events, c.pending...)
	c.pending = c.pending[:0]
}
