package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.gazette.dev/dbqueue/async"
	"go.gazette.dev/dbqueue/change"
	mbp "go.gazette.dev/dbqueue/mainboilerplate"
	"go.gazette.dev/dbqueue/queue"
	"go.gazette.dev/dbqueue/task"
)

type cmdLoad struct {
	DB          DatabaseConfig `group:"Database" namespace:"db" env-namespace:"DB"`
	Writers     int            `long:"writers" default:"4" description:"Number of concurrent writers"`
	Rows        int            `long:"rows" default:"10000" description:"Number of rows inserted by each writer"`
	Batch       int            `long:"batch" default:"100" description:"Number of rows inserted by each transaction"`
	PayloadSize int            `long:"payload-size" default:"128" description:"Byte length of each row's random payload"`
	Pipeline    int            `long:"pipeline" default:"4" description:"Number of asynchronous transactions each writer may have in flight"`
	Progress    time.Duration  `long:"progress" default:"1s" description:"Interval at which progress is logged"`
}

func init() {
	registry.AddCommand("", "load", "Generate write load against a database", `
Insert rows into table "dbqctl_load" from concurrent writers, each of which
enqueues transactions asynchronously to the database queue. Row changes are
observed as they commit, and throughput is reported upon completion.

Insert a million rows from eight writers:
>    dbqctl load --db.path my.db --writers 8 --rows 125000
`, &cmdLoad{})
}

const loadSchema = `
CREATE TABLE IF NOT EXISTS dbqctl_load (
	id      TEXT PRIMARY KEY,
	writer  INTEGER NOT NULL,
	payload BLOB
)`

func (cmd *cmdLoad) Execute([]string) error {
	defer startup()()

	if cmd.Writers <= 0 || cmd.Rows <= 0 || cmd.Batch <= 0 || cmd.Pipeline <= 0 {
		return errors.New("--writers, --rows, --batch, and --pipeline must be positive")
	}
	var ctx = context.Background()
	var q = cmd.DB.mustOpen(ctx, "dbqctl-load", false)
	defer q.Close()

	mbp.Must(q.Perform(ctx, func(ctx context.Context, conn *queue.Conn) error {
		var _, err = conn.Exec(ctx, loadSchema)
		return err
	}), "failed to create table")

	var counter = new(insertCounter)
	q.AddObserver(change.Strong(counter), change.And(change.Tables("dbqctl_load"), change.Kinds(change.Insert)))

	var group = task.NewGroup(ctx)
	for w := 0; w != cmd.Writers; w++ {
		group.Queue(fmt.Sprintf("writer %d", w), func() error {
			return cmd.write(group.Context(), q, w)
		})
	}

	var started = time.Now()
	var done = make(async.Promise)
	var err error

	group.GoRun()
	go func() {
		err = group.Wait()
		done.Resolve()
	}()

	done.WaitWithPeriodicTask(cmd.Progress, func() {
		log.WithField("rows", humanize.Comma(counter.committed.Load())).Info("progress")
	})
	mbp.Must(err, "load failed")

	var elapsed = time.Since(started)
	var rows = counter.committed.Load()
	var bytes = uint64(rows) * uint64(cmd.PayloadSize)

	fmt.Printf("inserted %s rows (%s of payload) in %s: %s rows/sec, %s/sec\n",
		humanize.Comma(rows),
		humanize.Bytes(bytes),
		elapsed.Round(time.Millisecond),
		humanize.CommafWithDigits(float64(rows)/elapsed.Seconds(), 1),
		humanize.Bytes(uint64(float64(bytes)/elapsed.Seconds())),
	)
	return nil
}

// write inserts the configured rows of writer |w|, keeping up to
// cmd.Pipeline batches in flight.
func (cmd *cmdLoad) write(ctx context.Context, q *queue.Queue, w int) error {
	var inflight []*async.Operation[int]

	for remaining := cmd.Rows; remaining > 0; remaining -= cmd.Batch {
		var n = min(remaining, cmd.Batch)
		var batch, err = cmd.batch(n)
		if err != nil {
			return err
		}
		inflight = append(inflight, queue.PerformAsync(ctx, q,
			func(ctx context.Context, conn *queue.Conn) (int, error) {
				return len(batch), insertBatch(ctx, conn, w, batch)
			}))

		if len(inflight) == cmd.Pipeline {
			if err = awaitOperation(ctx, inflight[0]); err != nil {
				return err
			}
			inflight = inflight[1:]
		}
	}
	for _, op := range inflight {
		if err := awaitOperation(ctx, op); err != nil {
			return err
		}
	}
	return nil
}

type loadRow struct {
	id      string
	payload []byte
}

func (cmd *cmdLoad) batch(n int) ([]loadRow, error) {
	var out = make([]loadRow, n)
	for i := range out {
		out[i].id = uuid.New().String()
		out[i].payload = make([]byte, cmd.PayloadSize)

		if _, err := rand.Read(out[i].payload); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func insertBatch(ctx context.Context, conn *queue.Conn, writer int, batch []loadRow) error {
	return conn.InTransaction(ctx, queue.Immediate, func(ctx context.Context) error {
		var stmt, err = conn.CachedStatement(ctx,
			"INSERT INTO dbqctl_load (id, writer, payload) VALUES (?, ?, ?)")
		if err != nil {
			return err
		}
		for _, r := range batch {
			if _, err = stmt.Exec(ctx, r.id, writer, r.payload); err != nil {
				return err
			}
		}
		return nil
	})
}

func awaitOperation(ctx context.Context, op async.Future) error {
	select {
	case <-op.Done():
		return op.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// insertCounter is an Observer which counts committed inserts.
type insertCounter struct {
	pending   int64
	committed atomic.Int64
}

func (c *insertCounter) OnChange(change.Event) { c.pending++ }
func (c *insertCounter) BeforeCommit() error   { return nil }
func (c *insertCounter) AfterRollback()        { c.pending = 0 }

func (c *insertCounter) AfterCommit() {
	c.committed.Add(c.pending)
	c.pending = 0
}
