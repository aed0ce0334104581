//go:build sqlite_preupdate_hook

package queue

import (
	"github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
	"go.gazette.dev/dbqueue/change"
	"go.gazette.dev/dbqueue/row"
)

// registerPreUpdateHook routes the engine's pre-update callback to the
// Conn's change Buffer.
func registerPreUpdateHook(c *Conn) bool {
	c.raw.RegisterPreUpdateHook(func(d sqlite3.SQLitePreUpdateData) {
		var ev = change.PreUpdateEvent{
			Kind:     kindOf(d.Op),
			Database: d.DatabaseName,
			Table:    d.TableName,
			OldRowID: d.OldRowID,
			NewRowID: d.NewRowID,
		}
		var n = d.Count()

		if ev.Kind != change.Insert {
			ev.Old = preUpdateValues(c, n, d.Old)
		}
		if ev.Kind != change.Delete {
			ev.New = preUpdateValues(c, n, d.New)
		}
		c.buf.RecordPreUpdate(ev)
	})
	return true
}

func preUpdateValues(c *Conn, n int, read func(dest ...interface{}) error) []row.Value {
	// The driver replaces each element of |dest| with its column value.
	var dest = make([]interface{}, n)
	if err := read(dest...); err != nil {
		log.WithFields(log.Fields{"queue": c.name, "err": err}).Warn("failed to read pre-update values")
		return nil
	}
	var out = make([]row.Value, n)
	for i, v := range dest {
		out[i] = row.FromDriver(v).Copy()
	}
	return out
}
