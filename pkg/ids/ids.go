// Package ids generates time-sortable unique identifiers for every entity
// kind the engine tracks (session, message, summary, worker, task, alarm,
// report). An id is opaque text of the form "<kind>_<monotonic-part>" whose
// monotonic part sorts lexicographically in creation order within a store.
package ids

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the entity family an id belongs to.
type Kind string

// Kinds the engine mints ids for.
const (
	KindSession Kind = "session"
	KindMessage Kind = "message"
	KindSummary Kind = "summary"
	KindWorker  Kind = "worker"
	KindTask    Kind = "task"
	KindAlarm   Kind = "alarm"
	KindReport  Kind = "report"
)

// Generator mints ids that sort in creation order across process restarts.
// The monotonic part is a nanosecond timestamp (hex, zero-padded) followed
// by a per-process counter, so two ids minted within the same nanosecond
// still order correctly and ids never collide across restarts.
type Generator struct {
	mu      sync.Mutex
	last    int64
	counter uint32
}

// New returns a Generator ready for use.
func New() *Generator {
	return &Generator{}
}

// Next returns an id whose monotonic part is strictly greater than that
// of every previous id this Generator has returned, for any kind, so ids
// of one kind sort in creation order under lexicographic byte order.
// Whole ids of different kinds compare by their kind prefix first.
func (g *Generator) Next(kind Kind) string {
	g.mu.Lock()
	now := time.Now().UTC().UnixNano()
	if now <= g.last {
		now = g.last + 1
	}
	g.last = now
	g.counter++
	counter := g.counter
	g.mu.Unlock()

	return fmt.Sprintf("%s_%016x%04x", kind, now, counter&0xffff)
}

// NextRandomSuffix appends a random UUID segment to Next's output. It is
// used where multiple processes might mint ids against the same store
// concurrently (the spec permits either a persisted counter or
// time+random scheme).
func (g *Generator) NextRandomSuffix(kind Kind) string {
	return g.Next(kind) + "_" + uuid.NewString()
}
