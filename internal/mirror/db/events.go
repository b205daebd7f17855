package db

import (
	"sort"

	"github.com/satchel-learn/satchel/internal/mirror/schema"
)

// Op names the kind of write that produced a ChangeEvent.
type Op string

const (
	// OpPut is emitted after a bulk insert-or-replace.
	OpPut Op = "put"
	// OpClear is emitted after a kind has been wiped.
	OpClear Op = "clear"
	// OpMedia is emitted when a lesson payload is attached or removed.
	OpMedia Op = "media"
)

// ChangeEvent tells subscribers which kind changed after a committed write.
type ChangeEvent struct {
	Kind  schema.Kind `json:"-"`
	Name  string      `json:"kind"`
	Op    Op          `json:"op"`
	Count int         `json:"count"`
}

// Subscribe registers fn to receive a ChangeEvent after every committed write.
// Callbacks run synchronously on the writing goroutine and must not block;
// slow consumers should hand the event off to a channel. The returned func
// removes the subscription.
func (db *DB) Subscribe(fn func(ChangeEvent)) (cancel func()) {
	db.mu.Lock()
	id := db.nextSubID
	db.nextSubID++
	db.subscribers[id] = fn
	db.mu.Unlock()

	return func() {
		db.mu.Lock()
		delete(db.subscribers, id)
		db.mu.Unlock()
	}
}

func (db *DB) emit(kind schema.Kind, op Op, count int) {
	db.mu.RLock()
	ids := make([]int, 0, len(db.subscribers))
	for id := range db.subscribers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(ChangeEvent), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, db.subscribers[id])
	}
	db.mu.RUnlock()

	ev := ChangeEvent{Kind: kind, Name: kind.String(), Op: op, Count: count}
	for _, fn := range fns {
		fn(ev)
	}
}
