// Package feed implements the append-only change feed: every committed ledger
// event is stored under a monotonically increasing sequence number so that
// observers can reconcile after a disconnect and the engine can be rebuilt by
// replay.
package feed

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"drivechain/core/types"
	"drivechain/storage"
)

var (
	entryPrefix = []byte("feed/e/")
	headKey     = []byte("feed/head")
)

// Entry is a single journal record.
type Entry struct {
	Sequence uint64      `json:"sequence"`
	Time     time.Time   `json:"time"`
	Event    types.Event `json:"event"`
}

// Query selects a window of the journal. Zero bounds mean open-ended; Kinds
// filters by event type when non-empty.
type Query struct {
	Kinds []string
	From  uint64
	To    uint64
	Limit int
}

// Journal persists entries to a storage.Database. It is safe for concurrent use.
type Journal struct {
	mu   sync.RWMutex
	db   storage.Database
	head uint64
}

// Open loads the journal head from db.
func Open(db storage.Database) (*Journal, error) {
	if db == nil {
		return nil, errors.New("feed: database required")
	}
	j := &Journal{db: db}
	raw, err := db.Get(headKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("feed: load head: %w", err)
	default:
		head, err := strconv.ParseUint(string(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("feed: corrupt head %q: %w", raw, err)
		}
		j.head = head
	}
	return j, nil
}

// NewMemory returns a journal backed by an in-memory database.
func NewMemory() *Journal {
	j, _ := Open(storage.NewMemDB())
	return j
}

// Head returns the sequence number of the latest entry, zero when empty.
func (j *Journal) Head() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.head
}

// Append stores evts as consecutive entries stamped with at and returns them.
func (j *Journal) Append(at time.Time, evts ...types.Event) ([]Entry, error) {
	if len(evts) == 0 {
		return nil, nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	at = at.UTC()
	entries := make([]Entry, 0, len(evts))
	seq := j.head
	for _, evt := range evts {
		seq++
		entry := Entry{Sequence: seq, Time: at, Event: *evt.Clone()}
		raw, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("feed: encode entry %d: %w", seq, err)
		}
		if err := j.db.Put(entryKey(seq), raw); err != nil {
			return nil, fmt.Errorf("feed: put entry %d: %w", seq, err)
		}
		entries = append(entries, entry)
	}
	if err := j.db.Put(headKey, []byte(strconv.FormatUint(seq, 10))); err != nil {
		return nil, fmt.Errorf("feed: put head: %w", err)
	}
	j.head = seq
	return entries, nil
}

// Range returns the entries matching q in sequence order.
func (j *Journal) Range(q Query) ([]Entry, error) {
	kinds := make(map[string]struct{}, len(q.Kinds))
	for _, k := range q.Kinds {
		if k != "" {
			kinds[k] = struct{}{}
		}
	}
	var out []Entry
	err := j.Scan(q.From, func(entry Entry) (bool, error) {
		if q.To != 0 && entry.Sequence > q.To {
			return false, nil
		}
		if len(kinds) > 0 {
			if _, ok := kinds[entry.Event.Type]; !ok {
				return true, nil
			}
		}
		out = append(out, entry)
		return q.Limit <= 0 || len(out) < q.Limit, nil
	})
	return out, err
}

// Scan walks entries with sequence >= from in order until fn returns false or
// an error. Entries past the head, left by a failed append, are skipped.
func (j *Journal) Scan(from uint64, fn func(Entry) (bool, error)) error {
	head := j.Head()
	var scanErr error
	err := j.db.Iterate(entryPrefix, func(key, value []byte) bool {
		seq := binary.BigEndian.Uint64(key[len(entryPrefix):])
		if seq < from {
			return true
		}
		if seq > head {
			return false
		}
		var entry Entry
		if err := json.Unmarshal(value, &entry); err != nil {
			scanErr = fmt.Errorf("feed: decode entry %d: %w", seq, err)
			return false
		}
		cont, err := fn(entry)
		if err != nil {
			scanErr = err
			return false
		}
		return cont
	})
	if scanErr != nil {
		return scanErr
	}
	return err
}

func entryKey(seq uint64) []byte {
	key := make([]byte, len(entryPrefix)+8)
	copy(key, entryPrefix)
	binary.BigEndian.PutUint64(key[len(entryPrefix):], seq)
	return key
}
