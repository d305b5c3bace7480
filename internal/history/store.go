// Package history provides the in-memory call-history ledger.
//
// The store holds the authoritative record of every call attempt. The
// session controller submits create/update requests keyed by session id;
// nothing else mutates records. Storage is purely in-memory, no I/O.
package history

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrDuplicateID indicates an append with an id that is already stored.
	ErrDuplicateID = errors.New("record id already exists")

	// ErrNotFound indicates no record matches the given id.
	ErrNotFound = errors.New("record not found")
)

// Status is the user-visible disposition of a call record.
// Failed, Missed and Declined are distinct and never collapsed.
type Status int

const (
	// StatusOngoing - the call attempt is still live.
	StatusOngoing Status = iota
	// StatusCompleted - the call connected and ended normally.
	StatusCompleted
	// StatusMissed - the ring timer expired with no local answer/decline.
	StatusMissed
	// StatusDeclined - the local party declined the call.
	StatusDeclined
	// StatusFailed - the attempt failed (platform or negotiation error).
	StatusFailed
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusOngoing:
		return "ongoing"
	case StatusCompleted:
		return "completed"
	case StatusMissed:
		return "missed"
	case StatusDeclined:
		return "declined"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Record is one call-history entry, a snapshot of a session's fields.
type Record struct {
	ID           string        `json:"id"`
	Direction    string        `json:"direction"` // "incoming" or "outgoing"
	Kind         string        `json:"kind"`      // "voice" or "video"
	LocalParty   string        `json:"local_party"`
	RemoteParty  string        `json:"remote_party"`
	Status       Status        `json:"status"`
	State        string        `json:"state"`
	StartedAt    time.Time     `json:"started_at"`
	ConnectedAt  time.Time     `json:"connected_at,omitzero"`
	EndedAt      time.Time     `json:"ended_at,omitzero"`
	Duration     time.Duration `json:"duration"`
	Muted        bool          `json:"muted,omitempty"`
	Group        bool          `json:"group,omitempty"`
	Participants []string      `json:"participants,omitempty"`
}

// Counterparty returns the remote party for the record's direction.
func (r Record) Counterparty() string {
	return r.RemoteParty
}

// Filter selects records in List. Zero values match everything.
type Filter struct {
	// Direction filters by "incoming" or "outgoing" when non-empty.
	Direction string
	// Status filters by disposition when non-nil.
	Status *Status
	// Counterparty filters by remote party id when non-empty.
	Counterparty string
	// Limit caps the number of records yielded when positive.
	Limit int
}

// matches reports whether r passes the filter.
func (f Filter) matches(r Record) bool {
	if f.Direction != "" && r.Direction != f.Direction {
		return false
	}
	if f.Status != nil && r.Status != *f.Status {
		return false
	}
	if f.Counterparty != "" && r.RemoteParty != f.Counterparty {
		return false
	}
	return true
}

// Store is the in-memory call-record ledger. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string // ids, newest first
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]*Record),
	}
}

// Append stores a new record keyed by its session id.
// Returns ErrDuplicateID if the id is already present.
func (s *Store) Append(rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("append: empty record id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("append %s: %w", rec.ID, ErrDuplicateID)
	}
	r := rec
	s.records[rec.ID] = &r
	s.order = append([]string{rec.ID}, s.order...)
	return nil
}

// Update applies a pure field mutation to the record matching id.
// Returns ErrNotFound if absent. A no-op mutation is allowed.
func (s *Store) Update(id string, mutate func(r *Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return fmt.Errorf("update %s: %w", id, ErrNotFound)
	}
	mutate(r)
	return nil
}

// Get returns a copy of the record matching id.
func (s *Store) Get(id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return Record{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return *r, nil
}

// List returns a lazy, restartable sequence of records ordered newest
// first. The sequence snapshots the store at call time; concurrent
// mutations do not affect an iteration already produced.
func (s *Store) List(filter Filter) iter.Seq[Record] {
	s.mu.RLock()
	snapshot := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		if r, ok := s.records[id]; ok {
			snapshot = append(snapshot, *r)
		}
	}
	s.mu.RUnlock()

	return func(yield func(Record) bool) {
		n := 0
		for _, r := range snapshot {
			if !filter.matches(r) {
				continue
			}
			if filter.Limit > 0 && n >= filter.Limit {
				return
			}
			if !yield(r) {
				return
			}
			n++
		}
	}
}

// Remove deletes one record by id. Returns ErrNotFound if absent.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("remove %s: %w", id, ErrNotFound)
	}
	delete(s.records, id)
	s.order = slices.DeleteFunc(s.order, func(v string) bool { return v == id })
	return nil
}

// Clear deletes all records.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*Record)
	s.order = nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
