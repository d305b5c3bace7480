package history

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func makeRecord(id, direction, remote string, status Status) Record {
	return Record{
		ID:          id,
		Direction:   direction,
		Kind:        "voice",
		LocalParty:  "me",
		RemoteParty: remote,
		Status:      status,
		StartedAt:   time.Now(),
	}
}

func TestAppendAndGet(t *testing.T) {
	s := NewStore()

	rec := makeRecord("a", "outgoing", "alice", StatusOngoing)
	if err := s.Append(rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.Get("a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RemoteParty != "alice" {
		t.Errorf("remote = %q, want alice", got.RemoteParty)
	}
}

func TestAppendDuplicateID(t *testing.T) {
	s := NewStore()
	rec := makeRecord("a", "outgoing", "alice", StatusOngoing)

	if err := s.Append(rec); err != nil {
		t.Fatalf("first append: %v", err)
	}
	err := s.Append(rec)
	if !errors.Is(err, ErrDuplicateID) {
		t.Errorf("second append error = %v, want ErrDuplicateID", err)
	}
}

func TestAppendEmptyID(t *testing.T) {
	s := NewStore()
	if err := s.Append(Record{}); err == nil {
		t.Error("append with empty id should fail")
	}
}

func TestUpdateNotFound(t *testing.T) {
	s := NewStore()
	err := s.Update("missing", func(r *Record) {})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("update error = %v, want ErrNotFound", err)
	}
}

func TestUpdateMutatesStoredRecord(t *testing.T) {
	s := NewStore()
	if err := s.Append(makeRecord("a", "outgoing", "alice", StatusOngoing)); err != nil {
		t.Fatal(err)
	}

	err := s.Update("a", func(r *Record) {
		r.Status = StatusCompleted
		r.Duration = 90 * time.Second
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := s.Get("a")
	if got.Status != StatusCompleted || got.Duration != 90*time.Second {
		t.Errorf("record not updated: %+v", got)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewStore()
	if err := s.Append(makeRecord("a", "outgoing", "alice", StatusOngoing)); err != nil {
		t.Fatal(err)
	}

	got, _ := s.Get("a")
	got.RemoteParty = "mallory"

	again, _ := s.Get("a")
	if again.RemoteParty != "alice" {
		t.Error("mutating a returned record must not affect the store")
	}
}

func TestListNewestFirst(t *testing.T) {
	s := NewStore()
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("rec-%d", i)
		if err := s.Append(makeRecord(id, "outgoing", "alice", StatusCompleted)); err != nil {
			t.Fatal(err)
		}
	}

	var ids []string
	for rec := range s.List(Filter{}) {
		ids = append(ids, rec.ID)
	}
	want := []string{"rec-4", "rec-3", "rec-2", "rec-1", "rec-0"}
	if len(ids) != len(want) {
		t.Fatalf("got %d records, want %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, ids[i], want[i])
		}
	}
}

func TestListFilters(t *testing.T) {
	s := NewStore()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(s.Append(makeRecord("a", "outgoing", "alice", StatusCompleted)))
	must(s.Append(makeRecord("b", "incoming", "alice", StatusMissed)))
	must(s.Append(makeRecord("c", "incoming", "bob", StatusMissed)))
	must(s.Append(makeRecord("d", "outgoing", "bob", StatusDeclined)))

	count := func(f Filter) int {
		n := 0
		for range s.List(f) {
			n++
		}
		return n
	}

	if got := count(Filter{Direction: "incoming"}); got != 2 {
		t.Errorf("incoming = %d, want 2", got)
	}
	missed := StatusMissed
	if got := count(Filter{Status: &missed}); got != 2 {
		t.Errorf("missed = %d, want 2", got)
	}
	if got := count(Filter{Counterparty: "alice"}); got != 2 {
		t.Errorf("alice = %d, want 2", got)
	}
	if got := count(Filter{Direction: "incoming", Counterparty: "bob"}); got != 1 {
		t.Errorf("incoming+bob = %d, want 1", got)
	}
	if got := count(Filter{Limit: 3}); got != 3 {
		t.Errorf("limit 3 = %d, want 3", got)
	}
}

func TestListIsRestartable(t *testing.T) {
	s := NewStore()
	for i := 0; i < 3; i++ {
		if err := s.Append(makeRecord(fmt.Sprintf("rec-%d", i), "outgoing", "alice", StatusCompleted)); err != nil {
			t.Fatal(err)
		}
	}

	seq := s.List(Filter{})

	first := 0
	for range seq {
		first++
	}
	second := 0
	for range seq {
		second++
	}
	if first != 3 || second != 3 {
		t.Errorf("iterations yielded %d then %d, want 3 and 3", first, second)
	}
}

func TestListEarlyBreak(t *testing.T) {
	s := NewStore()
	for i := 0; i < 10; i++ {
		if err := s.Append(makeRecord(fmt.Sprintf("rec-%d", i), "outgoing", "alice", StatusCompleted)); err != nil {
			t.Fatal(err)
		}
	}

	n := 0
	for range s.List(Filter{}) {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Errorf("consumed %d, want 2", n)
	}
}

func TestListSnapshotsAtCallTime(t *testing.T) {
	s := NewStore()
	if err := s.Append(makeRecord("a", "outgoing", "alice", StatusCompleted)); err != nil {
		t.Fatal(err)
	}

	seq := s.List(Filter{})
	if err := s.Append(makeRecord("b", "outgoing", "bob", StatusCompleted)); err != nil {
		t.Fatal(err)
	}

	n := 0
	for range seq {
		n++
	}
	if n != 1 {
		t.Errorf("snapshot yielded %d records, want 1", n)
	}
}

func TestRemoveAndClear(t *testing.T) {
	s := NewStore()
	if err := s.Append(makeRecord("a", "outgoing", "alice", StatusCompleted)); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(makeRecord("b", "incoming", "bob", StatusMissed)); err != nil {
		t.Fatal(err)
	}

	if err := s.Remove("a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := s.Get("a"); !errors.Is(err, ErrNotFound) {
		t.Error("removed record still retrievable")
	}
	if err := s.Remove("a"); !errors.Is(err, ErrNotFound) {
		t.Error("second remove should report ErrNotFound")
	}
	if s.Len() != 1 {
		t.Errorf("len = %d, want 1", s.Len())
	}

	s.Clear()
	if s.Len() != 0 {
		t.Errorf("len after clear = %d, want 0", s.Len())
	}
	for range s.List(Filter{}) {
		t.Error("list after clear should be empty")
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusOngoing, "ongoing"},
		{StatusCompleted, "completed"},
		{StatusMissed, "missed"},
		{StatusDeclined, "declined"},
		{StatusFailed, "failed"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}
