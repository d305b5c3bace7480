package events

import (
	"encoding/json"
	"testing"
)

func TestStateChangedEvent(t *testing.T) {
	ev := NewStateChanged("sess-1", "Dialing", "Ringing")

	if ev.Type() != TypeStateChanged {
		t.Errorf("type = %s, want %s", ev.Type(), TypeStateChanged)
	}
	if ev.SessionID() != "sess-1" {
		t.Errorf("session id = %s, want sess-1", ev.SessionID())
	}
	if got, want := ev.Subject(), "voxcall.calls.sess-1.state"; got != want {
		t.Errorf("subject = %s, want %s", got, want)
	}
	if ev.ID() == "" {
		t.Error("event id should be set")
	}
	if ev.Timestamp().IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestErrorEventSubject(t *testing.T) {
	ev := NewError("sess-2", "platform_rejected", "no account")
	if got, want := ev.Subject(), "voxcall.calls.sess-2.error"; got != want {
		t.Errorf("subject = %s, want %s", got, want)
	}
}

func TestStateChangedJSON(t *testing.T) {
	ev := NewStateChanged("sess-1", "Active", "Ending")

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["from"] != "Active" || decoded["to"] != "Ending" {
		t.Errorf("payload = %v", decoded)
	}
	if decoded["session_id"] != "sess-1" {
		t.Errorf("session_id = %v, want sess-1", decoded["session_id"])
	}
	if decoded["event_type"] != string(TypeStateChanged) {
		t.Errorf("event_type = %v", decoded["event_type"])
	}
}

func TestChannelPublisherDelivers(t *testing.T) {
	p := NewChannelPublisher(4)
	defer p.Close()

	p.Publish(NewStateChanged("sess-1", "Idle", "Dialing"))

	select {
	case ev := <-p.Events():
		if ev.SessionID() != "sess-1" {
			t.Errorf("session id = %s", ev.SessionID())
		}
	default:
		t.Fatal("no event delivered")
	}
}

func TestChannelPublisherDropsWhenFull(t *testing.T) {
	p := NewChannelPublisher(1)
	defer p.Close()

	p.Publish(NewStateChanged("sess-1", "Idle", "Dialing"))
	// Buffer full: this publish must not block.
	p.Publish(NewStateChanged("sess-1", "Dialing", "Ringing"))

	n := 0
	for {
		select {
		case <-p.Events():
			n++
			continue
		default:
		}
		break
	}
	if n != 1 {
		t.Errorf("delivered %d events, want 1", n)
	}
}

func TestChannelPublisherPublishAfterClose(t *testing.T) {
	p := NewChannelPublisher(4)
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Must not panic on a closed channel.
	p.Publish(NewStateChanged("sess-1", "Idle", "Dialing"))
	if err := p.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestNoopAndLoggingPublishers(t *testing.T) {
	noop := NewNoopPublisher()
	noop.Publish(NewError("sess", "kind", "msg"))
	if err := noop.Close(); err != nil {
		t.Errorf("noop close: %v", err)
	}

	logging := NewLoggingPublisher(nil)
	logging.Publish(NewStateChanged("sess", "Idle", "Dialing"))
	if err := logging.Close(); err != nil {
		t.Errorf("logging close: %v", err)
	}
}
