package telephony

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
)

const testOfferSDP = "v=0\r\n" +
	"o=- 1 1 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 4000 RTP/AVP 0\r\n" +
	"c=IN IP4 127.0.0.1\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n"

const testAnswerSDP = "v=0\r\n" +
	"o=- 2 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 4002 RTP/AVP 0\r\n" +
	"c=IN IP4 127.0.0.1\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n"

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in       string
		wantUser string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"sip:alice@10.0.0.1:5070", "alice", "10.0.0.1", 5070, false},
		{"sip:alice@example.com", "alice", "example.com", 0, false},
		{"alice@example.com", "alice", "example.com", 0, false},
		{"alice", "alice", "127.0.0.1", 0, false},
		{"  bob@host  ", "bob", "host", 0, false},
		{"", "", "", 0, true},
		{"   ", "", "", 0, true},
	}
	for _, tt := range tests {
		uri, err := parseTarget(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseTarget(%q) expected error, got %v", tt.in, uri)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseTarget(%q): %v", tt.in, err)
			continue
		}
		if uri.User != tt.wantUser || uri.Host != tt.wantHost || uri.Port != tt.wantPort {
			t.Errorf("parseTarget(%q) = %s@%s:%d, want %s@%s:%d",
				tt.in, uri.User, uri.Host, uri.Port, tt.wantUser, tt.wantHost, tt.wantPort)
		}
	}
}

func TestRequestCallID(t *testing.T) {
	req := sip.NewRequest(sip.INVITE, sip.Uri{Scheme: "sip", User: "bob", Host: "127.0.0.1"})
	if got := requestCallID(req); got != "" {
		t.Errorf("call id without header = %q, want empty", got)
	}

	callID := sip.CallIDHeader("abc-123")
	req.AppendHeader(&callID)
	if got := requestCallID(req); got != "abc-123" {
		t.Errorf("call id = %q, want abc-123", got)
	}
}

// inboundNotice captures one OnInbound invocation.
type inboundNotice struct {
	remoteAddr string
	offer      []byte
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := pc.LocalAddr().(*net.UDPAddr).Port
	pc.Close()
	return port
}

func newTestBridge(t *testing.T, user, sdp string, inbound chan inboundNotice) (*SIPBridge, int) {
	t.Helper()
	port := freeUDPPort(t)
	cfg := SIPBridgeConfig{
		LocalUser:     user,
		BindAddr:      "127.0.0.1",
		Port:          port,
		AdvertiseAddr: "127.0.0.1",
	}
	if sdp != "" {
		cfg.SDPSource = func() []byte { return []byte(sdp) }
	}
	if inbound != nil {
		cfg.OnInbound = func(remoteAddr string, offer []byte) {
			select {
			case inbound <- inboundNotice{remoteAddr: remoteAddr, offer: offer}:
			default:
			}
		}
	}
	b, err := NewSIPBridge(cfg)
	if err != nil {
		t.Fatalf("new sip bridge: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	// Give the UDP listener a moment to bind.
	time.Sleep(100 * time.Millisecond)
	return b, port
}

func waitConnState(t *testing.T, conn Connection, want ConnectionState) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if conn.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("connection stuck in %s, want %s", conn.State(), want)
}

func awaitInbound(t *testing.T, ch chan inboundNotice) inboundNotice {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(3 * time.Second):
		t.Fatal("no inbound invite arrived")
		return inboundNotice{}
	}
}

func TestSIPCallFlowAnswerAndRemoteHangup(t *testing.T) {
	inbound := make(chan inboundNotice, 1)
	caller, _ := newTestBridge(t, "alice", testOfferSDP, nil)
	callee, calleePort := newTestBridge(t, "bob", testAnswerSDP, inbound)

	conn, err := caller.CreateOutbound(context.Background(),
		fmt.Sprintf("sip:bob@127.0.0.1:%d", calleePort))
	if err != nil {
		t.Fatalf("create outbound: %v", err)
	}

	notice := awaitInbound(t, inbound)
	// The caller's offer must ride along with the inbound notification so
	// the application can negotiate against it before answering.
	if string(notice.offer) != testOfferSDP {
		t.Fatalf("inbound offer = %q, want the caller's SDP", notice.offer)
	}
	if notice.remoteAddr == "" {
		t.Fatal("inbound notification missing remote address")
	}

	waitConnState(t, conn, ConnRinging)

	leg, err := callee.CreateInbound(context.Background(), notice.remoteAddr)
	if err != nil {
		t.Fatalf("claim inbound leg: %v", err)
	}
	if leg.State() != ConnRinging {
		t.Fatalf("claimed leg state = %s, want Ringing", leg.State())
	}
	// The leg is claimed exactly once.
	if _, err := callee.CreateInbound(context.Background(), notice.remoteAddr); !errors.Is(err, ErrPlatformRejected) {
		t.Errorf("second claim error = %v, want ErrPlatformRejected", err)
	}

	if err := callee.Answer(leg); err != nil {
		t.Fatalf("answer: %v", err)
	}
	waitConnState(t, conn, ConnActive)

	if err := callee.Disconnect(leg); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	waitConnState(t, conn, ConnDisconnected)
	if conn.Cause() != CauseRemote {
		t.Errorf("caller cause = %s, want Remote", conn.Cause())
	}
}

func TestSIPRejectReachesCaller(t *testing.T) {
	inbound := make(chan inboundNotice, 1)
	caller, _ := newTestBridge(t, "alice", testOfferSDP, nil)
	callee, calleePort := newTestBridge(t, "bob", "", inbound)

	conn, err := caller.CreateOutbound(context.Background(),
		fmt.Sprintf("sip:bob@127.0.0.1:%d", calleePort))
	if err != nil {
		t.Fatalf("create outbound: %v", err)
	}

	notice := awaitInbound(t, inbound)
	leg, err := callee.CreateInbound(context.Background(), notice.remoteAddr)
	if err != nil {
		t.Fatalf("claim inbound leg: %v", err)
	}
	if err := callee.Reject(leg); err != nil {
		t.Fatalf("reject: %v", err)
	}

	waitConnState(t, conn, ConnDisconnected)
	if conn.Cause() != CauseRejected {
		t.Errorf("caller cause = %s, want Rejected", conn.Cause())
	}
}

func TestSIPAbortCancelsCalleeLeg(t *testing.T) {
	inbound := make(chan inboundNotice, 1)
	caller, _ := newTestBridge(t, "alice", testOfferSDP, nil)
	callee, calleePort := newTestBridge(t, "bob", "", inbound)

	conn, err := caller.CreateOutbound(context.Background(),
		fmt.Sprintf("sip:bob@127.0.0.1:%d", calleePort))
	if err != nil {
		t.Fatalf("create outbound: %v", err)
	}

	notice := awaitInbound(t, inbound)
	leg, err := callee.CreateInbound(context.Background(), notice.remoteAddr)
	if err != nil {
		t.Fatalf("claim inbound leg: %v", err)
	}
	waitConnState(t, conn, ConnRinging)

	if err := caller.Abort(conn); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if conn.Cause() != CauseCanceled {
		t.Errorf("caller cause = %s, want Canceled", conn.Cause())
	}

	// The CANCEL terminates the callee's unanswered leg.
	waitConnState(t, leg, ConnDisconnected)
	if leg.Cause() != CauseRemote {
		t.Errorf("callee cause = %s, want Remote", leg.Cause())
	}
}

func TestSIPCreateInboundWithoutLeg(t *testing.T) {
	callee, _ := newTestBridge(t, "bob", "", nil)
	if _, err := callee.CreateInbound(context.Background(), "sip:nobody@127.0.0.1"); !errors.Is(err, ErrPlatformRejected) {
		t.Errorf("claim without invite error = %v, want ErrPlatformRejected", err)
	}
}

func TestSIPClosedBridgeRejectsDial(t *testing.T) {
	b, _ := newTestBridge(t, "alice", "", nil)
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := b.CreateOutbound(context.Background(), "bob"); !errors.Is(err, ErrPlatformRejected) {
		t.Errorf("dial after close error = %v, want ErrPlatformRejected", err)
	}
}
