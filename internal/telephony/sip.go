package telephony

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
)

const sipRequestTimeout = 5 * time.Second

// SIPBridgeConfig holds the SIP bridge configuration.
type SIPBridgeConfig struct {
	// LocalUser is the user part of our From/Contact headers.
	LocalUser string

	// BindAddr and Port are the listening endpoint.
	BindAddr string
	Port     int

	// AdvertiseAddr is the address placed in From/Contact headers.
	AdvertiseAddr string

	// SDPSource provides the session description carried in INVITE and
	// 200 OK bodies. A nil source sends offerless INVITEs.
	SDPSource func() []byte

	// OnInbound is invoked for every INVITE received from the network,
	// carrying the caller's SDP offer (nil for offerless INVITEs). The
	// application claims the leg with CreateInbound.
	OnInbound func(remoteAddr string, offer []byte)

	Logger *slog.Logger
}

// SIPBridge implements Bridge on top of a sipgo user agent. Outbound
// legs run an INVITE client transaction; inbound legs are parked when
// the INVITE arrives and claimed by CreateInbound.
type SIPBridge struct {
	cfg    SIPBridgeConfig
	logger *slog.Logger

	ua     *sipgo.UserAgent
	server *sipgo.Server
	client *sipgo.Client

	mu      sync.Mutex
	conns   map[string]*sipConn // by Call-ID
	pending []*sipConn          // inbound legs not yet claimed
	closed  bool

	cancelServe context.CancelFunc
}

// NewSIPBridge creates the bridge and starts listening.
func NewSIPBridge(cfg SIPBridgeConfig) (*SIPBridge, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LocalUser == "" {
		cfg.LocalUser = "voxcall"
	}
	if cfg.Port == 0 {
		cfg.Port = 5060
	}
	if cfg.AdvertiseAddr == "" {
		cfg.AdvertiseAddr = "127.0.0.1"
	}

	ua, err := sipgo.NewUA()
	if err != nil {
		return nil, fmt.Errorf("init UA: %w", err)
	}
	server, err := sipgo.NewServer(ua)
	if err != nil {
		return nil, fmt.Errorf("new server: %w", err)
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		return nil, fmt.Errorf("new client: %w", err)
	}

	b := &SIPBridge{
		cfg:    cfg,
		logger: cfg.Logger,
		ua:     ua,
		server: server,
		client: client,
		conns:  make(map[string]*sipConn),
	}
	b.registerHandlers()

	serveCtx, cancel := context.WithCancel(context.Background())
	b.cancelServe = cancel
	listenAddr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.Port)
	go func() {
		if err := server.ListenAndServe(serveCtx, "udp", listenAddr); err != nil {
			b.logger.Error("sip listener stopped", "addr", listenAddr, "error", err)
		}
	}()

	b.logger.Info("sip bridge listening", "addr", listenAddr, "user", cfg.LocalUser)
	return b, nil
}

// sipConn is one SIP call leg. Notifications reuse the per-leg
// dispatcher pattern so delivery order matches the loopback bridge.
type sipConn struct {
	id         string // SIP Call-ID
	remoteAddr string
	inbound    bool

	mu    sync.Mutex
	state ConnectionState
	cause DisconnectCause

	// Dialog state for in-dialog requests (BYE, re-INVITE, INFO).
	localTag     string
	remoteTag    string
	remoteTarget sip.Uri
	inviteReq    *sip.Request
	serverTx     sip.ServerTransaction // inbound only
	cseq         uint32
	cancelDial   context.CancelFunc // outbound only

	events chan StateChange
	done   chan struct{}

	cbMu      sync.Mutex
	callbacks map[int]func(StateChange)
	nextCB    int
}

func (c *sipConn) ID() string         { return c.id }
func (c *sipConn) RemoteAddr() string { return c.remoteAddr }

func (c *sipConn) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *sipConn) Cause() DisconnectCause {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

func (c *sipConn) OnStateChange(fn func(StateChange)) func() {
	c.cbMu.Lock()
	id := c.nextCB
	c.nextCB++
	c.callbacks[id] = fn
	c.cbMu.Unlock()
	return func() {
		c.cbMu.Lock()
		delete(c.callbacks, id)
		c.cbMu.Unlock()
	}
}

func (c *sipConn) dispatch() {
	for {
		select {
		case ev := <-c.events:
			c.cbMu.Lock()
			fns := make([]func(StateChange), 0, len(c.callbacks))
			for _, fn := range c.callbacks {
				fns = append(fns, fn)
			}
			c.cbMu.Unlock()
			for _, fn := range fns {
				fn(ev)
			}
			if ev.State == ConnDisconnected {
				close(c.done)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *sipConn) transition(state ConnectionState, cause DisconnectCause) bool {
	c.mu.Lock()
	if c.state == ConnDisconnected {
		c.mu.Unlock()
		return false
	}
	c.state = state
	c.cause = cause
	c.mu.Unlock()

	c.events <- StateChange{ConnectionID: c.id, State: state, Cause: cause}
	return true
}

// nextCSeq returns the next in-dialog sequence number.
func (c *sipConn) nextCSeq() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cseq++
	return c.cseq
}

func (b *SIPBridge) newConn(callID, remoteAddr string, inbound bool, initial ConnectionState) *sipConn {
	c := &sipConn{
		id:         callID,
		remoteAddr: remoteAddr,
		inbound:    inbound,
		state:      initial,
		localTag:   uuid.New().String()[:8],
		cseq:       1,
		events:     make(chan StateChange, 16),
		done:       make(chan struct{}),
		callbacks:  make(map[int]func(StateChange)),
	}
	go c.dispatch()

	b.mu.Lock()
	b.conns[callID] = c
	b.mu.Unlock()
	return c
}

// registerHandlers wires incoming SIP requests to legs.
func (b *SIPBridge) registerHandlers() {
	b.server.OnInvite(func(req *sip.Request, tx sip.ServerTransaction) {
		b.handleInvite(req, tx)
	})
	b.server.OnAck(func(req *sip.Request, tx sip.ServerTransaction) {
		// 2xx retransmission stops here; dialog already confirmed.
	})
	b.server.OnBye(func(req *sip.Request, tx sip.ServerTransaction) {
		b.handleBye(req, tx)
	})
	b.server.OnCancel(func(req *sip.Request, tx sip.ServerTransaction) {
		b.handleCancel(req, tx)
	})
}

// handleInvite parks the new inbound leg and sends ringback.
func (b *SIPBridge) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := requestCallID(req)
	if callID == "" {
		_ = tx.Respond(sip.NewResponseFromRequest(req, 400, "Bad Request", nil))
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = tx.Respond(sip.NewResponseFromRequest(req, 503, "Service Unavailable", nil))
		return
	}
	if _, dup := b.conns[callID]; dup {
		b.mu.Unlock()
		// INVITE retransmission, the original transaction answers it.
		return
	}
	b.mu.Unlock()

	remoteAddr := ""
	if from := req.From(); from != nil {
		remoteAddr = from.Address.String()
	}

	c := b.newConn(callID, remoteAddr, true, ConnRinging)
	c.inviteReq = req
	c.serverTx = tx
	if from := req.From(); from != nil {
		if tag, ok := from.Params.Get("tag"); ok {
			c.remoteTag = tag
		}
	}
	if contact := req.Contact(); contact != nil {
		c.remoteTarget = contact.Address
	}

	trying := sip.NewResponseFromRequest(req, sip.StatusTrying, "Trying", nil)
	_ = tx.Respond(trying)
	ringing := sip.NewResponseFromRequest(req, sip.StatusRinging, "Ringing", nil)
	ringing.To().Params.Add("tag", c.localTag)
	_ = tx.Respond(ringing)

	b.mu.Lock()
	b.pending = append(b.pending, c)
	b.mu.Unlock()

	b.logger.Info("sip: inbound invite", "call_id", callID, "remote", remoteAddr)
	if fn := b.onInbound(); fn != nil {
		offer := append([]byte(nil), req.Body()...)
		go fn(remoteAddr, offer)
	}
}

// SetOnInbound replaces the inbound-INVITE callback. Allows wiring a
// consumer that is constructed after the bridge.
func (b *SIPBridge) SetOnInbound(fn func(remoteAddr string, offer []byte)) {
	b.mu.Lock()
	b.cfg.OnInbound = fn
	b.mu.Unlock()
}

func (b *SIPBridge) onInbound() func(remoteAddr string, offer []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg.OnInbound
}

// handleBye terminates the matching leg with CauseRemote.
func (b *SIPBridge) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	callID := requestCallID(req)
	c := b.get(callID)
	if c == nil {
		_ = tx.Respond(sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil))
		return
	}
	_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil))
	b.remove(c)
	c.transition(ConnDisconnected, CauseRemote)
	b.logger.Info("sip: bye received", "call_id", callID)
}

// handleCancel terminates an unanswered inbound leg with CauseRemote.
func (b *SIPBridge) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	callID := requestCallID(req)
	c := b.get(callID)
	if c == nil || !c.inbound || c.State() != ConnRinging {
		_ = tx.Respond(sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil))
		return
	}
	_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil))
	if c.serverTx != nil && c.inviteReq != nil {
		terminated := sip.NewResponseFromRequest(c.inviteReq, 487, "Request Terminated", nil)
		_ = c.serverTx.Respond(terminated)
	}
	b.remove(c)
	c.transition(ConnDisconnected, CauseRemote)
	b.logger.Info("sip: cancel received", "call_id", callID)
}

// CreateOutbound sends an INVITE and returns the leg in Dialing state.
// Responses drive the leg asynchronously: 180 to Ringing, 2xx to Active,
// failures to Disconnected.
func (b *SIPBridge) CreateOutbound(ctx context.Context, remoteAddr string) (Connection, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("sip bridge closed: %w", ErrPlatformRejected)
	}

	target, err := parseTarget(remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", remoteAddr, ErrPlatformRejected)
	}

	callID := uuid.New().String()
	c := b.newConn(callID, remoteAddr, false, ConnDialing)
	c.remoteTarget = target

	invite := b.buildInvite(c, target)
	c.inviteReq = invite

	dialCtx, cancel := context.WithCancel(context.Background())
	c.cancelDial = cancel

	tx, err := b.client.TransactionRequest(dialCtx, invite)
	if err != nil {
		cancel()
		b.remove(c)
		c.transition(ConnDisconnected, CauseError)
		return nil, fmt.Errorf("send INVITE: %w", ErrPlatformRejected)
	}

	go b.runInvite(dialCtx, c, invite, tx)
	b.logger.Info("sip: invite sent", "call_id", callID, "target", target.String())
	return c, nil
}

// buildInvite constructs the outbound INVITE request.
func (b *SIPBridge) buildInvite(c *sipConn, target sip.Uri) *sip.Request {
	invite := sip.NewRequest(sip.INVITE, target)

	maxFwd := sip.MaxForwardsHeader(70)
	invite.AppendHeader(&maxFwd)

	fromParams := sip.NewParams()
	fromParams.Add("tag", c.localTag)
	invite.AppendHeader(&sip.FromHeader{
		Address: b.localURI(),
		Params:  fromParams,
	})
	invite.AppendHeader(&sip.ToHeader{
		Address: target,
		Params:  sip.NewParams(),
	})

	callIDHdr := sip.CallIDHeader(c.id)
	invite.AppendHeader(&callIDHdr)
	invite.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})
	invite.AppendHeader(&sip.ContactHeader{Address: b.localURI()})

	if b.cfg.SDPSource != nil {
		if body := b.cfg.SDPSource(); len(body) > 0 {
			contentType := sip.ContentTypeHeader("application/sdp")
			invite.AppendHeader(&contentType)
			invite.SetBody(body)
		}
	}
	return invite
}

// runInvite consumes the INVITE transaction responses.
func (b *SIPBridge) runInvite(ctx context.Context, c *sipConn, invite *sip.Request, tx sip.ClientTransaction) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-tx.Done():
			if c.State() == ConnDialing || c.State() == ConnRinging {
				b.remove(c)
				c.transition(ConnDisconnected, CauseError)
			}
			return
		case resp := <-tx.Responses():
			if resp == nil {
				continue
			}
			statusCode := int(resp.StatusCode)
			switch {
			case statusCode < 180:
				// 100 Trying, keep waiting

			case statusCode < 200:
				// 180/181/183: remote ringback
				if c.State() == ConnDialing {
					c.transition(ConnRinging, CauseNone)
				}

			case statusCode < 300:
				if to := resp.To(); to != nil {
					if tag, ok := to.Params.Get("tag"); ok {
						c.mu.Lock()
						c.remoteTag = tag
						c.mu.Unlock()
					}
				}
				if contact := resp.Contact(); contact != nil {
					c.mu.Lock()
					c.remoteTarget = contact.Address
					c.mu.Unlock()
				}
				if err := b.sendACK(c, invite, resp); err != nil {
					b.logger.Warn("sip: ack failed", "call_id", c.id, "error", err)
				}
				c.transition(ConnActive, CauseNone)
				return

			default:
				cause := CauseRejected
				if statusCode >= 500 {
					cause = CauseError
				}
				b.logger.Info("sip: invite rejected",
					"call_id", c.id, "status", statusCode, "reason", resp.Reason)
				b.remove(c)
				c.transition(ConnDisconnected, cause)
				return
			}
		}
	}
}

// sendACK acknowledges a 2xx. The ACK is a new request sent directly via
// transport, with the Request-URI from the Contact of the 2xx.
func (b *SIPBridge) sendACK(c *sipConn, invite *sip.Request, resp *sip.Response) error {
	requestURI := invite.Recipient
	if contact := resp.Contact(); contact != nil {
		requestURI = contact.Address
	}
	ack := sip.NewRequest(sip.ACK, requestURI)

	sip.CopyHeaders("From", invite, ack)
	sip.CopyHeaders("Call-ID", invite, ack)
	if to := resp.To(); to != nil {
		ack.AppendHeader(&sip.ToHeader{
			DisplayName: to.DisplayName,
			Address:     to.Address,
			Params:      to.Params,
		})
	}
	if cseq := invite.CSeq(); cseq != nil {
		ack.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.ACK})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxFwd)

	if dest := resp.Source(); dest != "" {
		ack.SetDestination(dest)
	}
	return b.client.WriteRequest(ack)
}

// CreateInbound claims a parked inbound leg for the given remote party.
func (b *SIPBridge) CreateInbound(ctx context.Context, remoteAddr string) (Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("sip bridge closed: %w", ErrPlatformRejected)
	}
	for i, c := range b.pending {
		if c.remoteAddr == remoteAddr || remoteAddr == "" {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			return c, nil
		}
	}
	return nil, fmt.Errorf("no inbound leg for %s: %w", remoteAddr, ErrPlatformRejected)
}

// Answer sends 200 OK on the parked INVITE transaction.
func (b *SIPBridge) Answer(conn Connection) error {
	c := b.get(conn.ID())
	if c == nil || c.State() == ConnDisconnected {
		return ErrInvalidHandle
	}
	if !c.inbound || c.State() != ConnRinging {
		return fmt.Errorf("answer from %s: %w", c.State(), ErrInvalidTransition)
	}

	var body []byte
	if b.cfg.SDPSource != nil {
		body = b.cfg.SDPSource()
	}
	ok := sip.NewResponseFromRequest(c.inviteReq, sip.StatusOK, "OK", body)
	ok.To().Params.Add("tag", c.localTag)
	ok.AppendHeader(&sip.ContactHeader{Address: b.localURI()})
	if len(body) > 0 {
		contentType := sip.ContentTypeHeader("application/sdp")
		ok.AppendHeader(&contentType)
	}
	if err := c.serverTx.Respond(ok); err != nil {
		return fmt.Errorf("send 200 OK: %w", err)
	}

	c.transition(ConnActive, CauseNone)
	b.logger.Info("sip: answered", "call_id", c.id)
	return nil
}

// Reject declines a parked inbound leg with 603.
func (b *SIPBridge) Reject(conn Connection) error {
	c := b.get(conn.ID())
	if c == nil {
		return nil
	}
	if c.inbound && c.State() == ConnRinging && c.serverTx != nil {
		decline := sip.NewResponseFromRequest(c.inviteReq, 603, "Decline", nil)
		decline.To().Params.Add("tag", c.localTag)
		_ = c.serverTx.Respond(decline)
	}
	b.remove(c)
	c.transition(ConnDisconnected, CauseRejected)
	return nil
}

// Disconnect sends BYE on an established leg.
func (b *SIPBridge) Disconnect(conn Connection) error {
	c := b.get(conn.ID())
	if c == nil {
		return nil
	}
	if c.State() == ConnActive || c.State() == ConnOnHold {
		if err := b.sendBye(c); err != nil {
			b.logger.Warn("sip: bye failed", "call_id", c.id, "error", err)
		}
	}
	b.remove(c)
	c.transition(ConnDisconnected, CauseLocal)
	return nil
}

// Abort cancels a not-yet-established leg.
func (b *SIPBridge) Abort(conn Connection) error {
	c := b.get(conn.ID())
	if c == nil {
		return nil
	}
	switch {
	case !c.inbound && (c.State() == ConnDialing || c.State() == ConnRinging):
		if err := b.sendCancel(c); err != nil {
			b.logger.Warn("sip: cancel failed", "call_id", c.id, "error", err)
		}
		if c.cancelDial != nil {
			c.cancelDial()
		}
	case c.inbound && c.State() == ConnRinging && c.serverTx != nil:
		// Ring timeout: tell the caller we are not picking up.
		unavailable := sip.NewResponseFromRequest(c.inviteReq, 480, "Temporarily Unavailable", nil)
		unavailable.To().Params.Add("tag", c.localTag)
		_ = c.serverTx.Respond(unavailable)
	case c.State() == ConnActive || c.State() == ConnOnHold:
		if err := b.sendBye(c); err != nil {
			b.logger.Warn("sip: bye failed", "call_id", c.id, "error", err)
		}
	}
	b.remove(c)
	c.transition(ConnDisconnected, CauseCanceled)
	return nil
}

// Hold sends a re-INVITE with a sendonly session and marks the leg held.
func (b *SIPBridge) Hold(conn Connection) error {
	c := b.get(conn.ID())
	if c == nil {
		return ErrInvalidHandle
	}
	if c.State() != ConnActive {
		return fmt.Errorf("hold from %s: %w", c.State(), ErrInvalidTransition)
	}
	if err := b.sendReInvite(c, "sendonly"); err != nil {
		return err
	}
	c.transition(ConnOnHold, CauseNone)
	return nil
}

// Unhold resumes a held leg with a sendrecv re-INVITE.
func (b *SIPBridge) Unhold(conn Connection) error {
	c := b.get(conn.ID())
	if c == nil {
		return ErrInvalidHandle
	}
	if c.State() != ConnOnHold {
		return fmt.Errorf("unhold from %s: %w", c.State(), ErrInvalidTransition)
	}
	if err := b.sendReInvite(c, "sendrecv"); err != nil {
		return err
	}
	c.transition(ConnActive, CauseNone)
	return nil
}

// PlayDTMF sends the digit as an in-dialog INFO (dtmf-relay).
func (b *SIPBridge) PlayDTMF(conn Connection, digit rune) error {
	c := b.get(conn.ID())
	if c == nil {
		return ErrInvalidHandle
	}
	if c.State() != ConnActive && c.State() != ConnOnHold {
		return fmt.Errorf("dtmf from %s: %w", c.State(), ErrInvalidTransition)
	}

	info := b.buildInDialog(c, sip.INFO)
	contentType := sip.ContentTypeHeader("application/dtmf-relay")
	info.AppendHeader(&contentType)
	info.SetBody([]byte(fmt.Sprintf("Signal=%c\r\nDuration=250\r\n", digit)))

	return b.sendAndForget(c, info)
}

// Close stops the listener and destroys remaining legs.
func (b *SIPBridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	conns := make([]*sipConn, 0, len(b.conns))
	for _, c := range b.conns {
		conns = append(conns, c)
	}
	b.conns = make(map[string]*sipConn)
	b.pending = nil
	b.mu.Unlock()

	for _, c := range conns {
		c.transition(ConnDisconnected, CauseError)
	}
	b.cancelServe()
	return b.ua.Close()
}

// --- in-dialog request plumbing ---

// localURI is our identity for From/Contact headers.
func (b *SIPBridge) localURI() sip.Uri {
	return sip.Uri{
		Scheme: "sip",
		User:   b.cfg.LocalUser,
		Host:   b.cfg.AdvertiseAddr,
		Port:   b.cfg.Port,
	}
}

// buildInDialog constructs a request inside an established dialog.
func (b *SIPBridge) buildInDialog(c *sipConn, method sip.RequestMethod) *sip.Request {
	c.mu.Lock()
	target := c.remoteTarget
	localTag := c.localTag
	remoteTag := c.remoteTag
	c.mu.Unlock()

	req := sip.NewRequest(method, target)

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	fromParams := sip.NewParams()
	fromParams.Add("tag", localTag)
	toParams := sip.NewParams()
	if remoteTag != "" {
		toParams.Add("tag", remoteTag)
	}
	if c.inbound {
		// UAS-initiated request: To carries the original caller's URI.
		var remoteURI sip.Uri
		if c.inviteReq != nil && c.inviteReq.From() != nil {
			remoteURI = c.inviteReq.From().Address
		}
		req.AppendHeader(&sip.FromHeader{Address: b.localURI(), Params: fromParams})
		req.AppendHeader(&sip.ToHeader{Address: remoteURI, Params: toParams})
	} else {
		req.AppendHeader(&sip.FromHeader{Address: b.localURI(), Params: fromParams})
		req.AppendHeader(&sip.ToHeader{Address: c.remoteTarget, Params: toParams})
	}

	callIDHdr := sip.CallIDHeader(c.id)
	req.AppendHeader(&callIDHdr)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: c.nextCSeq(), MethodName: method})

	port := target.Port
	if port == 0 {
		port = 5060
	}
	req.SetDestination(fmt.Sprintf("%s:%d", target.Host, port))
	return req
}

// sendBye terminates an established dialog.
func (b *SIPBridge) sendBye(c *sipConn) error {
	bye := b.buildInDialog(c, sip.BYE)
	return b.sendAndForget(c, bye)
}

// sendCancel aborts an in-progress outbound INVITE.
func (b *SIPBridge) sendCancel(c *sipConn) error {
	if c.inviteReq == nil {
		return nil
	}
	cancelReq := sip.NewRequest(sip.CANCEL, c.inviteReq.Recipient)
	sip.CopyHeaders("Via", c.inviteReq, cancelReq)
	sip.CopyHeaders("From", c.inviteReq, cancelReq)
	sip.CopyHeaders("To", c.inviteReq, cancelReq)
	sip.CopyHeaders("Call-ID", c.inviteReq, cancelReq)
	if cseq := c.inviteReq.CSeq(); cseq != nil {
		cancelReq.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.CANCEL})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	cancelReq.AppendHeader(&maxFwd)

	return b.sendAndForget(c, cancelReq)
}

// sendReInvite changes the media direction attribute of the session.
func (b *SIPBridge) sendReInvite(c *sipConn, direction string) error {
	reInvite := b.buildInDialog(c, sip.INVITE)
	var body []byte
	if b.cfg.SDPSource != nil {
		body = b.cfg.SDPSource()
	}
	if len(body) > 0 {
		body = append(body, []byte("a="+direction+"\r\n")...)
		contentType := sip.ContentTypeHeader("application/sdp")
		reInvite.AppendHeader(&contentType)
		reInvite.SetBody(body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), sipRequestTimeout)
	defer cancel()
	tx, err := b.client.TransactionRequest(ctx, reInvite)
	if err != nil {
		return fmt.Errorf("send re-INVITE: %w", err)
	}
	defer tx.Terminate()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("re-INVITE timeout: %w", ctx.Err())
		case resp := <-tx.Responses():
			if resp == nil {
				return fmt.Errorf("re-INVITE transaction terminated")
			}
			if resp.StatusCode < 200 {
				continue
			}
			ack := sip.NewAckRequest(reInvite, resp, nil)
			if err := b.client.WriteRequest(ack); err != nil {
				b.logger.Warn("sip: re-invite ack failed", "call_id", c.id, "error", err)
			}
			if resp.StatusCode >= 300 {
				return fmt.Errorf("re-INVITE rejected: %d %s: %w",
					resp.StatusCode, resp.Reason, ErrInvalidTransition)
			}
			return nil
		}
	}
}

// sendAndForget issues a request and drains the response without
// blocking the caller on failures.
func (b *SIPBridge) sendAndForget(c *sipConn, req *sip.Request) error {
	ctx, cancel := context.WithTimeout(context.Background(), sipRequestTimeout)
	tx, err := b.client.TransactionRequest(ctx, req)
	if err != nil {
		cancel()
		return fmt.Errorf("send %s: %w", req.Method, err)
	}
	go func() {
		defer cancel()
		select {
		case resp := <-tx.Responses():
			if resp != nil {
				b.logger.Debug("sip: response",
					"call_id", c.id, "method", req.Method, "status", resp.StatusCode)
			}
		case <-tx.Done():
		case <-ctx.Done():
		}
	}()
	return nil
}

func (b *SIPBridge) get(callID string) *sipConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conns[callID]
}

func (b *SIPBridge) remove(c *sipConn) {
	b.mu.Lock()
	delete(b.conns, c.id)
	for i, p := range b.pending {
		if p == c {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
}

// requestCallID extracts the Call-ID value from a request.
func requestCallID(req *sip.Request) string {
	if req.CallID() != nil {
		// Cast to string directly - .String() adds "Call-ID: " prefix
		return string(*req.CallID())
	}
	return ""
}

// parseTarget turns a remote address into a SIP URI. Accepts full URIs
// ("sip:alice@host:5060") and shorthand ("alice@host", "alice").
func parseTarget(remoteAddr string) (sip.Uri, error) {
	addr := strings.TrimSpace(remoteAddr)
	if addr == "" {
		return sip.Uri{}, fmt.Errorf("empty target")
	}
	if !strings.HasPrefix(addr, "sip:") && !strings.HasPrefix(addr, "sips:") {
		if !strings.Contains(addr, "@") {
			addr = addr + "@127.0.0.1"
		}
		addr = "sip:" + addr
	}
	var uri sip.Uri
	if err := sip.ParseUri(addr, &uri); err != nil {
		return sip.Uri{}, fmt.Errorf("parse target: %w", err)
	}
	return uri, nil
}
