package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxcall/voxcall/internal/banner"
	"github.com/voxcall/voxcall/internal/call"
	"github.com/voxcall/voxcall/internal/config"
	"github.com/voxcall/voxcall/internal/events"
	"github.com/voxcall/voxcall/internal/history"
	"github.com/voxcall/voxcall/internal/logger"
	"github.com/voxcall/voxcall/internal/media"
	"github.com/voxcall/voxcall/internal/telephony"
)

func main() {
	cfg := config.Load()

	logger.InitLogger(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	bridgeKind := "loopback"
	if cfg.EnableSIP {
		bridgeKind = fmt.Sprintf("sip (%s:%d)", cfg.SIPBindAddr, cfg.SIPPort)
	}
	banner.Print("VoxCall Daemon", []banner.ConfigLine{
		{Label: "User", Value: cfg.LocalParty},
		{Label: "Bridge", Value: bridgeKind},
		{Label: "Ring timeout", Value: cfg.RingTimeout.String()},
		{Label: "STUN", Value: cfg.STUNServer},
		{Label: "Log level", Value: cfg.LogLevel},
	})

	if err := run(cfg); err != nil {
		slog.Error("voxcalld failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	store := history.NewStore()
	seedHistory(store, cfg.LocalParty)

	publisher := events.NewChannelPublisher(64)
	defer publisher.Close()
	go consumeEvents(publisher.Events())

	registry := prometheus.NewRegistry()
	metrics := call.NewMetrics(registry)
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, registry)
	}

	mediaFactory := media.NewWebRTCFactory(media.WebRTCFactoryConfig{
		STUNURL: cfg.STUNServer,
		Logger:  slog.Default(),
	})

	var bridge telephony.Bridge
	var loopback *telephony.LoopbackBridge
	var sipBridge *telephony.SIPBridge
	if cfg.EnableSIP {
		var err error
		sipBridge, err = telephony.NewSIPBridge(telephony.SIPBridgeConfig{
			LocalUser:     cfg.LocalParty,
			BindAddr:      cfg.SIPBindAddr,
			Port:          cfg.SIPPort,
			AdvertiseAddr: cfg.AdvertiseAddr,
			Logger:        slog.Default(),
		})
		if err != nil {
			return fmt.Errorf("sip bridge: %w", err)
		}
		bridge = sipBridge
	} else {
		loopback = telephony.NewLoopbackBridge(slog.Default())
		bridge = loopback
	}
	defer bridge.Close()

	controller, err := call.NewController(call.ControllerConfig{
		LocalParty:  cfg.LocalParty,
		Bridge:      bridge,
		Media:       mediaFactory,
		Store:       store,
		Events:      publisher,
		RingTimeout: cfg.RingTimeout,
		Metrics:     metrics,
		OnLocalDescription: func(sessionID string, desc media.SessionDescription) {
			summary, err := media.Inspect(desc.SDP)
			if err != nil {
				slog.Warn("local description rejected", "session_id", sessionID, "error", err)
				return
			}
			slog.Info("local description ready",
				"session_id", sessionID,
				"type", desc.Type,
				"audio", summary.HasAudio,
				"video", summary.HasVideo,
			)
		},
	})
	if err != nil {
		return fmt.Errorf("controller: %w", err)
	}
	defer controller.Close()

	if sipBridge != nil {
		sipBridge.SetOnInbound(func(remoteAddr string, offer []byte) {
			admitInbound(controller, remoteAddr, offer)
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if loopback != nil {
		go runDemo(ctx, controller, loopback)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("Received signal, shutting down", "signal", sig)
	cancel()

	printHistory(store)
	time.Sleep(200 * time.Millisecond)
	return nil
}

// runDemo scripts a short call flow against the loopback platform: one
// outgoing call that the far end answers, then an incoming call that is
// declined locally.
func runDemo(ctx context.Context, controller *call.Controller, loopback *telephony.LoopbackBridge) {
	sleep := func(d time.Duration) bool {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(d):
			return true
		}
	}

	if !sleep(500 * time.Millisecond) {
		return
	}

	id, err := controller.Start(ctx, "alice", call.MediaVoice)
	if err != nil {
		slog.Error("demo: start failed", "error", err)
		return
	}
	if !sleep(300 * time.Millisecond) {
		return
	}
	if conn := loopback.FindByRemote("alice"); conn != nil {
		_ = loopback.RemoteRinging(conn)
		if !sleep(500 * time.Millisecond) {
			return
		}
		_ = loopback.RemoteAnswer(conn)
	}
	if !sleep(3 * time.Second) {
		return
	}
	if err := controller.End(id); err != nil {
		slog.Warn("demo: end failed", "session_id", id, "error", err)
	}

	if !sleep(1 * time.Second) {
		return
	}

	inID, err := controller.Incoming(ctx, "bob", call.MediaVideo)
	if err != nil {
		slog.Error("demo: incoming failed", "error", err)
		return
	}
	if !sleep(2 * time.Second) {
		return
	}
	if err := controller.Decline(inID); err != nil {
		slog.Warn("demo: decline failed", "session_id", inID, "error", err)
	}
}

// admitInbound registers a network INVITE with the controller. The
// received offer rides along so a local answer can negotiate against it;
// video calls are recognized from the offer's media sections.
func admitInbound(controller *call.Controller, remoteAddr string, offer []byte) {
	kind := call.MediaVoice
	var opts []call.CallOption
	if len(offer) > 0 {
		if summary, err := media.Inspect(string(offer)); err == nil && summary.HasVideo {
			kind = call.MediaVideo
		}
		opts = append(opts, call.WithRemoteOffer(media.SessionDescription{
			Type: "offer",
			SDP:  string(offer),
		}))
	}
	if _, err := controller.Incoming(context.Background(), remoteAddr, kind, opts...); err != nil {
		slog.Warn("inbound call not admitted", "remote", remoteAddr, "error", err)
	}
}

// consumeEvents logs controller events the way a UI layer would render
// them.
func consumeEvents(ch <-chan events.Event) {
	for ev := range ch {
		switch e := ev.(type) {
		case *events.StateChangedEvent:
			slog.Info("call state", "session_id", e.SessionID(), "from", e.From, "to", e.To)
		case *events.ErrorEvent:
			slog.Warn("call error", "session_id", e.SessionID(), "kind", e.Kind, "message", e.Message)
		}
	}
}

func serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	slog.Info("metrics endpoint", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("metrics server stopped", "error", err)
	}
}

// seedHistory preloads a few past calls so the history surface has
// content before the first live call.
func seedHistory(store *history.Store, local string) {
	now := time.Now()
	seed := []history.Record{
		{
			ID: uuid.New().String(), Direction: "outgoing", Kind: "voice",
			LocalParty: local, RemoteParty: "alice",
			Status: history.StatusCompleted, State: "Ended",
			StartedAt: now.Add(-26 * time.Hour), ConnectedAt: now.Add(-26 * time.Hour).Add(4 * time.Second),
			EndedAt: now.Add(-26 * time.Hour).Add(2*time.Minute + 4*time.Second), Duration: 2 * time.Minute,
		},
		{
			ID: uuid.New().String(), Direction: "incoming", Kind: "voice",
			LocalParty: local, RemoteParty: "bob",
			Status: history.StatusMissed, State: "Missed",
			StartedAt: now.Add(-20 * time.Hour), EndedAt: now.Add(-20 * time.Hour).Add(30 * time.Second),
		},
		{
			ID: uuid.New().String(), Direction: "incoming", Kind: "video",
			LocalParty: local, RemoteParty: "carol",
			Status: history.StatusDeclined, State: "Declined",
			StartedAt: now.Add(-8 * time.Hour), EndedAt: now.Add(-8 * time.Hour).Add(6 * time.Second),
		},
		{
			ID: uuid.New().String(), Direction: "outgoing", Kind: "video",
			LocalParty: local, RemoteParty: "dave",
			Status: history.StatusFailed, State: "Failed",
			StartedAt: now.Add(-3 * time.Hour), EndedAt: now.Add(-3 * time.Hour).Add(2 * time.Second),
		},
		{
			ID: uuid.New().String(), Direction: "incoming", Kind: "video",
			LocalParty: local, RemoteParty: "team-standup",
			Status: history.StatusCompleted, State: "Ended",
			StartedAt: now.Add(-1 * time.Hour), ConnectedAt: now.Add(-1 * time.Hour).Add(2 * time.Second),
			EndedAt: now.Add(-1 * time.Hour).Add(25 * time.Minute), Duration: 25 * time.Minute,
			Group: true, Participants: []string{"alice", "bob", "carol"},
		},
	}
	for _, rec := range seed {
		if err := store.Append(rec); err != nil {
			slog.Warn("seed record skipped", "id", rec.ID, "error", err)
		}
	}
}

// printHistory dumps the call history on shutdown.
func printHistory(store *history.Store) {
	slog.Info("call history", "records", store.Len())
	for rec := range store.List(history.Filter{}) {
		slog.Info("history entry",
			"remote", rec.RemoteParty,
			"direction", rec.Direction,
			"kind", rec.Kind,
			"status", rec.Status.String(),
			"duration", rec.Duration,
		)
	}
}
