package media

import (
	"encoding/binary"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/zaf/g711"
)

// PCMU framing constants: 8 kHz mono, 20 ms packets.
const (
	toneSampleRate  = 8000
	toneFrameMillis = 20
	toneSamples     = toneSampleRate * toneFrameMillis / 1000 // 160
	toneFrequency   = 440.0
)

// toneSource feeds the local audio track with a generated sine tone,
// standing in for microphone capture on hosts without audio I/O.
// Samples are µ-law encoded and packetized as RTP payload type 0.
type toneSource struct {
	track *webrtc.TrackLocalStaticRTP

	stopOnce sync.Once
	stop     chan struct{}

	seq   uint16
	ts    uint32
	ssrc  uint32
	phase float64
}

func newToneSource(track *webrtc.TrackLocalStaticRTP) *toneSource {
	return &toneSource{
		track: track,
		stop:  make(chan struct{}),
		seq:   uint16(rand.Uint32()),
		ts:    rand.Uint32(),
		ssrc:  rand.Uint32(),
	}
}

// Start launches the 20 ms packet loop.
func (t *toneSource) Start() {
	go t.run()
}

// Stop halts the packet loop. Idempotent.
func (t *toneSource) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *toneSource) run() {
	ticker := time.NewTicker(toneFrameMillis * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if err := t.track.WriteRTP(t.nextPacket()); err != nil {
				// Track unbound or peer connection closed; keep trying
				// until stopped, the writer is harmless without readers.
				continue
			}
		}
	}
}

// nextPacket produces one 20 ms PCMU frame.
func (t *toneSource) nextPacket() *rtp.Packet {
	pcm := make([]byte, toneSamples*2)
	step := 2 * math.Pi * toneFrequency / toneSampleRate
	for i := 0; i < toneSamples; i++ {
		sample := int16(math.Sin(t.phase) * 0.25 * math.MaxInt16)
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(sample))
		t.phase += step
	}
	payload := g711.EncodeUlaw(pcm)

	t.seq++
	t.ts += toneSamples
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    0, // PCMU
			SequenceNumber: t.seq,
			Timestamp:      t.ts,
			SSRC:           t.ssrc,
		},
		Payload: payload,
	}
}
