package media

import (
	"fmt"

	"github.com/pion/sdp/v3"
)

// Summary describes the media sections of a session description.
type Summary struct {
	HasAudio     bool
	HasVideo     bool
	AudioFormats []string // RTP payload types offered for audio
}

// Inspect parses an SDP body and verifies it carries at least one audio
// section. Used to sanity-check locally created offers/answers before
// they are handed to the signaling collaborator.
func Inspect(raw string) (Summary, error) {
	var desc sdp.SessionDescription
	if err := desc.UnmarshalString(raw); err != nil {
		return Summary{}, fmt.Errorf("parse sdp: %w", err)
	}

	var sum Summary
	for _, m := range desc.MediaDescriptions {
		switch m.MediaName.Media {
		case "audio":
			sum.HasAudio = true
			sum.AudioFormats = append(sum.AudioFormats, m.MediaName.Formats...)
		case "video":
			sum.HasVideo = true
		}
	}
	if !sum.HasAudio {
		return Summary{}, fmt.Errorf("sdp has no audio section")
	}
	return sum, nil
}
