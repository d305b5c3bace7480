package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSDP = "v=0\r\n" +
	"o=- 123456 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 49170 RTP/AVP 0 8\r\n" +
	"c=IN IP4 127.0.0.1\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n" +
	"m=video 51372 RTP/AVP 96\r\n" +
	"c=IN IP4 127.0.0.1\r\n" +
	"a=rtpmap:96 VP8/90000\r\n"

func TestInspect(t *testing.T) {
	sum, err := Inspect(sampleSDP)
	require.NoError(t, err)
	assert.True(t, sum.HasAudio)
	assert.True(t, sum.HasVideo)
	assert.Equal(t, []string{"0", "8"}, sum.AudioFormats)
}

func TestInspectRejectsGarbage(t *testing.T) {
	_, err := Inspect("not an sdp")
	require.Error(t, err)
}

func TestInspectRequiresAudio(t *testing.T) {
	videoOnly := "v=0\r\n" +
		"o=- 123456 2 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"m=video 51372 RTP/AVP 96\r\n" +
		"c=IN IP4 127.0.0.1\r\n"
	_, err := Inspect(videoOnly)
	require.Error(t, err)
}
