package subtitle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToSRT(t *testing.T) {
	got := ToSRT([]Segment{{Start: 0.0, End: 1.25, Text: "Hola mundo"}})
	assert.Equal(t, "1\n00:00:00,000 --> 00:00:01,250\nHola mundo\n", got)
}

func TestToSRT_MultipleCues(t *testing.T) {
	got := ToSRT([]Segment{
		{Start: 0, End: 1, Text: " one "},
		{Start: 3661.5, End: 3662, Text: "two"},
	})
	assert.Equal(t, "1\n00:00:00,000 --> 00:00:01,000\none\n\n2\n01:01:01,500 --> 01:01:02,000\ntwo\n", got)
}

func TestToVTT(t *testing.T) {
	got := ToVTT([]Segment{{Start: 2.1, End: 3.45, Text: "Testing VTT"}})
	assert.Equal(t, "WEBVTT\n\n00:00:02.100 --> 00:00:03.450\nTesting VTT\n", got)
}

func TestToVTT_Empty(t *testing.T) {
	assert.Equal(t, "WEBVTT\n", ToVTT(nil))
	assert.Equal(t, "\n", ToSRT(nil))
}

func TestFormatTimestamp_RoundsToMillisecond(t *testing.T) {
	assert.Equal(t, "00:00:01,000", FormatTimestamp(0.9996, ","))
	assert.Equal(t, "00:00:59.999", FormatTimestamp(59.9994, "."))
	assert.Equal(t, "00:00:00,000", FormatTimestamp(-1, ","))
}
