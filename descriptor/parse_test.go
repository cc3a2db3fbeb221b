// File: descriptor/parse_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package descriptor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/gccg-transport/api"
)

const txDoc = `{
	"protocol": "udp",
	"destinations": ["239.1.1.1:5000"],
	"media": [
		{"type": "video", "video": {"width": 1920, "height": 1080, "rate_num": 50}},
		{"type": "audio", "audio": {"channels": 8}},
		{"type": "anc", "anc": {"did": 97, "sdid": 2}}
	]
}`

func TestParseConnectionNegotiatesDefaults(t *testing.T) {
	c, err := ParseConnection([]byte(txDoc), true)
	require.NoError(t, err)
	require.Len(t, c.Media, 3)
	assert.Equal(t, uint32(DefaultLatencyBoundUs), c.Timing.LatencyBoundUs)
	assert.Equal(t, DefaultColorimetry, c.Media[0].Video.Colorimetry)
	assert.Equal(t, uint32(DefaultRateDen), c.Media[0].Video.RateDen)
	assert.Equal(t, uint32(DefaultSampleRateHz), c.Media[1].Audio.SampleRateHz)
}

func TestParseConnectionRoleValidation(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		tx   bool
	}{
		{"tx without destinations", `{"media":[{"type":"anc","anc":{}}]}`, true},
		{"tx with source", `{"source":"a","destinations":["b"],"media":[{"type":"anc","anc":{}}]}`, true},
		{"rx without source", `{"media":[{"type":"anc","anc":{}}]}`, false},
		{"rx with destinations", `{"source":"a","destinations":["b"],"media":[{"type":"anc","anc":{}}]}`, false},
		{"no media", `{"destinations":["b"],"media":[]}`, true},
		{"unknown media type", `{"destinations":["b"],"media":[{"type":"subtitle"}]}`, true},
		{"incomplete video", `{"destinations":["b"],"media":[{"type":"video","video":{"width":1920}}]}`, true},
		{"incomplete audio", `{"destinations":["b"],"media":[{"type":"audio","audio":{}}]}`, true},
		{"empty document", ``, true},
		{"broken json", `{"destinations":`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseConnection([]byte(tc.doc), tc.tx)
			require.Error(t, err)
			assert.Equal(t, api.StatusInvalidParameter, api.StatusOf(err))
		})
	}
}

func TestEncodeToBoundedBuffer(t *testing.T) {
	c, err := ParseConnection([]byte(txDoc), true)
	require.NoError(t, err)

	big := make([]byte, 4096)
	n, err := c.EncodeTo(big)
	require.NoError(t, err)
	require.Greater(t, n, 0)

	var back Connection
	require.NoError(t, json.Unmarshal(big[:n], &back))
	assert.Equal(t, c.Media[0].Video.Colorimetry, back.Media[0].Video.Colorimetry)

	// Too small: nothing is written.
	small := make([]byte, n-1)
	wrote, err := c.EncodeTo(small)
	require.ErrorIs(t, err, api.ErrBufferTooSmall)
	assert.Equal(t, 0, wrote)
	for _, b := range small {
		require.Zero(t, b)
	}
}

func TestParsePayloadMirrorsConnection(t *testing.T) {
	c, err := ParseConnection([]byte(txDoc), true)
	require.NoError(t, err)

	// Absent document means "no overrides": the payload mirrors the
	// connection media.
	p, err := ParsePayload(nil, c)
	require.NoError(t, err)
	require.Len(t, p.Media, 3)
	assert.Equal(t, MediaVideo, p.Media[0].Type)

	ok := `{"media":[{"type":"video"},{"type":"audio"},{"type":"anc"}]}`
	_, err = ParsePayload([]byte(ok), c)
	require.NoError(t, err)

	short := `{"media":[{"type":"video"}]}`
	_, err = ParsePayload([]byte(short), c)
	assert.ErrorIs(t, err, api.ErrInvalidParameter)

	reordered := `{"media":[{"type":"audio"},{"type":"video"},{"type":"anc"}]}`
	_, err = ParsePayload([]byte(reordered), c)
	assert.ErrorIs(t, err, api.ErrInvalidParameter)

	badTs := `{"timing":{"origination_timestamp":{"seconds":1,"nanoseconds":2000000000}},` +
		`"media":[{"type":"video"},{"type":"audio"},{"type":"anc"}]}`
	_, err = ParsePayload([]byte(badTs), c)
	assert.ErrorIs(t, err, api.ErrInvalidParameter)
}
