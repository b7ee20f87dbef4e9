package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticPayloadTypeRoundTrip(t *testing.T) {
	cases := []struct {
		kind Kind
		pt   int
	}{
		{KindPCMU, 0},
		{KindPCMA, 8},
		{KindG722, 9},
		{KindG729, 18},
	}
	for _, c := range cases {
		pt, ok := StaticPayloadType(c.kind)
		require.True(t, ok)
		assert.Equal(t, c.pt, pt)

		kind, ok := KindFromPayloadType(c.pt)
		require.True(t, ok)
		assert.Equal(t, c.kind, kind)
	}
}

func TestDynamicPayloadTypeHasNoStaticMapping(t *testing.T) {
	_, ok := StaticPayloadType(KindOpus)
	assert.False(t, ok)

	_, ok = KindFromPayloadType(101)
	assert.False(t, ok)
}

func TestPCMULookupEncodeDecode(t *testing.T) {
	c, ok := Lookup(KindPCMU)
	require.True(t, ok)
	assert.Equal(t, KindPCMU, c.Kind())

	pcm := []int16{0, 100, -100, 32000, -32000}
	frame, err := c.Encode(pcm)
	require.NoError(t, err)
	assert.Len(t, frame, len(pcm))

	back, err := c.Decode(frame)
	require.NoError(t, err)
	assert.Len(t, back, len(pcm))
}

func TestPCMALookupEncodeDecode(t *testing.T) {
	c, ok := Lookup(KindPCMA)
	require.True(t, ok)
	assert.Equal(t, KindPCMA, c.Kind())

	pcm := []int16{0, 50, -50, 16000, -16000}
	frame, err := c.Encode(pcm)
	require.NoError(t, err)
	assert.Len(t, frame, len(pcm))

	_, err = c.Decode(frame)
	require.NoError(t, err)
}

func TestLookupUnsupportedKind(t *testing.T) {
	_, ok := Lookup(KindG722)
	assert.False(t, ok)
}
