package sdp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOfferParams() AudioOfferParams {
	return AudioOfferParams{
		Username:  "alice",
		SessionID: 123456,
		LocalIP:   "192.0.2.1",
		Port:      4000,
		Codecs: []Codec{
			{PayloadType: 0, Name: "PCMU", ClockRate: 8000},
			{PayloadType: 8, Name: "PCMA", ClockRate: 8000},
		},
	}
}

func TestBuildOfferRoundtrip(t *testing.T) {
	offer := BuildOffer(testOfferParams())
	raw, err := offer.Marshal()
	require.NoError(t, err)

	parsed, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1", parsed.Desc.Origin.UnicastAddress)
	require.Len(t, parsed.Desc.MediaDescriptions, 1)
	assert.Equal(t, "audio", parsed.Desc.MediaDescriptions[0].MediaName.Media)
}

func TestBuildAnswerKeepsOnlyCommonCodecs(t *testing.T) {
	offerParams := testOfferParams()
	offer := BuildOffer(offerParams)

	answerParams := offerParams
	answerParams.LocalIP = "192.0.2.2"
	answerParams.Port = 5000
	answerParams.Codecs = []Codec{
		{PayloadType: 8, Name: "PCMA", ClockRate: 8000},
	}

	answer, err := BuildAnswer(offer, answerParams)
	require.NoError(t, err)

	codecs, err := ExtractAudioCodecs(answer)
	require.NoError(t, err)
	require.Len(t, codecs, 1)
	assert.Equal(t, "PCMA", codecs[0].Name)
}

func TestBuildAnswerNoCommonCodec(t *testing.T) {
	offerParams := testOfferParams()
	offer := BuildOffer(offerParams)

	answerParams := offerParams
	answerParams.Codecs = []Codec{
		{PayloadType: 9, Name: "G722", ClockRate: 8000},
	}

	_, err := BuildAnswer(offer, answerParams)
	assert.ErrorIs(t, err, ErrNoCommonCodec)
}

func TestNegotiatorLocalOfferThenRemoteAnswer(t *testing.T) {
	n := NewNegotiator()
	offer := BuildOffer(testOfferParams())

	require.NoError(t, n.LocalOffer(offer))
	assert.Equal(t, StateLocalOfferSent, n.State())

	err := n.LocalOffer(offer)
	assert.ErrorIs(t, err, ErrOfferAnswerInProgress)

	answer := BuildOffer(testOfferParams())
	require.NoError(t, n.Answer(answer, false))
	assert.Equal(t, StateNegotiated, n.State())
	assert.Same(t, answer, n.ActiveRemote())
	assert.Same(t, offer, n.ActiveLocal())
}

func TestNegotiatorRemoteOfferThenLocalAnswer(t *testing.T) {
	n := NewNegotiator()
	offer := BuildOffer(testOfferParams())

	require.NoError(t, n.RemoteOffer(offer))
	assert.Equal(t, StateRemoteOfferReceived, n.State())

	answer := BuildOffer(testOfferParams())
	err := n.Answer(answer, false)
	assert.ErrorIs(t, err, ErrUnexpectedAnswer)

	require.NoError(t, n.Answer(answer, true))
	assert.Equal(t, StateNegotiated, n.State())
}

func TestConnectionAddr(t *testing.T) {
	offer := BuildOffer(testOfferParams())
	ip, port, err := ConnectionAddr(offer)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1", ip)
	assert.Equal(t, 4000, port)
}
