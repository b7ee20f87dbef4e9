// Package codec defines the boundary between the signaling core and the
// media collaborator that actually moves audio. The core never inspects
// RTP payloads or runs codec math itself; it only needs to know which
// codec an SDP offer/answer negotiated and how that maps to the IANA
// static payload-type space. A minimal PCMU/PCMA implementation is
// provided here because both are trivial, widely available table
// lookups (via zaf/g711) and a caller wiring this package up for real
// media handling should not have to hunt for a separate dependency just
// to exercise the contract end to end.
package codec

import (
	"fmt"

	"github.com/zaf/g711"
)

// Kind identifies a negotiated audio codec, independent of its RTP
// payload-type number.
type Kind string

const (
	KindPCMU Kind = "PCMU" // G.711 mu-law
	KindPCMA Kind = "PCMA" // G.711 A-law
	KindG722 Kind = "G722"
	KindG729 Kind = "G729"
	KindOpus Kind = "opus"
)

// StaticPayloadType maps a Kind to its IANA-assigned static RTP payload
// type, for the codecs that have one. Dynamic codecs (Opus, and anything
// negotiated via rtpmap in the 96-127 range) have no static mapping and
// report ok=false.
func StaticPayloadType(k Kind) (pt int, ok bool) {
	switch k {
	case KindPCMU:
		return 0, true
	case KindPCMA:
		return 8, true
	case KindG722:
		return 9, true
	case KindG729:
		return 18, true
	default:
		return 0, false
	}
}

// KindFromPayloadType reverses StaticPayloadType for the well-known
// static range. Payload types 96-127 are dynamic and must instead be
// resolved from the SDP rtpmap attribute that accompanied them.
func KindFromPayloadType(pt int) (Kind, bool) {
	switch pt {
	case 0:
		return KindPCMU, true
	case 8:
		return KindPCMA, true
	case 9:
		return KindG722, true
	case 18:
		return KindG729, true
	default:
		return "", false
	}
}

// Codec encodes PCM samples to a codec's wire frame and back. The media
// collaborator owns jitter buffering and packetization; this interface is
// deliberately narrow so an application can swap in a real G.722/G.729/
// Opus implementation without touching the signaling core.
type Codec interface {
	Kind() Kind
	Encode(pcm []int16) ([]byte, error)
	Decode(frame []byte) ([]int16, error)
}

// Lookup returns the built-in Codec for k, if one is registered. G.722,
// G.729, and Opus have no implementation here — encode(pcm, codec-kind)
// for those is left to the media collaborator, per the interface
// contract this package only specifies.
func Lookup(k Kind) (Codec, bool) {
	switch k {
	case KindPCMU:
		return ulawCodec{}, true
	case KindPCMA:
		return alawCodec{}, true
	default:
		return nil, false
	}
}

type ulawCodec struct{}

func (ulawCodec) Kind() Kind { return KindPCMU }

func (ulawCodec) Encode(pcm []int16) ([]byte, error) {
	return g711.EncodeUlaw(pcm), nil
}

func (ulawCodec) Decode(frame []byte) ([]int16, error) {
	return g711.DecodeUlaw(frame), nil
}

type alawCodec struct{}

func (alawCodec) Kind() Kind { return KindPCMA }

func (alawCodec) Encode(pcm []int16) ([]byte, error) {
	return g711.EncodeAlaw(pcm), nil
}

func (alawCodec) Decode(frame []byte) ([]int16, error) {
	return g711.DecodeAlaw(frame), nil
}

// ErrUnsupportedKind is returned by callers resolving a Kind that Lookup
// does not provide a built-in Codec for.
func ErrUnsupportedKind(k Kind) error {
	return fmt.Errorf("codec: no built-in implementation for %s", k)
}
