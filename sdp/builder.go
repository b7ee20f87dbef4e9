package sdp

import (
	"fmt"
	"strings"

	psdp "github.com/pion/sdp/v3"
)

// Codec is one RTP payload type offered or answered for an audio media line.
type Codec struct {
	PayloadType  uint8
	Name         string // e.g. PCMU, PCMA, telephone-event
	ClockRate    uint32
	Channels     uint16
	FormatParams string
}

func (c Codec) rtpmap() string {
	if c.Channels > 1 {
		return fmt.Sprintf("%d %s/%d/%d", c.PayloadType, c.Name, c.ClockRate, c.Channels)
	}
	return fmt.Sprintf("%d %s/%d", c.PayloadType, c.Name, c.ClockRate)
}

// AudioOfferParams describes the single audio media line we offer. The
// stack only negotiates basic audio-over-RTP/AVP; video and additional
// media lines are out of scope.
type AudioOfferParams struct {
	Username  string
	SessionID uint64
	LocalIP   string
	Port      int
	Codecs    []Codec
	SendRecv  string // one of sendrecv/sendonly/recvonly/inactive, defaults to sendrecv
}

// BuildOffer constructs a minimal audio offer SDP per RFC 8866/RFC 3264.
func BuildOffer(p AudioOfferParams) *Session {
	return &Session{Desc: buildDescription(p)}
}

// BuildAnswer constructs an answer to a received offer, keeping only the
// codecs both sides support, preserving the offerer's codec preference
// order (RFC 3264 §6.1).
func BuildAnswer(offer *Session, p AudioOfferParams) (*Session, error) {
	offered, err := ExtractAudioCodecs(offer)
	if err != nil {
		return nil, err
	}

	offeredByPT := make(map[uint8]bool, len(offered))
	for _, c := range offered {
		offeredByPT[c.PayloadType] = true
	}

	var common []Codec
	for _, c := range offered {
		for _, mine := range p.Codecs {
			if c.PayloadType == mine.PayloadType || c.Name == mine.Name {
				common = append(common, mine)
				break
			}
		}
	}
	if len(common) == 0 {
		return nil, ErrNoCommonCodec
	}

	answerParams := p
	answerParams.Codecs = common
	return &Session{Desc: buildDescription(answerParams)}, nil
}

func buildDescription(p AudioOfferParams) *psdp.SessionDescription {
	formats := make([]string, 0, len(p.Codecs))
	attrs := make([]psdp.Attribute, 0, len(p.Codecs)+1)
	for _, c := range p.Codecs {
		formats = append(formats, fmt.Sprintf("%d", c.PayloadType))
		attrs = append(attrs, psdp.Attribute{Key: "rtpmap", Value: c.rtpmap()})
		if c.FormatParams != "" {
			attrs = append(attrs, psdp.Attribute{
				Key:   "fmtp",
				Value: fmt.Sprintf("%d %s", c.PayloadType, c.FormatParams),
			})
		}
	}

	dir := p.SendRecv
	if dir == "" {
		dir = "sendrecv"
	}
	attrs = append(attrs, psdp.Attribute{Key: dir})

	return &psdp.SessionDescription{
		Version: 0,
		Origin: psdp.Origin{
			Username:       orDefault(p.Username, "-"),
			SessionID:      p.SessionID,
			SessionVersion: p.SessionID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: p.LocalIP,
		},
		SessionName: psdp.SessionName("sipstack"),
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &psdp.Address{Address: p.LocalIP},
		},
		TimeDescriptions: []psdp.TimeDescription{
			{Timing: psdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*psdp.MediaDescription{
			{
				MediaName: psdp.MediaName{
					Media:   "audio",
					Port:    psdp.RangedPort{Value: p.Port},
					Protos:  []string{"RTP", "AVP"},
					Formats: formats,
				},
				Attributes: attrs,
			},
		},
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// ExtractAudioCodecs reads the rtpmap attributes of the first audio media
// description into a codec list, in the order the formats were offered.
func ExtractAudioCodecs(s *Session) ([]Codec, error) {
	md := firstAudioMedia(s.Desc)
	if md == nil {
		return nil, ErrNoMediaDescription
	}

	rtpmaps := make(map[string]Codec)
	for _, a := range md.Attributes {
		if a.Key != "rtpmap" {
			continue
		}
		var pt uint8
		var name string
		var clock uint32
		var channels uint16
		// "<pt> <name>/<clock>[/<channels>]"
		n, _ := fmt.Sscan(strings.ReplaceAll(a.Value, "/", " "), &pt, &name, &clock, &channels)
		if n < 3 {
			continue
		}
		if n == 3 {
			channels = 1
		}
		rtpmaps[fmt.Sprintf("%d", pt)] = Codec{
			PayloadType: pt,
			Name:        name,
			ClockRate:   clock,
			Channels:    channels,
		}
	}

	codecs := make([]Codec, 0, len(md.Formats))
	for _, f := range md.Formats {
		if c, ok := rtpmaps[f]; ok {
			codecs = append(codecs, c)
		}
	}
	return codecs, nil
}

// ConnectionAddr returns the negotiated remote media address and port for
// the first audio media line, falling back to the session-level connection
// line when the media line has none (RFC 8866 §5.7).
func ConnectionAddr(s *Session) (ip string, port int, err error) {
	md := firstAudioMedia(s.Desc)
	if md == nil {
		return "", 0, ErrNoMediaDescription
	}
	port = md.MediaName.Port.Value

	if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
		return md.ConnectionInformation.Address.Address, port, nil
	}
	if s.Desc.ConnectionInformation != nil && s.Desc.ConnectionInformation.Address != nil {
		return s.Desc.ConnectionInformation.Address.Address, port, nil
	}
	return "", port, ErrNoMediaDescription
}

func firstAudioMedia(desc *psdp.SessionDescription) *psdp.MediaDescription {
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media == "audio" {
			return md
		}
	}
	return nil
}
