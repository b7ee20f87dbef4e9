// Package sdp wraps pion/sdp/v3 session descriptions with the offer/answer
// state machine required for SIP INVITE/re-INVITE media negotiation
// (RFC 8866, RFC 3264).
package sdp

import (
	psdp "github.com/pion/sdp/v3"
)

// State is the offer/answer negotiation state of a dialog's media session
// (RFC 3264 §5).
type State int

const (
	// StateNone means no offer/answer exchange has happened yet.
	StateNone State = iota
	// StateLocalOfferSent means we sent an offer and are waiting on the answer.
	StateLocalOfferSent
	// StateRemoteOfferReceived means we received an offer and must answer it.
	StateRemoteOfferReceived
	// StateNegotiated means an offer/answer pair has been exchanged.
	StateNegotiated
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateLocalOfferSent:
		return "local-offer-sent"
	case StateRemoteOfferReceived:
		return "remote-offer-received"
	case StateNegotiated:
		return "negotiated"
	default:
		return "unknown"
	}
}

// Session is a parsed SDP body, kept alongside the raw bytes so it can be
// round tripped into a SIP message body unmodified when we don't need to
// rewrite it.
type Session struct {
	Desc *psdp.SessionDescription
	Raw  []byte
}

// Parse parses a raw SDP body as found in a SIP message.
func Parse(body []byte) (*Session, error) {
	desc := &psdp.SessionDescription{}
	if err := desc.Unmarshal(body); err != nil {
		return nil, err
	}
	return &Session{Desc: desc, Raw: body}, nil
}

// Marshal serializes the session description and caches the result as Raw.
func (s *Session) Marshal() ([]byte, error) {
	b, err := s.Desc.Marshal()
	if err != nil {
		return nil, err
	}
	s.Raw = b
	return b, nil
}

// Negotiator tracks offer/answer state for one dialog's media session.
// A dialog owns exactly one Negotiator; re-INVITEs and UPDATEs drive it
// through LocalOffer/RemoteOffer/Answer again.
type Negotiator struct {
	state        State
	localOffer   *Session
	remoteOffer  *Session
	localAnswer  *Session
	remoteAnswer *Session
}

// NewNegotiator returns a Negotiator in StateNone.
func NewNegotiator() *Negotiator {
	return &Negotiator{state: StateNone}
}

func (n *Negotiator) State() State { return n.state }

// LocalOffer records an offer we are about to send and moves to
// StateLocalOfferSent. It is an error to offer while an exchange is
// already in progress.
func (n *Negotiator) LocalOffer(s *Session) error {
	if n.state == StateLocalOfferSent || n.state == StateRemoteOfferReceived {
		return ErrOfferAnswerInProgress
	}
	n.localOffer = s
	n.state = StateLocalOfferSent
	return nil
}

// RemoteOffer records an offer we received and moves to
// StateRemoteOfferReceived.
func (n *Negotiator) RemoteOffer(s *Session) error {
	if n.state == StateLocalOfferSent || n.state == StateRemoteOfferReceived {
		return ErrOfferAnswerInProgress
	}
	n.remoteOffer = s
	n.state = StateRemoteOfferReceived
	return nil
}

// Answer completes a negotiation in progress. isLocal selects whether this
// is our answer to a remote offer (false) or the remote's answer to our
// offer (true).
func (n *Negotiator) Answer(s *Session, isLocal bool) error {
	switch n.state {
	case StateLocalOfferSent:
		if isLocal {
			return ErrUnexpectedAnswer
		}
		n.remoteAnswer = s
	case StateRemoteOfferReceived:
		if !isLocal {
			return ErrUnexpectedAnswer
		}
		n.localAnswer = s
	default:
		return ErrNoOfferInProgress
	}
	n.state = StateNegotiated
	return nil
}

// Reset clears the negotiator back to StateNone without discarding the
// last negotiated session descriptions, so ActiveLocal/ActiveRemote keep working across
// a failed re-INVITE.
func (n *Negotiator) Reset() {
	n.state = StateNone
}

// ActiveLocal returns the most recently agreed local session description.
func (n *Negotiator) ActiveLocal() *Session {
	if n.localAnswer != nil {
		return n.localAnswer
	}
	return n.localOffer
}

// ActiveRemote returns the most recently agreed remote session description.
func (n *Negotiator) ActiveRemote() *Session {
	if n.remoteAnswer != nil {
		return n.remoteAnswer
	}
	return n.remoteOffer
}
