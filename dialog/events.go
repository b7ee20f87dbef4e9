package dialog

import "github.com/voxgrid/sipstack/sip"

// EventType distinguishes the upward events a Manager emits as dialogs are
// created, progress, and terminate.
type EventType int

const (
	// EventIncomingCall fires when a new INVITE creates a dialog in the
	// Initial/Early state (UAS role).
	EventIncomingCall EventType = iota
	// EventCallAnswered fires when a dialog reaches Confirmed.
	EventCallAnswered
	// EventCallTerminated fires when a dialog reaches Terminated.
	EventCallTerminated
	// EventDialogStateChanged fires on every dialog state transition,
	// including the ones already covered by the more specific events above.
	EventDialogStateChanged
	// EventReInvite fires when an established dialog receives a target- or
	// session-refreshing re-INVITE. In-dialog INFO, UPDATE, NOTIFY and REFER
	// requests are surfaced under the same type; Event.Request tells them apart.
	EventReInvite
	// EventRegistrationRequest fires for incoming REGISTER requests, which
	// the dialog layer does not itself terminate — it is handed upward for
	// registrar logic to answer.
	EventRegistrationRequest
)

func (t EventType) String() string {
	switch t {
	case EventIncomingCall:
		return "IncomingCall"
	case EventCallAnswered:
		return "CallAnswered"
	case EventCallTerminated:
		return "CallTerminated"
	case EventDialogStateChanged:
		return "DialogStateChanged"
	case EventReInvite:
		return "ReInvite"
	case EventRegistrationRequest:
		return "RegistrationRequest"
	default:
		return "Unknown"
	}
}

// Event is a single notification pushed to a Manager's event stream.
type Event struct {
	Type EventType

	// Dialog is nil for EventRegistrationRequest, which precedes dialog
	// creation.
	Dialog *Dialog

	State sip.DialogState

	// Request/Response carry whichever triggered the event, when relevant
	// (e.g. the re-INVITE request, the REGISTER request).
	Request  *sip.Request
	Response *sip.Response

	// Tx lets a EventRegistrationRequest or EventIncomingCall subscriber
	// respond directly on the originating server transaction.
	Tx sip.ServerTransaction
}
