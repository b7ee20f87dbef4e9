package sip

// DialogState is the lifecycle state of a SIP dialog (RFC 3261 §12).
type DialogState int

const (
	// DialogStateInitial is a dialog that exists only as an outgoing or
	// incoming INVITE, before any tagged response.
	DialogStateInitial DialogState = iota
	// DialogStateEarly is entered on a 1xx response/request carrying a tag.
	DialogStateEarly
	// DialogStateConfirmed is entered on a 2xx response and its ACK.
	DialogStateConfirmed
	// DialogStateTerminated is entered on BYE or a terminating failure response.
	DialogStateTerminated
)

func (s DialogState) String() string {
	switch s {
	case DialogStateInitial:
		return "Initial"
	case DialogStateEarly:
		return "Early"
	case DialogStateConfirmed:
		return "Confirmed"
	case DialogStateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}
