package sip

// txSignal is the input alphabet the client and server transaction FSMs
// step on: an externally observed event (response class, timer firing,
// transport failure) or an internally generated follow-up signal
// (sigServerDelete, sigClientDelete) produced by an action function.
type txSignal int

// txState is a transition function bound to one FSM state: given the
// signal that just occurred, it updates tx.step to the next state, fires
// that transition's action, and returns whatever signal the action
// produces (usually sigNone, sometimes chaining straight into another
// transition, e.g. completed->terminated generating sigServerDelete or
// sigClientDelete).
type txState func(s txSignal) txSignal

// txAction is a state's side effect: send/resend a message, pass a
// response upward, arm or disarm a timer. Not all actions advance the FSM
// further; most return sigNone.
type txAction func() txSignal

const (
	sigNone txSignal = iota

	// Server transaction signals (RFC 3261 §17.2).
	sigServerRequest
	sigServerAck
	sigServerCancel
	sigServerUser1xx
	sigServerUser2xx
	sigServerUser300Plus
	sigServerTimerG
	sigServerTimerH
	sigServerTimerI
	sigServerTimerJ
	sigServerTimerL
	sigServerTransportErr
	sigServerDelete

	// Client transaction signals (RFC 3261 §17.1).
	sigClient1xx
	sigClient2xx
	sigClient300Plus
	sigClientTimerA
	sigClientTimerB
	sigClientTimerD
	sigClientTimerM
	sigClientTransportErr
	sigClientDelete
	sigClientCancel
	sigClientCanceled
)

var txSignalNames = map[txSignal]string{
	sigNone:                "none",
	sigServerRequest:       "server/request",
	sigServerAck:           "server/ack",
	sigServerCancel:        "server/cancel",
	sigServerUser1xx:       "server/user-1xx",
	sigServerUser2xx:       "server/user-2xx",
	sigServerUser300Plus:   "server/user-300+",
	sigServerTimerG:        "server/timer-g",
	sigServerTimerH:        "server/timer-h",
	sigServerTimerI:        "server/timer-i",
	sigServerTimerJ:        "server/timer-j",
	sigServerTimerL:        "server/timer-l",
	sigServerTransportErr:  "server/transport-err",
	sigServerDelete:        "server/delete",
	sigClient1xx:           "client/1xx",
	sigClient2xx:           "client/2xx",
	sigClient300Plus:       "client/300+",
	sigClientTimerA:        "client/timer-a",
	sigClientTimerB:        "client/timer-b",
	sigClientTimerD:        "client/timer-d",
	sigClientTimerM:        "client/timer-m",
	sigClientTransportErr:  "client/transport-err",
	sigClientDelete:        "client/delete",
	sigClientCancel:        "client/cancel",
	sigClientCanceled:      "client/canceled",
}

func (s txSignal) String() string {
	if name, ok := txSignalNames[s]; ok {
		return name
	}
	return "unknown transaction signal"
}
