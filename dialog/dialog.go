// Package dialog implements the RFC 3261 §12 dialog layer on top of the
// transaction layer: dialog identification, state (Initial/Early/Confirmed/
// Terminated), route-set computation, CSeq bookkeeping and in-dialog request
// routing, for both UAC and UAS roles.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/voxgrid/sipstack/sdp"
	"github.com/voxgrid/sipstack/sip"
)

var (
	ErrNoDialog          = errors.New("dialog: no matching dialog")
	ErrNoContact         = errors.New("dialog: response/request has no Contact header")
	ErrInvalidCSeq       = errors.New("dialog: invalid CSeq number")
	ErrDialogTerminated  = errors.New("dialog: already terminated")
	ErrDialogCanceled    = errors.New("dialog: canceled before answer")
)

// ErrUnexpectedResponse wraps a final non-2xx response to an INVITE or an
// in-dialog request so that callers can inspect the status code.
type ErrUnexpectedResponse struct {
	Res *sip.Response
}

func (e *ErrUnexpectedResponse) Error() string {
	return fmt.Sprintf("dialog: unexpected response: %s", e.Res.StartLine())
}

// Role distinguishes which side of the dialog this process plays.
type Role int

const (
	RoleUAC Role = iota
	RoleUAS
)

func (r Role) String() string {
	if r == RoleUAC {
		return "UAC"
	}
	return "UAS"
}

// StateFn is invoked whenever a dialog transitions to a new state.
type StateFn func(d *Dialog, s sip.DialogState)

// Dialog is a single RFC 3261 dialog: the shared context of a related
// sequence of SIP requests and responses identified by Call-ID plus local
// and remote tags.
type Dialog struct {
	ID string

	CallID    string
	LocalTag  string
	RemoteTag string

	LocalURI  sip.Uri
	RemoteURI sip.Uri

	// LocalTarget/RemoteTarget are the Contact URIs exchanged during dialog
	// establishment; they are used as the dialog's direct-routing target
	// when no route-set is present.
	LocalTarget  sip.Uri
	RemoteTarget sip.Uri

	Role Role

	// RouteSet is computed once, at dialog confirmation, per route.go.
	RouteSet []sip.Uri

	SecureFlag bool

	// InviteRequest/InviteResponse are the request/response pair that
	// established the dialog. Treat as read-only outside the owning
	// goroutine.
	InviteRequest  *sip.Request
	InviteResponse *sip.Response

	// Negotiator tracks the SDP offer/answer exchange carried over this
	// dialog's INVITE/UPDATE/re-INVITE transactions.
	Negotiator *sdp.Negotiator

	localSeq  atomic.Uint32
	remoteSeq atomic.Uint32

	state          atomic.Int32
	onStatePointer atomic.Pointer[StateFn]

	ctx    context.Context
	cancel context.CancelFunc

	auth digestState

	values sync.Map
}

// newDialog allocates a Dialog in DialogStateInitial.
func newDialog(id, callID string, role Role) *Dialog {
	d := &Dialog{
		ID:     id,
		CallID: callID,
		Role:   role,
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.state.Store(int32(sip.DialogStateInitial))
	return d
}

// OnState chains a state-change callback after any already-registered ones.
func (d *Dialog) OnState(f StateFn) {
	for current := d.onStatePointer.Load(); ; current = d.onStatePointer.Load() {
		if current == nil {
			if d.onStatePointer.CompareAndSwap(nil, &f) {
				return
			}
			continue
		}
		prev := *current
		chained := StateFn(func(dlg *Dialog, s sip.DialogState) {
			prev(dlg, s)
			f(dlg, s)
		})
		if d.onStatePointer.CompareAndSwap(current, &chained) {
			return
		}
	}
}

func (d *Dialog) setState(s sip.DialogState) {
	old := d.state.Swap(int32(s))
	if old == int32(s) {
		return
	}
	if s == sip.DialogStateTerminated {
		d.cancel()
	}
	if f := d.onStatePointer.Load(); f != nil {
		(*f)(d, s)
	}
}

// State returns the dialog's current lifecycle state.
func (d *Dialog) State() sip.DialogState {
	return sip.DialogState(d.state.Load())
}

// StateChanges returns a channel fed with every state transition. The
// channel is buffered and drops states if the reader falls behind.
func (d *Dialog) StateChanges() <-chan sip.DialogState {
	ch := make(chan sip.DialogState, 8)
	d.OnState(func(_ *Dialog, s sip.DialogState) {
		select {
		case ch <- s:
		default:
		}
	})
	return ch
}

// LocalCSeq returns the last CSeq number used for a locally-originated
// in-dialog request, without incrementing it.
func (d *Dialog) LocalCSeq() uint32 {
	return d.localSeq.Load()
}

// NextLocalCSeq increments and returns the CSeq number for the next
// locally-originated in-dialog request (RFC 3261 §12.2.1.1).
func (d *Dialog) NextLocalCSeq() uint32 {
	return d.localSeq.Add(1)
}

// RemoteCSeq returns the last CSeq number observed from the remote party.
func (d *Dialog) RemoteCSeq() uint32 {
	return d.remoteSeq.Load()
}

// CheckRemoteCSeq validates strictly increasing CSeq per RFC 3261 §12.2.2,
// updating the stored value on success.
func (d *Dialog) CheckRemoteCSeq(seq uint32) error {
	last := d.remoteSeq.Load()
	if last != 0 && seq <= last {
		return ErrInvalidCSeq
	}
	d.remoteSeq.Store(seq)
	return nil
}

func (d *Dialog) Context() context.Context { return d.ctx }

func (d *Dialog) Store(key string, value any) { d.values.Store(key, value) }

func (d *Dialog) Load(key string) (any, bool) { return d.values.Load(key) }

func (d *Dialog) Delete(key string) { d.values.Delete(key) }

// Destination returns the URI in-dialog requests should be routed to: the
// first entry of the route-set (strict- or loose-routed), falling back to
// the remote target (Contact) when there is no route-set.
func (d *Dialog) Destination() sip.Uri {
	if len(d.RouteSet) > 0 {
		return d.RouteSet[0]
	}
	return d.RemoteTarget
}
