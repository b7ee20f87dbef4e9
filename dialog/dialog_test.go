package dialog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxgrid/sipstack/sip"
)

func TestNewDialogStartsInitial(t *testing.T) {
	d := newDialog("did", "call-1", RoleUAC)
	assert.Equal(t, sip.DialogStateInitial, d.State())
	assert.Equal(t, RoleUAC, d.Role)
}

func TestNextLocalCSeqIncrementsMonotonically(t *testing.T) {
	d := newDialog("did", "call-1", RoleUAC)
	assert.Equal(t, uint32(1), d.NextLocalCSeq())
	assert.Equal(t, uint32(2), d.NextLocalCSeq())
	assert.Equal(t, uint32(2), d.LocalCSeq())
}

func TestCheckRemoteCSeqRejectsNonIncreasing(t *testing.T) {
	d := newDialog("did", "call-1", RoleUAS)
	require.NoError(t, d.CheckRemoteCSeq(5))
	assert.Equal(t, uint32(5), d.RemoteCSeq())

	require.NoError(t, d.CheckRemoteCSeq(6))
	err := d.CheckRemoteCSeq(6)
	assert.ErrorIs(t, err, ErrInvalidCSeq)
	err = d.CheckRemoteCSeq(4)
	assert.ErrorIs(t, err, ErrInvalidCSeq)
}

func TestSetStateTerminatedCancelsContext(t *testing.T) {
	d := newDialog("did", "call-1", RoleUAC)
	select {
	case <-d.Context().Done():
		t.Fatal("context canceled before termination")
	default:
	}
	d.setState(sip.DialogStateTerminated)
	select {
	case <-d.Context().Done():
	default:
		t.Fatal("context not canceled after Terminated")
	}
}

func TestOnStateChainsMultipleCallbacks(t *testing.T) {
	d := newDialog("did", "call-1", RoleUAC)
	var calls []string
	d.OnState(func(_ *Dialog, s sip.DialogState) {
		calls = append(calls, "first:"+s.String())
	})
	d.OnState(func(_ *Dialog, s sip.DialogState) {
		calls = append(calls, "second:"+s.String())
	})
	d.setState(sip.DialogStateEarly)
	require.Len(t, calls, 2)
	assert.Equal(t, "first:"+sip.DialogStateEarly.String(), calls[0])
	assert.Equal(t, "second:"+sip.DialogStateEarly.String(), calls[1])
}

func TestSetStateNoopWhenUnchanged(t *testing.T) {
	d := newDialog("did", "call-1", RoleUAC)
	n := 0
	d.OnState(func(_ *Dialog, _ sip.DialogState) { n++ })
	d.setState(sip.DialogStateEarly)
	d.setState(sip.DialogStateEarly)
	assert.Equal(t, 1, n)
}

func TestDestinationPrefersRouteSetOverRemoteTarget(t *testing.T) {
	d := newDialog("did", "call-1", RoleUAC)
	d.RemoteTarget = sip.Uri{Host: "contact.example.com"}
	assert.Equal(t, "contact.example.com", d.Destination().Host)

	d.RouteSet = []sip.Uri{{Host: "proxy.example.com"}}
	assert.Equal(t, "proxy.example.com", d.Destination().Host)
}

func TestStoreLoadDelete(t *testing.T) {
	d := newDialog("did", "call-1", RoleUAC)
	_, ok := d.Load("k")
	assert.False(t, ok)

	d.Store("k", 42)
	v, ok := d.Load("k")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	d.Delete("k")
	_, ok = d.Load("k")
	assert.False(t, ok)
}
