package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxgrid/sipstack/dialog"
	"github.com/voxgrid/sipstack/sip"
)

func gaugeValue(t *testing.T, c prometheusGatherer) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetGauge().GetValue()
}

type prometheusGatherer interface {
	Write(*dto.Metric) error
}

func TestDialogsObserveTracksActiveCount(t *testing.T) {
	d := NewDialogs("test")
	events := make(chan dialog.Event, 4)

	done := make(chan struct{})
	go func() {
		d.Observe(events)
		close(done)
	}()

	dg := &dialog.Dialog{Role: dialog.RoleUAS}
	events <- dialog.Event{Type: dialog.EventIncomingCall, Dialog: dg}
	events <- dialog.Event{Type: dialog.EventDialogStateChanged, Dialog: dg, State: sip.DialogStateConfirmed}
	events <- dialog.Event{Type: dialog.EventDialogStateChanged, Dialog: dg, State: sip.DialogStateTerminated}
	close(events)
	<-done

	assert.Equal(t, float64(0), gaugeValue(t, d.active))
}

func TestTransactionsRecordRetransmit(t *testing.T) {
	tx := NewTransactions("test")
	tx.RecordRetransmit(sip.INVITE)
	tx.RecordTimeout(sip.INVITE)
}
