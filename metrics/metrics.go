// Package metrics exposes the stack's runtime counters as Prometheus
// collectors, the same way the reference proxy command wires
// promhttp.Handler onto an HTTP mux: callers register these on whatever
// registry they already expose on /metrics, this package does not open a
// listener itself.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/voxgrid/sipstack/dialog"
	"github.com/voxgrid/sipstack/sip"
)

// Dialogs collects dialog lifecycle counters and gauges. Register it once
// and call Observe from a dialog.Manager's event loop.
type Dialogs struct {
	active     prometheus.Gauge
	started    *prometheus.CounterVec
	terminated *prometheus.CounterVec
}

// NewDialogs builds the collectors with the given namespace (e.g. the
// application name), ready to be registered on a prometheus.Registerer.
func NewDialogs(namespace string) *Dialogs {
	return &Dialogs{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dialog",
			Name:      "active",
			Help:      "Number of dialogs currently in Early or Confirmed state.",
		}),
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dialog",
			Name:      "started_total",
			Help:      "Dialogs created by an incoming INVITE (role uas); outgoing dialogs are not counted.",
		}, []string{"role"}),
		terminated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dialog",
			Name:      "terminated_total",
			Help:      "Dialogs that reached the Terminated state, partitioned by role.",
		}, []string{"role"}),
	}
}

// Collectors returns the prometheus.Collector set for bulk registration,
// e.g. registry.MustRegister(d.Collectors()...).
func (d *Dialogs) Collectors() []prometheus.Collector {
	return []prometheus.Collector{d.active, d.started, d.terminated}
}

// Observe reads a Manager's event stream until the channel is closed; run
// it in its own goroutine. A channel hands each event to a single receiver,
// so any other reader of the same channel takes events Observe never sees.
func (d *Dialogs) Observe(events <-chan dialog.Event) {
	active := make(map[*dialog.Dialog]bool)
	for ev := range events {
		if ev.Dialog == nil {
			continue
		}
		role := "uac"
		if ev.Dialog.Role == dialog.RoleUAS {
			role = "uas"
		}
		switch ev.Type {
		case dialog.EventIncomingCall:
			d.started.WithLabelValues(role).Inc()
		case dialog.EventDialogStateChanged:
			switch ev.State {
			case sip.DialogStateEarly, sip.DialogStateConfirmed:
				if !active[ev.Dialog] {
					active[ev.Dialog] = true
					d.active.Inc()
				}
			case sip.DialogStateTerminated:
				d.terminated.WithLabelValues(role).Inc()
				if active[ev.Dialog] {
					delete(active, ev.Dialog)
					d.active.Dec()
				}
			}
		}
	}
}

// Transactions collects transaction-layer retransmission/timeout counts,
// the signals an operator actually pages on (Timer A firing repeatedly
// means packet loss toward a peer, Timer B/H firing means it's gone
// unreachable).
type Transactions struct {
	retransmits *prometheus.CounterVec
	timeouts    *prometheus.CounterVec
}

// NewTransactions builds the collectors with the given namespace.
func NewTransactions(namespace string) *Transactions {
	return &Transactions{
		retransmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transaction",
			Name:      "retransmits_total",
			Help:      "Request/response retransmissions sent by a transaction FSM.",
		}, []string{"method"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transaction",
			Name:      "timeouts_total",
			Help:      "Transactions that terminated on Timer B/F/H expiry without a final response.",
		}, []string{"method"}),
	}
}

// Collectors returns the prometheus.Collector set for bulk registration.
func (t *Transactions) Collectors() []prometheus.Collector {
	return []prometheus.Collector{t.retransmits, t.timeouts}
}

// RecordRetransmit increments the retransmit counter for method.
func (t *Transactions) RecordRetransmit(method sip.RequestMethod) {
	t.retransmits.WithLabelValues(string(method)).Inc()
}

// RecordTimeout increments the timeout counter for method.
func (t *Transactions) RecordTimeout(method sip.RequestMethod) {
	t.timeouts.WithLabelValues(string(method)).Inc()
}
