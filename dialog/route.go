package dialog

import (
	"strconv"

	"github.com/voxgrid/sipstack/sip"
)

// computeRouteSetUAC builds the route-set a UAC uses for the remainder of a
// dialog, from the Record-Route headers of the 2xx response that confirmed
// it (RFC 3261 §12.1.2): the route-set is the list of URIs in the
// Record-Route header, REVERSED, with the remote target appended as the
// last entry handled implicitly by Destination()/RouteSet[0] precedence.
//
// The set is computed exactly once, at confirmation, and reused for every
// subsequent in-dialog request; it is never recomputed per-request.
func computeRouteSetUAC(resp *sip.Response) []sip.Uri {
	uris := recordRouteURIs(resp.GetHeaders("Record-Route"))
	if len(uris) == 0 {
		return nil
	}
	routeSet := make([]sip.Uri, len(uris))
	for i, u := range uris {
		routeSet[len(uris)-1-i] = u
	}
	return routeSet
}

// computeRouteSetUAS builds the route-set a UAS uses for the remainder of a
// dialog, from the Record-Route headers of the request that established it
// (RFC 3261 §12.1.1): taken in the order they appear on the request, with no
// reversal.
func computeRouteSetUAS(req *sip.Request) []sip.Uri {
	return recordRouteURIs(req.GetHeaders("Record-Route"))
}

// recordRouteURIs flattens Record-Route headers into URIs in wire order.
// A single Record-Route header line may itself carry a comma-separated
// chain of hops (RecordRouteHeader.Next), so both the list of headers and
// each header's internal chain are walked.
func recordRouteURIs(hdrs []sip.Header) []sip.Uri {
	if len(hdrs) == 0 {
		return nil
	}
	uris := make([]sip.Uri, 0, len(hdrs))
	for _, h := range hdrs {
		for rr, ok := h.(*sip.RecordRouteHeader); ok && rr != nil; rr = rr.Next {
			uris = append(uris, rr.Address)
		}
	}
	return uris
}

// applyRouteHeaders appends a Route header per route-set entry, in order,
// to an outgoing in-dialog request. Loose-routing (RFC 3261 §16.12, "lr"
// parameter) is assumed throughout, matching the Record-Route entries this
// stack itself advertises.
func applyRouteHeaders(req *sip.Request, routeSet []sip.Uri) {
	for _, u := range routeSet {
		rh := &sip.RouteHeader{Address: u}
		req.AppendHeader(rh)
	}
}

// setDestinationFromRouteSet points the request at the first route-set
// entry (or the dialog's remote target if the route-set is empty), so the
// transport layer resolves the correct next hop without per-request
// Record-Route bookkeeping.
func setDestinationFromRouteSet(req *sip.Request, dest sip.Uri) {
	hostport := dest.Host
	if dest.Port > 0 {
		hostport = dest.Host + ":" + strconv.Itoa(dest.Port)
	}
	req.SetDestination(hostport)
}
