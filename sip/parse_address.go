package sip

import (
	"errors"
	"fmt"
	"strings"
)

// ParseAddressValue parses an address value as found in a From, To, or
// Contact header (RFC 3261 §20.10):
//
//	"Bob" <sip:bob@biloxi.com>;tag=a6c85cf
//
// It fills uri and *headerParams in place and returns the display name.
// A comma-separated list of addresses is not accepted here; callers that
// need to split one must do that before calling this.
func ParseAddressValue(addressText string, uri *Uri, headerParams *HeaderParams) (displayName string, err error) {
	var semicolon, equal, startQuote, endQuote int = -1, -1, -1, -1
	var name string
	var uriStart, uriEnd int = 0, -1
	var inBrackets, inQuotesParamValue bool
	for i, c := range addressText {
		if inQuotesParamValue {
			if c == '"' {
				inQuotesParamValue = false
			}
			continue
		}

		switch c {
		case '"':
			if equal > 0 {
				inQuotesParamValue = true
				continue
			}

			if startQuote < 0 {
				startQuote = i
			} else {
				endQuote = i
			}
		case '<':
			if uriStart > 0 {
				// Additional option parsing inside an already-opened bracket.
				continue
			}

			// display-name = *(token LWS) / quoted-string
			if endQuote > 0 {
				displayName = addressText[startQuote+1 : endQuote]
				startQuote, endQuote = -1, -1
			} else {
				displayName = strings.TrimSpace(addressText[:i])
			}
			uriStart = i + 1
			inBrackets = true
		case '>':
			// A URI may appear without <>, in which case everything after
			// the first ';' is header params rather than part of the URI.
			uriEnd = i
			equal = -1
			semicolon = -1
			inBrackets = false
		case ';':
			if inBrackets {
				semicolon = i
				continue
			}

			if uriEnd < 0 {
				uriEnd = i
				semicolon = i
				continue
			}

			if equal > 0 {
				val := addressText[equal+1 : i]
				headerParams.Add(name, val)
			} else if semicolon > 0 {
				// Bare flag, e.g. ";+siptag;" with no value.
				name = addressText[semicolon+1 : i]
				headerParams.Add(name, "")
			}
			name = ""
			equal = 0
			semicolon = i

		case '=':
			name = addressText[semicolon+1 : i]
			equal = i
		case '*':
			if startQuote > 0 || uriStart > 0 {
				continue
			}
			uri.Wildcard = true
			uri.Host = "*"
			return
		}
	}

	if uriEnd < 0 {
		uriEnd = len(addressText)
	}

	if uriStart > uriEnd {
		return "", errors.New("malformed URI in address value")
	}

	err = ParseUri(addressText[uriStart:uriEnd], uri)
	if err != nil {
		return
	}

	if equal > 0 {
		val := addressText[equal+1:]
		headerParams.Add(name, val)
	}

	return
}

// headerParserTo generates ToHeader
func headerParserTo(headerName string, headerText string) (header Header, err error) {
	h := &ToHeader{}
	return h, parseToHeader(headerText, h)
}

func parseToHeader(headerText string, h *ToHeader) error {
	var err error

	h.Params = NewParams()
	h.DisplayName, err = ParseAddressValue(headerText, &h.Address, &h.Params)
	if err != nil {
		return err
	}

	if h.Address.Wildcard {
		// The wildcard '*' URI is only permitted in Contact headers.
		return fmt.Errorf("wildcard uri not permitted in to: header: %s", headerText)
	}
	return nil
}

// headerParserFrom generates FromHeader
func headerParserFrom(headerName string, headerText string) (header Header, err error) {
	h := &FromHeader{}
	return h, parseFromHeader(headerText, h)
}

func parseFromHeader(headerText string, h *FromHeader) error {
	var err error

	h.Params = NewParams()
	h.DisplayName, err = ParseAddressValue(headerText, &h.Address, &h.Params)
	if err != nil {
		return err
	}

	if h.Address.Wildcard {
		// The wildcard '*' URI is only permitted in Contact headers.
		return fmt.Errorf("wildcard uri not permitted in from: header: %s", headerText)
	}
	return nil
}

func headerParserContact(headerName string, headerText string) (header Header, err error) {
	h := ContactHeader{}
	return &h, parseContactHeader(headerText, &h)
}

// parseContactHeader generates ContactHeader
func parseContactHeader(headerText string, h *ContactHeader) error {
	inBrackets := false
	inQuotes := false

	endInd := len(headerText)
	end := endInd - 1

	var err error
	for idx, char := range headerText {
		if char == '<' && !inQuotes {
			inBrackets = true
		} else if char == '>' && !inQuotes {
			inBrackets = false
		} else if char == '"' {
			inQuotes = !inQuotes
		} else if !inQuotes && !inBrackets {
			switch {
			case char == ',':
				err = errComaDetected(idx)
			case idx == end:
				endInd = idx + 1
			default:
				continue
			}

			break
		}
	}

	var e error
	h.Params = NewParams()
	h.DisplayName, e = ParseAddressValue(headerText[:endInd], &h.Address, &h.Params)
	if e != nil {
		return e
	}

	return err
}

func headerParserRoute(headerName string, headerText string) (header Header, err error) {
	// A trailing comma would let us reuse the address-list splitting logic,
	// but Route doesn't carry a comma-separated list here, just one address.
	h := RouteHeader{}
	return &h, parseRouteHeader(headerText, &h)
}

// parseRouteHeader parser RouteHeader
func parseRouteHeader(headerText string, h *RouteHeader) error {
	return parseRouteAddress(headerText, &h.Address)
}

// headerParserRecordRoute generates RecordRouteHeader
func headerParserRecordRoute(headerName string, headerText string) (header Header, err error) {
	h := RecordRouteHeader{}
	return &h, parseRecordRouteHeader(headerText, &h)
}

func parseRecordRouteHeader(headerText string, h *RecordRouteHeader) error {
	return parseRouteAddress(headerText, &h.Address)
}

// parseRouteAddress parses a Route/Record-Route address. Neither header
// type keeps its own param list (unlike To/From/Contact), so any params
// found outside the URI's own <> are discarded.
func parseRouteAddress(headerText string, address *Uri) (err error) {
	inBrackets := false
	inQuotes := false
	end := len(headerText) - 1
	var discarded HeaderParams
	for idx, char := range headerText {
		if char == '<' && !inQuotes {
			inBrackets = true
			continue
		}
		if char == '>' && !inQuotes {
			inBrackets = false
		} else if char == '"' {
			inQuotes = !inQuotes
		}

		if !inQuotes && !inBrackets {
			switch {
			case char == ',':
				err = errComaDetected(idx)
			case idx == end:
				idx = idx + 1
			default:
				continue
			}

			_, e := ParseAddressValue(headerText[:idx], address, &discarded)
			if e != nil {
				return e
			}
			break
		}
	}
	return
}
