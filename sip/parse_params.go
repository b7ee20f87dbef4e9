package sip

import (
	"strings"
	"unicode"
)

// paramScanState steps through a ';'-or-','-separated, possibly quoted,
// key[=value] list one rune at a time.
type paramScanState int

const (
	paramScanNone paramScanState = iota
	paramScanKey
	paramScanEqual
	paramScanValue
	paramScanQuote
)

// UnmarshalHeaderParams scans s for seperator-delimited "key=value" (or bare
// "key") pairs up to ending, adding each to *p. It returns how many bytes of
// s were consumed, so callers parsing a larger header can continue past it.
func UnmarshalHeaderParams(s string, seperator rune, ending rune, p *HeaderParams) (n int, err error) {
	var start, sep int = 0, 0
	quote := -1
	state := paramScanKey

	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	n = len(s)
	for i, c := range s {
		if c == ending {
			n = i
			break
		}

		switch state {
		case paramScanKey:
			sep = 0
			start = i
			state = paramScanEqual

		case paramScanEqual:
			if c == seperator {
				p.Add(s[start:i], "")
				state = paramScanKey
				continue
			}
			if c != '=' {
				continue
			}
			sep = i
			state = paramScanValue

		case paramScanValue:
			switch c {
			case '"':
				state = paramScanQuote
				quote = i
			case seperator:
				p.Add(s[start:sep], s[sep+1:i])
				start = sep + 1
				state = paramScanKey
			}

		case paramScanQuote:
			if c != '"' {
				continue
			}
			p.Add(s[start:], s[quote+1:i])
			state = paramScanKey
		}
	}

	if sep > 0 && n >= 0 && start < sep {
		p.Add(s[start:sep], s[sep+1:n])
	}
	if sep == 0 && start < n && n >= 0 {
		p.Add(s[start:], "")
	}

	return n, nil
}
