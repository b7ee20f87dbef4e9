package sip

import (
	"io"
	"strings"
)

// UserAgentHeader is a bare-string User-Agent header: the client's software
// identity advertised per RFC 3261 §20.41, e.g. "sipstack/1.0".
type UserAgentHeader string

func (h *UserAgentHeader) String() string {
	var b strings.Builder
	h.StringWrite(&b)
	return b.String()
}

func (h *UserAgentHeader) StringWrite(b io.StringWriter) {
	b.WriteString(h.Name())
	b.WriteString(": ")
	b.WriteString(h.Value())
}

func (h *UserAgentHeader) Name() string { return "User-Agent" }

func (h *UserAgentHeader) Value() string {
	if h == nil {
		return ""
	}
	return string(*h)
}

func (h *UserAgentHeader) headerClone() Header { return h }
