package sip

import (
	"io"
	"strconv"
	"strings"

	"github.com/icholy/digest"
)

// AuthHeader is the shared field set of WWW-Authenticate and
// Proxy-Authenticate (RFC 3261 §20.44, §20.27; RFC 7616 digest params).
type AuthHeader struct {
	headerName string
	Scheme     string
	Realm      string
	Domain     string
	Nonce      string
	Opaque     string
	Stale      bool
	Algorithm  string
	Qop        string
	Charset    string
	Userhash   bool
}

func (h *AuthHeader) Name() string { return h.headerName }

func (h *AuthHeader) Value() string {
	var buffer strings.Builder
	h.ValueStringWrite(&buffer)
	return buffer.String()
}

func (h *AuthHeader) String() string {
	var buffer strings.Builder
	h.StringWrite(&buffer)
	return buffer.String()
}

func (h *AuthHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString(h.Name())
	buffer.WriteString(": ")
	h.ValueStringWrite(buffer)
}

func (h *AuthHeader) ValueStringWrite(buffer io.StringWriter) {
	scheme := h.Scheme
	if scheme == "" {
		scheme = "Digest"
	}
	buffer.WriteString(scheme)
	buffer.WriteString(" ")

	parts := make([]string, 0, 8)
	if h.Realm != "" {
		parts = append(parts, `realm="`+h.Realm+`"`)
	}
	if h.Domain != "" {
		parts = append(parts, `domain="`+h.Domain+`"`)
	}
	if h.Nonce != "" {
		parts = append(parts, `nonce="`+h.Nonce+`"`)
	}
	if h.Opaque != "" {
		parts = append(parts, `opaque="`+h.Opaque+`"`)
	}
	if h.Stale {
		parts = append(parts, `stale=true`)
	}
	if h.Algorithm != "" {
		parts = append(parts, `algorithm=`+h.Algorithm)
	}
	if h.Qop != "" {
		parts = append(parts, `qop="`+h.Qop+`"`)
	}
	if h.Charset != "" {
		parts = append(parts, `charset="`+h.Charset+`"`)
	}
	if h.Userhash {
		parts = append(parts, `userhash=true`)
	}
	buffer.WriteString(strings.Join(parts, ", "))
}

func (h *AuthHeader) headerClone() Header {
	n := *h
	return &n
}

// Challenge converts the header to the icholy/digest challenge used by the
// client for computing a response to a 401/407.
func (h *AuthHeader) Challenge() *digest.Challenge {
	return &digest.Challenge{
		Realm:     h.Realm,
		Domain:    h.Domain,
		Nonce:     h.Nonce,
		Opaque:    h.Opaque,
		Stale:     h.Stale,
		Algorithm: h.Algorithm,
		Qop:       h.Qop,
		Charset:   h.Charset,
		Userhash:  h.Userhash,
	}
}

// WWWAuthenticateHeader is the WWW-Authenticate header (RFC 3261 §20.44).
type WWWAuthenticateHeader struct{ AuthHeader }

func (h *WWWAuthenticateHeader) headerClone() Header {
	n := *h
	n.headerName = "WWW-Authenticate"
	return &n
}

// ProxyAuthenticateHeader is the Proxy-Authenticate header (RFC 3261 §20.27).
type ProxyAuthenticateHeader struct{ AuthHeader }

func (h *ProxyAuthenticateHeader) headerClone() Header {
	n := *h
	n.headerName = "Proxy-Authenticate"
	return &n
}

// AuthorizationCreds is the shared field set of Authorization and
// Proxy-Authorization credentials (RFC 3261 §20.7, §20.28).
type AuthorizationCreds struct {
	headerName string
	Scheme     string
	Username   string
	Realm      string
	Nonce      string
	URI        string
	Response   string
	Algorithm  string
	Cnonce     string
	Opaque     string
	Qop        string
	NonceCount int
	Userhash   bool
}

func (h *AuthorizationCreds) Name() string { return h.headerName }

func (h *AuthorizationCreds) Value() string {
	var buffer strings.Builder
	h.ValueStringWrite(&buffer)
	return buffer.String()
}

func (h *AuthorizationCreds) String() string {
	var buffer strings.Builder
	h.StringWrite(&buffer)
	return buffer.String()
}

func (h *AuthorizationCreds) StringWrite(buffer io.StringWriter) {
	buffer.WriteString(h.Name())
	buffer.WriteString(": ")
	h.ValueStringWrite(buffer)
}

func (h *AuthorizationCreds) ValueStringWrite(buffer io.StringWriter) {
	scheme := h.Scheme
	if scheme == "" {
		scheme = "Digest"
	}
	buffer.WriteString(scheme)
	buffer.WriteString(" ")

	parts := make([]string, 0, 10)
	if h.Username != "" {
		parts = append(parts, `username="`+h.Username+`"`)
	}
	if h.Realm != "" {
		parts = append(parts, `realm="`+h.Realm+`"`)
	}
	if h.Nonce != "" {
		parts = append(parts, `nonce="`+h.Nonce+`"`)
	}
	if h.URI != "" {
		parts = append(parts, `uri="`+h.URI+`"`)
	}
	if h.Response != "" {
		parts = append(parts, `response="`+h.Response+`"`)
	}
	if h.Algorithm != "" {
		parts = append(parts, `algorithm=`+h.Algorithm)
	}
	if h.Cnonce != "" {
		parts = append(parts, `cnonce="`+h.Cnonce+`"`)
	}
	if h.Opaque != "" {
		parts = append(parts, `opaque="`+h.Opaque+`"`)
	}
	if h.Qop != "" {
		parts = append(parts, `qop=`+h.Qop)
	}
	if h.NonceCount > 0 {
		parts = append(parts, `nc=`+formatNC(h.NonceCount))
	}
	if h.Userhash {
		parts = append(parts, `userhash=true`)
	}
	buffer.WriteString(strings.Join(parts, ", "))
}

func (h *AuthorizationCreds) headerClone() Header {
	n := *h
	return &n
}

func formatNC(n int) string {
	s := strconv.FormatInt(int64(n), 16)
	for len(s) < 8 {
		s = "0" + s
	}
	return s
}

// AuthorizationHeader is the Authorization header (RFC 3261 §20.7).
type AuthorizationHeader struct{ AuthorizationCreds }

func (h *AuthorizationHeader) headerClone() Header {
	n := *h
	n.headerName = "Authorization"
	return &n
}

// ProxyAuthorizationHeader is the Proxy-Authorization header (RFC 3261 §20.28).
type ProxyAuthorizationHeader struct{ AuthorizationCreds }

func (h *ProxyAuthorizationHeader) headerClone() Header {
	n := *h
	n.headerName = "Proxy-Authorization"
	return &n
}

func headerParserWWWAuthenticate(headerName string, headerText string) (Header, error) {
	h := &WWWAuthenticateHeader{}
	h.headerName = "WWW-Authenticate"
	parseAuthChallenge(headerText, &h.AuthHeader)
	return h, nil
}

func headerParserProxyAuthenticate(headerName string, headerText string) (Header, error) {
	h := &ProxyAuthenticateHeader{}
	h.headerName = "Proxy-Authenticate"
	parseAuthChallenge(headerText, &h.AuthHeader)
	return h, nil
}

func headerParserAuthorization(headerName string, headerText string) (Header, error) {
	h := &AuthorizationHeader{}
	h.headerName = "Authorization"
	parseAuthCredentials(headerText, &h.AuthorizationCreds)
	return h, nil
}

func headerParserProxyAuthorization(headerName string, headerText string) (Header, error) {
	h := &ProxyAuthorizationHeader{}
	h.headerName = "Proxy-Authorization"
	parseAuthCredentials(headerText, &h.AuthorizationCreds)
	return h, nil
}

// parseAuthChallenge parses the "<scheme> param=value, param="value", ..."
// form shared by WWW-Authenticate and Proxy-Authenticate. Unknown schemes
// (anything but Digest) are still split into params best-effort.
func parseAuthChallenge(headerText string, h *AuthHeader) {
	scheme, params := splitAuthScheme(headerText)
	h.Scheme = scheme
	for k, v := range parseAuthParams(params) {
		switch k {
		case "realm":
			h.Realm = v
		case "domain":
			h.Domain = v
		case "nonce":
			h.Nonce = v
		case "opaque":
			h.Opaque = v
		case "stale":
			h.Stale = strings.EqualFold(v, "true")
		case "algorithm":
			h.Algorithm = v
		case "qop":
			h.Qop = v
		case "charset":
			h.Charset = v
		case "userhash":
			h.Userhash = strings.EqualFold(v, "true")
		}
	}
}

func parseAuthCredentials(headerText string, h *AuthorizationCreds) {
	scheme, params := splitAuthScheme(headerText)
	h.Scheme = scheme
	for k, v := range parseAuthParams(params) {
		switch k {
		case "username":
			h.Username = v
		case "realm":
			h.Realm = v
		case "nonce":
			h.Nonce = v
		case "uri":
			h.URI = v
		case "response":
			h.Response = v
		case "algorithm":
			h.Algorithm = v
		case "cnonce":
			h.Cnonce = v
		case "opaque":
			h.Opaque = v
		case "qop":
			h.Qop = v
		case "nc":
			n, err := strconv.ParseInt(v, 16, 64)
			if err == nil {
				h.NonceCount = int(n)
			}
		case "userhash":
			h.Userhash = strings.EqualFold(v, "true")
		}
	}
}

func splitAuthScheme(headerText string) (scheme string, params string) {
	headerText = strings.TrimSpace(headerText)
	idx := strings.IndexByte(headerText, ' ')
	if idx < 0 {
		return headerText, ""
	}
	return headerText[:idx], headerText[idx+1:]
}

// parseAuthParams splits comma separated key=value / key="value" pairs.
// It tolerates commas inside quoted values (e.g. domain lists).
func parseAuthParams(s string) map[string]string {
	out := make(map[string]string)
	var inQuotes bool
	start := 0
	push := func(end int) {
		kv := strings.TrimSpace(s[start:end])
		if kv == "" {
			return
		}
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			return
		}
		k := strings.ToLower(strings.TrimSpace(kv[:eq]))
		v := strings.TrimSpace(kv[eq+1:])
		v = strings.Trim(v, `"`)
		out[k] = v
	}
	for i, c := range s {
		switch c {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				push(i)
				start = i + 1
			}
		}
	}
	push(len(s))
	return out
}
