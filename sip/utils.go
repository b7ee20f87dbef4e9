package sip

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"reflect"
	"runtime"
	"strings"
)

const (
	letterBytes   = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	letterIdxBits = 6                   // bits needed to index into letterBytes
	letterIdxMask = 1<<letterIdxBits - 1
	letterIdxMax  = 63 / letterIdxBits // letter indices fitting in one 63-bit rand.Int63
)

// RandString returns a random alphanumeric string of length n, read from
// math/rand (not cryptographically secure) one byte per output character.
func RandString(n int) string {
	randomness := make([]byte, n)
	if _, err := rand.Read(randomness); err != nil {
		panic(err)
	}

	output := make([]byte, n)
	l := len(letterBytes)
	for pos, b := range randomness {
		output[pos] = letterBytes[b%uint8(l)]
	}
	return string(output)
}

// RandStringBytesMask writes a random alphanumeric string of length n into
// sb, packing multiple letter indices into each rand.Int63 draw.
func RandStringBytesMask(sb *strings.Builder, n int) string {
	sb.Grow(n)
	for i, cache, remain := n-1, rand.Int63(), letterIdxMax; i >= 0; {
		if remain == 0 {
			cache, remain = rand.Int63(), letterIdxMax
		}
		if idx := int(cache & letterIdxMask); idx < len(letterBytes) {
			sb.WriteByte(letterBytes[idx])
			i--
		}
		cache >>= letterIdxBits
		remain--
	}
	return sb.String()
}

// ASCIIToLower lowercases s, skipping allocation entirely when s is already
// lowercase ASCII.
func ASCIIToLower(s string) string {
	nonLowInd := -1
	for i, c := range s {
		if 'a' <= c && c <= 'z' {
			continue
		}
		nonLowInd = i
		break
	}
	if nonLowInd < 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	b.WriteString(s[:nonLowInd])
	for i := nonLowInd; i < len(s); i++ {
		c := s[i]
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		b.WriteByte(c)
	}
	return b.String()
}

// ASCIIToLowerInPlace lowercases s's ASCII bytes without allocating.
func ASCIIToLowerInPlace(s []byte) {
	for i := 0; i < len(s); i++ {
		if c := s[i]; 'A' <= c && c <= 'Z' {
			s[i] = c + 'a' - 'A'
		}
	}
}

// ASCIIToUpper uppercases s, skipping allocation when s is already uppercase.
func ASCIIToUpper(s string) string {
	nonUpInd := -1
	for i, c := range s {
		if 'A' <= c && c <= 'Z' {
			continue
		}
		nonUpInd = i
		break
	}
	if nonUpInd < 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	b.WriteString(s[:nonUpInd])
	for i := nonUpInd; i < len(s); i++ {
		c := s[i]
		if 'a' <= c && c <= 'z' {
			c -= 'a' - 'A'
		}
		b.WriteByte(c)
	}
	return b.String()
}

// HeaderToLower canonicalizes a header name to its lowercase wire form,
// special-casing the handful of headers this stack looks up constantly to
// skip ASCIIToLower's allocation on the hot path.
func HeaderToLower(s string) string {
	switch s {
	case "Via", "via":
		return "via"
	case "From", "from":
		return "from"
	case "To", "to":
		return "to"
	case "Call-ID", "call-id":
		return "call-id"
	case "Contact", "contact":
		return "contact"
	case "CSeq", "CSEQ", "cseq":
		return "cseq"
	case "Content-Type", "content-type":
		return "content-type"
	case "Route", "route":
		return "route"
	case "Record-Route", "record-route":
		return "record-route"
	case "Max-Forwards":
		return "max-forwards"
	case "Timestamp", "timestamp":
		return "timestamp"
	}
	return ASCIIToLower(s)
}

func UriIsSIP(s string) bool {
	switch s {
	case "sip", "SIP":
		return true
	}
	return false
}

func UriIsSIPS(s string) bool {
	switch s {
	case "sips", "SIPS":
		return true
	}
	return false
}

// SplitByWhitespace splits text on runs of ABNF whitespace (abnf), unlike
// strings.Fields it doesn't special-case any particular whitespace set.
func SplitByWhitespace(text string) []string {
	var buffer bytes.Buffer
	inToken := true
	result := make([]string, 0)

	for _, char := range text {
		s := string(char)
		if strings.Contains(abnf, s) {
			if inToken {
				result = append(result, buffer.String())
				buffer.Reset()
			}
			inToken = false
			continue
		}
		buffer.WriteString(s)
		inToken = true
	}

	if buffer.Len() > 0 {
		result = append(result, buffer.String())
	}
	return result
}

// delimiter is a pair of quoting characters (e.g. `"..."`, `<...>`) inside
// which a separator must not be treated as one.
type delimiter struct {
	start uint8
	end   uint8
}

var (
	quotesDelim = delimiter{'"', '"'}
	anglesDelim = delimiter{'<', '>'}
)

// findUnescaped finds the first occurrence of target in text that isn't
// inside any of delims.
func findUnescaped(text string, target uint8, delims ...delimiter) int {
	return findAnyUnescaped(text, string(target), delims...)
}

// findAnyUnescaped finds the first occurrence of any byte in targets that
// isn't inside any of delims.
func findAnyUnescaped(text string, targets string, delims ...delimiter) int {
	escaped := false
	var endEscape uint8

	endChars := make(map[uint8]uint8, len(delims))
	for _, d := range delims {
		endChars[d.start] = d.end
	}

	for idx := 0; idx < len(text); idx++ {
		if !escaped && strings.Contains(targets, string(text[idx])) {
			return idx
		}

		if escaped {
			escaped = text[idx] != endEscape
			continue
		}
		endEscape, escaped = endChars[text[idx]]
	}

	return -1
}

// ResolveInterfacesIP picks a local interface address for network ("ip",
// "ip4", "ip6"), accepting only addresses inside targetIP's subnet when given,
// and skipping loopback interfaces unless targetIP itself is loopback.
func ResolveInterfacesIP(network string, targetIP *net.IPNet) (net.IP, net.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, net.Interface{}, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if iface.Flags&net.FlagLoopback != 0 {
			if targetIP != nil && !targetIP.IP.IsLoopback() {
				continue
			}
		}

		ip, err := resolveInterfaceIP(iface, network, targetIP)
		if errors.Is(err, io.EOF) {
			continue
		}
		return ip, iface, err
	}

	return nil, net.Interface{}, errors.New("no interface found on system")
}

func resolveInterfaceIP(iface net.Interface, network string, targetIP *net.IPNet) (net.IP, error) {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, err
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			// *net.IPAddr shows up for multicast, not unicast.
			continue
		}
		ip := ipNet.IP
		if targetIP != nil {
			if !targetIP.Contains(ip) {
				continue
			}
		} else if ip.IsLoopback() {
			continue
		}

		if ip == nil {
			continue
		}

		switch network {
		case "ip4":
			if ip.To4() == nil {
				continue
			}
		case "ip6":
			if ip.To4() != nil {
				continue
			}
		}

		return ip, nil
	}
	return nil, io.EOF
}

// NonceWrite fills buf with random alphanumeric bytes, used for challenge
// nonces where cryptographic randomness isn't required.
func NonceWrite(buf []byte) {
	length := len(letterBytes)
	for i := range buf {
		buf[i] = letterBytes[rand.Intn(length)]
	}
}

// MessageShortString renders msg's short form for logging.
func MessageShortString(msg Message) string {
	switch m := msg.(type) {
	case *Request:
		return m.Short()
	case *Response:
		return m.Short()
	}
	return "unknown message type"
}

// compareFunctions reports whether fsm1 and fsm2 are the same function
// value, used by FSM tests to assert a transition table points where
// expected without comparing unexported state by name.
func compareFunctions(fsm1 any, fsm2 any) error {
	name1 := runtime.FuncForPC(reflect.ValueOf(fsm1).Pointer()).Name()
	name2 := runtime.FuncForPC(reflect.ValueOf(fsm2).Pointer()).Name()
	if name1 != name2 {
		return fmt.Errorf("functions are not equal: f1=%q, f2=%q", name1, name2)
	}
	return nil
}
