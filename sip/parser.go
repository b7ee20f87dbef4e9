package sip

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
)

// abnf holds the whitespace characters SIP's ABNF grammar recognizes
// (RFC 3261 §25).
const abnf = " \t"

// maxCseq is the largest CSeq number a SIP message may carry, 2^31-1
// (RFC 3261 §8.1.1.5).
const maxCseq = 2147483647

var (
	ErrParseLineNoCRLF     = errors.New("line has no CRLF")
	ErrParseInvalidMessage = errors.New("invalid SIP message")

	// Stream parse errors.
	ErrParseSipPartial         = errors.New("SIP partial data")
	ErrParseReadBodyIncomplete = errors.New("reading body incomplete")
	ErrParseMoreMessages       = errors.New("stream has more message")

	// ErrMessageTooLarge is returned by ParserStream.ParseNext once a
	// message's total byte count exceeds the Parser's MaxMessageLength.
	ErrMessageTooLarge = errors.New("sip: message too large")

	// errParseNoMoreHeaders signals parseNextHeader reached the blank line
	// that terminates a message's header section.
	errParseNoMoreHeaders = errors.New("sip: no more headers")
)

// defaultMaxMessageLength bounds a stream-parsed message, guarding against
// a peer that never sends a terminating Content-Length body.
const defaultMaxMessageLength = 65536

var bufReader = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// ParseMessage parses a single complete SIP message using a throwaway
// Parser. Callers parsing more than one message should build their own
// Parser instead, to reuse its header parser table.
func ParseMessage(msgData []byte) (Message, error) {
	return NewParser().ParseSIP(msgData)
}

// Parser parses complete, already-framed SIP messages. It holds no
// per-message state, so one Parser can be shared and reused concurrently.
type Parser struct {
	log *slog.Logger
	// headersParsers is the table of known header parsers; trimming it
	// speeds up parsing of messages that never use the dropped headers.
	headersParsers mapHeadersParser
	// MaxMessageLength bounds how many bytes ParserStream.ParseNext will
	// read for one message before failing with ErrMessageTooLarge.
	MaxMessageLength int
}

// ParserOption configures a Parser. See the With* functions below.
type ParserOption func(p *Parser)

// NewParser builds a Parser with the default header parser table.
func NewParser(options ...ParserOption) *Parser {
	p := &Parser{
		log:              DefaultLogger(),
		headersParsers:   headersParsers,
		MaxMessageLength: defaultMaxMessageLength,
	}

	for _, o := range options {
		o(p)
	}

	return p
}

// WithParserLogger overrides the parser's logger.
func WithParserLogger(logger *slog.Logger) ParserOption {
	return func(p *Parser) {
		if logger != nil {
			p.log = logger
		}
	}
}

// WithParserMaxMessageLength overrides the byte limit ParserStream enforces
// on a single stream-parsed message.
func WithParserMaxMessageLength(n int) ParserOption {
	return func(p *Parser) {
		p.MaxMessageLength = n
	}
}

// WithHeadersParsers replaces the parser's header parser table. Only add
// entries here for headers that will appear in nearly every message —
// anything else just slows down the common case. See headersParsers for
// the default table.
func WithHeadersParsers(m map[string]HeaderParser) ParserOption {
	return func(p *Parser) {
		p.headersParsers = m
	}
}

// ParseSIP parses data, which must hold one complete SIP message (start
// line, headers, and a body). The body is every byte after the blank line
// that ends the headers; the Content-Length header's value is not consulted.
func (p *Parser) ParseSIP(data []byte) (msg Message, err error) {
	reader := bufReader.Get().(*bytes.Buffer)
	defer bufReader.Put(reader)
	reader.Reset()
	reader.Write(data)

	startLine, err := nextLine(reader)
	if err != nil {
		return nil, err
	}

	msg, err = ParseLine(startLine)
	if err != nil {
		return nil, err
	}

	for {
		line, err := nextLine(reader)
		if err != nil {
			if err == io.EOF {
				return nil, ErrParseInvalidMessage
			}
			return nil, err
		}

		if len(line) == 0 {
			// End of the header section.
			break
		}

		if err := p.headersParsers.parseMsgHeader(msg, line); err != nil {
			p.log.Info("skip header due to error", "line", line, "error", err)
		}
	}

	contentLength := getBodyLength(data)
	if contentLength <= 0 {
		return msg, nil
	}

	body := make([]byte, contentLength)
	total, err := reader.Read(body)
	if err != nil {
		return nil, fmt.Errorf("read message body failed: %w", err)
	}
	// RFC 3261 §18.3
	if total != contentLength {
		return nil, fmt.Errorf(
			"incomplete message body: read %d bytes, expected %d bytes",
			len(body),
			contentLength,
		)
	}

	if len(body) > 0 {
		msg.SetBody(body)
	}
	return msg, nil
}

// NewSIPStream returns a fresh stream-parsing context for a single
// connection; callers must not share one ParserStream across connections.
func (p *Parser) NewSIPStream() *ParserStream {
	return &ParserStream{
		p: p,
	}
}

// ParseLine parses a message's start line and constructs the matching
// Request or Response shell, with no headers or body parsed yet.
func ParseLine(startLine string) (msg Message, err error) {
	if isRequest(startLine) {
		recipient := Uri{}
		method, sipVersion, err := ParseRequestLine(startLine, &recipient)
		if err != nil {
			return nil, err
		}

		m := NewRequest(method, recipient)
		m.SipVersion = sipVersion
		return m, nil
	}

	if isResponse(startLine) {
		sipVersion, statusCode, reason, err := ParseStatusLine(startLine)
		if err != nil {
			return nil, err
		}

		m := NewResponse(statusCode, reason)
		m.SipVersion = sipVersion
		return m, nil
	}
	return nil, fmt.Errorf("transmission beginning '%s' is not a SIP message", startLine)
}

// nextLine reads up to and including the next CRLF (RFC 3261 §7: every
// start-line, header line, and the blank line before the body must end in
// CRLF), returning the line without it.
func nextLine(reader *bytes.Buffer) (line string, err error) {
	line, err = reader.ReadString('\n')
	if err != nil {
		// err may be io.EOF with a partial line already read; propagate as-is.
		return line, err
	}

	lenline := len(line)
	if lenline < 2 || line[lenline-2] != '\r' {
		return line, ErrParseLineNoCRLF
	}

	return line[:lenline-2], nil
}

// getBodyLength returns the number of bytes following the blank line that
// separates headers from body, or -1 if no such blank line is present.
func getBodyLength(data []byte) int {
	idx := bytes.Index(data, []byte("\r\n\r\n"))
	if idx == -1 {
		return -1
	}
	return len(data) - (idx + 4)
}

// isRequest heuristically detects a SIP request line. Every RFC3261-
// compliant request passes; malformed input may slip through too.
func isRequest(startLine string) bool {
	ind := strings.IndexRune(startLine, ' ')
	if ind <= 0 {
		return false
	}

	ind1 := strings.IndexRune(startLine[ind+1:], ' ')
	if ind1 <= 0 {
		return false
	}

	part2 := startLine[ind+1+ind1+1:]
	if strings.IndexRune(part2, ' ') >= 0 {
		return false
	}
	if len(part2) < 3 {
		return false
	}

	return UriIsSIP(part2[:3])
}

// isResponse heuristically detects a SIP status line. Every RFC3261-
// compliant response passes; malformed input may slip through too.
func isResponse(startLine string) bool {
	ind := strings.IndexRune(startLine, ' ')
	if ind <= 0 {
		return false
	}

	ind1 := strings.IndexRune(startLine[ind+1:], ' ')
	if ind1 <= 0 {
		return false
	}

	return UriIsSIP(startLine[:3])
}

// ParseRequestLine parses a request's start line, e.g.
//
//	INVITE bob@example.com SIP/2.0
func ParseRequestLine(requestLine string, recipient *Uri) (method RequestMethod, sipVersion string, err error) {
	parts := strings.Split(requestLine, " ")
	if len(parts) != 3 {
		err = fmt.Errorf("request line should have 2 spaces: '%s'", requestLine)
		return
	}

	method = RequestMethod(strings.ToUpper(parts[0]))
	err = ParseUri(parts[1], recipient)
	sipVersion = parts[2]

	if recipient.Wildcard {
		err = fmt.Errorf("wildcard URI '*' not permitted in request line: '%s'", requestLine)
		return
	}

	return
}

// ParseStatusLine parses a response's start line, e.g.
//
//	SIP/2.0 200 OK
func ParseStatusLine(statusLine string) (sipVersion string, statusCode StatusCode, reasonPhrase string, err error) {
	parts := strings.Split(statusLine, " ")
	if len(parts) < 3 {
		err = fmt.Errorf("status line has too few spaces: '%s'", statusLine)
		return
	}

	sipVersion = parts[0]
	statusCodeRaw, err := strconv.ParseUint(parts[1], 10, 16)
	statusCode = StatusCode(statusCodeRaw)
	reasonPhrase = strings.Join(parts[2:], " ")

	return
}
