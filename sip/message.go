package sip

import (
	"io"

	uuid "github.com/satori/go.uuid"
)

type MessageHandler func(msg Message)

type RequestMethod string

func (r RequestMethod) String() string { return string(r) }

// StatusCode - response status code: 1xx - 6xx
type StatusCode int

// method names are defined here as constants for convenience.
const (
	INVITE    RequestMethod = "INVITE"
	ACK       RequestMethod = "ACK"
	CANCEL    RequestMethod = "CANCEL"
	BYE       RequestMethod = "BYE"
	REGISTER  RequestMethod = "REGISTER"
	OPTIONS   RequestMethod = "OPTIONS"
	SUBSCRIBE RequestMethod = "SUBSCRIBE"
	NOTIFY    RequestMethod = "NOTIFY"
	REFER     RequestMethod = "REFER"
	INFO      RequestMethod = "INFO"
	MESSAGE   RequestMethod = "MESSAGE"
	PRACK     RequestMethod = "PRACK"
	UPDATE    RequestMethod = "UPDATE"
	PUBLISH   RequestMethod = "PUBLISH"
)

type MessageID string

func NextMessageID() MessageID {
	return MessageID(uuid.Must(uuid.NewV4()).String())
}

type Message interface {
	// Start line returns message start line.
	StartLine() string
	// Start line returns message start line.
	StartLineWrite(io.StringWriter)
	// 	// String returns string representation of SIP message in RFC 3261 form.
	String() string
	// String write is same as String but lets you to provide writter and reduce allocations
	StringWrite(io.StringWriter)
	// Short returns short string info about message.
	Short() string
	// SipVersion returns SIP protocol version.

	// Headers returns all message headers.
	Headers() []Header
	// GetHeaders returns slice of headers of the given type.
	GetHeaders(name string) []Header
	// GetHeader returns first header with same name
	GetHeader(name string) Header
	// PrependHeader prepends header to message.
	PrependHeader(header ...Header)
	// AppendHeader appends header to message.
	AppendHeader(header Header)
	// AppendHeaderAfter appends header to message.
	AppendHeaderAfter(header Header, name string)
	// RemoveHeader removes header from message.
	RemoveHeader(name string)
	ReplaceHeader(header Header)
	/* Helper getters for common headers */
	// CallID returns 'Call-ID' header, or nil if absent.
	CallID() *CallID
	// Via returns the top 'Via' header field, or nil if absent.
	Via() *ViaHeader
	// From returns 'From' header field, or nil if absent.
	From() *FromHeader
	// To returns 'To' header field, or nil if absent.
	To() *ToHeader
	// CSeq returns 'CSeq' header field, or nil if absent.
	CSeq() *CSeq
	// ContentLength returns 'Content-Length' header field, or nil if absent.
	ContentLength() *ContentLength
	// ContentType returns 'Content-Type' header field, or nil if absent.
	ContentType() *ContentType
	// Route returns the topmost 'Route' header field, or nil if absent.
	Route() *RouteHeader
	// RecordRoute returns the topmost 'Record-Route' header field, or nil if absent.
	RecordRoute() *RecordRouteHeader

	// Body returns message body.
	Body() []byte
	// SetBody sets message body.
	SetBody(body []byte)

	Transport() string
	SetTransport(tp string)
	Source() string
	SetSource(src string)
	Destination() string
	SetDestination(dest string)
}

// MessageData is the shared Request/Response payload: headers, body and
// the transport-assigned source/destination used for routing replies.
type MessageData struct {
	headers
	SipVersion string
	body       []byte
	tp         string

	// src/dest record which connection this message arrived on or will be
	// sent over; set by the transport layer, not by message construction.
	src  string
	dest string
}

func (msg *MessageData) Body() []byte {
	return msg.body
}

// SetBody sets the message body and keeps 'Content-Length' in sync,
// replacing an existing header rather than appending a duplicate.
func (msg *MessageData) SetBody(body []byte) {
	msg.body = body
	length := ContentLength(len(body))

	if hdr := msg.ContentLength(); hdr != nil {
		if length == *hdr {
			return
		}
		msg.ReplaceHeader(&length)
		return
	}

	msg.AppendHeader(&length)
}

func (msg *MessageData) Transport() string {
	return msg.tp
}

func (msg *MessageData) SetTransport(tp string) {
	msg.tp = tp
}

func (msg *MessageData) Source() string {
	return msg.src
}

func (msg *MessageData) SetSource(src string) {
	msg.src = src
}

func (msg *MessageData) Destination() string {
	return msg.dest
}

func (msg *MessageData) SetDestination(dest string) {
	msg.dest = dest
}
