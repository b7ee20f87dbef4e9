package sip

import (
	"fmt"
	"strconv"
	"strings"
)

// Here we have collection of headers parsing.
// Some of headers parsing are moved to different files for better maintance

// A HeaderParser is any function that turns raw header data into one or more Header objects.
type HeaderParser func(headerName string, headerData string) (Header, error)

type mapHeadersParser map[string]HeaderParser

type errComaDetected int

func (e errComaDetected) Error() string {
	return "comma detected"
}

// This needs to kept minimalistic in order to avoid overhead of parsing
// Headers compact form
// a	Accept-Contact	draft-ietf-sip-callerprefs	--
// b	Referred-By	-refer-	"by"
// c	Content-Type	RFC 3261
// e	Content-Encoding	RFC 3261
// f	From	RFC 3261
// i	Call-ID	RFC 3261
// k	Supported	RFC 3261	"know"
// l	Content-Length	RFC 3261
// m	Contact	RFC 3261	"moved"
// o	Event	-event-	"occurance"
// r	Refer-To	-refer-
// s	Subject	RFC 3261
// t	To	RFC 3261
// u	Allow-Events	-events-	"understand"
// v	Via	RFC 3261
var headersParsers = mapHeadersParser{
	"c":              headerParserContentType,
	"content-type":   headerParserContentType,
	"f":              headerParserFrom,
	"from":           headerParserFrom,
	"to":             headerParserTo,
	"t":              headerParserTo,
	"contact":        headerParserContact,
	"m":              headerParserContact,
	"i":              headerParserCallId,
	"call-id":        headerParserCallId,
	"cseq":           headerParserCSeq,
	"via":            headerParserVia,
	"v":              headerParserVia,
	"max-forwards":   headerParserMaxForwards,
	"content-length": headerParserContentLength,
	"l":              headerParserContentLength,
	"route":          headerParserRoute,
	"record-route":   headerParserRecordRoute,
	"refer-to":            headerParserReferTo,
	"referred-by":         headerParserReferredBy,
	"www-authenticate":    headerParserWWWAuthenticate,
	"proxy-authenticate":  headerParserProxyAuthenticate,
	"authorization":       headerParserAuthorization,
	"proxy-authorization": headerParserProxyAuthorization,
}

// DefaultHeadersParser returns minimal version header parser.
// It can be extended or overwritten.
func DefaultHeadersParser() map[string]HeaderParser {
	return headersParsers
}

// parseMsgHeader parses one unfolded header line and appends the resulting
// header(s) onto msg.
func (headersParser mapHeadersParser) parseMsgHeader(msg Message, line string) error {
	out, err := headersParser.parseHeaderLine(nil, line)
	for _, h := range out {
		msg.AppendHeader(h)
	}
	return err
}

// parseHeaderLine parses one unfolded header line and appends the resulting
// header(s) to out, for callers that collect headers before attaching them
// to a message.
func (headersParser mapHeadersParser) parseHeaderLine(out []Header, line string) ([]Header, error) {
	colonIdx := strings.IndexByte(line, ':')
	if colonIdx == -1 {
		return out, fmt.Errorf("field name with no value in header: %q", line)
	}

	fieldName := strings.TrimSpace(line[:colonIdx])
	lowerFieldName := HeaderToLower(fieldName)
	fieldValue := strings.TrimSpace(line[colonIdx+1:])

	headerParser, ok := headersParser[lowerFieldName]
	if !ok {
		// No registered parser for this header type, so it is kept as a
		// generic header. Validation and parsing is left to the caller.
		return append(out, NewHeader(fieldName, fieldValue)), nil
	}

	fieldText := fieldValue
	// Support comma separated values
	for {
		// headerParser detects a comma and returns errComaDetected with the
		// comma's offset, so a single line can produce multiple headers.
		h, err := headerParser(lowerFieldName, fieldText)
		if err == nil {
			return append(out, h), nil
		}

		commaErr, ok := err.(errComaDetected)
		if !ok {
			return out, err
		}
		out = append(out, h)
		fieldText = fieldText[commaErr+1:]
	}
}

func headerParserCallId(headerName string, headerText string) (header Header, err error) {
	var callId CallID
	return &callId, parseCallIdHeader(headerText, &callId)
}

// parseCallIdHeader parses Call-ID header
func parseCallIdHeader(headerText string, callId *CallID) error {
	headerText = strings.TrimSpace(headerText)
	if len(headerText) == 0 {
		return fmt.Errorf("empty Call-ID body")
	}

	*callId = CallID(headerText)
	return nil
}

func headerParserMaxForwards(headerName string, headerText string) (header Header, err error) {
	var maxfwd MaxForwards
	return &maxfwd, parseMaxForwardsHeader(headerText, &maxfwd)
}

// parseMaxForwardsHeader parses MaxForward header
func parseMaxForwardsHeader(headerText string, maxfwd *MaxForwards) error {
	val, err := strconv.ParseUint(headerText, 10, 32)
	*maxfwd = MaxForwards(val)
	return err
}

func headerParserCSeq(headerName string, headerText string) (headers Header, err error) {
	var cseq CSeq
	return &cseq, parseCSeqHeader(headerText, &cseq)
}

// parseCSeqHeader parses CSeq header
func parseCSeqHeader(headerText string, cseq *CSeq) error {
	ind := strings.IndexAny(headerText, abnf)
	if ind < 1 || len(headerText)-ind < 2 {
		return fmt.Errorf("CSeq field should have precisely one whitespace section: '%s'", headerText)
	}

	seqno, err := strconv.ParseUint(headerText[:ind], 10, 32)
	if err != nil {
		return err
	}

	if seqno > maxCseq {
		return fmt.Errorf("invalid CSeq %d: exceeds maximum permitted value "+"2**31 - 1", seqno)
	}

	cseq.SeqNo = uint32(seqno)
	cseq.MethodName = RequestMethod(headerText[ind+1:])
	return nil
}

func headerParserContentLength(headerName string, headerText string) (header Header, err error) {
	var contentLength ContentLength
	return &contentLength, parseContentLengthHeader(headerText, &contentLength)
}

// parseContentLengthHeader parses ContentLength header
func parseContentLengthHeader(headerText string, contentLength *ContentLength) error {
	value, err := strconv.ParseUint(strings.TrimSpace(headerText), 10, 32)
	*contentLength = ContentLength(value)
	return err
}

// headerParserContentType parses ContentType header
func headerParserContentType(headerName string, headerText string) (headers Header, err error) {
	var contentType ContentType
	return &contentType, parseContentTypeHeader(headerText, &contentType)
}

func parseContentTypeHeader(headerText string, contentType *ContentType) error {
	headerText = strings.TrimSpace(headerText)
	if len(headerText) == 0 {
		return fmt.Errorf("empty Content-Type body")
	}

	*contentType = ContentType(headerText)
	return nil
}
