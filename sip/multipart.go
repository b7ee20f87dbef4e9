package sip

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
)

// BodyPart is one part of a multipart SIP body (RFC 5621), e.g. the SDP
// offer and an isfocus/ICE fragment carried together in one INVITE.
type BodyPart struct {
	Header      textproto.MIMEHeader
	ContentType string
	Content     []byte
}

// IsMultipartContentType reports whether a Content-Type header value
// denotes a multipart body, per RFC 2046.
func IsMultipartContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return len(mediaType) > 10 && mediaType[:10] == "multipart/"
}

// ParseMultipartBody splits a multipart SIP body into its parts using the
// boundary parameter of the Content-Type header.
func ParseMultipartBody(contentType string, body []byte) ([]BodyPart, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("sip: parsing multipart content-type: %w", err)
	}
	if len(mediaType) < 10 || mediaType[:10] != "multipart/" {
		return nil, fmt.Errorf("sip: content-type %q is not multipart", contentType)
	}
	boundary, ok := params["boundary"]
	if !ok {
		return nil, fmt.Errorf("sip: multipart content-type %q has no boundary", contentType)
	}

	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	var parts []BodyPart
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("sip: reading multipart body: %w", err)
		}

		content, err := io.ReadAll(part)
		if err != nil {
			return nil, fmt.Errorf("sip: reading multipart part: %w", err)
		}
		parts = append(parts, BodyPart{
			Header:      part.Header,
			ContentType: part.Header.Get("Content-Type"),
			Content:     content,
		})
	}
	return parts, nil
}

// BuildMultipartBody serializes parts into a multipart body and returns the
// body bytes together with the Content-Type value (including the generated
// boundary) to set on the message.
func BuildMultipartBody(parts []BodyPart) (contentType string, body []byte, err error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, p := range parts {
		header := p.Header
		if header == nil {
			header = textproto.MIMEHeader{}
		}
		if p.ContentType != "" {
			header.Set("Content-Type", p.ContentType)
		}
		pw, err := w.CreatePart(header)
		if err != nil {
			return "", nil, fmt.Errorf("sip: creating multipart part: %w", err)
		}
		if _, err := pw.Write(p.Content); err != nil {
			return "", nil, fmt.Errorf("sip: writing multipart part: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return "", nil, fmt.Errorf("sip: closing multipart writer: %w", err)
	}

	return "multipart/mixed; boundary=" + w.Boundary(), buf.Bytes(), nil
}

// PartByContentType returns the first part whose Content-Type matches,
// ignoring any parameters (e.g. "application/sdp" also matches
// "application/sdp;charset=utf-8").
func PartByContentType(parts []BodyPart, contentType string) (BodyPart, bool) {
	for _, p := range parts {
		mediaType, _, err := mime.ParseMediaType(p.ContentType)
		if err != nil {
			mediaType = p.ContentType
		}
		if mediaType == contentType {
			return p, true
		}
	}
	return BodyPart{}, false
}
