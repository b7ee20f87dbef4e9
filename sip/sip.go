package sip

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// RFC3261BranchMagicCookie prefixes every branch value this stack generates,
// per RFC 3261 §8.1.1.7. A transaction layer treats any branch without this
// prefix as RFC 2543 legacy and falls back to the older key derivation.
const RFC3261BranchMagicCookie = "z9hG4bK"

var (
	SIPDebug  bool
	siptracer SIPTracer
)

// SIPTracer receives a copy of every raw message this stack reads or writes,
// independent of slog. Install with SIPDebugTracer for wire-level capture
// (e.g. feeding a pcap-style recorder) without touching log verbosity.
type SIPTracer interface {
	SIPTraceRead(transport string, laddr string, raddr string, sipmsg []byte)
	SIPTraceWrite(transport string, laddr string, raddr string, sipmsg []byte)
}

func SIPDebugTracer(t SIPTracer) {
	siptracer = t
}

func logSIPRead(transport string, laddr string, raddr string, sipmsg []byte) {
	if siptracer != nil {
		siptracer.SIPTraceRead(transport, laddr, raddr, sipmsg)
		return
	}

	if DefaultLogger().Enabled(context.Background(), slog.LevelDebug) {
		DefaultLogger().Debug(fmt.Sprintf("%s read from %s <- %s:\n%s", transport, laddr, raddr, sipmsg))
	}
}

func logSIPWrite(transport string, laddr string, raddr string, sipmsg []byte) {
	if siptracer != nil {
		siptracer.SIPTraceWrite(transport, laddr, raddr, sipmsg)
		return
	}
	if DefaultLogger().Enabled(context.Background(), slog.LevelDebug) {
		DefaultLogger().Debug(fmt.Sprintf("%s write to %s -> %s:\n%s", transport, laddr, raddr, sipmsg))
	}
}

// GenerateBranch returns a random unique branch ID.
func GenerateBranch() string {
	return GenerateBranchN(16)
}

// GenerateBranchN returns a random unique branch ID of the form
// RFC3261BranchMagicCookie + "." + n random characters.
func GenerateBranchN(n int) string {
	sb := &strings.Builder{}
	generateBranchStringWrite(sb, n)
	return sb.String()
}

func generateBranchStringWrite(sb *strings.Builder, n int) {
	sb.Grow(len(RFC3261BranchMagicCookie) + n + 1)
	sb.WriteString(RFC3261BranchMagicCookie)
	sb.WriteString(".")
	RandStringBytesMask(sb, n)
}

// GenerateTagN returns a random tag value of n characters, used for the
// From/To tag RFC 3261 §19.3 requires a UA to generate per dialog.
func GenerateTagN(n int) string {
	sb := &strings.Builder{}
	RandStringBytesMask(sb, n)
	return sb.String()
}

// dialogRole distinguishes which side of a dialog a message was seen from,
// since a dialog ID swaps local/remote tag order depending on role
// (RFC 3261 §12.1.1/§12.1.2).
type dialogRole int

const (
	dialogRoleUAS dialogRole = iota
	dialogRoleUAC
)

// DialogIDFromResponse derives the dialog ID a UAC stores from a response it
// received: the Call-ID, then the To tag (the peer's), then the From tag (its
// own).
func DialogIDFromResponse(msg *Response) (string, error) {
	return dialogIDFromMessage(msg, dialogRoleUAS)
}

// DialogIDFromRequestUAS derives the dialog ID a UAS sees in an incoming
// request that established or belongs to a dialog.
func DialogIDFromRequestUAS(msg *Request) (string, error) {
	return dialogIDFromMessage(msg, dialogRoleUAS)
}

// DialogIDFromRequestUAC derives the dialog ID of an incoming in-dialog
// request on a dialog this stack created as UAC: the Call-ID, then the From
// tag (the peer's), then the To tag (its own), the same order
// DialogIDFromResponse produces.
func DialogIDFromRequestUAC(msg *Request) (string, error) {
	return dialogIDFromMessage(msg, dialogRoleUAC)
}

func dialogIDFromMessage(msg Message, role dialogRole) (string, error) {
	callID := msg.CallID()
	if callID == nil {
		return "", fmt.Errorf("missing Call-ID header")
	}

	to := msg.To()
	if to == nil {
		return "", fmt.Errorf("missing To header")
	}
	toTag, ok := to.Params.Get("tag")
	if !ok {
		return "", fmt.Errorf("missing tag param in To header")
	}

	from := msg.From()
	if from == nil {
		return "", fmt.Errorf("missing From header")
	}
	fromTag, ok := from.Params.Get("tag")
	if !ok {
		return "", fmt.Errorf("missing tag param in From header")
	}

	if role == dialogRoleUAC {
		return DialogIDMake(string(*callID), fromTag, toTag), nil
	}
	return DialogIDMake(string(*callID), toTag, fromTag), nil
}

// DialogIDMake joins a Call-ID and two tags, in the order given, into the
// opaque key dialogs are stored and looked up under.
func DialogIDMake(callID, innerID, externalID string) string {
	return strings.Join([]string{callID, innerID, externalID}, TxSeperator)
}
