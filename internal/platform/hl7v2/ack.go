package hl7v2

import (
	"fmt"
	"strings"
	"time"
)

// Acknowledgment codes (HL7 table 0008, original mode).
const (
	AckAccept = "AA"
	AckError  = "AE"
	AckReject = "AR"
)

// Escape replaces delimiter characters in s with HL7 escape sequences so s
// can be placed in a single component.
func Escape(s string, d Delimiters) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	e := string(d.Escape)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case d.Escape:
			b.WriteString(e + "E" + e)
		case d.Field:
			b.WriteString(e + "F" + e)
		case d.Component:
			b.WriteString(e + "S" + e)
		case d.Repetition:
			b.WriteString(e + "R" + e)
		case d.SubComponent:
			b.WriteString(e + "T" + e)
		case '\r', '\n':
			b.WriteByte(' ')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// BuildACK renders an ACK for incoming using its delimiters. Sender and
// receiver are swapped and MSA-2 echoes the original control id. incoming
// may be nil when the message could not be tokenized; the ACK then carries
// default delimiters and an empty MSA-2. text, if set, goes to MSA-3.
func BuildACK(incoming *Message, code, text string, now time.Time) []byte {
	d := DefaultDelimiters
	var (
		sendApp, sendFac, recvApp, recvFac string
		trigger, controlID, version        string
	)
	if incoming != nil {
		d = incoming.Delimiters
		sendApp, sendFac = incoming.ReceivingApp, incoming.ReceivingFac
		recvApp, recvFac = incoming.SendingApp, incoming.SendingFac
		if parts := strings.SplitN(incoming.Type, string(d.Component), 3); len(parts) > 1 {
			trigger = parts[1]
		}
		controlID = incoming.ControlID
		version = incoming.Version
	}
	if version == "" {
		version = "2.3"
	}

	fs := string(d.Field)
	now = now.UTC()
	msgType := "ACK"
	if trigger != "" {
		msgType += string(d.Component) + trigger
	}
	msh := strings.Join([]string{
		"MSH", d.Encoding(),
		sendApp, sendFac, recvApp, recvFac,
		now.Format("20060102150405"), "",
		msgType,
		fmt.Sprintf("ACK%s", now.Format("20060102150405.000")),
		"P", version,
	}, fs)

	msa := []string{"MSA", code, controlID}
	if text != "" {
		msa = append(msa, Escape(text, d))
	}
	return []byte(msh + "\r" + strings.Join(msa, fs))
}
