// Package twiml renders call directives as the XML document the telephony
// provider executes.
//
// A Response must end in a Record, Gather or Hangup directive. Anything else
// would leave the caller on an open line, so Render refuses it.
package twiml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
)

// ErrUnterminated is returned for a response whose last directive neither
// waits for input nor hangs up.
var ErrUnterminated = errors.New("twiml: response must end with record, gather or hangup")

// DefaultVoice is the provider voice used when a Say has none.
const DefaultVoice = "alice"

// Verb is a single directive.
type Verb interface{ terminal() bool }

// Say speaks text.
type Say struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

// Record captures the caller's speech.
type Record struct {
	XMLName            xml.Name `xml:"Record"`
	Action             string   `xml:"action,attr,omitempty"`
	Method             string   `xml:"method,attr,omitempty"`
	MaxLength          int      `xml:"maxLength,attr,omitempty"`
	FinishOnKey        string   `xml:"finishOnKey,attr,omitempty"`
	PlayBeep           bool     `xml:"playBeep,attr,omitempty"`
	Transcribe         bool     `xml:"transcribe,attr,omitempty"`
	TranscribeCallback string   `xml:"transcribeCallback,attr,omitempty"`
}

// Gather collects keypad digits, speaking its prompts while it waits.
// ActionOnEmptyResult posts to Action even when the caller presses nothing.
type Gather struct {
	XMLName             xml.Name `xml:"Gather"`
	Action              string   `xml:"action,attr,omitempty"`
	Method              string   `xml:"method,attr,omitempty"`
	NumDigits           int      `xml:"numDigits,attr,omitempty"`
	Timeout             int      `xml:"timeout,attr,omitempty"`
	ActionOnEmptyResult bool     `xml:"actionOnEmptyResult,attr,omitempty"`
	Prompts             []Say
}

// Hangup ends the call.
type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

func (Say) terminal() bool    { return false }
func (Record) terminal() bool { return true }
func (Gather) terminal() bool { return true }
func (Hangup) terminal() bool { return true }

// Response is an ordered directive sequence.
type Response []Verb

// Terminated reports whether r ends with a directive that waits for input
// or ends the call.
func (r Response) Terminated() bool {
	return len(r) > 0 && r[len(r)-1].terminal()
}

// MarshalXML writes <Response> with each directive in order.
func (r Response) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start = xml.StartElement{Name: xml.Name{Local: "Response"}}
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	for _, v := range r {
		if s, ok := v.(Say); ok && s.Voice == "" {
			s.Voice = DefaultVoice
			v = s
		}
		if g, ok := v.(Gather); ok {
			for i := range g.Prompts {
				if g.Prompts[i].Voice == "" {
					g.Prompts[i].Voice = DefaultVoice
				}
			}
			v = g
		}
		if err := e.Encode(v); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

// Render serialises r as a complete XML document.
func Render(r Response) ([]byte, error) {
	if !r.Terminated() {
		return nil, ErrUnterminated
	}
	return marshal(r)
}

// Empty is the document returned for callbacks that need no further
// directives, such as a late event for a finished call. It only hangs up.
func Empty() []byte {
	out, _ := marshal(Response{Hangup{}})
	return out
}

// Inline renders r for the call-creation API, which takes the document as
// a parameter rather than fetching it. It enforces the same terminal rule.
func Inline(r Response) (string, error) {
	if !r.Terminated() {
		return "", ErrUnterminated
	}
	out, err := xml.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("twiml: marshal: %w", err)
	}
	return string(out), nil
}

func marshal(r Response) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(r); err != nil {
		return nil, fmt.Errorf("twiml: marshal: %w", err)
	}
	return buf.Bytes(), nil
}
