// Package call runs phone conversations. Machine is the pure transition
// function over call sessions; Store serialises access to a session per
// call; Controller executes the side effects a transition asks for and
// renders the provider response; Dialer places outbound calls.
package call

import (
	"time"

	"github.com/WessleyAI/wessley-voice/engine/telephony"
	"github.com/WessleyAI/wessley-voice/engine/twiml"
)

// State of a call session.
type State string

const (
	Greeting             State = "greeting"
	OutboundGreeting     State = "outbound_greeting"
	AwaitingRecording    State = "awaiting_recording"
	Transcribing         State = "transcribing"
	Answering            State = "answering"
	AwaitingContinuation State = "awaiting_continuation"
	Ended                State = "ended"
	Error                State = "error"
)

// Session is everything remembered about one call.
type Session struct {
	CallID    string
	Direction telephony.Direction
	State     State
	From      string
	To        string
	// Turns counts answered questions.
	Turns int
	// Question is the last transcribed question.
	Question string
	// ProviderTranscript is the provider's own transcription of the last
	// recording, when it has arrived.
	ProviderTranscript string
	// Faulted is set once the session has passed through Error.
	Faulted bool

	// LastKey and LastReply let a redelivered callback be answered with
	// the same directives without repeating its effects.
	LastKey   string
	LastReply twiml.Response

	StartedAt time.Time
	UpdatedAt time.Time
}

// NewSession creates a session in the greeting state for its direction.
func NewSession(callID string, dir telephony.Direction, now time.Time) Session {
	st := Greeting
	if dir == telephony.Outbound {
		st = OutboundGreeting
	} else {
		dir = telephony.Inbound
	}
	return Session{CallID: callID, Direction: dir, State: st, StartedAt: now, UpdatedAt: now}
}

// Terminal reports whether no further conversation can happen.
func (s Session) Terminal() bool { return s.State == Ended }

// Event is an input to Machine.Step.
type Event interface {
	// key identifies a provider delivery for duplicate detection. Events
	// produced by effects return "".
	key() string
}

// CallStarted: the call was answered.
type CallStarted struct {
	Direction telephony.Direction
	From, To  string
}

// RecordingFinished: a Record directive completed.
type RecordingFinished struct {
	URL      string
	Duration float64
}

// DigitsCollected: a Gather directive completed.
type DigitsCollected struct{ Digits string }

// TranscriptReady: the recording was transcribed.
type TranscriptReady struct{ Text string }

// TranscriptFailed: the recording could not be fetched or transcribed.
type TranscriptFailed struct{ Err error }

// AnswerReady: the answer generator replied.
type AnswerReady struct{ Text string }

// Fault: processing failed unexpectedly.
type Fault struct{ Err error }

// Closed: the call is over and the session can be finalised.
type Closed struct{}

func (CallStarted) key() string         { return "started" }
func (e RecordingFinished) key() string { return "recording:" + e.URL }
func (e DigitsCollected) key() string   { return "digits:" + e.Digits }
func (TranscriptReady) key() string     { return "" }
func (TranscriptFailed) key() string    { return "" }
func (AnswerReady) key() string         { return "" }
func (Fault) key() string               { return "" }
func (Closed) key() string              { return "" }

// Effect is work the controller must do before the next Step.
type Effect interface{ effect() }

// Transcribe fetches and transcribes a recording.
type Transcribe struct{ RecordingURL string }

// Answer asks the answer generator a question.
type Answer struct{ Question string }

func (Transcribe) effect() {}
func (Answer) effect()     {}

// Action is the output of a transition: directives for the provider, or an
// effect to run first. Err is set when the transition was a fault.
type Action struct {
	Directives twiml.Response
	Effect     Effect
	Err        error
}
