package call

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/WessleyAI/wessley-voice/engine/domain"
	"github.com/WessleyAI/wessley-voice/engine/telephony"
	"github.com/WessleyAI/wessley-voice/engine/twiml"
)

// Paths are the callback endpoints directives point at.
type Paths struct {
	Recording     string
	Continue      string
	Transcription string
}

// Prompts is every sentence the assistant speaks.
type Prompts struct {
	Welcome          string
	OutboundGreeting string
	NoRecording      string
	NoResponse       string
	UnclearRecording string
	Unintelligible   string
	RecordingError   string
	AnswerPrefix     string
	ContinuePrompt   string
	GatherPrompt     string
	Goodbye          string
	NextQuestion     string
	NoNextRecording  string
	Closing          string
	CallError        string
	QuestionError    string
}

// DefaultPrompts are the English prompts.
var DefaultPrompts = Prompts{
	Welcome:          "Hello! Welcome to the RAG Voice Assistant. Please speak your question after the beep, and I'll help you find the information you need.",
	OutboundGreeting: "Hello! This is your RAG Voice Assistant calling. I can help answer questions based on our knowledge base. Please speak your question after the beep, and I'll provide you with information.",
	NoRecording:      "I didn't receive your recording. Please try calling again.",
	NoResponse:       "I didn't receive your response. Thank you for your time. Goodbye!",
	UnclearRecording: "I didn't receive a clear recording. Please try again.",
	Unintelligible:   "I couldn't understand your question. Please try calling again and speak clearly.",
	RecordingError:   "There was an error processing your recording. Please try again.",
	AnswerPrefix:     "Based on your Question",
	ContinuePrompt:   "Would you like to ask another question? Press 1 for yes, or simply hang up if you're done.",
	GatherPrompt:     "Press 1 to ask another question, or hang up to end the call.",
	Goodbye:          "Thank you for using the RAG Voice Assistant. Goodbye!",
	NextQuestion:     "Great! Please speak your next question after the beep.",
	NoNextRecording:  "I didn't receive your recording. Goodbye!",
	Closing:          "Thank you for using the RAG Voice Assistant. Have a great day!",
	CallError:        "I'm sorry, there was an error processing your call. Please try again later.",
	QuestionError:    "I'm sorry, there was an error processing your question. Please try again.",
}

// Config parameterises the conversation.
type Config struct {
	Voice          string
	Prompts        Prompts
	Paths          Paths
	InboundMaxLen  time.Duration
	OutboundMaxLen time.Duration
	MinRecording   time.Duration
	GatherTimeout  time.Duration
	ContinueDigit  string
	FinishOnKey    string
}

// DefaultConfig returns the production conversation settings.
func DefaultConfig() Config {
	return Config{
		Voice:   twiml.DefaultVoice,
		Prompts: DefaultPrompts,
		Paths: Paths{
			Recording:     "/voice/process_recording",
			Continue:      "/voice/continue",
			Transcription: "/voice/transcription",
		},
		InboundMaxLen:  30 * time.Second,
		OutboundMaxLen: 8 * time.Second,
		MinRecording:   time.Second,
		GatherTimeout:  10 * time.Second,
		ContinueDigit:  "1",
		FinishOnKey:    "#",
	}
}

// Machine is the call state machine. Step is pure: it reads only the
// session, the event and the configuration.
type Machine struct{ cfg Config }

// NewMachine creates a Machine.
func NewMachine(cfg Config) *Machine { return &Machine{cfg: cfg} }

// Step applies ev to s.
func (m *Machine) Step(s Session, ev Event) (Session, Action) {
	if s.State == Ended {
		return s, Action{}
	}
	// A start redelivered after the greeting must not disturb the call
	// in progress, whatever was delivered in between.
	if _, ok := ev.(CallStarted); ok && s.State != Greeting && s.State != OutboundGreeting && s.State != Error {
		return s, Action{Directives: s.LastReply}
	}
	if k := ev.key(); k != "" {
		if k == s.LastKey && s.LastReply != nil {
			return s, Action{Directives: s.LastReply}
		}
		s.LastKey = k
	}

	next, act := m.transition(s, ev)
	if act.Directives != nil {
		next.LastReply = act.Directives
	}
	return next, act
}

func (m *Machine) transition(s Session, ev Event) (Session, Action) {
	if f, ok := ev.(Fault); ok {
		return m.fault(s, f.Err)
	}
	if _, ok := ev.(Closed); ok {
		s.State = Ended
		return s, Action{}
	}
	if s.State == Error {
		s.State = Ended
		return s, Action{}
	}

	switch e := ev.(type) {
	case CallStarted:
		if s.State != Greeting && s.State != OutboundGreeting {
			break
		}
		if e.Direction == telephony.Outbound {
			s.Direction = telephony.Outbound
		}
		s.From, s.To = e.From, e.To
		s.State = AwaitingRecording
		if s.Direction == telephony.Outbound {
			return s, m.speak(m.cfg.Prompts.OutboundGreeting).
				then(m.record(s.Direction, true)).
				say(m.cfg.Prompts.NoResponse).hangup()
		}
		return s, m.speak(m.cfg.Prompts.Welcome).
			then(m.record(s.Direction, true)).
			say(m.cfg.Prompts.NoRecording).hangup()

	case RecordingFinished:
		// A recording for an unknown session is still answered; only
		// continuation eligibility depends on remembered state.
		if s.State != AwaitingRecording && s.State != Greeting && s.State != OutboundGreeting {
			break
		}
		if e.URL == "" || e.Duration < m.cfg.MinRecording.Seconds() {
			s.State = Ended
			return s, m.speak(m.cfg.Prompts.UnclearRecording).hangup()
		}
		s.State = Transcribing
		return s, Action{Effect: Transcribe{RecordingURL: e.URL}}

	case TranscriptReady:
		if s.State != Transcribing {
			break
		}
		q := strings.TrimSpace(e.Text)
		if q == "" {
			s.State = Ended
			return s, m.speak(m.cfg.Prompts.Unintelligible).hangup()
		}
		s.Question = q
		s.State = Answering
		return s, Action{Effect: Answer{Question: q}}

	case TranscriptFailed:
		if s.State != Transcribing {
			break
		}
		s.State = Ended
		return s, Action{Directives: m.speak(m.cfg.Prompts.RecordingError).hangup().Directives, Err: e.Err}

	case AnswerReady:
		if s.State != Answering {
			break
		}
		s.Turns++
		s.State = AwaitingContinuation
		p := m.cfg.Prompts
		return s, m.speak(p.AnswerPrefix+" "+strings.TrimSpace(e.Text)).
			say(p.ContinuePrompt).
			then(twiml.Gather{
				Action:              m.cfg.Paths.Continue,
				Method:              http.MethodPost,
				NumDigits:           1,
				Timeout:             int(m.cfg.GatherTimeout.Seconds()),
				ActionOnEmptyResult: true,
				Prompts:             []twiml.Say{{Voice: m.cfg.Voice, Text: p.GatherPrompt}},
			}).
			say(p.Goodbye).hangup()

	case DigitsCollected:
		if e.Digits == m.cfg.ContinueDigit && s.State == AwaitingContinuation {
			s.State = AwaitingRecording
			return s, m.speak(m.cfg.Prompts.NextQuestion).
				then(m.record(s.Direction, false)).
				say(m.cfg.Prompts.NoNextRecording).hangup()
		}
		// Any other digit, a timeout, or digits for a session that was
		// never awaiting continuation close the call politely.
		s.State = Ended
		return s, m.speak(m.cfg.Prompts.Closing).hangup()
	}

	return m.fault(s, fmt.Errorf("%w: %T in state %s", domain.ErrSessionFault, ev, s.State))
}

func (m *Machine) fault(s Session, err error) (Session, Action) {
	msg := m.cfg.Prompts.QuestionError
	if s.State == Greeting || s.State == OutboundGreeting {
		msg = m.cfg.Prompts.CallError
	}
	s.State = Error
	s.Faulted = true
	a := m.speak(msg).hangup()
	a.Err = err
	return s, a
}

func (m *Machine) record(dir telephony.Direction, withCallback bool) twiml.Record {
	maxLen := m.cfg.InboundMaxLen
	if dir == telephony.Outbound {
		maxLen = m.cfg.OutboundMaxLen
	}
	r := twiml.Record{
		Action:      m.cfg.Paths.Recording,
		Method:      http.MethodPost,
		MaxLength:   int(maxLen.Seconds()),
		FinishOnKey: m.cfg.FinishOnKey,
		PlayBeep:    true,
		Transcribe:  true,
	}
	if withCallback {
		r.TranscribeCallback = m.cfg.Paths.Transcription
	}
	return r
}

// builder helpers keep transitions readable.

func (m *Machine) speak(text string) Action {
	return Action{Directives: twiml.Response{twiml.Say{Voice: m.cfg.Voice, Text: text}}}
}

func (a Action) then(v twiml.Verb) Action {
	a.Directives = append(a.Directives, v)
	return a
}

func (a Action) say(text string) Action {
	voice := twiml.DefaultVoice
	if len(a.Directives) > 0 {
		if s, ok := a.Directives[0].(twiml.Say); ok && s.Voice != "" {
			voice = s.Voice
		}
	}
	return a.then(twiml.Say{Voice: voice, Text: text})
}

func (a Action) hangup() Action { return a.then(twiml.Hangup{}) }
