package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/wessley-voice/engine/domain"
	"github.com/WessleyAI/wessley-voice/engine/rag"
	"github.com/WessleyAI/wessley-voice/engine/telephony"
	"github.com/WessleyAI/wessley-voice/engine/twiml"
	"github.com/WessleyAI/wessley-voice/pkg/metrics"
	"github.com/WessleyAI/wessley-voice/pkg/natsutil"
)

// SubjectEnded carries CallEnded events.
const SubjectEnded = "voicerag.calls.ended"

// RecordingFetcher downloads recorded audio.
type RecordingFetcher interface {
	FetchRecording(ctx context.Context, recordingURL string) ([]byte, error)
}

// Transcriber converts speech to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename, language string) (string, error)
}

// Answerer answers questions from the corpus.
type Answerer interface {
	Answer(ctx context.Context, q rag.Query) (domain.Answer, error)
}

// CallEnded is published when a session reaches Ended.
type CallEnded struct {
	CallID    string              `json:"call_id"`
	Direction telephony.Direction `json:"direction"`
	Turns     int                 `json:"turns"`
	Faulted   bool                `json:"faulted"`
	Duration  time.Duration       `json:"duration_ns"`
}

// ControllerDeps holds the collaborators of a Controller.
type ControllerDeps struct {
	Machine     *Machine
	Store       *Store
	Recordings  RecordingFetcher
	Transcriber Transcriber
	Answerer    Answerer
	// OwnerIdentity restricts answers to one owner's documents; empty
	// searches the whole corpus.
	OwnerIdentity string
	Language      string
	NATS          *nats.Conn
	Metrics       *metrics.Registry
	Logger        *slog.Logger
	Now           func() time.Time
}

// Controller drives sessions through the machine, running effects between
// steps. Handle always returns a valid provider document.
type Controller struct {
	deps   ControllerDeps
	logger *slog.Logger

	events  func(kind string) *metrics.Counter
	faults  *metrics.Counter
	ended   func(dir telephony.Direction) *metrics.Counter
	active  *metrics.Gauge
	effects *metrics.Histogram
}

// NewController creates a Controller.
func NewController(deps ControllerDeps) *Controller {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Language == "" {
		deps.Language = "en"
	}
	reg := deps.Metrics
	return &Controller{
		deps:   deps,
		logger: deps.Logger,
		events: func(kind string) *metrics.Counter {
			return reg.Counter(metrics.WithLabels("voicerag_call_events_total", "event", kind), "Call events by kind")
		},
		faults: reg.Counter("voicerag_call_faults_total", "Call transitions that faulted"),
		ended: func(dir telephony.Direction) *metrics.Counter {
			return reg.Counter(metrics.WithLabels("voicerag_calls_ended_total", "direction", string(dir)), "Calls ended by direction")
		},
		active:  reg.Gauge("voicerag_call_sessions_active", "Sessions held in memory"),
		effects: reg.Histogram("voicerag_call_effect_duration_seconds", "Transcription and answer latency", nil),
	}
}

// Store returns the session store.
func (c *Controller) Store() *Store { return c.deps.Store }

// Handle applies a provider event to a call and returns the rendered reply.
func (c *Controller) Handle(ctx context.Context, callID string, dir telephony.Direction, ev Event) []byte {
	c.events(eventName(ev)).Inc()
	log := c.logger.With("call_id", callID)

	var reply twiml.Response
	c.deps.Store.Do(callID, func(sess *Session, found bool) {
		now := c.deps.Now()
		if !found {
			*sess = NewSession(callID, dir, now)
		}
		wasEnded := sess.State == Ended
		reply = c.run(ctx, sess, ev, log)
		sess.UpdatedAt = c.deps.Now()
		if !wasEnded && sess.State == Ended {
			c.finish(ctx, *sess, log)
		}
	})
	c.active.Set(int64(c.deps.Store.Len()))

	if reply == nil {
		return twiml.Empty()
	}
	doc, err := twiml.Render(reply)
	if err != nil {
		log.Error("call: render", "err", err)
		return twiml.Empty()
	}
	return doc
}

// run steps the machine until it produces directives, executing effects
// in between.
func (c *Controller) run(ctx context.Context, sess *Session, ev Event, log *slog.Logger) twiml.Response {
	for {
		next, act := c.step(*sess, ev)
		*sess = next
		if act.Err != nil {
			c.faults.Inc()
			log.Error("call: transition failed", "state", sess.State, "err", act.Err)
		}
		if sess.State == Error {
			// Error only leads to Ended; the apology is already in act.
			*sess, _ = c.step(*sess, Closed{})
		}
		if act.Effect == nil {
			return act.Directives
		}
		ev = c.execute(ctx, *sess, act.Effect, log)
	}
}

func (c *Controller) step(s Session, ev Event) (next Session, act Action) {
	defer func() {
		if r := recover(); r != nil {
			next, act = c.deps.Machine.fault(s, fmt.Errorf("%w: panic: %v", domain.ErrSessionFault, r))
		}
	}()
	return c.deps.Machine.Step(s, ev)
}

func (c *Controller) execute(ctx context.Context, sess Session, eff Effect, log *slog.Logger) (ev Event) {
	defer func() {
		if r := recover(); r != nil {
			ev = Fault{Err: fmt.Errorf("%w: panic in %T: %v", domain.ErrSessionFault, eff, r)}
		}
	}()
	start := time.Now()
	defer c.effects.Since(start)

	switch e := eff.(type) {
	case Transcribe:
		if c.deps.Recordings == nil {
			return TranscriptFailed{Err: errors.New("no recording fetcher configured")}
		}
		audio, err := c.deps.Recordings.FetchRecording(ctx, e.RecordingURL)
		if err != nil {
			return TranscriptFailed{Err: fmt.Errorf("fetch recording: %w", err)}
		}
		text, err := c.deps.Transcriber.Transcribe(ctx, audio, "recording.wav", c.deps.Language)
		if err != nil {
			return TranscriptFailed{Err: fmt.Errorf("transcribe: %w", err)}
		}
		log.Info("call: transcribed question", "chars", len(text))
		return TranscriptReady{Text: text}
	case Answer:
		ans, err := c.deps.Answerer.Answer(ctx, rag.Query{Text: e.Question, OwnerIdentity: c.deps.OwnerIdentity})
		if err != nil {
			return Fault{Err: fmt.Errorf("answer: %w", err)}
		}
		log.Info("call: answered", "status", ans.Status, "confidence", ans.Confidence, "turn", sess.Turns+1)
		return AnswerReady{Text: ans.Text}
	}
	return Fault{Err: fmt.Errorf("%w: unknown effect %T", domain.ErrSessionFault, eff)}
}

// RecordTranscript stores the provider's own transcription on the session.
// It never creates a session.
func (c *Controller) RecordTranscript(callID, text string) bool {
	c.events("transcription").Inc()
	var found bool
	c.deps.Store.Do(callID, func(sess *Session, ok bool) {
		found = ok
		if ok {
			sess.ProviderTranscript = text
		}
	})
	c.logger.Info("call: provider transcription", "call_id", callID, "found", found, "text", text)
	return found
}

func (c *Controller) finish(ctx context.Context, sess Session, log *slog.Logger) {
	c.ended(sess.Direction).Inc()
	ev := CallEnded{
		CallID:    sess.CallID,
		Direction: sess.Direction,
		Turns:     sess.Turns,
		Faulted:   sess.Faulted,
		Duration:  sess.UpdatedAt.Sub(sess.StartedAt),
	}
	log.Info("call: ended", "turns", ev.Turns, "direction", ev.Direction)
	if c.deps.NATS == nil {
		return
	}
	if err := natsutil.Publish(ctx, c.deps.NATS, SubjectEnded, ev); err != nil {
		log.Warn("call: publish ended", "err", err)
	}
}

func eventName(ev Event) string {
	switch ev.(type) {
	case CallStarted:
		return "call_started"
	case RecordingFinished:
		return "recording_finished"
	case DigitsCollected:
		return "digits_collected"
	case Closed:
		return "closed"
	default:
		return "other"
	}
}
