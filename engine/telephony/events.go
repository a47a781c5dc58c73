// Package telephony adapts the Twilio voice API: typed callback events
// parsed from webhook form payloads, and a REST client for calls, phone
// numbers and recordings.
package telephony

import (
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/WessleyAI/wessley-voice/engine/domain"
)

// Direction of a call relative to this service.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// CallStarted is delivered when a call is answered.
type CallStarted struct {
	CallSID   string
	From      string
	To        string
	Direction Direction
}

// RecordingFinished is delivered when a Record directive completes.
// RecordingURL is empty when nothing was captured.
type RecordingFinished struct {
	CallSID      string
	RecordingURL string
	Duration     float64
}

// DigitsCollected is delivered when a Gather completes. Digits is empty on
// timeout.
type DigitsCollected struct {
	CallSID string
	Digits  string
}

// TranscriptionReady is the provider's own asynchronous transcription.
type TranscriptionReady struct {
	CallSID string
	Text    string
	Status  string
}

var errMissing = errors.New("required field missing")

func callSID(form url.Values) (string, error) {
	sid := strings.TrimSpace(form.Get("CallSid"))
	if sid == "" {
		return "", domain.NewValidationError("CallSid", "", errMissing)
	}
	return sid, nil
}

// ParseCallStarted reads a voice webhook. dir is the direction implied by
// the endpoint that received it.
func ParseCallStarted(form url.Values, dir Direction) (CallStarted, error) {
	sid, err := callSID(form)
	if err != nil {
		return CallStarted{}, err
	}
	return CallStarted{CallSID: sid, From: form.Get("From"), To: form.Get("To"), Direction: dir}, nil
}

// ParseRecording reads a Record action callback. A missing or malformed
// RecordingDuration is treated as zero.
func ParseRecording(form url.Values) (RecordingFinished, error) {
	sid, err := callSID(form)
	if err != nil {
		return RecordingFinished{}, err
	}
	ev := RecordingFinished{CallSID: sid, RecordingURL: strings.TrimSpace(form.Get("RecordingUrl"))}
	if d := form.Get("RecordingDuration"); d != "" {
		if f, err := strconv.ParseFloat(d, 64); err == nil && f > 0 {
			ev.Duration = f
		}
	}
	return ev, nil
}

// ParseDigits reads a Gather action callback.
func ParseDigits(form url.Values) (DigitsCollected, error) {
	sid, err := callSID(form)
	if err != nil {
		return DigitsCollected{}, err
	}
	return DigitsCollected{CallSID: sid, Digits: strings.TrimSpace(form.Get("Digits"))}, nil
}

// ParseTranscription reads a transcribeCallback payload.
func ParseTranscription(form url.Values) (TranscriptionReady, error) {
	sid, err := callSID(form)
	if err != nil {
		return TranscriptionReady{}, err
	}
	return TranscriptionReady{
		CallSID: sid,
		Text:    form.Get("TranscriptionText"),
		Status:  form.Get("TranscriptionStatus"),
	}, nil
}
