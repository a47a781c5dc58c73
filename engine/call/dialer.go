package call

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/WessleyAI/wessley-voice/engine/domain"
	"github.com/WessleyAI/wessley-voice/engine/telephony"
	"github.com/WessleyAI/wessley-voice/engine/twiml"
)

// DefaultOutboundMessage is spoken by a non-interactive call without a message.
const DefaultOutboundMessage = "Hello! This is a call from your RAG Voice Assistant. You can call us anytime for questions."

// CallCreator places calls with the provider.
type CallCreator interface {
	CreateCall(ctx context.Context, r telephony.CallRequest) (telephony.Call, error)
}

// Dialer places outbound calls from the service number.
type Dialer struct {
	calls       CallCreator
	from        string
	webhookBase string
	voice       string
	logger      *slog.Logger
}

// NewDialer creates a Dialer. webhookBase may be empty when only simple
// calls are placed.
func NewDialer(calls CallCreator, from, webhookBase, voice string, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{calls: calls, from: from, webhookBase: webhookBase, voice: voice, logger: logger}
}

// PlaceRequest is an outbound call trigger.
type PlaceRequest struct {
	To          string `json:"phone_number"`
	Message     string `json:"message,omitempty"`
	Interactive bool   `json:"interactive"`
}

// PlaceResult describes a placed call.
type PlaceResult struct {
	Status      string `json:"status"`
	CallSID     string `json:"call_sid"`
	To          string `json:"to"`
	From        string `json:"from"`
	Interactive bool   `json:"interactive"`
	WebhookURL  string `json:"webhook_url,omitempty"`
	Message     string `json:"message"`
}

// Place creates the call. An interactive call points the provider at
// <webhook base>/voice/outbound, where the conversation starts in the
// outbound greeting state. A simple call speaks the message and hangs up.
func (d *Dialer) Place(ctx context.Context, r PlaceRequest) (PlaceResult, error) {
	to := strings.TrimSpace(r.To)
	if err := domain.ValidatePhoneNumber("phone_number", to); err != nil {
		return PlaceResult{}, err
	}
	req := telephony.CallRequest{To: to, From: d.from}
	res := PlaceResult{Status: "success", To: to, From: d.from, Interactive: r.Interactive}

	if r.Interactive {
		base, err := domain.NormalizeWebhookBase(d.webhookBase)
		if err != nil {
			return PlaceResult{}, err
		}
		req.URL = base + "/voice/outbound"
		req.Method = http.MethodPost
		res.WebhookURL = req.URL
	} else {
		msg := strings.TrimSpace(r.Message)
		if msg == "" {
			msg = DefaultOutboundMessage
		}
		doc, err := twiml.Inline(twiml.Response{twiml.Say{Voice: d.voice, Text: msg}, twiml.Hangup{}})
		if err != nil {
			return PlaceResult{}, err
		}
		req.TwiML = doc
	}

	call, err := d.calls.CreateCall(ctx, req)
	if err != nil {
		return PlaceResult{}, fmt.Errorf("call: place: %w", err)
	}
	res.CallSID = call.SID
	res.Message = "Call initiated successfully"
	d.logger.Info("call: outbound call initiated", "call_id", call.SID, "to", to, "interactive", r.Interactive)
	return res, nil
}
