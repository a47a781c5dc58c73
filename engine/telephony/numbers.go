package telephony

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/WessleyAI/wessley-voice/engine/domain"
)

// NumbersAPI is the part of Client that Numbers needs.
type NumbersAPI interface {
	FetchAccount(ctx context.Context) (Account, error)
	ListNumbers(ctx context.Context) ([]PhoneNumber, error)
	UpdateVoiceWebhook(ctx context.Context, numberSID, voiceURL, method string) (PhoneNumber, error)
}

// Numbers administers the account's phone numbers for this service.
type Numbers struct {
	api    NumbersAPI
	number string
	// fallback allows using the first number on the account when the
	// configured one is not found.
	fallback bool
	logger   *slog.Logger
}

// NewNumbers creates a Numbers for the configured service number.
func NewNumbers(api NumbersAPI, number string, allowFirstNumberFallback bool, logger *slog.Logger) *Numbers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Numbers{api: api, number: number, fallback: allowFirstNumberFallback, logger: logger}
}

// List returns every number on the account.
func (n *Numbers) List(ctx context.Context) ([]PhoneNumber, error) {
	nums, err := n.api.ListNumbers(ctx)
	if err != nil {
		return nil, fmt.Errorf("telephony: list numbers: %w", err)
	}
	return nums, nil
}

// target resolves the configured number. Without the fallback a missing
// number is ErrNotFound; with it, the first number is used and a warning
// is logged.
func (n *Numbers) target(ctx context.Context) (PhoneNumber, error) {
	nums, err := n.List(ctx)
	if err != nil {
		return PhoneNumber{}, err
	}
	if len(nums) == 0 {
		return PhoneNumber{}, fmt.Errorf("telephony: no phone numbers on account: %w", domain.ErrNotFound)
	}
	for _, p := range nums {
		if p.PhoneNumber == n.number {
			return p, nil
		}
	}
	if !n.fallback {
		return PhoneNumber{}, fmt.Errorf("telephony: number %s not on account: %w", n.number, domain.ErrNotFound)
	}
	n.logger.Warn("telephony: configured number not found, using first available",
		"configured", n.number, "using", nums[0].PhoneNumber)
	return nums[0], nil
}

// WebhookInfo returns the voice webhook configuration of the service number.
func (n *Numbers) WebhookInfo(ctx context.Context) (PhoneNumber, error) {
	return n.target(ctx)
}

// WebhookResult describes a completed webhook update.
type WebhookResult struct {
	PhoneNumber string `json:"phone_number"`
	NumberSID   string `json:"number_sid"`
	VoiceURL    string `json:"voice_webhook_url"`
}

// SetupWebhook points the service number's voice webhook at
// <base>/voice/incoming. Credentials are checked first.
func (n *Numbers) SetupWebhook(ctx context.Context, base string) (WebhookResult, error) {
	base, err := domain.NormalizeWebhookBase(base)
	if err != nil {
		return WebhookResult{}, err
	}
	acct, err := n.api.FetchAccount(ctx)
	if err != nil {
		return WebhookResult{}, fmt.Errorf("telephony: verify credentials: %w", err)
	}
	n.logger.Info("telephony: credentials verified", "account", acct.FriendlyName)

	target, err := n.target(ctx)
	if err != nil {
		return WebhookResult{}, err
	}
	voiceURL := base + "/voice/incoming"
	updated, err := n.api.UpdateVoiceWebhook(ctx, target.SID, voiceURL, http.MethodPost)
	if err != nil {
		return WebhookResult{}, fmt.Errorf("telephony: update webhook: %w", err)
	}
	n.logger.Info("telephony: webhook updated", "number", updated.PhoneNumber, "voice_url", voiceURL)
	return WebhookResult{PhoneNumber: updated.PhoneNumber, NumberSID: updated.SID, VoiceURL: voiceURL}, nil
}

// AuthReport is the outcome of a credential check.
type AuthReport struct {
	AccountName   string        `json:"account_name"`
	AccountSID    string        `json:"account_sid"`
	AccountStatus string        `json:"account_status"`
	PhoneNumbers  []PhoneNumber `json:"phone_numbers"`
}

// TestAuth fetches the account and its numbers.
func (n *Numbers) TestAuth(ctx context.Context) (AuthReport, error) {
	acct, err := n.api.FetchAccount(ctx)
	if err != nil {
		return AuthReport{}, fmt.Errorf("telephony: fetch account: %w", err)
	}
	nums, err := n.List(ctx)
	if err != nil {
		return AuthReport{}, err
	}
	return AuthReport{AccountName: acct.FriendlyName, AccountSID: acct.SID, AccountStatus: acct.Status, PhoneNumbers: nums}, nil
}
