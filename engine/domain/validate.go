package domain

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// E.164: leading '+', country code, up to 15 digits total.
var e164 = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// ValidatePhoneNumber requires an E.164 number including the country code.
func ValidatePhoneNumber(field, number string) error {
	n := strings.TrimSpace(number)
	if !strings.HasPrefix(n, "+") {
		return NewValidationError(field, number, fmt.Errorf("phone number must include country code (e.g., +1234567890)"))
	}
	if !e164.MatchString(n) {
		return NewValidationError(field, number, fmt.Errorf("not an E.164 phone number"))
	}
	return nil
}

// NormalizeWebhookBase trims whitespace and trailing slashes and requires
// an absolute http(s) URL.
func NormalizeWebhookBase(raw string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(raw), "/")
	if base == "" {
		return "", NewValidationError("webhook_url", raw, fmt.Errorf("webhook url must be set"))
	}
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", NewValidationError("webhook_url", raw, fmt.Errorf("webhook url must be a valid HTTP/HTTPS URL"))
	}
	return base, nil
}

// ValidateQuery rejects empty or whitespace-only questions.
func ValidateQuery(q string) error {
	if strings.TrimSpace(q) == "" {
		return NewValidationError("query", q, fmt.Errorf("query is required"))
	}
	return nil
}
