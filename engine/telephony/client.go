package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/WessleyAI/wessley-voice/engine/domain"
)

const (
	DefaultBaseURL = "https://api.twilio.com/2010-04-01"
	providerName   = "twilio"

	// DefaultMaxRecordingBytes bounds a downloaded recording.
	DefaultMaxRecordingBytes = 25 << 20
)

// Client is a minimal Twilio REST client authenticated with the account
// SID and auth token.
type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	http       *http.Client
	maxAudio   int64
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root.
func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") } }

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// WithMaxRecordingBytes caps the size of a fetched recording.
func WithMaxRecordingBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAudio = n
		}
	}
}

// NewClient creates a Client.
func NewClient(accountSID, authToken string, opts ...Option) *Client {
	c := &Client{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    DefaultBaseURL,
		http:       &http.Client{Timeout: 30 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		maxAudio:   DefaultMaxRecordingBytes,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// AccountSID returns the configured account.
func (c *Client) AccountSID() string { return c.accountSID }

// CallRequest creates an outbound call. Exactly one of URL and TwiML is set.
type CallRequest struct {
	To     string
	From   string
	URL    string
	Method string
	TwiML  string
}

// Call is the subset of the call resource we use.
type Call struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
	To     string `json:"to"`
	From   string `json:"from"`
}

// CreateCall places a call and returns the provider's call resource.
func (c *Client) CreateCall(ctx context.Context, r CallRequest) (Call, error) {
	if (r.URL == "") == (r.TwiML == "") {
		return Call{}, domain.NewValidationError("call", "", fmt.Errorf("exactly one of url or twiml is required"))
	}
	form := url.Values{"To": {r.To}, "From": {r.From}}
	if r.URL != "" {
		form.Set("Url", r.URL)
		method := r.Method
		if method == "" {
			method = http.MethodPost
		}
		form.Set("Method", method)
	} else {
		form.Set("Twiml", r.TwiML)
	}
	var out Call
	err := c.form(ctx, http.MethodPost, c.accountPath("/Calls.json"), form, &out)
	return out, err
}

// Account is the subset of the account resource we use.
type Account struct {
	SID          string `json:"sid"`
	FriendlyName string `json:"friendly_name"`
	Status       string `json:"status"`
}

// FetchAccount reads the configured account. It doubles as a credential check.
func (c *Client) FetchAccount(ctx context.Context) (Account, error) {
	var out Account
	err := c.form(ctx, http.MethodGet, c.accountPath(".json"), nil, &out)
	return out, err
}

// Capabilities of a phone number.
type Capabilities struct {
	Voice bool `json:"voice"`
	SMS   bool `json:"sms"`
	MMS   bool `json:"mms"`
}

// PhoneNumber is an incoming phone number on the account.
type PhoneNumber struct {
	SID                  string       `json:"sid"`
	PhoneNumber          string       `json:"phone_number"`
	FriendlyName         string       `json:"friendly_name"`
	VoiceURL             string       `json:"voice_url"`
	VoiceMethod          string       `json:"voice_method"`
	StatusCallback       string       `json:"status_callback"`
	StatusCallbackMethod string       `json:"status_callback_method"`
	Capabilities         Capabilities `json:"capabilities"`
}

type numberPage struct {
	Numbers     []PhoneNumber `json:"incoming_phone_numbers"`
	NextPageURI string        `json:"next_page_uri"`
}

// ListNumbers returns every incoming number, following pagination.
func (c *Client) ListNumbers(ctx context.Context) ([]PhoneNumber, error) {
	var all []PhoneNumber
	next := c.accountPath("/IncomingPhoneNumbers.json?PageSize=100")
	for next != "" {
		var page numberPage
		if err := c.form(ctx, http.MethodGet, next, nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Numbers...)
		next = ""
		if page.NextPageURI != "" {
			next = c.rootURL() + page.NextPageURI
		}
	}
	return all, nil
}

// UpdateVoiceWebhook sets the voice URL and method of a number.
func (c *Client) UpdateVoiceWebhook(ctx context.Context, numberSID, voiceURL, method string) (PhoneNumber, error) {
	form := url.Values{"VoiceUrl": {voiceURL}, "VoiceMethod": {method}}
	var out PhoneNumber
	err := c.form(ctx, http.MethodPost, c.accountPath("/IncomingPhoneNumbers/"+url.PathEscape(numberSID)+".json"), form, &out)
	return out, err
}

// FetchRecording downloads a recording as WAV. recordingURL is the
// RecordingUrl from the callback, without extension. Only URLs on the API
// host are fetched, since the request carries the account credentials.
func (c *Client) FetchRecording(ctx context.Context, recordingURL string) ([]byte, error) {
	if recordingURL == "" {
		return nil, domain.NewValidationError("RecordingUrl", "", errMissing)
	}
	if u, err := url.Parse(recordingURL); err != nil || u.Scheme+"://"+u.Host != c.rootURL() {
		return nil, domain.NewValidationError("RecordingUrl", recordingURL, fmt.Errorf("recording is not hosted on %s", c.rootURL()))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, recordingURL+".wav", nil)
	if err != nil {
		return nil, fmt.Errorf("telephony: new request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.WrapProvider(providerName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, domain.NewProviderError(providerName, resp.StatusCode, string(b))
	}
	audio, err := io.ReadAll(io.LimitReader(resp.Body, c.maxAudio+1))
	if err != nil {
		return nil, domain.WrapProvider(providerName, fmt.Errorf("read recording: %w", err))
	}
	if int64(len(audio)) > c.maxAudio {
		return nil, domain.NewProviderError(providerName, resp.StatusCode, fmt.Sprintf("recording exceeds %d bytes", c.maxAudio))
	}
	return audio, nil
}

func (c *Client) accountPath(suffix string) string {
	return c.baseURL + "/Accounts/" + url.PathEscape(c.accountSID) + suffix
}

// rootURL is the host part of baseURL; next_page_uri values are absolute paths.
func (c *Client) rootURL() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL
	}
	return u.Scheme + "://" + u.Host
}

func (c *Client) form(ctx context.Context, method, target string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("telephony: new request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.WrapProvider(providerName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.NewProviderError(providerName, resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.WrapProvider(providerName, fmt.Errorf("decode: %w", err))
	}
	return nil
}
