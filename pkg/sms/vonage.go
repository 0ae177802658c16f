package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the Vonage SMS REST endpoint.
	DefaultBaseURL = "https://rest.nexmo.com"

	// DefaultFrom is the alphanumeric sender ID stamped on outbound texts.
	DefaultFrom = "Vonage APIs"

	// statusDelivered is the per-message status Vonage returns on success.
	statusDelivered = "0"

	requestTimeout = 15 * time.Second
)

// VonageConfig holds the configuration for the Vonage SMS client.
type VonageConfig struct {
	APIKey    string
	APISecret string
	From      string
	BaseURL   string
	// MessagesPerSecond throttles outbound requests. Zero means the
	// long-code default of one message per second.
	MessagesPerSecond float64
}

// VonageClient sends SMS through the Vonage REST API.
type VonageClient struct {
	apiKey     string
	apiSecret  string
	from       string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// vonageResponse mirrors the Vonage SMS JSON response body.
type vonageResponse struct {
	MessageCount string          `json:"message-count"`
	Messages     []vonageMessage `json:"messages"`
}

type vonageMessage struct {
	To               string `json:"to"`
	MessageID        string `json:"message-id"`
	Status           string `json:"status"`
	ErrorText        string `json:"error-text"`
	RemainingBalance string `json:"remaining-balance"`
}

// NewVonageClient creates a new Vonage SMS client.
func NewVonageClient(config *VonageConfig, logger *zap.Logger) (*VonageClient, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if config.APISecret == "" {
		return nil, fmt.Errorf("API secret is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	from := config.From
	if from == "" {
		from = DefaultFrom
	}
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	perSecond := config.MessagesPerSecond
	if perSecond <= 0 {
		perSecond = 1
	}

	return &VonageClient{
		apiKey:     config.APIKey,
		apiSecret:  config.APISecret,
		from:       from,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:     logger,
	}, nil
}

// SetHttpClient allows setting a custom HTTP client.
func (c *VonageClient) SetHttpClient(client *http.Client) {
	c.httpClient = client
}

// Notify sends a single text message. The call blocks on the rate limiter
// before hitting the API so bursts of notifications do not trip Vonage's
// throughput cap.
func (c *VonageClient) Notify(ctx context.Context, mobile string, message string) (*DeliveryResult, error) {
	if mobile == "" {
		return nil, fmt.Errorf("mobile number is required")
	}
	if message == "" {
		return nil, fmt.Errorf("message is required")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait aborted: %w", err)
	}

	form := url.Values{}
	form.Set("api_key", c.apiKey)
	form.Set("api_secret", c.apiSecret)
	form.Set("from", c.from)
	form.Set("to", strings.TrimPrefix(mobile, "+"))
	form.Set("text", message)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sms/json", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build SMS request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &DeliveryError{Mobile: mobile, Reason: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read SMS response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &DeliveryError{Mobile: mobile, Reason: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	var parsed vonageResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse SMS response: %w", err)
	}
	if len(parsed.Messages) == 0 {
		return nil, &DeliveryError{Mobile: mobile, Reason: "empty response from SMS provider"}
	}

	msg := parsed.Messages[0]
	if msg.Status != statusDelivered {
		return nil, &DeliveryError{Mobile: mobile, Status: msg.Status, Reason: msg.ErrorText}
	}

	c.logger.Sugar().Infow("SMS sent successfully", "message_id", msg.MessageID)
	return &DeliveryResult{
		MessageID: msg.MessageID,
		Remaining: msg.RemainingBalance,
	}, nil
}
