package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"bulksms/internal/ports"

	"github.com/rs/zerolog"
)

// MessagesPath is the submission endpoint relative to the base URL.
const MessagesPath = "/v1/messages"

const maxErrorBody = 4 << 10

// Options configures a Client.
type Options struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	DeliveryReports bool
	Log             zerolog.Logger
	// HTTPClient overrides the client built on first use.
	HTTPClient *http.Client
}

// Client implements ports.SMSProvider against the gateway's REST API.
// The HTTP client is built on the first send.
type Client struct {
	opts Options
	log  zerolog.Logger

	mu         sync.Mutex
	httpClient *http.Client
}

var _ ports.SMSProvider = (*Client)(nil)

// New creates a Client. Nothing is validated until the first send.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Client{
		opts: opts,
		log:  opts.Log.With().Str("component", "provider_client").Logger(),
	}
}

type sendRequest struct {
	From           string `json:"from"`
	To             string `json:"to"`
	Body           string `json:"body"`
	DeliveryReport bool   `json:"delivery_report"`
}

type sendResponse struct {
	MessageID    string `json:"message_id"`
	Successful   bool   `json:"successful"`
	ErrorMessage string `json:"error_message"`
}

type errorResponse struct {
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
	Message      string `json:"message"`
}

// SendMessage posts one message. A status other than 200/202 is returned as
// *ports.ProviderError; network failures are returned wrapped.
func (c *Client) SendMessage(ctx context.Context, from, to, body string) (ports.SendResult, error) {
	hc, err := c.client()
	if err != nil {
		return ports.SendResult{}, err
	}

	payload, err := json.Marshal(sendRequest{
		From:           from,
		To:             to,
		Body:           body,
		DeliveryReport: c.opts.DeliveryReports,
	})
	if err != nil {
		return ports.SendResult{}, fmt.Errorf("marshal send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+MessagesPath, bytes.NewReader(payload))
	if err != nil {
		return ports.SendResult{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)

	resp, err := hc.Do(req)
	if err != nil {
		return ports.SendResult{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		perr := &ports.ProviderError{StatusCode: resp.StatusCode, Message: errorText(resp.Body)}
		c.log.Debug().Int("status", resp.StatusCode).Str("to", to).Msg(perr.Message)
		return ports.SendResult{}, perr
	}

	var sr sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return ports.SendResult{}, fmt.Errorf("decode response: %w", err)
	}
	return ports.SendResult{
		MessageID:    sr.MessageID,
		Successful:   sr.Successful,
		ErrorMessage: sr.ErrorMessage,
	}, nil
}

func (c *Client) client() (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.httpClient != nil {
		return c.httpClient, nil
	}
	if c.opts.BaseURL == "" {
		return nil, &ports.ProviderError{StatusCode: http.StatusBadRequest, Message: "provider URL is not configured"}
	}
	if c.opts.APIKey == "" {
		return nil, &ports.ProviderError{StatusCode: http.StatusUnauthorized, Message: "API key is not configured"}
	}

	c.httpClient = c.opts.HTTPClient
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.opts.Timeout}
	}
	c.log.Debug().Str("base_url", c.opts.BaseURL).Dur("timeout", c.opts.Timeout).Msg("provider client ready")
	return c.httpClient, nil
}

func errorText(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return ""
	}
	var er errorResponse
	if json.Unmarshal(data, &er) == nil {
		for _, s := range []string{er.Error, er.ErrorMessage, er.Message} {
			if s != "" {
				return s
			}
		}
	}
	return strings.TrimSpace(string(data))
}
