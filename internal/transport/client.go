// Package transport is the agent's HTTP client for the control plane. It owns
// retry with exponential backoff, idempotency keys on state-mutating calls,
// and the pay-and-retry handshake when a request comes back payment-required.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/BrainsyETH/clawsight/internal/payment"
	"github.com/BrainsyETH/clawsight/internal/protocol"
	"github.com/BrainsyETH/clawsight/internal/wallet"
	"github.com/google/uuid"
)

// Defaults for the retry policy. Base delay doubles per attempt up to the
// cap; 4xx responses are never retried.
const (
	DefaultMaxAttempts = 4
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 30 * time.Second

	// heartbeatTimeout bounds liveness-style calls so a hung server cannot
	// stall the agent's scheduling loops.
	heartbeatTimeout = 5 * time.Second
)

// APIError is a non-2xx response from the control plane, carrying the
// server's error envelope when one was decodable.
type APIError struct {
	Status  int
	Code    string
	Message string

	// directive is the raw X-Payment-Required header from a 402 response.
	directive string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d", e.Status)
}

// IsPaymentRequired reports whether err is an unresolved 402: the server
// asked for payment and the client could not or would not provide it.
func IsPaymentRequired(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusPaymentRequired
}

// Options configures a Client beyond its endpoint and credentials.
type Options struct {
	// HTTPClient overrides the default client. Per-call timeouts are applied
	// through request contexts, not here.
	HTTPClient *http.Client

	// Signer is the wallet capability used to settle payment directives. Nil
	// disables pay-and-retry: 402 responses surface as errors.
	Signer wallet.Signer

	// PayMax caps the USDC amount the client will pay for a single directive.
	// Zero refuses all payments.
	PayMax float64

	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	Logger *slog.Logger
}

// Client talks to the control plane. Methods are safe for concurrent use:
// each call carries its own attempt counter and backoff state.
type Client struct {
	baseURL     string
	apiKey      string
	http        *http.Client
	signer      wallet.Signer
	payMax      float64
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	logger      *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a client for the control plane at baseURL authenticating with
// apiKey.
func New(baseURL string, apiKey string, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		http:        httpClient,
		signer:      opts.Signer,
		payMax:      opts.PayMax,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		logger:      logger,
		sleep:       sleepCtx,
	}
}

// call describes one logical request. The body is pre-encoded so every retry
// sends identical bytes; mutating calls carry one idempotency key for their
// whole retry lifetime.
type call struct {
	method         string
	path           string
	body           []byte
	idempotencyKey string
	timeout        time.Duration
}

// SyncEvents submits a batch of events. The idempotency key is derived from
// the batch content, not minted per call: a batch requeued after its attempt
// budget ran out on lost responses re-ships under the same key, so the server
// cannot bill it twice.
func (c *Client) SyncEvents(ctx context.Context, events []protocol.Event) (protocol.SyncResult, error) {
	body, err := json.Marshal(protocol.SyncRequest{Events: events})
	if err != nil {
		return protocol.SyncResult{}, fmt.Errorf("encoding sync request: %w", err)
	}
	var out protocol.SyncResult
	err = c.do(ctx, call{
		method:         http.MethodPost,
		path:           "/api/v1/events/sync",
		body:           body,
		idempotencyKey: batchKey(events),
	}, &out)
	return out, err
}

// batchKey derives a stable idempotency key from the events in a batch.
func batchKey(events []protocol.Event) string {
	var b bytes.Buffer
	for _, e := range events {
		b.WriteString(e.ID)
		b.WriteByte(' ')
		b.WriteString(e.Kind)
		b.WriteByte(' ')
		b.WriteString(e.OccurredAt.UTC().Format(time.RFC3339Nano))
		b.WriteByte('\n')
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, b.Bytes()).String()
}

// Heartbeat reports liveness and returns the server's spend snapshot. The
// call runs under a short timeout and a single attempt: the heartbeat loop
// has its own backoff schedule, so transport-level retries would fight it.
func (c *Client) Heartbeat(ctx context.Context, req protocol.HeartbeatRequest) (protocol.HeartbeatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return protocol.HeartbeatResponse{}, fmt.Errorf("encoding heartbeat: %w", err)
	}
	var out protocol.HeartbeatResponse
	err = c.doOnce(ctx, call{
		method:  http.MethodPost,
		path:    "/api/v1/heartbeat",
		body:    body,
		timeout: heartbeatTimeout,
	}, "", &out)
	return out, err
}

// GetConfigs fetches every skill config with its sync status.
func (c *Client) GetConfigs(ctx context.Context) ([]protocol.SkillConfig, error) {
	var out protocol.ConfigListResponse
	err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "/api/v1/skills/configs",
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Configs, nil
}

// PutConfig writes one skill's config to the remote store.
func (c *Client) PutConfig(ctx context.Context, slug string, req protocol.PutConfigRequest) (protocol.SkillConfig, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return protocol.SkillConfig{}, fmt.Errorf("encoding config: %w", err)
	}
	var out protocol.SkillConfig
	err = c.do(ctx, call{
		method:         http.MethodPut,
		path:           "/api/v1/skills/configs/" + slug,
		body:           body,
		idempotencyKey: uuid.NewString(),
	}, &out)
	return out, err
}

// AckConfig confirms a verified local apply of a pending config.
func (c *Client) AckConfig(ctx context.Context, slug string) error {
	return c.do(ctx, call{
		method: http.MethodPost,
		path:   "/api/v1/skills/configs/" + slug + "/applied",
	}, nil)
}

// do runs the per-call state machine: 2xx done, 402 pay-and-retry once,
// other 4xx terminal, 5xx and network failures retried with exponential
// backoff until the attempt budget runs out.
func (c *Client) do(ctx context.Context, req call, out any) error {
	var lastErr error
	delay := c.baseDelay

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
			delay *= 2
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		err := c.doOnce(ctx, req, "", out)
		if err == nil {
			return nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if apiErr.Status == http.StatusPaymentRequired {
				return c.payAndRetry(ctx, req, apiErr, out)
			}
			if apiErr.Status >= 400 && apiErr.Status < 500 {
				// The request itself is invalid; retrying identical bytes
				// cannot help.
				return err
			}
		}

		lastErr = err
		c.logger.Warn("request failed, will retry",
			"method", req.method, "path", req.path,
			"attempt", attempt+1, "max_attempts", c.maxAttempts, "error", err)
	}

	return fmt.Errorf("giving up after %d attempts: %w", c.maxAttempts, lastErr)
}

// payAndRetry handles a 402: parse the directive header, settle it through
// the wallet signer, and re-issue the request exactly once with the proof
// attached. Any failure along the way surfaces the original 402 so callers
// see a payment problem, not a transport one.
func (c *Client) payAndRetry(ctx context.Context, req call, payErr *APIError, out any) error {
	if c.signer == nil {
		c.logger.Warn("payment required but no wallet signer configured, skipping payment",
			"path", req.path, "message", payErr.Message)
		return payErr
	}

	directive, err := payment.ParseDirective(payErr.directive)
	if err != nil {
		c.logger.Warn("payment required with malformed directive, skipping payment",
			"path", req.path, "directive", payErr.directive, "error", err)
		return payErr
	}

	if amount, err := payment.ParseAmount(directive.Amount); err != nil ||
		payment.FromBaseUnits(amount) > c.payMax {
		c.logger.Warn("payment directive exceeds pay_max, skipping payment",
			"path", req.path, "amount", directive.Amount, "pay_max", c.payMax)
		return payErr
	}

	proof, err := c.signer.Pay(ctx, directive)
	if err != nil {
		c.logger.Error("settling payment directive failed",
			"path", req.path, "amount", directive.Amount, "error", err)
		return fmt.Errorf("settling payment: %w", err)
	}

	header, err := payment.EncodeProofHeader(proof)
	if err != nil {
		return fmt.Errorf("encoding payment proof: %w", err)
	}

	c.logger.Info("retrying request with payment proof",
		"path", req.path, "amount", directive.Amount, "tx", proof.SignedTx)
	return c.doOnce(ctx, req, header, out)
}

// doOnce performs a single HTTP exchange. proofHeader, when set, attaches a
// payment proof to this attempt only.
func (c *Client) doOnce(ctx context.Context, req call, proofHeader string, out any) error {
	if req.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.timeout)
		defer cancel()
	}

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.idempotencyKey != "" {
		httpReq.Header.Set(protocol.HeaderIdempotencyKey, req.idempotencyKey)
	}
	if proofHeader != "" {
		httpReq.Header.Set(protocol.HeaderPaymentProof, proofHeader)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil
	}

	return decodeAPIError(resp)
}

// decodeAPIError turns a non-2xx response into an *APIError, preserving the
// payment directive header for the 402 path.
func decodeAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{
		Status:    resp.StatusCode,
		directive: resp.Header.Get(protocol.HeaderPaymentRequired),
	}
	var envelope protocol.ErrorEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&envelope); err == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
