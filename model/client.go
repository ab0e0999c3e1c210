package model

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http2"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultModel       = "codex-mini-latest"
	defaultMaxRetries  = 4
	defaultIdleTimeout = 300 * time.Second

	// maxSSELineBytes bounds a single stream line; output items carrying
	// large file contents can far exceed bufio's default token size.
	maxSSELineBytes = 10 * 1024 * 1024
)

// ErrIdleTimeout is reported by Stream.Err when no event arrived within
// the configured idle timeout.
var ErrIdleTimeout = errors.New("idle timeout waiting for stream event")

// StreamError wraps a transport or protocol failure on a model stream.
type StreamError struct {
	// Op is "open" for request failures and "read" for failures after
	// the stream was established.
	Op string

	// StatusCode is the HTTP status when the failure was an unexpected
	// response, 0 otherwise.
	StatusCode int

	Err error
}

func (e *StreamError) Error() string {
	return "model stream " + e.Op + ": " + e.Err.Error()
}

func (e *StreamError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a connection or idle timeout, the
// error class eligible for the session's single silent retry.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrIdleTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}

// WireAPI selects the upstream protocol spoken by the client.
type WireAPI int

const (
	// WireResponses speaks the native Responses API with SSE streaming.
	WireResponses WireAPI = iota

	// WireChat adapts a chat-completions endpoint to the same events.
	WireChat
)

// String returns the string representation of a WireAPI.
func (w WireAPI) String() string {
	switch w {
	case WireResponses:
		return "responses"
	case WireChat:
		return "chat"
	default:
		return unknownStr
	}
}

// Config configures a Client. The zero value targets the public OpenAI
// Responses endpoint with default retry and timeout settings.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.openai.com/v1".
	// Endpoint paths ("/responses", "/chat/completions") are appended.
	BaseURL string

	// APIKey is sent as a bearer token. Empty omits the header, which
	// suits local endpoints that skip authentication.
	APIKey string

	// Model names the model used for every request.
	Model string

	// Wire selects the upstream protocol. Zero value is WireResponses.
	Wire WireAPI

	// MaxRetries bounds how many times a failed stream open is retried.
	// 0 means the default (4); negative disables retries.
	MaxRetries int

	// IdleTimeout aborts an established stream when no data arrives
	// within it. 0 means the default (5 minutes).
	IdleTimeout time.Duration

	// HTTPClient overrides the transport. If nil, a client tuned for
	// long-lived streaming responses is used.
	HTTPClient *http.Client

	// Logger receives debug diagnostics for retries and skipped events.
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client opens streaming model turns. It is safe for concurrent use.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	wire        WireAPI
	maxRetries  int
	idleTimeout time.Duration
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient returns a streaming client for the configured endpoint.
func NewClient(cfg Config) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		wire:        cfg.Wire,
		maxRetries:  cfg.MaxRetries,
		idleTimeout: cfg.IdleTimeout,
		httpClient:  cfg.HTTPClient,
		logger:      cfg.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.model == "" {
		c.model = defaultModel
	}
	if c.maxRetries == 0 {
		c.maxRetries = defaultMaxRetries
	} else if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.idleTimeout == 0 {
		c.idleTimeout = defaultIdleTimeout
	}
	if c.httpClient == nil {
		c.httpClient = newStreamingHTTPClient()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Model returns the model name requests are issued for.
func (c *Client) Model() string { return c.model }

// newStreamingHTTPClient builds an http.Client for long-lived SSE
// responses. HTTP/2 keepalive pings are enabled so a silently dead
// connection is detected mid-stream instead of hanging until the idle
// watchdog fires.
func newStreamingHTTPClient() *http.Client {
	tr := &http.Transport{
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if h2, err := http2.ConfigureTransports(tr); err == nil {
		h2.ReadIdleTimeout = 30 * time.Second
		h2.PingTimeout = 15 * time.Second
	}
	return &http.Client{Transport: tr}
}

// Prompt is the input to one model turn.
type Prompt struct {
	// Instructions is the system prompt sent with the request.
	Instructions string

	// Input is the conversation context, oldest first.
	Input []Item

	// Tools lists the functions offered to the model. Nil means
	// DefaultTools().
	Tools []Tool

	// PreviousResponseID chains this turn onto a stored response,
	// letting Input carry only the delta since that response.
	PreviousResponseID string

	// Store asks the server to retain the response so the next turn can
	// reference it by id.
	Store bool
}

type reasoning struct {
	Effort          string `json:"effort"`
	GenerateSummary string `json:"generate_summary,omitempty"`
}

type responsesPayload struct {
	Model              string     `json:"model"`
	Instructions       string     `json:"instructions,omitempty"`
	Input              []Item     `json:"input"`
	Tools              []Tool     `json:"tools"`
	ToolChoice         string     `json:"tool_choice"`
	ParallelToolCalls  bool       `json:"parallel_tool_calls"`
	Reasoning          *reasoning `json:"reasoning,omitempty"`
	PreviousResponseID string     `json:"previous_response_id,omitempty"`
	Store              bool       `json:"store"`
	Stream             bool       `json:"stream"`
}

// Stream opens one model turn and returns its event stream. The caller
// must drain Events() or call Close; an abandoned stream leaks the
// underlying connection until the idle watchdog fires.
func (c *Client) Stream(ctx context.Context, p *Prompt) (*Stream, error) {
	switch c.wire {
	case WireChat:
		return c.streamChat(ctx, p)
	default:
		return c.streamResponses(ctx, p)
	}
}

func (c *Client) streamResponses(ctx context.Context, p *Prompt) (*Stream, error) {
	tools := p.Tools
	if tools == nil {
		tools = DefaultTools()
	}
	payload := responsesPayload{
		Model:              c.model,
		Instructions:       p.Instructions,
		Input:              p.Input,
		Tools:              tools,
		ToolChoice:         "auto",
		ParallelToolCalls:  false,
		Reasoning:          &reasoning{Effort: "high"},
		PreviousResponseID: p.PreviousResponseID,
		Store:              p.Store,
		Stream:             true,
	}
	if payload.Input == nil {
		payload.Input = []Item{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &StreamError{Op: "open", Err: err}
	}

	hdr := http.Header{}
	hdr.Set("OpenAI-Beta", "responses=experimental")
	return c.open(ctx, c.baseURL+"/responses", body, hdr, c.processResponses)
}

// open POSTs the payload, retrying retryable failures, and hands the
// response body to process on its own goroutine.
func (c *Client) open(ctx context.Context, url string, body []byte, extra http.Header, process func(context.Context, io.ReadCloser, *Stream)) (*Stream, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	resp, err := c.dial(reqCtx, url, body, extra)
	if err != nil {
		cancel()
		return nil, err
	}
	s := newStream(cancel)
	go process(reqCtx, resp.Body, s)
	return s, nil
}

func (c *Client) dial(ctx context.Context, url string, body []byte, extra http.Header) (*http.Response, error) {
	var attempt int
	for {
		attempt++

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, &StreamError{Op: "open", Err: err}
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		for k, vs := range extra {
			for _, v := range vs {
				req.Header.Set(k, v)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt > c.maxRetries {
				return nil, &StreamError{Op: "open", Err: err}
			}
			c.logger.Debug("stream open failed, retrying",
				"attempt", attempt,
				"error", err,
			)
			if !sleepCtx(ctx, backoff(attempt)) {
				return nil, ctx.Err()
			}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		status := resp.StatusCode
		retryable := status == http.StatusTooManyRequests || status >= 500
		if !retryable || attempt > c.maxRetries {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			text := strings.TrimSpace(string(msg))
			if !retryable {
				return nil, &StreamError{
					Op:         "open",
					StatusCode: status,
					Err:        fmt.Errorf("unexpected status %s: %s", resp.Status, text),
				}
			}
			return nil, &StreamError{
				Op:         "open",
				StatusCode: status,
				Err:        fmt.Errorf("exceeded retry limit, last status %s: %s", resp.Status, text),
			}
		}

		delay, ok := retryAfter(resp.Header)
		if !ok {
			delay = backoff(attempt)
		}
		resp.Body.Close()
		c.logger.Debug("stream open rejected, retrying",
			"attempt", attempt,
			"status", status,
			"delay", delay,
		)
		if !sleepCtx(ctx, delay) {
			return nil, ctx.Err()
		}
	}
}

// sseEvent is the JSON carried on one Responses API data line.
type sseEvent struct {
	Type     string          `json:"type"`
	Response json.RawMessage `json:"response"`
	Item     json.RawMessage `json:"item"`
}

// processResponses consumes a Responses API SSE body. The terminal
// completed event is surfaced only at end of stream, after the server
// has said everything it is going to say.
func (c *Client) processResponses(ctx context.Context, body io.ReadCloser, s *Stream) {
	defer body.Close()
	defer close(s.events)

	watchdog, idle := s.startWatchdog(c.idleTimeout)
	defer watchdog.Stop()

	var responseID string
	var completed bool

	scanner := newLineScanner(body)
	for scanner.Scan() {
		watchdog.Reset(c.idleTimeout)

		data, ok := cutData(scanner.Text())
		if !ok {
			continue
		}
		var ev sseEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			c.logger.Debug("skipping malformed stream event", "error", err)
			continue
		}

		switch ev.Type {
		case "response.created":
			if !s.send(ctx, StreamEvent{Type: EventCreated}) {
				return
			}
		case "response.output_item.done":
			var item Item
			if err := json.Unmarshal(ev.Item, &item); err != nil {
				c.logger.Debug("skipping unparseable output item", "error", err)
				continue
			}
			if !s.send(ctx, StreamEvent{Type: EventOutputItemDone, Item: &item}) {
				return
			}
		case "response.completed":
			var r struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(ev.Response, &r); err != nil {
				c.logger.Debug("skipping unparseable completed event", "error", err)
				continue
			}
			responseID = r.ID
			completed = true
		default:
			c.logger.Debug("ignoring stream event", "type", ev.Type)
		}
	}

	if err := scanner.Err(); err != nil {
		if idle.Load() {
			s.fail(ErrIdleTimeout)
		} else {
			s.fail(&StreamError{Op: "read", Err: err})
		}
		return
	}
	if !completed {
		s.fail(&StreamError{Op: "read", Err: errors.New("stream closed before response.completed")})
		return
	}
	s.send(ctx, StreamEvent{Type: EventCompleted, ResponseID: responseID})
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineBytes)
	return scanner
}

// cutData extracts the payload of an SSE "data:" line.
func cutData(line string) (string, bool) {
	data, ok := strings.CutPrefix(line, "data:")
	if !ok {
		return "", false
	}
	return strings.TrimSpace(data), true
}

// backoff returns the delay before retry attempt n: 200ms, 400ms,
// 800ms, ... with 20% jitter either way.
func backoff(attempt int) time.Duration {
	base := 200 * time.Millisecond << (attempt - 1)
	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(base) * jitter)
}

// retryAfter parses a Retry-After header given in integer seconds.
func retryAfter(h http.Header) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// sleepCtx pauses for d, returning false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
