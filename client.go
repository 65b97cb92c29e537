package lbclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/little-brother/lbclient/internal/events"
	"github.com/little-brother/lbclient/models"
	"github.com/little-brother/lbclient/session"
	"github.com/little-brother/lbclient/transport"
	"github.com/little-brother/lbclient/unpickle"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 8 << 20

// Client talks to one LittleBrother server on behalf of one session. It is
// safe for concurrent use. Build it with New().Build().
type Client struct {
	cfg      Config
	baseURL  *url.URL
	logger   *slog.Logger
	metrics  *Metrics
	events   *events.Dispatcher
	session  *session.Manager
	pipeline *transport.Pipeline
	http     *http.Client

	aboutMu sync.Mutex
	about   map[string]any

	closed atomic.Bool
}

func defaultLogger() *slog.Logger {
	return slog.Default()
}

// Restore loads the persisted session for the configured profile.
func (c *Client) Restore(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.session.Restore(ctx)
}

// Close waits for pending login navigations, then stops the event
// dispatcher after delivering what it buffered.
func (c *Client) Close() error {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.pipeline.Settle()
	c.events.Close()
	return nil
}

// Settle blocks until every login navigation requested so far has reached
// the Navigator and the Navigator has returned. Request errors are returned
// before navigation happens; callers that must observe the navigation, such
// as a CLI about to exit, call Settle first.
func (c *Client) Settle() {
	if c == nil || c.pipeline == nil {
		return
	}
	c.pipeline.Settle()
	c.events.WaitLogins()
}

// Config returns the configuration the client was built with.
func (c *Client) Config() Config {
	return cloneConfig(c.cfg)
}

// Session returns the session owner, for callers that need its snapshot or
// token expiry.
func (c *Client) Session() *session.Manager {
	return c.session
}

// Metrics returns the live metrics registry.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// MetricsSnapshot satisfies the exporters' source interface.
func (c *Client) MetricsSnapshot() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// EventsDropped counts events lost to a full dispatcher buffer.
func (c *Client) EventsDropped() uint64 {
	return c.events.Dropped()
}

// EventsDelivered counts events handed to the event sink.
func (c *Client) EventsDelivered() uint64 {
	return c.events.Delivered()
}

// LoginNavigations counts completed Navigator calls.
func (c *Client) LoginNavigations() uint64 {
	return c.events.Navigations()
}

// PipelineState reports whether a credential refresh is in flight.
func (c *Client) PipelineState() transport.State {
	return c.pipeline.State()
}

// RefreshGeneration counts successful refreshes since Build.
func (c *Client) RefreshGeneration() uint64 {
	return c.pipeline.Generation()
}

func (c *Client) ready() error {
	if c == nil || c.http == nil || c.closed.Load() {
		return ErrClientNotReady
	}
	return nil
}

func (c *Client) emit(ctx context.Context, e Event) {
	c.events.Emit(ctx, e)
}

// endpoint joins the base URL, a relative path and escaped path segments.
func (c *Client) endpoint(path string, segments ...string) string {
	var b strings.Builder
	b.WriteString(c.baseURL.String())
	b.WriteString(path)
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

// newRequest builds a JSON request. A nil body sends none.
func (c *Client) newRequest(ctx context.Context, method, target string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding body: %v", ErrInvalidArgument, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.API.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.API.UserAgent)
	}
	if id := requestIDFromContext(ctx); id != "" {
		req.Header.Set(transport.RequestIDHeader, id)
	}
	return req, nil
}

// send performs one call and returns the response body. Non-2xx statuses
// become *StatusError.
func (c *Client) send(ctx context.Context, method, target string, body any) ([]byte, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, method, target, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%s %s: reading body: %w", method, target, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Method:     method,
			URL:        target,
			Body:       string(data),
		}
	}
	return data, nil
}

func (c *Client) decodeOptions() []unpickle.Option {
	return []unpickle.Option{
		unpickle.WithLogger(c.logger),
		unpickle.WithMissHook(func(string) { c.metrics.Inc(MetricDecodeMiss) }),
	}
}

func parseJSON(data []byte) (any, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedPayload, err)
	}
	return raw, nil
}

// decodeObject decodes a tagged object into *T. Untagged JSON objects are
// accepted too and filled through T's json tags.
func decodeObject[T any](c *Client, data []byte) (*T, error) {
	raw, err := parseJSON(data)
	if err != nil {
		return nil, err
	}

	switch v := unpickle.Decode(raw, models.Registry(), c.decodeOptions()...).(type) {
	case *T:
		return v, nil
	case map[string]any:
		out := new(T)
		if err := json.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedPayload, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: got %T, want %T", ErrUnexpectedPayload, v, (*T)(nil))
	}
}

// decodeList decodes an array of tagged objects. Elements with unknown tags
// are skipped.
func decodeList[T any](c *Client, data []byte) ([]*T, error) {
	raw, err := parseJSON(data)
	if err != nil {
		return nil, err
	}

	out, err := unpickle.SliceOf[*T](unpickle.Decode(raw, models.Registry(), c.decodeOptions()...))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnexpectedPayload, err)
	}
	return out, nil
}

func getObject[T any](ctx context.Context, c *Client, target string) (*T, error) {
	data, err := c.send(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	return decodeObject[T](c, data)
}

func getList[T any](ctx context.Context, c *Client, target string) ([]*T, error) {
	data, err := c.send(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	return decodeList[T](c, data)
}
