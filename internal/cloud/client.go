package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jkoay/godaikin-bridge/internal/auth"
	"github.com/jkoay/godaikin-bridge/internal/device"
	"github.com/jkoay/godaikin-bridge/internal/rate"
)

const (
	defaultBaseURL = "https://c7zkf7l933.execute-api.ap-southeast-1.amazonaws.com/prod/"

	endpointHomepage     = "gethomepageinfowithsubscription"
	endpointDeviceState  = "publishdevicestate"
	defaultRequestsPerSc = 5
	defaultBurst         = 10
)

// ErrUnauthorized is returned when the vendor API rejects the bearer token.
// The session has been invalidated; the next call re-authenticates.
var ErrUnauthorized = errors.New("cloud api unauthorized")

// API is the narrow capability the sync and command layers consume.
type API interface {
	ListUnits(ctx context.Context) ([]Unit, error)
	UnitState(ctx context.Context, ref UnitRef) (ShadowState, error)
	SendCommand(ctx context.Context, ref UnitRef, change device.DesiredChange) error
}

// Config configures the cloud client.
type Config struct {
	BaseURL           string
	Username          string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Client talks to the GO DAIKIN REST endpoints. Stateless apart from the
// pacing guard on its transport; tokens come from the session manager per call.
type Client struct {
	baseURL    string
	username   string
	sessions   *auth.Manager
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg Config, sessions *auth.Manager, logger *zap.Logger) (*Client, error) {
	if cfg.Username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSc
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}

	return &Client{
		baseURL:    baseURL,
		username:   cfg.Username,
		sessions:   sessions,
		httpClient: rate.Wrap(&http.Client{Timeout: timeout}, rate.NewGuard(rps, burst)),
		logger:     logger,
	}, nil
}

type homepageResponse struct {
	Data []Unit `json:"data"`
}

// ListUnits returns every unit registered to the account.
func (c *Client) ListUnits(ctx context.Context) ([]Unit, error) {
	payload := map[string]any{
		"requestData": map[string]any{
			"type":  1,
			"value": c.username,
		},
	}

	var out homepageResponse
	if err := c.post(ctx, endpointHomepage, payload, &out); err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	return out.Data, nil
}

// UnitState fetches the current device shadow for one unit.
func (c *Client) UnitState(ctx context.Context, ref UnitRef) (ShadowState, error) {
	payload := map[string]any{
		"requestData": map[string]any{
			"type":      1,
			"username":  c.username,
			"thingName": ref.ThingName,
			"key":       ref.Key,
		},
	}

	var out ShadowState
	if err := c.post(ctx, endpointDeviceState, payload, &out); err != nil {
		return ShadowState{}, fmt.Errorf("unit state %s: %w", ref.ThingName, err)
	}
	return out, nil
}

// SendCommand publishes the desired shadow settings for one unit.
func (c *Client) SendCommand(ctx context.Context, ref UnitRef, change device.DesiredChange) error {
	desired := EncodeDesired(change)
	if len(desired) == 0 {
		return nil
	}

	payload := map[string]any{
		"requestData": map[string]any{
			"type":      3,
			"username":  c.username,
			"thingName": ref.ThingName,
			"key":       ref.Key,
			"payload": map[string]any{
				"state": map[string]any{"desired": desired},
			},
		},
	}

	c.logger.Debug("publishing desired state",
		zap.String("thing", ref.ThingName), zap.Any("desired", desired))

	if err := c.post(ctx, endpointDeviceState, payload, nil); err != nil {
		return fmt.Errorf("send command %s: %w", ref.ThingName, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload, out any) error {
	session, err := c.sessions.EnsureValid(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", session.Token())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.sessions.Invalidate()
		return fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))}
	case resp.StatusCode >= 400:
		return fmt.Errorf("api error %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// TransportError marks connectivity and server-side failures that are safe
// to retry with backoff.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("cloud api transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, auth.ErrProviderUnavailable)
}
