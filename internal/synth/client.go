package synth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/maauso/audiobook-forge/internal/failure"
	"github.com/maauso/audiobook-forge/internal/media"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultTokenTTL = 9 * time.Minute
	userAgent       = "audiobook-forge"
	maxErrorBody    = 512
)

// AzureClient is the Synthesizer backed by the Azure Cognitive Services speech API.
type AzureClient struct {
	region         string
	key            string
	tokenEndpoints []string
	endpoint       string
	httpClient     *http.Client
	timeout        time.Duration
	limiter        *rate.Limiter
	tokenTTL       time.Duration
	now            func() time.Time
	logger         *slog.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// ClientOption is a function that configures an AzureClient.
type ClientOption func(*AzureClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(ac *AzureClient) {
		ac.httpClient = c
	}
}

// WithTokenEndpoints overrides the candidate token endpoints, tried in order.
func WithTokenEndpoints(urls ...string) ClientOption {
	return func(ac *AzureClient) {
		if len(urls) > 0 {
			ac.tokenEndpoints = urls
		}
	}
}

// WithEndpoint overrides the synthesis endpoint.
func WithEndpoint(url string) ClientOption {
	return func(ac *AzureClient) {
		if url != "" {
			ac.endpoint = url
		}
	}
}

// WithTimeout sets the upper bound for one synthesis call, token issuing included.
func WithTimeout(d time.Duration) ClientOption {
	return func(ac *AzureClient) {
		if d > 0 {
			ac.timeout = d
		}
	}
}

// WithRateLimit caps outbound requests per second. Zero or negative disables the limit.
func WithRateLimit(perSecond float64) ClientOption {
	return func(ac *AzureClient) {
		if perSecond <= 0 {
			ac.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		ac.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithClock sets the time source used for token expiry.
func WithClock(now func() time.Time) ClientOption {
	return func(ac *AzureClient) {
		if now != nil {
			ac.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(ac *AzureClient) {
		if l != nil {
			ac.logger = l
		}
	}
}

// NewAzureClient creates a client for the given region and subscription key.
func NewAzureClient(region, key string, opts ...ClientOption) (*AzureClient, error) {
	if region == "" {
		return nil, ErrRegionRequired
	}
	if key == "" {
		return nil, ErrKeyRequired
	}

	c := &AzureClient{
		region: region,
		key:    key,
		tokenEndpoints: []string{
			fmt.Sprintf("https://%s.api.cognitive.microsoft.com/sts/v1.0/issueToken", region),
			fmt.Sprintf("https://%s.sts.speech.microsoft.com/cognitiveservices/v1/issueToken", region),
		},
		endpoint:   fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", region),
		httpClient: &http.Client{},
		timeout:    defaultTimeout,
		limiter:    rate.NewLimiter(rate.Limit(5), 5),
		tokenTTL:   defaultTokenTTL,
		now:        time.Now,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "synth"), slog.String("region", region))

	return c, nil
}

// Synthesize renders text with voice. It makes one attempt and classifies
// failures as configuration, provider, integrity or cancelled.
func (c *AzureClient) Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error) {
	const op = "synth.synthesize"

	if voice.ID == "" {
		return nil, failure.Configuration(op, ErrVoiceRequired)
	}
	if strings.TrimSpace(text) == "" {
		return nil, failure.Validation(op, ErrEmptyText)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(callCtx); err != nil {
		return nil, c.classifyTransport(ctx, op, err)
	}

	token, err := c.accessToken(ctx, callCtx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint, strings.NewReader(BuildSSML(text, voice)))
	if err != nil {
		return nil, failure.Provider(op, 0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", OutputFormat)
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classifyTransport(ctx, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.classifyTransport(ctx, op, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusUnauthorized {
			c.invalidateToken()
		}
		return nil, failure.Provider(op, resp.StatusCode, &statusError{URL: c.endpoint, Status: resp.StatusCode, Body: truncate(body)})
	}

	if len(body) == 0 {
		return nil, failure.Integrity(op, fmt.Errorf("%w: empty body", ErrBadOutput))
	}
	if err := media.ValidateWAVHeader(body); err != nil {
		return nil, failure.Integrity(op, fmt.Errorf("%w: %w", ErrBadOutput, err))
	}

	c.logger.Debug("speech synthesized",
		slog.String("voice", voice.ID),
		slog.Int("chars", len(text)),
		slog.Int("bytes", len(body)),
		slog.Duration("duration", time.Since(start)),
	)
	return body, nil
}

// accessToken returns a cached token or issues a new one, trying each
// candidate endpoint in order.
func (c *AzureClient) accessToken(parent, ctx context.Context) (string, error) {
	const op = "synth.token"

	c.mu.Lock()
	if c.token != "" && c.now().Before(c.tokenExpiry) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	var lastErr error
	for _, endpoint := range c.tokenEndpoints {
		token, err := c.issueToken(ctx, endpoint)
		if err == nil {
			c.mu.Lock()
			c.token = token
			c.tokenExpiry = c.now().Add(c.tokenTTL)
			c.mu.Unlock()
			return token, nil
		}
		if parent.Err() != nil {
			return "", failure.Cancelled(op, parent.Err())
		}
		c.logger.Warn("token endpoint failed",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	status := 0
	var se *statusError
	if errors.As(lastErr, &se) {
		status = se.Status
	}
	return "", failure.Provider(op, status, fmt.Errorf("%w: last failure: %w", ErrNoAuth, lastErr))
}

func (c *AzureClient) issueToken(ctx context.Context, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.key)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("POST %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &statusError{URL: endpoint, Status: resp.StatusCode, Body: truncate(body)}
	}

	token := strings.TrimSpace(string(body))
	if token == "" {
		return "", fmt.Errorf("POST %s: empty token", endpoint)
	}
	return token, nil
}

func (c *AzureClient) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// classifyTransport maps a transport error to cancelled when the caller gave
// up, and to a retryable provider failure otherwise (timeouts included).
func (c *AzureClient) classifyTransport(parent context.Context, op string, err error) error {
	if parent.Err() != nil {
		return failure.Cancelled(op, parent.Err())
	}
	return failure.Provider(op, 0, err)
}

// statusError is a non-2xx provider response.
type statusError struct {
	URL    string
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: POST %s: status %d: %s", ErrRequestFailed.Error(), e.URL, e.Status, e.Body)
}

func (e *statusError) Unwrap() error {
	return ErrRequestFailed
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}
