// Package notify tells a downstream consumer that a parsed report has been
// stored. Each notification is a signed GET to a configured callback URL
// carrying the bucket and object key as query parameters, retried with
// backoff on transport errors and 5xx/429 responses.
package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Header names set on every callback request.
const (
	HeaderSignature = "X-Callback-Signature"
	HeaderTimestamp = "X-Callback-Timestamp"
	HeaderDelivery  = "X-Callback-ID"
)

var (
	ErrNoCallbackURL = errors.New("notify: callback url is required")
	ErrDelivery      = errors.New("notify: callback delivery failed")
)

// Notification identifies a stored report.
type Notification struct {
	Bucket    string
	FileKey   string
	MessageID string
}

// Query renders the notification as callback query parameters.
func (n Notification) Query() url.Values {
	q := url.Values{}
	q.Set("bucket", n.Bucket)
	q.Set("fileKey", n.FileKey)
	if n.MessageID != "" {
		q.Set("messageId", n.MessageID)
	}
	return q
}

// Delivery records the outcome of one Notify call.
type Delivery struct {
	ID         string
	URL        string
	Attempts   int
	StatusCode int
	Duration   time.Duration
	Error      string
}

// ---------------------------------------------------------------------------
// Signature helpers
// ---------------------------------------------------------------------------

// SignPayload computes the hex-encoded HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches payload under secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// canonical is what gets signed: the timestamp and the encoded query, which
// url.Values.Encode sorts by key.
func canonical(timestamp, rawQuery string) []byte {
	return []byte(timestamp + "." + rawQuery)
}

// Verify checks a received callback request against secret.
func Verify(r *http.Request, secret string) bool {
	sig := strings.TrimPrefix(r.Header.Get(HeaderSignature), "sha256=")
	ts := r.Header.Get(HeaderTimestamp)
	if sig == "" || ts == "" {
		return false
	}
	return VerifySignature(canonical(ts, r.URL.Query().Encode()), secret, sig)
}

// ---------------------------------------------------------------------------
// Notifier
// ---------------------------------------------------------------------------

// Option configures a Notifier.
type Option func(*Notifier)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) { n.httpClient = c }
}

// WithSecret enables HMAC signing of callbacks.
func WithSecret(secret string) Option {
	return func(n *Notifier) { n.secret = secret }
}

// WithMaxRetries sets how many times a failed delivery is retried.
func WithMaxRetries(retries int) Option {
	return func(n *Notifier) {
		if retries >= 0 {
			n.maxRetries = retries
		}
	}
}

// WithRetryDelays sets the wait before each retry; the last delay repeats.
func WithRetryDelays(delays ...time.Duration) Option {
	return func(n *Notifier) { n.retryDelays = delays }
}

// Notifier sends report notifications to one callback URL.
type Notifier struct {
	callbackURL *url.URL
	secret      string
	httpClient  *http.Client
	maxRetries  int
	retryDelays []time.Duration
	now         func() time.Time
}

// New validates callbackURL and returns a Notifier.
func New(callbackURL string, opts ...Option) (*Notifier, error) {
	u, err := validateCallbackURL(callbackURL)
	if err != nil {
		return nil, err
	}
	n := &Notifier{
		callbackURL: u,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		maxRetries:  3,
		retryDelays: []time.Duration{time.Second, 5 * time.Second, 30 * time.Second},
		now:         time.Now,
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

func validateCallbackURL(rawURL string) (*url.URL, error) {
	if rawURL == "" {
		return nil, ErrNoCallbackURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("notify: invalid callback url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("notify: callback url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("notify: callback url has no host")
	}
	return u, nil
}

// Notify delivers n, retrying retryable failures. The returned Delivery is
// non-nil even when err is not.
func (nt *Notifier) Notify(ctx context.Context, n Notification) (*Delivery, error) {
	target := *nt.callbackURL
	q := target.Query()
	for k, v := range n.Query() {
		q[k] = v
	}
	target.RawQuery = q.Encode()

	d := &Delivery{ID: uuid.NewString(), URL: target.String()}
	start := time.Now()
	defer func() { d.Duration = time.Since(start) }()

	for {
		d.Attempts++
		status, err := nt.send(ctx, &target, d.ID)
		d.StatusCode = status
		if err == nil {
			d.Error = ""
			return d, nil
		}
		d.Error = err.Error()

		if !retryable(status) || d.Attempts > nt.maxRetries {
			return d, fmt.Errorf("%w after %d attempt(s): %v", ErrDelivery, d.Attempts, err)
		}
		select {
		case <-ctx.Done():
			return d, fmt.Errorf("%w: %v", ErrDelivery, ctx.Err())
		case <-time.After(nt.delay(d.Attempts)):
		}
	}
}

func (nt *Notifier) delay(attempt int) time.Duration {
	if len(nt.retryDelays) == 0 {
		return 0
	}
	if attempt > len(nt.retryDelays) {
		return nt.retryDelays[len(nt.retryDelays)-1]
	}
	return nt.retryDelays[attempt-1]
}

// send performs one GET. A zero status means the request never got a response.
func (nt *Notifier) send(ctx context.Context, target *url.URL, deliveryID string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return -1, err
	}
	ts := strconv.FormatInt(nt.now().Unix(), 10)
	req.Header.Set(HeaderDelivery, deliveryID)
	req.Header.Set(HeaderTimestamp, ts)
	if nt.secret != "" {
		req.Header.Set(HeaderSignature, "sha256="+SignPayload(canonical(ts, target.RawQuery), nt.secret))
	}

	resp, err := nt.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return -1, ctx.Err()
		}
		return 0, err
	}
	defer resp.Body.Close()
	// Drain a little so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, nil
	}
	return resp.StatusCode, fmt.Errorf("non-2xx response: %d", resp.StatusCode)
}

func retryable(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status >= 500
}
