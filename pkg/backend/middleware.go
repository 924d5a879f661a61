package backend

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// transportFunc lets a plain function serve as an http.RoundTripper.
type transportFunc func(*http.Request) (*http.Response, error)

func (f transportFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

// bearerAuth sends the current session token, if any, with every request.
func bearerAuth(token func() string, next http.RoundTripper) http.RoundTripper {
	return transportFunc(func(req *http.Request) (*http.Response, error) {
		if tok := token(); tok != "" {
			req = req.Clone(req.Context())
			req.Header.Set("Authorization", "Bearer "+tok)
		}
		return next.RoundTrip(req)
	})
}

// logRequests logs every call to the kubelens server at debug level, and
// transport failures at warn.
func logRequests(logger *slog.Logger, next http.RoundTripper) http.RoundTripper {
	return transportFunc(func(req *http.Request) (*http.Response, error) {
		start := time.Now()
		resp, err := next.RoundTrip(req)
		attrs := []any{"method", req.Method, "path", req.URL.Path, "took", time.Since(start).Round(time.Millisecond)}
		if err != nil {
			logger.Warn("kubelens call failed", append(attrs, "error", err)...)
			return resp, err
		}
		logger.Debug("kubelens call", append(attrs, "status", resp.StatusCode)...)
		return resp, nil
	})
}

// retryTransient repeats reads that hit a transport error, a 5xx or a 429, up
// to retries extra times. The wait starts at delay and doubles, except that a
// 429 with Retry-After waits as long as the server asked. Writes are sent once.
func retryTransient(retries int, delay time.Duration, next http.RoundTripper) http.RoundTripper {
	retries = max(retries, 0)
	return transportFunc(func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodGet && req.Method != http.MethodHead {
			return next.RoundTrip(req)
		}

		for attempt := 0; ; attempt++ {
			resp, err := next.RoundTrip(req)
			if attempt == retries || !transient(resp, err) || req.Context().Err() != nil {
				return resp, err
			}

			wait := delay << attempt
			if resp != nil {
				if resp.StatusCode == http.StatusTooManyRequests {
					wait = retryAfterDelay(resp, wait)
				}
				discardBody(resp.Body)
			}

			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-req.Context().Done():
				timer.Stop()
				return nil, req.Context().Err()
			}
		}
	})
}

func transient(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
}

// retryAfterDelay reads a Retry-After header given in seconds.
func retryAfterDelay(resp *http.Response, fallback time.Duration) time.Duration {
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

// discardBody empties and closes body so the connection can be reused.
func discardBody(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, body)
	body.Close()
}
