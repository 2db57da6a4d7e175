// Package rangefetch implements the Range HTTP fobj collaborator contract
// from spec.md section 4.7: given a URL, it exposes a pngenv.RangeFunc that
// issues byte-range GETs and validates the server's response against the
// contract a chain.Reader depends on.
package rangefetch

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/TheYoke/pngbin/internal/config"
	"github.com/TheYoke/pngbin/pngenv"
	"github.com/TheYoke/pngbin/pngerr"
	"github.com/avast/retry-go"
	"github.com/sirupsen/logrus"
)

const contentType = "image/png"

// Fetcher issues byte-range GETs against one remote PNG URL.
type Fetcher struct {
	url       string
	client    *http.Client
	attempts  uint
	userAgent string
	log       *logrus.Entry
}

// New constructs a Fetcher for url. attempts is the total number of tries
// (including the first) before a request fails NetRead; it defaults to 3
// if 0. A nil client means http.DefaultClient; the client's own Timeout,
// if set, applies per HTTP request.
func New(url string, client *http.Client, attempts uint, userAgent string) *Fetcher {
	if attempts == 0 {
		attempts = 3
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{
		url:       url,
		client:    client,
		attempts:  attempts,
		userAgent: userAgent,
		log:       logrus.WithField("component", "rangefetch.Fetcher"),
	}
}

// NewFromConfig constructs a Fetcher for url using the timeout, attempt
// budget, and User-Agent loaded by internal/config, rather than callers
// wiring each of those through by hand.
func NewFromConfig(url string, cfg config.Config) *Fetcher {
	client := &http.Client{Timeout: cfg.HTTPTimeout}
	return New(url, client, cfg.RangeFetchAttempts, cfg.UserAgent)
}

// RangeFunc adapts Fetch to the pngenv.RangeFunc signature.
func (f *Fetcher) RangeFunc() pngenv.RangeFunc { return f.Fetch }

// Fetch issues GET with Range: bytes=first-last, retrying on transport
// errors or a server response that violates the range contract (status
// 206, Content-Type image/png, Content-Length matching the requested
// span), up to f.attempts total tries. The returned reader is fully
// buffered in memory, so it survives past the retry loop regardless of how
// many attempts preceded the one that succeeded.
func (f *Fetcher) Fetch(first, last int64) (io.Reader, error) {
	want := last - first + 1
	if want <= 0 {
		return nil, pngerr.New("rangefetch.Fetch", pngerr.InvalidArgument)
	}

	var body []byte
	err := retry.Do(
		func() error {
			b, err := f.doRequest(first, last, want)
			if err != nil {
				return err
			}
			body = b
			return nil
		},
		retry.Attempts(f.attempts),
		retry.Delay(1*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			f.log.WithFields(logrus.Fields{"attempt": n + 1, "url": f.url}).Warn("retrying range fetch: " + err.Error())
		}),
	)
	if err != nil {
		return nil, pngerr.Wrap(err, "rangefetch.Fetch", pngerr.NetRead)
	}
	return bytes.NewReader(body), nil
}

func (f *Fetcher) doRequest(first, last, want int64) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", first, last))
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		return nil, fmt.Errorf("rangefetch: status %d, want 206", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != contentType {
		return nil, fmt.Errorf("rangefetch: content-type %q, want %q", ct, contentType)
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil || n != want {
			return nil, fmt.Errorf("rangefetch: content-length %q, want %d", cl, want)
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if int64(len(body)) != want {
		return nil, fmt.Errorf("rangefetch: body length %d, want %d", len(body), want)
	}
	return body, nil
}
