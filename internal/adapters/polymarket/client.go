// Package polymarket adapts the core pipeline's ports to the real
// Polymarket CLOB/Gamma REST APIs and its two WebSocket feeds.
package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/pmmaker/internal/domain"
)

const (
	// CLOB order endpoints: rate-limited at 60% of the venue's documented
	// ceiling, mirroring the margin the rest of the pack budgets for.
	orderRatePerSec = 60
	// Gamma /markets.
	gammaRatePerSec = 18
	// CLOB general (sampling-markets, cancel, etc.).
	generalRatePerSec = 300

	// One immediate retry with jittered backoff, capped at 250ms; a second
	// failure becomes OrderFailed rather than retrying further.
	maxRetries    = 1
	maxRetryWait  = 250 * time.Millisecond
	restTimeout   = 5 * time.Second
	rateWaitLimit = 250 * time.Millisecond
)

// client is the shared HTTP transport for all Polymarket adapters:
// rate-limited per endpoint class, with a single jittered retry on
// transient failures.
type client struct {
	http           *http.Client
	clobBase       string
	gammaBase      string
	orderLimiter   *rate.Limiter
	gammaLimiter   *rate.Limiter
	generalLimiter *rate.Limiter
	log            *slog.Logger
}

func newClient(clobBase, gammaBase string, log *slog.Logger) *client {
	if log == nil {
		log = slog.Default()
	}
	return &client{
		http:           &http.Client{Timeout: restTimeout},
		clobBase:       clobBase,
		gammaBase:      gammaBase,
		orderLimiter:   rate.NewLimiter(orderRatePerSec, 20),
		gammaLimiter:   rate.NewLimiter(gammaRatePerSec, 10),
		generalLimiter: rate.NewLimiter(generalRatePerSec, 50),
		log:            log,
	}
}

func (c *client) get(ctx context.Context, limiter *rate.Limiter, url string, headers map[string]string, out any) error {
	return c.doWithRetry(ctx, limiter, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return c.http.Do(req)
	}, out)
}

func (c *client) post(ctx context.Context, limiter *rate.Limiter, url string, headers map[string]string, body, out any) error {
	return c.doWithRetry(ctx, limiter, func() (*http.Response, error) {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return c.http.Do(req)
	}, out)
}

func (c *client) delete(ctx context.Context, limiter *rate.Limiter, url string, headers map[string]string, body, out any) error {
	return c.doWithRetry(ctx, limiter, func() (*http.Response, error) {
		var reader io.Reader
		if body != nil {
			b, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("marshal body: %w", err)
			}
			reader = bytes.NewReader(b)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return c.http.Do(req)
	}, out)
}

// doWithRetry runs fn with one jittered retry on transient failures
// (network errors and 5xx). A 429 is never retried and becomes
// domain.ErrRateLimited; a 401/403 becomes domain.ErrAuthFailed; both
// are recognizable via errors.Is at
// the Executor boundary. The local token bucket is checked before every
// attempt and never blocks past rateWaitLimit: a process already at its
// venue-side rate ceiling fails fast rather than queuing.
func (c *client) doWithRetry(ctx context.Context, limiter *rate.Limiter, fn func() (*http.Response, error), out any) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.waitForToken(ctx, limiter); err != nil {
			return err
		}

		resp, err := fn()
		if err != nil {
			lastErr = err
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			resp.Body.Close()
			c.log.Warn("rate limited by venue", "attempt", attempt+1)
			return domain.ErrRateLimited
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			return domain.ErrAuthFailed
		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("server error %d", resp.StatusCode)
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		case resp.StatusCode >= 400:
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		defer resp.Body.Close()
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// waitForToken blocks up to rateWaitLimit for the shared limiter to admit
// one call. A process already saturating the venue's rate ceiling gets
// domain.ErrRateLimited immediately rather than an unbounded queue.
func (c *client) waitForToken(ctx context.Context, limiter *rate.Limiter) error {
	wctx, cancel := context.WithTimeout(ctx, rateWaitLimit)
	defer cancel()
	if err := limiter.Wait(wctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.ErrRateLimited
	}
	return nil
}

// sleep waits a small jittered backoff before the single retry attempt.
func (c *client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(rand.Int63n(int64(maxRetryWait)))
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

// GatewayConfig holds the venue endpoints and wallet key a Gateway is
// built from.
type GatewayConfig struct {
	CLOBBase   string
	GammaBase  string
	WSBase     string
	PrivateKey string
	EntryGrace time.Duration
}

// Gateway bundles the concrete adapters the rotation supervisor needs,
// all sharing one rate-limited HTTP transport and one L1/L2 signer.
type Gateway struct {
	Resolver *Resolver
	Public   *PublicStreamer
	User     *UserStreamer
	Clob     *ClobClient
}

// NewGateway builds every venue adapter this process needs.
func NewGateway(cfg GatewayConfig, log *slog.Logger) (*Gateway, error) {
	c := newClient(cfg.CLOBBase, cfg.GammaBase, log)
	s, err := newSigner(c, cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("polymarket: new gateway: %w", err)
	}
	return &Gateway{
		Resolver: NewResolver(c, cfg.EntryGrace),
		Public:   NewPublicStreamer(cfg.WSBase, log),
		User:     NewUserStreamer(cfg.WSBase, s, log),
		Clob:     NewClobClient(s),
	}, nil
}
