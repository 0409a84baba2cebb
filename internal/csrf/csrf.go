// Package csrf fetches and caches the API's anti-forgery token.
package csrf

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/joescharf/ait/internal/apiclient"
)

// ErrUnavailable wraps every failure to obtain a token. The user-facing fix is
// to start over (refresh the page, re-run the command); nothing is retried.
var ErrUnavailable = errors.New("could not obtain a security token, refresh the page and try again")

// Token is an opaque CSRF value held in memory for the life of the process.
type Token struct {
	Value     string
	FetchedAt time.Time
}

// Doer is the subset of apiclient.Client the provider needs.
type Doer interface {
	Do(ctx context.Context, req apiclient.Request) (*apiclient.Response, error)
}

// Provider lazily fetches one token and reuses it.
type Provider struct {
	api  Doer
	path string

	group singleflight.Group
	mu    sync.RWMutex
	token *Token
}

// NewProvider returns a Provider fetching from path on api.
func NewProvider(api Doer, path string) *Provider {
	return &Provider{api: api, path: path}
}

// Ensure returns the cached token, fetching it on first use. Concurrent first
// callers share a single request.
func (p *Provider) Ensure(ctx context.Context) (string, error) {
	if t := p.Cached(); t != nil {
		return t.Value, nil
	}

	v, err, _ := p.group.Do("csrf", func() (any, error) {
		if t := p.Cached(); t != nil {
			return t.Value, nil
		}
		t, err := p.fetch(ctx)
		if err != nil {
			return "", err
		}
		p.mu.Lock()
		p.token = t
		p.mu.Unlock()
		return t.Value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Cached returns the current token without fetching, or nil.
func (p *Provider) Cached() *Token {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.token == nil {
		return nil
	}
	t := *p.token
	return &t
}

func (p *Provider) fetch(ctx context.Context) (*Token, error) {
	resp, err := p.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: p.path})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, resp.ErrorMessage())
	}

	var body struct {
		CSRFToken string `json:"csrfToken"`
	}
	if err := resp.Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if body.CSRFToken == "" {
		return nil, fmt.Errorf("%w: response has no csrfToken", ErrUnavailable)
	}
	return &Token{Value: body.CSRFToken, FetchedAt: time.Now().UTC()}, nil
}
