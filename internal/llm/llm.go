package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/time/rate"
)

// ErrEmptyCompletion means the model answered with no text.
var ErrEmptyCompletion = errors.New("empty completion")

// #region completer

// Request is one single-turn completion.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Completer turns a prompt into text.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// #endregion

// #region limited

// Limited throttles calls to the wrapped completer.
type Limited struct {
	next    Completer
	limiter *rate.Limiter
}

// NewLimited allows rps calls per second with the given burst. A
// non-positive rps disables the limit.
func NewLimited(next Completer, rps float64, burst int) *Limited {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (l *Limited) Complete(ctx context.Context, req Request) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}
	return l.next.Complete(ctx, req)
}

// #endregion

// #region keys

// APIKey reads an API key from env, falling back to a mounted secret file
// at /run/secrets/<lowercase name>.
func APIKey(env string) (string, error) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		return v, nil
	}
	b, err := os.ReadFile("/run/secrets/" + strings.ToLower(env))
	if err == nil {
		if v := strings.TrimSpace(string(b)); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%s not set", env)
}

// #endregion
