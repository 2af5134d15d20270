package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/iliyamo/refactor-gateway/internal/apperror"
	"github.com/iliyamo/refactor-gateway/internal/config"
	"github.com/iliyamo/refactor-gateway/internal/model"
	"github.com/iliyamo/refactor-gateway/internal/policy"
)

// scriptedProvider replays one script per attempt.
type scriptedProvider struct {
	mu      sync.Mutex
	scripts []attemptScript
	keys    []string
	models  []string
}

type attemptScript struct {
	chunks []string
	err    error
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Stream(_ context.Context, req Request, cb StreamCallback) error {
	p.mu.Lock()
	i := len(p.keys)
	p.keys = append(p.keys, req.APIKey)
	p.models = append(p.models, req.Model)
	p.mu.Unlock()

	s := p.scripts[len(p.scripts)-1]
	if i < len(p.scripts) {
		s = p.scripts[i]
	}
	for _, c := range s.chunks {
		if err := cb(c); err != nil {
			return err
		}
	}
	return s.err
}

func (p *scriptedProvider) attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

func newTestDispatcher(p Provider, serverKeys ...string) *Dispatcher {
	providers := map[string]Provider{
		config.ProviderAggregator: p,
		config.ProviderGoogle:     p,
	}
	keys := map[string][]string{
		config.ProviderAggregator: serverKeys,
		config.ProviderGoogle:     {"server-google"},
	}
	return NewDispatcher(config.DefaultCatalog(), providers, keys, Options{}, zerolog.Nop())
}

var errRateLimited = errors.New("429 Too Many Requests: rate limit exceeded")

func TestInvokeStreamsAndAccumulates(t *testing.T) {
	p := &scriptedProvider{scripts: []attemptScript{{chunks: []string{"{\"fi", "les\":", "[]}"}}}}
	d := newTestDispatcher(p)

	var forwarded []string
	text, err := d.Invoke(context.Background(), Invocation{
		Model:      "deepseek-r1",
		Plan:       model.PlanFree,
		CallerKeys: []string{"caller-1"},
		Prompt:     "p",
		OnChunk:    func(c string) error { forwarded = append(forwarded, c); return nil },
	})

	require.NoError(t, err)
	assert.Equal(t, `{"files":[]}`, text)
	assert.Equal(t, []string{"{\"fi", "les\":", "[]}"}, forwarded)
	assert.Equal(t, []string{"caller-1"}, p.keys)
	assert.Equal(t, []string{"deepseek/deepseek-r1:free"}, p.models)
}

func TestInvokeFailoverExhaustionMakesExactlyThreeAttempts(t *testing.T) {
	p := &scriptedProvider{scripts: []attemptScript{{err: errRateLimited}}}
	d := newTestDispatcher(p)

	var retries []int
	_, err := d.Invoke(context.Background(), Invocation{
		Model:      "qwen-coder",
		Plan:       model.PlanFree,
		CallerKeys: []string{"k1", "k2", "k3"},
		OnRetry:    func(attempt, total int, err error) { retries = append(retries, attempt) },
	})

	require.Error(t, err)
	assert.Equal(t, 3, p.attempts())
	assert.Equal(t, []string{"k1", "k2", "k3"}, p.keys)
	assert.Equal(t, []int{1, 2}, retries)
	assert.True(t, apperror.IsKind(err, apperror.KindUpstreamTransient))
	assert.ErrorIs(t, err, errRateLimited)
	assert.Contains(t, err.Error(), "rate limit exceeded")
}

func TestInvokeNonRateLimitFailsImmediately(t *testing.T) {
	p := &scriptedProvider{scripts: []attemptScript{{err: errors.New("400 invalid model")}}}
	d := newTestDispatcher(p)

	_, err := d.Invoke(context.Background(), Invocation{
		Model:      "qwen-coder",
		Plan:       model.PlanFree,
		CallerKeys: []string{"k1", "k2", "k3"},
	})

	require.Error(t, err)
	assert.Equal(t, 1, p.attempts())
	assert.True(t, apperror.IsKind(err, apperror.KindUpstreamFatal))
}

func TestInvokeFatalErrorMentioningDigitsIsNotRetried(t *testing.T) {
	fatal := errors.New(`400 Bad Request {"message":"This endpoint's maximum context length is 164290 tokens"}`)
	p := &scriptedProvider{scripts: []attemptScript{{err: fatal}}}
	d := newTestDispatcher(p)

	_, err := d.Invoke(context.Background(), Invocation{
		Model:      "deepseek-r1",
		Plan:       model.PlanFree,
		CallerKeys: []string{"k1", "k2", "k3"},
	})

	require.Error(t, err)
	assert.False(t, IsRateLimit(fatal))
	assert.Equal(t, 1, p.attempts())
	assert.True(t, apperror.IsKind(err, apperror.KindUpstreamFatal))
}

func TestInvokeDiscardsPartialOutputFromFailedAttempt(t *testing.T) {
	p := &scriptedProvider{scripts: []attemptScript{
		{chunks: []string{"partial garbage"}, err: errRateLimited},
		{chunks: []string{"{\"files\":", "[]}"}},
	}}
	d := newTestDispatcher(p)

	text, err := d.Invoke(context.Background(), Invocation{
		Model:      "llama-3.3-70b",
		Plan:       model.PlanFree,
		CallerKeys: []string{"k1", "k2"},
	})

	require.NoError(t, err)
	assert.Equal(t, `{"files":[]}`, text)
	assert.False(t, strings.Contains(text, "partial"))
}

func TestInvokeNonFailoverModelUsesSingleKey(t *testing.T) {
	p := &scriptedProvider{scripts: []attemptScript{{err: errRateLimited}}}
	d := newTestDispatcher(p)

	_, err := d.Invoke(context.Background(), Invocation{Model: "gemini-2.5-pro", Plan: model.PlanPro})

	require.Error(t, err)
	assert.Equal(t, 1, p.attempts())
	assert.Equal(t, []string{"server-google"}, p.keys)
}

func TestInvokeUnknownModelNamesSupportedSet(t *testing.T) {
	d := newTestDispatcher(&scriptedProvider{})
	_, err := d.Invoke(context.Background(), Invocation{Model: "nope", Plan: model.PlanPro})

	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))
	assert.Contains(t, err.Error(), "gemini-2.5-pro")
}

func TestInvokeRechecksPlan(t *testing.T) {
	p := &scriptedProvider{scripts: []attemptScript{{chunks: []string{"x"}}}}
	d := newTestDispatcher(p)

	_, err := d.Invoke(context.Background(), Invocation{Model: "gemini-2.5-pro", Plan: model.PlanFree, CallerKeys: []string{"k"}})
	assert.True(t, apperror.IsKind(err, apperror.KindPolicy))

	_, err = d.Invoke(context.Background(), Invocation{Model: "deepseek-r1", Plan: model.PlanFree})
	assert.True(t, apperror.IsKind(err, apperror.KindPolicy))
	assert.Equal(t, 0, p.attempts())
}

func TestInvokeProUsesServerPoolNeverCallerKeys(t *testing.T) {
	p := &scriptedProvider{scripts: []attemptScript{{chunks: []string{"ok"}}}}
	d := newTestDispatcher(p, "pool-1", "pool-2")

	_, err := d.Invoke(context.Background(), Invocation{Model: "deepseek-r1", Plan: model.PlanPro, CallerKeys: []string{"caller"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"pool-1"}, p.keys)
}

func TestInvokeHonorsPolicyKeySource(t *testing.T) {
	p := &scriptedProvider{scripts: []attemptScript{{chunks: []string{"ok"}}}}
	d := newTestDispatcher(p, "pool-1")

	_, err := d.Invoke(context.Background(), Invocation{
		Model:      "deepseek-r1",
		Plan:       model.PlanPro,
		CallerKeys: []string{"caller"},
		Keys:       policy.KeysServer,
	})
	require.NoError(t, err)
	_, err = d.Invoke(context.Background(), Invocation{
		Model:      "deepseek-r1",
		Plan:       model.PlanFree,
		CallerKeys: []string{"caller"},
		Keys:       policy.KeysCaller,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"pool-1", "caller"}, p.keys)
}

func TestInvokeRejectsServerKeysForFreePlan(t *testing.T) {
	p := &scriptedProvider{scripts: []attemptScript{{chunks: []string{"ok"}}}}
	d := newTestDispatcher(p, "pool-1")

	_, err := d.Invoke(context.Background(), Invocation{
		Model:      "deepseek-r1",
		Plan:       model.PlanFree,
		CallerKeys: []string{"caller"},
		Keys:       policy.KeysServer,
	})
	assert.True(t, apperror.IsKind(err, apperror.KindPolicy))
	assert.Equal(t, 0, p.attempts())
}

func TestInvokeNoKeysConfigured(t *testing.T) {
	p := &scriptedProvider{}
	d := newTestDispatcher(p)

	_, err := d.Invoke(context.Background(), Invocation{Model: "deepseek-r1", Plan: model.PlanPro})
	assert.True(t, apperror.IsKind(err, apperror.KindUpstreamFatal))
}

type blockingProvider struct{}

func (blockingProvider) Name() string { return "blocking" }

func (blockingProvider) Stream(ctx context.Context, _ Request, _ StreamCallback) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestInvokePerAttemptTimeout(t *testing.T) {
	d := NewDispatcher(config.DefaultCatalog(),
		map[string]Provider{config.ProviderGoogle: blockingProvider{}},
		map[string][]string{config.ProviderGoogle: {"k"}},
		Options{Timeout: 20 * time.Millisecond}, zerolog.Nop())

	start := time.Now()
	_, err := d.Invoke(context.Background(), Invocation{Model: "gemini-2.5-pro", Plan: model.PlanPro})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInvokeCallerCancellation(t *testing.T) {
	d := NewDispatcher(config.DefaultCatalog(),
		map[string]Provider{config.ProviderGoogle: blockingProvider{}},
		map[string][]string{config.ProviderGoogle: {"k"}},
		Options{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := d.Invoke(ctx, Invocation{Model: "gemini-2.5-pro", Plan: model.PlanPro})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRateLimit(t *testing.T) {
	assert.True(t, IsRateLimit(errors.New("Rate limit reached for requests")))
	assert.True(t, IsRateLimit(errors.New("rpc error: code = ResourceExhausted desc = Quota exceeded")))
	assert.True(t, IsRateLimit(errors.New("too many requests")))
	assert.True(t, IsRateLimit(&openai.Error{StatusCode: http.StatusTooManyRequests}))
	assert.True(t, IsRateLimit(&googleapi.Error{Code: http.StatusTooManyRequests}))
	assert.False(t, IsRateLimit(&googleapi.Error{Code: http.StatusBadRequest, Message: "prompt has 4290 tokens"}))
	assert.False(t, IsRateLimit(errors.New("invalid api key")))
	assert.False(t, IsRateLimit(nil))
}

func TestTee(t *testing.T) {
	var acc strings.Builder
	var got []string
	cb := Tee(&acc, func(c string) error { got = append(got, c); return nil })
	require.NoError(t, cb("a"))
	require.NoError(t, cb("b"))
	assert.Equal(t, "ab", acc.String())
	assert.Equal(t, []string{"a", "b"}, got)

	boom := errors.New("client gone")
	cb = Tee(&acc, func(string) error { return boom })
	assert.ErrorIs(t, cb("c"), boom)
}
