package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docpipe/internal/breaker"
)

func newGenerateServer(t *testing.T, status int, reply string) (*httptest.Server, *[]generateRequest) {
	var mu sync.Mutex
	var seen []generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req generateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		seen = append(seen, req)
		mu.Unlock()

		if status != http.StatusOK {
			http.Error(w, "overloaded", status)
			return
		}
		_ = json.NewEncoder(w).Encode(generateResponse{Response: reply, Done: true})
	}))
	t.Cleanup(server.Close)
	return server, &seen
}

func TestNewClient_RequiresModel(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestClient_Generate(t *testing.T) {
	server, seen := newGenerateServer(t, http.StatusOK, "invoice")
	c, err := NewClient(Config{BaseURL: server.URL + "/", Model: "phi3:mini", Temperature: 0.1})
	require.NoError(t, err)

	out, err := c.Generate(context.Background(), "classify this")
	require.NoError(t, err)
	assert.Equal(t, "invoice", out)

	require.Len(t, *seen, 1)
	req := (*seen)[0]
	assert.Equal(t, "phi3:mini", req.Model)
	assert.Equal(t, "classify this", req.Prompt)
	assert.False(t, req.Stream)
	assert.Empty(t, req.Images)
	require.NotNil(t, req.Options)
	assert.InDelta(t, 0.1, req.Options.Temperature, 1e-9)
}

func TestClient_GenerateWithImage(t *testing.T) {
	server, seen := newGenerateServer(t, http.StatusOK, "{}")
	c, err := NewClient(Config{BaseURL: server.URL, Model: "llava"})
	require.NoError(t, err)

	img := filepath.Join(t.TempDir(), "scan.png")
	require.NoError(t, os.WriteFile(img, []byte("png-bytes"), 0o644))

	_, err = c.GenerateWithImage(context.Background(), "extract", img)
	require.NoError(t, err)

	require.Len(t, *seen, 1)
	require.Len(t, (*seen)[0].Images, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("png-bytes")), (*seen)[0].Images[0])

	_, err = c.GenerateWithImage(context.Background(), "extract", filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}

func TestClient_ErrorStatus(t *testing.T) {
	server, _ := newGenerateServer(t, http.StatusInternalServerError, "")
	c, err := NewClient(Config{BaseURL: server.URL, Model: "m"})
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestClient_RateLimitedStatus(t *testing.T) {
	server, _ := newGenerateServer(t, http.StatusTooManyRequests, "")
	c, err := NewClient(Config{BaseURL: server.URL, Model: "m"})
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), "p")
	assert.ErrorIs(t, err, ErrRateLimited)
}

type stubGenerator struct {
	mu    sync.Mutex
	calls int
	err   error
	reply string
}

func (s *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.reply, s.err
}

func TestGuarded_BreakerOpensAfterFailures(t *testing.T) {
	gen := &stubGenerator{err: errors.New("connection refused")}
	b := breaker.New("model.primary", breaker.Options{Threshold: 3, Cooldown: time.Hour})
	g := NewGuarded(gen, b, nil)

	for i := 0; i < 3; i++ {
		_, err := g.Generate(context.Background(), "p")
		require.Error(t, err)
	}
	_, err := g.Generate(context.Background(), "p")
	assert.ErrorIs(t, err, breaker.ErrServiceUnavailable)
	assert.Equal(t, 3, gen.calls)
}

func TestGuarded_VisionUnsupported(t *testing.T) {
	g := NewGuarded(&stubGenerator{reply: "x"}, nil, nil)

	out, err := g.Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "x", out)

	_, err = g.GenerateWithImage(context.Background(), "p", "a.png")
	assert.ErrorIs(t, err, ErrVisionUnsupported)
}

func TestGuarded_RateLimitedBacksOff(t *testing.T) {
	gen := &stubGenerator{err: ErrRateLimited}
	lim := NewLimiter(100, 1)
	g := NewGuarded(gen, nil, lim)

	_, err := g.Generate(context.Background(), "p")
	require.ErrorIs(t, err, ErrRateLimited)
	assert.False(t, lim.Allow())
}

func TestLimiter_WaitHonoursContext(t *testing.T) {
	lim := NewLimiter(1, 1)
	lim.Backoff(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, lim.Wait(ctx), context.DeadlineExceeded)
}

func TestLimiter_Defaults(t *testing.T) {
	lim := NewLimiter(0, 0)
	assert.True(t, lim.Allow())
	require.NoError(t, lim.Wait(context.Background()))
}

func TestNewSet(t *testing.T) {
	server, seen := newGenerateServer(t, http.StatusOK, "ok")
	reg := breaker.NewRegistry(breaker.Options{})

	set, err := NewSet(SetConfig{
		BaseURL:    server.URL,
		Primary:    "qwen2.5:7b",
		Validation: "phi3:mini",
		Reasoning:  "deepseek-r1:8b",
		RateLimit:  100,
		RateBurst:  10,
	}, reg)
	require.NoError(t, err)

	for _, g := range []*Guarded{set.Primary, set.Validation, set.Reasoning} {
		_, err := g.Generate(context.Background(), "p")
		require.NoError(t, err)
	}

	require.Len(t, *seen, 3)
	assert.Equal(t, "qwen2.5:7b", (*seen)[0].Model)
	assert.Equal(t, "phi3:mini", (*seen)[1].Model)
	assert.Equal(t, "deepseek-r1:8b", (*seen)[2].Model)

	statuses := reg.Statuses()
	require.Len(t, statuses, 3)
	assert.Equal(t, RolePrimary, statuses[0].Name)
}

func TestNewSet_MissingModel(t *testing.T) {
	_, err := NewSet(SetConfig{Primary: "a", Validation: "b"}, nil)
	assert.Error(t, err)
}
