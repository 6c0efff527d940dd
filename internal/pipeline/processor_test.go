package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repliahq/replia/internal/business"
	"github.com/repliahq/replia/internal/provider"
)

type stubProvider struct {
	reply    string
	err      error
	messages []provider.Message
}

func (s *stubProvider) Chat(_ context.Context, messages []provider.Message, _ provider.Options) (string, error) {
	s.messages = messages
	return s.reply, s.err
}

func (s *stubProvider) Test(context.Context) bool { return s.err == nil }

func newTestProcessor(t *testing.T) *Processor {
	t.Helper()
	return NewProcessor(nil, nil, nil, nil, nil, nil, Options{})
}

func TestOptionsDefaults(t *testing.T) {
	t.Parallel()

	opts := Options{}.withDefaults()
	assert.Equal(t, 10, opts.MemoryWindow)
	assert.NotZero(t, opts.ProviderTimeout)
	assert.NotZero(t, opts.EngineHTTPTimeout)

	opts = Options{MemoryWindow: 3}.withDefaults()
	assert.Equal(t, 3, opts.MemoryWindow)
}

func TestBuildRegistry(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(t)

	t.Run("no ai settings", func(t *testing.T) {
		t.Parallel()

		registry, name := p.buildRegistry(&business.Config{ID: "biz-1"})
		assert.Empty(t, name)
		assert.Empty(t, registry.Names())
	})

	t.Run("openai settings", func(t *testing.T) {
		t.Parallel()

		cfg := &business.Config{
			ID: "biz-1",
			AI: &business.AISettings{
				ClientType: provider.ClientTypeOpenAI,
				APIKey:     "sk-test",
				Model:      "gpt-4o-mini",
			},
		}
		registry, name := p.buildRegistry(cfg)
		require.Equal(t, "openai", name)
		assert.True(t, registry.Has("openai"))
	})

	t.Run("unknown client type", func(t *testing.T) {
		t.Parallel()

		cfg := &business.Config{
			ID: "biz-1",
			AI: &business.AISettings{ClientType: "mainframe", APIKey: "k"},
		}
		registry, name := p.buildRegistry(cfg)
		assert.Empty(t, name)
		assert.Empty(t, registry.Names())
	})
}

func TestDirectChat(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(t)
	window := []provider.Message{
		{Role: "user", Content: "¿Tienen stock de tornillos?"},
		{Role: "assistant", Content: "Sí, tenemos."},
	}

	t.Run("assembles prompt and returns reply", func(t *testing.T) {
		t.Parallel()

		stub := &stubProvider{reply: "Abrimos a las 9."}
		registry := provider.NewRegistry()
		require.NoError(t, registry.Register("openai", stub))

		reply, err := p.directChat(context.Background(), registry, "openai",
			"¿A qué hora abren?", "Sos el asistente.", window)
		require.NoError(t, err)
		assert.Equal(t, "Abrimos a las 9.", reply)

		require.Len(t, stub.messages, 4)
		assert.Equal(t, provider.Message{Role: "system", Content: "Sos el asistente."}, stub.messages[0])
		assert.Equal(t, window[0], stub.messages[1])
		assert.Equal(t, window[1], stub.messages[2])
		assert.Equal(t, provider.Message{Role: "user", Content: "¿A qué hora abren?"}, stub.messages[3])
	})

	t.Run("no provider registered", func(t *testing.T) {
		t.Parallel()

		_, err := p.directChat(context.Background(), provider.NewRegistry(), "",
			"hola", "", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "neither a published flow nor AI settings")
	})

	t.Run("provider failure is wrapped", func(t *testing.T) {
		t.Parallel()

		stub := &stubProvider{err: errors.New("upstream 500")}
		registry := provider.NewRegistry()
		require.NoError(t, registry.Register("openai", stub))

		_, err := p.directChat(context.Background(), registry, "openai", "hola", "", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "direct chat")
	})
}
