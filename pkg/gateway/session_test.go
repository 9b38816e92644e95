package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/seance/pkg/agent"
	"github.com/harun/seance/pkg/llm"
	"github.com/harun/seance/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu       sync.Mutex
	models   []string
	messages [][]agent.Message
	turn     func(call int, sink agent.Sink) (agent.TurnResult, error)
}

func (f *fakeRunner) RunTurn(ctx context.Context, model string, messages []agent.Message, sink agent.Sink) (agent.TurnResult, error) {
	f.mu.Lock()
	f.models = append(f.models, model)
	f.messages = append(f.messages, messages)
	call := len(f.models)
	f.mu.Unlock()

	if f.turn == nil {
		if err := sink.Text("hello"); err != nil {
			return agent.TurnResult{}, err
		}
		return agent.TurnResult{Model: model, Rounds: []agent.Round{{}}}, nil
	}
	return f.turn(call, sink)
}

type fakeModels struct {
	mu         sync.Mutex
	models     []llm.ModelInfo
	listErr    error
	preloadErr error
	preloaded  []string
}

func (f *fakeModels) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	return f.models, f.listErr
}

func (f *fakeModels) Preload(ctx context.Context, model string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preloaded = append(f.preloaded, model)
	return f.preloadErr
}

type fakeCatalog struct {
	mu        sync.Mutex
	tools     []toolexecutor.ToolSpec
	fetchedAt time.Time
	result    string
	err       error
	calls     []map[string]any
}

func (f *fakeCatalog) ListTools(ctx context.Context) []toolexecutor.ToolSpec { return f.tools }

func (f *fakeCatalog) Cached() ([]toolexecutor.ToolSpec, time.Time) { return f.tools, f.fetchedAt }

func (f *fakeCatalog) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, args)
	return f.result, f.err
}

func newTestServer(t *testing.T, runner TurnRunner, models *fakeModels, tools *fakeCatalog) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := NewServer(Config{
		Port:         0,
		Runner:       runner,
		Models:       models,
		Tools:        tools,
		Prompt:       func() string { return "you are an analyst" },
		ContextQuery: "search index=main sourcetype=chainsaw | stats count by level, name",
		WriteTimeout: time.Second,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	return srv, httptestServer(t, srv)
}

func httptestServer(t *testing.T, srv *Server) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func dialChat(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/chat"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readTurn collects raw frames up to and including the terminal JSON frame.
func readTurn(t *testing.T, conn *websocket.Conn) ([]string, map[string]any) {
	t.Helper()
	var frames []string
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var event map[string]any
		if json.Unmarshal(data, &event) == nil {
			if done, ok := event["done"].(bool); ok && done {
				return frames, event
			}
		}
		frames = append(frames, string(data))
	}
}

func sendChat(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))
}

func TestSession_Serve(t *testing.T) {
	t.Run("should stream a turn and finish with done", func(t *testing.T) {
		runner := &fakeRunner{}
		_, ts := newTestServer(t, runner, &fakeModels{}, &fakeCatalog{})
		conn := dialChat(t, ts)

		sendChat(t, conn, `{"model":"llama3.1:8b","messages":[{"role":"user","content":"hi"}]}`)
		frames, done := readTurn(t, conn)

		assert.Equal(t, []string{"hello"}, frames)
		assert.Equal(t, map[string]any{"done": true}, done)

		runner.mu.Lock()
		defer runner.mu.Unlock()
		require.Len(t, runner.messages, 1)
		assert.Equal(t, agent.Message{Role: agent.RoleSystem, Content: "you are an analyst"}, runner.messages[0][0])
		assert.Equal(t, "llama3.1:8b", runner.models[0])
	})

	t.Run("should keep a client supplied system prompt", func(t *testing.T) {
		runner := &fakeRunner{}
		_, ts := newTestServer(t, runner, &fakeModels{}, &fakeCatalog{})
		conn := dialChat(t, ts)

		sendChat(t, conn, `{"model":"m","messages":[{"role":"system","content":"custom"},{"role":"user","content":"hi"}]}`)
		readTurn(t, conn)

		runner.mu.Lock()
		defer runner.mu.Unlock()
		require.Len(t, runner.messages[0], 2)
		assert.Equal(t, "custom", runner.messages[0][0].Content)
	})

	t.Run("should resolve the default model", func(t *testing.T) {
		runner := &fakeRunner{}
		models := &fakeModels{models: []llm.ModelInfo{{Name: "qwen2.5:7b"}, {Name: "llama3.1:8b"}}}
		_, ts := newTestServer(t, runner, models, &fakeCatalog{})
		conn := dialChat(t, ts)

		sendChat(t, conn, `{"messages":[{"role":"user","content":"hi"}]}`)
		readTurn(t, conn)

		runner.mu.Lock()
		defer runner.mu.Unlock()
		assert.Equal(t, []string{"qwen2.5:7b"}, runner.models)
	})

	t.Run("should prefer the configured default model", func(t *testing.T) {
		runner := &fakeRunner{}
		srv, err := NewServer(Config{
			Runner:       runner,
			Models:       &fakeModels{models: []llm.ModelInfo{{Name: "qwen2.5:7b"}}},
			Tools:        &fakeCatalog{},
			DefaultModel: "llama3.1:8b",
			Logger:       zerolog.Nop(),
		})
		require.NoError(t, err)
		conn := dialChat(t, httptestServer(t, srv))

		sendChat(t, conn, `{"messages":[{"role":"user","content":"hi"}]}`)
		readTurn(t, conn)

		runner.mu.Lock()
		defer runner.mu.Unlock()
		assert.Equal(t, []string{"llama3.1:8b"}, runner.models)
	})

	t.Run("should report a missing model and keep serving", func(t *testing.T) {
		runner := &fakeRunner{}
		models := &fakeModels{}
		_, ts := newTestServer(t, runner, models, &fakeCatalog{})
		conn := dialChat(t, ts)

		sendChat(t, conn, `{"model":"","messages":[{"role":"user","content":"hi"}]}`)
		frames, event := readTurn(t, conn)
		assert.Empty(t, frames)
		assert.Equal(t, "No model selected and none available", event["error"])

		sendChat(t, conn, `{"model":"m","messages":[{"role":"user","content":"hi"}]}`)
		_, event = readTurn(t, conn)
		assert.Nil(t, event["error"])
	})

	t.Run("should report an unreachable backend as a missing model", func(t *testing.T) {
		_, ts := newTestServer(t, &fakeRunner{}, &fakeModels{listErr: errors.New("connection refused")}, &fakeCatalog{})
		conn := dialChat(t, ts)

		sendChat(t, conn, `{"messages":[{"role":"user","content":"hi"}]}`)
		_, event := readTurn(t, conn)
		assert.Equal(t, "No model selected and none available", event["error"])
	})

	t.Run("should pass through roles it does not know", func(t *testing.T) {
		runner := &fakeRunner{}
		_, ts := newTestServer(t, runner, &fakeModels{}, &fakeCatalog{})
		conn := dialChat(t, ts)

		sendChat(t, conn, `{"model":"m","messages":[{"role":"developer","content":"be brief"},{"role":"user","content":"hi"}]}`)
		_, event := readTurn(t, conn)
		assert.Nil(t, event["error"])

		runner.mu.Lock()
		defer runner.mu.Unlock()
		require.Len(t, runner.messages, 1)
		roles := make([]string, 0, len(runner.messages[0]))
		for _, m := range runner.messages[0] {
			roles = append(roles, m.Role)
		}
		assert.Contains(t, roles, "developer")
	})

	t.Run("should reject malformed payloads and keep serving", func(t *testing.T) {
		runner := &fakeRunner{}
		_, ts := newTestServer(t, runner, &fakeModels{}, &fakeCatalog{})
		conn := dialChat(t, ts)

		for _, payload := range []string{
			`not json`,
			`[]`,
			`{"model":"m","messages":[{"role":"user"}]}`,
			`{"model":"m","messages":[{"role":7,"content":"x"}]}`,
		} {
			sendChat(t, conn, payload)
			_, event := readTurn(t, conn)
			assert.Contains(t, event["error"], "invalid payload", payload)
		}

		sendChat(t, conn, `{"model":"m","messages":[]}`)
		_, event := readTurn(t, conn)
		assert.Nil(t, event["error"])
	})

	t.Run("should report turn failures and panics", func(t *testing.T) {
		runner := &fakeRunner{turn: func(call int, sink agent.Sink) (agent.TurnResult, error) {
			switch call {
			case 1:
				return agent.TurnResult{}, errors.New("model 'nope' not found")
			case 2:
				panic("boom")
			default:
				return agent.TurnResult{Rounds: []agent.Round{{}}}, nil
			}
		}}
		_, ts := newTestServer(t, runner, &fakeModels{}, &fakeCatalog{})
		conn := dialChat(t, ts)

		sendChat(t, conn, `{"model":"nope","messages":[]}`)
		_, event := readTurn(t, conn)
		assert.Equal(t, "model 'nope' not found", event["error"])
		assert.Equal(t, true, event["done"])

		sendChat(t, conn, `{"model":"m","messages":[]}`)
		_, event = readTurn(t, conn)
		assert.Contains(t, event["error"], "boom")

		sendChat(t, conn, `{"model":"m","messages":[]}`)
		_, event = readTurn(t, conn)
		assert.Nil(t, event["error"])
	})

	t.Run("should track sessions until the client leaves", func(t *testing.T) {
		srv, ts := newTestServer(t, &fakeRunner{}, &fakeModels{}, &fakeCatalog{})
		conn := dialChat(t, ts)

		sendChat(t, conn, `{"model":"m","messages":[]}`)
		readTurn(t, conn)
		assert.Equal(t, 1, srv.Sessions().Count())
		assert.Equal(t, 1, srv.Sessions().Infos()[0].Turns)

		require.NoError(t, conn.Close())
		assert.Eventually(t, func() bool {
			return srv.Sessions().Count() == 0
		}, 2*time.Second, 10*time.Millisecond)
	})
}

func TestDecodeRequest(t *testing.T) {
	req, err := decodeRequest([]byte(`{"model":"m","messages":[{"role":"user","content":"hi"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "m", req.Model)
	assert.Equal(t, []llm.Message{{Role: "user", Content: "hi"}}, req.Messages)

	req, err = decodeRequest([]byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, req.Messages)

	req, err = decodeRequest([]byte(`{"messages":[{"role":"developer","content":"be brief"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "developer", req.Messages[0].Role)

	_, err = decodeRequest([]byte(`{"model":5}`))
	assert.Error(t, err)
}

func TestResolveModel(t *testing.T) {
	session := NewSession(nil, SessionConfig{Models: &fakeModels{}, Logger: zerolog.Nop()})

	_, err := session.resolveModel(context.Background())
	require.ErrorIs(t, err, ErrNoModel)
	assert.Equal(t, "no model selected and none available", err.Error())

	session = NewSession(nil, SessionConfig{
		Models: &fakeModels{models: []llm.ModelInfo{{Name: "llama3.1:8b"}}},
		Logger: zerolog.Nop(),
	})
	model, err := session.resolveModel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "llama3.1:8b", model)
}
