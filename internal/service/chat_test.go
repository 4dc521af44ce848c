package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docchat-ai/rag-chat/internal/config"
	"github.com/docchat-ai/rag-chat/internal/hub"
	"github.com/docchat-ai/rag-chat/internal/llm"
	"github.com/docchat-ai/rag-chat/internal/model"
	"github.com/docchat-ai/rag-chat/pkg/logger"
)

// scriptedLLM streams a fixed token sequence.
type scriptedLLM struct {
	tokens []string
	err    error

	lastReq *llm.CompletionRequest
}

func (f *scriptedLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: strings.Join(f.tokens, ""), Model: req.Model}, nil
}

func (f *scriptedLLM) CompleteStream(ctx context.Context, req *llm.CompletionRequest, cb llm.StreamCallback) (*llm.CompletionResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	for i, token := range f.tokens {
		if err := cb(token, i); err != nil {
			return nil, err
		}
	}
	return &llm.CompletionResponse{
		Content:   strings.Join(f.tokens, ""),
		Model:     req.Model,
		TokensIn:  12,
		TokensOut: len(f.tokens),
	}, nil
}

func (f *scriptedLLM) Name() string     { return "scripted" }
func (f *scriptedLLM) Models() []string { return []string{"scripted-1"} }

// fixedRetriever returns a canned citation list for every query.
type fixedRetriever struct {
	results []model.Citation
	err     error
}

func (r *fixedRetriever) Search(ctx context.Context, query string, limit int, minScore float64) ([]model.Citation, error) {
	return r.results, r.err
}

func testConfig() *config.Config {
	return &config.Config{
		DefaultModel:       "scripted-1",
		MaxTokens:          1024,
		RetrievalLimit:     5,
		RetrievalMinScore:  0.5,
		CitationMaxResults: 10,
	}
}

// attachedSession wires a live websocket into a hub session and returns the
// client end for frame assertions.
func attachedSession(t *testing.T, h *hub.Hub, sessionID string) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	attached := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hubConn := h.Attach(conn, sessionID)
		close(attached)
		for {
			if _, err := hubConn.ReadMessage(); err != nil {
				h.Detach(hubConn)
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case <-attached:
	case <-time.After(3 * time.Second):
		t.Fatal("connection never attached to hub")
	}

	// Drain the session_start announcement.
	frame := readFrame(t, client)
	require.Equal(t, model.FrameSessionStart, frame.Type)
	return client
}

func readFrame(t *testing.T, conn *websocket.Conn) model.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var frame model.Frame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestProcessChat_StreamsFramesInOrder(t *testing.T) {
	h := hub.New(logger.NewNop())
	client := attachedSession(t, h, "sess-1")

	llmClient := &scriptedLLM{tokens: []string{"Hel", "lo ", "world"}}
	svc := NewChatService(h, nil, llmClient, nil, testConfig(), logger.NewNop())

	err := svc.ProcessChat(context.Background(), "sess-1", &model.ChatRequest{Message: "greet me"})
	require.NoError(t, err)

	frame := readFrame(t, client)
	assert.Equal(t, model.FrameTypingStart, frame.Type)

	var content strings.Builder
	for i := 0; i < 3; i++ {
		frame = readFrame(t, client)
		require.Equal(t, model.FrameMessageDelta, frame.Type)
		var payload model.DeltaPayload
		require.NoError(t, json.Unmarshal(frame.Data, &payload))
		content.WriteString(payload.Content)
	}
	assert.Equal(t, "Hello world", content.String())

	frame = readFrame(t, client)
	require.Equal(t, model.FrameMessageComplete, frame.Type)
	var complete model.DeltaPayload
	require.NoError(t, json.Unmarshal(frame.Data, &complete))
	assert.True(t, complete.IsComplete)

	frame = readFrame(t, client)
	assert.Equal(t, model.FrameTypingStop, frame.Type)

	history := h.History("sess-1", 0)
	require.Len(t, history, 2)
	assert.Equal(t, model.RoleUser, history[0].Role)
	assert.Equal(t, "greet me", history[0].Content)
	assert.Equal(t, model.RoleAssistant, history[1].Role)
	assert.Equal(t, "Hello world", history[1].Content)
	assert.Equal(t, model.StatusCompleted, history[1].Status)
}

func TestProcessChat_ClientSuppliedMessageID(t *testing.T) {
	h := hub.New(logger.NewNop())
	attachedSession(t, h, "sess-1")

	svc := NewChatService(h, nil, &scriptedLLM{tokens: []string{"ok"}}, nil, testConfig(), logger.NewNop())

	err := svc.ProcessChat(context.Background(), "sess-1", &model.ChatRequest{
		Message:   "hi",
		MessageID: "0191e3a0-0000-7000-8000-0000000000aa",
	})
	require.NoError(t, err)

	history := h.History("sess-1", 0)
	require.Len(t, history, 2)
	assert.Equal(t, "0191e3a0-0000-7000-8000-0000000000aa", history[0].ID,
		"stored user message keeps the id the client chose")
	assert.NotEqual(t, history[0].ID, history[1].ID)
}

func TestProcessChat_SendsCitationsBeforeDeltas(t *testing.T) {
	h := hub.New(logger.NewNop())
	client := attachedSession(t, h, "sess-1")

	score := 0.9
	retriever := &fixedRetriever{results: []model.Citation{
		{ID: "c1", SourceFileName: "handbook.pdf", ContentSnippet: "vacation policy text", RelevanceScore: &score},
	}}
	llmClient := &scriptedLLM{tokens: []string{"answer"}}
	svc := NewChatService(h, nil, llmClient, retriever, testConfig(), logger.NewNop())

	err := svc.ProcessChat(context.Background(), "sess-1", &model.ChatRequest{
		Message:          "vacation?",
		IncludeCitations: true,
	})
	require.NoError(t, err)

	frame := readFrame(t, client)
	require.Equal(t, model.FrameTypingStart, frame.Type)

	frame = readFrame(t, client)
	require.Equal(t, model.FrameCitations, frame.Type, "citations precede the first delta")
	var payload model.CitationsPayload
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	require.Len(t, payload.Citations, 1)
	assert.Equal(t, "c1", payload.Citations[0].ID)

	assert.Contains(t, llmClient.lastReq.System, "vacation policy text",
		"retrieved chunks ground the completion")
}

func TestProcessChat_RetrievalFailureDegradesGracefully(t *testing.T) {
	h := hub.New(logger.NewNop())
	client := attachedSession(t, h, "sess-1")

	retriever := &fixedRetriever{err: errors.New("pgvector down")}
	llmClient := &scriptedLLM{tokens: []string{"uncited answer"}}
	svc := NewChatService(h, nil, llmClient, retriever, testConfig(), logger.NewNop())

	err := svc.ProcessChat(context.Background(), "sess-1", &model.ChatRequest{
		Message:          "question",
		IncludeCitations: true,
	})
	require.NoError(t, err)

	frame := readFrame(t, client)
	require.Equal(t, model.FrameTypingStart, frame.Type)
	frame = readFrame(t, client)
	assert.Equal(t, model.FrameMessageDelta, frame.Type, "no citations frame on retrieval failure")
}

func TestProcessChat_LLMFailure(t *testing.T) {
	h := hub.New(logger.NewNop())
	client := attachedSession(t, h, "sess-1")

	llmClient := &scriptedLLM{err: errors.New("model overloaded")}
	svc := NewChatService(h, nil, llmClient, nil, testConfig(), logger.NewNop())

	err := svc.ProcessChat(context.Background(), "sess-1", &model.ChatRequest{Message: "hi"})
	require.Error(t, err)

	history := h.History("sess-1", 0)
	require.Len(t, history, 2)
	assert.Equal(t, model.StatusError, history[1].Status)

	frame := readFrame(t, client)
	require.Equal(t, model.FrameTypingStart, frame.Type)
	frame = readFrame(t, client)
	assert.Equal(t, model.FrameTypingStop, frame.Type, "typing always stops, even on failure")
}

func TestProcessChat_ErroredTurnsExcludedFromContext(t *testing.T) {
	h := hub.New(logger.NewNop())
	attachedSession(t, h, "sess-1")

	failing := &scriptedLLM{err: errors.New("boom")}
	svc := NewChatService(h, nil, failing, nil, testConfig(), logger.NewNop())
	require.Error(t, svc.ProcessChat(context.Background(), "sess-1", &model.ChatRequest{Message: "first"}))

	working := &scriptedLLM{tokens: []string{"ok"}}
	svc = NewChatService(h, nil, working, nil, testConfig(), logger.NewNop())
	require.NoError(t, svc.ProcessChat(context.Background(), "sess-1", &model.ChatRequest{Message: "second"}))

	for _, m := range working.lastReq.Messages {
		assert.NotEmpty(t, m.Content, "errored placeholder must not reach the model")
	}
}

func TestMaxTokensClamping(t *testing.T) {
	svc := NewChatService(nil, nil, nil, nil, testConfig(), logger.NewNop())

	assert.Equal(t, 1024, svc.maxTokens(&model.ChatRequest{}), "zero falls back to the default")
	assert.Equal(t, 512, svc.maxTokens(&model.ChatRequest{MaxTokens: 512}))
	assert.Equal(t, 1024, svc.maxTokens(&model.ChatRequest{MaxTokens: 99999}), "requests cannot exceed the cap")
}

func TestBuildSystemPrompt(t *testing.T) {
	t.Run("no citations", func(t *testing.T) {
		prompt := buildSystemPrompt(nil)
		assert.NotEmpty(t, prompt)
		assert.NotContains(t, prompt, "[1]")
	})

	t.Run("citations are numbered into the prompt", func(t *testing.T) {
		prompt := buildSystemPrompt([]model.Citation{
			{Index: 1, SourceFileName: "handbook.pdf", ContentSnippet: "fifteen vacation days"},
			{Index: 2, SourceFileName: "faq.md", ContentSnippet: "submit requests in the portal"},
		})
		assert.Contains(t, prompt, "[1] handbook.pdf")
		assert.Contains(t, prompt, "fifteen vacation days")
		assert.Contains(t, prompt, "[2] faq.md")
	})
}
