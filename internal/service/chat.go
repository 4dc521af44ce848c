// Package service provides business logic for the chat gateway.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docchat-ai/rag-chat/internal/citations"
	"github.com/docchat-ai/rag-chat/internal/config"
	"github.com/docchat-ai/rag-chat/internal/hub"
	"github.com/docchat-ai/rag-chat/internal/llm"
	"github.com/docchat-ai/rag-chat/internal/model"
	natsclient "github.com/docchat-ai/rag-chat/internal/nats"
	"github.com/docchat-ai/rag-chat/internal/retrieval"
	"github.com/docchat-ai/rag-chat/pkg/logger"
	"github.com/docchat-ai/rag-chat/pkg/metrics"
)

const historyWindow = 10

// ChatService orchestrates one chat turn: persist the user message, retrieve
// citations, stream the LLM completion back over the session's connections,
// and persist the assistant message.
type ChatService struct {
	hub           *hub.Hub
	streamManager *natsclient.StreamManager
	llmClient     llm.Client
	retriever     retrieval.Retriever
	cfg           *config.Config
	logger        *logger.Logger
}

// NewChatService creates a chat service. streamManager and retriever may be
// nil; persistence and citations degrade gracefully without them.
func NewChatService(
	h *hub.Hub,
	streamManager *natsclient.StreamManager,
	llmClient llm.Client,
	retriever retrieval.Retriever,
	cfg *config.Config,
	log *logger.Logger,
) *ChatService {
	return &ChatService{
		hub:           h,
		streamManager: streamManager,
		llmClient:     llmClient,
		retriever:     retriever,
		cfg:           cfg,
		logger:        log,
	}
}

// ProcessChat handles one inbound chat request end to end. Failures are
// returned for the websocket handler to surface as error frames.
func (s *ChatService) ProcessChat(ctx context.Context, sessionID string, req *model.ChatRequest) error {
	userMsgID := req.MessageID
	if userMsgID == "" {
		userMsgID = uuid.Must(uuid.NewV7()).String()
	}
	userMsg := model.Message{
		ID:        userMsgID,
		Role:      model.RoleUser,
		Content:   req.Message,
		Timestamp: time.Now(),
		Status:    model.StatusSent,
	}
	s.hub.AppendMessage(sessionID, userMsg)
	s.persist(ctx, sessionID, &userMsg)
	metrics.MessagesTotal.WithLabelValues(string(model.RoleUser)).Inc()

	s.sendFrame(sessionID, "", model.FrameTypingStart, model.TypingPayload{IsTyping: true})
	defer s.sendFrame(sessionID, "", model.FrameTypingStop, model.TypingPayload{IsTyping: false})

	assistantID := uuid.Must(uuid.NewV7()).String()

	var cites []model.Citation
	if req.IncludeCitations && s.retriever != nil {
		var err error
		cites, err = s.retrieve(ctx, req.Message)
		if err != nil {
			// Retrieval failure degrades to an uncited answer.
			s.logger.Warn("retrieval failed", "session_id", sessionID, "error", err)
		}
		if len(cites) > 0 {
			s.sendFrame(sessionID, assistantID, model.FrameCitations,
				model.CitationsPayload{Citations: cites})
			metrics.CitationsServed.Add(float64(len(cites)))
		}
	}

	resp, err := s.streamCompletion(ctx, sessionID, assistantID, req, cites)
	if err != nil {
		s.hub.AppendMessage(sessionID, model.Message{
			ID:        assistantID,
			Role:      model.RoleAssistant,
			Timestamp: time.Now(),
			Status:    model.StatusError,
		})
		return fmt.Errorf("failed to generate response: %w", err)
	}

	assistantMsg := model.Message{
		ID:        assistantID,
		Role:      model.RoleAssistant,
		Content:   resp.Content,
		Timestamp: time.Now(),
		Status:    model.StatusCompleted,
		Citations: cites,
	}
	s.hub.AppendMessage(sessionID, assistantMsg)
	s.persist(ctx, sessionID, &assistantMsg)

	metrics.MessagesTotal.WithLabelValues(string(model.RoleAssistant)).Inc()
	metrics.RecordLLMStream(resp.Model, "success",
		float64(resp.LatencyMs)/1000.0, resp.TokensIn, resp.TokensOut)

	return nil
}

func (s *ChatService) retrieve(ctx context.Context, query string) ([]model.Citation, error) {
	results, err := s.retriever.Search(ctx, query, s.cfg.RetrievalLimit, s.cfg.RetrievalMinScore)
	if err != nil {
		return nil, err
	}
	results = citations.Deduplicate(results, 0.85)
	return citations.FilterByRelevance(results, s.cfg.RetrievalMinScore, s.cfg.CitationMaxResults), nil
}

func (s *ChatService) streamCompletion(
	ctx context.Context,
	sessionID, assistantID string,
	req *model.ChatRequest,
	cites []model.Citation,
) (*llm.CompletionResponse, error) {
	history := s.hub.History(sessionID, historyWindow)
	chatMessages := make([]llm.ChatMessage, 0, len(history))
	for _, msg := range history {
		if msg.Role != model.RoleUser && msg.Role != model.RoleAssistant {
			continue
		}
		if msg.Status == model.StatusError {
			continue
		}
		chatMessages = append(chatMessages, llm.ChatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	modelName := req.Model
	if modelName == "" {
		modelName = s.cfg.DefaultModel
	}

	resp, err := s.llmClient.CompleteStream(ctx, &llm.CompletionRequest{
		Model:     modelName,
		System:    buildSystemPrompt(cites),
		Messages:  chatMessages,
		MaxTokens: s.maxTokens(req),
		Stream:    true,
	}, func(token string, index int) error {
		s.sendFrame(sessionID, assistantID, model.FrameMessageDelta, model.DeltaPayload{
			ID:      assistantID,
			Content: token,
		})
		return ctx.Err()
	})
	if err != nil {
		metrics.RecordLLMStream(modelName, "error", 0, 0, 0)
		return nil, err
	}

	s.sendFrame(sessionID, assistantID, model.FrameMessageComplete, model.DeltaPayload{
		ID:         assistantID,
		IsComplete: true,
		Citations:  cites,
		Usage: map[string]any{
			"tokens_in":  resp.TokensIn,
			"tokens_out": resp.TokensOut,
		},
	})

	return resp, nil
}

func (s *ChatService) maxTokens(req *model.ChatRequest) int {
	if req.MaxTokens > 0 && req.MaxTokens <= s.cfg.MaxTokens {
		return req.MaxTokens
	}
	return s.cfg.MaxTokens
}

func (s *ChatService) sendFrame(sessionID, messageID string, t model.FrameType, data any) {
	frame, err := model.NewFrame(t, data)
	if err != nil {
		s.logger.Error("failed to encode frame", "type", string(t), "error", err)
		return
	}
	frame.SessionID = sessionID
	frame.MessageID = messageID
	s.hub.SendToSession(sessionID, frame)
}

func (s *ChatService) persist(ctx context.Context, sessionID string, msg *model.Message) {
	if s.streamManager == nil {
		return
	}
	seq, err := s.streamManager.PublishMessage(ctx, sessionID, msg)
	if err != nil {
		s.logger.Warn("failed to persist message", "session_id", sessionID, "error", err)
		return
	}
	msg.Sequence = seq
}

// RestoreSession rebuilds a session's in-memory history from the persistence
// stream, for sessions that survive a gateway restart.
func (s *ChatService) RestoreSession(ctx context.Context, sessionID string) error {
	if s.streamManager == nil {
		return nil
	}
	if len(s.hub.History(sessionID, 1)) > 0 {
		return nil
	}

	var after uint64
	for {
		msgs, lastSeq, hasMore, err := s.streamManager.GetMessages(ctx, sessionID, after, 50)
		if err != nil {
			return fmt.Errorf("failed to replay session: %w", err)
		}
		for _, msg := range msgs {
			s.hub.AppendMessage(sessionID, msg)
		}
		if !hasMore {
			return nil
		}
		after = lastSeq
	}
}

// buildSystemPrompt folds the retrieved chunks into the instruction the
// completion is grounded in.
func buildSystemPrompt(cites []model.Citation) string {
	if len(cites) == 0 {
		return "You are a helpful assistant answering questions about the user's documents."
	}

	var b strings.Builder
	b.WriteString("You are a helpful assistant answering questions about the user's documents. ")
	b.WriteString("Use the following source excerpts to ground your answer. ")
	b.WriteString("Cite sources by their bracketed number where relevant.\n")
	for _, c := range cites {
		fmt.Fprintf(&b, "\n[%d] %s:\n%s\n", c.Index, c.SourceFileName, c.ContentSnippet)
	}
	return b.String()
}
