package services

import (
	"context"
	"encoding/json"
	"fmt"

	"chatkit-api/internal/llm"
	"chatkit-api/internal/logger"
	"chatkit-api/internal/models"
	"chatkit-api/internal/pkg/errors"
	"chatkit-api/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SystemPrompt is prepended ahead of the stored history on every invocation.
const SystemPrompt = "You are a helpful assistant. Answer the user's questions clearly and concisely."

// ApologyMessage is returned to the caller when the upstream model fails.
// The raw error never reaches the user.
const ApologyMessage = "I'm sorry, I'm having trouble answering right now. Please try again in a moment."

// ChatService runs a single-step conversation turn: load the checkpoint for
// the thread, invoke the model once, persist the new turns, and forward
// token usage to the ledger recorder.
type ChatService interface {
	Invoke(ctx context.Context, userID uuid.UUID, threadID, mainCallID, message string) (string, error)
	Stream(ctx context.Context, userID uuid.UUID, threadID, mainCallID, message string) (<-chan string, error)
}

type chatService struct {
	conversationRepo repository.ConversationRepository
	llmClient        llm.Client
	recorder         UsageRecorder
}

// NewChatService wires the orchestrator. The checkpoint repository is an
// explicit dependency with its lifecycle owned by the caller; nothing here
// reaches for process-wide state.
func NewChatService(
	conversationRepo repository.ConversationRepository,
	llmClient llm.Client,
	recorder UsageRecorder,
) ChatService {
	return &chatService{
		conversationRepo: conversationRepo,
		llmClient:        llmClient,
		recorder:         recorder,
	}
}

// ThreadID derives the checkpoint key for a user's conversation.
func ThreadID(userID uuid.UUID) string {
	return "thread-" + userID.String()
}

// NewMainCallID mints the identifier grouping all ledger rows of one
// user-facing request.
func NewMainCallID() string {
	return "parent-" + uuid.NewString()
}

func (s *chatService) Invoke(ctx context.Context, userID uuid.UUID, threadID, mainCallID, message string) (string, error) {
	history, err := s.loadHistory(ctx, threadID)
	if err != nil {
		return "", err
	}

	history = append(history, llm.Message{Role: llm.RoleUser, Content: message})
	prompt := append([]llm.Message{{Role: llm.RoleSystem, Content: SystemPrompt}}, history...)

	completion, err := s.llmClient.Complete(ctx, prompt)
	if err != nil {
		logger.LogEvent(logrus.ErrorLevel, "LLM invocation failed", logrus.Fields{
			"user_id":      userID,
			"thread_id":    threadID,
			"main_call_id": mainCallID,
			"error":        err.Error(),
		})
		// The user's turn stays in the checkpoint even though no reply
		// was generated.
		s.saveHistory(ctx, threadID, history)
		return ApologyMessage, nil
	}

	history = append(history, llm.Message{Role: llm.RoleAssistant, Content: completion.Content})
	s.saveHistory(ctx, threadID, history)

	s.recordUsage(userID, mainCallID, completion.Model, completion.Usage)

	return completion.Content, nil
}

// Stream behaves like Invoke but yields the reply as a finite sequence of
// text fragments. The returned channel closes when generation finishes or
// ctx is cancelled; checkpoint and ledger writes happen after the last
// fragment.
func (s *chatService) Stream(ctx context.Context, userID uuid.UUID, threadID, mainCallID, message string) (<-chan string, error) {
	history, err := s.loadHistory(ctx, threadID)
	if err != nil {
		return nil, err
	}

	history = append(history, llm.Message{Role: llm.RoleUser, Content: message})
	prompt := append([]llm.Message{{Role: llm.RoleSystem, Content: SystemPrompt}}, history...)

	chunks, err := s.llmClient.Stream(ctx, prompt)
	if err != nil {
		logger.LogEvent(logrus.ErrorLevel, "LLM stream failed to start", logrus.Fields{
			"user_id":      userID,
			"thread_id":    threadID,
			"main_call_id": mainCallID,
			"error":        err.Error(),
		})
		s.saveHistory(ctx, threadID, history)

		fragments := make(chan string, 1)
		fragments <- ApologyMessage
		close(fragments)
		return fragments, nil
	}

	fragments := make(chan string)

	go func() {
		defer close(fragments)

		var reply string
		var model string
		var usage *llm.Usage

		for chunk := range chunks {
			if chunk.Err != nil {
				logger.LogEvent(logrus.ErrorLevel, "LLM stream interrupted", logrus.Fields{
					"user_id":      userID,
					"thread_id":    threadID,
					"main_call_id": mainCallID,
					"error":        chunk.Err.Error(),
				})
				break
			}
			if chunk.Model != "" {
				model = chunk.Model
			}
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
			if chunk.Content == "" {
				continue
			}

			reply += chunk.Content
			select {
			case fragments <- chunk.Content:
			case <-ctx.Done():
				return
			}
		}

		if reply != "" {
			history = append(history, llm.Message{Role: llm.RoleAssistant, Content: reply})
		}
		s.saveHistory(context.WithoutCancel(ctx), threadID, history)

		if usage != nil {
			s.recordUsage(userID, mainCallID, model, *usage)
		}
	}()

	return fragments, nil
}

func (s *chatService) loadHistory(ctx context.Context, threadID string) ([]llm.Message, error) {
	conversation, err := s.conversationRepo.GetByThreadID(ctx, threadID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var history []llm.Message
	if len(conversation.Messages) > 0 {
		if err := json.Unmarshal(conversation.Messages, &history); err != nil {
			return nil, fmt.Errorf("corrupt checkpoint for thread %s: %w", threadID, err)
		}
	}

	return history, nil
}

// saveHistory is best-effort: a checkpoint write failure is logged, never
// surfaced, so a degraded checkpoint store cannot take down the chat path.
func (s *chatService) saveHistory(ctx context.Context, threadID string, history []llm.Message) {
	payload, err := json.Marshal(history)
	if err != nil {
		logger.LogEvent(logrus.ErrorLevel, "Failed to marshal conversation history", logrus.Fields{
			"thread_id": threadID,
			"error":     err.Error(),
		})
		return
	}

	if err := s.conversationRepo.Save(ctx, threadID, payload); err != nil {
		logger.LogEvent(logrus.ErrorLevel, "Failed to save conversation checkpoint", logrus.Fields{
			"thread_id": threadID,
			"error":     err.Error(),
		})
	}
}

func (s *chatService) recordUsage(userID uuid.UUID, mainCallID, model string, usage llm.Usage) {
	s.recorder.Enqueue(&models.UsageLog{
		UserID:       userID,
		MainCallID:   mainCallID,
		NodeCallID:   "node-" + uuid.NewString(),
		Description:  "chatbot completion",
		Model:        model,
		InputTokens:  usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
		TotalTokens:  usage.TotalTokens,
	})
}
