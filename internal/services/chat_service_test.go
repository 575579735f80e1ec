package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"chatkit-api/internal/llm"
	"chatkit-api/internal/models"
	"chatkit-api/internal/pkg/errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConversationRepo struct {
	mu       sync.Mutex
	threads  map[string][]byte
	saveErr  error
	saveDone chan struct{}
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{
		threads:  map[string][]byte{},
		saveDone: make(chan struct{}, 8),
	}
}

func (f *fakeConversationRepo) GetByThreadID(ctx context.Context, threadID string) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	messages, ok := f.threads[threadID]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return &models.Conversation{ThreadID: threadID, Messages: messages}, nil
}

func (f *fakeConversationRepo) Save(ctx context.Context, threadID string, messages []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	defer func() { f.saveDone <- struct{}{} }()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.threads[threadID] = messages
	return nil
}

func (f *fakeConversationRepo) history(t *testing.T, threadID string) []llm.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	payload, ok := f.threads[threadID]
	if !ok {
		return nil
	}
	var history []llm.Message
	require.NoError(t, json.Unmarshal(payload, &history))
	return history
}

type fakeLLMClient struct {
	completion  *llm.Completion
	completeErr error
	chunks      []llm.Chunk
	streamErr   error
	gotMessages []llm.Message
}

func (f *fakeLLMClient) Complete(ctx context.Context, messages []llm.Message) (*llm.Completion, error) {
	f.gotMessages = messages
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	return f.completion, nil
}

func (f *fakeLLMClient) Stream(ctx context.Context, messages []llm.Message) (<-chan llm.Chunk, error) {
	f.gotMessages = messages
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	out := make(chan llm.Chunk, len(f.chunks))
	for _, chunk := range f.chunks {
		out <- chunk
	}
	close(out)
	return out, nil
}

type captureRecorder struct {
	mu      sync.Mutex
	entries []*models.UsageLog
}

func (c *captureRecorder) Enqueue(entry *models.UsageLog) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

func (c *captureRecorder) Close() {}

func (c *captureRecorder) all() []*models.UsageLog {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*models.UsageLog(nil), c.entries...)
}

func TestChatInvokeReturnsReplyAndPersistsTurns(t *testing.T) {
	conversations := newFakeConversationRepo()
	client := &fakeLLMClient{
		completion: &llm.Completion{
			Content: "Hello there!",
			Model:   "gpt-4o-mini",
			Usage:   llm.Usage{PromptTokens: 12, CompletionTokens: 8, TotalTokens: 20},
		},
	}
	recorder := &captureRecorder{}
	svc := NewChatService(conversations, client, recorder)

	userID := uuid.New()
	threadID := ThreadID(userID)
	reply, err := svc.Invoke(context.Background(), userID, threadID, "parent-1", "Hi!")

	require.NoError(t, err)
	assert.Equal(t, "Hello there!", reply)

	// System prompt leads the model input but is never persisted
	require.NotEmpty(t, client.gotMessages)
	assert.Equal(t, llm.RoleSystem, client.gotMessages[0].Role)

	history := conversations.history(t, threadID)
	require.Len(t, history, 2)
	assert.Equal(t, llm.RoleUser, history[0].Role)
	assert.Equal(t, "Hi!", history[0].Content)
	assert.Equal(t, llm.RoleAssistant, history[1].Role)

	entries := recorder.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "parent-1", entries[0].MainCallID)
	assert.NotEmpty(t, entries[0].NodeCallID)
	assert.Equal(t, "gpt-4o-mini", entries[0].Model)
	assert.Equal(t, 20, entries[0].TotalTokens)
	assert.Equal(t, entries[0].InputTokens+entries[0].OutputTokens, entries[0].TotalTokens)
}

func TestChatInvokeKeepsHistoryAcrossTurns(t *testing.T) {
	conversations := newFakeConversationRepo()
	client := &fakeLLMClient{completion: &llm.Completion{Content: "Second answer", Model: "gpt-4o-mini"}}
	svc := NewChatService(conversations, client, &captureRecorder{})

	userID := uuid.New()
	threadID := ThreadID(userID)
	_, err := svc.Invoke(context.Background(), userID, threadID, "parent-1", "First question")
	require.NoError(t, err)
	_, err = svc.Invoke(context.Background(), userID, threadID, "parent-2", "Second question")
	require.NoError(t, err)

	// Prompt for the second turn includes the full first exchange
	require.Len(t, client.gotMessages, 4)
	assert.Equal(t, "First question", client.gotMessages[1].Content)
	assert.Equal(t, "Second question", client.gotMessages[3].Content)

	history := conversations.history(t, threadID)
	assert.Len(t, history, 4)
}

func TestChatInvokeDegradesToApologyOnLLMFailure(t *testing.T) {
	conversations := newFakeConversationRepo()
	client := &fakeLLMClient{completeErr: errors.New("upstream down")}
	recorder := &captureRecorder{}
	svc := NewChatService(conversations, client, recorder)

	userID := uuid.New()
	threadID := ThreadID(userID)
	reply, err := svc.Invoke(context.Background(), userID, threadID, "parent-1", "Hi!")

	require.NoError(t, err)
	assert.Equal(t, ApologyMessage, reply)

	// The user's turn stays persisted even though no reply was generated
	history := conversations.history(t, threadID)
	require.Len(t, history, 1)
	assert.Equal(t, llm.RoleUser, history[0].Role)

	assert.Empty(t, recorder.all())
}

func TestChatInvokeSurvivesLedgerWriteFailure(t *testing.T) {
	conversations := newFakeConversationRepo()
	client := &fakeLLMClient{
		completion: &llm.Completion{Content: "Still here", Model: "gpt-4o-mini", Usage: llm.Usage{TotalTokens: 5}},
	}

	// Real recorder over a usage service whose writes always fail
	recorder := NewUsageRecorder(&stubUsageService{err: errors.ErrDatabaseError}, 4)
	defer recorder.Close()

	svc := NewChatService(conversations, client, recorder)

	reply, err := svc.Invoke(context.Background(), uuid.New(), "thread-x", "parent-1", "Hi!")
	require.NoError(t, err)
	assert.Equal(t, "Still here", reply)
}

func TestChatInvokeSurvivesCheckpointWriteFailure(t *testing.T) {
	conversations := newFakeConversationRepo()
	conversations.saveErr = errors.ErrDatabaseError
	client := &fakeLLMClient{completion: &llm.Completion{Content: "Fine", Model: "gpt-4o-mini"}}
	svc := NewChatService(conversations, client, &captureRecorder{})

	reply, err := svc.Invoke(context.Background(), uuid.New(), "thread-x", "parent-1", "Hi!")
	require.NoError(t, err)
	assert.Equal(t, "Fine", reply)
}

func TestChatStreamYieldsFragmentsThenRecordsUsage(t *testing.T) {
	conversations := newFakeConversationRepo()
	client := &fakeLLMClient{
		chunks: []llm.Chunk{
			{Content: "Hel", Model: "gpt-4o-mini"},
			{Content: "lo!"},
			{Usage: &llm.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}},
		},
	}
	recorder := &captureRecorder{}
	svc := NewChatService(conversations, client, recorder)

	userID := uuid.New()
	threadID := ThreadID(userID)
	fragments, err := svc.Stream(context.Background(), userID, threadID, "parent-1", "Hi!")
	require.NoError(t, err)

	var got []string
	for fragment := range fragments {
		got = append(got, fragment)
	}
	assert.Equal(t, []string{"Hel", "lo!"}, got)

	// Checkpoint and ledger writes land after the final fragment
	select {
	case <-conversations.saveDone:
	case <-time.After(time.Second):
		t.Fatal("checkpoint was not saved")
	}

	history := conversations.history(t, threadID)
	require.Len(t, history, 2)
	assert.Equal(t, "Hello!", history[1].Content)

	require.Eventually(t, func() bool {
		entries := recorder.all()
		return len(entries) == 1 && entries[0].TotalTokens == 5
	}, time.Second, 10*time.Millisecond)
}

func TestChatStreamFailureToStartYieldsApology(t *testing.T) {
	conversations := newFakeConversationRepo()
	client := &fakeLLMClient{streamErr: errors.New("upstream down")}
	svc := NewChatService(conversations, client, &captureRecorder{})

	userID := uuid.New()
	fragments, err := svc.Stream(context.Background(), userID, ThreadID(userID), "parent-1", "Hi!")
	require.NoError(t, err)

	var got []string
	for fragment := range fragments {
		got = append(got, fragment)
	}
	assert.Equal(t, []string{ApologyMessage}, got)
}

func TestThreadIDIsStablePerUser(t *testing.T) {
	userID := uuid.New()
	assert.Equal(t, "thread-"+userID.String(), ThreadID(userID))
	assert.Equal(t, ThreadID(userID), ThreadID(userID))
}
