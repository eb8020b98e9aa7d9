package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/send-money-agent/internal/transfer"
	"github.com/wolfman30/send-money-agent/pkg/logging"
)

type stubLLMClient struct {
	mu        sync.Mutex
	requests  []LLMRequest
	responses []LLMResponse
	errs      []error
	calls     int
}

func (s *stubLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req.Turns = append([]Turn(nil), req.Turns...)
	s.requests = append(s.requests, req)
	call := s.calls
	s.calls++

	if call < len(s.errs) && s.errs[call] != nil {
		return LLMResponse{}, s.errs[call]
	}
	if call >= len(s.responses) {
		return LLMResponse{}, errors.New("no scripted response")
	}
	return s.responses[call], nil
}

func textReply(text string) LLMResponse {
	return LLMResponse{Turn: TextTurn(RoleModel, text)}
}

func toolReply(calls ...ToolCall) LLMResponse {
	turn := Turn{Role: RoleModel}
	for i := range calls {
		turn.Parts = append(turn.Parts, Part{ToolCall: &calls[i]})
	}
	return LLMResponse{Turn: turn}
}

func newTestAgent(t *testing.T, llm LLMClient, opts ...AgentOption) (*Agent, *MemorySessionStore) {
	t.Helper()
	store := NewMemorySessionStore()
	return NewAgent(llm, store, nil, logging.Default(), opts...), store
}

func TestAgent_Chat_TextReply(t *testing.T) {
	llm := &stubLLMClient{responses: []LLMResponse{textReply("Hi! Who would you like to send money to?")}}
	agent, store := newTestAgent(t, llm)

	result, err := agent.Chat(context.Background(), "sess-1", "Hello")
	require.NoError(t, err)

	assert.Equal(t, "sess-1", result.SessionID)
	assert.Equal(t, "Hi! Who would you like to send money to?", result.Response)
	assert.Equal(t, 1, llm.calls)

	req := llm.requests[0]
	assert.Equal(t, defaultSystemPrompt, req.System)
	assert.Len(t, req.Tools, 3)
	assert.InDelta(t, 0.7, req.Temperature, 1e-6)
	require.Len(t, req.Turns, 1)
	assert.Equal(t, TextTurn(RoleUser, "Hello"), req.Turns[0])

	sess, err := store.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, sess.Transcript, 2)
	assert.Equal(t, RoleModel, sess.Transcript[1].Role)
}

func TestAgent_Chat_AmbiguousBeneficiaryThenResolve(t *testing.T) {
	llm := &stubLLMClient{responses: []LLMResponse{
		toolReply(ToolCall{ID: "call-1", Name: transfer.ToolSearchContacts, Args: map[string]any{"query": "John Smith"}}),
		textReply("I found two John Smiths: one in Brazil and one in Mexico. Which one?"),
		textReply("Great, John Smith in Mexico. How much would you like to send?"),
	}}
	agent, store := newTestAgent(t, llm)
	ctx := context.Background()

	result, err := agent.Chat(ctx, "sess-1", "Send money to John Smith")
	require.NoError(t, err)

	state := result.State
	assert.True(t, state.NeedsClarification)
	assert.Equal(t, transfer.FieldBeneficiary, state.AskedField())
	assert.Equal(t, []transfer.ClarificationOption{
		{ID: "B001", Label: "John Smith - Brazil", Value: "B001"},
		{ID: "B002", Label: "John Smith - Mexico", Value: "B002"},
	}, state.ClarificationOptions)
	assert.Nil(t, state.BeneficiaryID)

	// second model call sees the tool result correlated to the call
	require.Len(t, llm.requests, 2)
	turns := llm.requests[1].Turns
	require.Len(t, turns, 3)
	assert.True(t, turns[1].StartsWithToolCall())
	assert.Equal(t, RoleTool, turns[2].Role)
	resp := turns[2].Parts[0].ToolResponse
	require.NotNil(t, resp)
	assert.Equal(t, "call-1", resp.ID)
	assert.Equal(t, transfer.ToolSearchContacts, resp.Name)
	assert.Equal(t, true, resp.Content["multiple"])

	result, err = agent.Chat(ctx, "sess-1", "Mexico")
	require.NoError(t, err)

	state = result.State
	assert.False(t, state.NeedsClarification)
	assert.Empty(t, state.ClarificationOptions)
	assert.Nil(t, state.LastAskedField)
	require.NotNil(t, state.BeneficiaryID)
	assert.Equal(t, "B002", *state.BeneficiaryID)
	assert.Equal(t, "Mexico", *state.DestinationCountry)

	sess, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, sess.Transcript, 6)
	assert.Equal(t, state, sess.State)
}

func TestAgent_Chat_SingleMatchCommitsBeneficiary(t *testing.T) {
	llm := &stubLLMClient{responses: []LLMResponse{
		toolReply(
			ToolCall{ID: "c1", Name: transfer.ToolSearchContacts, Args: map[string]any{"query": "maria"}},
			ToolCall{ID: "c2", Name: transfer.ToolCalculateFXRate, Args: map[string]any{"amount": 100.0, "country": "Spain"}},
		),
		textReply("Maria Garcia in Spain will receive 92.00 EUR."),
	}}
	agent, store := newTestAgent(t, llm)

	result, err := agent.Chat(context.Background(), "sess-2", "Send $100 to Maria")
	require.NoError(t, err)

	assert.Equal(t, "Maria Garcia in Spain will receive 92.00 EUR.", result.Response)
	assert.Equal(t, "B003", *result.State.BeneficiaryID)
	assert.Equal(t, "Maria Garcia", *result.State.BeneficiaryName)
	assert.Equal(t, "Spain", *result.State.DestinationCountry)
	assert.False(t, result.State.NeedsClarification)

	sess, err := store.Get(context.Background(), "sess-2")
	require.NoError(t, err)
	require.Len(t, sess.Transcript, 5)
	assert.Equal(t, "c1", sess.Transcript[2].Parts[0].ToolResponse.ID)
	quote := sess.Transcript[3].Parts[0].ToolResponse
	assert.Equal(t, "c2", quote.ID)
	assert.Equal(t, 92.0, quote.Content["destination_amount"])
}

func TestAgent_Chat_IgnoresSecondRoundToolCalls(t *testing.T) {
	llm := &stubLLMClient{responses: []LLMResponse{
		toolReply(ToolCall{ID: "c1", Name: transfer.ToolGetSupportedCountries}),
		{Turn: Turn{Role: RoleModel, Parts: []Part{
			{Text: "We support ten countries."},
			{ToolCall: &ToolCall{ID: "c2", Name: transfer.ToolSearchContacts, Args: map[string]any{"query": "Ana"}}},
		}}},
	}}
	agent, store := newTestAgent(t, llm)

	result, err := agent.Chat(context.Background(), "sess-3", "Where can I send money?")
	require.NoError(t, err)

	assert.Equal(t, 2, llm.calls)
	assert.Equal(t, "We support ten countries.", result.Response)
	assert.Nil(t, result.State.BeneficiaryID)

	sess, err := store.Get(context.Background(), "sess-3")
	require.NoError(t, err)
	last := sess.Transcript[len(sess.Transcript)-1]
	assert.Empty(t, last.ToolCalls())
}

func TestAgent_Chat_UnknownToolDoesNotFail(t *testing.T) {
	llm := &stubLLMClient{responses: []LLMResponse{
		toolReply(ToolCall{ID: "c1", Name: "wire_funds"}),
		textReply("Sorry, I can't do that."),
	}}
	agent, store := newTestAgent(t, llm)

	_, err := agent.Chat(context.Background(), "sess-4", "wire it now")
	require.NoError(t, err)

	sess, err := store.Get(context.Background(), "sess-4")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"error": "Unknown tool: wire_funds"}, sess.Transcript[2].Parts[0].ToolResponse.Content)
}

func TestAgent_Chat_LLMErrorKeepsPartialState(t *testing.T) {
	llm := &stubLLMClient{errs: []error{errors.New("429 RESOURCE_EXHAUSTED: quota exceeded")}}
	agent, store := newTestAgent(t, llm)
	ctx := context.Background()

	sess, err := store.GetOrCreate(ctx, "sess-5")
	require.NoError(t, err)
	sess.State.AskClarification(transfer.FieldBeneficiary, []transfer.ClarificationOption{
		{ID: "B001", Label: "John Smith - Brazil", Value: "B001"},
		{ID: "B002", Label: "John Smith - Mexico", Value: "B002"},
	})
	require.NoError(t, store.Save(ctx, sess))

	_, err = agent.Chat(ctx, "sess-5", "B001")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrThrottled)

	sess, err = store.Get(ctx, "sess-5")
	require.NoError(t, err)
	assert.Equal(t, "B001", *sess.State.BeneficiaryID)
	assert.False(t, sess.State.NeedsClarification)
	require.Len(t, sess.Transcript, 1)
	assert.Equal(t, "B001", sess.Transcript[0].Text())
}

func TestAgent_Chat_SecondCallFailure(t *testing.T) {
	llm := &stubLLMClient{
		responses: []LLMResponse{toolReply(ToolCall{ID: "c1", Name: transfer.ToolSearchContacts, Args: map[string]any{"query": "Ana"}})},
		errs:      []error{nil, errors.New("connection reset by peer")},
	}
	agent, store := newTestAgent(t, llm)

	_, err := agent.Chat(context.Background(), "sess-6", "Ana")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInternal)

	sess, err := store.Get(context.Background(), "sess-6")
	require.NoError(t, err)
	assert.Equal(t, "B005", *sess.State.BeneficiaryID)
	assert.Len(t, sess.Transcript, 3)
}

func TestAgent_Chat_Unconfigured(t *testing.T) {
	agent, _ := newTestAgent(t, NewUnconfiguredLLMClient(APIKeySetting))

	_, err := agent.Chat(context.Background(), "sess-7", "Hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)

	var llmErr *LLMError
	require.True(t, errors.As(err, &llmErr))
	assert.Equal(t, APIKeySetting, llmErr.Setting)
}

type blockingLLMClient struct{}

func (blockingLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	<-ctx.Done()
	return LLMResponse{}, ctx.Err()
}

func TestAgent_Chat_Timeout(t *testing.T) {
	agent, _ := newTestAgent(t, blockingLLMClient{}, WithLLMTimeout(10*time.Millisecond))

	_, err := agent.Chat(context.Background(), "sess-8", "Hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrThrottled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type countingLLMClient struct {
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (c *countingLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		seen := c.maxSeen.Load()
		if n <= seen || c.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	return textReply("ok"), nil
}

func TestAgent_Chat_SerializesSameSession(t *testing.T) {
	llm := &countingLLMClient{}
	agent, store := newTestAgent(t, llm)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := agent.Chat(context.Background(), "shared", fmt.Sprintf("message %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), llm.maxSeen.Load())
	sess, err := store.Get(context.Background(), "shared")
	require.NoError(t, err)
	assert.Len(t, sess.Transcript, 16)
	assert.Zero(t, agent.lockCount())
}

func TestAgent_ReleasesSessionLocks(t *testing.T) {
	llm := &stubLLMClient{responses: []LLMResponse{textReply("one"), textReply("two")}}
	agent, _ := newTestAgent(t, llm)
	ctx := context.Background()

	_, err := agent.Chat(ctx, "a", "hi")
	require.NoError(t, err)
	_, err = agent.Chat(ctx, "b", "hi")
	require.NoError(t, err)
	assert.ErrorIs(t, agent.DeleteSession(ctx, "never-created"), ErrSessionNotFound)

	assert.Zero(t, agent.lockCount())
}

func TestAgent_SessionLifecycle(t *testing.T) {
	agent, _ := newTestAgent(t, &stubLLMClient{})
	ctx := context.Background()

	sess, err := agent.CreateSession(ctx)
	require.NoError(t, err)

	state, err := agent.State(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, transfer.NewState(), state)

	ids, err := agent.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{sess.ID}, ids)

	require.NoError(t, agent.DeleteSession(ctx, sess.ID))
	assert.ErrorIs(t, agent.DeleteSession(ctx, sess.ID), ErrSessionNotFound)

	_, err = agent.State(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	ids, err = agent.ListSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestAgent_Chat_OversizedQuoteSavesToRedis(t *testing.T) {
	store, _ := newRedisStore(t, 0)
	llm := &stubLLMClient{responses: []LLMResponse{
		toolReply(ToolCall{ID: "c1", Name: transfer.ToolCalculateFXRate, Args: map[string]any{"amount": 1e308, "country": "Colombia"}}),
		textReply("That amount is too large."),
	}}
	agent := NewAgent(llm, store, nil, logging.Default())
	ctx := context.Background()

	result, err := agent.Chat(ctx, "big", "Send 1e308 dollars to Colombia")
	require.NoError(t, err)
	assert.Equal(t, "That amount is too large.", result.Response)

	sess, err := store.Get(ctx, "big")
	require.NoError(t, err)
	require.Len(t, sess.Transcript, 4)
	quote := sess.Transcript[2].Parts[0].ToolResponse
	assert.Equal(t, true, quote.Content["error"])
	assert.Equal(t, "amount out of range", quote.Content["message"])
}
