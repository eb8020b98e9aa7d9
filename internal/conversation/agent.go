package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/send-money-agent/internal/observability/metrics"
	"github.com/wolfman30/send-money-agent/internal/transfer"
	"github.com/wolfman30/send-money-agent/pkg/logging"
)

const (
	defaultTemperature = 0.7
	defaultLLMTimeout  = 60 * time.Second
	// APIKeySetting is the environment variable reported on credential errors.
	APIKeySetting = "GOOGLE_API_KEY"
)

var agentTracer = otel.Tracer("send_money.internal.conversation.agent")

// ChatResult is the outcome of one user turn.
type ChatResult struct {
	SessionID string         `json:"session_id"`
	Response  string         `json:"response"`
	State     transfer.State `json:"state"`
}

// Agent drives a request through clarification resolution, the model, at most
// one round of tool execution and the final model reply.
type Agent struct {
	llm      LLMClient
	store    SessionStore
	executor *transfer.Executor
	resolver *transfer.Resolver
	logger   *logging.Logger
	metrics  *metrics.ChatMetrics

	model       string
	system      string
	temperature float32
	timeout     time.Duration
	setting     string

	locksMu sync.Mutex
	locks   map[string]*sessionLock
}

// sessionLock is dropped from Agent.locks once no request holds or awaits it.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

type AgentOption func(*Agent)

// WithModel labels requests and metrics with a model id.
func WithModel(model string) AgentOption {
	return func(a *Agent) {
		a.model = model
	}
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float32) AgentOption {
	return func(a *Agent) {
		a.temperature = t
	}
}

// WithLLMTimeout bounds each model call; zero disables the bound.
func WithLLMTimeout(d time.Duration) AgentOption {
	return func(a *Agent) {
		a.timeout = d
	}
}

// WithSystemPrompt replaces the default directive.
func WithSystemPrompt(prompt string) AgentOption {
	return func(a *Agent) {
		a.system = prompt
	}
}

// WithMetrics records turn, tool and LLM metrics.
func WithMetrics(m *metrics.ChatMetrics) AgentOption {
	return func(a *Agent) {
		a.metrics = m
	}
}

// WithCredentialSetting names the credential reported on configuration errors.
func WithCredentialSetting(name string) AgentOption {
	return func(a *Agent) {
		a.setting = name
	}
}

func NewAgent(llm LLMClient, store SessionStore, dir *transfer.Directory, logger *logging.Logger, opts ...AgentOption) *Agent {
	if llm == nil {
		panic("conversation: llm client cannot be nil")
	}
	if store == nil {
		store = NewMemorySessionStore()
	}
	if dir == nil {
		dir = transfer.DefaultDirectory()
	}
	if logger == nil {
		logger = logging.Default()
	}
	a := &Agent{
		llm:         llm,
		store:       store,
		executor:    transfer.NewExecutor(dir),
		resolver:    transfer.NewResolver(dir),
		logger:      logger,
		model:       DefaultGeminiModel,
		system:      defaultSystemPrompt,
		temperature: defaultTemperature,
		timeout:     defaultLLMTimeout,
		setting:     APIKeySetting,
		locks:       make(map[string]*sessionLock),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CreateSession starts an empty session.
func (a *Agent) CreateSession(ctx context.Context) (*Session, error) {
	sess, err := a.store.Create(ctx)
	if err != nil {
		return nil, err
	}
	a.logger.Info("session created", "session_id", sess.ID)
	return sess, nil
}

// State returns the transfer state of an existing session.
func (a *Agent) State(ctx context.Context, sessionID string) (transfer.State, error) {
	sess, err := a.store.Get(ctx, sessionID)
	if err != nil {
		return transfer.State{}, err
	}
	return sess.State, nil
}

// DeleteSession removes a session.
func (a *Agent) DeleteSession(ctx context.Context, sessionID string) error {
	unlock := a.lock(sessionID)
	defer unlock()
	if err := a.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	a.logger.Info("session deleted", "session_id", sessionID)
	return nil
}

// ListSessions returns every known session id.
func (a *Agent) ListSessions(ctx context.Context) ([]string, error) {
	return a.store.List(ctx)
}

// Chat processes one user message. Unknown session ids are created. On an LLM
// failure the partially updated session is still saved and the classified
// error is returned.
func (a *Agent) Chat(ctx context.Context, sessionID, message string) (*ChatResult, error) {
	ctx, span := agentTracer.Start(ctx, "conversation.chat")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	unlock := a.lock(sessionID)
	defer unlock()

	start := time.Now()
	sess, err := a.store.GetOrCreate(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		a.metrics.ObserveTurn("error")
		return nil, fmt.Errorf("conversation: failed to load session: %w", err)
	}

	if a.resolver.Resolve(&sess.State, message) {
		a.logger.Debug("clarification resolved from user message",
			"session_id", sessionID,
			"beneficiary_id", deref(sess.State.BeneficiaryID),
		)
	}
	sess.Transcript = append(sess.Transcript, TextTurn(RoleUser, message))

	reply, err := a.complete(ctx, sess.Transcript)
	if err != nil {
		return nil, a.fail(ctx, sess, err)
	}

	toolCalls := 0
	if reply.Turn.StartsWithToolCall() {
		calls := reply.Turn.ToolCalls()
		toolCalls = len(calls)
		sess.Transcript = append(sess.Transcript, reply.Turn)
		sess.Transcript = append(sess.Transcript, a.runTools(ctx, sessionID, &sess.State, calls)...)

		reply, err = a.complete(ctx, sess.Transcript)
		if err != nil {
			return nil, a.fail(ctx, sess, err)
		}
		if ignored := len(reply.Turn.ToolCalls()); ignored > 0 {
			a.logger.Warn("ignoring tool calls in final reply",
				"session_id", sessionID,
				"tool_calls", ignored,
			)
		}
	}

	final := textOnly(reply.Turn)
	sess.Transcript = append(sess.Transcript, final)
	if err := a.store.Save(ctx, sess); err != nil {
		span.RecordError(err)
		a.metrics.ObserveTurn("error")
		return nil, fmt.Errorf("conversation: failed to save session: %w", err)
	}

	a.metrics.ObserveTurn("ok")
	a.logger.Info("chat turn completed",
		"session_id", sessionID,
		"tool_calls", toolCalls,
		"needs_clarification", sess.State.NeedsClarification,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &ChatResult{
		SessionID: sessionID,
		Response:  final.Text(),
		State:     sess.State.Clone(),
	}, nil
}

func (a *Agent) complete(ctx context.Context, turns []Turn) (LLMResponse, error) {
	ctx, span := agentTracer.Start(ctx, "conversation.llm")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", a.model),
		attribute.Int("llm.turns", len(turns)),
	)

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := a.llm.Complete(ctx, LLMRequest{
		Model:       a.model,
		System:      a.system,
		Tools:       transfer.Catalog(),
		Turns:       turns,
		Temperature: a.temperature,
	})
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
	}
	a.metrics.ObserveLLM(a.model, status, time.Since(start).Seconds())
	if err != nil {
		return LLMResponse{}, ClassifyLLMError(err, a.setting)
	}
	a.metrics.ObserveTokens(a.model, resp.Usage.InputTokens, resp.Usage.OutputTokens, resp.Usage.TotalTokens)
	return resp, nil
}

// runTools executes calls in order, merges search results into state and
// returns one tool-result turn per call.
func (a *Agent) runTools(ctx context.Context, sessionID string, state *transfer.State, calls []ToolCall) []Turn {
	turns := make([]Turn, 0, len(calls))
	for _, call := range calls {
		result := a.executor.Execute(ctx, call.Name, call.Args)
		outcome := applyToolResult(state, result)
		a.metrics.ObserveToolCall(call.Name, outcome)
		a.logger.Info("tool executed",
			"session_id", sessionID,
			"tool", call.Name,
			"outcome", outcome,
		)
		turns = append(turns, Turn{
			Role: RoleTool,
			Parts: []Part{{ToolResponse: &ToolResponse{
				ID:      call.ID,
				Name:    call.Name,
				Content: result.Payload(),
			}}},
		})
	}
	return turns
}

// applyToolResult folds a tool result into state and returns its outcome label.
func applyToolResult(state *transfer.State, result transfer.Result) string {
	switch r := result.(type) {
	case transfer.SearchResult:
		switch r.Outcome {
		case transfer.SearchSingle:
			state.SelectBeneficiary(r.Contact)
			return "single"
		case transfer.SearchMultiple:
			state.AskClarification(transfer.FieldBeneficiary, r.Options())
			return "multiple"
		default:
			return "no_match"
		}
	case transfer.CountriesResult, transfer.QuoteResult:
		return "ok"
	case transfer.ToolError:
		if r.Unknown {
			return "unknown_tool"
		}
		return "error"
	default:
		return "unknown"
	}
}

func (a *Agent) fail(ctx context.Context, sess *Session, err error) error {
	a.metrics.ObserveTurn(turnStatus(err))
	if saveErr := a.store.Save(ctx, sess); saveErr != nil {
		a.logger.Error("failed to save session after llm error",
			"session_id", sess.ID,
			"error", saveErr,
		)
	}
	a.logger.Error("llm call failed",
		"session_id", sess.ID,
		"error", err,
	)
	return err
}

func turnStatus(err error) string {
	switch {
	case errors.Is(err, ErrThrottled):
		return "throttled"
	case errors.Is(err, ErrConfiguration):
		return "misconfigured"
	default:
		return "error"
	}
}

// lock serializes requests for one session.
func (a *Agent) lock(sessionID string) func() {
	a.locksMu.Lock()
	l, ok := a.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		a.locks[sessionID] = l
	}
	l.refs++
	a.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		a.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(a.locks, sessionID)
		}
		a.locksMu.Unlock()
	}
}

func (a *Agent) lockCount() int {
	a.locksMu.Lock()
	defer a.locksMu.Unlock()
	return len(a.locks)
}

// textOnly drops tool calls the final reply may carry; they are never executed.
func textOnly(turn Turn) Turn {
	out := Turn{Role: RoleModel, Parts: []Part{}}
	for _, p := range turn.Parts {
		if p.ToolCall == nil {
			out.Parts = append(out.Parts, p)
		}
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
