package oracle

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quorum/internal/backend"
	"github.com/aristath/quorum/internal/capability"
	"github.com/aristath/quorum/internal/config"
	"github.com/aristath/quorum/internal/directory"
	"github.com/aristath/quorum/internal/observability"
)

// blockingBackend waits for cancellation.
type blockingBackend struct{}

func (blockingBackend) Send(ctx context.Context, msg backend.Message) (backend.Response, error) {
	<-ctx.Done()
	return backend.Response{}, ctx.Err()
}

func (blockingBackend) Name() string { return "blocking" }

func clientFor(role string, b backend.Backend, system string) *Client {
	return NewClient(ClientConfig{
		Bindings: map[string]Binding{role: {Backend: b, System: system}},
	})
}

func TestDecomposer(t *testing.T) {
	b := &scriptedBackend{responses: []any{`[{"id":"T1","task":"compute 2+2","dependencies":[]},{"id":"T2","task":"multiply by 3","dependencies":["T1"]}]`}}
	d := NewDecomposer(clientFor(config.RoleDecomposer, b, "You are an expert in task decomposition."))

	steps, err := d.Decompose(context.Background(), "compute (2+2)*3")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, []string{"T1"}, steps[1].Dependencies)

	msg := b.LastMessage()
	assert.Equal(t, "You are an expert in task decomposition.", msg.System)
	assert.Contains(t, msg.Content, "Complex Task: compute (2+2)*3")
	require.NotNil(t, msg.Temperature)
	assert.Equal(t, 0.3, *msg.Temperature)
}

func TestWorkerUsesPersonaAndContext(t *testing.T) {
	b := &scriptedBackend{responses: []any{`{"chain_of_thought":"4*3","final_answer":"12"}`}}
	w := NewWorker(clientFor(config.RoleWorker, b, ""))

	profile := directory.WorkerProfile{ID: "A", CapabilityText: "I'm an arithmetic agent.", Reputation: 90}
	ans, err := w.Act(context.Background(), profile, "multiply by 3", "T1: 4")
	require.NoError(t, err)
	assert.Equal(t, "12", ans.FinalAnswer)

	msg := b.LastMessage()
	assert.Equal(t, "You are an AI agent. I'm an arithmetic agent.", msg.System)
	assert.Contains(t, msg.Content, "Based on the following previous context:\nT1: 4\n")
	assert.Contains(t, msg.Content, "Task: multiply by 3")
}

func TestWorkerWithoutContextOmitsContextBlock(t *testing.T) {
	b := &scriptedBackend{responses: []any{`{"final_answer":"4"}`}}
	w := NewWorker(clientFor(config.RoleWorker, b, ""))

	_, err := w.Act(context.Background(), directory.WorkerProfile{ID: "A", CapabilityText: "math"}, "2+2", "")
	require.NoError(t, err)
	assert.NotContains(t, b.LastMessage().Content, "previous context")
}

func TestWorkerMalformedReply(t *testing.T) {
	b := &scriptedBackend{responses: []any{"The answer is 4."}}
	w := NewWorker(clientFor(config.RoleWorker, b, ""))

	_, err := w.Act(context.Background(), directory.WorkerProfile{ID: "A"}, "2+2", "")
	assert.ErrorIs(t, err, capability.ErrMalformedResponse)
	assert.False(t, errors.Is(err, capability.ErrOracleFailure))
}

func TestJudges(t *testing.T) {
	reply := `{"logical_coherence":8,"completeness":8,"correctness":8,"clarity":8,"instruction_following":8,"final_verdict":"Accepted","improvement_suggestions":""}`
	b := &scriptedBackend{responses: []any{reply, reply, reply}}
	judges := NewJudges(clientFor(config.RoleJudge, b, "You are an AI Judge."), 3)

	require.Len(t, judges, 3)
	assert.Equal(t, "Validator_1", judges[0].Name())
	assert.Equal(t, "Validator_3", judges[2].Name())

	v, err := judges[1].Judge(context.Background(), "2+2", capability.Answer{Reasoning: "add", FinalAnswer: "4"})
	require.NoError(t, err)
	assert.InDelta(t, 8.0, v.Composite(), 1e-9)

	msg := b.LastMessage()
	assert.Contains(t, msg.Content, `"final_answer": "4"`)
	require.NotNil(t, msg.Temperature)
	assert.Zero(t, *msg.Temperature)
}

func TestSynthesizer(t *testing.T) {
	b := &scriptedBackend{responses: []any{"  The result is 12.  ", "   "}}
	s := NewSynthesizer(clientFor(config.RoleSynthesizer, b, ""))

	entries := []capability.SynthesisEntry{{ID: "T1", Task: "compute 2+2", FinalAnswer: "4"}}
	out, err := s.Synthesize(context.Background(), "compute (2+2)*3", entries)
	require.NoError(t, err)
	assert.Equal(t, "The result is 12.", out)
	assert.Contains(t, b.LastMessage().Content, "Task T1 (compute 2+2): 4")

	_, err = s.Synthesize(context.Background(), "compute (2+2)*3", entries)
	assert.ErrorIs(t, err, capability.ErrMalformedResponse)
}

func TestRankerAndScorer(t *testing.T) {
	rb := &scriptedBackend{responses: []any{`["B", "A"]`}}
	r := NewRanker(clientFor(config.RoleRanker, rb, ""))

	profiles := []directory.WorkerProfile{
		{ID: "A", CapabilityText: "arithmetic", Reputation: 90},
		{ID: "B", CapabilityText: "writing", Reputation: 40},
	}
	ids, err := r.Rank(context.Background(), "write a poem", profiles)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, ids)
	assert.Contains(t, rb.LastMessage().Content, "A: arithmetic (Reputation score: 90)")

	sb := &scriptedBackend{responses: []any{"7"}}
	s := NewScorer(clientFor(config.RoleScorer, sb, ""))
	score, err := s.Score(context.Background(), "add numbers", "arithmetic")
	require.NoError(t, err)
	assert.Equal(t, 7.0, score)
}

func TestAnalyst(t *testing.T) {
	b := &scriptedBackend{responses: []any{`[{"id":"A1","task":"verify","blocking":true}]`}}
	a := NewAnalyst(clientFor(config.RoleAnalyst, b, ""))

	steps, err := a.FollowUps(context.Background(), "T1", "compute 2+2", capability.Answer{FinalAnswer: "4"})
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.True(t, steps[0].Blocking)
	assert.Contains(t, b.LastMessage().Content, "Subtask ID: T1")
}

func TestClientUnboundRole(t *testing.T) {
	c := NewClient(ClientConfig{})
	_, err := c.Complete(context.Background(), config.RoleWorker, backend.Message{Content: "x"})
	assert.ErrorIs(t, err, capability.ErrOracleFailure)
	assert.False(t, c.Has(config.RoleWorker))
}

func TestClientTimeoutIsOracleFailure(t *testing.T) {
	metrics := observability.NewMetrics()
	c := NewClient(ClientConfig{
		Bindings:    map[string]Binding{config.RoleJudge: {Backend: blockingBackend{}}},
		CallTimeout: 20 * time.Millisecond,
		Metrics:     metrics,
	})

	start := time.Now()
	_, err := c.Complete(context.Background(), config.RoleJudge, backend.Message{Content: "x"})
	assert.ErrorIs(t, err, capability.ErrOracleFailure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.OracleCallsTotal.WithLabelValues("judge", "timeout")))
}

func TestClientRetriesTransientFailures(t *testing.T) {
	b := &scriptedBackend{responses: []any{errors.New("502"), `["A"]`}}
	c := NewClient(ClientConfig{
		Bindings: map[string]Binding{config.RoleRanker: {Backend: b}},
		Retry:    fastRetry(2),
	})

	reply, err := c.Complete(context.Background(), config.RoleRanker, backend.Message{Content: "x"})
	require.NoError(t, err)
	assert.Equal(t, `["A"]`, reply)
	assert.Equal(t, 2, b.CallCount())
}

func TestNewSetLeavesUnboundOptionalRolesNil(t *testing.T) {
	b := &scriptedBackend{}
	c := NewClient(ClientConfig{Bindings: map[string]Binding{
		config.RoleDecomposer:  {Backend: b},
		config.RoleWorker:      {Backend: b},
		config.RoleJudge:       {Backend: b},
		config.RoleSynthesizer: {Backend: b},
	}})

	set := NewSet(c, 7)
	assert.Len(t, set.Judges, 7)
	assert.Nil(t, set.Ranker)
	assert.Nil(t, set.Scorer)
	assert.Nil(t, set.Analyst)
	assert.NotNil(t, set.Worker)
}

func TestBuildBindings(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Roles[config.RoleJudge] = config.RoleConfig{Provider: "anthropic", Model: "claude-haiku-4-5", SystemPrompt: "judge"}
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	bindings, err := BuildBindings(cfg, backend.NewProcessManager())
	require.NoError(t, err)
	require.Len(t, bindings, len(config.AllRoles))

	assert.Equal(t, "anthropic", bindings[config.RoleJudge].Backend.Name())
	assert.Equal(t, "judge", bindings[config.RoleJudge].System)
	assert.Equal(t, "claude", bindings[config.RoleWorker].Provider)
}

func TestBuildBindingsMissingKey(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Roles[config.RoleJudge] = config.RoleConfig{Provider: "anthropic"}
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := BuildBindings(cfg, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "judge"))
}
