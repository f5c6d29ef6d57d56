package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dusk-indust/loanflow/internal/application"
	"github.com/dusk-indust/loanflow/internal/decision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const approveJSON = `{"overall_risk":"low","loan_recommendation":"Approve",` +
	`"approved_amount":250000,"recommended_rate":6.5,"recommended_term":360,` +
	`"conditions":[],"reasoning":"Strong file."}`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testApplication() application.Data {
	return application.Data{
		HomePrice:          application.Float(300000),
		LoanAmount:         application.Float(300000),
		DownPaymentPercent: application.Float(20),
		DownPayment:        application.Float(60000),
		AnnualIncome:       application.Float(120000),
		ApplicantName:      application.String("Jane Doe"),
	}
}

// scripted returns an agent that sends events in order, then closes its
// stream. It stops early if the run's context ends.
func scripted(events ...ProcessingEvent) StageAgent {
	return StageAgentFunc(func(ctx context.Context, _ StageRequest) (<-chan ProcessingEvent, error) {
		ch := make(chan ProcessingEvent)
		go func() {
			defer close(ch)
			for _, ev := range events {
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
			}
		}()
		return ch, nil
	})
}

// signalling returns an agent that brackets its text with explicit signals.
func signalling(id StageID, chunks ...string) StageAgent {
	events := []ProcessingEvent{Started(id)}
	for _, c := range chunks {
		events = append(events, Delta(id, c))
	}
	return scripted(append(events, Completed(id))...)
}

// blocking returns an agent that never produces output and only closes its
// stream once the run is canceled.
func blocking(started *atomic.Bool) StageAgent {
	return StageAgentFunc(func(ctx context.Context, _ StageRequest) (<-chan ProcessingEvent, error) {
		if started != nil {
			started.Store(true)
		}
		ch := make(chan ProcessingEvent)
		go func() {
			<-ctx.Done()
			close(ch)
		}()
		return ch, nil
	})
}

func defaultAgents(decisionText string) map[StageID]StageAgent {
	return map[StageID]StageAgent{
		StageIntake:   signalling(StageIntake, "intake ok"),
		StageCredit:   signalling(StageCredit, "credit ok"),
		StageIncome:   signalling(StageIncome, "income ok"),
		StageDecision: signalling(StageDecision, decisionText),
	}
}

func newTestPipeline(t *testing.T, agents map[StageID]StageAgent, opts ...Option) *Pipeline {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	p, err := NewPipeline(DefaultStages(), agents, opts...)
	require.NoError(t, err)
	return p
}

func collect(ctx context.Context, p *Pipeline) []ProcessingUpdate {
	var out []ProcessingUpdate
	for u := range p.Process(ctx, testApplication()) {
		out = append(out, u)
	}
	return out
}

// ---------------------------------------------------------------------------
// NewPipeline
// ---------------------------------------------------------------------------

func TestNewPipeline_Validation(t *testing.T) {
	agents := defaultAgents(approveJSON)

	_, err := NewPipeline(nil, agents)
	assert.Error(t, err)

	_, err = NewPipeline([]Stage{{ID: ""}}, agents)
	assert.Error(t, err)

	_, err = NewPipeline([]Stage{{ID: StageIntake}, {ID: StageIntake}}, agents)
	assert.ErrorContains(t, err, "duplicate")

	_, err = NewPipeline([]Stage{{ID: "appraisal"}}, agents)
	assert.ErrorContains(t, err, "no agent")
}

func TestNewPipeline_NormalizesOrdinals(t *testing.T) {
	stages := []Stage{
		{ID: StageCredit, Ordinal: 7, Label: "Credit"},
		{ID: StageDecision},
	}
	p, err := NewPipeline(stages, defaultAgents(approveJSON))
	require.NoError(t, err)

	got := p.Stages()
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Ordinal)
	assert.Equal(t, 2, got[1].Ordinal)
	assert.Equal(t, "decision", got[1].Label)
	assert.Equal(t, DefaultDeadline, p.Deadline())

	// Stages returns a copy.
	got[0].Label = "changed"
	assert.Equal(t, "Credit", p.Stages()[0].Label)
}

// ---------------------------------------------------------------------------
// Process: success paths
// ---------------------------------------------------------------------------

func TestProcess_FullRun(t *testing.T) {
	p := newTestPipeline(t, defaultAgents(approveJSON))

	ups := collect(context.Background(), p)
	require.Len(t, ups, 9)

	wantProgress := []int{0, 25, 25, 50, 50, 75, 75, 100}
	stages := DefaultStages()
	for i := 0; i < 8; i++ {
		u := ups[i]
		stage := stages[i/2]
		assert.Equal(t, stage.Label, u.Agent, "update %d", i)
		assert.Equal(t, string(stage.ID), u.Phase, "update %d", i)
		assert.Equal(t, wantProgress[i], u.Progress, "update %d", i)
		if i%2 == 0 {
			assert.Equal(t, UpdateInProgress, u.Status, "update %d", i)
		} else {
			assert.Equal(t, UpdateCompleted, u.Status, "update %d", i)
		}
		assert.Nil(t, u.AssessmentData)
		assert.False(t, u.IsTerminal())
	}

	final := ups[8]
	assert.True(t, final.IsTerminal())
	assert.Equal(t, PhaseComplete, final.Phase)
	assert.Equal(t, UpdateCompleted, final.Status)
	assert.Equal(t, 100, final.Progress)
	require.NotNil(t, final.AssessmentData)
	assert.Equal(t, decision.ProvenanceParsed, final.AssessmentData.Provenance)

	d := final.AssessmentData.Decision
	require.NotNil(t, d)
	assert.Equal(t, "approved", d.Status)
	assert.Equal(t, 250000.0, d.LoanAmount)
	assert.Equal(t, 6.5, d.InterestRate)
	assert.Equal(t, 360, d.Term)
	assert.Equal(t, decision.MonthlyPayment(250000, 6.5, 360), d.MonthlyPayment)
	assert.Equal(t, "low", final.Metadata["overall_risk"])
	assert.Equal(t, false, final.Metadata["fallback"])
}

func TestProcess_ProgressIsMonotonic(t *testing.T) {
	p := newTestPipeline(t, defaultAgents(approveJSON))

	last := 0
	for u := range p.Process(context.Background(), testApplication()) {
		assert.GreaterOrEqual(t, u.Progress, last)
		last = u.Progress
	}
	assert.Equal(t, 100, last)
}

func TestProcess_InfersBoundariesWithoutSignals(t *testing.T) {
	agents := map[StageID]StageAgent{
		StageIntake:   scripted(Delta(StageIntake, "a"), Delta(StageIntake, "b")),
		StageCredit:   scripted(),
		StageIncome:   scripted(Delta("", "untagged")),
		StageDecision: scripted(Delta(StageDecision, approveJSON)),
	}
	p := newTestPipeline(t, agents)

	ups := collect(context.Background(), p)
	require.Len(t, ups, 9)
	for i := 0; i < 8; i += 2 {
		assert.Equal(t, UpdateInProgress, ups[i].Status)
		assert.Equal(t, UpdateCompleted, ups[i+1].Status)
	}
	assert.Equal(t, decision.ProvenanceParsed, ups[8].AssessmentData.Provenance)
}

func TestProcess_FirstContentBoundary(t *testing.T) {
	agents := defaultAgents(approveJSON)
	agents[StageIntake] = scripted(
		Started(StageIntake),
		Delta(StageIntake, "first"),
		Delta(StageIntake, " second"),
	)
	p := newTestPipeline(t, agents, WithBoundaryMode(BoundaryFirstContent))

	ups := collect(context.Background(), p)
	require.Len(t, ups, 9)
	assert.Equal(t, UpdateInProgress, ups[0].Status)
	assert.Equal(t, UpdateCompleted, ups[1].Status)
	assert.Equal(t, string(StageIntake), ups[1].Phase)
	assert.Equal(t, string(StageCredit), ups[2].Phase)
}

func TestProcess_MultiChunkDecision(t *testing.T) {
	chunks := []string{
		"Assessment follows.\n```json\n{\"overall_risk\":\"medium\",",
		"\"loan_recommendation\":\"Conditional Approval\",",
		"\"approved_amount\":200000,\"conditions\":[\"Verify employment\"],",
		"\"reasoning\":\"Moderate DTI.\"}\n```",
	}
	agents := defaultAgents("")
	agents[StageDecision] = signalling(StageDecision, chunks...)
	p := newTestPipeline(t, agents)

	ups := collect(context.Background(), p)
	final := ups[len(ups)-1]
	require.NotNil(t, final.AssessmentData)
	assert.Equal(t, decision.ProvenanceParsed, final.AssessmentData.Provenance)
	assert.Equal(t, "conditional", final.AssessmentData.Decision.Status)
	assert.Equal(t, 200000.0, final.AssessmentData.Decision.LoanAmount)
	assert.Equal(t, decision.DefaultRate, final.AssessmentData.Decision.InterestRate)
	assert.Equal(t, []string{"Verify employment"}, final.AssessmentData.Decision.Conditions)
}

func TestProcess_FallbackOnMalformedDecision(t *testing.T) {
	p := newTestPipeline(t, defaultAgents("I think this applicant is fine."))

	ups := collect(context.Background(), p)
	require.Len(t, ups, 9)

	final := ups[8]
	assert.Equal(t, UpdateCompleted, final.Status)
	require.NotNil(t, final.AssessmentData)
	assert.Equal(t, decision.ProvenanceFallback, final.AssessmentData.Provenance)
	assert.Equal(t, "manual_review", final.AssessmentData.Decision.Status)
	assert.Equal(t, 300000.0, final.AssessmentData.Decision.LoanAmount)
	assert.Equal(t, true, final.Metadata["fallback"])
}

func TestProcess_PassesPriorOutputs(t *testing.T) {
	var (
		mu  sync.Mutex
		got StageRequest
	)
	agents := defaultAgents("")
	inner := signalling(StageDecision, approveJSON)
	agents[StageDecision] = StageAgentFunc(func(ctx context.Context, req StageRequest) (<-chan ProcessingEvent, error) {
		mu.Lock()
		got = req
		mu.Unlock()
		return inner.Run(ctx, req)
	})
	p := newTestPipeline(t, agents)

	collect(context.Background(), p)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, StageDecision, got.Stage.ID)
	assert.Equal(t, 4, got.Stage.Ordinal)
	assert.Contains(t, got.Payload, "Jane Doe")
	assert.Equal(t, []StageOutput{
		{Stage: StageIntake, Text: "intake ok"},
		{Stage: StageCredit, Text: "credit ok"},
		{Stage: StageIncome, Text: "income ok"},
	}, got.PriorOutputs)
}

func TestProcess_DropsForeignAndPassthroughEvents(t *testing.T) {
	agents := defaultAgents(approveJSON)
	agents[StageIntake] = scripted(
		Started(StageIntake),
		Delta(StageCredit, "misrouted"),
		Delta("appraisal", "unknown"),
		Passthrough(StageIntake, []byte(`{"tool":"lookup"}`)),
		Completed(StageIntake),
	)
	p := newTestPipeline(t, agents)

	ups := collect(context.Background(), p)
	require.Len(t, ups, 9)
	assert.Equal(t, string(StageIntake), ups[0].Phase)
	assert.Equal(t, string(StageIntake), ups[1].Phase)
	assert.Equal(t, string(StageCredit), ups[2].Phase)
	assert.Equal(t, UpdateInProgress, ups[2].Status)
}

// ---------------------------------------------------------------------------
// Process: failure paths
// ---------------------------------------------------------------------------

func TestProcess_Timeout(t *testing.T) {
	agents := defaultAgents(approveJSON)
	agents[StageCredit] = blocking(nil)
	p := newTestPipeline(t, agents, WithDeadline(50*time.Millisecond))

	ups := collect(context.Background(), p)
	require.Len(t, ups, 3)

	assert.Equal(t, UpdateInProgress, ups[0].Status)
	assert.Equal(t, UpdateCompleted, ups[1].Status)

	final := ups[2]
	assert.True(t, final.IsTerminal())
	assert.Equal(t, UpdateError, final.Status)
	assert.Equal(t, PhaseError, final.Phase)
	assert.Contains(t, final.Message, "timed out")
	assert.Equal(t, 25, final.Progress)
	assert.Equal(t, "timeout", final.Metadata["error"])
	assert.Nil(t, final.AssessmentData)
}

func TestProcess_SlowRunHonorsDeadline(t *testing.T) {
	agents := defaultAgents(approveJSON)
	agents[StageIntake] = StageAgentFunc(func(context.Context, StageRequest) (<-chan ProcessingEvent, error) {
		time.Sleep(2 * time.Second)
		return make(chan ProcessingEvent), nil
	})
	p := newTestPipeline(t, agents, WithDeadline(100*time.Millisecond))

	start := time.Now()
	ups := collect(context.Background(), p)
	assert.Less(t, time.Since(start), time.Second)

	require.Len(t, ups, 1)
	assert.Equal(t, UpdateError, ups[0].Status)
	assert.Contains(t, ups[0].Message, "timed out")
	assert.Equal(t, "timeout", ups[0].Metadata["error"])
}

func TestProcess_RunErrorAfterDeadlineIsTimeout(t *testing.T) {
	agents := defaultAgents(approveJSON)
	agents[StageCredit] = StageAgentFunc(func(ctx context.Context, _ StageRequest) (<-chan ProcessingEvent, error) {
		<-ctx.Done()
		return nil, fmt.Errorf("a2a: message/stream: %w", ctx.Err())
	})
	p := newTestPipeline(t, agents, WithDeadline(50*time.Millisecond))

	ups := collect(context.Background(), p)
	require.Len(t, ups, 3)
	final := ups[2]
	assert.Equal(t, UpdateError, final.Status)
	assert.Contains(t, final.Message, "timed out")
	assert.NotContains(t, final.Message, "message/stream")
	assert.Equal(t, "timeout", final.Metadata["error"])
	assert.Equal(t, "Credit Assessment", final.Agent)
}

func TestProcess_ParentCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var started atomic.Bool

	agents := defaultAgents(approveJSON)
	agents[StageIntake] = blocking(&started)
	p := newTestPipeline(t, agents)

	go func() {
		for !started.Load() {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	ups := collect(ctx, p)
	require.Len(t, ups, 1)
	assert.Equal(t, UpdateError, ups[0].Status)
	assert.Contains(t, ups[0].Message, "canceled")
	assert.Equal(t, "canceled", ups[0].Metadata["error"])
}

func TestProcess_StageStreamError(t *testing.T) {
	agents := defaultAgents(approveJSON)
	agents[StageIncome] = scripted(
		Started(StageIncome),
		Failure(StageIncome, errors.New("payroll service unavailable")),
		Completed(StageIncome),
	)
	p := newTestPipeline(t, agents)

	ups := collect(context.Background(), p)
	require.Len(t, ups, 6)

	final := ups[5]
	assert.Equal(t, UpdateError, final.Status)
	assert.Contains(t, final.Message, "Income Verification")
	assert.Contains(t, final.Message, "payroll service unavailable")
	assert.Equal(t, 50, final.Progress)
	assert.Equal(t, "stage_failure", final.Metadata["error"])
}

func TestProcess_AgentRunError(t *testing.T) {
	agents := defaultAgents(approveJSON)
	agents[StageIntake] = StageAgentFunc(func(context.Context, StageRequest) (<-chan ProcessingEvent, error) {
		return nil, errors.New("connection refused")
	})
	p := newTestPipeline(t, agents)

	ups := collect(context.Background(), p)
	require.Len(t, ups, 1)
	assert.Equal(t, UpdateError, ups[0].Status)
	assert.Contains(t, ups[0].Message, "connection refused")
	assert.Equal(t, 0, ups[0].Progress)
}

func TestProcess_AgentPanics(t *testing.T) {
	agents := defaultAgents(approveJSON)
	agents[StageDecision] = StageAgentFunc(func(context.Context, StageRequest) (<-chan ProcessingEvent, error) {
		panic("model crashed")
	})
	p := newTestPipeline(t, agents)

	ups := collect(context.Background(), p)
	require.Len(t, ups, 7)
	assert.Equal(t, UpdateError, ups[6].Status)
	assert.Contains(t, ups[6].Message, "panicked")
}

func TestProcess_NilStream(t *testing.T) {
	agents := defaultAgents(approveJSON)
	agents[StageIntake] = StageAgentFunc(func(context.Context, StageRequest) (<-chan ProcessingEvent, error) {
		return nil, nil
	})
	p := newTestPipeline(t, agents)

	ups := collect(context.Background(), p)
	require.Len(t, ups, 1)
	assert.Equal(t, UpdateError, ups[0].Status)
}

// ---------------------------------------------------------------------------
// Process: sequence semantics
// ---------------------------------------------------------------------------

func TestProcess_EarlyStopHaltsStages(t *testing.T) {
	var calls atomic.Int32
	count := func(inner StageAgent) StageAgent {
		return StageAgentFunc(func(ctx context.Context, req StageRequest) (<-chan ProcessingEvent, error) {
			calls.Add(1)
			return inner.Run(ctx, req)
		})
	}
	agents := map[StageID]StageAgent{
		StageIntake:   count(signalling(StageIntake, "x")),
		StageCredit:   count(signalling(StageCredit, "x")),
		StageIncome:   count(signalling(StageIncome, "x")),
		StageDecision: count(signalling(StageDecision, approveJSON)),
	}
	p := newTestPipeline(t, agents)

	seen := 0
	for range p.Process(context.Background(), testApplication()) {
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)
	assert.Equal(t, int32(1), calls.Load())
}

func TestProcess_SingleUse(t *testing.T) {
	p := newTestPipeline(t, defaultAgents(approveJSON))
	seq := p.Process(context.Background(), testApplication())

	first := 0
	for range seq {
		first++
	}
	second := 0
	for range seq {
		second++
	}
	assert.Equal(t, 9, first)
	assert.Zero(t, second)
}

func TestProcess_LazyUntilIterated(t *testing.T) {
	var started atomic.Bool
	agents := defaultAgents(approveJSON)
	agents[StageIntake] = blocking(&started)
	p := newTestPipeline(t, agents)

	_ = p.Process(context.Background(), testApplication())
	assert.False(t, started.Load())
}

func TestProcess_IndependentRuns(t *testing.T) {
	p := newTestPipeline(t, defaultAgents(approveJSON))

	var wg sync.WaitGroup
	results := make([]int, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = len(collect(context.Background(), p))
		}(i)
	}
	wg.Wait()

	for _, n := range results {
		assert.Equal(t, 9, n)
	}
}
