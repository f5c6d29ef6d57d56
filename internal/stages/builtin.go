// Package stages provides StageAgents for the assessment pipeline: scripted
// built-in assessors that run in-process, and Remote, which drives a stage
// served by another process over A2A.
package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dusk-indust/loanflow/internal/application"
	"github.com/dusk-indust/loanflow/internal/decision"
	"github.com/dusk-indust/loanflow/internal/orchestrator"
)

// Underwriting thresholds used by the built-in assessors.
const (
	maxConformingLTV = 0.80
	maxInsuredLTV    = 0.95
	maxPreferredDTI  = 0.36
	maxQualifyingDTI = 0.43
	maxAnyDTI        = 0.50

	baseRate = 6.5
	termMos  = 360
)

// Option configures the built-in agents.
type Option func(*builtin)

// WithLatency pauses between emitted chunks to mimic a slow model.
func WithLatency(d time.Duration) Option {
	return func(b *builtin) {
		b.latency = d
	}
}

// WithChunkSize splits stage text into fragments of at most n bytes.
func WithChunkSize(n int) Option {
	return func(b *builtin) {
		if n > 0 {
			b.chunk = n
		}
	}
}

type composeFunc func(req orchestrator.StageRequest) string

type builtin struct {
	compose composeFunc
	latency time.Duration
	chunk   int
}

// Builtin returns the scripted assessor for id.
func Builtin(id orchestrator.StageID, opts ...Option) (orchestrator.StageAgent, error) {
	var fn composeFunc
	switch id {
	case orchestrator.StageIntake:
		fn = composeIntake
	case orchestrator.StageCredit:
		fn = composeCredit
	case orchestrator.StageIncome:
		fn = composeIncome
	case orchestrator.StageDecision:
		fn = composeDecision
	default:
		return nil, fmt.Errorf("stages: no built-in agent for stage %q", id)
	}

	b := &builtin{compose: fn, chunk: 48}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Builtins returns built-in agents for every stage in the list.
func Builtins(stages []orchestrator.Stage, opts ...Option) (map[orchestrator.StageID]orchestrator.StageAgent, error) {
	agents := make(map[orchestrator.StageID]orchestrator.StageAgent, len(stages))
	for _, s := range stages {
		ag, err := Builtin(s.ID, opts...)
		if err != nil {
			return nil, err
		}
		agents[s.ID] = ag
	}
	return agents, nil
}

// Run emits started, the composed text in fragments, then completed.
func (b *builtin) Run(ctx context.Context, req orchestrator.StageRequest) (<-chan orchestrator.ProcessingEvent, error) {
	id := req.Stage.ID
	text := b.compose(req)

	ch := make(chan orchestrator.ProcessingEvent)
	go func() {
		defer close(ch)

		send := func(ev orchestrator.ProcessingEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send(orchestrator.Started(id)) {
			return
		}
		for _, frag := range split(text, b.chunk) {
			if b.latency > 0 {
				select {
				case <-time.After(b.latency):
				case <-ctx.Done():
					return
				}
			}
			if !send(orchestrator.Delta(id, frag)) {
				return
			}
		}
		send(orchestrator.Completed(id))
	}()
	return ch, nil
}

// split cuts s into pieces of at most n bytes without breaking UTF-8
// sequences.
func split(s string, n int) []string {
	var out []string
	for len(s) > n {
		cut := n
		for cut > 0 && !utf8Start(s[cut]) {
			cut--
		}
		if cut == 0 {
			cut = n
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }

// metrics are the ratios every assessor reasons about.
type metrics struct {
	price    float64
	financed float64
	income   float64
	ltv      float64
	payment  float64
	dti      float64
}

func measure(app application.Data) metrics {
	m := metrics{ltv: app.LoanToValue()}
	if app.HomePrice != nil {
		m.price = *app.HomePrice
	}
	m.financed = app.RequestedAmount()
	if app.DownPayment != nil {
		m.financed -= *app.DownPayment
	}
	if m.financed < 0 {
		m.financed = 0
	}
	if app.AnnualIncome != nil {
		m.income = *app.AnnualIncome
	}
	m.payment = decision.MonthlyPayment(m.financed, baseRate, termMos)
	if m.income > 0 {
		m.dti = m.payment / (m.income / 12)
	}
	return m
}

func pct(r float64) string {
	return humanize.FtoaWithDigits(r*100, 1) + "%"
}

func composeIntake(req orchestrator.StageRequest) string {
	app := req.Application
	var missing []string
	if app.HomePrice == nil {
		missing = append(missing, "home price")
	}
	if app.DownPayment == nil {
		missing = append(missing, "down payment")
	}
	if app.AnnualIncome == nil {
		missing = append(missing, "annual income")
	}
	if app.ApplicantName == nil || app.Email == nil || app.IDLastFour == nil {
		missing = append(missing, "applicant identity")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Intake review for %s. ", nameOf(app))
	if len(missing) == 0 {
		b.WriteString("All required fields are present. ")
	} else {
		fmt.Fprintf(&b, "Missing: %s. ", strings.Join(missing, ", "))
	}
	m := measure(app)
	fmt.Fprintf(&b, "Financing %s against a %s purchase.",
		application.Money(m.financed), application.Money(m.price))
	return b.String()
}

func composeCredit(req orchestrator.StageRequest) string {
	m := measure(req.Application)

	band := "prime"
	switch {
	case m.ltv > maxInsuredLTV:
		band = "high exposure"
	case m.ltv > maxConformingLTV:
		band = "insured"
	}
	return fmt.Sprintf(
		"Credit assessment: loan-to-value %s (%s). Estimated payment %s per month over %d months at %s%%.",
		pct(m.ltv), band, application.Money(m.payment), termMos, humanize.FtoaWithDigits(baseRate, 3))
}

func composeIncome(req orchestrator.StageRequest) string {
	m := measure(req.Application)
	if m.income <= 0 {
		return "Income verification: no income reported; unable to compute debt-to-income."
	}

	verdict := "within preferred limits"
	switch {
	case m.dti > maxAnyDTI:
		verdict = "above the maximum allowed"
	case m.dti > maxQualifyingDTI:
		verdict = "above qualifying limits"
	case m.dti > maxPreferredDTI:
		verdict = "acceptable with conditions"
	}
	return fmt.Sprintf("Income verification: %s annual income, housing debt-to-income %s, %s.",
		application.Money(m.income), pct(m.dti), verdict)
}

func assess(app application.Data) decision.Assessment {
	m := measure(app)
	var (
		rec    decision.Recommendation
		amount = m.financed
		rate   float64
		term   = termMos
	)
	a := decision.Assessment{Conditions: []string{}}

	switch {
	case m.income <= 0 || m.price <= 0:
		a.OverallRisk = "unknown"
		rec = decision.ManualReview
		rate = decision.DefaultRate
		a.Reasoning = "Income or property value could not be established."
	case m.dti > maxAnyDTI || m.ltv > maxInsuredLTV:
		a.OverallRisk = "high"
		rec = decision.Deny
		rate = baseRate + 1.5
		amount = 0
		a.Reasoning = fmt.Sprintf("Debt-to-income %s and loan-to-value %s exceed program limits.", pct(m.dti), pct(m.ltv))
	case m.dti > maxQualifyingDTI:
		a.OverallRisk = "elevated"
		rec = decision.ManualReview
		rate = baseRate + 0.75
		a.Reasoning = fmt.Sprintf("Debt-to-income %s needs an underwriter's judgment.", pct(m.dti))
	case m.dti > maxPreferredDTI || m.ltv > maxConformingLTV:
		a.OverallRisk = "medium"
		rec = decision.ConditionalApproval
		rate = baseRate + 0.375
		if m.ltv > maxConformingLTV {
			a.Conditions = append(a.Conditions, "Private mortgage insurance required")
		}
		a.Conditions = append(a.Conditions, "Verify employment and income documentation")
		a.Reasoning = fmt.Sprintf("Qualifies with conditions: debt-to-income %s, loan-to-value %s.", pct(m.dti), pct(m.ltv))
	default:
		a.OverallRisk = "low"
		rec = decision.Approve
		rate = baseRate
		a.Reasoning = fmt.Sprintf("Strong file: debt-to-income %s, loan-to-value %s.", pct(m.dti), pct(m.ltv))
	}

	a.LoanRecommendation = string(rec)
	a.ApprovedAmount = &amount
	a.RecommendedRate = &rate
	a.RecommendedTerm = &term
	return a
}

func composeDecision(req orchestrator.StageRequest) string {
	a := assess(req.Application)
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return ""
	}
	return "Final assessment:\n```json\n" + string(data) + "\n```"
}

func nameOf(app application.Data) string {
	if app.ApplicantName != nil && *app.ApplicantName != "" {
		return *app.ApplicantName
	}
	return "the applicant"
}
