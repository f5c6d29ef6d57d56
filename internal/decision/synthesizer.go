package decision

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dusk-indust/loanflow/internal/application"
)

// Defaults used when the decision stage omits terms or cannot be parsed.
const (
	DefaultRate = 7.5
	DefaultTerm = 360
)

const (
	fallbackCondition = "Risk assessment incomplete — manual review required"
	fallbackReasoning = "Automated risk assessment unavailable."
)

var errNoObject = errors.New("no JSON object found")

// Provenance records how a Decision was produced.
type Provenance string

const (
	ProvenanceParsed   Provenance = "parsed"
	ProvenanceFallback Provenance = "fallback"
)

// Assessment is the structured record the decision stage is expected to emit.
type Assessment struct {
	OverallRisk        string   `json:"overall_risk"`
	LoanRecommendation string   `json:"loan_recommendation"`
	ApprovedAmount     *float64 `json:"approved_amount"`
	RecommendedRate    *float64 `json:"recommended_rate"`
	RecommendedTerm    *int     `json:"recommended_term"`
	Conditions         []string `json:"conditions"`
	Reasoning          string   `json:"reasoning"`
}

// Result is the outcome of synthesis. Both provenances carry a valid
// Decision; ParseErr explains why a fallback was used.
type Result struct {
	Decision    Decision
	Provenance  Provenance
	OverallRisk string
	ParseErr    error
}

// Fallback reports whether the decision came from the safe template.
func (r Result) Fallback() bool { return r.Provenance == ProvenanceFallback }

// Synthesizer turns the decision stage's accumulated text into a Decision.
type Synthesizer struct {
	defaultRate float64
	defaultTerm int
}

// SynthesizerOption configures a Synthesizer.
type SynthesizerOption func(*Synthesizer)

// WithDefaultTerms overrides the conservative rate and term used for
// fallbacks and omitted fields. Non-positive values are ignored.
func WithDefaultTerms(rate float64, term int) SynthesizerOption {
	return func(s *Synthesizer) {
		if rate > 0 {
			s.defaultRate = rate
		}
		if term > 0 {
			s.defaultTerm = term
		}
	}
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(opts ...SynthesizerOption) *Synthesizer {
	s := &Synthesizer{defaultRate: DefaultRate, defaultTerm: DefaultTerm}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize never fails: malformed or empty text yields the ManualReview
// fallback decision.
func (s *Synthesizer) Synthesize(raw string, app application.Data) Result {
	a, err := ParseAssessment(raw)
	if err != nil {
		return Result{
			Decision:   s.fallback(app),
			Provenance: ProvenanceFallback,
			ParseErr:   err,
		}
	}

	rec, _ := ParseRecommendation(a.LoanRecommendation)
	amount := app.RequestedAmount()
	if a.ApprovedAmount != nil {
		amount = *a.ApprovedAmount
	}
	rate := s.defaultRate
	if a.RecommendedRate != nil {
		rate = *a.RecommendedRate
	}
	term := s.defaultTerm
	if a.RecommendedTerm != nil {
		term = *a.RecommendedTerm
	}
	conditions := a.Conditions
	if conditions == nil {
		conditions = []string{}
	}

	return Result{
		Decision:    build(rec, amount, rate, term, conditions, a.Reasoning),
		Provenance:  ProvenanceParsed,
		OverallRisk: a.OverallRisk,
	}
}

func (s *Synthesizer) fallback(app application.Data) Decision {
	return build(ManualReview, app.RequestedAmount(), s.defaultRate, s.defaultTerm,
		[]string{fallbackCondition}, fallbackReasoning)
}

func build(rec Recommendation, amount, rate float64, term int, conditions []string, reasoning string) Decision {
	return Decision{
		Recommendation: rec,
		Status:         rec.Status(),
		LoanAmount:     amount,
		InterestRate:   rate,
		MonthlyPayment: MonthlyPayment(amount, rate, term),
		Term:           term,
		Conditions:     conditions,
		Reasoning:      reasoning,
		NextSteps:      NextSteps(rec),
	}
}

// ParseAssessment decodes the first JSON object found in raw and validates
// it. The object may be wrapped in prose or a fenced code block. Brace
// spans that are not JSON, such as "{income, ltv}" in prose, are skipped.
func ParseAssessment(raw string) (*Assessment, error) {
	var (
		a        Assessment
		firstErr error
	)
	for from := 0; ; {
		obj, start, err := extractObject(raw, from)
		if err != nil {
			if firstErr != nil {
				return nil, firstErr
			}
			return nil, fmt.Errorf("decision: %w", err)
		}
		a = Assessment{}
		if err := json.Unmarshal([]byte(obj), &a); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("decision: decode assessment: %w", err)
			}
			from = start + 1
			continue
		}
		break
	}
	if err := a.validate(); err != nil {
		return nil, fmt.Errorf("decision: %w", err)
	}
	return &a, nil
}

func (a *Assessment) validate() error {
	if _, ok := ParseRecommendation(a.LoanRecommendation); !ok {
		return fmt.Errorf("unknown loan recommendation %q", a.LoanRecommendation)
	}
	if a.ApprovedAmount != nil && *a.ApprovedAmount < 0 {
		return fmt.Errorf("negative approved amount %v", *a.ApprovedAmount)
	}
	if a.RecommendedRate != nil && (*a.RecommendedRate < 0 || *a.RecommendedRate >= 100) {
		return fmt.Errorf("recommended rate %v out of range", *a.RecommendedRate)
	}
	if a.RecommendedTerm != nil && *a.RecommendedTerm <= 0 {
		return fmt.Errorf("recommended term %d must be positive", *a.RecommendedTerm)
	}
	return nil
}

// extractObject returns the first balanced {...} span in s at or after
// from, and its offset. Braces inside JSON strings are skipped.
func extractObject(s string, from int) (string, int, error) {
	if from >= len(s) {
		return "", -1, errNoObject
	}
	start := strings.IndexByte(s[from:], '{')
	if start < 0 {
		return "", -1, errNoObject
	}
	start += from

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], start, nil
			}
		}
	}
	return "", -1, fmt.Errorf("%w: unbalanced braces", errNoObject)
}
