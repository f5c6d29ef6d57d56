package decision

import (
	"math"
	"strings"
)

// Recommendation is the assessment outcome produced by the decision stage.
type Recommendation string

const (
	Approve             Recommendation = "Approve"
	ConditionalApproval Recommendation = "ConditionalApproval"
	Deny                Recommendation = "Deny"
	ManualReview        Recommendation = "ManualReview"
)

// ParseRecommendation maps free-form spellings such as "conditional_approval"
// or "Manual Review" onto a Recommendation.
func ParseRecommendation(s string) (Recommendation, bool) {
	norm := strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.TrimSpace(s)))
	switch norm {
	case "approve", "approved":
		return Approve, true
	case "conditionalapproval", "conditional", "conditionallyapproved":
		return ConditionalApproval, true
	case "deny", "denied", "decline", "declined":
		return Deny, true
	case "manualreview", "review":
		return ManualReview, true
	}
	return "", false
}

// Status returns the caller-facing status string.
func (r Recommendation) Status() string {
	switch r {
	case Approve:
		return "approved"
	case ConditionalApproval:
		return "conditional"
	case Deny:
		return "denied"
	default:
		return "manual_review"
	}
}

// Decision is the final outcome of a pipeline run. The JSON shape is consumed
// by the web client and must stay stable.
type Decision struct {
	Recommendation Recommendation `json:"-"`
	Status         string         `json:"status"`
	LoanAmount     float64        `json:"loanAmount"`
	InterestRate   float64        `json:"interestRate"`
	MonthlyPayment float64        `json:"monthlyPayment"`
	Term           int            `json:"term"`
	Conditions     []string       `json:"conditions"`
	Reasoning      string         `json:"reasoning"`
	NextSteps      []string       `json:"nextSteps"`
}

// MonthlyPayment computes the level payment of a fully amortizing loan,
// rounded to cents. annualRate is a percentage (6 means 6%).
func MonthlyPayment(principal, annualRate float64, months int) float64 {
	if months <= 0 || principal <= 0 {
		return 0
	}
	r := annualRate / 100 / 12
	n := float64(months)
	var m float64
	if r == 0 {
		m = principal / n
	} else {
		f := math.Pow(1+r, n)
		m = principal * r * f / (f - 1)
	}
	return math.Round(m*100) / 100
}

var nextSteps = map[Recommendation][]string{
	Approve: {
		"Review and sign your loan estimate",
		"Schedule the home appraisal",
		"Lock in your interest rate",
		"Prepare for closing",
	},
	ConditionalApproval: {
		"Submit the documents listed in your conditions",
		"Our underwriting team will review them within 2-3 business days",
		"Once conditions are cleared you'll receive final approval",
	},
	Deny: {
		"Review the reasons for this decision",
		"Request a free copy of your credit report",
		"Speak with a loan advisor about options to strengthen a future application",
	},
	ManualReview: {
		"A loan officer will review your application",
		"Expect a call or email within 1-2 business days",
		"Have your recent pay stubs and bank statements ready",
	},
}

// NextSteps returns the ordered instructions for a recommendation.
func NextSteps(r Recommendation) []string {
	steps, ok := nextSteps[r]
	if !ok {
		steps = nextSteps[ManualReview]
	}
	out := make([]string, len(steps))
	copy(out, steps)
	return out
}
