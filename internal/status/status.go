// Package status reports where sessions stand in the intake flow: which
// collection steps are done, what comes next, and store-wide counts.
package status

import (
	"sort"

	"github.com/dusk-indust/loanflow/internal/application"
	"github.com/dusk-indust/loanflow/internal/conversation"
	"github.com/dusk-indust/loanflow/internal/session"
)

// StepInfo describes the completion state of a single collection step.
type StepInfo struct {
	Step     int                `json:"step"`
	Name     string             `json:"name"`
	State    conversation.State `json:"state"`
	Complete bool               `json:"complete"`
}

// SessionStatus holds the status of one session.
type SessionStatus struct {
	ID         string     `json:"id"`
	State      string     `json:"state"`
	Completion int        `json:"completion"`
	Steps      []StepInfo `json:"steps"`
	NextStep   int        `json:"next_step"` // -1 if all complete
	Processed  bool       `json:"processed"`
	Decision   string     `json:"decision,omitempty"`
}

var steps = [4]struct {
	name  string
	state conversation.State
	done  func(application.Data) bool
}{
	{"Home price", conversation.StateCollectingHomePrice, func(d application.Data) bool {
		return d.HomePrice != nil && d.LoanAmount != nil
	}},
	{"Down payment", conversation.StateCollectingDownPayment, func(d application.Data) bool {
		return d.DownPaymentPercent != nil && d.DownPayment != nil
	}},
	{"Annual income", conversation.StateCollectingIncome, func(d application.Data) bool {
		return d.AnnualIncome != nil
	}},
	{"Personal details", conversation.StateCollectingPersonalInfo, func(d application.Data) bool {
		return d.ApplicantName != nil && d.Email != nil && d.IDLastFour != nil
	}},
}

// CompletedSteps returns the step numbers (1-4) whose fields are present.
func CompletedSteps(d application.Data) []int {
	var completed []int
	for i, s := range steps {
		if s.done(d) {
			completed = append(completed, i+1)
		}
	}
	return completed
}

// NextStep returns the first step not yet completed, or -1 if every step
// is complete.
func NextStep(completed []int) int {
	done := make(map[int]bool, len(completed))
	for _, s := range completed {
		done[s] = true
	}
	for i := 1; i <= len(steps); i++ {
		if !done[i] {
			return i
		}
	}
	return -1
}

// ForSession returns detailed status for a single session.
func ForSession(s session.Session) SessionStatus {
	completed := CompletedSteps(s.Data)
	set := make(map[int]bool, len(completed))
	for _, n := range completed {
		set[n] = true
	}

	infos := make([]StepInfo, len(steps))
	for i, st := range steps {
		infos[i] = StepInfo{
			Step:     i + 1,
			Name:     st.name,
			State:    st.state,
			Complete: set[i+1],
		}
	}

	out := SessionStatus{
		ID:         s.ID,
		State:      string(s.State),
		Completion: s.Data.Completeness(),
		Steps:      infos,
		NextStep:   NextStep(completed),
		Processed:  s.Processed,
	}
	if s.Decision != nil {
		out.Decision = s.Decision.Status
	}
	return out
}

// Summary counts sessions by conversation state and decision status.
type Summary struct {
	Total int `json:"total"`
	// AwaitingAssessment counts complete applications not yet processed.
	AwaitingAssessment int            `json:"awaiting_assessment"`
	ByState            map[string]int `json:"by_state"`
	ByDecision         map[string]int `json:"by_decision"`
}

// Summarize builds a Summary over list.
func Summarize(list []session.Session) Summary {
	sum := Summary{
		Total:      len(list),
		ByState:    make(map[string]int),
		ByDecision: make(map[string]int),
	}
	for _, s := range list {
		sum.ByState[string(s.State)]++
		switch {
		case s.Decision != nil:
			sum.ByDecision[s.Decision.Status]++
		case s.Processed:
			sum.ByDecision["pending"]++
		case s.State == conversation.StateReadyForProcessing:
			sum.AwaitingAssessment++
		}
	}
	return sum
}

// Keys returns the map's keys in sorted order.
func Keys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
