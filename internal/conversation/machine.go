package conversation

import (
	"github.com/dusk-indust/loanflow/internal/application"
)

// DefaultAgentName is the assistant persona reported on every turn.
const DefaultAgentName = "Mortgage Intake Assistant"

// Step advances the dialogue by one user turn. It is a pure function of the
// current state, the collected data and the raw input: it performs no I/O
// and never mutates data, returning the next state and a new data record.
//
// Invalid input leaves state and data unchanged and re-prompts in place.
func Step(state State, data application.Data, input string) (State, application.Data, TurnResponse) {
	next := data.Clone()

	switch state {
	case StateGreeting:
		next.Purpose = application.String(application.PurposeHomePurchase)
		return advance(StateCollectingHomePrice, next)

	case StateCollectingHomePrice:
		price, err := parsePositive(input)
		if err != nil {
			return reprompt(state, next, ActionCollectInfo)
		}
		next.HomePrice = application.Float(price)
		next.LoanAmount = application.Float(price)
		return advance(StateCollectingDownPayment, next)

	case StateCollectingDownPayment:
		pct, err := parsePercent(input)
		if err != nil || next.LoanAmount == nil {
			return reprompt(state, next, ActionCollectInfo)
		}
		next.DownPaymentPercent = application.Float(pct)
		next.DownPayment = application.Float(pct * *next.LoanAmount / 100)
		return advance(StateCollectingIncome, next)

	case StateCollectingIncome:
		income, err := parsePositive(input)
		if err != nil {
			return reprompt(state, next, ActionCollectInfo)
		}
		next.AnnualIncome = application.Float(income)
		return advance(StateCollectingPersonalInfo, next)

	case StateCollectingPersonalInfo:
		info, err := parsePersonalInfo(input)
		if err != nil {
			s, d, resp := reprompt(state, next, ActionNeedClarification)
			resp.Message = personalInfoRetryMessage
			return s, d, resp
		}
		next.ApplicantName = application.String(info.Name)
		next.Email = application.String(info.Email)
		next.IDLastFour = application.String(info.Last4)
		return advance(StateReadyForProcessing, next)

	case StateReadyForProcessing:
		return reprompt(state, next, ActionReadyForProcessing)

	default:
		// Unknown states restart the script without discarding data.
		return advance(StateGreeting, next)
	}
}

// Greeting returns the opening turn for a fresh session.
func Greeting() TurnResponse {
	return respond(StateGreeting, application.Data{}, ActionCollectInfo)
}

func advance(to State, data application.Data) (State, application.Data, TurnResponse) {
	action := ActionCollectInfo
	if to == StateReadyForProcessing {
		action = ActionReadyForProcessing
	}
	return to, data, respond(to, data, action)
}

func reprompt(state State, data application.Data, action Action) (State, application.Data, TurnResponse) {
	return state, data, respond(state, data, action)
}

func respond(state State, data application.Data, action Action) TurnResponse {
	msg, qr := prompt(state)
	return TurnResponse{
		AgentName:            DefaultAgentName,
		Message:              msg,
		Action:               action,
		CollectedData:        data,
		NextStep:             state,
		CompletionPercentage: Completion(state),
		QuickReplies:         replies(qr),
	}
}

// Machine holds one session's dialogue position. It is not safe for
// concurrent use; callers persisting sessions use Restore and Step instead.
type Machine struct {
	agentName string
	state     State
	data      application.Data
}

// Option configures a Machine.
type Option func(*Machine)

// WithAgentName overrides the persona name reported on each turn.
func WithAgentName(name string) Option {
	return func(m *Machine) {
		if name != "" {
			m.agentName = name
		}
	}
}

// NewMachine creates a Machine positioned at the greeting.
func NewMachine(opts ...Option) *Machine {
	m := &Machine{
		agentName: DefaultAgentName,
		state:     StateGreeting,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Restore creates a Machine from persisted session state.
func Restore(state State, data application.Data, opts ...Option) *Machine {
	m := NewMachine(opts...)
	if state.Valid() {
		m.state = state
	}
	m.data = data.Clone()
	return m
}

// ProcessInput applies one user turn.
func (m *Machine) ProcessInput(input string) TurnResponse {
	state, data, resp := Step(m.state, m.data, input)
	m.state = state
	m.data = data
	resp.AgentName = m.agentName
	return resp
}

// Reset clears all collected data and returns to the greeting.
func (m *Machine) Reset() TurnResponse {
	m.state = StateGreeting
	m.data = application.Data{}
	resp := Greeting()
	resp.AgentName = m.agentName
	return resp
}

// State returns the current dialogue state.
func (m *Machine) State() State { return m.state }

// Data returns a copy of the collected application data.
func (m *Machine) Data() application.Data { return m.data.Clone() }

// Completion returns the current completion percentage.
func (m *Machine) Completion() int { return Completion(m.state) }
