package conversation

import "github.com/dusk-indust/loanflow/internal/application"

// State is the position of a session in the scripted intake dialogue.
type State string

const (
	StateGreeting               State = "greeting"
	StateCollectingHomePrice    State = "collecting_home_price"
	StateCollectingDownPayment  State = "collecting_down_payment"
	StateCollectingIncome       State = "collecting_income"
	StateCollectingPersonalInfo State = "collecting_personal_info"
	StateReadyForProcessing     State = "ready_for_processing"
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateGreeting, StateCollectingHomePrice, StateCollectingDownPayment,
		StateCollectingIncome, StateCollectingPersonalInfo, StateReadyForProcessing:
		return true
	}
	return false
}

// Completion returns the coarse progress percentage tied to a state.
func Completion(s State) int {
	switch s {
	case StateCollectingDownPayment:
		return 25
	case StateCollectingIncome:
		return 50
	case StateCollectingPersonalInfo:
		return 75
	case StateReadyForProcessing:
		return 100
	default:
		return 0
	}
}

// Action tags what the caller should do with a turn response.
type Action string

const (
	ActionCollectInfo        Action = "collect_info"
	ActionReadyForProcessing Action = "ready_for_processing"
	ActionNeedClarification  Action = "need_clarification"
	ActionError              Action = "error"
)

// QuickReply is a canned answer offered to the user. Purely presentational.
type QuickReply struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// TurnResponse is the output of one state machine step.
type TurnResponse struct {
	AgentName            string           `json:"agent_name"`
	Message              string           `json:"message"`
	Action               Action           `json:"action"`
	CollectedData        application.Data `json:"collected_data"`
	NextStep             State            `json:"next_step"`
	CompletionPercentage int              `json:"completion_percentage"`
	QuickReplies         []QuickReply     `json:"quick_replies"`
}
