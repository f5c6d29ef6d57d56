package export

import (
	"fmt"
	"strings"

	"github.com/dusk-indust/loanflow/internal/conversation"
)

// flow lists the intake states in dialogue order.
var flow = []conversation.State{
	conversation.StateGreeting,
	conversation.StateCollectingHomePrice,
	conversation.StateCollectingDownPayment,
	conversation.StateCollectingIncome,
	conversation.StateCollectingPersonalInfo,
	conversation.StateReadyForProcessing,
}

// StateDiagram produces a Mermaid stateDiagram-v2 of the intake dialogue.
// Collecting states loop on input that does not parse; current, when
// valid, is highlighted.
func StateDiagram(current conversation.State) string {
	var b strings.Builder
	b.WriteString("stateDiagram-v2\n")
	fmt.Fprintf(&b, "    [*] --> %s\n", flow[0])
	for i := 0; i < len(flow)-1; i++ {
		fmt.Fprintf(&b, "    %s --> %s\n", flow[i], flow[i+1])
	}
	for _, s := range flow[1 : len(flow)-1] {
		fmt.Fprintf(&b, "    %s --> %s : unclear answer\n", s, s)
	}
	last := flow[len(flow)-1]
	fmt.Fprintf(&b, "    %s --> %s : any input\n", last, last)
	fmt.Fprintf(&b, "    %s --> [*] : assessed\n", last)

	if current.Valid() {
		b.WriteString("    classDef current fill:#e6f3ff,stroke:#1f6feb,stroke-width:2px\n")
		fmt.Fprintf(&b, "    class %s current\n", current)
	}
	return b.String()
}
