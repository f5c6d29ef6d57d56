package conversation

const (
	greetingMessage = "Hi! I'm here to help you apply for a home loan. " +
		"I'll ask a few quick questions about the home, your down payment, your income " +
		"and a little about you. It takes about two minutes. Ready when you are!"

	homePriceMessage = "Let's start with the home. What's the purchase price of the home you're looking at?"

	downPaymentMessage = "Thanks! What percentage of the price are you planning to put down?"

	incomeMessage = "Got it. What's your total annual household income before taxes?"

	personalInfoMessage = "Almost done. Please share your full name, email address, " +
		"and the last four digits of your ID."

	personalInfoRetryMessage = "I couldn't read those details. Please provide your full name, " +
		"a valid email address, and exactly four digits for your ID."

	readyMessage = "Thank you! Your application is complete and ready for review. " +
		"I'll now run it through our assessment steps."
)

var homePriceReplies = []QuickReply{
	{Label: "Under $250k", Value: "200000"},
	{Label: "$250k - $500k", Value: "375000"},
	{Label: "$500k - $750k", Value: "625000"},
	{Label: "Over $750k", Value: "900000"},
}

var downPaymentReplies = []QuickReply{
	{Label: "5%", Value: "5"},
	{Label: "10%", Value: "10"},
	{Label: "20%", Value: "20"},
	{Label: "25%+", Value: "25"},
}

var incomeReplies = []QuickReply{
	{Label: "Under $75k", Value: "60000"},
	{Label: "$75k - $150k", Value: "110000"},
	{Label: "$150k - $250k", Value: "200000"},
	{Label: "Over $250k", Value: "300000"},
}

// prompt returns the message and quick replies that ask for the input s is
// waiting on.
func prompt(s State) (string, []QuickReply) {
	switch s {
	case StateCollectingHomePrice:
		return homePriceMessage, homePriceReplies
	case StateCollectingDownPayment:
		return downPaymentMessage, downPaymentReplies
	case StateCollectingIncome:
		return incomeMessage, incomeReplies
	case StateCollectingPersonalInfo:
		return personalInfoMessage, nil
	case StateReadyForProcessing:
		return readyMessage, nil
	default:
		return greetingMessage, nil
	}
}

// replies returns a copy so callers can't mutate the canned sets.
func replies(src []QuickReply) []QuickReply {
	out := make([]QuickReply, len(src))
	copy(out, src)
	return out
}
