package agent

import "fmt"

// AgentInstructions is the system prompt of the booking agent.
const AgentInstructions = "You are an AI agent that helps users book tables at restaurants and provides information about restaurants. " +
	"Never assume any value: use the tools, otherwise always ask for clarity if the request is ambiguous."

// declineInstructions is the system prompt of the out-of-scope responder.
const declineInstructions = "You are a helpful assistant. Politely say that you can't answer %q because it is out of scope; " +
	"you can only answer about restaurants and table booking at a restaurant."

// DeclineInstructions renders the out-of-scope prompt for a query.
func DeclineInstructions(query string) string {
	return fmt.Sprintf(declineInstructions, query)
}
