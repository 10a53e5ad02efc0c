package llm

// minMessageBudget leaves room for at least the current turn when the fixed
// per-request cost eats most of the context window.
const minMessageBudget = 1000

// MessageBudget returns how many history tokens fit in maxTokens once the
// system prompt and tool definitions sent with every request are paid for.
// Zero maxTokens means no limit and returns zero.
func MessageBudget(maxTokens int, systemPrompt string, tools []Tool) int {
	if maxTokens <= 0 {
		return 0
	}
	budget := maxTokens - EstimateTokens(systemPrompt) - EstimateToolsTokens(tools)
	if budget < minMessageBudget {
		budget = minMessageBudget
	}
	return budget
}

// TrimMessages returns the longest suffix of messages, in whole turns,
// whose estimated size fits maxTokens. The newest turn is always kept even
// when it alone is over budget. A maxTokens of zero disables trimming.
//
// A turn is a user message and everything after it up to the next user
// message. Messages before the first user message form a turn of their own
// and are dropped first. Trimmed output therefore starts with a user message
// and never holds a tool result without its request.
func TrimMessages(messages []Message, maxTokens int) []Message {
	if len(messages) == 0 || maxTokens <= 0 {
		return messages
	}

	turns := splitTurns(messages)

	total := 0
	for _, t := range turns {
		total += t.tokens
	}
	if total <= maxTokens {
		return messages
	}

	kept := total
	dropUntil := 0
	for dropUntil < len(turns)-1 && kept > maxTokens {
		kept -= turns[dropUntil].tokens
		dropUntil++
	}
	return messages[turns[dropUntil].start:]
}

type turnSpan struct {
	start  int
	tokens int
}

func splitTurns(messages []Message) []turnSpan {
	var turns []turnSpan
	for i, m := range messages {
		if i == 0 || m.Role == RoleUser {
			turns = append(turns, turnSpan{start: i})
		}
		turns[len(turns)-1].tokens += EstimateMessageTokens(m)
	}
	return turns
}
