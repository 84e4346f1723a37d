package runtime

import "fmt"

// DefaultMaxSteps is the per-walk node visit ceiling.
const DefaultMaxSteps = 100

// DanglingPolicy decides what happens when the current node is not in the active definition.
type DanglingPolicy string

const (
	// DanglingClose closes the conversation and clears its position.
	DanglingClose DanglingPolicy = "close"
	// DanglingEscalate hands the conversation to an operator, keeping the stale position.
	DanglingEscalate DanglingPolicy = "escalate"
)

// ParseDanglingPolicy validates a configured policy name.
func ParseDanglingPolicy(s string) (DanglingPolicy, error) {
	switch p := DanglingPolicy(s); p {
	case DanglingClose, DanglingEscalate:
		return p, nil
	case "":
		return DanglingClose, nil
	default:
		return "", fmt.Errorf("unknown dangling policy %q", s)
	}
}

// QuestionPolicy decides which ask_question nodes may consume the inbound text.
type QuestionPolicy string

const (
	// QuestionEarlyAnswer lets the first ask_question reached in a walk consume the text,
	// even if its prompt was never sent. A participant can answer ahead of the question.
	QuestionEarlyAnswer QuestionPolicy = "early_answer"
	// QuestionAskFirst only lets the node the walk resumed from consume the text.
	// Any other ask_question sends its prompt and suspends.
	QuestionAskFirst QuestionPolicy = "ask_first"
)

// ParseQuestionPolicy validates a configured policy name.
func ParseQuestionPolicy(s string) (QuestionPolicy, error) {
	switch p := QuestionPolicy(s); p {
	case QuestionEarlyAnswer, QuestionAskFirst:
		return p, nil
	case "":
		return QuestionEarlyAnswer, nil
	default:
		return "", fmt.Errorf("unknown question policy %q", s)
	}
}
