package rounddomain

import "strings"

// State is where a round stands in the session protocol. It is never stored;
// Derive rebuilds it from the round and its latest generation.
type State string

const (
	StateNew                State = "NEW"
	StateAwaitingSentence   State = "AWAITING_SENTENCE"
	StateAwaitingCorrection State = "AWAITING_CORRECTION"
	StateAwaitingEvaluation State = "AWAITING_EVALUATION"
	StateCompleted          State = "COMPLETED"
	StateEnded              State = "ENDED"
)

// Action names a client request.
type Action string

const (
	ActionStart    Action = "start"
	ActionResume   Action = "resume"
	ActionHint     Action = "hint"
	ActionSubmit   Action = "submit"
	ActionEvaluate Action = "evaluate"
	ActionEnd      Action = "end"
)

func (a Action) Valid() bool {
	switch a {
	case ActionStart, ActionResume, ActionHint, ActionSubmit, ActionEvaluate, ActionEnd:
		return true
	}
	return false
}

// Progress is what the protocol needs to know about a round and its latest
// generation.
type Progress struct {
	HasRound      bool
	RoundEnded    bool
	HasGeneration bool
	Sentence      string
	Corrected     bool
	Evaluated     bool
}

// Derive reconstructs the protocol state.
func Derive(p Progress) State {
	switch {
	case !p.HasRound:
		return StateNew
	case p.RoundEnded:
		return StateEnded
	case !p.HasGeneration:
		return StateAwaitingSentence
	case p.Evaluated:
		return StateCompleted
	case p.Corrected:
		return StateAwaitingEvaluation
	case strings.TrimSpace(p.Sentence) != "":
		return StateAwaitingCorrection
	default:
		return StateAwaitingSentence
	}
}

// Allows reports whether a runs in state s. Anything else is a no-op.
// A submit after a correction starts a retry generation.
func (s State) Allows(a Action) bool {
	switch a {
	case ActionStart, ActionResume:
		return true
	case ActionHint:
		return s != StateNew && s != StateEnded
	case ActionSubmit:
		return s != StateNew && s != StateEnded
	case ActionEvaluate:
		return s == StateAwaitingEvaluation || s == StateCompleted
	case ActionEnd:
		return s != StateNew
	}
	return false
}

// NormalizeSentence folds case and collapses whitespace so resubmissions of
// the same text compare equal.
func NormalizeSentence(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
