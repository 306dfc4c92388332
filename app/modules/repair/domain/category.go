// Package repairdomain names the ways a generation can get stuck in the
// pipeline and the subtasks that unstick each of them.
package repairdomain

import pipelinedomain "github.com/Black-And-White-Club/avery/app/modules/pipeline/domain"

// Category is one kind of stuck generation.
type Category string

const (
	MissingImage      Category = "missing_image"
	MissingContent    Category = "missing_content"
	MissingWords      Category = "missing_words"
	MissingGrammar    Category = "missing_grammar"
	MissingFluency    Category = "missing_fluency"
	MissingScore      Category = "missing_score"
	MissingSimilarity Category = "missing_similarity"
	NotCompleted      Category = "not_completed"
)

// Categories lists every category in sweep order. Earlier stages come first
// so a single sweep can unblock later ones on the next run.
var Categories = []Category{
	MissingImage,
	MissingContent,
	MissingWords,
	MissingGrammar,
	MissingFluency,
	MissingScore,
	MissingSimilarity,
	NotCompleted,
}

// Subtasks returns the subtasks that repair c. Subtasks outside a
// generation's plan are ignored by the orchestrator, so both score variants
// are listed. NotCompleted has none: it goes through a plain dispatch, which
// picks the first stage that still has missing factors.
func (c Category) Subtasks() []pipelinedomain.Subtask {
	switch c {
	case MissingImage:
		return []pipelinedomain.Subtask{pipelinedomain.SubtaskImage}
	case MissingContent:
		return []pipelinedomain.Subtask{pipelinedomain.SubtaskContent}
	case MissingWords:
		return []pipelinedomain.Subtask{pipelinedomain.SubtaskWords}
	case MissingGrammar:
		return []pipelinedomain.Subtask{pipelinedomain.SubtaskGrammar}
	case MissingFluency:
		return []pipelinedomain.Subtask{pipelinedomain.SubtaskFluency}
	case MissingScore:
		return []pipelinedomain.Subtask{pipelinedomain.SubtaskScore, pipelinedomain.SubtaskEvaluation}
	case MissingSimilarity:
		return []pipelinedomain.Subtask{pipelinedomain.SubtaskSimilarity}
	}
	return nil
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}
