// Package analysis is the boundary to the external analysis provider: text
// correction, factor extraction, image regeneration and the hint chatbot.
package analysis

import (
	"context"
)

// CorrectionStatus tags the outcome of a sentence correction. Rejections are
// values, not errors.
type CorrectionStatus int

const (
	StatusValid CorrectionStatus = iota
	StatusNonEnglish
	StatusOffensive
	StatusDuplicate
)

func (s CorrectionStatus) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusNonEnglish:
		return "non_english"
	case StatusOffensive:
		return "offensive"
	case StatusDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// ParseCorrectionStatus maps the provider's wire value onto a status.
func ParseCorrectionStatus(s string) (CorrectionStatus, bool) {
	switch s {
	case "valid", "0":
		return StatusValid, true
	case "non_english", "1":
		return StatusNonEnglish, true
	case "offensive", "2":
		return StatusOffensive, true
	case "duplicate", "3":
		return StatusDuplicate, true
	}
	return StatusValid, false
}

// Mistake is one grammar or spelling finding.
type Mistake struct {
	Original   string `json:"original"`
	Suggestion string `json:"suggestion"`
	Message    string `json:"message,omitempty"`
}

type Correction struct {
	Status    CorrectionStatus
	Corrected string
	Grammar   []Mistake
	Spelling  []Mistake
}

type GrammarReport struct {
	Grammar  []Mistake `json:"grammar_errors"`
	Spelling []Mistake `json:"spelling_errors"`
}

// WordStats are the part-of-speech counts used by the vividness and structure scores.
type WordStats struct {
	Words        int `json:"n_words"`
	Conjunctions int `json:"n_conjunctions"`
	Adjectives   int `json:"n_adjectives"`
	Adverbs      int `json:"n_adverbs"`
	Pronouns     int `json:"n_pronouns"`
	Prepositions int `json:"n_prepositions"`
	Clauses      int `json:"n_clauses"`
}

type EvaluationRequest struct {
	Sentence          string   `json:"sentence"`
	CorrectedSentence string   `json:"corrected_sentence"`
	ImageURL          string   `json:"image_url"`
	Description       string   `json:"description,omitempty"`
	Vocabulary        []string `json:"vocabulary,omitempty"`
	Model             string   `json:"model,omitempty"`
}

// EvaluationScores are the six integer sub-scores returned by the evaluation model.
type EvaluationScores struct {
	Grammar    int `json:"grammar"`
	Spelling   int `json:"spelling"`
	Vividness  int `json:"vividness"`
	Convention int `json:"convention"`
	Structure  int `json:"structure"`
	Content    int `json:"content"`
}

type ChatTurn struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

type HintContext struct {
	Model       string     `json:"model"`
	ImageURL    string     `json:"image_url"`
	Description string     `json:"description,omitempty"`
	Vocabulary  []string   `json:"vocabulary,omitempty"`
	History     []ChatTurn `json:"history,omitempty"`
}

type HintReply struct {
	Content    string `json:"content"`
	ResponseID string `json:"response_id"`
}

// HintSession is the conversational context held by one round. Close must be
// called exactly once by the owner.
type HintSession interface {
	Next(ctx context.Context, prompt string) (HintReply, error)
	Close(ctx context.Context) error
}

// Provider is the full set of analysis functions. Every call may be slow or fail.
type Provider interface {
	CorrectSentence(ctx context.Context, sentence string) (Correction, error)
	CheckGrammar(ctx context.Context, sentence string) (GrammarReport, error)
	AnalyzeWords(ctx context.Context, sentence string) (WordStats, error)
	Fluency(ctx context.Context, sentence string, references []string) (float64, error)
	ContentMatch(ctx context.Context, imageURL, sentence string) (float64, error)
	RegenerateImage(ctx context.Context, sentence, style string) ([]byte, error)
	ImageSimilarity(ctx context.Context, original, regenerated []byte) (float64, error)
	EvaluationScores(ctx context.Context, req EvaluationRequest) (EvaluationScores, error)
	Evaluate(ctx context.Context, req EvaluationRequest) (string, error)
	OpenHintSession(ctx context.Context, hc HintContext) (HintSession, error)
}

// ImageStore persists image bytes under a key and resolves keys to public URLs.
type ImageStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	URL(key string) string
}
