package scoreservice

import (
	"fmt"
	"math"

	"github.com/Black-And-White-Club/avery/app/modules/analysis"
	scoredb "github.com/Black-And-White-Club/avery/app/modules/score/infrastructure/repositories"
)

// Strategy names.
const (
	StrategyFormula    = "formula"
	StrategyEvaluation = "evaluation"
)

const (
	maxGrammar   = 5
	maxSpelling  = 5
	maxVividness = 5
	maxStructure = 3

	// grammar + spelling + vividness + convention + structure
	maxLangQuality = maxGrammar + maxSpelling + maxVividness + 1 + maxStructure

	// Content at or above this value earns full marks.
	contentCeiling = 80

	// 7 points of sub-scores times 3 points of content.
	evaluationNormaliser = 21
)

// Rank is the letter grade for a total score.
type Rank string

const (
	RankA Rank = "A"
	RankB Rank = "B"
	RankC Rank = "C"
	RankD Rank = "D"
	RankE Rank = "E"
	RankF Rank = "F"
)

// RankFor maps a 0..100 total onto a letter. Thresholds are exclusive.
func RankFor(total int) Rank {
	switch {
	case total > 90:
		return RankA
	case total > 80:
		return RankB
	case total > 70:
		return RankC
	case total > 50:
		return RankD
	case total > 40:
		return RankE
	default:
		return RankF
	}
}

// Factors are the analysed features of one corrected sentence.
type Factors struct {
	Words          int
	GrammarErrors  int
	SpellingErrors int
	Adjectives     int
	Adverbs        int
	Pronouns       int
	Prepositions   int
	Conjunctions   int
	Clauses        int
	Fluency        float64
	Content        float64
}

// Breakdown is the full result of a scoring strategy.
type Breakdown struct {
	Strategy    string
	Grammar     float64
	Spelling    float64
	Vividness   float64
	Convention  bool
	Structure   float64
	Content     float64
	LangQuality float64
	Total       int
	Rank        Rank
}

// Input carries whatever a strategy needs; each strategy reads its own field.
type Input struct {
	Factors    *Factors
	Evaluation *analysis.EvaluationScores
}

// Strategy turns inputs into a Breakdown.
type Strategy interface {
	Name() string
	Calculate(in Input) (Breakdown, error)
}

// FormulaStrategy scores from analysed factors.
type FormulaStrategy struct {
	FluencyThreshold float64
}

func (FormulaStrategy) Name() string { return StrategyFormula }

func (s FormulaStrategy) Calculate(in Input) (Breakdown, error) {
	if in.Factors == nil {
		return Breakdown{}, fmt.Errorf("%s: %w", StrategyFormula, ErrMissingInput)
	}
	return Formula(*in.Factors, s.FluencyThreshold), nil
}

// EvaluationStrategy scores from the evaluation model's sub-scores.
type EvaluationStrategy struct{}

func (EvaluationStrategy) Name() string { return StrategyEvaluation }

func (EvaluationStrategy) Calculate(in Input) (Breakdown, error) {
	if in.Evaluation == nil {
		return Breakdown{}, fmt.Errorf("%s: %w", StrategyEvaluation, ErrMissingInput)
	}
	return FromEvaluation(*in.Evaluation), nil
}

// Formula computes the factor-based score.
func Formula(f Factors, fluencyThreshold float64) Breakdown {
	grammar := math.Max(0, float64(maxGrammar-f.GrammarErrors))

	spelling := 0.0
	if f.Words > 0 {
		spelling = math.Max(0, maxSpelling*float64(f.Words-f.SpellingErrors)/float64(f.Words))
	}

	vividness := math.Min(maxVividness, float64(f.Adjectives+f.Adverbs+f.Pronouns+f.Prepositions+f.Conjunctions))
	convention := f.Fluency > fluencyThreshold
	structure := math.Min(maxStructure, float64(f.Clauses))

	lq := grammar + spelling + vividness + boolScore(convention) + structure
	total := clampTotal(math.Round(lq * f.Content / (maxLangQuality * contentCeiling) * 100))

	return Breakdown{
		Strategy:    StrategyFormula,
		Grammar:     grammar,
		Spelling:    spelling,
		Vividness:   vividness,
		Convention:  convention,
		Structure:   structure,
		Content:     f.Content,
		LangQuality: lq,
		Total:       total,
		Rank:        RankFor(total),
	}
}

// FromEvaluation computes the score from six model-assigned sub-scores.
func FromEvaluation(e analysis.EvaluationScores) Breakdown {
	grammar := bounded(e.Grammar, 3)
	spelling := bounded(e.Spelling, 1)
	vividness := bounded(e.Vividness, 1)
	convention := bounded(e.Convention, 1)
	structure := bounded(e.Structure, 1)
	content := bounded(e.Content, 3)

	sum := grammar + spelling + vividness + convention + structure
	total := clampTotal(math.Round(sum * content / evaluationNormaliser * 100))

	return Breakdown{
		Strategy:    StrategyEvaluation,
		Grammar:     grammar,
		Spelling:    spelling,
		Vividness:   vividness,
		Convention:  convention > 0,
		Structure:   structure,
		Content:     content,
		LangQuality: sum,
		Total:       total,
		Rank:        RankFor(total),
	}
}

// Model converts a breakdown into the persisted row.
func (b Breakdown) Model(generationID int64) *scoredb.Score {
	return &scoredb.Score{
		GenerationID: generationID,
		Strategy:     b.Strategy,
		Grammar:      b.Grammar,
		Spelling:     b.Spelling,
		Vividness:    b.Vividness,
		Convention:   b.Convention,
		Structure:    b.Structure,
		Content:      b.Content,
	}
}

// BreakdownOf rebuilds a breakdown from a stored row and the total kept on
// its generation.
func BreakdownOf(sc *scoredb.Score, total int) Breakdown {
	lq := sc.Grammar + sc.Spelling + sc.Vividness + boolScore(sc.Convention) + sc.Structure
	return Breakdown{
		Strategy:    sc.Strategy,
		Grammar:     sc.Grammar,
		Spelling:    sc.Spelling,
		Vividness:   sc.Vividness,
		Convention:  sc.Convention,
		Structure:   sc.Structure,
		Content:     sc.Content,
		LangQuality: lq,
		Total:       total,
		Rank:        RankFor(total),
	}
}

func boolScore(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func bounded(v, limit int) float64 {
	if v < 0 {
		return 0
	}
	if v > limit {
		return float64(limit)
	}
	return float64(v)
}

func clampTotal(v float64) int {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(v)
}
