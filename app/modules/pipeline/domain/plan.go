package pipelinedomain

import "fmt"

// Subtask is a unit of background analysis work producing exactly one factor.
type Subtask string

const (
	SubtaskWords      Subtask = "words"
	SubtaskGrammar    Subtask = "grammar"
	SubtaskFluency    Subtask = "fluency"
	SubtaskContent    Subtask = "content"
	SubtaskImage      Subtask = "image"
	SubtaskScore      Subtask = "score"
	SubtaskEvaluation Subtask = "evaluation"
	SubtaskSimilarity Subtask = "similarity"
)

// Produces returns the factor a subtask completes.
func (s Subtask) Produces() Factor {
	switch s {
	case SubtaskWords:
		return FactorWords
	case SubtaskGrammar:
		return FactorGrammar
	case SubtaskFluency:
		return FactorFluency
	case SubtaskContent:
		return FactorContent
	case SubtaskImage:
		return FactorImage
	case SubtaskScore, SubtaskEvaluation:
		return FactorScore
	case SubtaskSimilarity:
		return FactorSimilarity
	}
	return 0
}

// ParseSubtask validates a subtask name read from a job payload.
func ParseSubtask(name string) (Subtask, error) {
	s := Subtask(name)
	if s.Produces() == 0 {
		return "", fmt.Errorf("unknown subtask %q", name)
	}
	return s, nil
}

// Strategy names how a generation is scored.
type Strategy string

const (
	StrategyFormula    Strategy = "formula"
	StrategyEvaluation Strategy = "evaluation"
)

// Mode is the per-program pipeline configuration.
type Mode struct {
	Strategy Strategy
	Image    bool
}

// Stage is a fan-out group: its subtasks run in parallel and the next stage
// starts only once every factor of this one is present.
type Stage struct {
	Name     string
	Subtasks []Subtask
}

func (st Stage) Factors() FactorSet {
	var s FactorSet
	for _, sub := range st.Subtasks {
		s |= FactorSet(sub.Produces())
	}
	return s
}

// Plan is an ordered list of stages for one generation.
type Plan struct {
	Name   string
	Stages []Stage
}

// PlanFor builds the stage graph for a mode.
func PlanFor(m Mode) Plan {
	switch {
	case m.Strategy == StrategyEvaluation && m.Image:
		return Plan{Name: "evaluation+image", Stages: []Stage{
			{Name: "image", Subtasks: []Subtask{SubtaskImage}},
			{Name: "score", Subtasks: []Subtask{SubtaskEvaluation}},
			{Name: "similarity", Subtasks: []Subtask{SubtaskSimilarity}},
		}}
	case m.Strategy == StrategyEvaluation:
		return Plan{Name: "evaluation", Stages: []Stage{
			{Name: "score", Subtasks: []Subtask{SubtaskEvaluation}},
		}}
	case m.Image:
		return Plan{Name: "formula+image", Stages: []Stage{
			{Name: "factors", Subtasks: []Subtask{SubtaskWords, SubtaskGrammar, SubtaskFluency, SubtaskContent, SubtaskImage}},
			{Name: "score", Subtasks: []Subtask{SubtaskScore}},
			{Name: "similarity", Subtasks: []Subtask{SubtaskSimilarity}},
		}}
	default:
		return Plan{Name: "formula", Stages: []Stage{
			{Name: "factors", Subtasks: []Subtask{SubtaskWords, SubtaskGrammar, SubtaskFluency, SubtaskContent}},
			{Name: "score", Subtasks: []Subtask{SubtaskScore}},
		}}
	}
}

// Required is the union of factors over every stage.
func (p Plan) Required() FactorSet {
	var s FactorSet
	for _, st := range p.Stages {
		s |= st.Factors()
	}
	return s
}

// StageOf returns the index of the stage containing sub, or -1.
func (p Plan) StageOf(sub Subtask) int {
	for i, st := range p.Stages {
		for _, s := range st.Subtasks {
			if s == sub {
				return i
			}
		}
	}
	return -1
}

// NextPending returns the first stage at or after from that still has missing
// factors, along with the subtasks that would complete it. ok is false when
// every remaining stage is complete.
func (p Plan) NextPending(done FactorSet, from int) (index int, pending []Subtask, ok bool) {
	if from < 0 {
		from = 0
	}
	for i := from; i < len(p.Stages); i++ {
		for _, sub := range p.Stages[i].Subtasks {
			if !done.Has(sub.Produces()) {
				pending = append(pending, sub)
			}
		}
		if len(pending) > 0 {
			return i, pending, true
		}
	}
	return -1, nil, false
}

// Before is the union of factors produced by every stage ahead of index i.
// A subtask in stage i may only write once these are present.
func (p Plan) Before(i int) FactorSet {
	var s FactorSet
	for j := 0; j < i && j < len(p.Stages); j++ {
		s |= p.Stages[j].Factors()
	}
	return s
}
