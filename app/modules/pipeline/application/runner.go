package pipelineservice

import (
	"context"
	"errors"
	"fmt"

	"github.com/Black-And-White-Club/avery/app/modules/analysis"
	pipelinedomain "github.com/Black-And-White-Club/avery/app/modules/pipeline/domain"
	scoreservice "github.com/Black-And-White-Club/avery/app/modules/score/application"
	"github.com/Black-And-White-Club/avery/app/shared/attr"
)

// RunSubtask computes and stores one factor, then dispatches the next stage
// if this subtask completed its own.
func (s *PipelineService) RunSubtask(ctx context.Context, job pipelinedomain.Job) (Outcome, error) {
	return withTelemetry(s, ctx, "RunSubtask", job.GenerationID, func(ctx context.Context) (Outcome, error) {
		out, err := s.runSubtask(ctx, job)
		if out.Result != "" {
			s.metrics.RecordSubtaskOutcome(ctx, string(job.Subtask), out.Result)
		}
		return out, err
	})
}

func (s *PipelineService) runSubtask(ctx context.Context, job pipelinedomain.Job) (Outcome, error) {
	out := Outcome{Subtask: job.Subtask}
	logger := s.logger.With(
		attr.GenerationID(job.GenerationID),
		attr.String("subtask", string(job.Subtask)),
		attr.ExtractCorrelationID(ctx),
	)

	snap, err := s.tracker.Load(ctx, nil, job.GenerationID)
	if err != nil {
		if errors.Is(err, ErrGenerationNotFound) {
			return out, fmt.Errorf("%w: %w", err, pipelinedomain.ErrUnrunnable)
		}
		return out, err
	}
	if !snap.State.Generation.Corrected() {
		return out, fmt.Errorf("%w: %w", ErrNotCorrected, pipelinedomain.ErrUnrunnable)
	}

	stage := snap.Plan.StageOf(job.Subtask)
	if stage < 0 {
		logger.InfoContext(ctx, "Subtask is not part of the plan", attr.String("plan", snap.Plan.Name))
		out.Result = ResultNotPlan
		return out, nil
	}

	factor := job.Subtask.Produces()
	if snap.Done.Has(factor) {
		logger.DebugContext(ctx, "Factor already stored")
		out.Result = ResultSkipped
		out.Payload = storedPayload(snap, factor)
		s.advance(ctx, job.GenerationID, job.Subtask)
		return out, nil
	}

	if !snap.Done.Covers(snap.Plan.Before(stage)) {
		logger.WarnContext(ctx, "Earlier factors missing",
			attr.String("done", snap.Done.String()),
			attr.String("plan", snap.Plan.Name),
		)
		out.Result = ResultBlocked
		return out, nil
	}

	payload, err := s.compute(ctx, snap, job.Subtask)
	if err != nil {
		out.Result = ResultFailed
		if analysis.IsPermanent(err) {
			logger.WarnContext(ctx, "Subtask rejected, factor left unset", attr.Error(err))
			return out, nil
		}
		logger.WarnContext(ctx, "Subtask failed, factor left unset", attr.Error(err))
		return out, fmt.Errorf("%w: %s: %w", ErrSubtaskFailed, job.Subtask, err)
	}

	stored, err := s.tracker.MarkDone(ctx, job.GenerationID, factor, payload)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to store factor", attr.Error(err))
		out.Result = ResultFailed
		return out, err
	}

	out.Result = ResultStored
	out.Payload = payload
	if !stored {
		// Another run won the write; report what it stored.
		out.Result = ResultSkipped
		if snap, err = s.tracker.Load(ctx, nil, job.GenerationID); err == nil {
			out.Payload = storedPayload(snap, factor)
		}
	}
	logger.InfoContext(ctx, "Subtask finished", attr.String("result", out.Result))

	s.advance(ctx, job.GenerationID, job.Subtask)
	return out, nil
}

func (s *PipelineService) compute(ctx context.Context, snap Snapshot, sub pipelinedomain.Subtask) (Payload, error) {
	gen := snap.State.Generation
	lb := snap.State.Leaderboard

	switch sub {
	case pipelinedomain.SubtaskWords:
		stats, err := s.provider.AnalyzeWords(ctx, gen.Sentence)
		return Payload{Words: stats}, err

	case pipelinedomain.SubtaskGrammar:
		report, err := s.provider.CheckGrammar(ctx, gen.Sentence)
		return Payload{Grammar: report}, err

	case pipelinedomain.SubtaskFluency:
		var refs []string
		if lb.Story != "" {
			refs = append(refs, lb.Story)
		}
		v, err := s.provider.Fluency(ctx, gen.Sentence, refs)
		return Payload{Fluency: v}, err

	case pipelinedomain.SubtaskContent:
		v, err := s.provider.ContentMatch(ctx, s.images.URL(lb.ImageKey), gen.Sentence)
		return Payload{Content: v}, err

	case pipelinedomain.SubtaskImage:
		data, err := s.provider.RegenerateImage(ctx, *gen.CorrectedSentence, lb.ScenePrompt)
		if err != nil {
			return Payload{}, err
		}
		key := fmt.Sprintf("generations/%d.png", gen.ID)
		if _, err := s.images.Put(ctx, key, data, "image/png"); err != nil {
			return Payload{}, err
		}
		return Payload{ImageKey: key}, nil

	case pipelinedomain.SubtaskScore:
		f := factorsOf(snap)
		b, err := s.scorer.Calculate(ctx, scoreservice.StrategyFormula, gen.ID, scoreservice.Input{Factors: &f})
		if err != nil {
			return Payload{}, err
		}
		return Payload{Score: &b}, nil

	case pipelinedomain.SubtaskEvaluation:
		scores, err := s.provider.EvaluationScores(ctx, s.evaluationRequest(snap))
		if err != nil {
			return Payload{}, err
		}
		b, err := s.scorer.Calculate(ctx, scoreservice.StrategyEvaluation, gen.ID, scoreservice.Input{Evaluation: &scores})
		if err != nil {
			return Payload{}, err
		}
		return Payload{Score: &b}, nil

	case pipelinedomain.SubtaskSimilarity:
		original, err := s.images.Get(ctx, lb.ImageKey)
		if err != nil {
			return Payload{}, err
		}
		regenerated, err := s.images.Get(ctx, *gen.InterpretedImageKey)
		if err != nil {
			return Payload{}, err
		}
		v, err := s.provider.ImageSimilarity(ctx, original, regenerated)
		return Payload{Similarity: v}, err
	}
	return Payload{}, fmt.Errorf("subtask %q: %w", sub, ErrUnknownFactor)
}

func (s *PipelineService) evaluationRequest(snap Snapshot) analysis.EvaluationRequest {
	gen := snap.State.Generation
	lb := snap.State.Leaderboard
	req := analysis.EvaluationRequest{
		Sentence:    gen.Sentence,
		ImageURL:    s.images.URL(lb.ImageKey),
		Description: lb.Story,
		Vocabulary:  lb.Vocabulary,
		Model:       snap.State.Round.Model,
	}
	if gen.CorrectedSentence != nil {
		req.CorrectedSentence = *gen.CorrectedSentence
	}
	return req
}

func factorsOf(snap Snapshot) scoreservice.Factors {
	g := snap.State.Generation
	f := scoreservice.Factors{
		Words:          g.NWords,
		GrammarErrors:  g.NGrammarErrors,
		SpellingErrors: g.NSpellingErrors,
		Adjectives:     g.NAdjectives,
		Adverbs:        g.NAdverbs,
		Pronouns:       g.NPronouns,
		Prepositions:   g.NPrepositions,
		Conjunctions:   g.NConjunctions,
		Clauses:        g.NClauses,
	}
	if g.Perplexity != nil {
		f.Fluency = *g.Perplexity
	}
	if g.ContentScore != nil {
		f.Content = *g.ContentScore
	}
	return f
}

// storedPayload reads an already-written factor back off the snapshot.
func storedPayload(snap Snapshot, factor pipelinedomain.Factor) Payload {
	g := snap.State.Generation
	var p Payload
	switch factor {
	case pipelinedomain.FactorWords:
		p.Words = analysis.WordStats{
			Words:        g.NWords,
			Conjunctions: g.NConjunctions,
			Adjectives:   g.NAdjectives,
			Adverbs:      g.NAdverbs,
			Pronouns:     g.NPronouns,
			Prepositions: g.NPrepositions,
			Clauses:      g.NClauses,
		}
	case pipelinedomain.FactorGrammar:
		p.Grammar = analysis.GrammarReport{Grammar: g.GrammarErrors, Spelling: g.SpellingErrors}
	case pipelinedomain.FactorFluency:
		if g.Perplexity != nil {
			p.Fluency = *g.Perplexity
		}
	case pipelinedomain.FactorContent:
		if g.ContentScore != nil {
			p.Content = *g.ContentScore
		}
	case pipelinedomain.FactorImage:
		if g.InterpretedImageKey != nil {
			p.ImageKey = *g.InterpretedImageKey
		}
	case pipelinedomain.FactorScore:
		if snap.State.Score != nil && g.TotalScore != nil {
			b := scoreservice.BreakdownOf(snap.State.Score, *g.TotalScore)
			p.Score = &b
		}
	case pipelinedomain.FactorSimilarity:
		if snap.State.Score != nil && snap.State.Score.ImageSimilarity != nil {
			p.Similarity = *snap.State.Score.ImageSimilarity
		}
	}
	return p
}
