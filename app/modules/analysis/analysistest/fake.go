// Package analysistest provides programmable in-memory stand-ins for the
// analysis provider and image store.
package analysistest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Black-And-White-Club/avery/app/modules/analysis"
)

// Provider is a fake analysis.Provider. Nil funcs fall back to fixed,
// plausible results. Calls are counted per method name.
type Provider struct {
	CorrectSentenceFunc  func(ctx context.Context, sentence string) (analysis.Correction, error)
	CheckGrammarFunc     func(ctx context.Context, sentence string) (analysis.GrammarReport, error)
	AnalyzeWordsFunc     func(ctx context.Context, sentence string) (analysis.WordStats, error)
	FluencyFunc          func(ctx context.Context, sentence string, references []string) (float64, error)
	ContentMatchFunc     func(ctx context.Context, imageURL, sentence string) (float64, error)
	RegenerateImageFunc  func(ctx context.Context, sentence, style string) ([]byte, error)
	ImageSimilarityFunc  func(ctx context.Context, original, regenerated []byte) (float64, error)
	EvaluationScoresFunc func(ctx context.Context, req analysis.EvaluationRequest) (analysis.EvaluationScores, error)
	EvaluateFunc         func(ctx context.Context, req analysis.EvaluationRequest) (string, error)
	OpenHintSessionFunc  func(ctx context.Context, hc analysis.HintContext) (analysis.HintSession, error)

	mu    sync.Mutex
	calls map[string]int
}

var _ analysis.Provider = (*Provider)(nil)

func (p *Provider) record(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = map[string]int{}
	}
	p.calls[name]++
}

// Calls returns how many times the named method ran.
func (p *Provider) Calls(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

func (p *Provider) CorrectSentence(ctx context.Context, sentence string) (analysis.Correction, error) {
	p.record("CorrectSentence")
	if p.CorrectSentenceFunc != nil {
		return p.CorrectSentenceFunc(ctx, sentence)
	}
	return analysis.Correction{Status: analysis.StatusValid, Corrected: sentence}, nil
}

func (p *Provider) CheckGrammar(ctx context.Context, sentence string) (analysis.GrammarReport, error) {
	p.record("CheckGrammar")
	if p.CheckGrammarFunc != nil {
		return p.CheckGrammarFunc(ctx, sentence)
	}
	return analysis.GrammarReport{}, nil
}

func (p *Provider) AnalyzeWords(ctx context.Context, sentence string) (analysis.WordStats, error) {
	p.record("AnalyzeWords")
	if p.AnalyzeWordsFunc != nil {
		return p.AnalyzeWordsFunc(ctx, sentence)
	}
	return analysis.WordStats{
		Words:        len(strings.Fields(sentence)),
		Adjectives:   1,
		Prepositions: 1,
		Conjunctions: 1,
		Clauses:      1,
	}, nil
}

func (p *Provider) Fluency(ctx context.Context, sentence string, references []string) (float64, error) {
	p.record("Fluency")
	if p.FluencyFunc != nil {
		return p.FluencyFunc(ctx, sentence, references)
	}
	return 0.5, nil
}

func (p *Provider) ContentMatch(ctx context.Context, imageURL, sentence string) (float64, error) {
	p.record("ContentMatch")
	if p.ContentMatchFunc != nil {
		return p.ContentMatchFunc(ctx, imageURL, sentence)
	}
	return 60, nil
}

func (p *Provider) RegenerateImage(ctx context.Context, sentence, style string) ([]byte, error) {
	p.record("RegenerateImage")
	if p.RegenerateImageFunc != nil {
		return p.RegenerateImageFunc(ctx, sentence, style)
	}
	return []byte("regenerated:" + sentence), nil
}

func (p *Provider) ImageSimilarity(ctx context.Context, original, regenerated []byte) (float64, error) {
	p.record("ImageSimilarity")
	if p.ImageSimilarityFunc != nil {
		return p.ImageSimilarityFunc(ctx, original, regenerated)
	}
	return 0.75, nil
}

func (p *Provider) EvaluationScores(ctx context.Context, req analysis.EvaluationRequest) (analysis.EvaluationScores, error) {
	p.record("EvaluationScores")
	if p.EvaluationScoresFunc != nil {
		return p.EvaluationScoresFunc(ctx, req)
	}
	return analysis.EvaluationScores{Grammar: 3, Spelling: 1, Vividness: 1, Convention: 1, Structure: 1, Content: 3}, nil
}

func (p *Provider) Evaluate(ctx context.Context, req analysis.EvaluationRequest) (string, error) {
	p.record("Evaluate")
	if p.EvaluateFunc != nil {
		return p.EvaluateFunc(ctx, req)
	}
	return "Nice description of the picture.", nil
}

func (p *Provider) OpenHintSession(ctx context.Context, hc analysis.HintContext) (analysis.HintSession, error) {
	p.record("OpenHintSession")
	if p.OpenHintSessionFunc != nil {
		return p.OpenHintSessionFunc(ctx, hc)
	}
	return &HintSession{}, nil
}

// HintSession is a fake analysis.HintSession that echoes prompts.
type HintSession struct {
	NextFunc func(ctx context.Context, prompt string) (analysis.HintReply, error)

	mu     sync.Mutex
	turns  int
	closed int
}

var _ analysis.HintSession = (*HintSession)(nil)

func (h *HintSession) Next(ctx context.Context, prompt string) (analysis.HintReply, error) {
	h.mu.Lock()
	closed := h.closed > 0
	h.turns++
	turn := h.turns
	h.mu.Unlock()

	if closed {
		return analysis.HintReply{}, analysis.ErrHintSessionClosed
	}
	if h.NextFunc != nil {
		return h.NextFunc(ctx, prompt)
	}
	return analysis.HintReply{Content: "Try describing: " + prompt, ResponseID: fmt.Sprintf("resp-%d", turn)}, nil
}

func (h *HintSession) Close(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
	return nil
}

// Closed returns how many times Close was called.
func (h *HintSession) Closed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// ImageStore keeps images in memory.
type ImageStore struct {
	BaseURL string

	mu      sync.Mutex
	objects map[string][]byte
}

var _ analysis.ImageStore = (*ImageStore)(nil)

func (s *ImageStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		s.objects = map[string][]byte{}
	}
	s.objects[key] = append([]byte(nil), data...)
	return s.URL(key), nil
}

func (s *ImageStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, analysis.ErrImageNotFound)
	}
	return data, nil
}

func (s *ImageStore) URL(key string) string {
	base := s.BaseURL
	if base == "" {
		base = "https://images.test"
	}
	return base + "/" + key
}
