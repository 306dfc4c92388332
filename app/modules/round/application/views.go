package roundservice

import (
	"time"

	"github.com/Black-And-White-Club/avery/app/modules/analysis"
	rounddb "github.com/Black-And-White-Club/avery/app/modules/round/infrastructure/repositories"
	scoreservice "github.com/Black-And-White-Club/avery/app/modules/score/application"
)

type LeaderboardView struct {
	ID         int64    `json:"id"`
	Title      string   `json:"title"`
	ImageURL   string   `json:"image_url"`
	Story      string   `json:"story,omitempty"`
	Vocabulary []string `json:"vocabulary,omitempty"`
}

type RoundView struct {
	ID          int64     `json:"id"`
	Program     string    `json:"program"`
	Model       string    `json:"model,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Duration    int       `json:"duration"`
	IsCompleted bool      `json:"is_completed"`
}

type GenerationView struct {
	ID                int64              `json:"id"`
	GeneratedTime     int                `json:"generated_time"`
	Sentence          string             `json:"sentence"`
	CorrectedSentence *string            `json:"corrected_sentence,omitempty"`
	GrammarErrors     []analysis.Mistake `json:"grammar_errors,omitempty"`
	SpellingErrors    []analysis.Mistake `json:"spelling_errors,omitempty"`
	IsCompleted       bool               `json:"is_completed"`
	Duration          int                `json:"duration"`
}

type MessageView struct {
	ID           int64     `json:"id"`
	Sender       string    `json:"sender"`
	Content      string    `json:"content"`
	IsHint       bool      `json:"is_hint,omitempty"`
	IsEvaluation bool      `json:"is_evaluation,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type ChatView struct {
	ID       int64         `json:"id"`
	Messages []MessageView `json:"messages"`
}

type ScoreView struct {
	Strategy    string  `json:"strategy"`
	Grammar     float64 `json:"grammar_score"`
	Spelling    float64 `json:"spelling_score"`
	Vividness   float64 `json:"vividness_score"`
	Convention  bool    `json:"convention"`
	Structure   float64 `json:"structure_score"`
	Content     float64 `json:"content_score"`
	LangQuality float64 `json:"lang_quality"`
	Total       int     `json:"total_score"`
	Rank        string  `json:"rank"`
}

// FeedbackView is what evaluate returns once scoring has finished.
type FeedbackView struct {
	Score               *ScoreView `json:"score,omitempty"`
	InterpretedImageURL string     `json:"interpreted_image_url,omitempty"`
	ImageSimilarity     *float64   `json:"image_similarity,omitempty"`
	Evaluation          string     `json:"evaluation,omitempty"`
}

func (s *RoundService) leaderboardView(lb *rounddb.Leaderboard) *LeaderboardView {
	if lb == nil {
		return nil
	}
	return &LeaderboardView{
		ID:         lb.ID,
		Title:      lb.Title,
		ImageURL:   s.images.URL(lb.ImageKey),
		Story:      lb.Story,
		Vocabulary: lb.Vocabulary,
	}
}

func roundView(r *rounddb.Round, program *rounddb.Program) *RoundView {
	if r == nil {
		return nil
	}
	v := &RoundView{
		ID:          r.ID,
		Model:       r.Model,
		CreatedAt:   r.CreatedAt,
		Duration:    r.Duration,
		IsCompleted: r.IsCompleted,
	}
	if program != nil {
		v.Program = program.Name
	}
	return v
}

func generationView(g *rounddb.Generation) *GenerationView {
	if g == nil {
		return nil
	}
	return &GenerationView{
		ID:                g.ID,
		GeneratedTime:     g.GeneratedTime,
		Sentence:          g.Sentence,
		CorrectedSentence: g.CorrectedSentence,
		GrammarErrors:     g.GrammarErrors,
		SpellingErrors:    g.SpellingErrors,
		IsCompleted:       g.IsCompleted,
		Duration:          g.Duration,
	}
}

func chatView(chatID int64, msgs []rounddb.Message) *ChatView {
	v := &ChatView{ID: chatID, Messages: make([]MessageView, 0, len(msgs))}
	for _, m := range msgs {
		v.Messages = append(v.Messages, MessageView{
			ID:           m.ID,
			Sender:       m.Sender,
			Content:      m.Content,
			IsHint:       m.IsHint,
			IsEvaluation: m.IsEvaluation,
			CreatedAt:    m.CreatedAt,
		})
	}
	return v
}

func scoreView(b scoreservice.Breakdown) *ScoreView {
	return &ScoreView{
		Strategy:    b.Strategy,
		Grammar:     b.Grammar,
		Spelling:    b.Spelling,
		Vividness:   b.Vividness,
		Convention:  b.Convention,
		Structure:   b.Structure,
		Content:     b.Content,
		LangQuality: b.LangQuality,
		Total:       b.Total,
		Rank:        string(b.Rank),
	}
}
