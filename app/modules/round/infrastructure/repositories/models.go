package rounddb

import (
	"strings"
	"time"

	"github.com/Black-And-White-Club/avery/app/modules/analysis"
	"github.com/uptrace/bun"
)

// Program feedback flags.
const (
	FeedbackImage      = "IMG"
	FeedbackScore      = "AWS"
	FeedbackEvaluation = "AWE"
)

// Message senders.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// Player is the identity behind a websocket session.
type Player struct {
	bun.BaseModel `bun:"table:players,alias:p"`

	ID        string    `bun:"id,pk"`
	Username  string    `bun:"username,notnull"`
	IsGuest   bool      `bun:"is_guest,notnull,default:false"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// Program selects feedback modes and the scoring strategy.
type Program struct {
	bun.BaseModel `bun:"table:programs,alias:pg"`

	ID       int64  `bun:"id,pk,autoincrement"`
	Name     string `bun:"name,notnull,unique"`
	Feedback string `bun:"feedback,notnull,default:''"`
	Scoring  string `bun:"scoring,notnull,default:'formula'"`
}

// Has reports whether the program enables a feedback flag.
func (p *Program) Has(flag string) bool {
	return strings.Contains(p.Feedback, flag)
}

// Leaderboard is the image a round describes.
type Leaderboard struct {
	bun.BaseModel `bun:"table:leaderboards,alias:lb"`

	ID          int64     `bun:"id,pk,autoincrement"`
	Title       string    `bun:"title,notnull"`
	ImageKey    string    `bun:"image_key,notnull"`
	Story       string    `bun:"story"`
	ScenePrompt string    `bun:"scene_prompt"` // drawing style for regenerated images
	Vocabulary  []string  `bun:"vocabulary,type:jsonb"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type Chat struct {
	bun.BaseModel `bun:"table:chats,alias:c"`

	ID        int64     `bun:"id,pk,autoincrement"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// Message is one append-only chat entry.
type Message struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	ID           int64     `bun:"id,pk,autoincrement"`
	ChatID       int64     `bun:"chat_id,notnull"`
	Sender       string    `bun:"sender,notnull"`
	Content      string    `bun:"content,notnull"`
	ResponseID   string    `bun:"response_id"`
	IsHint       bool      `bun:"is_hint,notnull,default:false"`
	IsEvaluation bool      `bun:"is_evaluation,notnull,default:false"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// Round is one playthrough of a leaderboard by a player under a program.
type Round struct {
	bun.BaseModel `bun:"table:rounds,alias:r"`

	ID               int64     `bun:"id,pk,autoincrement"`
	PlayerID         string    `bun:"player_id,notnull"`
	LeaderboardID    int64     `bun:"leaderboard_id,notnull"`
	ProgramID        int64     `bun:"program_id,notnull"`
	ChatID           int64     `bun:"chat_id,notnull"`
	Model            string    `bun:"model"`
	CreatedAt        time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	Duration         int       `bun:"duration,notnull,default:0"`
	LastGenerationID *int64    `bun:"last_generation_id"`
	IsCompleted      bool      `bun:"is_completed,notnull,default:false"`
}

// Generation is one writing submission. Factor columns are written
// independently by pipeline subtasks; each updated_* flag is set in the same
// statement as the columns it guards.
type Generation struct {
	bun.BaseModel `bun:"table:generations,alias:g"`

	ID                int64   `bun:"id,pk,autoincrement"`
	RoundID           int64   `bun:"round_id,notnull"`
	GeneratedTime     int     `bun:"generated_time,notnull,default:0"`
	Sentence          string  `bun:"sentence,notnull,default:''"`
	CorrectedSentence *string `bun:"corrected_sentence"`

	GrammarErrors   []analysis.Mistake `bun:"grammar_errors,type:jsonb"`
	SpellingErrors  []analysis.Mistake `bun:"spelling_errors,type:jsonb"`
	NGrammarErrors  int                `bun:"n_grammar_errors,notnull,default:0"`
	NSpellingErrors int                `bun:"n_spelling_errors,notnull,default:0"`

	NWords        int      `bun:"n_words,notnull,default:0"`
	NConjunctions int      `bun:"n_conjunctions,notnull,default:0"`
	NAdjectives   int      `bun:"n_adjectives,notnull,default:0"`
	NAdverbs      int      `bun:"n_adverbs,notnull,default:0"`
	NPronouns     int      `bun:"n_pronouns,notnull,default:0"`
	NPrepositions int      `bun:"n_prepositions,notnull,default:0"`
	NClauses      int      `bun:"n_clauses,notnull,default:0"`
	Perplexity    *float64 `bun:"perplexity"`
	ContentScore  *float64 `bun:"content_score"`

	UpdatedNWords        bool `bun:"updated_n_words,notnull,default:false"`
	UpdatedGrammarErrors bool `bun:"updated_grammar_errors,notnull,default:false"`
	UpdatedPerplexity    bool `bun:"updated_perplexity,notnull,default:false"`
	UpdatedContentScore  bool `bun:"updated_content_score,notnull,default:false"`

	InterpretedImageKey *string `bun:"interpreted_image_key"`
	ScoreID             *int64  `bun:"score_id"`
	TotalScore          *int    `bun:"total_score"`
	Rank                *string `bun:"rank"`
	EvaluationID        *int64  `bun:"evaluation_id"`

	IsCompleted bool      `bun:"is_completed,notnull,default:false"`
	Duration    int       `bun:"duration,notnull,default:0"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// Corrected reports whether the submission has an accepted correction.
func (g *Generation) Corrected() bool {
	return g.CorrectedSentence != nil
}
