package scoredb

import (
	"time"

	"github.com/uptrace/bun"
)

// Score holds the sub-scores of one generation. ImageSimilarity is written
// by a later pipeline stage.
type Score struct {
	bun.BaseModel `bun:"table:scores,alias:s"`

	ID              int64     `bun:"id,pk,autoincrement"`
	GenerationID    int64     `bun:"generation_id,notnull,unique"`
	Strategy        string    `bun:"strategy,notnull"`
	Grammar         float64   `bun:"grammar,notnull"`
	Spelling        float64   `bun:"spelling,notnull"`
	Vividness       float64   `bun:"vividness,notnull"`
	Convention      bool      `bun:"convention,notnull"`
	Structure       float64   `bun:"structure,notnull"`
	Content         float64   `bun:"content,notnull"`
	ImageSimilarity *float64  `bun:"image_similarity"`
	CreatedAt       time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
