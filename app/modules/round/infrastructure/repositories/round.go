package rounddb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// Impl implements the Repository interface using Bun ORM.
type Impl struct {
	db bun.IDB
}

var _ Repository = (*Impl)(nil)

// NewRepository creates a new round repository.
func NewRepository(db bun.IDB) Repository {
	return &Impl{db: db}
}

// resolveDB returns the provided db handle, falling back to the repository's
// default connection if db is nil.
func (r *Impl) resolveDB(db bun.IDB) bun.IDB {
	if db == nil {
		return r.db
	}
	return db
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

func expectRows(res sql.Result, what string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for %s: %w", what, err)
	}
	if rows == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

// --- players, programs, leaderboards ---

func (r *Impl) UpsertPlayer(ctx context.Context, db bun.IDB, player *Player) error {
	db = r.resolveDB(db)
	_, err := db.NewInsert().
		Model(player).
		On("CONFLICT (id) DO UPDATE").
		Set("username = EXCLUDED.username").
		Set("is_guest = EXCLUDED.is_guest").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert player: %w", err)
	}
	return nil
}

func (r *Impl) GetPlayer(ctx context.Context, db bun.IDB, id string) (*Player, error) {
	db = r.resolveDB(db)
	player := new(Player)
	if err := db.NewSelect().Model(player).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, notFound(err, "player")
	}
	return player, nil
}

func (r *Impl) GetProgramByName(ctx context.Context, db bun.IDB, name string) (*Program, error) {
	db = r.resolveDB(db)
	program := new(Program)
	if err := db.NewSelect().Model(program).Where("name = ?", name).Scan(ctx); err != nil {
		return nil, notFound(err, "program")
	}
	return program, nil
}

func (r *Impl) GetProgram(ctx context.Context, db bun.IDB, id int64) (*Program, error) {
	db = r.resolveDB(db)
	program := new(Program)
	if err := db.NewSelect().Model(program).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, notFound(err, "program")
	}
	return program, nil
}

func (r *Impl) GetLeaderboard(ctx context.Context, db bun.IDB, id int64) (*Leaderboard, error) {
	db = r.resolveDB(db)
	lb := new(Leaderboard)
	if err := db.NewSelect().Model(lb).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, notFound(err, "leaderboard")
	}
	return lb, nil
}

// --- chat ---

func (r *Impl) CreateChat(ctx context.Context, db bun.IDB) (*Chat, error) {
	db = r.resolveDB(db)
	// SQLite rejects an insert that names no columns.
	chat := &Chat{CreatedAt: time.Now().UTC()}
	if _, err := db.NewInsert().Model(chat).Returning("*").Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	return chat, nil
}

func (r *Impl) AppendMessage(ctx context.Context, db bun.IDB, msg *Message) error {
	db = r.resolveDB(db)
	if _, err := db.NewInsert().Model(msg).Returning("*").Exec(ctx); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (r *Impl) ListMessages(ctx context.Context, db bun.IDB, chatID int64) ([]Message, error) {
	db = r.resolveDB(db)
	var msgs []Message
	err := db.NewSelect().
		Model(&msgs).
		Where("chat_id = ?", chatID).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

// --- rounds ---

func (r *Impl) CreateRound(ctx context.Context, db bun.IDB, round *Round) error {
	db = r.resolveDB(db)
	if _, err := db.NewInsert().Model(round).Returning("*").Exec(ctx); err != nil {
		return fmt.Errorf("failed to create round: %w", err)
	}
	return nil
}

func (r *Impl) GetRound(ctx context.Context, db bun.IDB, id int64) (*Round, error) {
	db = r.resolveDB(db)
	round := new(Round)
	if err := db.NewSelect().Model(round).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, notFound(err, "round")
	}
	return round, nil
}

// FindLatestRound returns the most recently created round for the triple with
// the given completion state.
func (r *Impl) FindLatestRound(ctx context.Context, db bun.IDB, playerID string, leaderboardID, programID int64, completed bool) (*Round, error) {
	db = r.resolveDB(db)
	round := new(Round)
	err := db.NewSelect().
		Model(round).
		Where("player_id = ?", playerID).
		Where("leaderboard_id = ?", leaderboardID).
		Where("program_id = ?", programID).
		Where("is_completed = ?", completed).
		Order("created_at DESC", "id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "round")
	}
	return round, nil
}

func (r *Impl) ListOpenRounds(ctx context.Context, db bun.IDB, playerID string, leaderboardID, programID int64) ([]Round, error) {
	db = r.resolveDB(db)
	var rounds []Round
	err := db.NewSelect().
		Model(&rounds).
		Where("player_id = ?", playerID).
		Where("leaderboard_id = ?", leaderboardID).
		Where("program_id = ?", programID).
		Where("is_completed = ?", false).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list open rounds: %w", err)
	}
	return rounds, nil
}

// CompleteRound marks a round completed. It only touches rounds that are
// still open, returning ErrNoRowsAffected otherwise.
func (r *Impl) CompleteRound(ctx context.Context, db bun.IDB, id int64, duration int, lastGenerationID *int64) error {
	db = r.resolveDB(db)
	q := db.NewUpdate().
		Model((*Round)(nil)).
		Set("is_completed = ?", true).
		Set("duration = ?", duration).
		Where("id = ?", id).
		Where("is_completed = ?", false)
	if lastGenerationID != nil {
		q = q.Set("last_generation_id = ?", *lastGenerationID)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to complete round: %w", err)
	}
	return expectRows(res, "complete round")
}

func (r *Impl) SetLastGeneration(ctx context.Context, db bun.IDB, roundID, generationID int64) error {
	db = r.resolveDB(db)
	res, err := db.NewUpdate().
		Model((*Round)(nil)).
		Set("last_generation_id = ?", generationID).
		Where("id = ?", roundID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set last generation: %w", err)
	}
	return expectRows(res, "set last generation")
}

// --- generations ---

func (r *Impl) CreateGeneration(ctx context.Context, db bun.IDB, gen *Generation) error {
	db = r.resolveDB(db)
	if _, err := db.NewInsert().Model(gen).Returning("*").Exec(ctx); err != nil {
		return fmt.Errorf("failed to create generation: %w", err)
	}
	return nil
}

func (r *Impl) GetGeneration(ctx context.Context, db bun.IDB, id int64) (*Generation, error) {
	db = r.resolveDB(db)
	gen := new(Generation)
	if err := db.NewSelect().Model(gen).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, notFound(err, "generation")
	}
	return gen, nil
}

func (r *Impl) GetLatestGeneration(ctx context.Context, db bun.IDB, roundID int64) (*Generation, error) {
	db = r.resolveDB(db)
	gen := new(Generation)
	err := db.NewSelect().
		Model(gen).
		Where("round_id = ?", roundID).
		Order("generated_time DESC", "id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "generation")
	}
	return gen, nil
}

func (r *Impl) ListGenerations(ctx context.Context, db bun.IDB, roundID int64) ([]Generation, error) {
	db = r.resolveDB(db)
	var gens []Generation
	err := db.NewSelect().
		Model(&gens).
		Where("round_id = ?", roundID).
		Order("generated_time ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}
	return gens, nil
}

// UpdateSentence replaces the sentence of a generation that has not been
// corrected yet.
func (r *Impl) UpdateSentence(ctx context.Context, db bun.IDB, id int64, sentence string) error {
	db = r.resolveDB(db)
	res, err := db.NewUpdate().
		Model((*Generation)(nil)).
		Set("sentence = ?", sentence).
		Where("id = ?", id).
		Where("corrected_sentence IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update sentence: %w", err)
	}
	return expectRows(res, "update sentence")
}

// SetCorrection stores the corrected sentence once.
func (r *Impl) SetCorrection(ctx context.Context, db bun.IDB, id int64, corrected string) error {
	db = r.resolveDB(db)
	res, err := db.NewUpdate().
		Model((*Generation)(nil)).
		Set("corrected_sentence = ?", corrected).
		Where("id = ?", id).
		Where("corrected_sentence IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set correction: %w", err)
	}
	return expectRows(res, "set correction")
}

// CompleteGeneration marks an evaluated generation completed once.
func (r *Impl) CompleteGeneration(ctx context.Context, db bun.IDB, id int64, duration int, evaluationID *int64) error {
	db = r.resolveDB(db)
	q := db.NewUpdate().
		Model((*Generation)(nil)).
		Set("is_completed = ?", true).
		Set("duration = ?", duration).
		Where("id = ?", id).
		Where("is_completed = ?", false)
	if evaluationID != nil {
		q = q.Set("evaluation_id = ?", *evaluationID)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to complete generation: %w", err)
	}
	return expectRows(res, "complete generation")
}
