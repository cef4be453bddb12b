package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"studygroup-server/internal/apperr"
	"studygroup-server/internal/chat"
	"studygroup-server/internal/groups"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PersistenceManager archives groups and their chat logs to Postgres. The archive is an
// audit trail only: the in-memory stores stay authoritative and are never restored from it.
// Rows are keyed by a per-process run id because group and message ids restart at 1.
type PersistenceManager struct {
	pool  *pgxpool.Pool
	runID uuid.UUID
}

// NewPersistenceManager connects to databaseURL and applies pending migrations.
func NewPersistenceManager(ctx context.Context, databaseURL string) (*PersistenceManager, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	if err := runMigrations(pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PersistenceManager{pool: pool, runID: uuid.New()}, nil
}

// runMigrations applies the embedded goose migrations through a database/sql view of the pool.
func runMigrations(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

func (pm *PersistenceManager) RunID() uuid.UUID {
	return pm.runID
}

// SaveGroup upserts the group row and inserts any messages not archived yet, in one transaction.
func (pm *PersistenceManager) SaveGroup(ctx context.Context, g groups.Group, messages []chat.Message) error {
	scores, err := json.Marshal(g.Scores)
	if err != nil {
		return fmt.Errorf("failed to serialize scores of group %d: %w", g.ID, err)
	}
	members := make([]int64, len(g.Members))
	for i, m := range g.Members {
		members[i] = int64(m)
	}

	tx, err := pm.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin archive of group %d: %w", g.ID, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO archived_groups (run_id, group_id, category, status, members, scores, created_at, updated_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id, group_id) DO UPDATE SET
			status = EXCLUDED.status,
			members = EXCLUDED.members,
			scores = EXCLUDED.scores,
			updated_at = EXCLUDED.updated_at
	`, pm.runID.String(), g.ID, g.Category, string(g.Status), members, scores, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save group %d: %w", g.ID, err)
	}

	batch := &pgx.Batch{}
	for _, m := range messages {
		batch.Queue(`
			INSERT INTO archived_messages (run_id, group_id, message_id, seq, kind, user_id, username, avatar, body, sent_at)
			VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (run_id, message_id) DO NOTHING
		`, pm.runID.String(), g.ID, m.ID, m.Seq, string(m.Kind), m.UserID, m.Username, m.Avatar, m.Body, m.Timestamp)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to save messages of group %d: %w", g.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit archive of group %d: %w", g.ID, err)
	}
	return nil
}

// LoadGroup reads back an archived group of the given run.
func (pm *PersistenceManager) LoadGroup(ctx context.Context, runID uuid.UUID, groupID int) (groups.Group, error) {
	var (
		g       groups.Group
		status  string
		members []int64
		scores  []byte
	)
	err := pm.pool.QueryRow(ctx, `
		SELECT group_id, category, status, members, scores, created_at, updated_at
		FROM archived_groups WHERE run_id = $1::uuid AND group_id = $2
	`, runID.String(), groupID).Scan(&g.ID, &g.Category, &status, &members, &scores, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return groups.Group{}, apperr.NotFound(apperr.CodeGroupNotFound, "group %d is not archived in run %s", groupID, runID)
	}
	if err != nil {
		return groups.Group{}, fmt.Errorf("failed to load group %d: %w", groupID, err)
	}

	g.Status = groups.Status(status)
	g.Members = make([]int, len(members))
	for i, m := range members {
		g.Members[i] = int(m)
	}
	if err := json.Unmarshal(scores, &g.Scores); err != nil {
		return groups.Group{}, fmt.Errorf("failed to deserialize scores of group %d: %w", groupID, err)
	}
	return g, nil
}

// LoadMessages returns the archived log of a group of the given run in seq order.
func (pm *PersistenceManager) LoadMessages(ctx context.Context, runID uuid.UUID, groupID int) ([]chat.Message, error) {
	rows, err := pm.pool.Query(ctx, `
		SELECT message_id, seq, kind, user_id, username, avatar, body, sent_at
		FROM archived_messages WHERE run_id = $1::uuid AND group_id = $2
		ORDER BY seq
	`, runID.String(), groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages of group %d: %w", groupID, err)
	}
	defer rows.Close()

	messages := make([]chat.Message, 0)
	for rows.Next() {
		m := chat.Message{GroupID: groupID}
		var kind string
		if err := rows.Scan(&m.ID, &m.Seq, &kind, &m.UserID, &m.Username, &m.Avatar, &m.Body, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		m.Kind = chat.Kind(kind)
		m.Timestamp = m.Timestamp.UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

// CleanupFinishedGroups deletes finished groups (of any run) last updated before now-olderThan.
// Their messages go with them.
func (pm *PersistenceManager) CleanupFinishedGroups(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	tag, err := pm.pool.Exec(ctx,
		`DELETE FROM archived_groups WHERE status = $1 AND updated_at < $2`,
		string(groups.StatusFinished), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup archived groups: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Health reports pool status in the shape the /health endpoint returns.
func (pm *PersistenceManager) Health(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	stats := make(map[string]string)
	if err := pm.pool.Ping(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	s := pm.pool.Stat()
	stats["status"] = "up"
	stats["message"] = "archive database is healthy"
	stats["total_connections"] = strconv.Itoa(int(s.TotalConns()))
	stats["idle_connections"] = strconv.Itoa(int(s.IdleConns()))
	stats["acquired_connections"] = strconv.Itoa(int(s.AcquiredConns()))
	stats["run_id"] = pm.runID.String()
	return stats
}

func (pm *PersistenceManager) Close() {
	pm.pool.Close()
}
