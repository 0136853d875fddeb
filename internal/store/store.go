package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/invisinsights/internal/signal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists received session payloads in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
		now:  time.Now,
	}, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS session_signals (
    project_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    page_path TEXT NOT NULL,
    page_query TEXT NOT NULL DEFAULT '',
    timestamp_ms BIGINT NOT NULL,
    end_reason TEXT NOT NULL,
    payload JSONB NOT NULL,
    received_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (project_id, session_id, page_path, timestamp_ms)
);
CREATE TABLE IF NOT EXISTS page_rollups (
    project_id TEXT NOT NULL,
    page_path TEXT NOT NULL,
    sessions BIGINT NOT NULL DEFAULT 0,
    rage_clicks BIGINT NOT NULL DEFAULT 0,
    idle_periods BIGINT NOT NULL DEFAULT 0,
    disabled_clicks BIGINT NOT NULL DEFAULT 0,
    noninteractive_clicks BIGINT NOT NULL DEFAULT 0,
    scroll_reversals BIGINT NOT NULL DEFAULT 0,
    rereads BIGINT NOT NULL DEFAULT 0,
    navigation_loops BIGINT NOT NULL DEFAULT 0,
    goals_completed BIGINT NOT NULL DEFAULT 0,
    near_cta_exits BIGINT NOT NULL DEFAULT 0,
    total_time_ms BIGINT NOT NULL DEFAULT 0,
    last_seen TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (project_id, page_path)
);`

// EnsureSchema creates the tables used by the store when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const (
	sqlInsertSession = `
        INSERT INTO session_signals (project_id, session_id, page_path, page_query, timestamp_ms, end_reason, payload, received_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (project_id, session_id, page_path, timestamp_ms) DO NOTHING;
    `
	sqlUpsertRollup = `
        INSERT INTO page_rollups (project_id, page_path, sessions, rage_clicks, idle_periods, disabled_clicks,
            noninteractive_clicks, scroll_reversals, rereads, navigation_loops, goals_completed, near_cta_exits,
            total_time_ms, last_seen)
        VALUES ($1, $2, 1, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        ON CONFLICT (project_id, page_path) DO UPDATE SET
            sessions = page_rollups.sessions + 1,
            rage_clicks = page_rollups.rage_clicks + EXCLUDED.rage_clicks,
            idle_periods = page_rollups.idle_periods + EXCLUDED.idle_periods,
            disabled_clicks = page_rollups.disabled_clicks + EXCLUDED.disabled_clicks,
            noninteractive_clicks = page_rollups.noninteractive_clicks + EXCLUDED.noninteractive_clicks,
            scroll_reversals = page_rollups.scroll_reversals + EXCLUDED.scroll_reversals,
            rereads = page_rollups.rereads + EXCLUDED.rereads,
            navigation_loops = page_rollups.navigation_loops + EXCLUDED.navigation_loops,
            goals_completed = page_rollups.goals_completed + EXCLUDED.goals_completed,
            near_cta_exits = page_rollups.near_cta_exits + EXCLUDED.near_cta_exits,
            total_time_ms = page_rollups.total_time_ms + EXCLUDED.total_time_ms,
            last_seen = EXCLUDED.last_seen;
    `
)

// Save stores one session-end payload and folds it into the page rollup. A
// payload already stored (a retried delivery) is ignored.
func (s *Store) Save(ctx context.Context, p signal.Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	receivedAt := s.now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	tag, err := tx.Exec(ctx, sqlInsertSession,
		p.ProjectID, p.SessionID, p.PagePath, p.PageQuery, p.TimestampMs, p.SessionEndReason, body, receivedAt)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	if tag.RowsAffected() == 0 {
		s.log.Debug("Duplicate session payload ignored",
			zap.String("project_id", p.ProjectID),
			zap.String("session_id", p.SessionID))
	} else {
		if _, err := tx.Exec(ctx, sqlUpsertRollup, rollupArgs(p, receivedAt)...); err != nil {
			return fmt.Errorf("failed to update page rollup: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

func rollupArgs(p signal.Payload, receivedAt time.Time) []any {
	return []any{
		p.ProjectID, p.PagePath,
		p.RageClickCount, p.IdleHesitationCount, p.DisabledClickCount,
		p.NonInteractiveClickCount, p.ScrollReversalCount, p.RereadSectionCount,
		p.NavigationLoopCount, boolToInt(p.GoalCompleted),
		boolToInt(p.InferredAbandonmentContext.NearCTABeforeExit),
		p.TimeOnPageMs, receivedAt,
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// PageSummary is the aggregated friction of one page.
type PageSummary struct {
	PagePath             string    `json:"page_path"`
	Sessions             int64     `json:"sessions"`
	RageClicks           int64     `json:"rage_clicks"`
	IdlePeriods          int64     `json:"idle_periods"`
	DisabledClicks       int64     `json:"disabled_clicks"`
	NonInteractiveClicks int64     `json:"noninteractive_clicks"`
	ScrollReversals      int64     `json:"scroll_reversals"`
	Rereads              int64     `json:"rereads"`
	NavigationLoops      int64     `json:"navigation_loops"`
	GoalsCompleted       int64     `json:"goals_completed"`
	NearCTAExits         int64     `json:"near_cta_exits"`
	AvgTimeOnPageMs      int64     `json:"avg_time_on_page_ms"`
	LastSeen             time.Time `json:"last_seen"`
}

// FrictionScore weighs the signals that most often precede abandonment,
// normalized per session.
func (p PageSummary) FrictionScore() float64 {
	if p.Sessions == 0 {
		return 0
	}
	weighted := 3*p.RageClicks + 2*p.DisabledClicks + p.NonInteractiveClicks +
		p.ScrollReversals + p.Rereads + 2*p.NavigationLoops + p.IdlePeriods
	return float64(weighted) / float64(p.Sessions)
}

const sqlPageSummaries = `
        SELECT page_path, sessions, rage_clicks, idle_periods, disabled_clicks, noninteractive_clicks,
            scroll_reversals, rereads, navigation_loops, goals_completed, near_cta_exits, total_time_ms, last_seen
        FROM page_rollups
        WHERE project_id = $1
        ORDER BY sessions DESC, page_path ASC
        LIMIT $2;
    `

// PageSummaries returns the rollups of a project, busiest pages first.
func (s *Store) PageSummaries(ctx context.Context, projectID string, limit int) ([]PageSummary, error) {
	rows, err := s.pool.Query(ctx, sqlPageSummaries, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query page rollups: %w", err)
	}
	defer rows.Close()

	var summaries []PageSummary
	for rows.Next() {
		var ps PageSummary
		var totalTime int64
		err := rows.Scan(
			&ps.PagePath, &ps.Sessions, &ps.RageClicks, &ps.IdlePeriods, &ps.DisabledClicks,
			&ps.NonInteractiveClicks, &ps.ScrollReversals, &ps.Rereads, &ps.NavigationLoops,
			&ps.GoalsCompleted, &ps.NearCTAExits, &totalTime, &ps.LastSeen,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan page rollup row: %w", err)
		}
		if ps.Sessions > 0 {
			ps.AvgTimeOnPageMs = totalTime / ps.Sessions
		}
		summaries = append(summaries, ps)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return summaries, nil
}
