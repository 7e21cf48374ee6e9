package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Draggon233/gift-song/internal/domain"
)

// PGStore keeps the same state as FileStore in Postgres. Schema lives in
// internal/db/migrations.
type PGStore struct{ pool *pgxpool.Pool }

func NewPGStore(p *pgxpool.Pool) *PGStore { return &PGStore{pool: p} }

func (r *PGStore) Load(ctx context.Context) (State, error) {
	st := State{Processed: make(map[int64]struct{})}

	rows, err := r.pool.Query(ctx, `SELECT user_id FROM processed_users`)
	if err != nil {
		return State{}, domain.E(domain.KindPersistence, "load processed", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return State{}, domain.E(domain.KindPersistence, "load processed", err)
	}
	for _, id := range ids {
		st.Processed[id] = struct{}{}
	}

	rows, err = r.pool.Query(ctx, `
		SELECT partner_id, partner_name, birthday_user_id, birthday_user_name, sent_at, message
		FROM sent_messages
		ORDER BY id
	`)
	if err != nil {
		return State{}, domain.E(domain.KindPersistence, "load sent", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m domain.SentMessageRecord
		if err := rows.Scan(&m.PartnerID, &m.PartnerName, &m.BirthdayUserID, &m.BirthdayUserName, &m.SentAt, &m.MessageText); err != nil {
			return State{}, domain.E(domain.KindPersistence, "load sent", err)
		}
		st.Sent = append(st.Sent, m)
	}
	if err := rows.Err(); err != nil {
		return State{}, domain.E(domain.KindPersistence, "load sent", err)
	}

	st.Stats, err = loadStatistics(ctx, r.pool)
	if err != nil {
		return State{}, domain.E(domain.KindPersistence, "load stats", err)
	}
	return st, nil
}

// Commit writes the whole run in one transaction.
func (r *PGStore) Commit(ctx context.Context, c Commit) (Statistics, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Statistics{}, domain.E(domain.KindPersistence, "commit", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, id := range c.Processed {
		if _, err := tx.Exec(ctx, `
			INSERT INTO processed_users(user_id, processed_at)
			VALUES($1, $2)
			ON CONFLICT DO NOTHING
		`, id, c.RunAt); err != nil {
			return Statistics{}, domain.E(domain.KindPersistence, "commit processed", err)
		}
	}

	for _, m := range c.Sent {
		if _, err := tx.Exec(ctx, `
			INSERT INTO sent_messages(partner_id, partner_name, birthday_user_id, birthday_user_name, sent_at, message)
			VALUES($1,$2,$3,$4,$5,$6)
		`, m.PartnerID, m.PartnerName, m.BirthdayUserID, m.BirthdayUserName, m.SentAt, m.MessageText); err != nil {
			return Statistics{}, domain.E(domain.KindPersistence, "commit sent", err)
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO daily_stats(day, runs, processed_users, messages_sent)
		VALUES($1, 1, $2, $3)
		ON CONFLICT (day) DO UPDATE
		SET runs = daily_stats.runs + 1,
			processed_users = daily_stats.processed_users + EXCLUDED.processed_users,
			messages_sent = daily_stats.messages_sent + EXCLUDED.messages_sent
	`, c.day(), len(c.Processed), len(c.Sent)); err != nil {
		return Statistics{}, domain.E(domain.KindPersistence, "commit daily", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE run_totals
		SET total_runs = total_runs + 1,
			total_processed = total_processed + $1,
			total_messages = total_messages + $2,
			last_run = $3
		WHERE id = 1
	`, len(c.Processed), len(c.Sent), c.RunAt); err != nil {
		return Statistics{}, domain.E(domain.KindPersistence, "commit totals", err)
	}

	stats, err := loadStatistics(ctx, tx)
	if err != nil {
		return Statistics{}, domain.E(domain.KindPersistence, "commit", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Statistics{}, domain.E(domain.KindPersistence, "commit", err)
	}
	return stats, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func loadStatistics(ctx context.Context, q querier) (Statistics, error) {
	s := Statistics{Daily: make(map[string]DailyStats)}

	var lastRun *time.Time
	err := q.QueryRow(ctx, `
		SELECT total_runs, total_processed, total_messages, last_run
		FROM run_totals WHERE id = 1
	`).Scan(&s.TotalRuns, &s.TotalProcessed, &s.TotalMessages, &lastRun)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Statistics{}, err
	}
	if lastRun != nil {
		s.LastRun = lastRun.Local()
	}

	rows, err := q.Query(ctx, `SELECT day, runs, processed_users, messages_sent FROM daily_stats`)
	if err != nil {
		return Statistics{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var day string
		var d DailyStats
		if err := rows.Scan(&day, &d.Runs, &d.Processed, &d.Messages); err != nil {
			return Statistics{}, err
		}
		s.Daily[day] = d
	}
	return s, rows.Err()
}
