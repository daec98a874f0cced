package episode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/apperror"
	"github.com/hms/hms/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepoPG returns a PostgreSQL-backed episode repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const episodeColumns = `id, patient_id, doctor_id, scheduled_at, method, status, disposition,
	notes, bed_id, admitted_at, discharged_at, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, e *Episode) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO care_episode (`+episodeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.PatientID, e.DoctorID, e.ScheduledAt, e.Method, e.Status, e.Disposition,
		e.Notes, e.BedID, e.AdmittedAt, e.DischargedAt, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert episode: %w", err)
	}
	return nil
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*Episode, error) {
	var e Episode
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+episodeColumns+` FROM care_episode WHERE id = $1`, id).
		Scan(&e.ID, &e.PatientID, &e.DoctorID, &e.ScheduledAt, &e.Method, &e.Status, &e.Disposition,
			&e.Notes, &e.BedID, &e.AdmittedAt, &e.DischargedAt, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("episode", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get episode: %w", err)
	}
	return &e, nil
}

func (r *repoPG) Update(ctx context.Context, e *Episode) error {
	e.UpdatedAt = time.Now().UTC()
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE care_episode
		SET scheduled_at = $2, method = $3, status = $4, disposition = $5, notes = $6,
		    bed_id = $7, admitted_at = $8, discharged_at = $9, updated_at = $10
		WHERE id = $1`,
		e.ID, e.ScheduledAt, e.Method, e.Status, e.Disposition, e.Notes,
		e.BedID, e.AdmittedAt, e.DischargedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update episode: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("episode", e.ID.String())
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM care_episode WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete episode: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("episode", id.String())
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Episode, int, error) {
	return r.list(ctx,
		`SELECT COUNT(*) FROM care_episode`, nil,
		`SELECT `+episodeColumns+` FROM care_episode ORDER BY scheduled_at DESC LIMIT $1 OFFSET $2`,
		[]interface{}{limit, offset})
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Episode, int, error) {
	return r.list(ctx,
		`SELECT COUNT(*) FROM care_episode WHERE patient_id = $1`, []interface{}{patientID},
		`SELECT `+episodeColumns+` FROM care_episode WHERE patient_id = $1
		 ORDER BY scheduled_at DESC LIMIT $2 OFFSET $3`,
		[]interface{}{patientID, limit, offset})
}

func (r *repoPG) list(ctx context.Context, countSQL string, countArgs []interface{}, listSQL string, listArgs []interface{}) ([]*Episode, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count episodes: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list episodes: %w", err)
	}
	defer rows.Close()

	episodes := make([]*Episode, 0)
	for rows.Next() {
		var e Episode
		if err := rows.Scan(&e.ID, &e.PatientID, &e.DoctorID, &e.ScheduledAt, &e.Method, &e.Status, &e.Disposition,
			&e.Notes, &e.BedID, &e.AdmittedAt, &e.DischargedAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan episode: %w", err)
		}
		episodes = append(episodes, &e)
	}
	return episodes, total, rows.Err()
}
