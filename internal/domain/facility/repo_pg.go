package facility

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

// NewRepoPG returns a PostgreSQL-backed facility repository.
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

// inTx runs fn inside the ambient transaction when one is present,
// otherwise opens its own.
func (r *repoPG) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if db.TxFromContext(ctx) != nil {
		return fn(ctx)
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := fn(context.WithValue(ctx, db.DBTxKey, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *repoPG) CreateWard(ctx context.Context, w *Ward) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	now := time.Now().UTC()
	w.CreatedAt = now
	w.UpdatedAt = now
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO ward (id, name, capacity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		w.ID, w.Name, w.Capacity, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert ward: %w", err)
	}
	return nil
}

func (r *repoPG) GetWard(ctx context.Context, id uuid.UUID) (*Ward, error) {
	var w Ward
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, capacity, created_at, updated_at
		FROM ward WHERE id = $1`, id).
		Scan(&w.ID, &w.Name, &w.Capacity, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("ward", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get ward: %w", err)
	}
	return &w, nil
}

func (r *repoPG) ListWards(ctx context.Context, limit, offset int) ([]*Ward, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM ward`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count wards: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, name, capacity, created_at, updated_at
		FROM ward ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list wards: %w", err)
	}
	defer rows.Close()

	wards := make([]*Ward, 0, limit)
	for rows.Next() {
		var w Ward
		if err := rows.Scan(&w.ID, &w.Name, &w.Capacity, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan ward: %w", err)
		}
		wards = append(wards, &w)
	}
	return wards, total, rows.Err()
}

func (r *repoPG) DeleteWard(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM ward
		WHERE id = $1
		  AND NOT EXISTS (SELECT 1 FROM bed WHERE ward_id = $1)`, id)
	if err != nil {
		return fmt.Errorf("delete ward: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetWard(ctx, id); err != nil {
			return err
		}
		return apperror.Newf(apperror.CodeBedOccupied, "ward", id.String(), "ward still has beds")
	}
	return nil
}

func (r *repoPG) AddBed(ctx context.Context, b *Bed) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	now := time.Now().UTC()
	b.Status = BedStatusFree
	b.CreatedAt = now
	b.UpdatedAt = now
	// The ward row lock must be its own statement: under read
	// committed, a count embedded in the locking statement would use a
	// snapshot taken before a concurrent add committed. Counting after
	// the lock is acquired sees every committed bed.
	return r.inTx(ctx, func(ctx context.Context) error {
		var name string
		var capacity int
		err := r.conn(ctx).QueryRow(ctx,
			`SELECT name, capacity FROM ward WHERE id = $1 FOR UPDATE`, b.WardID).
			Scan(&name, &capacity)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperror.NotFound("ward", b.WardID.String())
		}
		if err != nil {
			return fmt.Errorf("lock ward: %w", err)
		}

		var count int
		if err := r.conn(ctx).QueryRow(ctx,
			`SELECT COUNT(*) FROM bed WHERE ward_id = $1`, b.WardID).Scan(&count); err != nil {
			return fmt.Errorf("count beds: %w", err)
		}
		if count >= capacity {
			return apperror.Newf(apperror.CodeCapacityExceeded, "ward", b.WardID.String(),
				"ward %q is at capacity %d", name, capacity)
		}

		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO bed (id, ward_id, label, status, created_at, updated_at)
			VALUES ($1, $2, $3, 'free', $4, $4)`,
			b.ID, b.WardID, b.Label, now); err != nil {
			return fmt.Errorf("insert bed: %w", err)
		}
		return nil
	})
}

func (r *repoPG) GetBed(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return r.scanBed(r.conn(ctx).QueryRow(ctx, `
		SELECT id, ward_id, label, status, occupant_patient_id, created_at, updated_at
		FROM bed WHERE id = $1`, id), id.String())
}

func (r *repoPG) scanBed(row pgx.Row, id string) (*Bed, error) {
	var b Bed
	err := row.Scan(&b.ID, &b.WardID, &b.Label, &b.Status, &b.OccupantPatientID, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("bed", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get bed: %w", err)
	}
	return &b, nil
}

func (r *repoPG) ListBedsByWard(ctx context.Context, wardID uuid.UUID, limit, offset int) ([]*Bed, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM bed WHERE ward_id = $1`, wardID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count beds: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, ward_id, label, status, occupant_patient_id, created_at, updated_at
		FROM bed WHERE ward_id = $1 ORDER BY label LIMIT $2 OFFSET $3`,
		wardID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list beds: %w", err)
	}
	defer rows.Close()

	beds := make([]*Bed, 0, limit)
	for rows.Next() {
		var b Bed
		if err := rows.Scan(&b.ID, &b.WardID, &b.Label, &b.Status, &b.OccupantPatientID, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan bed: %w", err)
		}
		beds = append(beds, &b)
	}
	return beds, total, rows.Err()
}

func (r *repoPG) RenameBed(ctx context.Context, id uuid.UUID, label string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE bed SET label = $2, updated_at = NOW() WHERE id = $1`, id, label)
	if err != nil {
		return fmt.Errorf("rename bed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("bed", id.String())
	}
	return nil
}

func (r *repoPG) DeleteBed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM bed WHERE id = $1 AND status = 'free'`, id)
	if err != nil {
		return fmt.Errorf("delete bed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		b, err := r.GetBed(ctx, id)
		if err != nil {
			return err
		}
		return apperror.Newf(apperror.CodeBedOccupied, "bed", id.String(),
			"bed %q is occupied", b.Label)
	}
	return nil
}

func (r *repoPG) Occupancy(ctx context.Context, wardID uuid.UUID) (*Occupancy, error) {
	if _, err := r.GetWard(ctx, wardID); err != nil {
		return nil, err
	}
	occ := Occupancy{WardID: wardID}
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'occupied')
		FROM bed WHERE ward_id = $1`, wardID).
		Scan(&occ.TotalBeds, &occ.OccupiedBeds)
	if err != nil {
		return nil, fmt.Errorf("ward occupancy: %w", err)
	}
	return &occ, nil
}

func (r *repoPG) BedByOccupant(ctx context.Context, patientID uuid.UUID) (*Bed, error) {
	return r.scanBed(r.conn(ctx).QueryRow(ctx, `
		SELECT id, ward_id, label, status, occupant_patient_id, created_at, updated_at
		FROM bed WHERE occupant_patient_id = $1 AND status = 'occupied'`,
		patientID), patientID.String())
}

func (r *repoPG) ClaimBed(ctx context.Context, bedID, patientID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE bed
		SET status = 'occupied', occupant_patient_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'free'`, bedID, patientID)
	if err != nil {
		// ux_bed_occupant rejects a second bed for the same patient.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperror.Newf(apperror.CodePatientAlreadyAdmitted, "patient", patientID.String(),
				"patient already occupies a bed")
		}
		return fmt.Errorf("claim bed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		b, err := r.GetBed(ctx, bedID)
		if err != nil {
			return err
		}
		return apperror.Newf(apperror.CodeBedNotFree, "bed", bedID.String(),
			"bed %q is %s", b.Label, b.Status)
	}
	return nil
}

func (r *repoPG) ReleaseBed(ctx context.Context, bedID uuid.UUID) (uuid.UUID, error) {
	var patientID uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `
		WITH prev AS (
			SELECT id, occupant_patient_id FROM bed
			WHERE id = $1 AND status = 'occupied'
			FOR UPDATE
		)
		UPDATE bed
		SET status = 'free', occupant_patient_id = NULL, updated_at = NOW()
		FROM prev
		WHERE bed.id = prev.id
		RETURNING prev.occupant_patient_id`, bedID).Scan(&patientID)
	if errors.Is(err, pgx.ErrNoRows) {
		b, gerr := r.GetBed(ctx, bedID)
		if gerr != nil {
			return uuid.Nil, gerr
		}
		return uuid.Nil, apperror.Newf(apperror.CodeBedNotOccupied, "bed", bedID.String(),
			"bed %q is already free", b.Label)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("release bed: %w", err)
	}
	return patientID, nil
}

func (r *repoPG) MoveOccupant(ctx context.Context, sourceID, targetID uuid.UUID) error {
	return r.inTx(ctx, func(ctx context.Context) error {
		q := r.conn(ctx)

		// Lock both rows in ascending id order so two crossing moves
		// cannot deadlock.
		first, second := sourceID, targetID
		if targetID.String() < sourceID.String() {
			first, second = targetID, sourceID
		}
		beds := map[uuid.UUID]*Bed{}
		for _, id := range []uuid.UUID{first, second} {
			var b Bed
			err := q.QueryRow(ctx, `
				SELECT id, ward_id, label, status, occupant_patient_id, created_at, updated_at
				FROM bed WHERE id = $1 FOR UPDATE`, id).
				Scan(&b.ID, &b.WardID, &b.Label, &b.Status, &b.OccupantPatientID, &b.CreatedAt, &b.UpdatedAt)
			if errors.Is(err, pgx.ErrNoRows) {
				return apperror.NotFound("bed", id.String())
			}
			if err != nil {
				return fmt.Errorf("lock bed: %w", err)
			}
			beds[id] = &b
		}
		source, target := beds[sourceID], beds[targetID]
		if !source.Occupied() {
			return apperror.Newf(apperror.CodeBedNotOccupied, "bed", sourceID.String(),
				"source bed %q is free", source.Label)
		}
		if target.Occupied() {
			return apperror.Newf(apperror.CodeBedNotFree, "bed", targetID.String(),
				"target bed %q is occupied", target.Label)
		}
		patientID := *source.OccupantPatientID

		// Clear the source before filling the target so ux_bed_occupant
		// never sees the patient in two beds.
		if _, err := q.Exec(ctx, `
			UPDATE bed SET status = 'free', occupant_patient_id = NULL, updated_at = NOW()
			WHERE id = $1`, sourceID); err != nil {
			return fmt.Errorf("clear source bed: %w", err)
		}
		if _, err := q.Exec(ctx, `
			UPDATE bed SET status = 'occupied', occupant_patient_id = $2, updated_at = NOW()
			WHERE id = $1`, targetID, patientID); err != nil {
			return fmt.Errorf("fill target bed: %w", err)
		}
		return nil
	})
}
