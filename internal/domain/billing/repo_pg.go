package billing

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

// NewRepoPG returns a PostgreSQL-backed billing repository.
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

func (r *repoPG) CreateBill(ctx context.Context, b *Bill) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now
	return r.inTx(ctx, func(ctx context.Context) error {
		q := r.conn(ctx)
		_, err := q.Exec(ctx, `
			INSERT INTO bill (id, patient_id, episode_id, total, paid, status, claim_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			b.ID, b.PatientID, b.EpisodeID, b.Total, b.Paid, b.Status, b.ClaimID, b.CreatedAt, b.UpdatedAt)
		if err != nil {
			// ux_bill_episode enforces one bill per episode.
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return apperror.Newf(apperror.CodeBillAlreadyExists, "episode", b.EpisodeID.String(),
					"episode already has a bill")
			}
			return fmt.Errorf("insert bill: %w", err)
		}
		for i := range b.LineItems {
			item := &b.LineItems[i]
			if item.ID == uuid.Nil {
				item.ID = uuid.New()
			}
			item.BillID = b.ID
			if _, err := q.Exec(ctx, `
				INSERT INTO bill_line_item (id, bill_id, description, amount)
				VALUES ($1, $2, $3, $4)`,
				item.ID, item.BillID, item.Description, item.Amount); err != nil {
				return fmt.Errorf("insert line item: %w", err)
			}
		}
		return nil
	})
}

const billColumns = `id, patient_id, episode_id, total, paid, status, claim_id, created_at, updated_at`

func (r *repoPG) GetBill(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return r.getBillWhere(ctx, `id = $1`, id, "bill", id.String())
}

func (r *repoPG) GetBillByEpisode(ctx context.Context, episodeID uuid.UUID) (*Bill, error) {
	return r.getBillWhere(ctx, `episode_id = $1`, episodeID, "episode", episodeID.String())
}

func (r *repoPG) getBillWhere(ctx context.Context, where string, arg interface{}, entity, id string) (*Bill, error) {
	var b Bill
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+billColumns+` FROM bill WHERE `+where, arg).
		Scan(&b.ID, &b.PatientID, &b.EpisodeID, &b.Total, &b.Paid, &b.Status, &b.ClaimID, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound(entity, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get bill: %w", err)
	}
	if err := r.loadLineItems(ctx, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *repoPG) loadLineItems(ctx context.Context, b *Bill) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, bill_id, description, amount
		FROM bill_line_item WHERE bill_id = $1 ORDER BY description`, b.ID)
	if err != nil {
		return fmt.Errorf("load line items: %w", err)
	}
	defer rows.Close()
	b.LineItems = make([]LineItem, 0)
	for rows.Next() {
		var item LineItem
		if err := rows.Scan(&item.ID, &item.BillID, &item.Description, &item.Amount); err != nil {
			return fmt.Errorf("scan line item: %w", err)
		}
		b.LineItems = append(b.LineItems, item)
	}
	return rows.Err()
}

func (r *repoPG) ListBillsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Bill, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM bill WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count bills: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+billColumns+` FROM bill
		WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list bills: %w", err)
	}
	defer rows.Close()

	bills := make([]*Bill, 0)
	for rows.Next() {
		var b Bill
		if err := rows.Scan(&b.ID, &b.PatientID, &b.EpisodeID, &b.Total, &b.Paid, &b.Status, &b.ClaimID, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan bill: %w", err)
		}
		bills = append(bills, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, b := range bills {
		if err := r.loadLineItems(ctx, b); err != nil {
			return nil, 0, err
		}
	}
	return bills, total, nil
}

func (r *repoPG) DeleteBill(ctx context.Context, id uuid.UUID) error {
	return r.inTx(ctx, func(ctx context.Context) error {
		q := r.conn(ctx)
		if _, err := q.Exec(ctx, `DELETE FROM bill_line_item WHERE bill_id = $1`, id); err != nil {
			return fmt.Errorf("delete line items: %w", err)
		}
		tag, err := q.Exec(ctx, `DELETE FROM bill WHERE id = $1 AND claim_id IS NULL`, id)
		if err != nil {
			return fmt.Errorf("delete bill: %w", err)
		}
		if tag.RowsAffected() == 0 {
			if _, err := r.GetBill(ctx, id); err != nil {
				return err
			}
			return apperror.Newf(apperror.CodeBillLocked, "bill", id.String(),
				"a claimed bill cannot be deleted")
		}
		return nil
	})
}

func (r *repoPG) AddPayment(ctx context.Context, billID uuid.UUID, amount float64) (*Bill, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE bill
		SET paid = paid + $2,
		    status = CASE
		        WHEN paid + $2 >= total AND total > 0 THEN 'paid'
		        WHEN paid + $2 > 0 THEN 'partial'
		        ELSE 'pending'
		    END,
		    updated_at = NOW()
		WHERE id = $1 AND claim_id IS NULL AND paid + $2 <= total`,
		billID, amount)
	if err != nil {
		return nil, fmt.Errorf("add payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		b, err := r.GetBill(ctx, billID)
		if err != nil {
			return nil, err
		}
		if b.Locked() {
			return nil, apperror.Newf(apperror.CodeBillLocked, "bill", billID.String(),
				"bill is frozen by claim %s", b.ClaimID)
		}
		return nil, apperror.Newf(apperror.CodeOverPayment, "bill", billID.String(),
			"payment %.2f exceeds balance %.2f", amount, b.Total-b.Paid)
	}
	return r.GetBill(ctx, billID)
}

func (r *repoPG) CreateClaim(ctx context.Context, c *InsuranceClaim) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO insurance_claim (id, bill_id, policy_number, amount, status, submitted_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.BillID, c.PolicyNumber, c.Amount, c.Status, c.SubmittedAt, c.ProcessedAt)
	if err != nil {
		return fmt.Errorf("insert claim: %w", err)
	}
	return nil
}

func (r *repoPG) GetClaim(ctx context.Context, id uuid.UUID) (*InsuranceClaim, error) {
	var c InsuranceClaim
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, bill_id, policy_number, amount, status, submitted_at, processed_at
		FROM insurance_claim WHERE id = $1`, id).
		Scan(&c.ID, &c.BillID, &c.PolicyNumber, &c.Amount, &c.Status, &c.SubmittedAt, &c.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("claim", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get claim: %w", err)
	}
	return &c, nil
}

func (r *repoPG) AttachClaim(ctx context.Context, billID, claimID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE bill SET claim_id = $2, updated_at = NOW()
		WHERE id = $1 AND claim_id IS NULL`, billID, claimID)
	if err != nil {
		return fmt.Errorf("attach claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		b, err := r.GetBill(ctx, billID)
		if err != nil {
			return err
		}
		return apperror.Newf(apperror.CodeAlreadyClaimed, "bill", billID.String(),
			"bill already has claim %s", b.ClaimID)
	}
	return nil
}

func (r *repoPG) ResolveClaim(ctx context.Context, claimID uuid.UUID, status string) (*InsuranceClaim, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE insurance_claim SET status = $2, processed_at = NOW()
		WHERE id = $1 AND status = 'pending'`, claimID, status)
	if err != nil {
		return nil, fmt.Errorf("resolve claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		c, err := r.GetClaim(ctx, claimID)
		if err != nil {
			return nil, err
		}
		return nil, apperror.Newf(apperror.CodeInvalidTransition, "claim", claimID.String(),
			"claim is already %s", c.Status)
	}
	return r.GetClaim(ctx, claimID)
}
