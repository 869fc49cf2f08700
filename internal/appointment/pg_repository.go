package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// PgxPool is the subset of *pgxpool.Pool the repository needs.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool PgxPool
}

func NewPgRepository(pool PgxPool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `id, client_ref, pet_ref, veterinarian_id, start_time, end_time, status,
	reason, notes, diagnosis, treatment, cancellation_reason, invoice_ref, created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a          Appointment
		status     string
		invoiceRef pgtype.Text
	)

	err := row.Scan(
		&a.ID,
		&a.ClientRef,
		&a.PetRef,
		&a.VeterinarianID,
		&a.Interval.Start,
		&a.Interval.End,
		&status,
		&a.Reason,
		&a.Notes,
		&a.Diagnosis,
		&a.Treatment,
		&a.CancellationReason,
		&invoiceRef,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	a.Status, err = ParseStatus(status)
	if err != nil {
		return nil, err
	}
	if invoiceRef.Valid {
		ref := invoiceRef.String
		a.InvoiceRef = &ref
	}
	return &a, nil
}

func insertTransition(ctx context.Context, tx pgx.Tx, id uuid.UUID, seq int, t Transition) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO appointment_history (appointment_id, seq, from_status, to_status, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id, seq, string(t.From), string(t.To), t.At)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// exclusionViolation is raised by the appointments overlap constraint.
const exclusionViolation = "23P01"

// overlapErr turns a rejection by the overlap constraint into a conflict.
// Another instance won the slot without sharing our lock.
func overlapErr(appt *Appointment, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == exclusionViolation {
		return &ConflictError{VeterinarianID: appt.VeterinarianID, Requested: appt.Interval}
	}
	return nil
}

func nullableText(ref *string) pgtype.Text {
	if ref == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *ref, Valid: true}
}

// Interface methods

func (r *PgRepository) Create(ctx context.Context, appt *Appointment) (err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, appt.ID, appt.ClientRef, appt.PetRef, appt.VeterinarianID, appt.Interval.Start, appt.Interval.End,
		string(appt.Status), appt.Reason, appt.Notes, appt.Diagnosis, appt.Treatment, appt.CancellationReason,
		nullableText(appt.InvoiceRef), appt.CreatedAt, appt.UpdatedAt)
	if err != nil {
		if cerr := overlapErr(appt, err); cerr != nil {
			return cerr
		}
		return fmt.Errorf("insert appointment: %w", err)
	}

	for i, t := range appt.History {
		if err = insertTransition(ctx, tx, appt.ID, i+1, t); err != nil {
			return err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *PgRepository) Save(ctx context.Context, appt *Appointment, from Status) (err error) {
	if len(appt.History) == 0 {
		return fmt.Errorf("save %s: empty history", appt.ID)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET veterinarian_id = $2,
		    start_time = $3,
		    end_time = $4,
		    status = $5,
		    diagnosis = $6,
		    treatment = $7,
		    cancellation_reason = $8,
		    updated_at = $9
		WHERE id = $1
		  AND status = $10
	`, appt.ID, appt.VeterinarianID, appt.Interval.Start, appt.Interval.End, string(appt.Status),
		appt.Diagnosis, appt.Treatment, appt.CancellationReason, appt.UpdatedAt, string(from))
	if err != nil {
		if cerr := overlapErr(appt, err); cerr != nil {
			return cerr
		}
		return fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		err = errStaleWrite
		return err
	}

	seq := len(appt.History)
	if err = insertTransition(ctx, tx, appt.ID, seq, appt.History[seq-1]); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *PgRepository) SetInvoiceRef(ctx context.Context, id uuid.UUID, ref string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET invoice_ref = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'completed'
		  AND invoice_ref IS NULL
		RETURNING `+appointmentColumns, id, ref)

	appt, err := scanAppointment(row)
	if errors.Is(err, ErrNotFound) {
		// Tell apart a missing row from one that is not invoiceable.
		cur, getErr := r.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if cur.InvoiceRef != nil {
			return nil, ErrInvoiceAttached
		}
		return nil, &TransitionError{From: cur.Status, Trigger: TriggerInvoice, Reason: "only completed appointments can be invoiced"}
	}
	if err != nil {
		return nil, err
	}

	if err := r.loadHistory(ctx, []*Appointment{appt}); err != nil {
		return nil, err
	}
	return appt, nil
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	appt, err := scanAppointment(row)
	if err != nil {
		return nil, err
	}

	if err := r.loadHistory(ctx, []*Appointment{appt}); err != nil {
		return nil, err
	}
	return appt, nil
}

func (r *PgRepository) List(ctx context.Context, f Filter) ([]Appointment, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.ClientRef != nil {
		add("client_ref = $%d", *f.ClientRef)
	}
	if f.PetRef != nil {
		add("pet_ref = $%d", *f.PetRef)
	}
	if f.VeterinarianID != nil {
		add("veterinarian_id = $%d", *f.VeterinarianID)
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.From != nil {
		add("end_time > $%d", *f.From)
	}
	if f.To != nil {
		add("start_time < $%d", *f.To)
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	return r.query(ctx, `SELECT `+appointmentColumns+` FROM appointments `+where+` ORDER BY start_time, created_at`, args...)
}

func (r *PgRepository) ListActiveByVeterinarian(ctx context.Context, vetID uuid.UUID) ([]Appointment, error) {
	return r.query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE veterinarian_id = $1
		  AND status IN ('scheduled', 'in_progress')
		ORDER BY start_time
	`, vetID)
}

func (r *PgRepository) ListActive(ctx context.Context) ([]Appointment, error) {
	return r.query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('scheduled', 'in_progress')
		ORDER BY veterinarian_id, start_time
	`)
}

func (r *PgRepository) ListBillable(ctx context.Context) ([]Appointment, error) {
	return r.query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'completed'
		  AND invoice_ref IS NULL
		ORDER BY end_time
	`)
}

func (r *PgRepository) query(ctx context.Context, sql string, args ...any) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ptrs []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		ptrs = append(ptrs, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.loadHistory(ctx, ptrs); err != nil {
		return nil, err
	}

	result := make([]Appointment, 0, len(ptrs))
	for _, a := range ptrs {
		result = append(result, *a)
	}
	return result, nil
}

func (r *PgRepository) loadHistory(ctx context.Context, appts []*Appointment) error {
	if len(appts) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(appts))
	byID := make(map[uuid.UUID]*Appointment, len(appts))
	for _, a := range appts {
		ids = append(ids, a.ID)
		byID[a.ID] = a
	}

	rows, err := r.pool.Query(ctx, `
		SELECT appointment_id, from_status, to_status, occurred_at
		FROM appointment_history
		WHERE appointment_id = ANY($1)
		ORDER BY appointment_id, seq
	`, ids)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id       uuid.UUID
			from, to string
			at       time.Time
		)
		if err := rows.Scan(&id, &from, &to, &at); err != nil {
			return fmt.Errorf("scan history: %w", err)
		}
		a, ok := byID[id]
		if !ok {
			continue
		}
		a.History = append(a.History, Transition{From: Status(from), To: Status(to), At: at})
	}
	return rows.Err()
}
