package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"

	"github.com/1zbbxzak1/EventHubBot/internal/domain"
	"github.com/1zbbxzak1/EventHubBot/pkg/database"
	"github.com/1zbbxzak1/EventHubBot/pkg/retry"
	"github.com/1zbbxzak1/EventHubBot/pkg/telemetry"
)

// Schema creates the tables used by PostgresStore. Safe to run repeatedly.
//
//go:embed schema.sql
var Schema string

const registrationColumns = `
	id, workshop_id, user_id, status, waitlist_position, confirmation_deadline,
	registration_time, attended, attendance_time, marked_by_user_id, updated_at`

const workshopColumns = `
	id, title, description, start_time, end_time, capacity, active, created_at, updated_at`

// PostgresStore implements Store on PostgreSQL. A workshop transaction locks
// the workshop row with SELECT ... FOR UPDATE, which serializes writers per
// workshop across every process sharing the database.
type PostgresStore struct {
	pool  *pgxpool.Pool
	retry *retry.Config
}

// NewPostgresStore creates a PostgresStore. Transactions that hit a
// serialization failure or deadlock are rerun with backoff.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool: pool,
		retry: &retry.Config{
			MaxRetries:      3,
			InitialInterval: 20 * time.Millisecond,
			MaxInterval:     200 * time.Millisecond,
			Multiplier:      2,
			JitterFactor:    0.2,
			ShouldRetry:     database.IsTransient,
		},
	}
}

var _ Store = (*PostgresStore)(nil)

// CreateWorkshop inserts a workshop row
func (s *PostgresStore) CreateWorkshop(ctx context.Context, w *domain.Workshop) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.workshop.create")
	span.SetAttributes(attribute.String("workshop_id", w.ID))

	_, err := s.pool.Exec(ctx, `
		INSERT INTO workshops (`+workshopColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		w.ID, w.Title, w.Description, w.StartTime, w.EndTime, w.Capacity, w.Active, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		err = fmt.Errorf("failed to create workshop: %w", err)
	}
	telemetry.EndSpan(span, err)
	return err
}

// GetWorkshop loads a workshop by id
func (s *PostgresStore) GetWorkshop(ctx context.Context, id string) (*domain.Workshop, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.workshop.get")
	span.SetAttributes(attribute.String("workshop_id", id))

	w, err := scanWorkshop(s.pool.QueryRow(ctx, `SELECT `+workshopColumns+` FROM workshops WHERE id = $1`, id))
	telemetry.EndSpan(span, ignoreNotFound(err))
	return w, err
}

// ListWorkshops returns workshops matching filter ordered by start time
func (s *PostgresStore) ListWorkshops(ctx context.Context, filter WorkshopFilter) ([]*domain.Workshop, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.workshop.list")

	var (
		where []string
		args  []interface{}
	)
	if filter.ActiveOnly {
		where = append(where, "active")
	}
	if filter.StartsAfter != nil {
		args = append(args, *filter.StartsAfter)
		where = append(where, fmt.Sprintf("start_time > $%d", len(args)))
	}
	if filter.StartsBefore != nil {
		args = append(args, *filter.StartsBefore)
		where = append(where, fmt.Sprintf("start_time < $%d", len(args)))
	}

	query := `SELECT ` + workshopColumns + ` FROM workshops`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_time, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		err = fmt.Errorf("failed to list workshops: %w", err)
		telemetry.EndSpan(span, err)
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Workshop
	for rows.Next() {
		w, err := scanWorkshop(rows)
		if err != nil {
			telemetry.EndSpan(span, err)
			return nil, err
		}
		out = append(out, w)
	}
	err = rows.Err()
	telemetry.EndSpan(span, err)
	return out, err
}

// ListRegistrations returns a workshop's registrations by registration time
func (s *PostgresStore) ListRegistrations(ctx context.Context, workshopID string) ([]*domain.Registration, error) {
	if _, err := s.GetWorkshop(ctx, workshopID); err != nil {
		return nil, err
	}
	return queryRegistrations(ctx, s.pool, `
		SELECT `+registrationColumns+` FROM workshop_registrations
		WHERE workshop_id = $1
		ORDER BY registration_time, id`, workshopID)
}

// ListUserRegistrations returns the user's registrations, newest first
func (s *PostgresStore) ListUserRegistrations(ctx context.Context, userID string) ([]*domain.Registration, error) {
	return queryRegistrations(ctx, s.pool, `
		SELECT `+registrationColumns+` FROM workshop_registrations
		WHERE user_id = $1
		ORDER BY registration_time DESC, id`, userID)
}

// InWorkshopTx locks the workshop row and runs fn in one transaction
func (s *PostgresStore) InWorkshopTx(ctx context.Context, workshopID string, fn func(tx WorkshopTx) error) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.workshop_tx")
	span.SetAttributes(attribute.String("workshop_id", workshopID))

	res := retry.New(s.retry).Do(ctx, func(ctx context.Context) error {
		err := s.runTx(ctx, workshopID, fn)
		if err != nil && !database.IsTransient(err) {
			return retry.Permanent(err)
		}
		return err
	})

	err := res.Err
	if errors.Is(err, retry.ErrMaxRetriesExceeded) {
		err = fmt.Errorf("workshop transaction failed after %d attempts: %w", res.Attempts, res.LastError)
	} else if errors.Is(err, retry.ErrContextCanceled) {
		err = ctx.Err()
	}

	span.SetAttributes(attribute.Int("attempts", res.Attempts))
	telemetry.EndSpan(span, ignoreNotFound(err))
	return err
}

func (s *PostgresStore) runTx(ctx context.Context, workshopID string, fn func(tx WorkshopTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	w, err := scanWorkshop(tx.QueryRow(ctx, `SELECT `+workshopColumns+` FROM workshops WHERE id = $1 FOR UPDATE`, workshopID))
	if err != nil {
		return err
	}

	if err := fn(&pgWorkshopTx{tx: tx, workshop: w}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping checks the pool
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

type pgWorkshopTx struct {
	tx       pgx.Tx
	workshop *domain.Workshop
}

func (t *pgWorkshopTx) Workshop() *domain.Workshop { return t.workshop }

func (t *pgWorkshopTx) UpdateWorkshop(ctx context.Context, w *domain.Workshop) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE workshops
		SET title = $2, description = $3, start_time = $4, end_time = $5,
		    capacity = $6, active = $7, updated_at = $8
		WHERE id = $1`,
		w.ID, w.Title, w.Description, w.StartTime, w.EndTime, w.Capacity, w.Active, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update workshop: %w", err)
	}
	t.workshop = w.Clone()
	return nil
}

func (t *pgWorkshopTx) DeleteWorkshop(ctx context.Context) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM workshops WHERE id = $1`, t.workshop.ID); err != nil {
		return fmt.Errorf("failed to delete workshop: %w", err)
	}
	return nil
}

func (t *pgWorkshopTx) Get(ctx context.Context, userID string) (*domain.Registration, error) {
	return scanRegistration(t.tx.QueryRow(ctx, `
		SELECT `+registrationColumns+` FROM workshop_registrations
		WHERE workshop_id = $1 AND user_id = $2`, t.workshop.ID, userID))
}

func (t *pgWorkshopTx) List(ctx context.Context) ([]*domain.Registration, error) {
	return queryRegistrations(ctx, t.tx, `
		SELECT `+registrationColumns+` FROM workshop_registrations
		WHERE workshop_id = $1
		ORDER BY registration_time, id`, t.workshop.ID)
}

func (t *pgWorkshopTx) Confirmed(ctx context.Context) ([]*domain.Registration, error) {
	return queryRegistrations(ctx, t.tx, `
		SELECT `+registrationColumns+` FROM workshop_registrations
		WHERE workshop_id = $1 AND status = 'CONFIRMED'
		ORDER BY registration_time, id`, t.workshop.ID)
}

func (t *pgWorkshopTx) Waitlist(ctx context.Context) ([]*domain.Registration, error) {
	return queryRegistrations(ctx, t.tx, `
		SELECT `+registrationColumns+` FROM workshop_registrations
		WHERE workshop_id = $1 AND status IN ('WAITLISTED', 'PENDING_CONFIRMATION')
		ORDER BY waitlist_position, registration_time, id`, t.workshop.ID)
}

func (t *pgWorkshopTx) CountConfirmed(ctx context.Context) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM workshop_registrations
		WHERE workshop_id = $1 AND status = 'CONFIRMED'`, t.workshop.ID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count confirmed registrations: %w", err)
	}
	return n, nil
}

func (t *pgWorkshopTx) MaxWaitlistPosition(ctx context.Context) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(waitlist_position), 0) FROM workshop_registrations
		WHERE workshop_id = $1 AND status IN ('WAITLISTED', 'PENDING_CONFIRMATION')`, t.workshop.ID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to read max waitlist position: %w", err)
	}
	return n, nil
}

func (t *pgWorkshopTx) ExpiredPending(ctx context.Context, now time.Time) ([]*domain.Registration, error) {
	return queryRegistrations(ctx, t.tx, `
		SELECT `+registrationColumns+` FROM workshop_registrations
		WHERE workshop_id = $1 AND status = 'PENDING_CONFIRMATION' AND confirmation_deadline <= $2
		ORDER BY waitlist_position, id`, t.workshop.ID, now)
}

func (t *pgWorkshopTx) Insert(ctx context.Context, r *domain.Registration) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO workshop_registrations (`+registrationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		registrationArgs(r)...,
	)
	if database.IsUniqueViolation(err) {
		return domain.ErrAlreadyRegistered
	}
	if err != nil {
		return fmt.Errorf("failed to insert registration: %w", err)
	}
	return nil
}

func (t *pgWorkshopTx) Save(ctx context.Context, r *domain.Registration) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE workshop_registrations
		SET status = $4, waitlist_position = $5, confirmation_deadline = $6,
		    registration_time = $7, attended = $8, attendance_time = $9,
		    marked_by_user_id = $10, updated_at = $11
		WHERE id = $1 AND workshop_id = $2 AND user_id = $3`,
		registrationArgs(r)...,
	)
	if err != nil {
		return fmt.Errorf("failed to save registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRegistrationNotFound
	}
	return nil
}

func (t *pgWorkshopTx) Delete(ctx context.Context, registrationID string) error {
	tag, err := t.tx.Exec(ctx, `
		DELETE FROM workshop_registrations WHERE id = $1 AND workshop_id = $2`,
		registrationID, t.workshop.ID)
	if err != nil {
		return fmt.Errorf("failed to delete registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRegistrationNotFound
	}
	return nil
}

func (t *pgWorkshopTx) ShiftWaitlistAfter(ctx context.Context, position int) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE workshop_registrations
		SET waitlist_position = waitlist_position - 1
		WHERE workshop_id = $1
		  AND status IN ('WAITLISTED', 'PENDING_CONFIRMATION')
		  AND waitlist_position > $2`, t.workshop.ID, position)
	if err != nil {
		return fmt.Errorf("failed to shift waitlist: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWorkshop(row rowScanner) (*domain.Workshop, error) {
	w := &domain.Workshop{}
	err := row.Scan(&w.ID, &w.Title, &w.Description, &w.StartTime, &w.EndTime,
		&w.Capacity, &w.Active, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrWorkshopNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan workshop: %w", err)
	}
	return w, nil
}

func scanRegistration(row rowScanner) (*domain.Registration, error) {
	r := &domain.Registration{}
	var (
		status   string
		position *int
		markedBy *string
	)
	err := row.Scan(&r.ID, &r.WorkshopID, &r.UserID, &status, &position, &r.ConfirmationDeadline,
		&r.RegistrationTime, &r.Attended, &r.AttendanceTime, &markedBy, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRegistrationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan registration: %w", err)
	}

	r.Status = domain.RegistrationStatus(status)
	if position != nil {
		r.WaitlistPosition = *position
	}
	if markedBy != nil {
		r.MarkedByUserID = *markedBy
	}
	return r, nil
}

func queryRegistrations(ctx context.Context, q querier, sql string, args ...interface{}) ([]*domain.Registration, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query registrations: %w", err)
	}
	defer rows.Close()

	var out []*domain.Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func registrationArgs(r *domain.Registration) []interface{} {
	var position *int
	if r.WaitlistPosition > 0 {
		p := r.WaitlistPosition
		position = &p
	}
	var markedBy *string
	if r.MarkedByUserID != "" {
		m := r.MarkedByUserID
		markedBy = &m
	}
	return []interface{}{
		r.ID, r.WorkshopID, r.UserID, r.Status.String(), position, r.ConfirmationDeadline,
		r.RegistrationTime, r.Attended, r.AttendanceTime, markedBy, r.UpdatedAt,
	}
}

func ignoreNotFound(err error) error {
	if domain.IsNotFoundError(err) {
		return nil
	}
	return err
}
