package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"zapys/internal/domain"
	"zapys/internal/models"
)

var _ domain.ReservationRepository = (*DB)(nil)

const reservationColumns = `event_id, user_id, record_code, start_at, full_name, gender, birth_year, phone, email, address, created_at, updated_at`

// SaveReservation inserts the reservation or replaces the row with the same event id.
func (db *DB) SaveReservation(ctx context.Context, r *models.Reservation) error {
	if r == nil || r.EventID == "" {
		return errors.New("reservation event id is required")
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	query := `INSERT INTO reservations (` + reservationColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(event_id) DO UPDATE SET
                user_id = excluded.user_id,
                record_code = excluded.record_code,
                start_at = excluded.start_at,
                full_name = excluded.full_name,
                gender = excluded.gender,
                birth_year = excluded.birth_year,
                phone = excluded.phone,
                email = excluded.email,
                address = excluded.address,
                updated_at = excluded.updated_at`

	_, err := db.ExecContext(ctx, query,
		r.EventID,
		r.UserID,
		r.RecordCode,
		r.Start.UTC(),
		r.Fields.FullName,
		r.Fields.Gender,
		r.Fields.BirthYear,
		r.Fields.Phone,
		r.Fields.Email,
		r.Fields.Address,
		r.CreatedAt.UTC(),
		r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save reservation %s: %w", r.EventID, err)
	}
	return nil
}

func (db *DB) DeleteReservation(ctx context.Context, eventID string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM reservations WHERE event_id = ?`, eventID); err != nil {
		return fmt.Errorf("failed to delete reservation %s: %w", eventID, err)
	}
	return nil
}

func (db *DB) GetReservationByEvent(ctx context.Context, eventID string) (*models.Reservation, error) {
	row := db.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE event_id = ?`, eventID)
	return scanOne(row)
}

// GetReservationByCode looks the code up among the user's reservations only.
func (db *DB) GetReservationByCode(ctx context.Context, userID int64, code string) (*models.Reservation, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE user_id = ? AND record_code = ? ORDER BY start_at DESC LIMIT 1`,
		userID, code)
	return scanOne(row)
}

func (db *DB) ListReservationsByUser(ctx context.Context, userID int64) ([]*models.Reservation, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE user_id = ? ORDER BY start_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations of user %d: %w", userID, err)
	}
	return scanAll(rows)
}

// ListReservationsBetween returns reservations starting in [from, to).
func (db *DB) ListReservationsBetween(ctx context.Context, from, to time.Time) ([]*models.Reservation, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE start_at >= ? AND start_at < ? ORDER BY start_at ASC`,
		from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	return scanAll(rows)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanReservation(s scanner) (*models.Reservation, error) {
	var (
		r                      models.Reservation
		gender, email, address sql.NullString
		birthYear              sql.NullInt64
	)
	err := s.Scan(
		&r.EventID, &r.UserID, &r.RecordCode, &r.Start,
		&r.Fields.FullName, &gender, &birthYear, &r.Fields.Phone, &email, &address,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Fields.Gender = gender.String
	r.Fields.BirthYear = int(birthYear.Int64)
	r.Fields.Email = email.String
	r.Fields.Address = address.String
	return &r, nil
}

func scanOne(row *sql.Row) (*models.Reservation, error) {
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan reservation: %w", err)
	}
	return r, nil
}

func scanAll(rows *sql.Rows) ([]*models.Reservation, error) {
	defer rows.Close()

	var out []*models.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
