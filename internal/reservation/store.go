package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// Store is the persistence contract consumed by the sweeper and the payment callback.
type Store interface {
	ListByStatus(ctx context.Context, status Status) ([]Summary, error)
	GetByID(ctx context.Context, id string) (Reservation, error)
	Update(ctx context.Context, id string, r Reservation) (Reservation, error)
}

// ConditionalCompleter is implemented by stores able to flip confirmed -> completed
// in one statement. It reports false when the row was no longer confirmed.
type ConditionalCompleter interface {
	CompleteIfConfirmed(ctx context.Context, id string) (bool, error)
}

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore implements Store on the reservation table.
type PGStore struct {
	DB DBTX
}

// NewPGStore returns a store bound to db.
func NewPGStore(db DBTX) *PGStore {
	return &PGStore{DB: db}
}

const listByStatusSQL = `
SELECT r.reservation_uuid::text, COALESCE(r.reference, ''), COALESCE(r.nomclient, ''),
       r.dateres, r.heureres, r.statusres, COALESCE(s."durée", 0)
FROM reservation r
LEFT JOIN service s ON r.service_uuid = s.service_uuid
WHERE r.statusres = $1
ORDER BY r.dateres DESC, r.heureres DESC`

const selectReservationSQL = `
SELECT r.reservation_uuid::text, COALESCE(r.reference, ''), COALESCE(r.nomclient, ''),
       COALESCE(r.email, ''), COALESCE(r.numerotelephone, ''), r.dateres, r.heureres,
       COALESCE(r.service_uuid::text, ''), COALESCE(r.modepaiement, ''), r.prixtotal,
       COALESCE(r.nbrpersonne, 1), r.statusres, COALESCE(r.note, ''), COALESCE(s."durée", 0)
FROM reservation r
LEFT JOIN service s ON r.service_uuid = s.service_uuid`

const updateReservationSQL = `
UPDATE reservation
SET nomclient = $1, email = $2, numerotelephone = $3, dateres = $4, heureres = $5,
    service_uuid = NULLIF($6, '')::uuid, modepaiement = $7, prixtotal = $8, nbrpersonne = $9,
    statusres = $10, note = $11, updated_at = CURRENT_TIMESTAMP
WHERE reservation_uuid = $12::uuid`

const completeIfConfirmedSQL = `
UPDATE reservation
SET statusres = 'completed', updated_at = CURRENT_TIMESTAMP
WHERE reservation_uuid = $1::uuid AND statusres = 'confirmed'`

// ListByStatus returns reservations whose status matches exactly, latest first.
func (s *PGStore) ListByStatus(ctx context.Context, status Status) ([]Summary, error) {
	rows, err := s.DB.Query(ctx, listByStatusSQL, string(status))
	if err != nil {
		return nil, fmt.Errorf("list reservations by status: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum      Summary
			date     pgtype.Date
			tod      pgtype.Time
			st       string
			duration int32
		)
		if err := rows.Scan(&sum.ID, &sum.Reference, &sum.ClientName, &date, &tod, &st, &duration); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		sum.Date = date.Time
		sum.TimeOfDay = fromPGTime(tod)
		sum.Status = Status(st)
		sum.ServiceDuration = time.Duration(duration) * time.Minute
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservations: %w", err)
	}
	return out, nil
}

// GetByID loads the full reservation record.
func (s *PGStore) GetByID(ctx context.Context, id string) (Reservation, error) {
	return s.getOne(ctx, selectReservationSQL+` WHERE r.reservation_uuid::text = $1`, id)
}

// GetByReference loads the reservation carrying the public MOR- reference.
func (s *PGStore) GetByReference(ctx context.Context, reference string) (Reservation, error) {
	return s.getOne(ctx, selectReservationSQL+` WHERE r.reference = $1 LIMIT 1`, reference)
}

// Update writes every mutable column of r and returns the stored record.
func (s *PGStore) Update(ctx context.Context, id string, r Reservation) (Reservation, error) {
	tag, err := s.DB.Exec(ctx, updateReservationSQL,
		r.ClientName, r.Email, r.Phone,
		pgtype.Date{Time: r.Date, Valid: !r.Date.IsZero()},
		toPGTime(r.TimeOfDay),
		r.ServiceID, r.PaymentMode, r.TotalPrice, r.Guests,
		string(r.Status), r.Note, id,
	)
	if err != nil {
		return Reservation{}, fmt.Errorf("update reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Reservation{}, ErrNotFound
	}
	return s.GetByID(ctx, id)
}

// CompleteIfConfirmed transitions a still-confirmed reservation to completed.
func (s *PGStore) CompleteIfConfirmed(ctx context.Context, id string) (bool, error) {
	tag, err := s.DB.Exec(ctx, completeIfConfirmedSQL, id)
	if err != nil {
		return false, fmt.Errorf("complete reservation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) getOne(ctx context.Context, query string, arg string) (Reservation, error) {
	var (
		r        Reservation
		date     pgtype.Date
		tod      pgtype.Time
		st       string
		duration int32
	)
	err := s.DB.QueryRow(ctx, query, arg).Scan(
		&r.ID, &r.Reference, &r.ClientName, &r.Email, &r.Phone, &date, &tod,
		&r.ServiceID, &r.PaymentMode, &r.TotalPrice, &r.Guests, &st, &r.Note, &duration,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reservation{}, ErrNotFound
		}
		return Reservation{}, fmt.Errorf("get reservation: %w", err)
	}
	r.Date = date.Time
	r.TimeOfDay = fromPGTime(tod)
	r.Status = Status(st)
	r.ServiceDuration = time.Duration(duration) * time.Minute
	return r, nil
}

func fromPGTime(t pgtype.Time) time.Duration {
	if !t.Valid {
		return 0
	}
	return time.Duration(t.Microseconds) * time.Microsecond
}

func toPGTime(d time.Duration) pgtype.Time {
	return pgtype.Time{Microseconds: d.Microseconds(), Valid: true}
}
