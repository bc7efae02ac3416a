package offer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// StatusConfirmed is stored once a gift offer has been paid.
const StatusConfirmed = "confirmé"

// ErrNotFound is returned when no offer matches the lookup.
var ErrNotFound = errors.New("offer not found")

// Offer is a purchased gift voucher.
type Offer struct {
	ID               string
	Code             string
	BeneficiaryName  string
	BeneficiaryEmail string
	BeneficiaryPhone string
	SenderName       string
	Note             string
	ServiceName      string
	Status           string
}

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore reads and updates the offre table.
type PGStore struct {
	DB DBTX
}

// NewPGStore returns a store bound to db.
func NewPGStore(db DBTX) *PGStore {
	return &PGStore{DB: db}
}

const selectOfferSQL = `
SELECT o.offre_uuid::text, COALESCE(o.codeunique, ''), COALESCE(o.nombeneficiaire, ''),
       COALESCE(o.emailbeneficiaire, ''), COALESCE(o.numtelephonebeneficiaire, ''),
       COALESCE(o.nomenvoyeur, ''), COALESCE(o.note, ''), COALESCE(s.nomservice, ''),
       COALESCE(o.status, '')
FROM offre o
LEFT JOIN service s ON o.service = s.service_uuid`

// GetByID loads an offer by its uuid.
func (s *PGStore) GetByID(ctx context.Context, id string) (Offer, error) {
	return s.getOne(ctx, selectOfferSQL+` WHERE o.offre_uuid::text = $1`, id)
}

// GetByCode loads an offer by its unique gift code.
func (s *PGStore) GetByCode(ctx context.Context, code string) (Offer, error) {
	return s.getOne(ctx, selectOfferSQL+` WHERE o.codeunique = $1`, code)
}

// UpdateStatus sets the offer status.
func (s *PGStore) UpdateStatus(ctx context.Context, id, status string) error {
	tag, err := s.DB.Exec(ctx, `UPDATE offre SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE offre_uuid = $2::uuid`, status, id)
	if err != nil {
		return fmt.Errorf("update offer status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) getOne(ctx context.Context, query, arg string) (Offer, error) {
	var o Offer
	err := s.DB.QueryRow(ctx, query, arg).Scan(
		&o.ID, &o.Code, &o.BeneficiaryName, &o.BeneficiaryEmail, &o.BeneficiaryPhone,
		&o.SenderName, &o.Note, &o.ServiceName, &o.Status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, ErrNotFound
		}
		return Offer{}, fmt.Errorf("get offer: %w", err)
	}
	return o, nil
}
