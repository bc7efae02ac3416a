package reservation

import (
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// Status is the lifecycle state stored in reservation.statusres.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// PaymentModeOnline marks reservations paid through the card gateway.
const PaymentModeOnline = "en_ligne"

// ErrNotFound is returned when no reservation matches the lookup.
var ErrNotFound = errors.New("reservation not found")

// Summary is the projection listed by status.
type Summary struct {
	ID              string
	Reference       string
	ClientName      string
	Date            time.Time
	TimeOfDay       time.Duration
	Status          Status
	ServiceDuration time.Duration
}

// Reservation is the full mutable record. Updates always write every field.
type Reservation struct {
	ID              string
	Reference       string
	ClientName      string
	Email           string
	Phone           string
	Date            time.Time
	TimeOfDay       time.Duration
	ServiceID       string
	PaymentMode     string
	TotalPrice      pgtype.Numeric
	Guests          int32
	Status          Status
	Note            string
	ServiceDuration time.Duration
}

// ScheduledAt combines the service date and start time in loc.
func ScheduledAt(date time.Time, timeOfDay time.Duration, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := date.Date()
	h := int(timeOfDay / time.Hour)
	mi := int(timeOfDay % time.Hour / time.Minute)
	s := int(timeOfDay % time.Minute / time.Second)
	return time.Date(y, m, d, h, mi, s, 0, loc)
}

// DisplayReference returns the stored reference or the MOR- fallback derived from the id.
func DisplayReference(reference, id string) string {
	if strings.TrimSpace(reference) != "" {
		return reference
	}
	prefix := id
	if len(prefix) > 4 {
		prefix = prefix[:4]
	}
	return "MOR-" + strings.ToUpper(prefix)
}
