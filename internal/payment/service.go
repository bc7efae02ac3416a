package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-spa/internal/obs"
	"github.com/noah-isme/backend-spa/internal/offer"
	"github.com/noah-isme/backend-spa/internal/reservation"
)

// ReservationStore is the subset of reservation persistence used by payments.
type ReservationStore interface {
	GetByID(ctx context.Context, id string) (reservation.Reservation, error)
	GetByReference(ctx context.Context, reference string) (reservation.Reservation, error)
	Update(ctx context.Context, id string, r reservation.Reservation) (reservation.Reservation, error)
}

// OfferStore is the subset of gift offer persistence used by payments.
type OfferStore interface {
	GetByID(ctx context.Context, id string) (offer.Offer, error)
	GetByCode(ctx context.Context, code string) (offer.Offer, error)
	UpdateStatus(ctx context.Context, id, status string) error
}

// GiftCardMailer delivers the gift card to the beneficiary of a paid offer.
type GiftCardMailer interface {
	SendGiftCard(ctx context.Context, o offer.Offer) error
}

// Checkout is the customer data submitted when starting a payment.
type Checkout struct {
	FirstName string  `json:"firstName" validate:"required"`
	LastName  string  `json:"lastName" validate:"required"`
	Email     string  `json:"email" validate:"required,email"`
	Phone     string  `json:"phone" validate:"required"`
	Amount    float64 `json:"amount" validate:"required,gt=0"`
	Reference string  `json:"reference"`
}

// Checkout kinds, used as metric labels.
const (
	KindReservation = "reservation"
	KindOffer       = "offer"
)

// Started is a signed request ready to be posted to the gateway.
type Started struct {
	Reference string
	Fields    Fields
	Form      string
}

// CallbackResult reports what a verified callback was applied to.
type CallbackResult struct {
	Outcome  Outcome
	Kind     string
	TargetID string
	Status   string
}

// Service signs checkouts and applies gateway callbacks to reservations and offers.
type Service struct {
	Gateway        Gateway
	Reservations   ReservationStore
	Offers         OfferStore
	GiftCards      GiftCardMailer
	PublicBaseURL  string
	BackendBaseURL string
	Logger         *zerolog.Logger
}

// URLs derives the gateway return and callback addresses from the configured base URLs.
func (s *Service) URLs() URLs {
	public := strings.TrimRight(strings.TrimSpace(s.PublicBaseURL), "/")
	backend := strings.TrimRight(strings.TrimSpace(s.BackendBaseURL), "/")
	if backend == "" {
		backend = public
	}
	return URLs{
		SuccessURL:  public + "/payment/success",
		FailURL:     public + "/payment/fail",
		CallbackURL: backend + "/api/payment/callback",
		ShopURL:     public,
	}
}

// StartReservation signs a payment for a reservation. Without an explicit reference
// the stored reservation reference is used, then the reservation id.
func (s *Service) StartReservation(ctx context.Context, reservationID string, in Checkout) (Started, error) {
	reference := strings.TrimSpace(in.Reference)
	if reference == "" && reservationID != "" {
		reference = reservationID
		if s.Reservations != nil {
			r, err := s.Reservations.GetByID(ctx, reservationID)
			switch {
			case err == nil && strings.TrimSpace(r.Reference) != "":
				reference = r.Reference
			case err != nil && !errors.Is(err, reservation.ErrNotFound):
				s.logger().Warn().Err(err).Str("reservation_id", reservationID).Msg("lookup reservation reference")
			}
		}
	}
	return s.start(ctx, KindReservation, reference, in)
}

// StartOffer signs a payment for a gift offer. Without an explicit reference the
// offer code is used, then the offer id.
func (s *Service) StartOffer(ctx context.Context, offerID string, in Checkout) (Started, error) {
	reference := strings.TrimSpace(in.Reference)
	if reference == "" && offerID != "" {
		reference = offerID
		if s.Offers != nil {
			o, err := s.Offers.GetByID(ctx, offerID)
			switch {
			case err == nil && strings.TrimSpace(o.Code) != "":
				reference = o.Code
			case err != nil && !errors.Is(err, offer.ErrNotFound):
				s.logger().Warn().Err(err).Str("offer_id", offerID).Msg("lookup offer code")
			}
		}
	}
	return s.start(ctx, KindOffer, reference, in)
}

func (s *Service) start(ctx context.Context, kind, reference string, in Checkout) (Started, error) {
	_, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.Start")
	defer span.End()

	start := time.Now()
	result := "error"
	defer func() {
		span.SetAttributes(
			attribute.String("payment.kind", kind),
			attribute.String("payment.reference", reference),
			attribute.Float64("payment.start.duration_ms", obs.DurationMillis(time.Since(start))),
			attribute.String("payment.start.result", result),
		)
		if obs.PaymentRequestTotal != nil {
			obs.PaymentRequestTotal.WithLabelValues(kind, result).Inc()
		}
	}()

	fields, err := s.Gateway.NewRequest(Order{
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     in.Email,
		Phone:     in.Phone,
		Amount:    in.Amount,
		Reference: reference,
	}, s.URLs())
	if err != nil {
		span.RecordError(err)
		return Started{}, err
	}
	form, err := s.Gateway.Form(fields)
	if err != nil {
		span.RecordError(err)
		return Started{}, fmt.Errorf("render payment form: %w", err)
	}
	result = "success"
	s.logger().Info().Str("kind", kind).Str("reference", reference).Msg("payment request signed")
	return Started{Reference: reference, Fields: fields, Form: form}, nil
}

// HandleCallback verifies a server-to-server notification and applies it.
func (s *Service) HandleCallback(ctx context.Context, callback Fields) (CallbackResult, error) {
	return s.Apply(ctx, callback, s.Gateway.Verify(callback))
}

// Apply routes an already classified callback to the matching reservation or
// offer. A FAILURE outcome changes nothing and is returned without error.
func (s *Service) Apply(ctx context.Context, callback Fields, outcome Outcome) (CallbackResult, error) {
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.Apply")
	defer span.End()

	res := CallbackResult{Outcome: outcome}
	oid := strings.TrimSpace(callback.Value("oid"))
	span.SetAttributes(attribute.String("payment.outcome", string(outcome)), attribute.String("order.id", oid))
	defer func() {
		if obs.PaymentCallbackTotal != nil {
			obs.PaymentCallbackTotal.WithLabelValues("callback", string(res.Outcome)).Inc()
		}
	}()

	logger := s.logger().With().
		Str("oid", oid).
		Str("amount", callback.Value("amount")).
		Str("proc_return_code", callback.Value("ProcReturnCode")).
		Str("response", callback.Value("Response")).
		Str("outcome", string(outcome)).
		Logger()

	if !outcome.Authentic() {
		logger.Warn().Msg("payment callback hash verification failed")
		return res, nil
	}
	if oid == "" {
		logger.Warn().Msg("payment callback without order id")
		return res, nil
	}

	rsv, found, err := s.findReservation(ctx, oid)
	if err != nil {
		span.RecordError(err)
		return res, err
	}
	if found {
		res.Kind, res.TargetID = KindReservation, rsv.ID
		status, err := s.applyReservation(ctx, rsv, outcome)
		if err != nil {
			span.RecordError(err)
			return res, err
		}
		res.Status = status
		logger.Info().Str("reservation_id", rsv.ID).Str("status", status).Msg("payment applied to reservation")
		return res, nil
	}

	o, found, err := s.findOffer(ctx, oid)
	if err != nil {
		span.RecordError(err)
		return res, err
	}
	if found {
		res.Kind, res.TargetID = KindOffer, o.ID
		status, err := s.applyOffer(ctx, o, outcome, logger)
		if err != nil {
			span.RecordError(err)
			return res, err
		}
		res.Status = status
		return res, nil
	}

	logger.Warn().Msg("no reservation or offer matches payment order id")
	return res, nil
}

// VerifyRedirect classifies the query string the browser returns with.
func (s *Service) VerifyRedirect(query Fields) Outcome {
	outcome := s.Gateway.Verify(query)
	if obs.PaymentCallbackTotal != nil {
		obs.PaymentCallbackTotal.WithLabelValues("redirect", string(outcome)).Inc()
	}
	return outcome
}

func (s *Service) findReservation(ctx context.Context, oid string) (reservation.Reservation, bool, error) {
	if s.Reservations == nil {
		return reservation.Reservation{}, false, nil
	}
	r, err := s.Reservations.GetByID(ctx, oid)
	if err == nil {
		return r, true, nil
	}
	if !errors.Is(err, reservation.ErrNotFound) {
		return reservation.Reservation{}, false, fmt.Errorf("find reservation: %w", err)
	}
	if !strings.HasPrefix(oid, "MOR-") {
		return reservation.Reservation{}, false, nil
	}
	r, err = s.Reservations.GetByReference(ctx, oid)
	if err == nil {
		return r, true, nil
	}
	if errors.Is(err, reservation.ErrNotFound) {
		return reservation.Reservation{}, false, nil
	}
	return reservation.Reservation{}, false, fmt.Errorf("find reservation by reference: %w", err)
}

func (s *Service) findOffer(ctx context.Context, oid string) (offer.Offer, bool, error) {
	if s.Offers == nil {
		return offer.Offer{}, false, nil
	}
	o, err := s.Offers.GetByID(ctx, oid)
	if err == nil {
		return o, true, nil
	}
	if !errors.Is(err, offer.ErrNotFound) {
		return offer.Offer{}, false, fmt.Errorf("find offer: %w", err)
	}
	o, err = s.Offers.GetByCode(ctx, oid)
	if err == nil {
		return o, true, nil
	}
	if errors.Is(err, offer.ErrNotFound) {
		return offer.Offer{}, false, nil
	}
	return offer.Offer{}, false, fmt.Errorf("find offer by code: %w", err)
}

// applyReservation writes the full record with the new status and payment mode.
// APPROVED never downgrades a reservation that is already confirmed or completed.
func (s *Service) applyReservation(ctx context.Context, r reservation.Reservation, outcome Outcome) (string, error) {
	switch outcome {
	case OutcomePostAuth:
		r.Status = reservation.StatusConfirmed
	case OutcomeApproved:
		if r.Status == reservation.StatusConfirmed || r.Status == reservation.StatusCompleted {
			return string(r.Status), nil
		}
		r.Status = reservation.StatusPending
	default:
		return string(r.Status), nil
	}
	r.PaymentMode = reservation.PaymentModeOnline
	if _, err := s.Reservations.Update(ctx, r.ID, r); err != nil {
		return "", fmt.Errorf("update reservation: %w", err)
	}
	return string(r.Status), nil
}

// applyOffer confirms a paid offer and queues the gift card. A status write
// failure is returned so the gateway retries; gift card errors are logged only.
// An offer that is already confirmed is left alone and not mailed again.
func (s *Service) applyOffer(ctx context.Context, o offer.Offer, outcome Outcome, logger zerolog.Logger) (string, error) {
	if outcome != OutcomePostAuth {
		logger.Info().Str("offer_id", o.ID).Msg("offer payment approved, awaiting settlement")
		return o.Status, nil
	}
	if o.Status == offer.StatusConfirmed {
		logger.Info().Str("offer_id", o.ID).Msg("offer already confirmed")
		return o.Status, nil
	}
	if err := s.Offers.UpdateStatus(ctx, o.ID, offer.StatusConfirmed); err != nil {
		return o.Status, fmt.Errorf("update offer status: %w", err)
	}
	o.Status = offer.StatusConfirmed
	if s.GiftCards != nil {
		if err := s.GiftCards.SendGiftCard(ctx, o); err != nil {
			logger.Error().Err(err).Str("offer_id", o.ID).Msg("send gift card email")
		}
	}
	logger.Info().Str("offer_id", o.ID).Msg("payment applied to offer")
	return o.Status, nil
}

func (s *Service) logger() *zerolog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	nop := zerolog.Nop()
	return &nop
}
