package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-spa/internal/common"
	"github.com/noah-isme/backend-spa/internal/obs"
)

// DefaultReplayTTL bounds how long an identical callback is acknowledged without re-applying.
const DefaultReplayTTL = 24 * time.Hour

// Plain text bodies expected by the gateway on the callback endpoint.
const (
	callbackOK      = "OK"
	callbackFailure = "FAILURE"
	callbackError   = "ERROR"
)

type replayStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Handler exposes the payment endpoints.
type Handler struct {
	Svc       *Service
	Replay    replayStore
	ReplayTTL time.Duration
	Validate  *validator.Validate

	// StartLimit throttles payment creation. The gateway-facing routes are
	// never limited.
	StartLimit func(http.Handler) http.Handler
}

type startResp struct {
	Status      int               `json:"status"`
	Form        string            `json:"form"`
	PaymentData map[string]string `json:"paymentData"`
}

type verifyResp struct {
	Success        bool    `json:"success"`
	Verification   Outcome `json:"verification"`
	OrderID        string  `json:"orderId"`
	Amount         string  `json:"amount"`
	ProcReturnCode string  `json:"procReturnCode"`
	Response       string  `json:"response"`
	CMIOrderID     string  `json:"cmiOrderId"`
}

// Routes mounts the payment endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(start chi.Router) {
		if h.StartLimit != nil {
			start.Use(h.StartLimit)
		}
		start.Post("/reservation/{reservationId}", h.StartReservation)
		start.Post("/offer/{offerId}", h.StartOffer)
	})
	r.Post("/callback", h.Callback)
	r.Get("/verify", h.Verify)
}

// StartReservation signs a hosted-payment request for a reservation.
func (h *Handler) StartReservation(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, KindReservation, strings.TrimSpace(chi.URLParam(r, "reservationId")))
}

// StartOffer signs a hosted-payment request for a gift offer.
func (h *Handler) StartOffer(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, KindOffer, strings.TrimSpace(chi.URLParam(r, "offerId")))
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request, kind, targetID string) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	if !h.Svc.Gateway.Configured() {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "CMI credentials not configured", nil)
		return
	}
	var in Checkout
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	if err := h.validator().Struct(in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", "missing required fields: firstName, lastName, email, phone, amount", validationDetails(err))
		return
	}
	if strings.TrimSpace(in.Reference) == "" && targetID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "reference or target id is required", nil)
		return
	}

	var (
		started Started
		err     error
	)
	if kind == KindOffer {
		started, err = h.Svc.StartOffer(r.Context(), targetID, in)
	} else {
		started, err = h.Svc.StartReservation(r.Context(), targetID, in)
	}
	if err != nil {
		var cfgErr *ConfigurationError
		switch {
		case errors.Is(err, ErrMissingReference):
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		case errors.As(err, &cfgErr):
			common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", cfgErr.Error(), map[string]string{"field": cfgErr.Field})
		default:
			common.JSONError(w, http.StatusInternalServerError, "PAYMENT_FAILED", "failed to create payment request", nil)
		}
		return
	}
	common.JSON(w, http.StatusOK, startResp{
		Status:      http.StatusOK,
		Form:        started.Form,
		PaymentData: started.Fields.Map(),
	})
}

// Callback handles the server-to-server notification posted by the gateway.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil || h.Svc.Gateway.StoreKey == "" {
		common.Text(w, http.StatusInternalServerError, callbackFailure)
		return
	}
	ctx, span := otel.Tracer("payment.Handler").Start(r.Context(), "PaymentHandler.Callback")
	defer span.End()

	if err := r.ParseForm(); err != nil {
		span.RecordError(err)
		common.Text(w, http.StatusBadRequest, callbackFailure)
		return
	}
	callback := FromValues(r.PostForm)
	outcome := h.Svc.Gateway.Verify(callback)
	span.SetAttributes(attribute.String("payment.outcome", string(outcome)))

	var replayKey string
	if outcome.Authentic() && h.Replay != nil {
		key := fmt.Sprintf("cmicb:%s", common.Sha256Hex(r.PostForm.Encode()))
		fresh, err := h.Replay.SetNX(ctx, key, "1", h.replayTTL()).Result()
		if err != nil {
			span.RecordError(err)
			common.Text(w, http.StatusInternalServerError, callbackError)
			return
		}
		if !fresh {
			span.AddEvent("payment callback replay acknowledged")
			if obs.PaymentCallbackReplays != nil {
				obs.PaymentCallbackReplays.Inc()
			}
			common.Text(w, http.StatusOK, callbackOK)
			return
		}
		replayKey = key
	}

	if _, err := h.Svc.Apply(ctx, callback, outcome); err != nil {
		span.RecordError(err)
		h.Svc.logger().Error().Err(err).Str("oid", callback.Value("oid")).Msg("apply payment callback")
		if replayKey != "" {
			// release the key so the gateway retry is applied
			_ = h.Replay.Del(context.WithoutCancel(ctx), replayKey).Err()
		}
		common.Text(w, http.StatusInternalServerError, callbackError)
		return
	}
	if !outcome.Authentic() {
		common.Text(w, http.StatusBadRequest, callbackFailure)
		return
	}
	common.Text(w, http.StatusOK, callbackOK)
}

// Verify classifies the query string the browser carries back from the gateway.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil || h.Svc.Gateway.StoreKey == "" {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "CMI payment gateway not configured", nil)
		return
	}
	query := r.URL.Query()
	outcome := h.Svc.VerifyRedirect(FromValues(query))
	common.JSON(w, http.StatusOK, verifyResp{
		Success:        outcome.Authentic(),
		Verification:   outcome,
		OrderID:        query.Get("oid"),
		Amount:         query.Get("amount"),
		ProcReturnCode: query.Get("ProcReturnCode"),
		Response:       query.Get("Response"),
		CMIOrderID:     query.Get("OrderId"),
	})
}

var defaultValidate = validator.New(validator.WithRequiredStructEnabled())

func (h *Handler) validator() *validator.Validate {
	if h.Validate != nil {
		return h.Validate
	}
	return defaultValidate
}

func (h *Handler) replayTTL() time.Duration {
	if h.ReplayTTL <= 0 {
		return DefaultReplayTTL
	}
	return h.ReplayTTL
}

func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[jsonFieldName(fe.Field())] = fe.Tag()
	}
	return out
}

func jsonFieldName(field string) string {
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}
