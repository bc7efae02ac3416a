package payment_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/noah-isme/backend-spa/internal/offer"
	"github.com/noah-isme/backend-spa/internal/payment"
	"github.com/noah-isme/backend-spa/internal/ratelimit"
	"github.com/noah-isme/backend-spa/internal/reservation"
)

func newTestRouter(t *testing.T, svc *payment.Service) (http.Handler, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := &payment.Handler{Svc: svc, Replay: client, ReplayTTL: time.Hour}
	r := chi.NewRouter()
	r.Route("/api/payment", h.Routes)
	return r, mr
}

func postCallback(t *testing.T, router http.Handler, fields payment.Fields) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{}
	for _, f := range fields {
		form.Set(f.Name, f.Value)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/payment/callback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestCallbackConfirmsAndAcknowledgesReplay(t *testing.T) {
	t.Parallel()

	rs := newFakeReservations(pendingReservation())
	router, mr := newTestRouter(t, newTestService(rs, newFakeOffers(), nil))
	cb := signedCallback(reservationID, "00")

	rr := postCallback(t, router, cb)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "OK", rr.Body.String())
	require.Equal(t, reservation.StatusConfirmed, rs.get(reservationID).Status)
	require.Len(t, mr.Keys(), 1)

	rr = postCallback(t, router, cb)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "OK", rr.Body.String())
	require.Len(t, rs.updates, 1)
}

func TestCallbackRejectsTamperedPayload(t *testing.T) {
	t.Parallel()

	rs := newFakeReservations(pendingReservation())
	router, mr := newTestRouter(t, newTestService(rs, newFakeOffers(), nil))

	cb := signedCallback(reservationID, "00").Set("amount", "1")
	rr := postCallback(t, router, cb)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "FAILURE", rr.Body.String())
	require.Empty(t, rs.updates)
	require.Empty(t, mr.Keys())
}

func TestCallbackStoreErrorReleasesReplayKey(t *testing.T) {
	t.Parallel()

	rs := newFakeReservations()
	rs.getErr = errors.New("connection reset")
	router, mr := newTestRouter(t, newTestService(rs, newFakeOffers(), nil))

	rr := postCallback(t, router, signedCallback(reservationID, "00"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "ERROR", rr.Body.String())
	require.Empty(t, mr.Keys())
}

func TestCallbackOfferUpdateErrorReleasesReplayKey(t *testing.T) {
	t.Parallel()

	offers := newFakeOffers(offer.Offer{ID: offerID, Code: "GIFT-42", Status: "en_attente"})
	offers.updateErr = errors.New("connection refused")
	router, mr := newTestRouter(t, newTestService(newFakeReservations(), offers, nil))

	rr := postCallback(t, router, signedCallback("GIFT-42", "00"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "ERROR", rr.Body.String())
	require.Empty(t, mr.Keys())
}

func TestCallbackUnknownOrderIsAcknowledged(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, newTestService(newFakeReservations(), newFakeOffers(), nil))
	rr := postCallback(t, router, signedCallback("nobody", "00"))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "OK", rr.Body.String())
}

func TestCallbackWithoutStoreKey(t *testing.T) {
	t.Parallel()

	svc := newTestService(newFakeReservations(), newFakeOffers(), nil)
	svc.Gateway.StoreKey = ""
	router, _ := newTestRouter(t, svc)
	rr := postCallback(t, router, signedCallback(reservationID, "00"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestCallbackReplayStoreUnavailable(t *testing.T) {
	t.Parallel()

	rs := newFakeReservations(pendingReservation())
	router, mr := newTestRouter(t, newTestService(rs, newFakeOffers(), nil))
	mr.Close()

	rr := postCallback(t, router, signedCallback(reservationID, "00"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "ERROR", rr.Body.String())
	require.Empty(t, rs.updates)
}

func TestStartReservationEndpoint(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, newTestService(newFakeReservations(pendingReservation()), newFakeOffers(), nil))
	body, err := json.Marshal(map[string]any{
		"firstName": "Salma",
		"lastName":  "Idrissi",
		"email":     "salma@example.com",
		"phone":     "06 00 00 00 00",
		"amount":    350,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/payment/reservation/"+reservationID, bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Status      int               `json:"status"`
		Form        string            `json:"form"`
		PaymentData map[string]string `json:"paymentData"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, http.StatusOK, resp.Status)
	require.Contains(t, resp.Form, "cmi_payment_form")
	require.Equal(t, "MOR-3F1C", resp.PaymentData["oid"])
	require.Equal(t, "0600000000", resp.PaymentData["tel"])
	require.Equal(t, "https://api.spa.example.com/api/payment/callback", resp.PaymentData["callbackUrl"])
	require.NotEmpty(t, resp.PaymentData["HASH"])
}

func TestStartOfferEndpoint(t *testing.T) {
	t.Parallel()

	offers := newFakeOffers(offer.Offer{ID: offerID, Code: "GIFT-42"})
	router, _ := newTestRouter(t, newTestService(newFakeReservations(), offers, nil))
	body := `{"firstName":"A","lastName":"B","email":"a@b.ma","phone":"1","amount":500}`

	req := httptest.NewRequest(http.MethodPost, "/api/payment/offer/"+offerID, strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"oid":"GIFT-42"`)
}

func TestStartEndpointValidation(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, newTestService(newFakeReservations(), newFakeOffers(), nil))
	cases := map[string]string{
		"missing email":    `{"firstName":"A","lastName":"B","phone":"1","amount":10}`,
		"invalid email":    `{"firstName":"A","lastName":"B","email":"nope","phone":"1","amount":10}`,
		"zero amount":      `{"firstName":"A","lastName":"B","email":"a@b.ma","phone":"1","amount":0}`,
		"malformed json":   `{"firstName":`,
		"missing phone":    `{"firstName":"A","lastName":"B","email":"a@b.ma","amount":10}`,
		"missing lastName": `{"firstName":"A","email":"a@b.ma","phone":"1","amount":10}`,
	}
	for name, body := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/payment/reservation/"+reservationID, strings.NewReader(body))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		require.Equal(t, http.StatusBadRequest, rr.Code, name)
	}
}

func TestStartEndpointWithoutCredentials(t *testing.T) {
	t.Parallel()

	svc := newTestService(newFakeReservations(), newFakeOffers(), nil)
	svc.Gateway.ClientID = ""
	router, _ := newTestRouter(t, svc)

	body := `{"firstName":"A","lastName":"B","email":"a@b.ma","phone":"1","amount":10}`
	req := httptest.NewRequest(http.MethodPost, "/api/payment/reservation/"+reservationID, strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Contains(t, rr.Body.String(), "PAYMENT_NOT_CONFIGURED")
}

func TestVerifyEndpoint(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, newTestService(nil, nil, nil))
	cb := signedCallback("MOR-3F1C", "00").Set("OrderId", "CMI-1")
	cb = cb.Without(payment.FieldHash)
	cb = cb.Set(payment.FieldHash, payment.Hash(cb, testStoreKey))

	query := url.Values{}
	for _, f := range cb {
		query.Set(f.Name, f.Value)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/payment/verify?"+query.Encode(), nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, true, resp["success"])
	require.Equal(t, "POSTAUTH", resp["verification"])
	require.Equal(t, "MOR-3F1C", resp["orderId"])
	require.Equal(t, "350", resp["amount"])
	require.Equal(t, "00", resp["procReturnCode"])
	require.Equal(t, "CMI-1", resp["cmiOrderId"])

	bad := httptest.NewRequest(http.MethodGet, "/api/payment/verify?oid=X&HASH=nope", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, bad)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"success":false`)
	require.Contains(t, rr.Body.String(), `"verification":"FAILURE"`)
}

func TestStartLimitLeavesCallbackOpen(t *testing.T) {
	t.Parallel()

	lim, err := ratelimit.New(memory.NewStore(), "1-M")
	require.NoError(t, err)
	rs := newFakeReservations(pendingReservation())
	h := &payment.Handler{
		Svc:        newTestService(rs, newFakeOffers(), nil),
		StartLimit: ratelimit.Handler{Limiter: lim}.Middleware,
	}
	router := chi.NewRouter()
	router.Route("/api/payment", h.Routes)

	body := `{"firstName":"A","lastName":"B","email":"a@b.ma","phone":"1","amount":10}`
	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/payment/reservation/"+reservationID, strings.NewReader(body))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)

	for i := 0; i < 2; i++ {
		rr := postCallback(t, router, signedCallback("nobody", "00"))
		require.Equal(t, http.StatusOK, rr.Code)
	}
}
