package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-spa/internal/common"
	"github.com/noah-isme/backend-spa/internal/notify"
	"github.com/noah-isme/backend-spa/internal/offer"
)

func paidOffer() offer.Offer {
	return offer.Offer{
		ID:               "3f1c2b9a-0000-4000-8000-000000000042",
		Code:             "GIFT-42",
		BeneficiaryName:  "Salma",
		BeneficiaryEmail: " salma@example.com ",
		SenderName:       "Youssef",
		ServiceName:      "Massage thaï",
		Note:             "Joyeux anniversaire <3",
	}
}

func TestGiftCardQueueEnqueuesOncePerOffer(t *testing.T) {
	mr := miniredis.RunT(t)
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = inspector.Close() })

	q := notify.GiftCardQueue{Client: client, Lang: "fr"}
	require.NoError(t, q.SendGiftCard(context.Background(), paidOffer()))
	require.NoError(t, q.SendGiftCard(context.Background(), paidOffer()))

	pending, err := inspector.ListPendingTasks(notify.QueueDefault)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, notify.TaskGiftCardEmail, pending[0].Type)
	require.Equal(t, 7*24*time.Hour, pending[0].Retention)

	var card notify.GiftCard
	require.NoError(t, json.Unmarshal(pending[0].Payload, &card))
	require.Equal(t, "GIFT-42", card.Code)
	require.Equal(t, "salma@example.com", card.BeneficiaryEmail)
	require.Equal(t, "fr", card.Lang)
}

func TestGiftCardQueueWithoutClient(t *testing.T) {
	require.Error(t, notify.GiftCardQueue{}.SendGiftCard(context.Background(), paidOffer()))
}

func giftCardTask(t *testing.T, card notify.GiftCard) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(card)
	require.NoError(t, err)
	return asynq.NewTask(notify.TaskGiftCardEmail, payload)
}

func TestGiftCardWorkerSends(t *testing.T) {
	mail := &common.InMemoryEmail{}
	w := notify.GiftCardWorker{Mail: mail}

	card := notify.GiftCard{OfferID: "o1", Code: "GIFT-42", BeneficiaryName: "Salma", BeneficiaryEmail: "salma@example.com", SenderName: "Youssef", Note: "<b>bravo</b>", Lang: "fr"}
	require.NoError(t, w.ProcessTask(context.Background(), giftCardTask(t, card)))

	sent := mail.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, "salma@example.com", sent[0].To)
	require.Equal(t, "Votre carte cadeau - Mor Thai Spa", sent[0].Subject)
	require.Contains(t, sent[0].HTML, "GIFT-42")
	require.Contains(t, sent[0].HTML, "Youssef vous a offert")
	require.Contains(t, sent[0].HTML, "&lt;b&gt;bravo&lt;/b&gt;")
}

func TestGiftCardWorkerSkipsMissingRecipient(t *testing.T) {
	mail := &common.InMemoryEmail{}
	w := notify.GiftCardWorker{Mail: mail}
	require.NoError(t, w.ProcessTask(context.Background(), giftCardTask(t, notify.GiftCard{OfferID: "o1"})))
	require.Empty(t, mail.Sent())
}

func TestGiftCardWorkerBadPayloadSkipsRetry(t *testing.T) {
	w := notify.GiftCardWorker{Mail: &common.InMemoryEmail{}}
	err := w.ProcessTask(context.Background(), asynq.NewTask(notify.TaskGiftCardEmail, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type failingMail struct{}

func (failingMail) Send(string, string, string) error { return errors.New("smtp down") }

func TestGiftCardWorkerRetriesSendFailure(t *testing.T) {
	w := notify.GiftCardWorker{Mail: failingMail{}}
	err := w.ProcessTask(context.Background(), giftCardTask(t, notify.GiftCard{OfferID: "o1", BeneficiaryEmail: "a@b.ma"}))
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestRenderGiftCardLanguages(t *testing.T) {
	subject, html, err := notify.RenderGiftCard(notify.GiftCard{Code: "C1", BeneficiaryName: "Ann", Lang: "EN"})
	require.NoError(t, err)
	require.Equal(t, "Your gift card - Mor Thai Spa", subject)
	require.Contains(t, html, `lang="en"`)
	require.Contains(t, html, "Mor Thai Spa has offered you")

	subject, _, err = notify.RenderGiftCard(notify.GiftCard{Code: "C1", Lang: "de"})
	require.NoError(t, err)
	require.Equal(t, "Votre carte cadeau - Mor Thai Spa", subject)
}
