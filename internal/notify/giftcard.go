package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-spa/internal/common"
	"github.com/noah-isme/backend-spa/internal/obs"
	"github.com/noah-isme/backend-spa/internal/offer"
)

// TaskGiftCardEmail is the asynq task type carrying a paid offer.
const TaskGiftCardEmail = "email:gift_card"

// GiftCard is the task payload rendered into the beneficiary email.
type GiftCard struct {
	OfferID          string `json:"offerId"`
	Code             string `json:"code"`
	BeneficiaryName  string `json:"beneficiaryName"`
	BeneficiaryEmail string `json:"beneficiaryEmail"`
	SenderName       string `json:"senderName"`
	ServiceName      string `json:"serviceName"`
	Note             string `json:"note"`
	Lang             string `json:"lang"`
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// GiftCardQueue hands gift card emails to the worker. One task per offer is
// accepted; a redelivered callback for the same offer is a no-op while the task
// is queued or retained.
type GiftCardQueue struct {
	Client    Enqueuer
	Lang      string
	MaxRetry  int
	Retention time.Duration
}

// SendGiftCard enqueues the email for o.
func (q GiftCardQueue) SendGiftCard(ctx context.Context, o offer.Offer) error {
	if q.Client == nil {
		return errors.New("gift card queue: client not configured")
	}
	payload, err := json.Marshal(giftCardFromOffer(o, q.Lang))
	if err != nil {
		return fmt.Errorf("gift card queue: encode payload: %w", err)
	}
	retries := q.MaxRetry
	if retries <= 0 {
		retries = 5
	}
	retention := q.Retention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	task := asynq.NewTask(TaskGiftCardEmail, payload)
	_, err = q.Client.EnqueueContext(ctx, task,
		asynq.TaskID("giftcard:"+o.ID),
		asynq.MaxRetry(retries),
		asynq.Queue(QueueDefault),
		asynq.Retention(retention),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("gift card queue: enqueue: %w", err)
	}
	return nil
}

// QueueDefault is the asynq queue shared by notification tasks.
const QueueDefault = "default"

func giftCardFromOffer(o offer.Offer, lang string) GiftCard {
	return GiftCard{
		OfferID:          o.ID,
		Code:             o.Code,
		BeneficiaryName:  o.BeneficiaryName,
		BeneficiaryEmail: strings.TrimSpace(o.BeneficiaryEmail),
		SenderName:       o.SenderName,
		ServiceName:      o.ServiceName,
		Note:             o.Note,
		Lang:             lang,
	}
}

// GiftCardWorker renders and delivers gift card emails.
type GiftCardWorker struct {
	Mail   common.EmailSender
	Logger *zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (w GiftCardWorker) ProcessTask(_ context.Context, t *asynq.Task) error {
	var card GiftCard
	if err := json.Unmarshal(t.Payload(), &card); err != nil {
		countGiftCard("invalid")
		return fmt.Errorf("gift card: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	logger := w.logger().With().Str("offer_id", card.OfferID).Logger()
	if card.BeneficiaryEmail == "" {
		countGiftCard("skipped")
		logger.Warn().Msg("gift card has no beneficiary email")
		return nil
	}
	if w.Mail == nil {
		countGiftCard("error")
		return errors.New("gift card: mail sender not configured")
	}

	subject, body, err := RenderGiftCard(card)
	if err != nil {
		countGiftCard("invalid")
		return fmt.Errorf("gift card: render: %v: %w", err, asynq.SkipRetry)
	}
	if err := w.Mail.Send(card.BeneficiaryEmail, subject, body); err != nil {
		countGiftCard("error")
		return fmt.Errorf("gift card: send: %w", err)
	}
	countGiftCard("sent")
	logger.Info().Str("code", card.Code).Msg("gift card email sent")
	return nil
}

func (w GiftCardWorker) logger() *zerolog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

func countGiftCard(result string) {
	if obs.GiftCardEmailTotal != nil {
		obs.GiftCardEmailTotal.WithLabelValues(result).Inc()
	}
}

type giftCardCopy struct {
	Subject  string
	Greeting string
	Intro    string
	Service  string
	Code     string
	Outro    string
}

var giftCardText = map[string]giftCardCopy{
	"fr": {
		Subject:  "Votre carte cadeau - Mor Thai Spa",
		Greeting: "Bonjour",
		Intro:    "vous a offert une carte cadeau au Mor Thai Spa.",
		Service:  "Prestation",
		Code:     "Code de la carte",
		Outro:    "Présentez ce code lors de votre réservation. Nous avons hâte de vous accueillir.",
	},
	"en": {
		Subject:  "Your gift card - Mor Thai Spa",
		Greeting: "Hello",
		Intro:    "has offered you a gift card at Mor Thai Spa.",
		Service:  "Treatment",
		Code:     "Gift card code",
		Outro:    "Quote this code when booking. We look forward to welcoming you.",
	},
}

var giftCardTemplate = template.Must(template.New("giftcard").Parse(`<!DOCTYPE html>
<html lang="{{.Lang}}">
<body style="font-family: Arial, sans-serif; background: #f7f3ee; padding: 24px;">
<div style="max-width: 560px; margin: 0 auto; background: #ffffff; padding: 32px; border-radius: 8px;">
<h1 style="color: #8B4513; font-size: 22px;">{{.Copy.Subject}}</h1>
<p>{{.Copy.Greeting}} {{.Card.BeneficiaryName}},</p>
<p>{{if .Card.SenderName}}{{.Card.SenderName}}{{else}}Mor Thai Spa{{end}} {{.Copy.Intro}}</p>
{{if .Card.ServiceName}}<p><strong>{{.Copy.Service}}:</strong> {{.Card.ServiceName}}</p>{{end}}
<p><strong>{{.Copy.Code}}:</strong> <span style="font-size: 20px; letter-spacing: 2px;">{{.Card.Code}}</span></p>
{{if .Card.Note}}<blockquote style="border-left: 3px solid #8B4513; padding-left: 12px; color: #555;">{{.Card.Note}}</blockquote>{{end}}
<p>{{.Copy.Outro}}</p>
</div>
</body>
</html>
`))

// RenderGiftCard returns the subject and HTML body for card. Unknown
// languages fall back to French.
func RenderGiftCard(card GiftCard) (string, string, error) {
	lang := strings.ToLower(strings.TrimSpace(card.Lang))
	text, ok := giftCardText[lang]
	if !ok {
		lang = "fr"
		text = giftCardText[lang]
	}
	var buf bytes.Buffer
	err := giftCardTemplate.Execute(&buf, struct {
		Lang string
		Copy giftCardCopy
		Card GiftCard
	}{Lang: lang, Copy: text, Card: card})
	if err != nil {
		return "", "", err
	}
	return text.Subject, buf.String(), nil
}
