package payment

import (
	"strings"
	"time"
)

// Gateway holds the CMI merchant credentials and signs or verifies payloads with them.
type Gateway struct {
	ClientID string
	StoreKey string
	Endpoint string
	Lang     string
	Now      func() time.Time
}

// NewRequest builds and signs the hosted-payment fields for order.
func (g Gateway) NewRequest(order Order, urls URLs) (Fields, error) {
	return buildRequest(order, g.ClientID, g.StoreKey, urls, g.Lang, g.now())
}

// Verify classifies an inbound callback or redirect payload.
func (g Gateway) Verify(callback Fields) Outcome {
	return Verify(callback, g.StoreKey)
}

// Form renders the auto-submitting form for signed fields.
func (g Gateway) Form(fields Fields) (string, error) {
	return RenderForm(fields, g.endpoint())
}

// Configured reports whether both merchant credentials are present.
func (g Gateway) Configured() bool {
	return strings.TrimSpace(g.ClientID) != "" && g.StoreKey != ""
}

func (g Gateway) endpoint() string {
	if strings.TrimSpace(g.Endpoint) == "" {
		return DefaultGatewayURL
	}
	return g.Endpoint
}

func (g Gateway) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}
