package payment

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Fixed CMI request parameters.
const (
	TranTypePreAuth   = "PreAuth"
	CurrencyMAD       = "504"
	CountryMorocco    = "504"
	StoreType3DPay    = "3D_PAY_HOSTING"
	HashAlgorithmVer3 = "ver3"
	DefaultLang       = "fr"
)

// ErrMissingReference is returned when an order carries no reference to use as oid.
var ErrMissingReference = errors.New("payment: order reference is required")

// ConfigurationError reports a missing or invalid merchant setting at request time.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("payment: %s %s", e.Field, e.Reason)
}

// Order is the billing data of a single checkout attempt.
type Order struct {
	FirstName  string
	LastName   string
	Email      string
	Phone      string
	Amount     float64
	Reference  string
	Address    string
	PostalCode string
}

// URLs are the absolute return and callback addresses handed to the gateway.
type URLs struct {
	SuccessURL  string
	FailURL     string
	CallbackURL string
	ShopURL     string
}

// BuildPaymentRequest signs a hosted-payment request using the current time as nonce.
func BuildPaymentRequest(order Order, clientID, storeKey string, urls URLs) (Fields, error) {
	return buildRequest(order, clientID, storeKey, urls, DefaultLang, time.Now())
}

func buildRequest(order Order, clientID, storeKey string, urls URLs, lang string, now time.Time) (Fields, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, &ConfigurationError{Field: "clientId", Reason: "is required"}
	}
	if storeKey == "" {
		return nil, &ConfigurationError{Field: "storeKey", Reason: "is required"}
	}
	if err := urls.validate(); err != nil {
		return nil, err
	}
	reference := strings.TrimSpace(order.Reference)
	if reference == "" {
		return nil, ErrMissingReference
	}
	if lang == "" {
		lang = DefaultLang
	}

	fields := Fields{
		{Name: "clientid", Value: clientID},
		{Name: "amount", Value: FormatAmount(order.Amount)},
		{Name: "okUrl", Value: urls.SuccessURL},
		{Name: "failUrl", Value: urls.FailURL},
		{Name: "TranType", Value: TranTypePreAuth},
		{Name: "callbackUrl", Value: urls.CallbackURL},
		{Name: "shopurl", Value: urls.ShopURL},
		{Name: "currency", Value: CurrencyMAD},
		{Name: "rnd", Value: strconv.FormatInt(now.UnixMilli(), 10)},
		{Name: "storetype", Value: StoreType3DPay},
		{Name: "hashAlgorithm", Value: HashAlgorithmVer3},
		{Name: "lang", Value: lang},
		{Name: "refreshtime", Value: "5"},
		{Name: "BillToName", Value: HandlePaymentData(order.FirstName+" "+order.LastName, false)},
		{Name: "BillToCompany", Value: ""},
		{Name: "BillToStreet1", Value: HandlePaymentData(order.Address, false)},
		{Name: "BillToCity", Value: ""},
		{Name: "BillToStateProv", Value: ""},
		{Name: "BillToPostalCode", Value: HandlePaymentData(order.PostalCode, false)},
		{Name: "BillToCountry", Value: CountryMorocco},
		{Name: "email", Value: HandlePaymentData(order.Email, true)},
		{Name: "tel", Value: SanitizePhone(order.Phone)},
		{Name: "encoding", Value: "UTF-8"},
		{Name: "oid", Value: reference},
		{Name: "AutoRedirect", Value: "true"},
	}
	return append(fields, Field{Name: FieldHash, Value: Hash(fields, storeKey)}), nil
}

// FormatAmount renders an amount the way the storefront sends it: plain decimal,
// no exponent, no trailing zeros.
func FormatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}

func (u URLs) validate() error {
	checks := []struct {
		name  string
		value string
	}{
		{"successUrl", u.SuccessURL},
		{"failUrl", u.FailURL},
		{"callbackUrl", u.CallbackURL},
		{"shopUrl", u.ShopURL},
	}
	for _, c := range checks {
		if strings.TrimSpace(c.value) == "" {
			return &ConfigurationError{Field: c.name, Reason: "is required"}
		}
		parsed, err := url.Parse(c.value)
		if err != nil || !parsed.IsAbs() || parsed.Host == "" {
			return &ConfigurationError{Field: c.name, Reason: "must be an absolute URL"}
		}
	}
	return nil
}
