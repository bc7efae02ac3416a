package payment_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-spa/internal/payment"
)

const testStoreKey = "TEST_STORE_KEY"

// signCallback mimics the gateway: it signs the plain values and then echoes
// them back, optionally with a different representation.
func signCallback(signed payment.Fields, echoed payment.Fields) payment.Fields {
	hash := payment.Hash(signed, testStoreKey)
	if echoed == nil {
		echoed = append(payment.Fields{}, signed...)
	}
	return echoed.Set(payment.FieldHash, hash)
}

func callbackFields(procReturnCode string) payment.Fields {
	return payment.Fields{
		{Name: "oid", Value: "MOR-ABCD"},
		{Name: "amount", Value: "350"},
		{Name: "Response", Value: "Approved"},
		{Name: "ProcReturnCode", Value: procReturnCode},
		{Name: "OrderId", Value: "CMI-991"},
		{Name: "encoding", Value: "UTF-8"},
	}
}

func TestVerifyPostAuthWhenAuthenticAndSettled(t *testing.T) {
	t.Parallel()

	cb := signCallback(callbackFields("00"), nil)
	require.Equal(t, payment.OutcomePostAuth, payment.Verify(cb, testStoreKey))
}

func TestVerifyApprovedWhenAuthenticButNotSettled(t *testing.T) {
	t.Parallel()

	cb := signCallback(callbackFields("05"), nil)
	outcome := payment.Verify(cb, testStoreKey)
	require.Equal(t, payment.OutcomeApproved, outcome)
	require.True(t, outcome.Authentic())
}

func TestVerifyFailureOnTamperedValue(t *testing.T) {
	t.Parallel()

	cb := signCallback(callbackFields("00"), nil)
	cb = cb.Set("amount", "1")
	outcome := payment.Verify(cb, testStoreKey)
	require.Equal(t, payment.OutcomeFailure, outcome)
	require.False(t, outcome.Authentic())
}

func TestVerifyFailureOnWrongKey(t *testing.T) {
	t.Parallel()

	cb := signCallback(callbackFields("00"), nil)
	require.Equal(t, payment.OutcomeFailure, payment.Verify(cb, "another-key"))
	require.Equal(t, payment.OutcomeFailure, payment.Verify(cb, ""))
}

func TestVerifyFailureWithoutHash(t *testing.T) {
	t.Parallel()

	require.Equal(t, payment.OutcomeFailure, payment.Verify(callbackFields("00"), testStoreKey))
}

func TestVerifyAcceptsLowercaseHashField(t *testing.T) {
	t.Parallel()

	fields := callbackFields("00")
	cb := append(payment.Fields{}, fields...).Set("hash", payment.Hash(fields, testStoreKey))
	require.Equal(t, payment.OutcomePostAuth, payment.Verify(cb, testStoreKey))
}

func TestVerifyDecodesEchoedEntities(t *testing.T) {
	t.Parallel()

	signed := payment.Fields{
		{Name: "oid", Value: "R-1"},
		{Name: "BillToName", Value: `O'Neil & "Sons" <x>`},
		{Name: "ProcReturnCode", Value: "00"},
	}
	echoed := payment.Fields{
		{Name: "oid", Value: "R-1"},
		{Name: "BillToName", Value: "O&#39;Neil &amp; &quot;Sons&quot; &lt;x&gt;"},
		{Name: "ProcReturnCode", Value: "00"},
	}
	cb := signCallback(signed, echoed)
	require.Equal(t, payment.OutcomePostAuth, payment.Verify(cb, testStoreKey))
}

func TestVerifyRoundTripsSignedRequest(t *testing.T) {
	t.Parallel()

	gw := payment.Gateway{ClientID: "600000000", StoreKey: testStoreKey}
	fields, err := gw.NewRequest(payment.Order{
		FirstName: "Amina",
		LastName:  "Bennani",
		Email:     "amina@example.com",
		Phone:     "06 12 34 56 78",
		Amount:    450,
		Reference: "MOR-1A2B",
	}, testURLs())
	require.NoError(t, err)
	require.Equal(t, payment.OutcomeApproved, gw.Verify(fields))

	// the gateway appends its result and re-signs
	settled := append(payment.Fields{}, fields.Without(payment.FieldHash)...).Set("ProcReturnCode", "00")
	settled = settled.Set(payment.FieldHash, payment.Hash(settled, testStoreKey))
	require.Equal(t, payment.OutcomePostAuth, gw.Verify(settled))
}

func TestVerifyEmptyUppercaseHashFallsBackToLowercase(t *testing.T) {
	t.Parallel()

	fields := callbackFields("00")
	cb := append(payment.Fields{}, fields...).
		Set(payment.FieldHash, "").
		Set("hash", payment.Hash(fields, testStoreKey))
	require.Equal(t, payment.OutcomePostAuth, payment.Verify(cb, testStoreKey))
}
