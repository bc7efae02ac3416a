package payment

import "crypto/subtle"

// Outcome classifies an inbound gateway result.
type Outcome string

const (
	// OutcomeFailure means the hash did not match; the transaction is not paid.
	OutcomeFailure Outcome = "FAILURE"
	// OutcomeApproved means the hash is authentic but the processor did not report success.
	OutcomeApproved Outcome = "APPROVED"
	// OutcomePostAuth means the hash is authentic and the processor settled the payment.
	OutcomePostAuth Outcome = "POSTAUTH"
)

// ProcReturnCodeSuccess is the processor code for a fully authorised transaction.
const ProcReturnCodeSuccess = "00"

// Authentic reports whether the outcome carries a valid signature.
func (o Outcome) Authentic() bool {
	return o == OutcomeApproved || o == OutcomePostAuth
}

// Verify authenticates a callback or redirect payload and classifies it. A
// mismatch is reported as OutcomeFailure, never as an error.
func Verify(callback Fields, storeKey string) Outcome {
	if storeKey == "" {
		return OutcomeFailure
	}
	received := callback.Value(FieldHash)
	if received == "" {
		received = callback.Value("hash")
	}
	if received == "" {
		return OutcomeFailure
	}
	computed := digest(Canonicalize(callback, storeKey, true))
	if subtle.ConstantTimeCompare([]byte(computed), []byte(received)) != 1 {
		return OutcomeFailure
	}
	if callback.Value("ProcReturnCode") == ProcReturnCodeSuccess {
		return OutcomePostAuth
	}
	return OutcomeApproved
}
