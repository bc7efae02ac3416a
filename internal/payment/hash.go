package payment

import (
	"crypto/sha512"
	"encoding/base64"
	"sort"
	"strings"
)

// Field names the gateway never includes in the hash input.
const (
	FieldHash     = "HASH"
	fieldEncoding = "encoding"
)

var valueEscaper = strings.NewReplacer(`\`, `\\`, `|`, `\|`)

// htmlEntities are decoded in this order, one pass each, before verification.
var htmlEntities = [][2]string{
	{"&quot;", `"`},
	{"&#39;", "'"},
	{"&amp;", "&"},
	{"&lt;", "<"},
	{"&gt;", ">"},
}

// Hash computes the ver3 signature of fields salted with storeKey.
func Hash(fields Fields, storeKey string) string {
	return digest(Canonicalize(fields, storeKey, false))
}

// Canonicalize builds the plain text that is fed into SHA-512. When decode is true,
// values are HTML-entity decoded and lose one trailing newline, as the gateway
// echoes them back that way.
func Canonicalize(fields Fields, storeKey string, decode bool) string {
	hashed := fields.Without(FieldHash, fieldEncoding)
	// Names compare by lowercased bytes, so digits sort before '_'. ICU
	// collation would put '_' first; gateway field names never mix the two.
	sort.SliceStable(hashed, func(i, j int) bool {
		a, b := strings.ToLower(hashed[i].Name), strings.ToLower(hashed[j].Name)
		if a != b {
			return a < b
		}
		return hashed[i].Name < hashed[j].Name
	})

	var sb strings.Builder
	for _, field := range hashed {
		value := strings.TrimSpace(field.Value)
		if decode {
			value = decodeEntities(value)
			value = strings.TrimSuffix(value, "\n")
		}
		sb.WriteString(escape(value))
		sb.WriteByte('|')
	}
	sb.WriteString(escape(storeKey))
	return sb.String()
}

// escape doubles backslashes before escaping pipes; NewReplacer performs a
// single pass so an escaped pipe is never re-escaped.
func escape(value string) string {
	return valueEscaper.Replace(value)
}

func decodeEntities(value string) string {
	for _, pair := range htmlEntities {
		value = strings.ReplaceAll(value, pair[0], pair[1])
	}
	return value
}

// digest returns base64(sha512(plain)). The gateway documents it as base64 of the
// hex digest decoded back to bytes, which is the raw sum.
func digest(plain string) string {
	sum := sha512.Sum512([]byte(plain))
	return base64.StdEncoding.EncodeToString(sum[:])
}
