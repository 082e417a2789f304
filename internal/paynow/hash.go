package paynow

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// Hash concatenates every value except "hash" in order, appends the
// integration key and returns the upper-case hex SHA-512.
func Hash(fields Fields, integrationKey string) string {
	var b strings.Builder
	for _, kv := range fields {
		if strings.EqualFold(kv.Key, "hash") {
			continue
		}
		b.WriteString(kv.Value)
	}
	b.WriteString(integrationKey)
	sum := sha512.Sum512([]byte(b.String()))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// VerifyHash reports whether fields carry a hash matching integrationKey.
func VerifyHash(fields Fields, integrationKey string) bool {
	got := strings.ToUpper(fields.Get("hash"))
	if got == "" {
		return false
	}
	want := Hash(fields, integrationKey)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// Sign appends the hash field.
func Sign(fields Fields, integrationKey string) Fields {
	return fields.Add("hash", Hash(fields, integrationKey))
}
