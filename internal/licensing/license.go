package licensing

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// signaturePrefix marks the base64 payload inside the signature field.
const signaturePrefix = "b64:"

// Record is the signed license document. The signature covers the canonical
// serialization of every field except the signature itself.
type Record struct {
	Schema              string          `json:"schema"`
	LicenseID           string          `json:"license_id"`
	Customer            string          `json:"customer"`
	IssuedAt            string          `json:"issued_at"`
	ValidUntil          string          `json:"valid_until"`
	AllowedFingerprints []string        `json:"allowed_fingerprints"`
	Entitlements        map[string]bool `json:"entitlements"`
	Signature           string          `json:"signature"`
}

// CanonicalJSON serializes the record for signing: keys lexicographically
// sorted, no insignificant whitespace, signature excluded, UTF-8. Go's JSON
// encoder sorts map keys, so routing the fields through a map gives the
// canonical form directly.
func (r *Record) CanonicalJSON() ([]byte, error) {
	fingerprints := r.AllowedFingerprints
	if fingerprints == nil {
		fingerprints = []string{}
	}
	entitlements := r.Entitlements
	if entitlements == nil {
		entitlements = map[string]bool{}
	}
	payload := map[string]any{
		"schema":               r.Schema,
		"license_id":           r.LicenseID,
		"customer":             r.Customer,
		"issued_at":            r.IssuedAt,
		"valid_until":          r.ValidUntil,
		"allowed_fingerprints": fingerprints,
		"entitlements":         entitlements,
	}
	return json.Marshal(payload)
}

// SignatureBytes decodes the "b64:<base64>" signature payload.
func (r *Record) SignatureBytes() ([]byte, error) {
	if !strings.HasPrefix(r.Signature, signaturePrefix) {
		return nil, fmt.Errorf("signature must carry the %q prefix", signaturePrefix)
	}
	sig, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(r.Signature, signaturePrefix))
	if err != nil {
		return nil, fmt.Errorf("signature is not valid base64: %w", err)
	}
	return sig, nil
}

// EncodeSignature wraps raw signature bytes in the stored wire form.
func EncodeSignature(sig []byte) string {
	return signaturePrefix + base64.StdEncoding.EncodeToString(sig)
}

// ExpiresAt parses the valid_until timestamp.
func (r *Record) ExpiresAt() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, r.ValidUntil)
	if err != nil {
		return time.Time{}, fmt.Errorf("valid_until %q is not RFC 3339: %w", r.ValidUntil, err)
	}
	return t, nil
}

// AllowsFingerprint reports whether hash is in the allow list.
func (r *Record) AllowsFingerprint(hash string) bool {
	for _, fp := range r.AllowedFingerprints {
		if fp == hash {
			return true
		}
	}
	return false
}
