package licensing

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/layzieshin/QMToolV6-sub000/internal/logging"
)

// Status of a license verification attempt.
type Status string

const (
	StatusValid               Status = "VALID"
	StatusMissing             Status = "MISSING"
	StatusInvalidFormat       Status = "INVALID_FORMAT"
	StatusInvalidSignature    Status = "INVALID_SIGNATURE"
	StatusExpired             Status = "EXPIRED"
	StatusFingerprintMismatch Status = "FINGERPRINT_MISMATCH"
)

// VerificationResult encodes the outcome of loading and verifying the
// license file. Failures are values, not errors: an unlicensed install is a
// normal state, the gatekeeper just admits fewer features.
type VerificationResult struct {
	Status    Status
	ErrorCode string
	Message   string
	LicenseID string
}

// Valid reports whether the license passed every check.
func (r VerificationResult) Valid() bool {
	return r.Status == StatusValid
}

// Backend loads the signed license file and verifies signature, expiry and
// fingerprint binding. Verification is deterministic in its inputs.
type Backend struct {
	licensePath   string
	publicKeyPath string
	now           func() time.Time
	log           *zap.Logger
}

// NewBackend creates a license backend over the configured file paths.
func NewBackend(licensePath, publicKeyPath string) *Backend {
	return &Backend{
		licensePath:   licensePath,
		publicKeyPath: publicKeyPath,
		now:           time.Now,
		log:           logging.Get(logging.CategoryLicensing),
	}
}

// Load reads the license file. A missing file is reported through the
// result, not an error.
func (b *Backend) Load() (*Record, VerificationResult) {
	data, err := os.ReadFile(b.licensePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, VerificationResult{
				Status:  StatusMissing,
				Message: fmt.Sprintf("no license file at %s", b.licensePath),
			}
		}
		return nil, VerificationResult{
			Status:    StatusInvalidFormat,
			ErrorCode: "LICENSE_UNREADABLE",
			Message:   err.Error(),
		}
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, VerificationResult{
			Status:    StatusInvalidFormat,
			ErrorCode: "LICENSE_MALFORMED",
			Message:   fmt.Sprintf("license file is not valid JSON: %v", err),
		}
	}
	return &record, VerificationResult{Status: StatusValid, LicenseID: record.LicenseID}
}

// Verify checks the record in fixed order, short-circuiting on the first
// failure: signature over the canonical serialization, then expiry, then
// fingerprint membership.
func (b *Backend) Verify(ctx context.Context, record *Record, fingerprintHash string) VerificationResult {
	_ = ctx

	publicKey, err := b.loadPublicKey()
	if err != nil {
		return VerificationResult{
			Status:    StatusInvalidSignature,
			ErrorCode: "PUBLIC_KEY_UNAVAILABLE",
			Message:   err.Error(),
			LicenseID: record.LicenseID,
		}
	}

	canonical, err := record.CanonicalJSON()
	if err != nil {
		return VerificationResult{
			Status:    StatusInvalidFormat,
			ErrorCode: "CANONICALIZE_FAILED",
			Message:   err.Error(),
			LicenseID: record.LicenseID,
		}
	}
	sig, err := record.SignatureBytes()
	if err != nil {
		return VerificationResult{
			Status:    StatusInvalidSignature,
			ErrorCode: "SIGNATURE_MALFORMED",
			Message:   err.Error(),
			LicenseID: record.LicenseID,
		}
	}
	if !ed25519.Verify(publicKey, canonical, sig) {
		return VerificationResult{
			Status:    StatusInvalidSignature,
			ErrorCode: "SIGNATURE_MISMATCH",
			Message:   "license signature does not verify against the configured public key",
			LicenseID: record.LicenseID,
		}
	}

	expires, err := record.ExpiresAt()
	if err != nil {
		return VerificationResult{
			Status:    StatusInvalidFormat,
			ErrorCode: "VALID_UNTIL_MALFORMED",
			Message:   err.Error(),
			LicenseID: record.LicenseID,
		}
	}
	if !expires.After(b.now()) {
		return VerificationResult{
			Status:    StatusExpired,
			ErrorCode: "LICENSE_EXPIRED",
			Message:   fmt.Sprintf("license expired at %s", record.ValidUntil),
			LicenseID: record.LicenseID,
		}
	}

	if !record.AllowsFingerprint(fingerprintHash) {
		return VerificationResult{
			Status:    StatusFingerprintMismatch,
			ErrorCode: "FINGERPRINT_NOT_ALLOWED",
			Message:   "this machine is not in the license allow list",
			LicenseID: record.LicenseID,
		}
	}

	b.log.Info("license verified",
		zap.String("license_id", record.LicenseID),
		zap.String("customer", record.Customer),
		zap.String("valid_until", record.ValidUntil))
	return VerificationResult{Status: StatusValid, LicenseID: record.LicenseID}
}

// LoadAndVerify runs the full boot-time sequence and returns the verified
// entitlements. On any non-VALID outcome the entitlements are empty.
func (b *Backend) LoadAndVerify(ctx context.Context, fingerprintHash string) (map[string]bool, VerificationResult) {
	record, result := b.Load()
	if record == nil {
		return map[string]bool{}, result
	}
	result = b.Verify(ctx, record, fingerprintHash)
	if !result.Valid() {
		b.log.Warn("license rejected",
			zap.String("status", string(result.Status)),
			zap.String("reason", result.Message))
		return map[string]bool{}, result
	}
	entitlements := make(map[string]bool, len(record.Entitlements))
	for code, granted := range record.Entitlements {
		entitlements[code] = granted
	}
	return entitlements, result
}

// loadPublicKey reads the Ed25519 public key file: base64 of the raw
// 32-byte key, surrounding whitespace ignored. An unknown or malformed key
// rejects the license rather than skipping the check.
func (b *Backend) loadPublicKey() (ed25519.PublicKey, error) {
	data, err := os.ReadFile(b.publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key %s: %w", b.publicKeyPath, err)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("public key is not valid base64: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}
