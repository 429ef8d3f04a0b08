// Package licensing implements the boot-time license gate: machine
// fingerprinting, signed-license loading and verification, and per-feature
// admission decisions based on verified entitlements.
package licensing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/layzieshin/QMToolV6-sub000/internal/logging"
)

// subprocessTimeout caps each hardware probe. On timeout the component
// becomes "-" and the fingerprint is still produced.
const subprocessTimeout = 5 * time.Second

// Fingerprint is the canonical machine identity and its hash.
type Fingerprint struct {
	Canonical string
	Hash      string
}

// commandRunner abstracts subprocess execution so tests can stub probes.
type commandRunner func(ctx context.Context, name string, args ...string) (string, error)

// FingerprintProvider collects hardware identifiers and derives the
// canonical fingerprint string "MG=...|UUID=...|MB=..." with unknown
// components replaced by "-".
type FingerprintProvider struct {
	run commandRunner
	log *zap.Logger
}

// NewFingerprintProvider creates a provider using real subprocess probes.
func NewFingerprintProvider() *FingerprintProvider {
	return &FingerprintProvider{
		run: runCommand,
		log: logging.Get(logging.CategoryLicensing),
	}
}

// Collect gathers the machine guid, BIOS UUID and baseboard serial and
// returns the canonical fingerprint. Probe failures degrade to "-"; the
// hash is always computable.
func (p *FingerprintProvider) Collect(ctx context.Context) Fingerprint {
	machineGUID := orDash(p.machineGUID(ctx))
	biosUUID := orDash(p.biosUUID(ctx))
	baseboard := orDash(p.baseboardSerial(ctx))

	canonical := fmt.Sprintf("MG=%s|UUID=%s|MB=%s", machineGUID, biosUUID, baseboard)
	sum := sha256.Sum256([]byte(canonical))
	fp := Fingerprint{
		Canonical: canonical,
		Hash:      "hex:" + hex.EncodeToString(sum[:]),
	}
	p.log.Debug("machine fingerprint collected", zap.String("hash", fp.Hash))
	return fp
}

func (p *FingerprintProvider) machineGUID(ctx context.Context) string {
	switch runtime.GOOS {
	case "windows":
		out, err := p.run(ctx, "reg", "query",
			`HKLM\SOFTWARE\Microsoft\Cryptography`, "/v", "MachineGuid")
		if err != nil {
			return ""
		}
		fields := strings.Fields(out)
		if len(fields) == 0 {
			return ""
		}
		return fields[len(fields)-1]
	default:
		for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
			if data, err := os.ReadFile(path); err == nil {
				return strings.TrimSpace(string(data))
			}
		}
		return ""
	}
}

func (p *FingerprintProvider) biosUUID(ctx context.Context) string {
	switch runtime.GOOS {
	case "windows":
		return lastNonHeaderLine(p.run(ctx, "wmic", "csproduct", "get", "uuid"))
	case "darwin":
		out, err := p.run(ctx, "ioreg", "-rd1", "-c", "IOPlatformExpertDevice")
		if err != nil {
			return ""
		}
		for _, line := range strings.Split(out, "\n") {
			if strings.Contains(line, "IOPlatformUUID") {
				parts := strings.Split(line, "\"")
				if len(parts) >= 4 {
					return parts[3]
				}
			}
		}
		return ""
	default:
		if data, err := os.ReadFile("/sys/class/dmi/id/product_uuid"); err == nil {
			return strings.TrimSpace(string(data))
		}
		out, err := p.run(ctx, "dmidecode", "-s", "system-uuid")
		if err != nil {
			return ""
		}
		return strings.TrimSpace(out)
	}
}

func (p *FingerprintProvider) baseboardSerial(ctx context.Context) string {
	switch runtime.GOOS {
	case "windows":
		return lastNonHeaderLine(p.run(ctx, "wmic", "baseboard", "get", "serialnumber"))
	default:
		if data, err := os.ReadFile("/sys/class/dmi/id/board_serial"); err == nil {
			return strings.TrimSpace(string(data))
		}
		out, err := p.run(ctx, "dmidecode", "-s", "baseboard-serial-number")
		if err != nil {
			return ""
		}
		return strings.TrimSpace(out)
	}
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, subprocessTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func lastNonHeaderLine(out string, err error) string {
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
