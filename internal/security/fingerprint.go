package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
)

// FingerprintProvider yields the stable per-device identifier that signed
// license and trial records are bound to.
type FingerprintProvider interface {
	Fingerprint() (string, error)
}

// DeviceFingerprint derives a stable identifier from hardware and platform
// signals: primary MAC address, hostname, CPU identity, OS and
// architecture. Individual factors fall back to fixed markers when
// unavailable so the fingerprint stays deterministic on the same machine.
type DeviceFingerprint struct {
	mu     sync.RWMutex
	cached string
}

// NewDeviceFingerprint creates a fingerprint provider. The computed value
// is cached for the process lifetime; the underlying signals do not change
// while the daemon runs.
func NewDeviceFingerprint() *DeviceFingerprint {
	return &DeviceFingerprint{}
}

// Fingerprint returns the hex SHA-256 device fingerprint.
func (d *DeviceFingerprint) Fingerprint() (string, error) {
	d.mu.RLock()
	if d.cached != "" {
		v := d.cached
		d.mu.RUnlock()
		return v, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cached != "" {
		return d.cached, nil
	}

	mac, err := primaryMACAddress()
	if err != nil {
		mac = "unknown-mac"
		slog.Warn("failed to resolve MAC address, using fallback", slog.String("error", err.Error()))
	}
	hostname, err := normalizedHostname()
	if err != nil {
		hostname = "unknown-host"
		slog.Warn("failed to resolve hostname, using fallback", slog.String("error", err.Error()))
	}

	factors := strings.Join([]string{mac, hostname, cpuIdentity(), runtime.GOOS, runtime.GOARCH}, "|")
	sum := sha256.Sum256([]byte(factors))
	d.cached = hex.EncodeToString(sum[:])

	slog.Debug("device fingerprint generated",
		slog.String("hostname", hostname),
		slog.String("os", runtime.GOOS),
		slog.String("arch", runtime.GOARCH),
	)
	return d.cached, nil
}

// primaryMACAddress returns the MAC of the first up, non-loopback interface
// carrying a hardware address, falling back to any interface with one.
func primaryMACAddress() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to list network interfaces: %w", err)
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac, nil
		}
	}
	for _, iface := range interfaces {
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac, nil
		}
	}
	return "", fmt.Errorf("no interface with a usable MAC address")
}

func normalizedHostname() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}
	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if hostname == "" {
		return "", fmt.Errorf("hostname is empty")
	}
	return hostname, nil
}

// cpuIdentity returns a short hash of whatever CPU identification the
// platform exposes. Best effort; the remaining factors carry the
// fingerprint when nothing better is available.
func cpuIdentity() string {
	switch runtime.GOOS {
	case "windows":
		if procID := os.Getenv("PROCESSOR_IDENTIFIER"); procID != "" {
			return shortHash(procID)
		}
	case "linux":
		if data, err := os.ReadFile("/proc/cpuinfo"); err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				if strings.HasPrefix(line, "model name") || strings.HasPrefix(line, "cpu family") {
					return shortHash(line)
				}
			}
		}
	}
	return shortHash(fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH))
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

// StaticFingerprint is a FingerprintProvider returning a fixed value, used
// by tests and by tooling that needs to impersonate a known device.
type StaticFingerprint string

// Fingerprint implements FingerprintProvider.
func (s StaticFingerprint) Fingerprint() (string, error) {
	if s == "" {
		return "", fmt.Errorf("static fingerprint is empty")
	}
	return string(s), nil
}
