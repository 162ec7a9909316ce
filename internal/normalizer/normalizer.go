// Package normalizer sanitizes incoming security events before they are
// classified and appended to the event history.
package normalizer

import (
	"net"
	"strings"
	"time"

	"auth-security/internal/models"
)

// MaskIP hides the middle of a dotted-quad address: a.b.c.d becomes
// a.<first char of b>**.***.d. Anything that is not four dot-separated
// parts (IPv6, hostnames, the UNKNOWN sentinel) is returned unchanged.
// Trailing empty parts are not counted, so "1.2.3." passes through while
// "1.2.3.4." is masked like "1.2.3.4".
func MaskIP(ip string) string {
	parts := strings.Split(ip, ".")
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	if len(parts) != 4 {
		return ip
	}
	second := "*"
	if parts[1] != "" {
		second = parts[1][:1]
	}
	return parts[0] + "." + second + "**.***." + parts[3]
}

// NormalizeIP applies the sentinel rule and then masks the address.
func NormalizeIP(ip *string) string {
	if ip == nil {
		return models.UnknownIP
	}
	raw := strings.TrimSpace(*ip)
	if isSentinel(raw) {
		return models.UnknownIP
	}
	return MaskIP(raw)
}

func isSentinel(ip string) bool {
	if ip == "" || strings.EqualFold(ip, "null") || strings.EqualFold(ip, models.UnknownIP) {
		return true
	}
	if parsed := net.ParseIP(ip); parsed != nil && parsed.IsLoopback() {
		return true
	}
	return false
}

// Normalizer turns drafts into events ready for classification
type Normalizer struct {
	now func() time.Time
}

// New returns a Normalizer stamping events with the wall clock
func New() *Normalizer {
	return &Normalizer{now: time.Now}
}

// NewWithClock is used by tests that need a fixed ingestion time
func NewWithClock(now func() time.Time) *Normalizer {
	return &Normalizer{now: now}
}

// Normalize copies a draft into a SecurityEvent with every invariant applied:
// masked or sentinel IP, country/city always present, biometry defaulted to false
// and CreatedAt defaulted to the ingestion time. The draft is not modified.
func (n *Normalizer) Normalize(draft models.DraftEvent) *models.SecurityEvent {
	event := &models.SecurityEvent{
		UserID:    draft.UserID,
		EventType: draft.EventType,
		IPAddress: NormalizeIP(draft.IPAddress),
		Metadata:  normalizeMetadata(draft.Metadata),
	}

	if draft.DeviceInfo != nil {
		event.DeviceInfo = *draft.DeviceInfo
	}
	if draft.BiometryUsed != nil {
		event.BiometryUsed = *draft.BiometryUsed
	}
	if draft.CreatedAt != nil && !draft.CreatedAt.IsZero() {
		event.CreatedAt = draft.CreatedAt.UTC()
	} else {
		event.CreatedAt = n.now().UTC()
	}
	if draft.EventType == models.EventTypeLoginAttempt && draft.Suspicious != nil {
		event.IsSuspicious = *draft.Suspicious
	}

	return event
}

func normalizeMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	if _, ok := out[models.MetaCountry]; !ok {
		out[models.MetaCountry] = models.UnknownCountry
	}
	if _, ok := out[models.MetaCity]; !ok {
		out[models.MetaCity] = models.UnknownCity
	}
	return out
}
