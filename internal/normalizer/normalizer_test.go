package normalizer

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auth-security/internal/models"
)

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestMaskIP(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1.2.3.4", "1.2**.***.4"},
		{"192.168.10.254", "192.1**.***.254"},
		{"10..0.1", "10.***.***.1"},
		{"2001:db8::1", "2001:db8::1"},
		{"UNKNOWN", "UNKNOWN"},
		{"1.2.3", "1.2.3"},
		{"1.2.3.4.5", "1.2.3.4.5"},
		{"1.2.3.", "1.2.3."},
		{"1.2.3..", "1.2.3.."},
		{"1.2.3.4.", "1.2**.***.4"},
		{"...", "..."},
		{"host.example.com", "host.example.com"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskIP(tt.in), tt.in)
	}
}

func TestMaskIP_AllDottedQuads(t *testing.T) {
	for a := 0; a < 256; a += 51 {
		for b := 0; b < 256; b += 17 {
			for d := 0; d < 256; d += 85 {
				ip := fmt.Sprintf("%d.%d.7.%d", a, b, d)
				want := fmt.Sprintf("%d.%c**.***.%d", a, fmt.Sprint(b)[0], d)
				assert.Equal(t, want, MaskIP(ip))
			}
		}
	}
}

func TestMaskIP_Idempotent(t *testing.T) {
	once := MaskIP("83.149.7.12")
	assert.Equal(t, once, MaskIP(once))
}

func TestNormalizeIP_Sentinels(t *testing.T) {
	for _, in := range []*string{nil, strPtr(""), strPtr("   "), strPtr("null"), strPtr("NULL"),
		strPtr("127.0.0.1"), strPtr("::1"), strPtr("0:0:0:0:0:0:0:1"), strPtr("unknown")} {
		assert.Equal(t, models.UnknownIP, NormalizeIP(in))
	}
	assert.Equal(t, "8.8**.***.8", NormalizeIP(strPtr(" 8.8.8.8 ")))
}

func TestNormalize_Defaults(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := NewWithClock(func() time.Time { return fixed })

	event := n.Normalize(models.DraftEvent{UserID: "u1", EventType: models.EventTypeLogin})

	assert.Equal(t, models.UnknownIP, event.IPAddress)
	assert.Equal(t, models.UnknownCountry, event.Metadata[models.MetaCountry])
	assert.Equal(t, models.UnknownCity, event.Metadata[models.MetaCity])
	assert.False(t, event.BiometryUsed)
	assert.Empty(t, event.DeviceInfo)
	assert.Equal(t, fixed, event.CreatedAt)
	assert.False(t, event.IsSuspicious)
}

func TestNormalize_KeepsSuppliedValues(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	draft := models.DraftEvent{
		UserID:       "u1",
		EventType:    models.EventTypeLogin,
		IPAddress:    strPtr("5.6.7.8"),
		DeviceInfo:   strPtr("Mozilla/5.0"),
		BiometryUsed: boolPtr(true),
		Metadata:     map[string]string{"country": "DEU", "platform": "Linux"},
		CreatedAt:    &created,
	}

	event := New().Normalize(draft)

	assert.Equal(t, "5.6**.***.8", event.IPAddress)
	assert.Equal(t, "Mozilla/5.0", event.DeviceInfo)
	assert.True(t, event.BiometryUsed)
	assert.Equal(t, "DEU", event.Metadata[models.MetaCountry])
	assert.Equal(t, models.UnknownCity, event.Metadata[models.MetaCity])
	assert.Equal(t, "Linux", event.Metadata[models.MetaPlatform])
	assert.Equal(t, created, event.CreatedAt)

	// the draft's map is not shared with the event
	event.Metadata["city"] = "Berlin"
	_, touched := draft.Metadata["city"]
	assert.False(t, touched)
}

func TestNormalize_VerdictOnlyForLoginAttempts(t *testing.T) {
	n := New()

	attempt := n.Normalize(models.DraftEvent{UserID: "u1", EventType: models.EventTypeLoginAttempt, Suspicious: boolPtr(true)})
	require.True(t, attempt.IsSuspicious)

	other := n.Normalize(models.DraftEvent{UserID: "u1", EventType: models.EventTypeLogin, Suspicious: boolPtr(true)})
	assert.False(t, other.IsSuspicious)
}
