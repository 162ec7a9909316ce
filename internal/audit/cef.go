// Package audit turns suspicious events into CEF lines and ships them to
// append-only sinks without blocking the caller.
package audit

import (
	"strconv"
	"strings"

	"auth-security/internal/config"
	"auth-security/internal/models"
)

// Header holds the static CEF header fields
type Header struct {
	Vendor      string
	Product     string
	Version     string
	SignatureID string
	Severity    int
}

func DefaultHeader() Header {
	return Header{
		Vendor:      "YourCompany",
		Product:     "modul26",
		Version:     "1.0",
		SignatureID: "1001",
		Severity:    8,
	}
}

func HeaderFromConfig(cfg config.AuditConfig) Header {
	return Header{
		Vendor:      cfg.Vendor,
		Product:     cfg.Product,
		Version:     cfg.Version,
		SignatureID: cfg.SignatureID,
		Severity:    cfg.Severity,
	}
}

var (
	headerEscaper    = strings.NewReplacer(`\`, `\\`, `|`, `\|`, "\n", " ", "\r", " ")
	extensionEscaper = strings.NewReplacer(`\`, `\\`, `=`, `\=`, "\n", `\n`, "\r", `\r`)
)

// Format renders one event as a CEF line. Extension keys are always written
// in the same order; device_info is omitted when the event has none.
func Format(h Header, e *models.SecurityEvent) string {
	var b strings.Builder
	b.WriteString("CEF:0|")
	for _, field := range []string{h.Vendor, h.Product, h.Version, h.SignatureID, e.EventType} {
		b.WriteString(headerEscaper.Replace(field))
		b.WriteByte('|')
	}
	b.WriteString(strconv.Itoa(h.Severity))
	b.WriteByte('|')

	ext := [][2]string{
		{"userId", e.UserID},
		{"eventType", e.EventType},
		{"ip", e.IPAddress},
	}
	if e.DeviceInfo != "" {
		ext = append(ext, [2]string{"device_info", e.DeviceInfo})
	}
	ext = append(ext,
		[2]string{"biometry", strconv.FormatBool(e.BiometryUsed)},
		[2]string{"isSuspicious", strconv.FormatBool(e.IsSuspicious)},
		[2]string{"country", e.Country()},
		[2]string{"city", e.City()},
	)

	for i, kv := range ext {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(kv[0])
		b.WriteByte('=')
		b.WriteString(extensionEscaper.Replace(kv[1]))
	}
	return b.String()
}
