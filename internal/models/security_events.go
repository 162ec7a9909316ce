package models

import "time"

// Well-known event types. Any other non-empty string is accepted as a free-form type.
const (
	EventTypeLogin          = "LOGIN"
	EventTypeLoginAttempt   = "LOGIN_ATTEMPT"
	EventTypePasswordChange = "PASSWORD_CHANGE"
)

// Sentinel and default metadata values
const (
	UnknownIP      = "UNKNOWN"
	UnknownCountry = "UNKNOWN"
	UnknownCity    = "Unknown"
)

// Metadata keys
const (
	MetaCountry  = "country"
	MetaCity     = "city"
	MetaPlatform = "platform"
	MetaBrowser  = "browser"
)

// SecurityEvent is one persisted entry of the append-only event history.
// It is never updated or deleted once appended.
type SecurityEvent struct {
	ID           string            `json:"id" db:"event_id"`
	UserID       string            `json:"user_id" db:"user_id"`
	EventType    string            `json:"event_type" db:"event_type"`
	IPAddress    string            `json:"ip_address" db:"ip_address"`
	DeviceInfo   string            `json:"device_info,omitempty" db:"device_info"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
	Metadata     map[string]string `json:"metadata" db:"metadata"`
	BiometryUsed bool              `json:"biometry_used" db:"biometry_used"`
	IsSuspicious bool              `json:"is_suspicious" db:"is_suspicious"`
}

// Country returns metadata.country
func (e *SecurityEvent) Country() string {
	return e.Metadata[MetaCountry]
}

// City returns metadata.city
func (e *SecurityEvent) City() string {
	return e.Metadata[MetaCity]
}

// IsLoginAttempt reports whether the suspicion verdict came from the caller
func (e *SecurityEvent) IsLoginAttempt() bool {
	return e.EventType == EventTypeLoginAttempt
}

// DraftEvent is an incoming event before normalization. Pointer fields
// distinguish "absent" from a zero value.
type DraftEvent struct {
	UserID       string            `json:"user_id"`
	EventType    string            `json:"event_type"`
	IPAddress    *string           `json:"ip_address,omitempty"`
	DeviceInfo   *string           `json:"device_info,omitempty"`
	BiometryUsed *bool             `json:"biometry_used,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    *time.Time        `json:"created_at,omitempty"`

	// Suspicious is only honoured for LOGIN_ATTEMPT events, where it carries
	// the upstream authentication verdict (true when the attempt failed).
	Suspicious *bool `json:"-"`
}

// Clone returns a deep copy so callers can hand events out without sharing the metadata map
func (e *SecurityEvent) Clone() *SecurityEvent {
	if e == nil {
		return nil
	}
	cp := *e
	if e.Metadata != nil {
		cp.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
