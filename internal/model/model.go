// Package model defines domain entities used by services, cache and storage.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// DateLayout is the canonical calendar-date format used as the entry key.
const DateLayout = "2006-01-02"

// NotifyTimeLayout is the wall-clock format stored in users.notification_time.
const NotifyTimeLayout = "15:04"

// FieldsVersion is the current EntryFields serialization version.
const FieldsVersion = 1

// User represents a diary owner. NotificationTime is nil when
// notifications are disabled; a nil write always overwrites a prior value.
type User struct {
	ID               int64
	DisplayName      *string
	NotificationTime *string // "HH:MM", nil = disabled
}

// EntryFields is the fixed, versioned plaintext payload of a diary entry.
// Ratings are 1..10; Comment is free text. The struct exists only in
// memory or transiently during encrypt/decrypt.
type EntryFields struct {
	Version      int     `json:"version"`
	Mood         int     `json:"mood"`
	Sleep        int     `json:"sleep"`
	Comment      *string `json:"comment,omitempty"`
	Balance      int     `json:"balance"`
	Mania        int     `json:"mania"`
	Depression   int     `json:"depression"`
	Anxiety      int     `json:"anxiety"`
	Irritability int     `json:"irritability"`
	Productivity int     `json:"productivity"`
	Sociability  int     `json:"sociability"`
}

// Entry is a decrypted diary record. (Owner, Date) is unique.
type Entry struct {
	Owner     int64
	Date      string // DateLayout
	Fields    EntryFields
	CreatedAt time.Time
}

// EntryList is the result of a multi-row read. Skipped counts rows that
// failed to decrypt and were dropped from Entries.
type EntryList struct {
	Entries []Entry
	Skipped int
}

// DateRange bounds a scan; empty strings mean unbounded on that side.
type DateRange struct {
	From string
	To   string
}

// Contains reports whether date falls inside the range.
func (r DateRange) Contains(date string) bool {
	if r.From != "" && date < r.From {
		return false
	}
	if r.To != "" && date > r.To {
		return false
	}
	return true
}

// IsZero reports whether the range is unbounded on both sides.
func (r DateRange) IsZero() bool { return r.From == "" && r.To == "" }

// SharedPackage is the plaintext form of a cross-user export payload.
// PackageID lets recipients deduplicate repeated imports.
type SharedPackage struct {
	FormatVersion int       `json:"format_version"`
	PackageID     uuid.UUID `json:"package_id"`
	Entries       []Entry   `json:"entries"`
}
