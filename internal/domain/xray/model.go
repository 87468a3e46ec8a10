package xray

import (
	"strings"
	"time"
)

// PlaceholderName is shown for a patient file synthesized from an image that
// carries no patient name.
const PlaceholderName = "Sin nombre"

// PatientRecord is a roster entry. DNI is the natural key.
type PatientRecord struct {
	ID        string `json:"id"`
	DNI       string `json:"dni"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	IsActive  bool   `json:"is_active"`
}

// FullName joins first and last name the way patient files display them.
func (p PatientRecord) FullName() string {
	return p.FirstName + " " + p.LastName
}

// ImageRecord is one uploaded X-ray as delivered by the image roster.
type ImageRecord struct {
	ID             string `json:"id"`
	PatientDNI     string `json:"patient_dni"`
	PatientName    string `json:"patient_name"`
	Description    string `json:"description"`
	Quality        string `json:"quality,omitempty"`
	ViewPosition   string `json:"view_position,omitempty"`
	IsAnalyzed     bool   `json:"is_analyzed"`
	HasDiagnosis   bool   `json:"has_diagnosis"`
	UploadedByName string `json:"uploaded_by_name,omitempty"`
	ImageURL       string `json:"image_url,omitempty"`
	UploadedAt     string `json:"uploaded_at"`
}

// PatientFile summarizes one patient's imaging history. It is rebuilt on
// every aggregation and never stored.
type PatientFile struct {
	PatientDNI    string `json:"patient_dni"`
	PatientName   string `json:"patient_name"`
	XRayCount     int    `json:"xray_count"`
	AnalyzedCount int    `json:"analyzed_count"`
	PendingCount  int    `json:"pending_count"`
	LastUpload    string `json:"last_upload"`
}

// Criteria narrows a working set of images. A zero Letter disables the facet.
type Criteria struct {
	Search string
	Letter rune
}

// Active reports whether any filter stage would run.
func (c Criteria) Active() bool {
	return strings.TrimSpace(c.Search) != "" || c.Letter != 0
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// parseTimestamp reads the ISO-8601 variants the rosters emit. Values without
// a zone are taken as UTC.
func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

type timestampValue struct {
	raw   string
	at    time.Time
	valid bool
}

// laterThan orders by instant, then by raw text so that two spellings of the
// same instant resolve the same way whatever order they arrive in.
func (v timestampValue) laterThan(o timestampValue) bool {
	if v.at.Equal(o.at) {
		return v.raw > o.raw
	}
	return v.at.After(o.at)
}
