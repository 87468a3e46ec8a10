package xray

import "context"

// PatientRoster supplies the current patient roster.
type PatientRoster interface {
	ListPatients(ctx context.Context) ([]PatientRecord, error)
}

// ImageRoster supplies the current image roster.
type ImageRoster interface {
	ListImages(ctx context.Context) ([]ImageRecord, error)
}

// Roster is implemented by sources that serve both collections.
type Roster interface {
	PatientRoster
	ImageRoster
}
