package xray

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

type rosterPG struct{ db queryable }

// NewRosterPG reads both rosters from the patients and xray_images tables.
func NewRosterPG(pool *pgxpool.Pool) Roster {
	return &rosterPG{db: pool}
}

const patientCols = `id::text, dni, first_name, last_name, is_active`

func (r *rosterPG) ListPatients(ctx context.Context) ([]PatientRecord, error) {
	rows, err := r.db.Query(ctx, `SELECT `+patientCols+` FROM patients WHERE is_active ORDER BY last_name, first_name`)
	if err != nil {
		return nil, fmt.Errorf("query patients: %w", err)
	}
	defer rows.Close()

	items := []PatientRecord{}
	for rows.Next() {
		var p PatientRecord
		var first, last *string
		if err := rows.Scan(&p.ID, &p.DNI, &first, &last, &p.IsActive); err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		p.FirstName = deref(first)
		p.LastName = deref(last)
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patients: %w", err)
	}
	return items, nil
}

const imageCols = `id::text, patient_dni, patient_name, description,
	quality, view_position, is_analyzed, has_diagnosis,
	uploaded_by_name, image_url, uploaded_at`

func (r *rosterPG) ListImages(ctx context.Context) ([]ImageRecord, error) {
	rows, err := r.db.Query(ctx, `SELECT `+imageCols+` FROM xray_images ORDER BY uploaded_at DESC NULLS LAST, id`)
	if err != nil {
		return nil, fmt.Errorf("query xray images: %w", err)
	}
	defer rows.Close()

	items := []ImageRecord{}
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate xray images: %w", err)
	}
	return items, nil
}

func scanImage(row pgx.Row) (ImageRecord, error) {
	var img ImageRecord
	var dni, name, desc, quality, view, uploadedBy, url *string
	var uploadedAt *time.Time
	err := row.Scan(&img.ID, &dni, &name, &desc,
		&quality, &view, &img.IsAnalyzed, &img.HasDiagnosis,
		&uploadedBy, &url, &uploadedAt)
	if err != nil {
		return img, fmt.Errorf("scan xray image: %w", err)
	}
	img.PatientDNI = deref(dni)
	img.PatientName = deref(name)
	img.Description = deref(desc)
	img.Quality = deref(quality)
	img.ViewPosition = deref(view)
	img.UploadedByName = deref(uploadedBy)
	img.ImageURL = deref(url)
	if uploadedAt != nil {
		img.UploadedAt = uploadedAt.UTC().Format(time.RFC3339Nano)
	}
	return img, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
