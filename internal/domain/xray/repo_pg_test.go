package xray

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeRows feeds canned values through pgx.Rows.
type fakeRows struct {
	data [][]interface{}
	pos  int
	err  error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Values() ([]interface{}, error) { return r.data[r.pos-1], nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...interface{}) error {
	row := r.data[r.pos-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(row))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = row[i].(string)
		case **string:
			if row[i] == nil {
				*p = nil
			} else {
				s := row[i].(string)
				*p = &s
			}
		case *bool:
			*p = row[i].(bool)
		case **time.Time:
			if row[i] == nil {
				*p = nil
			} else {
				t := row[i].(time.Time)
				*p = &t
			}
		default:
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
	}
	return nil
}

type fakeQueryable struct {
	rows    map[string]*fakeRows
	err     error
	queries []string
}

func (f *fakeQueryable) Query(_ context.Context, sql string, _ ...interface{}) (pgx.Rows, error) {
	f.queries = append(f.queries, sql)
	if f.err != nil {
		return nil, f.err
	}
	for table, rows := range f.rows {
		if strings.Contains(sql, "FROM "+table) {
			return rows, nil
		}
	}
	return &fakeRows{}, nil
}

func TestRosterPG_ListPatients(t *testing.T) {
	db := &fakeQueryable{rows: map[string]*fakeRows{
		"patients": {data: [][]interface{}{
			{"1", "A1", "Ana", "Ruiz", true},
			{"2", "B2", nil, "Gomez", true},
		}},
	}}
	r := &rosterPG{db: db}

	patients, err := r.ListPatients(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patients) != 2 {
		t.Fatalf("expected 2 patients, got %d", len(patients))
	}
	if patients[1].FirstName != "" || patients[1].LastName != "Gomez" {
		t.Errorf("expected null first name mapped to empty, got %+v", patients[1])
	}
	if !strings.Contains(db.queries[0], "WHERE is_active") {
		t.Errorf("expected active filter, got %s", db.queries[0])
	}
}

func TestRosterPG_ListImages(t *testing.T) {
	at := time.Date(2024, 2, 1, 9, 30, 0, 0, time.FixedZone("ART", -3*3600))
	db := &fakeQueryable{rows: map[string]*fakeRows{
		"xray_images": {data: [][]interface{}{
			{"10", "A1", "Ana Ruiz", "Tórax", "good", "PA", true, false, "Dr. Paz", "http://img/10", at},
			{"11", nil, nil, nil, nil, nil, false, false, nil, nil, nil},
		}},
	}}
	r := &rosterPG{db: db}

	images, err := r.ListImages(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("expected 2 images, got %d", len(images))
	}
	if images[0].UploadedAt != "2024-02-01T12:30:00Z" {
		t.Errorf("expected UTC RFC3339 timestamp, got %q", images[0].UploadedAt)
	}
	if images[0].ViewPosition != "PA" || !images[0].IsAnalyzed {
		t.Errorf("unexpected image %+v", images[0])
	}
	if images[1].PatientDNI != "" || images[1].UploadedAt != "" {
		t.Errorf("expected nulls mapped to empty strings, got %+v", images[1])
	}
}

func TestRosterPG_Errors(t *testing.T) {
	r := &rosterPG{db: &fakeQueryable{err: errors.New("connection reset")}}
	if _, err := r.ListPatients(context.Background()); err == nil {
		t.Error("expected query error")
	}

	r = &rosterPG{db: &fakeQueryable{rows: map[string]*fakeRows{
		"xray_images": {err: errors.New("broken stream")},
	}}}
	if _, err := r.ListImages(context.Background()); err == nil {
		t.Error("expected iteration error")
	}
}
