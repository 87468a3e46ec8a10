package xray

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xray/xray/internal/platform/auth"
	"github.com/xray/xray/pkg/pagination"
)

const (
	defaultMaxResponseBytes = 32 << 20

	patientsPath = "/patients/"
	xraysPath    = "/diagnosis/xrays/?ordering=-uploaded_at"
)

// RemoteConfig configures the REST roster client.
type RemoteConfig struct {
	BaseURL  string
	Timeout  time.Duration
	PageSize int
	// MaxResponseBytes caps one upstream response body. Zero means 32 MiB.
	MaxResponseBytes int64
}

type rosterRemote struct {
	baseURL  string
	pageSize int
	maxBytes int64
	client   *http.Client
}

// NewRosterRemote reads both rosters from the upstream records API.
func NewRosterRemote(cfg RemoteConfig) Roster {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return NewRosterRemoteWithClient(cfg, &http.Client{Timeout: timeout})
}

// NewRosterRemoteWithClient is NewRosterRemote with a caller-supplied client.
func NewRosterRemoteWithClient(cfg RemoteConfig, client *http.Client) Roster {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}
	return &rosterRemote{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		pageSize: cfg.PageSize,
		maxBytes: maxBytes,
		client:   client,
	}
}

type remotePatient struct {
	ID        remoteID `json:"id"`
	DNI       *string  `json:"dni"`
	FirstName *string  `json:"first_name"`
	LastName  *string  `json:"last_name"`
	IsActive  *bool    `json:"is_active"`
}

type remoteImage struct {
	ID             remoteID `json:"id"`
	PatientDNI     *string  `json:"patient_dni"`
	PatientName    *string  `json:"patient_name"`
	Description    *string  `json:"description"`
	Quality        *string  `json:"quality"`
	ViewPosition   *string  `json:"view_position"`
	IsAnalyzed     bool     `json:"is_analyzed"`
	HasDiagnosis   bool     `json:"has_diagnosis"`
	UploadedByName *string  `json:"uploaded_by_name"`
	ImageURL       *string  `json:"image_url"`
	UploadedAt     *string  `json:"uploaded_at"`
}

func (r *rosterRemote) ListPatients(ctx context.Context) ([]PatientRecord, error) {
	first, err := pagination.WithPageSize(r.baseURL+patientsPath, r.pageSize)
	if err != nil {
		return nil, err
	}
	raw, err := pagination.Collect(ctx, first, fetchPage[remotePatient](r))
	if err != nil {
		return nil, fmt.Errorf("list remote patients: %w", err)
	}

	out := make([]PatientRecord, 0, len(raw))
	for _, p := range raw {
		active := p.IsActive == nil || *p.IsActive
		if !active {
			continue
		}
		out = append(out, PatientRecord{
			ID:        string(p.ID),
			DNI:       deref(p.DNI),
			FirstName: deref(p.FirstName),
			LastName:  deref(p.LastName),
			IsActive:  active,
		})
	}
	return out, nil
}

func (r *rosterRemote) ListImages(ctx context.Context) ([]ImageRecord, error) {
	first, err := pagination.WithPageSize(r.baseURL+xraysPath, r.pageSize)
	if err != nil {
		return nil, err
	}
	raw, err := pagination.Collect(ctx, first, fetchPage[remoteImage](r))
	if err != nil {
		return nil, fmt.Errorf("list remote xray images: %w", err)
	}

	out := make([]ImageRecord, 0, len(raw))
	for _, x := range raw {
		out = append(out, ImageRecord{
			ID:             string(x.ID),
			PatientDNI:     deref(x.PatientDNI),
			PatientName:    deref(x.PatientName),
			Description:    deref(x.Description),
			Quality:        deref(x.Quality),
			ViewPosition:   deref(x.ViewPosition),
			IsAnalyzed:     x.IsAnalyzed,
			HasDiagnosis:   x.HasDiagnosis,
			UploadedByName: deref(x.UploadedByName),
			ImageURL:       deref(x.ImageURL),
			UploadedAt:     deref(x.UploadedAt),
		})
	}
	return out, nil
}

// fetchPage builds a pagination.Fetcher that forwards the caller's bearer
// token to the upstream API.
func fetchPage[T any](r *rosterRemote) pagination.Fetcher[T] {
	return func(ctx context.Context, url string) (*pagination.Page[T], error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("create request to %s: %w", url, err)
		}
		req.Header.Set("Accept", "application/json")
		if token := auth.TokenFromContext(ctx); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := r.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("GET %s: %w", url, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
		if err != nil {
			return nil, fmt.Errorf("read response from %s: %w", url, err)
		}
		if int64(len(body)) > r.maxBytes {
			return nil, fmt.Errorf("response from %s exceeds %d bytes", url, r.maxBytes)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, &UpstreamError{URL: url, StatusCode: resp.StatusCode, Body: truncate(body, 256)}
		}

		// Unpaginated endpoints answer with a bare array.
		if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
			var items []T
			if err := json.Unmarshal(trimmed, &items); err != nil {
				return nil, fmt.Errorf("decode list from %s: %w", url, err)
			}
			return &pagination.Page[T]{Count: len(items), Results: items}, nil
		}

		var page pagination.Page[T]
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decode page from %s: %w", url, err)
		}
		return &page, nil
	}
}

// UpstreamError is returned when the records API answers with a non-200 status.
type UpstreamError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s returned status %d: %s", e.URL, e.StatusCode, e.Body)
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// remoteID accepts identifiers encoded either as JSON strings or numbers.
type remoteID string

func (id *remoteID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = remoteID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = remoteID(n.String())
	return nil
}
