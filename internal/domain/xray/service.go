package xray

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/xray/xray/internal/platform/auth"
	"github.com/xray/xray/internal/platform/cache"
)

// Snapshot is one consistent read of both rosters. Version changes whenever
// the content does, so derived views can be memoized against it.
type Snapshot struct {
	Version  string
	LoadedAt time.Time
	Patients []PatientRecord
	Images   []ImageRecord
}

// ServiceConfig tunes the memoization around the engine.
type ServiceConfig struct {
	// SnapshotTTL is how long a roster read is reused before refetching.
	// Zero disables reuse.
	SnapshotTTL time.Duration
	// ViewTTL bounds how long derived views stay cached for a version.
	ViewTTL time.Duration
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		SnapshotTTL: 30 * time.Second,
		ViewTTL:     10 * time.Minute,
	}
}

// Service loads rosters through the providers and serves memoized views
// computed by the Engine.
type Service struct {
	engine   *Engine
	patients PatientRoster
	images   ImageRoster
	cfg      ServiceConfig
	logger   zerolog.Logger

	snapshots *cache.Store[*Snapshot]
	files     *cache.Store[[]PatientFile]
	filtered  *cache.Store[[]ImageRecord]
	letters   *cache.Store[[]rune]
}

func NewService(engine *Engine, patients PatientRoster, images ImageRoster, cfg ServiceConfig, logger zerolog.Logger) *Service {
	return &Service{
		engine:    engine,
		patients:  patients,
		images:    images,
		cfg:       cfg,
		logger:    logger,
		snapshots: cache.New[*Snapshot](),
		files:     cache.New[[]PatientFile](),
		filtered:  cache.New[[]ImageRecord](),
		letters:   cache.New[[]rune](),
	}
}

// Engine returns the engine the service computes with.
func (s *Service) Engine() *Engine { return s.engine }

// StartCleanup sweeps expired memo entries every interval until ctx ends.
func (s *Service) StartCleanup(ctx context.Context, interval time.Duration) {
	s.snapshots.StartCleanup(ctx, interval)
	s.files.StartCleanup(ctx, interval)
	s.filtered.StartCleanup(ctx, interval)
	s.letters.StartCleanup(ctx, interval)
}

// Snapshot returns the cached roster read for the calling user, loading both
// rosters concurrently when it is missing or stale. Rosters are keyed per
// caller because a remote provider answers with the caller's credentials.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	key := snapshotKey(ctx)
	if snap, ok := s.snapshots.Get(key); ok {
		return snap, nil
	}

	var patients []PatientRecord
	var images []ImageRecord
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		patients, err = s.patients.ListPatients(gctx)
		if err != nil {
			return fmt.Errorf("load patient roster: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		images, err = s.images.ListImages(gctx)
		if err != nil {
			return fmt.Errorf("load image roster: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Version:  rosterVersion(patients, images),
		LoadedAt: time.Now().UTC(),
		Patients: patients,
		Images:   images,
	}
	if s.cfg.SnapshotTTL > 0 {
		s.snapshots.Set(key, snap, s.cfg.SnapshotTTL)
	}

	s.logger.Debug().
		Str("version", snap.Version).
		Int("patients", len(patients)).
		Int("images", len(images)).
		Msg("roster snapshot loaded")
	return snap, nil
}

// Invalidate drops every cached roster read so the next call refetches.
// Views memoized by version stay valid.
func (s *Service) Invalidate() {
	s.snapshots.Clear()
}

// PatientFiles aggregates the current rosters and narrows the result with c.
func (s *Service) PatientFiles(ctx context.Context, c Criteria) ([]PatientFile, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	all := s.files.GetOrCompute(snap.Version, s.cfg.ViewTTL, func() []PatientFile {
		return s.engine.Aggregate(snap.Images, snap.Patients)
	})
	if !c.Active() {
		return all, nil
	}
	return s.files.GetOrCompute(viewKey(snap.Version, c), s.cfg.ViewTTL, func() []PatientFile {
		return s.engine.FilterFiles(all, c)
	}), nil
}

// PatientXRays lists one patient's images, newest first.
func (s *Service) PatientXRays(ctx context.Context, dni string) ([]ImageRecord, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.engine.ImagesForPatient(snap.Images, dni), nil
}

// XRays returns the image roster narrowed by c.
func (s *Service) XRays(ctx context.Context, c Criteria) ([]ImageRecord, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.filterImages(snap, c), nil
}

// Letters lists the facet letters present in the image roster, after the
// text query when one is given, so every letter offered has matches.
func (s *Service) Letters(ctx context.Context, search string) ([]rune, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	c := Criteria{Search: search}
	return s.letters.GetOrCompute(viewKey(snap.Version, c), s.cfg.ViewTTL, func() []rune {
		return s.engine.AvailableLetters(s.filterImages(snap, c))
	}), nil
}

func (s *Service) filterImages(snap *Snapshot, c Criteria) []ImageRecord {
	if !c.Active() {
		return snap.Images
	}
	return s.filtered.GetOrCompute(viewKey(snap.Version, c), s.cfg.ViewTTL, func() []ImageRecord {
		return s.engine.Filter(snap.Images, c)
	})
}

// snapshotKey identifies the caller by user ID and a digest of the bearer
// token. Tokens without a subject, and dev mode where every request shares
// one user, still get separate snapshots per credential.
func snapshotKey(ctx context.Context) string {
	sum := sha256.Sum256([]byte(auth.TokenFromContext(ctx)))
	return "user:" + auth.UserIDFromContext(ctx) + "\x00" + hex.EncodeToString(sum[:])
}

func viewKey(version string, c Criteria) string {
	return version + "\x00" + c.Search + "\x00" + strconv.QuoteRune(c.Letter)
}

// rosterVersion fingerprints the rosters with FNV-64a.
func rosterVersion(patients []PatientRecord, images []ImageRecord) string {
	h := fnv.New64a()
	write := func(fields ...string) {
		for _, f := range fields {
			h.Write([]byte(f))
			h.Write([]byte{0})
		}
		h.Write([]byte{0x1e})
	}
	for _, p := range patients {
		write("p", p.ID, p.DNI, p.FirstName, p.LastName, strconv.FormatBool(p.IsActive))
	}
	for _, img := range images {
		write("i", img.ID, img.PatientDNI, img.PatientName, img.Description,
			img.Quality, img.ViewPosition, strconv.FormatBool(img.IsAnalyzed),
			strconv.FormatBool(img.HasDiagnosis), img.UploadedByName, img.ImageURL, img.UploadedAt)
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
