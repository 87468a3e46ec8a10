package xray

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// DefaultLanguage drives name collation and case mapping when no locale is
// configured.
var DefaultLanguage = language.Spanish

// Engine groups images into patient files and narrows image sets. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	tag language.Tag
}

// NewEngine returns an Engine that collates and case-maps for tag.
func NewEngine(tag language.Tag) *Engine {
	return &Engine{tag: tag}
}

// NewEngineForLocale parses a BCP 47 locale such as "es" or "es-AR". An empty
// or malformed locale falls back to DefaultLanguage.
func NewEngineForLocale(locale string) *Engine {
	tag, err := language.Parse(locale)
	if err != nil || locale == "" {
		tag = DefaultLanguage
	}
	return NewEngine(tag)
}

// Language returns the tag the engine was built for.
func (e *Engine) Language() language.Tag { return e.tag }

// Aggregate builds one PatientFile per roster patient and per orphan patient
// key found on the images, sorted by patient name.
func (e *Engine) Aggregate(images []ImageRecord, patients []PatientRecord) []PatientFile {
	files := make(map[string]*PatientFile, len(patients))

	for _, p := range patients {
		if p.DNI == "" {
			continue
		}
		files[p.DNI] = &PatientFile{
			PatientDNI:  p.DNI,
			PatientName: p.FullName(),
		}
	}

	// latest tracks the parsed instant behind each file's LastUpload.
	latest := make(map[string]timestampValue, len(files))

	for _, img := range images {
		dni := img.PatientDNI
		if dni == "" {
			continue
		}
		f, ok := files[dni]
		if !ok {
			name := img.PatientName
			if name == "" {
				name = PlaceholderName
			}
			f = &PatientFile{PatientDNI: dni, PatientName: name}
			files[dni] = f
		}

		f.XRayCount++
		if img.IsAnalyzed {
			f.AnalyzedCount++
		} else {
			f.PendingCount++
		}

		cand, ok := parseTimestamp(img.UploadedAt)
		if !ok {
			continue
		}
		cur, seen := latest[dni]
		next := timestampValue{raw: img.UploadedAt, at: cand, valid: true}
		if !seen || next.laterThan(cur) {
			latest[dni] = next
			f.LastUpload = img.UploadedAt
		}
	}

	out := make([]PatientFile, 0, len(files))
	for _, f := range files {
		out = append(out, *f)
	}

	col := collate.New(e.tag)
	sort.Slice(out, func(i, j int) bool {
		if c := col.CompareString(out[i].PatientName, out[j].PatientName); c != 0 {
			return c < 0
		}
		return out[i].PatientDNI < out[j].PatientDNI
	})
	return out
}

// ImagesForPatient returns the images filed under dni, newest first. Images
// with equal or unparsable timestamps keep their input order, unparsable ones
// after all dated ones.
func (e *Engine) ImagesForPatient(images []ImageRecord, dni string) []ImageRecord {
	out := make([]ImageRecord, 0)
	if dni == "" {
		return out
	}
	for _, img := range images {
		if img.PatientDNI == dni {
			out = append(out, img)
		}
	}

	keys := make([]timestampValue, len(out))
	for i, img := range out {
		t, ok := parseTimestamp(img.UploadedAt)
		keys[i] = timestampValue{raw: img.UploadedAt, at: t, valid: ok}
	}
	idx := make([]int, len(out))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ka, kb := keys[idx[a]], keys[idx[b]]
		switch {
		case ka.valid && kb.valid:
			return ka.at.After(kb.at)
		case ka.valid:
			return true
		default:
			return false
		}
	})

	sorted := make([]ImageRecord, len(out))
	for i, j := range idx {
		sorted[i] = out[j]
	}
	return sorted
}
