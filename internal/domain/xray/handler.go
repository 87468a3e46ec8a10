package xray

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/xray/xray/internal/platform/permission"
	"github.com/xray/xray/internal/platform/report"
)

type Handler struct {
	svc     *Service
	checker permission.Checker
	logger  zerolog.Logger
}

func NewHandler(svc *Service, checker permission.Checker, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, checker: checker, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	view := permission.Require(h.checker, permission.ViewXRay, h.logger)
	change := permission.Require(h.checker, permission.ChangeXRay, h.logger)

	read := api.Group("", view)
	read.GET("/patient-files", h.ListPatientFiles)
	read.GET("/patient-files/export.pdf", h.ExportPatientFiles)
	read.GET("/patient-files/:dni/xrays", h.ListPatientXRays)
	read.GET("/xrays", h.ListXRays)
	read.GET("/xrays/letters", h.ListLetters)

	api.GET("/xrays/permissions", h.GetPermissions)
	api.POST("/xrays/refresh", h.Refresh, change)
}

// listQuery is the filter input shared by the list endpoints.
type listQuery struct {
	Search string `query:"search" validate:"max=200"`
	Letter string `query:"letter" validate:"omitempty,len=1"`
}

// criteria upper-cases the letter, since the facet is keyed by the
// upper-cased initial of each name.
func (q listQuery) criteria() Criteria {
	c := Criteria{Search: q.Search}
	if q.Letter != "" {
		r, _ := utf8.DecodeRuneInString(q.Letter)
		c.Letter = unicode.ToUpper(r)
	}
	return c
}

func (h *Handler) bindQuery(c echo.Context) (Criteria, error) {
	var q listQuery
	if err := c.Bind(&q); err != nil {
		return Criteria{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&q); err != nil {
		return Criteria{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return q.criteria(), nil
}

type listResponse struct {
	Data  interface{} `json:"data"`
	Total int         `json:"total"`
}

func (h *Handler) ListPatientFiles(c echo.Context) error {
	crit, err := h.bindQuery(c)
	if err != nil {
		return err
	}
	files, err := h.svc.PatientFiles(c.Request().Context(), crit)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(http.StatusOK, listResponse{Data: files, Total: len(files)})
}

func (h *Handler) ExportPatientFiles(c echo.Context) error {
	crit, err := h.bindQuery(c)
	if err != nil {
		return err
	}
	files, err := h.svc.PatientFiles(c.Request().Context(), crit)
	if err != nil {
		return h.serviceError(c, err)
	}

	var buf bytes.Buffer
	if err := report.WritePatientFiles(&buf, ReportRows(files), report.Options{
		Filter:      DescribeCriteria(crit),
		GeneratedAt: time.Now(),
	}); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `inline; filename="expedientes.pdf"`)
	return c.Blob(http.StatusOK, "application/pdf", buf.Bytes())
}

func (h *Handler) ListPatientXRays(c echo.Context) error {
	dni := c.Param("dni")
	images, err := h.svc.PatientXRays(c.Request().Context(), dni)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"patient_dni": dni,
		"data":        images,
		"total":       len(images),
	})
}

func (h *Handler) ListXRays(c echo.Context) error {
	crit, err := h.bindQuery(c)
	if err != nil {
		return err
	}
	images, err := h.svc.XRays(c.Request().Context(), crit)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(http.StatusOK, listResponse{Data: images, Total: len(images)})
}

func (h *Handler) ListLetters(c echo.Context) error {
	crit, err := h.bindQuery(c)
	if err != nil {
		return err
	}
	letters, err := h.svc.Letters(c.Request().Context(), crit.Search)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string][]string{"letters": LetterStrings(letters)})
}

// GetPermissions reports which X-ray actions the caller may take so the UI
// can hide the rest. Failed checks read as not granted.
func (h *Handler) GetPermissions(c echo.Context) error {
	got, err := permission.Resolve(c.Request().Context(), h.checker,
		permission.ViewXRay, permission.AddXRay, permission.ChangeXRay, permission.DeleteXRay)
	if err != nil {
		if errors.Is(err, permission.ErrUnauthenticated) {
			return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
		}
		h.logger.Warn().Err(err).Msg("resolving xray permissions")
	}
	return c.JSON(http.StatusOK, map[string]bool{
		"can_view":   got[permission.ViewXRay],
		"can_add":    got[permission.AddXRay],
		"can_change": got[permission.ChangeXRay],
		"can_delete": got[permission.DeleteXRay],
	})
}

// Refresh drops cached rosters, and cached permission decisions when the
// checker keeps any, so the next read sees upstream changes.
func (h *Handler) Refresh(c echo.Context) error {
	h.svc.Invalidate()
	if f, ok := h.checker.(interface{ Forget() }); ok {
		f.Forget()
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) serviceError(c echo.Context, err error) error {
	rid, _ := c.Get("request_id").(string)
	h.logger.Error().Err(err).Str("request_id", rid).Msg("loading rosters")

	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		if upstream.StatusCode == http.StatusUnauthorized || upstream.StatusCode == http.StatusForbidden {
			return echo.NewHTTPError(upstream.StatusCode, "records service refused the request")
		}
		return echo.NewHTTPError(http.StatusBadGateway, "records service unavailable")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "failed to load records")
}

// ReportRows converts patient files into report rows.
func ReportRows(files []PatientFile) []report.FileRow {
	rows := make([]report.FileRow, len(files))
	for i, f := range files {
		rows[i] = report.FileRow{
			PatientDNI:    f.PatientDNI,
			PatientName:   f.PatientName,
			XRayCount:     f.XRayCount,
			AnalyzedCount: f.AnalyzedCount,
			PendingCount:  f.PendingCount,
			LastUpload:    f.LastUpload,
		}
	}
	return rows
}

// DescribeCriteria renders c for report headers.
func DescribeCriteria(c Criteria) string {
	var parts []string
	if s := strings.TrimSpace(c.Search); s != "" {
		parts = append(parts, `búsqueda "`+s+`"`)
	}
	if c.Letter != 0 {
		parts = append(parts, "letra "+string(c.Letter))
	}
	return strings.Join(parts, ", ")
}
