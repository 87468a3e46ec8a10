package middleware

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// bufferedResponseWriter holds the body back so the ETag can be computed
// before anything reaches the client.
type bufferedResponseWriter struct {
	writer     http.ResponseWriter
	buf        bytes.Buffer
	statusCode int
}

func (w *bufferedResponseWriter) Header() http.Header { return w.writer.Header() }

func (w *bufferedResponseWriter) Write(b []byte) (int, error) { return w.buf.Write(b) }

func (w *bufferedResponseWriter) WriteHeader(code int) { w.statusCode = code }

func (w *bufferedResponseWriter) flushTo() error {
	w.writer.WriteHeader(w.statusCode)
	if w.buf.Len() == 0 {
		return nil
	}
	_, err := w.writer.Write(w.buf.Bytes())
	return err
}

// ETag adds a weak ETag to successful GET responses and answers 304 when the
// client already holds the same representation. Views are recomputed from
// cached rosters, so an unchanged list hashes to the same tag.
func ETag() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method != http.MethodGet && req.Method != http.MethodHead {
				return next(c)
			}

			res := c.Response()
			orig := res.Writer
			buf := &bufferedResponseWriter{writer: orig, statusCode: http.StatusOK}
			res.Writer = buf

			err := next(c)
			res.Writer = orig
			if err != nil {
				if res.Committed {
					buf.flushTo()
				}
				return err
			}
			if buf.statusCode >= 300 {
				return buf.flushTo()
			}

			etag := computeETag(buf.buf.Bytes())
			res.Header().Set("ETag", etag)
			if inm := req.Header.Get("If-None-Match"); inm != "" && etagMatch(inm, etag) {
				res.Status = http.StatusNotModified
				orig.WriteHeader(http.StatusNotModified)
				return nil
			}
			return buf.flushTo()
		}
	}
}

func computeETag(body []byte) string {
	return fmt.Sprintf(`W/"%x"`, md5.Sum(body))
}

// etagMatch compares weakly against a comma-separated If-None-Match list.
func etagMatch(header, etag string) bool {
	header = strings.TrimSpace(header)
	if header == "*" {
		return true
	}
	for _, candidate := range strings.Split(header, ",") {
		if strings.TrimPrefix(strings.TrimSpace(candidate), "W/") == strings.TrimPrefix(etag, "W/") {
			return true
		}
	}
	return false
}
