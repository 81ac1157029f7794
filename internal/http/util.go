package httpx

import (
	"net/http"
	"strconv"
)

// parseIntQuery returns the integer value of a query param or a default.
// It is tolerant of missing/invalid values.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// pageBounds returns the [lo, hi) window of an n-element list selected by
// the optional limit and offset query params. Without a limit the whole
// tail after offset is returned.
func pageBounds(r *http.Request, n int) (int, int) {
	off := min(max(parseIntQuery(r, "offset", 0), 0), n)
	lim := parseIntQuery(r, "limit", 0)
	if lim <= 0 {
		return off, n
	}
	return off, min(off+lim, n)
}
