package middleware

import "net/http"

// DefaultMaxBodyBytes is the request body cap used when none is configured.
const DefaultMaxBodyBytes = 1 << 20

// MaxBodySize wraps request bodies in http.MaxBytesReader. Reads past max fail
// with *http.MaxBytesError, which handlers report as 413. A non-positive max
// disables the cap.
func MaxBodySize(max int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if max <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, max)
			}
			next.ServeHTTP(w, r)
		})
	}
}
