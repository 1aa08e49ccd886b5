package middleware

import (
	"net/http"
	"strings"
)

// BodyLimitOverride gives routes under PathPrefix their own cap. Prefixes
// match with or without the /api mount.
type BodyLimitOverride struct {
	PathPrefix string
	MaxBytes   int64
}

// BodyLimit caps request bodies at defaultMax unless an override matches. A
// declared Content-Length over the cap is refused before the handler runs;
// undeclared bodies are cut off by http.MaxBytesReader.
func BodyLimit(defaultMax int64, overrides ...BodyLimitOverride) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			maxBytes := limitFor(r.URL.Path, defaultMax, overrides)
			if maxBytes > 0 {
				if r.ContentLength > maxBytes {
					writeError(w, r, http.StatusRequestEntityTooLarge, codePayloadTooLarge,
						"Request body is too large", map[string]int64{"maxBytes": maxBytes})
					return
				}
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func limitFor(path string, defaultMax int64, overrides []BodyLimitOverride) int64 {
	apiPath := strings.TrimPrefix(path, "/api")
	for _, o := range overrides {
		if o.PathPrefix == "" || o.MaxBytes <= 0 {
			continue
		}
		if strings.HasPrefix(path, o.PathPrefix) || strings.HasPrefix(apiPath, o.PathPrefix) {
			return o.MaxBytes
		}
	}
	return defaultMax
}
