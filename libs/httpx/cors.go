package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSPolicy lists what a browser origin may send. AllowedOrigins entries are
// exact origins, "*" or a subdomain pattern such as "https://*.cleanroute.app".
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// PublicCORSPolicy serves the booking widget embedded on tenant sites.
func PublicCORSPolicy(origins []string) CORSPolicy {
	return CORSPolicy{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", RequestIDHeader, "Idempotency-Key"},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         10 * time.Minute,
	}
}

// APICORSPolicy adds PUT for the staff console (tenant config upserts).
func APICORSPolicy(origins []string) CORSPolicy {
	p := PublicCORSPolicy(origins)
	p.AllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}
	return p
}

// WithCORS answers preflights for allowed origins. With no origins configured it is a no-op.
func WithCORS(cfg CORSPolicy) Middleware {
	origins := normalizeList(cfg.AllowedOrigins)
	if len(origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	methods := strings.Join(normalizeList(cfg.AllowedMethods), ", ")
	headers := strings.Join(normalizeList(cfg.AllowedHeaders), ", ")
	exposed := strings.Join(normalizeList(cfg.ExposedHeaders), ", ")
	maxAge := ""
	if secs := int(cfg.MaxAge.Seconds()); secs > 0 {
		maxAge = strconv.Itoa(secs)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")

			origin := r.Header.Get("Origin")
			allow, ok := matchOrigin(origin, origins, cfg.AllowCredentials)
			if origin == "" || !ok {
				next.ServeHTTP(w, r)
				return
			}
			h.Set("Access-Control-Allow-Origin", allow)
			if cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			if exposed != "" {
				h.Set("Access-Control-Expose-Headers", exposed)
			}

			if r.Method != http.MethodOptions || r.Header.Get("Access-Control-Request-Method") == "" {
				next.ServeHTTP(w, r)
				return
			}
			h.Add("Vary", "Access-Control-Request-Method")
			h.Add("Vary", "Access-Control-Request-Headers")
			if methods != "" {
				h.Set("Access-Control-Allow-Methods", methods)
			}
			if headers != "" {
				h.Set("Access-Control-Allow-Headers", headers)
			}
			if maxAge != "" {
				h.Set("Access-Control-Max-Age", maxAge)
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// matchOrigin returns the Access-Control-Allow-Origin value for origin.
// A bare "*" is echoed back as the origin when credentials are allowed.
func matchOrigin(origin string, allowed []string, allowCredentials bool) (string, bool) {
	for _, pattern := range allowed {
		switch {
		case pattern == "*":
			if allowCredentials {
				return origin, true
			}
			return "*", true
		case strings.EqualFold(pattern, origin):
			return origin, true
		case matchSubdomain(pattern, origin):
			return origin, true
		}
	}
	return "", false
}

// matchSubdomain matches "scheme://*.domain" against a single-label subdomain
// of domain with the same scheme.
func matchSubdomain(pattern, origin string) bool {
	scheme, rest, ok := strings.Cut(pattern, "://*.")
	if !ok {
		return false
	}
	prefix := strings.ToLower(scheme) + "://"
	origin = strings.ToLower(origin)
	if !strings.HasPrefix(origin, prefix) {
		return false
	}
	host := strings.TrimPrefix(origin, prefix)
	label, domain, ok := strings.Cut(host, ".")
	return ok && label != "" && strings.EqualFold(domain, rest)
}
