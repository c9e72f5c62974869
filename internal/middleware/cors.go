package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"tidb-datatables/internal/observability"
)

// Defaults used when the corresponding CORSConfig list is empty. DataTables
// issues GET or POST through jQuery, which adds X-Requested-With.
var (
	defaultCORSMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	defaultCORSHeaders = []string{"Content-Type", "X-Requested-With", RequestIDHeader}
)

// corsAlwaysExposed are exposed on every allowed response: the request ID for
// correlating logs and Content-Disposition for export file names.
var corsAlwaysExposed = []string{RequestIDHeader, "Content-Disposition"}

// CORSConfig configures Cross-Origin Resource Sharing (CORS) policies.
type CORSConfig struct {
	Enabled          bool
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           int
	Metrics          *observability.TrafficMetrics
}

type corsPolicy struct {
	anyOrigin   bool
	origins     map[string]struct{}
	methods     []string
	credentials bool

	methodsHeader string
	headersHeader string
	exposeHeader  string
	maxAgeHeader  string
	metrics       *observability.TrafficMetrics
}

func newCORSPolicy(cfg CORSConfig) *corsPolicy {
	p := &corsPolicy{
		origins:     make(map[string]struct{}),
		credentials: cfg.AllowCredentials,
		metrics:     cfg.Metrics,
	}
	for _, origin := range cfg.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		switch origin {
		case "":
		case "*":
			p.anyOrigin = true
		default:
			p.origins[origin] = struct{}{}
		}
	}

	p.methods = normalizeTokens(cfg.AllowedMethods, defaultCORSMethods, strings.ToUpper)
	headers := normalizeTokens(cfg.AllowedHeaders, defaultCORSHeaders, nil)
	expose := normalizeTokens(append(slices.Clone(corsAlwaysExposed), cfg.ExposeHeaders...), nil, nil)

	p.methodsHeader = strings.Join(p.methods, ", ")
	p.headersHeader = strings.Join(headers, ", ")
	p.exposeHeader = strings.Join(expose, ", ")
	if cfg.MaxAge > 0 {
		p.maxAgeHeader = strconv.Itoa(cfg.MaxAge)
	}
	return p
}

// normalizeTokens trims values, applies canon when set and drops
// case-insensitive duplicates, falling back to defaults when nothing is left.
func normalizeTokens(values, defaults []string, canon func(string) string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if canon != nil {
			v = canon(v)
		}
		if !slices.ContainsFunc(out, func(seen string) bool { return strings.EqualFold(seen, v) }) {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return slices.Clone(defaults)
	}
	return out
}

func (p *corsPolicy) allowsOrigin(origin string) bool {
	if p.anyOrigin {
		return true
	}
	_, ok := p.origins[origin]
	return ok
}

func (p *corsPolicy) setOriginHeaders(h http.Header, origin string) {
	if p.anyOrigin {
		h.Set("Access-Control-Allow-Origin", "*")
	} else {
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
		if p.credentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}
	}
}

// CORSMiddleware adds CORS headers and answers preflight requests. A preflight
// is an OPTIONS request carrying Access-Control-Request-Method; other OPTIONS
// requests reach the handler. Preflights for a disallowed origin or method
// get 204 without allow headers, so the browser blocks the real request.
func CORSMiddleware(cfg CORSConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}
	policy := newCORSPolicy(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed := policy.allowsOrigin(origin)
			requestedMethod := r.Header.Get("Access-Control-Request-Method")

			if r.Method == http.MethodOptions && requestedMethod != "" {
				w.Header().Add("Vary", "Access-Control-Request-Method")
				w.Header().Add("Vary", "Access-Control-Request-Headers")
				if allowed && !slices.Contains(policy.methods, strings.ToUpper(requestedMethod)) {
					allowed = false
				}
				if !allowed {
					policy.metrics.RecordCORSRejected(r.Context())
					w.WriteHeader(http.StatusNoContent)
					return
				}
				policy.setOriginHeaders(w.Header(), origin)
				w.Header().Set("Access-Control-Allow-Methods", policy.methodsHeader)
				w.Header().Set("Access-Control-Allow-Headers", policy.headersHeader)
				if policy.maxAgeHeader != "" {
					w.Header().Set("Access-Control-Max-Age", policy.maxAgeHeader)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if !allowed {
				policy.metrics.RecordCORSRejected(r.Context())
			} else {
				policy.setOriginHeaders(w.Header(), origin)
				w.Header().Set("Access-Control-Expose-Headers", policy.exposeHeader)
			}
			next.ServeHTTP(w, r)
		})
	}
}
