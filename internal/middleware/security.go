package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityConfig controls the response headers sent on every API response.
type SecurityConfig struct {
	// HSTSMaxAge of zero disables Strict-Transport-Security.
	HSTSMaxAge time.Duration
	// NoStorePaths are path prefixes answered with Cache-Control: no-store.
	// Empty means every path.
	NoStorePaths []string
}

func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{HSTSMaxAge: 365 * 24 * time.Hour}
}

// staticHeaders never vary per request. The API serves JSON only, so the
// policy forbids all content and framing.
var staticHeaders = [][2]string{
	{"X-Frame-Options", "DENY"},
	{"X-Content-Type-Options", "nosniff"},
	{"Referrer-Policy", "no-referrer"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
}

// SecurityHeaders sets the static hardening headers, marks patient data as
// uncacheable and announces HSTS on requests that arrived over HTTPS,
// directly or through a proxy that sets X-Forwarded-Proto.
func SecurityHeaders(config SecurityConfig) gin.HandlerFunc {
	var hsts string
	if config.HSTSMaxAge > 0 {
		hsts = "max-age=" + strconv.FormatInt(int64(config.HSTSMaxAge/time.Second), 10) + "; includeSubDomains"
	}

	return func(c *gin.Context) {
		h := c.Writer.Header()
		for _, kv := range staticHeaders {
			h.Set(kv[0], kv[1])
		}
		if noStore(config.NoStorePaths, c.Request.URL.Path) {
			h.Set("Cache-Control", "no-store")
		}
		if hsts != "" && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		c.Next()
	}
}

func noStore(prefixes []string, path string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
