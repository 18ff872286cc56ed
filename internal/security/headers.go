// Package security provides hardening middleware for the TrustVerify API
// plus SSRF screening for subscriber-supplied webhook URLs.
package security

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// browser hardening headers applied to every response
var standardHeaders = map[string]string{
	"X-Content-Type-Options": "nosniff",
	"X-Frame-Options":        "DENY",
	"X-XSS-Protection":       "1; mode=block",
	"Referrer-Policy":        "strict-origin-when-cross-origin",
	"Permissions-Policy":     "geolocation=(), microphone=(), camera=()",
	// inline scripts/styles stay allowed for operator pages; ws: covers
	// the realtime event stream
	"Content-Security-Policy": "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline' https://fonts.googleapis.com; font-src 'self' https://fonts.gstatic.com; img-src 'self' data:; connect-src 'self' ws: wss:; frame-ancestors 'none'",
}

// HeadersMiddleware applies the standard hardening headers.
func HeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		for name, value := range standardHeaders {
			c.Header(name, value)
		}
		c.Next()
	}
}

// CORSMiddleware answers cross-origin requests for the listed origins.
// An empty list or a "*" entry admits every origin.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	wildcard := allowed["*"]

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		if len(allowedOrigins) == 0 || wildcard || allowed[origin] {
			if origin != "" {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
			c.Header("Access-Control-Max-Age", "86400")
			// wildcard + credentials is forbidden by the CORS rules
			if !wildcard {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
