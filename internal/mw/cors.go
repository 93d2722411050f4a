package mw

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORS allows every origin in dev. Elsewhere it allows the listed origins,
// or same-host origins when the list is empty.
func CORS(env string, origins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}

		ok := env == "dev"
		if !ok && len(allowed) > 0 {
			_, ok = allowed[origin]
		} else if !ok {
			ok = strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://") == c.Request.Host
		}
		if ok {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
