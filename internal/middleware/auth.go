package middleware

import (
	"net/http"
	"strings"

	"schoolpay/config"
	"schoolpay/internal/auth"
	"schoolpay/internal/domain"
	"schoolpay/internal/service"

	"github.com/gin-gonic/gin"
)

// AuthRequired validates JWT and sets user_id, tenant_id, student_id and role in context.
func AuthRequired(cfg *config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		claims, err := auth.ParseAccessToken(cfg, parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set("user_id", claims.UserID)
		c.Set("tenant_id", claims.TenantID)
		c.Set("student_id", claims.StudentID)
		c.Set("role", claims.Role)
		c.Set("claims", claims)
		c.Next()
	}
}

// RequireRole checks that the authenticated user has one of the allowed roles.
func RequireRole(allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get("role")
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		r := role.(string)
		for _, a := range allowed {
			if r == a {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}

// AdminRequired admits only school administrators.
func AdminRequired() gin.HandlerFunc {
	return RequireRole(domain.RoleAdmin)
}

// GetActor builds the service-level caller from the authenticated context.
func GetActor(c *gin.Context) service.Actor {
	return service.Actor{
		UserID:    c.GetUint("user_id"),
		TenantID:  c.GetUint("tenant_id"),
		StudentID: c.GetUint("student_id"),
		Role:      c.GetString("role"),
	}
}
