package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/campusdesk/grievance-api/internal/middleware"
	"github.com/campusdesk/grievance-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// callerFromContext extracts the explicit caller identity for service calls.
// Routes behind the JWT middleware always have one; the zero Caller fails
// every authorization check.
func callerFromContext(c *gin.Context) models.Caller {
	claims := claimsFromContext(c)
	if claims == nil {
		return models.Caller{}
	}
	return claims.Caller()
}
