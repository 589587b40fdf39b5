package httpapi

import (
	"consult-platform/internal/auth"
	"consult-platform/internal/calls"

	"github.com/gin-gonic/gin"
)

// Actor copies the authenticated user id into the context as the actor of
// any status change made by the request.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if uid, err := auth.UserID(c.Request.Context()); err == nil {
			c.Request = c.Request.WithContext(calls.WithActor(c.Request.Context(), uid))
		}
		c.Next()
	}
}

type identity struct {
	userID string
	role   string
}

func identityOf(c *gin.Context) identity {
	uid, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	return identity{userID: uid, role: role}
}
