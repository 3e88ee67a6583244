package middlewares

import (
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/sellersync_backend/utils"
	"github.com/gin-gonic/gin"
)

// AuthMiddleware validates the bearer JWT and stores its claims in the
// request context. Requests without an Authorization header pass through so
// public routes (health, pubsub push) keep working; protected handlers reject
// anonymous requests themselves.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")

		if auth == "" {
			c.Next()
			return
		}

		bearer := "Bearer "
		if !strings.HasPrefix(auth, bearer) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		auth = auth[len(bearer):]

		validate, err := utils.JwtValidate(auth)
		if err != nil || !validate.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		claim, _ := validate.Claims.(*utils.JwtCustomClaim)

		ctx := utils.SetTokenInContext(c.Request.Context(), auth)
		ctx = utils.SetUserIdInContext(ctx, claim.ID)
		ctx = utils.SetRoleInContext(ctx, claim.Role)
		if claim.StoreId != "" {
			ctx = utils.SetStoreIdInContext(ctx, claim.StoreId)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
