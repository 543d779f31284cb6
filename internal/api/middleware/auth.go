package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/remiv1/parapheur/internal/db/models"
	"github.com/remiv1/parapheur/internal/services"
	"gorm.io/gorm"
)

type AuthMiddleware struct {
	sessionService *services.SessionService
	db             *gorm.DB
}

func NewAuthMiddleware(sessionService *services.SessionService, db *gorm.DB) *AuthMiddleware {
	return &AuthMiddleware{
		sessionService: sessionService,
		db:             db,
	}
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionToken, err := c.Cookie("session_token")
		if err != nil {
			c.Redirect(http.StatusSeeOther, "/login")
			c.Abort()
			return
		}

		userID, valid := am.sessionService.IsValidSession(sessionToken)
		if !valid {
			c.Redirect(http.StatusSeeOther, "/login")
			c.Abort()
			return
		}

		c.Set("userID", userID)
		var user models.User
		err = am.db.First(&user, userID).Error

		if err != nil || !user.ActiveStatus {
			c.Redirect(http.StatusSeeOther, "/login")
			c.Abort()
			return
		}
		c.Set("login", user.Login)
		c.Set("displayName", user.DisplayName())
		c.Set("role", user.Role)
		c.Next()
	}
}
