package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/remiv1/parapheur/internal/db/models"
	"github.com/remiv1/parapheur/internal/services"
	"github.com/remiv1/parapheur/internal/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type AuthHandler struct {
	sessionService *services.SessionService
	db             *gorm.DB
	logger         *zap.Logger
}

func NewAuthHandler(sessionService *services.SessionService, db *gorm.DB, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		sessionService: sessionService,
		db:             db,
		logger:         logger.With(zap.String("handler", "auth")),
	}
}

func (ah *AuthHandler) ShowLoginPage(c *gin.Context) {
	c.HTML(http.StatusOK, "auth/login.html", gin.H{
		"Title": "Connexion",
	})
}

func (ah *AuthHandler) Login(c *gin.Context) {
	login := c.PostForm("login")
	password := c.PostForm("password")

	if login == "" || password == "" {
		c.HTML(http.StatusBadRequest, "auth/login.html", gin.H{
			"Title":   "Connexion",
			"message": "Identifiant et mot de passe requis",
			"error":   true,
		})
		return
	}

	user, err := ah.sessionService.Authenticate(c.Request.Context(), login, password)
	if err != nil {
		status := http.StatusUnauthorized
		message := "Identifiant ou mot de passe invalide"
		if errors.Is(err, services.ErrAccountLocked) {
			message = "Compte temporairement verrouillé"
		}
		ah.logger.Warn("Login refused",
			zap.String("login", login),
			zap.String("ip", c.ClientIP()),
			zap.Error(err))
		c.HTML(status, "auth/login.html", gin.H{
			"Title":   "Connexion",
			"message": message,
			"error":   true,
		})
		return
	}

	token, err := ah.sessionService.CreateSessionToken(
		c.Request.Context(),
		user.ID,
		c.ClientIP(),
		c.Request.UserAgent(),
	)
	if err != nil {
		ah.logger.Error("Could not create session", zap.Error(err))
		c.HTML(http.StatusInternalServerError, "root/error.html", gin.H{
			"Title":   "Erreur",
			"message": "Erreur interne",
			"error":   true,
		})
		return
	}

	ah.db.Model(user).Update("last_login", time.Now())
	c.SetCookie("session_token", token, 3600, "/", "", false, true)
	c.Redirect(http.StatusSeeOther, "/dashboard")
}

func (ah *AuthHandler) ShowRegisterPage(c *gin.Context) {
	c.HTML(http.StatusOK, "auth/register.html", gin.H{
		"Title": "Créer un compte",
	})
}

func (ah *AuthHandler) Register(c *gin.Context) {
	login := c.PostForm("login")
	password := c.PostForm("password")
	confirmPassword := c.PostForm("confirm_password")
	email := c.PostForm("email")
	firstName := c.PostForm("first_name")
	lastName := c.PostForm("last_name")

	if login == "" || password == "" || confirmPassword == "" || email == "" {
		c.HTML(http.StatusBadRequest, "auth/register.html", gin.H{
			"Title":   "Créer un compte",
			"message": "Tous les champs sont requis",
			"error":   true,
		})
		return
	}

	if password != confirmPassword {
		c.HTML(http.StatusBadRequest, "auth/register.html", gin.H{
			"Title":   "Créer un compte",
			"message": "Les mots de passe ne correspondent pas",
			"error":   true,
		})
		return
	}

	var existingUser models.User
	result := ah.db.Where("login = ?", login).First(&existingUser)
	if result.Error == nil {
		c.HTML(http.StatusConflict, "auth/register.html", gin.H{
			"Title":   "Créer un compte",
			"message": "Cet identifiant existe déjà",
			"error":   true,
		})
		return
	}

	result = ah.db.Where("email = ?", email).First(&existingUser)
	if result.Error == nil {
		c.HTML(http.StatusConflict, "auth/register.html", gin.H{
			"Title":   "Créer un compte",
			"message": "Cette adresse email existe déjà",
			"error":   true,
		})
		return
	}

	passHash, err := utils.EncryptPassword(password)
	if err != nil {
		ah.logger.Error("Failed to encrypt password",
			zap.String("login", login),
			zap.String("ip", c.ClientIP()),
			zap.Error(err))
		return
	}

	newUser := models.User{
		Login:        login,
		Email:        email,
		PasswordHash: passHash,
		FirstName:    firstName,
		LastName:     lastName,
		Role:         models.RoleUser,
		ActiveStatus: true,
		LastLogin:    time.Now(),
	}

	result = ah.db.Create(&newUser)
	if result.Error != nil {
		ah.logger.Error("Failed to create user",
			zap.String("login", login),
			zap.Error(result.Error))

		c.HTML(http.StatusInternalServerError, "root/error.html", gin.H{
			"Title":   "Erreur",
			"message": "Erreur lors de la création du compte",
			"error":   true,
		})
		return
	}

	ah.logger.Info("User registered successfully",
		zap.String("login", login),
		zap.Uint("user_id", newUser.ID))

	c.HTML(http.StatusOK, "auth/login.html", gin.H{
		"Title":   "Connexion",
		"message": "Compte créé, vous pouvez vous connecter.",
	})
}

func (ah *AuthHandler) Logout(c *gin.Context) {
	sessionToken, err := c.Cookie("session_token")
	if err == nil {
		userID, valid := ah.sessionService.IsValidSession(sessionToken)
		if valid {
			ah.logger.Info("User logged out",
				zap.Uint("user_id", userID),
				zap.String("ip", c.ClientIP()))
		}
		ah.sessionService.InvalidateSession(sessionToken)
	}

	c.SetCookie("session_token", "", -1, "/", "", false, true)
	c.Redirect(http.StatusSeeOther, "/login")
}
