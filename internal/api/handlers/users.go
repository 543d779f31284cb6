package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/remiv1/parapheur/internal/db/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type UserHandler struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewUserHandler(db *gorm.DB, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		db:     db,
		logger: logger.With(zap.String("handler", "user")),
	}
}

func (uh *UserHandler) ShowProfilePage(c *gin.Context) {
	userID := c.GetUint("userID")

	var user models.User
	result := uh.db.First(&user, userID)
	if result.Error != nil {
		c.HTML(http.StatusNotFound, "root/error.html", gin.H{
			"Title":   "Erreur",
			"message": "Utilisateur introuvable",
			"error":   true,
		})
		return
	}

	c.HTML(http.StatusOK, "users/profile.html", gin.H{
		"Title": "Mon profil",
		"User":  user.DisplayName(),
		"user":  user,
	})
}

func (uh *UserHandler) UpdateProfile(c *gin.Context) {
	userID := c.GetUint("userID")

	var user models.User
	result := uh.db.First(&user, userID)
	if result.Error != nil {
		c.HTML(http.StatusNotFound, "root/error.html", gin.H{
			"Title":   "Erreur",
			"message": "Utilisateur introuvable",
			"error":   true,
		})
		return
	}

	user.FirstName = c.PostForm("firstName")
	user.LastName = c.PostForm("lastName")
	user.Email = c.PostForm("email")

	uh.db.Save(&user)

	c.Redirect(http.StatusSeeOther, "/profile")
}

// ListUsers feeds the point-placement picker: id, name and email of every
// active account.
func (uh *UserHandler) ListUsers(c *gin.Context) {
	var users []models.User
	if err := uh.db.Where("active_status = ?", true).Order("last_name ASC").Find(&users).Error; err != nil {
		uh.logger.Error("failed to list users", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur interne"})
		return
	}

	type entry struct {
		ID    uint   `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	out := make([]entry, len(users))
	for i := range users {
		out[i] = entry{ID: users[i].ID, Name: users[i].DisplayName(), Email: users[i].Email}
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}
