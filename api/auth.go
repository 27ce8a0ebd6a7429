package api

import (
	"errors"
	"net/http"
	"strings"
	"studiobook/db"
	"studiobook/service/security"
	"studiobook/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type RegisterRequest struct {
	Username  string `json:"username" binding:"required,max=150"`
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
	FirstName string `json:"first_name" binding:"max=30"`
	LastName  string `json:"last_name" binding:"max=30"`
}

// Register godoc
// @Summary      Register a new member account
// @Description  Creates a member. Usernames are unique.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        request body RegisterRequest true "User registration information"
// @Success      200 {object} db.User "Account created successfully"
// @Failure      400 {object} ErrorResponse "Invalid request body | Username already taken"
// @Failure      429 {object} ErrorResponse "Rate limit exceeded"
// @Failure      500 {object} ErrorResponse "Internal server error"
// @Router       /api/auth/register [post]
func (server *Server) Register(ctx *gin.Context) {
	var req RegisterRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.LOGGER.Warn("POST /api/auth/register: failed to bind request body", "error", err)
		ctx.JSON(http.StatusBadRequest, ErrorResponse{"Invalid request body"})
		return
	}

	hashed, err := security.HashPassword(req.Password)
	if errors.Is(err, security.ErrPasswordTooLong) {
		util.LOGGER.Warn("POST /api/auth/register: password too long")
		ctx.JSON(http.StatusBadRequest, ErrorResponse{"Password is too long"})
		return
	}
	if err != nil {
		util.LOGGER.Error("POST /api/auth/register: failed to hash password", "error", err)
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{"Internal server error"})
		return
	}

	user := db.User{
		Username:  strings.TrimSpace(req.Username),
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  hashed,
		Role:      db.Member,
	}
	if err := server.queries.DB.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			util.LOGGER.Warn("POST /api/auth/register: username already exists", "username", user.Username)
			ctx.JSON(http.StatusBadRequest, ErrorResponse{"Username already taken"})
			return
		}
		util.LOGGER.Error("POST /api/auth/register: failed to create user", "error", err)
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{"Internal server error"})
		return
	}

	ctx.JSON(http.StatusOK, user)
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"` // Username or email
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	ID           uint    `json:"id"`
	Role         db.Role `json:"role"`
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
}

func (server *Server) issueTokens(user *db.User) (*LoginResponse, error) {
	access, err := server.jwtService.CreateToken(user.ID, user.Role, security.AccessToken)
	if err != nil {
		return nil, err
	}
	refresh, err := server.jwtService.CreateToken(user.ID, user.Role, security.RefreshToken)
	if err != nil {
		return nil, err
	}
	return &LoginResponse{ID: user.ID, Role: user.Role, AccessToken: access, RefreshToken: refresh}, nil
}

// Login godoc
// @Summary      Login
// @Description  Exchanges a username (or email) and password for an access and a refresh token.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        request body LoginRequest true "Credentials"
// @Success      200 {object} LoginResponse "Login success"
// @Failure      400 {object} ErrorResponse "Invalid request body"
// @Failure      401 {object} ErrorResponse "Invalid credentials"
// @Failure      429 {object} ErrorResponse "Rate limit exceeded"
// @Failure      500 {object} ErrorResponse "Internal server error"
// @Router       /api/auth/login [post]
func (server *Server) Login(ctx *gin.Context) {
	var req LoginRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.LOGGER.Warn("POST /api/auth/login: failed to bind request body", "error", err)
		ctx.JSON(http.StatusBadRequest, ErrorResponse{"Invalid request body"})
		return
	}

	var user db.User
	login := strings.TrimSpace(req.Username)
	err := server.queries.DB.WithContext(ctx).
		Where("username = ? OR email = ?", login, strings.ToLower(login)).
		Order("id").First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		util.LOGGER.Error("POST /api/auth/login: failed to get user", "error", err)
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{"Internal server error"})
		return
	}
	if !security.CheckPassword(user.Password, req.Password) {
		util.LOGGER.Warn("POST /api/auth/login: invalid credentials", "username", login)
		ctx.JSON(http.StatusUnauthorized, ErrorResponse{"Invalid credentials"})
		return
	}

	result, err := server.issueTokens(&user)
	if err != nil {
		util.LOGGER.Error("POST /api/auth/login: failed to create tokens", "error", err)
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{"Internal server error"})
		return
	}
	ctx.JSON(http.StatusOK, result)
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// RefreshToken godoc
// @Summary      Refresh access token
// @Description  Issues new tokens from a valid refresh token. The role is read again from the user.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        request body RefreshRequest true "Refresh token"
// @Success      200 {object} LoginResponse "Token refresh success"
// @Failure      400 {object} ErrorResponse "Invalid request body"
// @Failure      401 {object} ErrorResponse "Invalid token"
// @Failure      429 {object} ErrorResponse "Rate limit exceeded"
// @Failure      500 {object} ErrorResponse "Internal server error"
// @Router       /api/auth/refresh [post]
func (server *Server) RefreshToken(ctx *gin.Context) {
	var req RefreshRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.LOGGER.Warn("POST /api/auth/refresh: failed to bind request body", "error", err)
		ctx.JSON(http.StatusBadRequest, ErrorResponse{"Invalid request body"})
		return
	}

	claims, err := server.jwtService.VerifyToken(req.RefreshToken)
	if err != nil || claims.TokenType != security.RefreshToken {
		util.LOGGER.Warn("POST /api/auth/refresh: invalid refresh token", "error", err)
		ctx.JSON(http.StatusUnauthorized, ErrorResponse{"Invalid token"})
		return
	}

	var user db.User
	if err := server.queries.DB.WithContext(ctx).First(&user, claims.ID).Error; err != nil {
		util.LOGGER.Warn("POST /api/auth/refresh: token user not found", "id", claims.ID, "error", err)
		ctx.JSON(http.StatusUnauthorized, ErrorResponse{"Invalid token"})
		return
	}

	result, err := server.issueTokens(&user)
	if err != nil {
		util.LOGGER.Error("POST /api/auth/refresh: failed to create tokens", "error", err)
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{"Internal server error"})
		return
	}
	ctx.JSON(http.StatusOK, result)
}
