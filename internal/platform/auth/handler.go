package auth

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct{ svc AuthService }

// RegisterRoutes: public は認証不要のグループ、private は RequireAuth 済みのグループ
func RegisterRoutes(public, private gin.IRoutes, svc AuthService) {
	h := &AuthHandler{svc: svc}
	public.POST("/auth/sign-in", h.SignIn)
	public.POST("/auth/sign-up", h.SignUp)
	private.GET("/me", h.Me)
}

type SignInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// POST /auth/sign-in
func (h *AuthHandler) SignIn(c *gin.Context) {
	var req SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "email and password are required"))
		return
	}

	sess, err := h.svc.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		status, body := toHTTP(err)
		if status >= 500 {
			log.Printf("[ERROR] sign-in: %v", err)
		}
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, sess)
}

type SignUpRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name" binding:"required"`
}

// POST /auth/sign-up
func (h *AuthHandler) SignUp(c *gin.Context) {
	var req SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "email, password and name are required"))
		return
	}

	id, err := h.svc.SignUp(c.Request.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		status, body := toHTTP(err)
		if status >= 500 {
			log.Printf("[ERROR] sign-up: %v", err)
		}
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusCreated, id)
}

type MeResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
	Name  string `json:"name,omitempty"`
}

// Me: トークンの内容と profile の表示名
func (h *AuthHandler) Me(c *gin.Context) {
	res := MeResponse{
		ID:    UserID(c),
		Email: c.GetString(CtxEmailKey),
		Role:  Role(c),
	}
	p, err := h.svc.Profile(c.Request.Context(), res.ID)
	if err != nil {
		status, body := toHTTP(err)
		if status >= 500 {
			log.Printf("[ERROR] me: %v", err)
		}
		c.JSON(status, body)
		return
	}
	res.Name = p.Name
	if p.Role != "" {
		res.Role = p.Role
	}
	c.JSON(http.StatusOK, res)
}
