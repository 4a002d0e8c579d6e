// Package profiles は貸出先を選ぶための利用者一覧（管理者向け）。
// profile 行は初回サインイン・登録時に auth 側で作られ、ここでは削除しない。
package profiles

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"LIBRIS-backend/internal/platform/auth"
	"LIBRIS-backend/internal/platform/gateway"
)

type ProfileResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func toResponse(p gateway.Profile) ProfileResponse {
	return ProfileResponse{ID: p.ID, Name: p.Name, Email: p.Email, Role: p.Role, CreatedAt: p.CreatedAt}
}

var (
	errNotFound = gin.H{"error": gin.H{"code": "NOT_FOUND", "message": "profile not found"}}
	errInternal = gin.H{"error": gin.H{"code": "INTERNAL", "message": "store read failed"}}
)

type Service struct{ profiles gateway.Profiles }

func NewService(p gateway.Profiles) *Service { return &Service{profiles: p} }

// List は名前順
func (s *Service) List(ctx context.Context) ([]ProfileResponse, error) {
	rows, err := s.profiles.QueryProfiles(ctx, gateway.ProfileFilter{})
	if err != nil {
		return nil, err
	}
	out := make([]ProfileResponse, 0, len(rows))
	for _, p := range rows {
		out = append(out, toResponse(p))
	}
	return out, nil
}

// Get: 見つからなければ nil, nil
func (s *Service) Get(ctx context.Context, id string) (*ProfileResponse, error) {
	rows, err := s.profiles.QueryProfiles(ctx, gateway.ProfileFilter{ID: &id})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	res := toResponse(rows[0])
	return &res, nil
}

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	admin := auth.RequireRole(auth.RoleAdmin)
	r.GET("/profiles", admin, h.List)
	r.GET("/profiles/:id", admin, h.Get)
}

// GET /profiles
func (h *Handler) List(c *gin.Context) {
	items, err := h.svc.List(c.Request.Context())
	if err != nil {
		log.Printf("[ERROR] profiles.list: %v", err)
		c.JSON(http.StatusInternalServerError, errInternal)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": len(items)})
}

// GET /profiles/:id
func (h *Handler) Get(c *gin.Context) {
	p, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		log.Printf("[ERROR] profiles.get: %v", err)
		c.JSON(http.StatusInternalServerError, errInternal)
		return
	}
	if p == nil {
		c.JSON(http.StatusNotFound, errNotFound)
		return
	}
	c.JSON(http.StatusOK, p)
}
