package profiles

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LIBRIS-backend/internal/platform/auth"
	"LIBRIS-backend/internal/platform/gateway"
	"LIBRIS-backend/internal/platform/gateway/gatewaytest"
)

func TestListAndGet(t *testing.T) {
	s, _ := gatewaytest.NewSQLite(t)
	ctx := context.Background()
	for _, p := range []gateway.Profile{
		{ID: "u2", Name: "María García", Email: "user@example.com", Role: "user"},
		{ID: "u1", Name: "Juan Pérez", Email: "admin@example.com", Role: "admin"},
	} {
		_, err := s.InsertProfile(ctx, p)
		require.NoError(t, err)
	}
	svc := NewService(s)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Juan Pérez", list[0].Name)

	p, err := svc.Get(ctx, "u2")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "user@example.com", p.Email)

	p, err = svc.Get(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, p)
}

// ロールだけ詰める簡易ミドルウェア
func as(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(auth.CtxUserIDKey, "x")
		c.Set(auth.CtxRoleKey, role)
		c.Next()
	}
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	fl := gatewaytest.NewFlaky(gateway.NewMemoryStore())
	_, err := fl.InsertProfile(context.Background(), gateway.Profile{ID: "u1", Name: "Juan", Email: "j@example.com", Role: "admin"})
	require.NoError(t, err)
	svc := NewService(fl)

	get := func(role, path string) *httptest.ResponseRecorder {
		r := gin.New()
		RegisterRoutes(r.Group("", as(role)), svc)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	assert.Equal(t, http.StatusForbidden, get(auth.RoleUser, "/profiles").Code)

	w := get(auth.RoleAdmin, "/profiles")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Items []ProfileResponse `json:"items"`
		Total int               `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Total)

	assert.Equal(t, http.StatusOK, get(auth.RoleAdmin, "/profiles/u1").Code)
	assert.Equal(t, http.StatusNotFound, get(auth.RoleAdmin, "/profiles/u9").Code)

	fl.Fail(gatewaytest.ProfilesQuery, errors.New("down"))
	assert.Equal(t, http.StatusInternalServerError, get(auth.RoleAdmin, "/profiles").Code)
}
