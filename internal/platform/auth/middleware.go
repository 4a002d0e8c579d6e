package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	CtxUserIDKey = "user_id"
	CtxRoleKey   = "role"
	CtxEmailKey  = "email"
)

// sessionClaims は SignIn が発行するトークンの中身
type sessionClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

var errNoBearer = errors.New("missing bearer token")

func bearerToken(h string) (string, error) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errNoBearer
	}
	if tok = strings.TrimSpace(tok); tok == "" {
		return "", errNoBearer
	}
	return tok, nil
}

// parseToken: HS256 のみ、exp 必須、sub 必須
func parseToken(secret []byte, raw string) (*sessionClaims, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, jwt.ErrTokenInvalidSubject
	}
	return &claims, nil
}

// RequireAuth: Authorization: Bearer <token> を検証して context に sub/role/email を詰める
func RequireAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(CodeUnauthorized, err.Error()))
			return
		}
		claims, err := parseToken(secret, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(CodeUnauthorized, "invalid token"))
			return
		}

		c.Set(CtxUserIDKey, claims.Subject)
		c.Set(CtxRoleKey, claims.Role)
		c.Set(CtxEmailKey, claims.Email)
		c.Next()
	}
}

// RequireRole: 例) admin のみ許可したい時に追加
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		if r != "" {
			allowed[r] = true
		}
	}

	return func(c *gin.Context) {
		switch role := Role(c); {
		case role == "":
			c.AbortWithStatusJSON(http.StatusForbidden, errorBody(CodeForbidden, "missing role"))
		case !allowed[role]:
			c.AbortWithStatusJSON(http.StatusForbidden, errorBody(CodeForbidden, "forbidden"))
		default:
			c.Next()
		}
	}
}

// UserID は RequireAuth が詰めた subject
func UserID(c *gin.Context) string { return c.GetString(CtxUserIDKey) }

func Role(c *gin.Context) string { return c.GetString(CtxRoleKey) }

func IsAdmin(c *gin.Context) bool { return Role(c) == RoleAdmin }
