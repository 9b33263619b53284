// Package auth guards the HTTP wrapper with HS256 bearer tokens. Tokens are
// minted offline with the shared secret (see `munin token`).
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

const (
	// RoleOperator may submit transcripts.
	RoleOperator = "operator"
	// RoleViewer may read the catalog, the journal and the event stream.
	RoleViewer = "viewer"

	issuer        = "munin-core"
	defaultExpiry = 24 * time.Hour
	contextKey    = "principal"
)

var ErrInvalidToken = errors.New("invalid token")

// Principal is the authenticated caller: a device, a front end or a person.
type Principal struct {
	Subject string   `json:"sub"`
	Roles   []string `json:"roles"`
}

func (p *Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

type Config struct {
	JWTSecret       string
	TokenExpiration time.Duration
	RequireAuth     bool
}

type Manager struct {
	config Config
	secret []byte
}

func NewManager(config Config) *Manager {
	secret := config.JWTSecret
	if secret == "" {
		// Tokens signed with a generated secret die with the process.
		b := make([]byte, 32)
		rand.Read(b)
		secret = base64.StdEncoding.EncodeToString(b)
		if config.RequireAuth {
			log.Warn().Msg("using generated JWT secret; set JWT_SECRET to issue tokens that survive restarts")
		}
	}

	return &Manager{
		config: config,
		secret: []byte(secret),
	}
}

func (m *Manager) Required() bool {
	return m.config.RequireAuth
}

// Middleware authenticates every route except /health. It is a no-op when
// auth is not required.
func (m *Manager) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !m.config.RequireAuth || c.Path() == "/health" {
				return next(c)
			}

			token, ok := BearerToken(c.Request())
			if !ok {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "Missing or malformed bearer token",
				})
			}

			principal, err := m.ValidateToken(token)
			if err != nil {
				log.Debug().Err(err).Str("path", c.Path()).Msg("rejected token")
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": fmt.Sprintf("Invalid token: %v", err),
				})
			}

			c.Set(contextKey, principal)
			return next(c)
		}
	}
}

// RequireRole rejects authenticated callers lacking role. With auth
// disabled every caller passes.
func (m *Manager) RequireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !m.config.RequireAuth {
				return next(c)
			}

			principal := PrincipalFromContext(c)
			if principal == nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "Authentication required",
				})
			}

			if !principal.HasRole(role) {
				return c.JSON(http.StatusForbidden, map[string]string{
					"error": fmt.Sprintf("Role '%s' required", role),
				})
			}

			return next(c)
		}
	}
}

func (m *Manager) GenerateToken(p Principal) (string, error) {
	ttl := m.config.TokenExpiration
	if ttl == 0 {
		ttl = defaultExpiry
	}
	now := time.Now()

	claims := &Claims{
		Roles: p.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *Manager) ValidateToken(tokenString string) (*Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return &Principal{Subject: claims.Subject, Roles: claims.Roles}, nil
}

func PrincipalFromContext(c echo.Context) *Principal {
	if p, ok := c.Get(contextKey).(*Principal); ok {
		return p
	}
	return nil
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || scheme != "Bearer" || token == "" || strings.Contains(token, " ") {
		return "", false
	}
	return token, true
}
