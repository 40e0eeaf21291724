package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"vendorbox/internal/model"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const principalKey contextKey = "principal"

const issuer = "vendorbox"

var ErrUnauthenticated = errors.New("unauthenticated")

// Principal is the authenticated caller
type Principal struct {
	UserID   string
	Role     model.Role
	VendorID string
}

// Claims are the token claims; sub carries the user id
type Claims struct {
	Role     model.Role `json:"role"`
	VendorID string     `json:"vendor_id,omitempty"`
	jwt.RegisteredClaims
}

// AccountChecker reports whether a field staff account may still sign in
type AccountChecker interface {
	AccountActive(ctx context.Context, userID string) (bool, error)
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SecretKey []byte
	// DevHeaders accepts X-User-ID / X-Role / X-Vendor-ID without a token
	DevHeaders bool
	// Accounts, when set, refuses field staff whose account is missing
	// or inactive
	Accounts AccountChecker
}

func NewJWTConfig(secretKey string, devHeaders bool) *JWTConfig {
	if secretKey == "" {
		secretKey = "default-secret-key-change-in-production" // Default for development
	}
	return &JWTConfig{SecretKey: []byte(secretKey), DevHeaders: devHeaders}
}

func validRole(r model.Role) bool {
	switch r {
	case model.RoleAdmin, model.RoleAgent, model.RoleEmployee, model.RoleVendor:
		return true
	}
	return false
}

// Issue signs a token for p
func (c *JWTConfig) Issue(p Principal, ttl time.Duration) (string, error) {
	if p.UserID == "" || !validRole(p.Role) {
		return "", fmt.Errorf("%w: principal needs a user id and a known role", model.ErrInvalidInput)
	}
	now := time.Now()
	claims := Claims{
		Role:     p.Role,
		VendorID: p.VendorID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.SecretKey)
}

// Parse validates a token and returns its principal
func (c *JWTConfig) Parse(tokenString string) (Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return c.SecretKey, nil
	}, jwt.WithIssuer(issuer))
	if err != nil || !token.Valid {
		return Principal{}, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	if claims.Subject == "" || !validRole(claims.Role) {
		return Principal{}, fmt.Errorf("%w: invalid token claims", ErrUnauthenticated)
	}
	return Principal{UserID: claims.Subject, Role: claims.Role, VendorID: claims.VendorID}, nil
}

// FromRequest authenticates a request. The token comes from the
// Authorization header or, for websocket upgrades, the token query
// parameter. ok is false for anonymous requests.
func (c *JWTConfig) FromRequest(r *http.Request) (p Principal, ok bool, err error) {
	if c.DevHeaders {
		if userID := r.Header.Get("X-User-ID"); userID != "" {
			role := model.Role(r.Header.Get("X-Role"))
			if role == "" {
				role = model.RoleAdmin
			}
			if !validRole(role) {
				return Principal{}, false, fmt.Errorf("%w: unknown role %q", ErrUnauthenticated, role)
			}
			return Principal{UserID: userID, Role: role, VendorID: r.Header.Get("X-Vendor-ID")}, true, nil
		}
	}

	tokenString := r.URL.Query().Get("token")
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return Principal{}, false, fmt.Errorf("%w: invalid authorization header", ErrUnauthenticated)
		}
		tokenString = parts[1]
	}
	if tokenString == "" {
		return Principal{}, false, nil
	}
	p, err = c.Parse(tokenString)
	if err != nil {
		return Principal{}, false, err
	}
	return p, true, nil
}

// Middleware attaches the principal to the request context. Anonymous
// requests pass through; RequireRole rejects them where it matters.
func (c *JWTConfig) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok, err := c.FromRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		if ok {
			if p.Role.FieldStaff() && c.Accounts != nil {
				active, err := c.Accounts.AccountActive(r.Context(), p.UserID)
				if err != nil {
					http.Error(w, "account check failed", http.StatusServiceUnavailable)
					return
				}
				if !active {
					http.Error(w, "account inactive", http.StatusUnauthorized)
					return
				}
			}
			r = r.WithContext(WithPrincipal(r.Context(), p))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects callers without one of roles
func RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := FromContext(r.Context())
			if !ok {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
			for _, role := range roles {
				if p.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, "forbidden", http.StatusForbidden)
		})
	}
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) string {
	p, _ := FromContext(ctx)
	return p.UserID
}
