package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	defaultTokenTTL = 12 * time.Hour
	tokenIssuer     = "storyline"
)

var errNoSecret = errors.New("jwt secret not configured")

// AuthConfig enables bearer authentication when JWTSecret is set. With no
// secret every request is served as the engine's default actor.
type AuthConfig struct {
	JWTSecret string
	DevTokens bool
	Logger    *zap.Logger
}

func (c AuthConfig) enabled() bool {
	return strings.TrimSpace(c.JWTSecret) != ""
}

// Principal is the caller behind a verified token. ActorID is recorded on
// the events the request produces.
type Principal struct {
	ActorID   string
	ExpiresAt time.Time
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// SignToken mints an HS256 token for subject.
func SignToken(secret, subject string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errNoSecret
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject required")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// verifyToken checks signature, expiry and subject.
func verifyToken(secret, token string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errNoSecret
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Principal{}, err
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("token has no subject")
	}
	return Principal{ActorID: claims.Subject, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// authenticator guards the API base path. Health and token minting stay
// public so clients can probe the server and obtain a token.
type authenticator struct {
	cfg      AuthConfig
	basePath string
	public   map[string]bool
	logger   *zap.Logger
}

func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	a := &authenticator{
		cfg:      cfg,
		basePath: basePath,
		public: map[string]bool{
			path.Join(basePath, "health"):     true,
			path.Join(basePath, "auth/token"): true,
		},
		logger: cfg.Logger,
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	return a.wrap
}

func (a *authenticator) guarded(p string) bool {
	if !a.cfg.enabled() || a.public[p] {
		return false
	}
	return a.basePath == "" || strings.HasPrefix(p, a.basePath)
}

func (a *authenticator) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !a.guarded(req.URL.Path) {
			next.ServeHTTP(w, req)
			return
		}
		header := strings.TrimSpace(req.Header.Get("Authorization"))
		if header == "" {
			a.deny(w, "unauthorized", "authentication required")
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		token = strings.TrimSpace(token)
		if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
			a.deny(w, "invalid_credentials", "expected a bearer token")
			return
		}
		principal, err := verifyToken(a.cfg.JWTSecret, token)
		if err != nil {
			a.logger.Debug("bearer token rejected", zap.Error(err), zap.String("path", req.URL.Path))
			a.deny(w, "invalid_credentials", "invalid credentials")
			return
		}
		next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
	})
}

func (a *authenticator) deny(w http.ResponseWriter, code, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="storyline"`)
	respondStatusError(w, newAPIError(http.StatusUnauthorized, code, msg, nil))
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
