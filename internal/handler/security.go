package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/xenking/learnhub/internal/domain/auth"
)

// Claims is the payload of a bearer token.
type Claims struct {
	Email string    `json:"email,omitempty"`
	Role  auth.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier authenticates HS256-signed bearer tokens.
type TokenVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewTokenVerifier creates a TokenVerifier. When issuer is set, tokens from
// other issuers are rejected.
func NewTokenVerifier(secret []byte, issuer string) *TokenVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &TokenVerifier{secret: secret, parser: jwt.NewParser(opts...)}
}

// Verify parses token and returns the actor it identifies.
func (v *TokenVerifier) Verify(token string) (auth.Actor, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return auth.Actor{}, errors.Wrap(err, "parse token")
	}
	if claims.Subject == "" {
		return auth.Actor{}, errors.New("token has no subject")
	}
	if !claims.Role.Valid() {
		return auth.Actor{}, errors.Errorf("unknown role %q", claims.Role)
	}
	return auth.Actor{UserID: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
}

// SignToken issues a bearer token for a. The API server never calls it; it
// backs development tooling and tests.
func SignToken(secret []byte, issuer string, a auth.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: a.Email,
		Role:  a.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.UserID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// authenticate attaches the bearer token's actor to the request context.
// Requests without a token continue anonymously; invalid tokens are rejected.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, r, errors.Wrap(auth.ErrUnauthenticated, "malformed authorization header"))
			return
		}
		actor, err := h.tokens.Verify(token)
		if err != nil {
			writeError(w, r, errors.Wrap(auth.ErrUnauthenticated, err.Error()))
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithActor(r.Context(), actor)))
	})
}

// Sign returns the hex HMAC-SHA256 of body, as sent in X-Signature.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook signature in constant time.
func VerifySignature(secret, body []byte, signature string) bool {
	if len(secret) == 0 || signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return subtle.ConstantTimeCompare(mac.Sum(nil), got) == 1
}
