package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier resolves a bearer token to a user identity. ok is false when the
// token is missing, malformed, expired or forged.
type Verifier interface {
	Verify(token string) (userID int64, ok bool)
}

// Claims is the payload carried by session tokens.
type Claims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// JWT verifies and issues HS256 session tokens.
type JWT struct {
	key []byte
}

func NewJWT(secret string) *JWT {
	return &JWT{key: []byte(secret)}
}

// GenerateToken creates a signed token for userID valid for ttl.
func (j *JWT) GenerateToken(userID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "potluck",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.key)
}

// ValidateToken parses and validates a token
func (j *JWT) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return j.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	if !token.Valid || claims.UserID <= 0 {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}

func (j *JWT) Verify(token string) (int64, bool) {
	claims, err := j.ValidateToken(token)
	if err != nil {
		return 0, false
	}
	return claims.UserID, true
}

// UserIDFromToken reads the user id a token claims without checking its
// signature. Clients use it to tell their own messages apart; the server
// never trusts it.
func UserIDFromToken(tokenString string) (int64, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return 0, err
	}
	if claims.UserID <= 0 {
		return 0, errors.New("token carries no user id")
	}
	return claims.UserID, nil
}

// TokenFromRequest extracts the bearer token from the Authorization header,
// falling back to the token query parameter used by browser stream clients.
func TokenFromRequest(r *http.Request) string {
	token := r.Header.Get("Authorization")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	return strings.TrimPrefix(token, "Bearer ")
}
