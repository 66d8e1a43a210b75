package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "flowchat"

// Identity is what a verified access token proves about its bearer.
type Identity struct {
	UserID int64
	Name   string
}

type Claims struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// Verifier signs and checks HS256 access tokens. Verification is purely
// local: no store is consulted.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// Issue creates a signed access token for the given identity.
func (v *Verifier) Issue(id Identity, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		UserID: id.UserID,
		Name:   id.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Verify validates signature and expiry and returns the bearer's identity.
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return Identity{}, ErrMissingToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return Identity{}, &Error{Kind: KindInvalid, Err: err}
	}
	if !token.Valid || claims.UserID <= 0 {
		return Identity{}, ErrInvalidToken
	}

	return Identity{UserID: claims.UserID, Name: claims.Name}, nil
}
