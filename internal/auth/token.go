package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for malformed, expired or foreign tokens.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the access token claims. Subject carries the checksummed address.
type Claims struct {
	jwt.StandardClaims
	Version int `json:"ver"`
}

func signAccessToken(issuer string, secret []byte, addr common.Address, version int, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := Claims{
		StandardClaims: jwt.StandardClaims{
			Id:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   addr.Hex(),
			IssuedAt:  now.Unix(),
			ExpiresAt: exp.Unix(),
		},
		Version: version,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func parseAccessToken(issuer string, secret []byte, token string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if claims.Issuer != issuer || !common.IsHexAddress(claims.Subject) {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
