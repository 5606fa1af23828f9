package token

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Signer signs relay session tokens and supplies the key to verify them
type Signer interface {
	Sign(claims jwt.MapClaims) (string, error)
	GetVerificationKey(token *jwt.Token) (any, error)
	GetSigningMethod() jwt.SigningMethod
}

// HMACsigner signs with a shared HS256 secret
type HMACsigner struct {
	secret []byte
}

func NewHMACSigner(secret string) (*HMACsigner, error) {
	if len(secret) < 16 {
		return nil, errors.New("[NewHMACSigner] secret must be at least 16 bytes")
	}
	return &HMACsigner{secret: []byte(secret)}, nil
}

func (h *HMACsigner) Sign(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(h.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign session token")
	}
	return signed, nil
}

func (h *HMACsigner) GetVerificationKey(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return h.secret, nil
}

func (h *HMACsigner) GetSigningMethod() jwt.SigningMethod {
	return jwt.SigningMethodHS256
}
