package services

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
)

const (
	secretKeyFile      = ".trafficwatch-secret-key"
	minSecretLength    = 32
	defaultTokenExpiry = 90 * 24 * time.Hour
	tokenIssuer        = "trafficwatch"
)

const ErrInvalidToken = errors.Sentinel("invalid token")

// AuthService issues and validates the bearer tokens guarding the API
type AuthService struct {
	secretKey   []byte
	tokenExpiry time.Duration
	now         func() time.Time
}

// Claims identify the client a token was minted for
type Claims struct {
	ClientName string `json:"client_name"`
	jwt.RegisteredClaims
}

// NewAuthService builds the service. An empty secretKey is loaded from, or
// generated into, a key file in the user's home directory so that tokens
// minted by the CLI stay valid for the server.
func NewAuthService(secretKey string, tokenExpiry time.Duration) (*AuthService, error) {
	secretKey = strings.TrimSpace(secretKey)
	if secretKey == "" {
		var err error
		secretKey, err = loadOrCreateSecret(secretKeyPath())
		if err != nil {
			return nil, err
		}
	}
	if len(secretKey) < minSecretLength {
		return nil, errors.Errorf("secret key must be at least %d bytes, got %d", minSecretLength, len(secretKey))
	}
	if tokenExpiry <= 0 {
		tokenExpiry = defaultTokenExpiry
	}
	return &AuthService{secretKey: []byte(secretKey), tokenExpiry: tokenExpiry, now: time.Now}, nil
}

func secretKeyPath() string {
	dir, err := os.UserHomeDir()
	if err != nil || dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, secretKeyFile)
}

func loadOrCreateSecret(path string) (string, error) {
	if data, err := os.ReadFile(path); err == nil && len(strings.TrimSpace(string(data))) > 0 {
		log.WithField("path", path).Debug("loaded persisted secret key")
		return strings.TrimSpace(string(data)), nil
	}

	random := make([]byte, minSecretLength)
	if _, err := rand.Read(random); err != nil {
		return "", errors.Wrap(err, "generate secret key")
	}
	secret := hex.EncodeToString(random)
	if err := os.WriteFile(path, []byte(secret), 0o600); err != nil {
		// still usable for this process, tokens just won't survive a restart
		log.WithError(err).WithField("path", path).Warn("could not persist secret key")
	} else {
		log.WithField("path", path).Info("generated secret key")
	}
	return secret, nil
}

// GenerateToken mints a token for clientName
func (a *AuthService) GenerateToken(clientName string) (string, time.Time, error) {
	now := a.now()
	expiresAt := now.Add(a.tokenExpiry)
	claims := Claims{
		ClientName: clientName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secretKey)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "sign token")
	}
	return signed, expiresAt, nil
}

// ValidateToken verifies signature, algorithm and expiry of tokenString
func (a *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secretKey, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, errors.Combine(ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
