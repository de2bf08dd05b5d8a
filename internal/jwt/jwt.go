package jwt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/sirupsen/logrus"
)

const (
	Algorithm = "ES384"
	Issuer    = "ssh-access-granting-service"

	PrivateKeyFile = "jwk.private.json"
	PublicKeyFile  = "jwk.public.json"

	// DefaultTTL bounds the lifetime of tokens attached to key requests
	DefaultTTL = 5 * time.Minute
)

// HostClaims identify the host a request is sent from
type HostClaims struct {
	HostID string `json:"host-id,omitempty"`
	jwt.Claims
}

type Manager struct {
	logger     *logrus.Logger
	subject    string
	hostID     string
	now        func() time.Time
	privateJWK jose.JSONWebKey
	publicJWK  jose.JSONWebKey
	signer     jose.Signer
}

// NewManager creates a manager issuing tokens for subject (normally the hostname)
func NewManager(subject, hostID string, logger *logrus.Logger) *Manager {
	return &Manager{
		logger:  logger,
		subject: subject,
		hostID:  hostID,
		now:     time.Now,
	}
}

func (m *Manager) LoadKey(path string) error {
	privateKeyPath := filepath.Join(path, PrivateKeyFile)
	publicKeyPath := filepath.Join(path, PublicKeyFile)

	m.logger.WithFields(logrus.Fields{
		"private_key": privateKeyPath,
		"public_key":  publicKeyPath,
	}).Debug("Loading JWT keys from path")

	if _, err := os.Stat(privateKeyPath); os.IsNotExist(err) {
		return fmt.Errorf("JWT private key not found at %s (generate keys with: ssh-access-granting-service keygen --key-path %s)", privateKeyPath, path)
	}

	privateJWK, err := loadJWK(privateKeyPath)
	if err != nil {
		return fmt.Errorf("failed to load private JWK from %s: %w (regenerate with: ssh-access-granting-service keygen --key-path %s --force)", privateKeyPath, err, path)
	}

	publicJWK, err := loadJWK(publicKeyPath)
	if err != nil {
		return fmt.Errorf("failed to load public JWK from %s: %w", publicKeyPath, err)
	}

	if err := m.useKeys(privateJWK, publicJWK); err != nil {
		return err
	}

	m.logger.WithField("path", privateKeyPath).Debug("Loaded JWT JWK keys")
	return nil
}

func (m *Manager) GenerateKeyPair(path string) error {
	if err := m.checkDirectoryPermissions(path); err != nil {
		return fmt.Errorf("JWT key directory not accessible: %w", err)
	}

	m.logger.WithField("path", path).Info("Generating new JWT JWK key pair")

	privateKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate key pair: %w", err)
	}

	privateJWK := jose.JSONWebKey{
		Key:       privateKey,
		Algorithm: string(jose.ES384),
		Use:       "sig",
	}
	publicJWK := privateJWK.Public()

	privateKeyPath := filepath.Join(path, PrivateKeyFile)
	if err := saveJWK(privateKeyPath, privateJWK, 0o600); err != nil {
		return fmt.Errorf("failed to save private JWK: %w", err)
	}

	publicKeyPath := filepath.Join(path, PublicKeyFile)
	if err := saveJWK(publicKeyPath, publicJWK, 0o644); err != nil {
		return fmt.Errorf("failed to save public JWK: %w", err)
	}

	if err := os.Chmod(privateKeyPath, 0o400); err != nil {
		m.logger.WithError(err).Warn("Failed to set restrictive permissions on private key")
	}

	if err := m.useKeys(privateJWK, publicJWK); err != nil {
		return err
	}

	m.logger.Info("Generated new ES384 JWK key pair")
	return nil
}

// PublicJWK returns the verification key of the loaded pair
func (m *Manager) PublicJWK() jose.JSONWebKey {
	return m.publicJWK
}

func (m *Manager) useKeys(privateJWK, publicJWK jose.JSONWebKey) error {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES384, Key: privateJWK}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	m.privateJWK = privateJWK
	m.publicJWK = publicJWK
	m.signer = signer
	return nil
}

func (m *Manager) checkDirectoryPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(path, 0o700); err != nil {
				return fmt.Errorf("cannot create directory %s: %w", path, err)
			}
			m.logger.WithField("path", path).Info("Created JWT key directory")
			return nil
		}
		return fmt.Errorf("cannot access directory %s: %w", path, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}

	return nil
}

func loadJWK(path string) (jose.JSONWebKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return jose.JSONWebKey{}, fmt.Errorf("cannot read JWK file: %w", err)
	}

	var jwk jose.JSONWebKey
	if err := json.Unmarshal(data, &jwk); err != nil {
		return jose.JSONWebKey{}, fmt.Errorf("failed to parse JWK JSON: %w", err)
	}

	return jwk, nil
}

func saveJWK(path string, jwk jose.JSONWebKey, perm os.FileMode) error {
	data, err := json.MarshalIndent(jwk, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JWK: %w", err)
	}

	return os.WriteFile(path, data, perm)
}

// CreateJWT signs a token for audience that expires after ttl
func (m *Manager) CreateJWT(audience string, ttl time.Duration) (string, error) {
	if m.signer == nil {
		return "", fmt.Errorf("signer not initialized - call LoadKey or GenerateKeyPair first")
	}

	now := m.now()
	claims := HostClaims{
		HostID: m.hostID,
		Claims: jwt.Claims{
			Issuer:    Issuer,
			Subject:   m.subject,
			Audience:  jwt.Audience{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token, err := jwt.Signed(m.signer).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to create JWT: %w", err)
	}

	return token, nil
}

// Token returns a short-lived token for audience
func (m *Manager) Token(audience string) (string, error) {
	return m.CreateJWT(audience, DefaultTTL)
}

// Verify checks token against the loaded public key and returns its claims
func (m *Manager) Verify(token, audience string) (*HostClaims, error) {
	parsed, err := jwt.ParseSigned(token)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWT: %w", err)
	}

	var claims HostClaims
	if err := parsed.Claims(m.publicJWK.Key, &claims); err != nil {
		return nil, fmt.Errorf("invalid JWT signature: %w", err)
	}

	if err := claims.ValidateWithLeeway(jwt.Expected{
		Issuer:   Issuer,
		Audience: jwt.Audience{audience},
		Time:     m.now(),
	}, 0); err != nil {
		return nil, fmt.Errorf("invalid JWT claims: %w", err)
	}

	return &claims, nil
}
