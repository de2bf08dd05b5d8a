package provision

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// FetchTimeout bounds a single key-service request
const FetchTimeout = 10 * time.Second

// maxKeySize caps the response body read from the key service
const maxKeySize = 64 << 10

// PublicKey is an OpenSSH public key whose comment names the account it is installed for
type PublicKey struct {
	Type     string
	Material string
	Comment  string
}

func (k PublicKey) String() string {
	return k.Type + " " + k.Material + " " + k.Comment
}

// FixPublicKey validates key text from the key service and replaces its comment with userName
func FixPublicKey(userName, text string) (PublicKey, error) {
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return PublicKey{}, &InvalidKeyError{UserName: userName, Reason: "the key is empty"}
	}
	if !strings.HasPrefix(parts[0], "ssh-") && !strings.HasPrefix(parts[0], "ecdsa-") {
		return PublicKey{}, &InvalidKeyError{UserName: userName, Reason: `key type must start with "ssh-" or "ecdsa-"`}
	}
	if len(parts) < 2 {
		return PublicKey{}, &InvalidKeyError{UserName: userName, Reason: "key material is missing"}
	}
	if len(parts[1])%4 != 0 {
		return PublicKey{}, &InvalidKeyError{UserName: userName, Reason: "key length modulo 4 is not 0"}
	}
	if strings.Contains(parts[0], "@") || strings.Contains(parts[1], "@") {
		return PublicKey{}, &InvalidKeyError{UserName: userName, Reason: "no space between key and mail address"}
	}

	return PublicKey{Type: parts[0], Material: parts[1], Comment: userName}, nil
}

// Fetcher downloads public keys from the key-distribution service
type Fetcher struct {
	serviceURL string
	client     *http.Client
	tokens     TokenSource
	logger     *logrus.Logger
}

// NewFetcher creates a fetcher for serviceURL; tokens may be nil for unsigned requests
func NewFetcher(serviceURL string, tokens TokenSource, logger *logrus.Logger) *Fetcher {
	return &Fetcher{
		serviceURL: strings.TrimRight(serviceURL, "/"),
		client:     &http.Client{Timeout: FetchTimeout},
		tokens:     tokens,
		logger:     logger,
	}
}

// KeyURL returns the location of userName's public key
func (f *Fetcher) KeyURL(userName string) string {
	return fmt.Sprintf("%s/public-keys/%s/sshkey.pub", f.serviceURL, url.PathEscape(userName))
}

func (f *Fetcher) Fetch(ctx context.Context, userName string) (PublicKey, error) {
	keyURL := f.KeyURL(userName)

	f.logger.WithFields(logrus.Fields{
		"username": userName,
		"url":      keyURL,
		"signed":   f.tokens != nil,
	}).Debug("🔑 Fetching public key")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, keyURL, nil)
	if err != nil {
		return PublicKey{}, &KeySourceError{UserName: userName, URL: f.serviceURL, Err: err}
	}

	if f.tokens != nil {
		token, err := f.tokens.Token(f.serviceURL)
		if err != nil {
			return PublicKey{}, &KeySourceError{UserName: userName, URL: f.serviceURL, Err: fmt.Errorf("failed to sign request: %w", err)}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return PublicKey{}, &KeySourceError{UserName: userName, URL: f.serviceURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return PublicKey{}, &KeySourceError{UserName: userName, URL: f.serviceURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySize))
	if err != nil {
		return PublicKey{}, &KeySourceError{UserName: userName, URL: f.serviceURL, Err: err}
	}

	return FixPublicKey(userName, string(body))
}
