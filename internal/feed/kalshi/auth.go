// Package kalshi streams authenticated trade and orderbook data over
// WebSocket, with a public REST adapter for market metadata.
package kalshi

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
)

const wsPath = "/trade-api/ws/v2"

// Signer produces the request signature headers the trade API requires.
// Signatures are RSA-PSS over SHA256 with a fixed salt length of 32; any
// other padding is rejected by the venue.
type Signer struct {
	apiKey string
	key    *rsa.PrivateKey
}

// NewSigner parses an RSA private key in PEM form (PKCS#1 or PKCS#8).
func NewSigner(apiKey, privateKeyPEM string) (*Signer, error) {
	if apiKey == "" {
		return nil, errors.New("api key required")
	}
	key, err := parsePrivateKey([]byte(privateKeyPEM))
	if err != nil {
		return nil, err
	}
	return &Signer{apiKey: apiKey, key: key}, nil
}

// NewSignerFromFile reads the PEM key from disk.
func NewSignerFromFile(apiKey, path string) (*Signer, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	return NewSigner(apiKey, string(pemBytes))
}

// Sign returns the base64 signature over timestampMs + method + path.
func (s *Signer) Sign(timestampMs int64, method, path string) (string, error) {
	msg := strconv.FormatInt(timestampMs, 10) + method + path
	digest := sha256.Sum256([]byte(msg))

	sig, err := rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: 32,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// WSHeaders builds the authentication headers for the WebSocket handshake.
func (s *Signer) WSHeaders(timestampMs int64) (http.Header, error) {
	sig, err := s.Sign(timestampMs, http.MethodGet, wsPath)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("KALSHI-ACCESS-KEY", s.apiKey)
	h.Set("KALSHI-ACCESS-SIGNATURE", sig)
	h.Set("KALSHI-ACCESS-TIMESTAMP", strconv.FormatInt(timestampMs, 10))
	return h, nil
}

// PublicKey exposes the key's public half for verification in tests.
func (s *Signer) PublicKey() *rsa.PublicKey {
	return &s.key.PublicKey
}

func parsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block in private key")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want RSA", parsed)
	}
	return key, nil
}
