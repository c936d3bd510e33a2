// Package crypto encrypts integration secret payloads at rest. Secrets are
// stored as opaque tokens and decrypted only inside the pipeline just before
// use.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// Box seals and opens JSON secret payloads with AES-GCM. The key is derived
// from the configured application secret via SHA-256.
type Box struct {
	aead cipher.AEAD
}

// NewBox creates a Box from the raw application secret.
func NewBox(secret string) (*Box, error) {
	if secret == "" {
		return nil, eris.New("crypto: empty secret key")
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, eris.Wrap(err, "crypto: new cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, eris.Wrap(err, "crypto: new gcm")
	}
	return &Box{aead: aead}, nil
}

// EncryptPayload serializes the payload to JSON and returns a base64 token
// of nonce || ciphertext.
func (b *Box) EncryptPayload(payload map[string]any) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", eris.Wrap(err, "crypto: marshal payload")
	}
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", eris.Wrap(err, "crypto: nonce")
	}
	sealed := b.aead.Seal(nonce, nonce, data, nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// DecryptPayload opens a token produced by EncryptPayload. Empty or corrupt
// tokens yield an empty payload rather than an error, so a misconfigured
// integration surfaces as "missing field" validation instead of a crash.
func (b *Box) DecryptPayload(token string) map[string]any {
	if token == "" {
		return map[string]any{}
	}
	sealed, err := base64.URLEncoding.DecodeString(token)
	if err != nil || len(sealed) < b.aead.NonceSize() {
		return map[string]any{}
	}
	nonce, ciphertext := sealed[:b.aead.NonceSize()], sealed[b.aead.NonceSize():]
	data, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return map[string]any{}
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil || payload == nil {
		return map[string]any{}
	}
	return payload
}
