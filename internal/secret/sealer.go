// Package secret seals provider credentials at rest with AES-256-GCM.
package secret

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	envelopePrefix = "payagg.secret.v1:"
	algorithm      = "aes-256-gcm"
)

var ErrKeyMismatch = errors.New("secret: key id mismatch")

type envelope struct {
	KeyID      string `json:"kid"`
	Algorithm  string `json:"alg"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Sealer encrypts and decrypts opaque blobs. Error messages never carry the
// plaintext or the ciphertext.
type Sealer struct {
	key   []byte
	keyID string
}

// NewSealer derives a 32-byte AES key from keyMaterial.
func NewSealer(keyMaterial, keyID string) (*Sealer, error) {
	material := bytes.TrimSpace([]byte(keyMaterial))
	if len(material) == 0 {
		return nil, fmt.Errorf("secret: key material is required")
	}
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		keyID = "app-key"
	}
	sum := sha256.Sum256(material)
	return &Sealer{key: sum[:], keyID: keyID}, nil
}

func (s *Sealer) KeyID() string { return s.keyID }

func (s *Sealer) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("secret: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secret: create gcm: %w", err)
	}
	return aead, nil
}

func (s *Sealer) Seal(_ context.Context, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("secret: plaintext is required")
	}
	aead, err := s.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("secret: nonce generation failed: %w", err)
	}

	data, err := json.Marshal(envelope{
		KeyID:      s.keyID,
		Algorithm:  algorithm,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, plaintext, []byte(s.keyID))),
	})
	if err != nil {
		return nil, fmt.Errorf("secret: encode envelope: %w", err)
	}
	return append([]byte(envelopePrefix), data...), nil
}

func (s *Sealer) Open(_ context.Context, sealed []byte) ([]byte, error) {
	payload, ok := bytes.CutPrefix(sealed, []byte(envelopePrefix))
	if !ok {
		return nil, fmt.Errorf("secret: invalid envelope prefix")
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("secret: malformed envelope")
	}
	if env.Algorithm != algorithm {
		return nil, fmt.Errorf("secret: unsupported algorithm %q", env.Algorithm)
	}
	if env.KeyID != s.keyID {
		return nil, ErrKeyMismatch
	}

	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("secret: malformed nonce")
	}
	ct, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("secret: malformed ciphertext")
	}

	aead, err := s.gcm()
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("secret: malformed nonce")
	}
	plaintext, err := aead.Open(nil, nonce, ct, []byte(env.KeyID))
	if err != nil {
		return nil, fmt.Errorf("secret: decrypt failed")
	}
	return plaintext, nil
}
