package pass

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/skip2/go-qrcode"
)

var ErrInvalidPass = errors.New("invalid pass")

// Claims is what a participant pass proves.
type Claims struct {
	EventID  string    `json:"event_id"`
	UserID   string    `json:"user_id"`
	IssuedAt time.Time `json:"issued_at"`
}

type Generator struct {
	secret []byte
}

func NewGenerator(secret string) *Generator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &Generator{secret: hashed[:]}
}

// Token returns the sealed, URL-safe form of c.
func (g *Generator) Token(c Claims) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return seal(data, g.secret)
}

// PNG renders c as a QR code image whose content is Token(c).
func (g *Generator) PNG(c Claims, size int) ([]byte, error) {
	token, err := g.Token(c)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(token, qrcode.Medium, size)
}

// Verify opens a token produced by Token. Tampered or foreign tokens fail
// with ErrInvalidPass.
func (g *Generator) Verify(token string) (*Claims, error) {
	data, err := open(token, g.secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPass, err)
	}
	var c Claims
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPass, err)
	}
	return &c, nil
}

func seal(data, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, data, nil)
	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

func open(token string, key []byte) ([]byte, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(raw) < gcm.NonceSize() {
		return nil, errors.New("token too short")
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
