// Package security provides credential encryption and order-placement guards.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"

	"banknifty-trader/internal/config"
)

const (
	// EncryptionKeySize is the size of the AES-256 key in bytes.
	EncryptionKeySize = 32
	// SaltSize is the size of the salt for key derivation.
	SaltSize = 16
	// NonceSize is the size of the GCM nonce.
	NonceSize = 12
	// PBKDF2Iterations is the number of iterations for key derivation.
	PBKDF2Iterations = 100000
)

// EncryptedCredentials is the on-disk format of credentials.enc.
type EncryptedCredentials struct {
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
	Version    int    `json:"version"`
}

// CredentialManager encrypts broker credentials at rest with a master
// password.
type CredentialManager struct {
	configDir string
}

// NewCredentialManager creates a credential manager rooted at configDir.
func NewCredentialManager(configDir string) *CredentialManager {
	return &CredentialManager{configDir: configDir}
}

// EncryptedPath returns the location of the encrypted credential file.
func (cm *CredentialManager) EncryptedPath() string {
	return filepath.Join(cm.configDir, "credentials.enc")
}

// Save encrypts credentials and writes them to disk.
func (cm *CredentialManager) Save(masterPassword string, creds config.ZerodhaCredentials) error {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("generating salt: %w", err)
	}
	key := deriveKey(masterPassword, salt)

	plaintext, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("serializing credentials: %w", err)
	}

	nonce, ciphertext, err := encrypt(plaintext, key)
	if err != nil {
		return fmt.Errorf("encrypting credentials: %w", err)
	}

	data, err := json.MarshalIndent(&EncryptedCredentials{
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Version:    1,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing encrypted credentials: %w", err)
	}

	if err := os.MkdirAll(cm.configDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(cm.EncryptedPath(), data, 0600); err != nil {
		return fmt.Errorf("writing encrypted credentials: %w", err)
	}
	return nil
}

// Load decrypts credentials from disk. A wrong master password fails the
// GCM authentication check.
func (cm *CredentialManager) Load(masterPassword string) (config.ZerodhaCredentials, error) {
	var creds config.ZerodhaCredentials

	data, err := os.ReadFile(cm.EncryptedPath())
	if err != nil {
		return creds, fmt.Errorf("reading encrypted credentials: %w", err)
	}

	var enc EncryptedCredentials
	if err := json.Unmarshal(data, &enc); err != nil {
		return creds, fmt.Errorf("parsing encrypted credentials: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(enc.Salt)
	if err != nil {
		return creds, fmt.Errorf("decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(enc.Nonce)
	if err != nil {
		return creds, fmt.Errorf("decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(enc.Ciphertext)
	if err != nil {
		return creds, fmt.Errorf("decoding ciphertext: %w", err)
	}

	key := deriveKey(masterPassword, salt)
	plaintext, err := decrypt(ciphertext, key, nonce)
	if err != nil {
		return creds, fmt.Errorf("decrypting credentials: %w", err)
	}
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return creds, fmt.Errorf("parsing credentials: %w", err)
	}
	return creds, nil
}

// deriveKey derives an encryption key from a password using PBKDF2.
func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, EncryptionKeySize, sha256.New)
}

// encrypt encrypts plaintext using AES-256-GCM.
func encrypt(plaintext, key []byte) (nonce, ciphertext []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("creating GCM: %w", err)
	}

	nonce = make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}
	return nonce, gcm.Seal(nil, nonce, plaintext, nil), nil
}

// decrypt decrypts ciphertext using AES-256-GCM.
func decrypt(ciphertext, key, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return plaintext, nil
}
