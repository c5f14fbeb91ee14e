// Package crypto implements the two-level AES-256-GCM envelope encryption
// used to protect payloads in flight to a target system: a fresh session
// key encrypts the payload, and the active (or base) key encrypts the
// session key. Ported from the original service's exact algorithm
// (normalize master key to 32 bytes via SHA-256, AES-256-GCM with 12-byte
// nonces), constructed explicitly per gateway instance rather than as a
// package-level singleton.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var ErrMasterKeyRequired = errors.New("crypto: master key is required")

const (
	keySize   = 32
	nonceSize = 12
	Algorithm = "AES-256-GCM"
)

// Service provides symmetric encryption and session-key wrapping. A Service
// is constructed once per gateway and injected into the forwarder manager;
// it is not a global.
type Service struct {
	baseKey [keySize]byte

	mu        sync.RWMutex
	activeKey *[keySize]byte
}

// New constructs a Service from a master key of arbitrary length: keys
// shorter than 32 bytes are stretched via SHA-256, longer keys are
// truncated to the first 32 bytes.
func New(masterKey string) (*Service, error) {
	if masterKey == "" {
		return nil, ErrMasterKeyRequired
	}
	return &Service{baseKey: normalizeKey([]byte(masterKey))}, nil
}

func normalizeKey(key []byte) [keySize]byte {
	if len(key) < keySize {
		return sha256.Sum256(key)
	}
	var out [keySize]byte
	copy(out[:], key[:keySize])
	return out
}

// GenerateKey returns 32 random bytes suitable as a session key or as
// administered key material for an EncryptionKey.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return key, nil
}

// UpdateActiveKey sets (or, with nil, clears) the currently active key
// used in place of the base key. At most one key is ever active.
func (s *Service) UpdateActiveKey(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key == nil {
		s.activeKey = nil
		return
	}
	norm := normalizeKey(key)
	s.activeKey = &norm
}

func (s *Service) effectiveKey() [keySize]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeKey != nil {
		return *s.activeKey
	}
	return s.baseKey
}

// EncryptData encrypts data under key (or the effective key if key is
// nil), returning ciphertext and the random nonce used.
func (s *Service) EncryptData(data, key []byte) (ciphertext, nonce []byte, err error) {
	k := s.effectiveKey()
	if key != nil {
		if len(key) < keySize {
			return nil, nil, errors.New("crypto: key must be at least 32 bytes for AES-256")
		}
		copy(k[:], key[:keySize])
	}
	block, err := aes.NewCipher(k[:])
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	ciphertext = gcm.Seal(nil, nonce, data, nil)
	return ciphertext, nonce, nil
}

// DecryptData reverses EncryptData.
func (s *Service) DecryptData(ciphertext, nonce, key []byte) ([]byte, error) {
	k := s.effectiveKey()
	if key != nil {
		if len(key) < keySize {
			return nil, errors.New("crypto: key must be at least 32 bytes for AES-256")
		}
		copy(k[:], key[:keySize])
	}
	block, err := aes.NewCipher(k[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// EncryptedMessage is the wire format for a two-level encrypted payload.
type EncryptedMessage struct {
	Ciphertext   string `json:"ciphertext"`
	Nonce        string `json:"nonce"`
	EncryptedKey string `json:"encrypted_key"`
	KeyNonce     string `json:"key_nonce"`
	Algorithm    string `json:"algorithm"`
}

// EncryptMessage generates a fresh session key, encrypts messageData under
// it, then encrypts the session key itself under the effective key.
func (s *Service) EncryptMessage(messageData []byte) (*EncryptedMessage, error) {
	sessionKey, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	ciphertext, nonce, err := s.EncryptData(messageData, sessionKey)
	if err != nil {
		return nil, err
	}
	encryptedKey, keyNonce, err := s.EncryptData(sessionKey, nil)
	if err != nil {
		return nil, err
	}
	return &EncryptedMessage{
		Ciphertext:   base64.StdEncoding.EncodeToString(ciphertext),
		Nonce:        base64.StdEncoding.EncodeToString(nonce),
		EncryptedKey: base64.StdEncoding.EncodeToString(encryptedKey),
		KeyNonce:     base64.StdEncoding.EncodeToString(keyNonce),
		Algorithm:    Algorithm,
	}, nil
}

// DecryptMessage reverses EncryptMessage.
func (s *Service) DecryptMessage(msg *EncryptedMessage) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(msg.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid ciphertext: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(msg.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid nonce: %w", err)
	}
	encryptedKey, err := base64.StdEncoding.DecodeString(msg.EncryptedKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid encrypted_key: %w", err)
	}
	keyNonce, err := base64.StdEncoding.DecodeString(msg.KeyNonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid key_nonce: %w", err)
	}

	sessionKey, err := s.DecryptData(encryptedKey, keyNonce, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: unwrap session key: %w", err)
	}
	return s.DecryptData(ciphertext, nonce, sessionKey)
}

// WrapPayload JSON-marshals payload and returns the encrypted envelope
// under the "encrypted_payload" key, matching the wire format forwarders
// send.
func (s *Service) WrapPayload(payload map[string]interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	msg, err := s.EncryptMessage(raw)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"encrypted_payload": msg}, nil
}

// UnwrapPayload reverses WrapPayload.
func (s *Service) UnwrapPayload(msg *EncryptedMessage) (map[string]interface{}, error) {
	raw, err := s.DecryptMessage(msg)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("crypto: decrypted payload is not a JSON object: %w", err)
	}
	return out, nil
}
