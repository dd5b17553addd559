package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"go.uber.org/zap"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

const (
	version          = "v1"
	localKeyID       = "local"
	defaultCacheSize = 1000
)

// EncryptedData is an envelope: the value sealed with a data key, and the
// data key sealed with a master key.
type EncryptedData struct {
	EncryptedValue string    `json:"encrypted_value"`
	EncryptedDEK   string    `json:"encrypted_dek"`
	KeyID          string    `json:"key_id"`
	Purpose        string    `json:"purpose"`
	Version        string    `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
}

// KMSAPI is the subset of the AWS KMS client used for envelope encryption.
type KMSAPI interface {
	GenerateDataKey(ctx context.Context, in *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

type dataKey struct {
	plaintext  []byte
	ciphertext []byte
	keyID      string
}

// Manager seals short sensitive values (phone numbers in journal events).
// With KMS configured data keys come from KMS; otherwise they are wrapped
// with a local master key.
type Manager struct {
	kms       KMSAPI
	kmsKeyID  string
	masterKey []byte
	logger    *zap.Logger

	mu        sync.Mutex
	keyCache  map[string][]byte
	cacheSize int
}

// NewKMSManager uses AWS KMS key keyID for data keys.
func NewKMSManager(client KMSAPI, keyID string, cacheSize int, logger *zap.Logger) *Manager {
	m := newManager(cacheSize, logger)
	m.kms = client
	m.kmsKeyID = keyID
	return m
}

// NewLocalManager derives a master key from secret. An empty secret yields a
// random key, so sealed values cannot be opened after a restart.
func NewLocalManager(secret string, cacheSize int, logger *zap.Logger) *Manager {
	m := newManager(cacheSize, logger)
	if secret == "" {
		m.masterKey = make([]byte, 32)
		if _, err := rand.Read(m.masterKey); err != nil {
			panic("failed to generate local master key: " + err.Error())
		}
		logger.Warn("LOCAL_ENCRYPTION_KEY not set, using an ephemeral master key")
	} else {
		sum := sha256.Sum256([]byte(secret))
		m.masterKey = sum[:]
	}
	return m
}

func newManager(cacheSize int, logger *zap.Logger) *Manager {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	return &Manager{
		logger:    logger,
		keyCache:  make(map[string][]byte),
		cacheSize: cacheSize,
	}
}

func (m *Manager) generateDataKey(ctx context.Context, purpose string) (*dataKey, error) {
	if m.kms != nil {
		out, err := m.kms.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
			KeyId:             aws.String(m.kmsKeyID),
			KeySpec:           types.DataKeySpecAes256,
			EncryptionContext: map[string]string{"purpose": purpose},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to generate data key: %w", err)
		}
		return &dataKey{plaintext: out.Plaintext, ciphertext: out.CiphertextBlob, keyID: m.kmsKeyID}, nil
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}
	wrapped, err := seal(m.masterKey, key, []byte(purpose))
	if err != nil {
		return nil, err
	}
	return &dataKey{plaintext: key, ciphertext: wrapped, keyID: localKeyID}, nil
}

func (m *Manager) unwrapDataKey(ctx context.Context, data *EncryptedData, wrapped []byte) ([]byte, error) {
	if data.KeyID == localKeyID {
		if m.masterKey == nil {
			return nil, fmt.Errorf("%w: local key not available", ErrDecryptionFailed)
		}
		return open(m.masterKey, wrapped, []byte(data.Purpose))
	}
	if m.kms == nil {
		return nil, fmt.Errorf("%w: kms not configured", ErrDecryptionFailed)
	}

	out, err := m.kms.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob:    wrapped,
		KeyId:             aws.String(data.KeyID),
		EncryptionContext: map[string]string{"purpose": data.Purpose},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decrypt data key: %v", ErrDecryptionFailed, err)
	}
	return out.Plaintext, nil
}

// Seal encrypts plaintext with a fresh data key bound to purpose.
func (m *Manager) Seal(ctx context.Context, plaintext, purpose string) (*EncryptedData, error) {
	dk, err := m.generateDataKey(ctx, purpose)
	if err != nil {
		return nil, err
	}

	ciphertext, err := seal(dk.plaintext, []byte(plaintext), []byte(purpose))
	if err != nil {
		return nil, err
	}

	encDEK := base64.StdEncoding.EncodeToString(dk.ciphertext)
	m.cacheKey(encDEK, dk.plaintext)

	return &EncryptedData{
		EncryptedValue: base64.StdEncoding.EncodeToString(ciphertext),
		EncryptedDEK:   encDEK,
		KeyID:          dk.keyID,
		Purpose:        purpose,
		Version:        version,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// Open reverses Seal.
func (m *Manager) Open(ctx context.Context, data *EncryptedData) (string, error) {
	if data == nil || data.Version != version {
		return "", fmt.Errorf("%w: unsupported envelope", ErrDecryptionFailed)
	}

	key, ok := m.cachedKey(data.EncryptedDEK)
	if !ok {
		wrapped, err := base64.StdEncoding.DecodeString(data.EncryptedDEK)
		if err != nil {
			return "", fmt.Errorf("%w: invalid data key encoding", ErrDecryptionFailed)
		}
		key, err = m.unwrapDataKey(ctx, data, wrapped)
		if err != nil {
			return "", err
		}
		m.cacheKey(data.EncryptedDEK, key)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(data.EncryptedValue)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext encoding", ErrDecryptionFailed)
	}
	plaintext, err := open(key, ciphertext, []byte(data.Purpose))
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (m *Manager) cachedKey(encDEK string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keyCache[encDEK]
	return k, ok
}

// cacheKey drops the whole cache once it is full.
func (m *Manager) cacheKey(encDEK string, key []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.keyCache) >= m.cacheSize {
		m.keyCache = make(map[string][]byte)
	}
	m.keyCache[encDEK] = key
}

func (m *Manager) CacheSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keyCache)
}

func seal(key, plaintext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

func open(key, ciphertext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
