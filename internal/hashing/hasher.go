package hashing

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"storefront-guard/internal/config"
	"storefront-guard/internal/util"

	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrInvalidHash         = errors.New("invalid hash format")
	ErrUnknownPepper       = errors.New("pepper version not found")
	ErrIncompatibleVersion = errors.New("incompatible hash algorithm")
)

const (
	algorithm  = "argon2id-v1"
	otpContext = "otp"
	pepperInfo = "storefront-guard/otp-pepper/v"
)

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type Pepper struct {
	Value     string
	CreatedAt time.Time
	Version   int
}

// Hasher peppers every hash. Version 1 is the configured pepper itself and
// each later version is derived from it, so every process sharing
// HASHING_PEPPER agrees on the value behind any version.
type Hasher struct {
	params        Argon2Params
	master        string
	currentPepper *Pepper
	derived       map[int]string
	mu            sync.RWMutex
}

// HashResult is what gets persisted in place of a plaintext code.
type HashResult struct {
	Hash          string `json:"hash"`
	Salt          string `json:"salt"`
	PepperVersion int    `json:"pepper_version"`
	Algorithm     string `json:"algorithm"`
}

// NewHasher builds a hasher from the hashing section of the config. Without a
// configured pepper a random one is generated, which only suits single-process
// deployments.
func NewHasher(cfg *config.Config) *Hasher {
	params := Argon2Params{
		Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
		Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
		Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
		SaltLength:  16,
		KeyLength:   32,
	}

	pepper := cfg.Hashing.Pepper
	if pepper == "" {
		util.Warn("HASHING_PEPPER not set, using an ephemeral pepper")
	}
	return New(params, pepper)
}

// New returns a hasher using the given pepper, or a random one if empty.
func New(params Argon2Params, pepper string) *Hasher {
	if pepper == "" {
		pepper = randomPepper()
	}
	h := &Hasher{params: params, master: pepper, derived: make(map[int]string)}
	h.currentPepper = &Pepper{Value: pepper, CreatedAt: time.Now(), Version: 1}
	return h
}

func randomPepper() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		util.Fatal("Failed to generate pepper", zap.Error(err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// Rotate moves new hashes to the next pepper version. Hashes made under
// any earlier version still verify.
func (h *Hasher) Rotate() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	version := h.currentPepper.Version + 1
	value, err := h.deriveLocked(version)
	if err != nil {
		util.Error("Pepper rotation failed", zap.Int("version", version), zap.Error(err))
		return h.currentPepper.Version
	}
	h.currentPepper = &Pepper{Value: value, CreatedAt: time.Now(), Version: version}

	util.Info("Pepper rotated", zap.Int("version", version))
	return version
}

// deriveLocked expands the master pepper for version with HKDF-SHA256.
// h.mu must be held for writing.
func (h *Hasher) deriveLocked(version int) (string, error) {
	if version == 1 {
		return h.master, nil
	}
	if v, ok := h.derived[version]; ok {
		return v, nil
	}

	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(h.master), nil, []byte(pepperInfo+strconv.Itoa(version)))
	if _, err := io.ReadFull(r, key); err != nil {
		return "", fmt.Errorf("derive pepper v%d: %w", version, err)
	}
	value := base64.RawURLEncoding.EncodeToString(key)
	h.derived[version] = value
	return value, nil
}

// StartPepperRotation rotates every interval until ctx is cancelled.
func (h *Hasher) StartPepperRotation(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.Rotate()
			}
		}
	}()
}

func (h *Hasher) HashOTP(otp string) (*HashResult, error) {
	return h.hashWithPepper(otp, otpContext)
}

func (h *Hasher) VerifyOTP(otp string, hashResult *HashResult) (bool, error) {
	return h.verifyWithPepper(otp, hashResult, otpContext)
}

func (h *Hasher) hashWithPepper(data, context string) (*HashResult, error) {
	h.mu.RLock()
	pepper := h.currentPepper
	h.mu.RUnlock()

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey(
		[]byte(data+pepper.Value+context),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return &HashResult{
		Hash:          base64.RawURLEncoding.EncodeToString(hash),
		Salt:          base64.RawURLEncoding.EncodeToString(salt),
		PepperVersion: pepper.Version,
		Algorithm:     algorithm,
	}, nil
}

func (h *Hasher) verifyWithPepper(data string, hashResult *HashResult, context string) (bool, error) {
	if hashResult == nil {
		return false, ErrInvalidHash
	}
	if hashResult.Algorithm != algorithm {
		return false, ErrIncompatibleVersion
	}

	pepper, err := h.getPepper(hashResult.PepperVersion)
	if err != nil {
		return false, err
	}

	salt, err := base64.RawURLEncoding.DecodeString(hashResult.Salt)
	if err != nil {
		return false, ErrInvalidHash
	}
	expectedHash, err := base64.RawURLEncoding.DecodeString(hashResult.Hash)
	if err != nil || len(expectedHash) == 0 {
		return false, ErrInvalidHash
	}

	computedHash := argon2.IDKey(
		[]byte(data+pepper+context),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		uint32(len(expectedHash)),
	)

	return subtle.ConstantTimeCompare(computedHash, expectedHash) == 1, nil
}

func (h *Hasher) getPepper(version int) (string, error) {
	if version < 1 {
		return "", ErrUnknownPepper
	}

	h.mu.RLock()
	if h.currentPepper.Version == version {
		v := h.currentPepper.Value
		h.mu.RUnlock()
		return v, nil
	}
	h.mu.RUnlock()

	// A peer may already hash under a version this process has not reached.
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.deriveLocked(version)
}
