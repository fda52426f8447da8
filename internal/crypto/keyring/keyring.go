// Package keyring derives per-owner symmetric keys and caches them to
// amortize the deliberately expensive key-stretching function.
package keyring

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/crypto/pbkdf2"

	"github.com/avoronov/diary-vault/internal/errs"
)

// Params
const (
	KeyLen      = 32
	PassSaltLen = 32

	// ownerIterations is tuned for per-owner, infrequent derivation
	// (results are cached), not request-rate derivation.
	ownerIterations = 100_000

	// passphraseIterations is lower: export payloads are ephemeral and
	// the derived key is never persisted.
	passphraseIterations = 10_000
)

// Env variables carrying base64-encoded secret material.
const (
	EnvSystemSalt = "DIARY_SYSTEM_SALT"
	EnvSecretSalt = "DIARY_SECRET_SALT"
)

// timeNow is stubbed in tests.
var timeNow = time.Now

// Secrets holds the fixed salt material every owner key is derived from.
type Secrets struct {
	SystemSalt []byte
	SecretSalt []byte
}

// SecretsFromEnv loads salt material from the environment.
func SecretsFromEnv() (Secrets, error) {
	sys, err := saltFromEnv(EnvSystemSalt)
	if err != nil {
		return Secrets{}, err
	}
	sec, err := saltFromEnv(EnvSecretSalt)
	if err != nil {
		return Secrets{}, err
	}
	return Secrets{SystemSalt: sys, SecretSalt: sec}, nil
}

func saltFromEnv(name string) ([]byte, error) {
	v := os.Getenv(name)
	if v == "" {
		return nil, fmt.Errorf("%w: %s not set", errs.ErrKeyDerivation, name)
	}
	b, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not base64: %v", errs.ErrKeyDerivation, name, err)
	}
	return b, nil
}

type cachedKey struct {
	key []byte
	at  time.Time
}

// Keyring derives owner keys and keeps them in a bounded TTL cache.
// A cache hit returns the stored key without re-running PBKDF2; an
// expired entry is re-derived and overwritten in place.
type Keyring struct {
	secrets Secrets
	cache   *lru.Cache
	ttl     time.Duration
}

// New returns a Keyring of the given cache size and key TTL.
// It fails with ErrKeyDerivation when secret material is missing.
func New(secrets Secrets, cacheSize int, ttl time.Duration) (*Keyring, error) {
	if len(secrets.SystemSalt) == 0 || len(secrets.SecretSalt) == 0 {
		return nil, fmt.Errorf("%w: empty salt material", errs.ErrKeyDerivation)
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("%w: cache size %d", errs.ErrKeyDerivation, cacheSize)
	}
	return &Keyring{secrets: secrets, cache: cache, ttl: ttl}, nil
}

// DeriveKey returns the symmetric key for owner. Deterministic for a
// given owner and fixed secret material; distinct owners always get
// distinct keys.
func (k *Keyring) DeriveKey(owner int64) []byte {
	if v, ok := k.cache.Get(owner); ok {
		ck := v.(cachedKey)
		if timeNow().Sub(ck.at) < k.ttl {
			return ck.key
		}
		k.cache.Remove(owner)
	}
	key := k.derive(owner)
	k.cache.Add(owner, cachedKey{key: key, at: timeNow()})
	return key
}

func (k *Keyring) derive(owner int64) []byte {
	secretDigest := sha256.Sum256(k.secrets.SecretSalt)
	base := fmt.Sprintf("diary-vault-%d-%x", owner, secretDigest)
	return pbkdf2.Key([]byte(base), k.secrets.SystemSalt, ownerIterations, KeyLen, sha256.New)
}

// DerivePassphraseKey derives a key from a user-supplied passphrase with
// a fresh random salt, returned so the decrypting side can reconstruct
// the key via PassphraseKey.
func DerivePassphraseKey(passphrase string) (key, salt []byte, err error) {
	salt = make([]byte, PassSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, err
	}
	return PassphraseKey(passphrase, salt), salt, nil
}

// PassphraseKey recomputes the passphrase-derived key for a known salt.
func PassphraseKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, passphraseIterations, KeyLen, sha256.New)
}
