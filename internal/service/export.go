package service

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/avoronov/diary-vault/internal/crypto/blobcipher"
	"github.com/avoronov/diary-vault/internal/crypto/keyring"
	"github.com/avoronov/diary-vault/internal/errs"
	"github.com/avoronov/diary-vault/internal/model"
)

// sharedFormatVersion is the on-the-wire version of export payloads.
const sharedFormatVersion = 1

// ExportForSharing seals entries under a key derived from a one-time
// passphrase. The emitted payload is base64(salt || nonce || ciphertext):
// one opaque string carries everything decryption needs besides the
// passphrase itself, so it transports as a file or message attachment.
func (d *Diary) ExportForSharing(entries []model.Entry, passphrase string) (string, error) {
	if passphrase == "" {
		return "", fmt.Errorf("%w: empty passphrase", errs.ErrValidation)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	pkg := model.SharedPackage{
		FormatVersion: sharedFormatVersion,
		PackageID:     id,
		Entries:       entries,
	}
	plaintext, err := json.Marshal(pkg)
	if err != nil {
		return "", err
	}
	key, salt, err := keyring.DerivePassphraseKey(passphrase)
	if err != nil {
		return "", err
	}
	blob, err := blobcipher.Seal(key, plaintext)
	if err != nil {
		return "", err
	}
	payload := make([]byte, 0, len(salt)+len(blob))
	payload = append(payload, salt...)
	payload = append(payload, blob...)
	return base64.StdEncoding.EncodeToString(payload), nil
}

// ImportShared opens a payload produced by ExportForSharing. A wrong
// passphrase, corrupted or truncated payload all fail closed with
// ErrDecrypt; the caller surfaces it as "wrong password".
func (d *Diary) ImportShared(payload, passphrase string) ([]model.Entry, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload not base64", errs.ErrDecrypt)
	}
	if len(raw) <= keyring.PassSaltLen {
		return nil, fmt.Errorf("%w: payload too short", errs.ErrDecrypt)
	}
	salt, blob := raw[:keyring.PassSaltLen], raw[keyring.PassSaltLen:]
	plaintext, err := blobcipher.Open(keyring.PassphraseKey(passphrase, salt), blob)
	if err != nil {
		return nil, err
	}
	var pkg model.SharedPackage
	if err := json.Unmarshal(plaintext, &pkg); err != nil {
		return nil, fmt.Errorf("%w: bad package", errs.ErrDecrypt)
	}
	if pkg.FormatVersion != sharedFormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", errs.ErrValidation, pkg.FormatVersion)
	}
	return pkg.Entries, nil
}
