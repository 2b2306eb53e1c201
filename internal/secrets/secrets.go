// Package secrets seals individual config values with age.
//
// A sealed value is written as ENC[<base64 age ciphertext>] anywhere a string
// is expected in the config file. The relay opens every sealed value once at
// load time with an identity from the environment, the config or the default
// key file.
package secrets

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/spf13/viper"
)

const (
	sealedPrefix = "ENC["
	sealedSuffix = "]"

	// KeyFilename is the identity file name under the config directory.
	KeyFilename = "age.key"

	// EnvKey holds a raw AGE-SECRET-KEY-1... identity.
	EnvKey = "VOXRELAY_AGE_KEY"
	// EnvKeyFile holds the path of an identity file.
	EnvKeyFile = "VOXRELAY_AGE_KEY_FILE"

	// IdentityConfigKey is the config key naming an identity file.
	IdentityConfigKey = "secrets.identity"
)

// ErrNoIdentity means the config holds sealed values but no identity is
// configured anywhere.
var ErrNoIdentity = errors.New("config contains ENC[...] values but no age identity was found")

// IsSealed reports whether value has the ENC[...] form with a payload.
func IsSealed(value string) bool {
	if len(value) <= len(sealedPrefix)+len(sealedSuffix) {
		return false
	}
	return strings.HasPrefix(value, sealedPrefix) && strings.HasSuffix(value, sealedSuffix)
}

// Seal encrypts plaintext to the recipients and wraps it as ENC[...].
func Seal(plaintext string, recipients ...age.Recipient) (string, error) {
	var ciphertext bytes.Buffer
	w, err := age.Encrypt(&ciphertext, recipients...)
	if err != nil {
		return "", fmt.Errorf("age encrypt: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("write plaintext: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close encryptor: %w", err)
	}
	return sealedPrefix + base64.StdEncoding.EncodeToString(ciphertext.Bytes()) + sealedSuffix, nil
}

// Open decrypts an ENC[...] value.
func Open(sealed string, identities ...age.Identity) (string, error) {
	if !IsSealed(sealed) {
		return "", errors.New("value is not sealed")
	}
	payload := strings.TrimSuffix(strings.TrimPrefix(sealed, sealedPrefix), sealedSuffix)

	ciphertext, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("decode sealed value: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(ciphertext), identities...)
	if err != nil {
		return "", fmt.Errorf("age decrypt: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read plaintext: %w", err)
	}
	return string(plaintext), nil
}

// NewIdentity generates an X25519 identity.
func NewIdentity() (*age.X25519Identity, error) {
	return age.GenerateX25519Identity()
}

// DefaultKeyPath is ~/.config/voxrelay/age.key.
func DefaultKeyPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "voxrelay", KeyFilename), nil
}

// ReadIdentityFile parses every identity in an age key file.
func ReadIdentityFile(path string) ([]age.Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open identity file: %w", err)
	}
	defer f.Close()

	ids, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parse identity file %s: %w", path, err)
	}
	return ids, nil
}

// ResolveIdentity looks for an identity in order: VOXRELAY_AGE_KEY,
// VOXRELAY_AGE_KEY_FILE, secrets.identity in v, then the default key path.
// It returns nil, nil when none is configured.
func ResolveIdentity(v *viper.Viper) ([]age.Identity, error) {
	if raw := strings.TrimSpace(os.Getenv(EnvKey)); raw != "" {
		id, err := age.ParseX25519Identity(raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", EnvKey, err)
		}
		return []age.Identity{id}, nil
	}

	if path := os.Getenv(EnvKeyFile); path != "" {
		return ReadIdentityFile(path)
	}

	if v != nil {
		if path := v.GetString(IdentityConfigKey); path != "" {
			return ReadIdentityFile(expandHome(path))
		}
	}

	path, err := DefaultKeyPath()
	if err != nil {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	return ReadIdentityFile(path)
}

// OpenConfig replaces every sealed string in v with its plaintext. Values
// that are not strings never match the ENC[...] form and are left alone.
// It returns the keys that were opened.
func OpenConfig(v *viper.Viper) ([]string, error) {
	var sealed []string
	for _, key := range v.AllKeys() {
		if IsSealed(v.GetString(key)) {
			sealed = append(sealed, key)
		}
	}
	if len(sealed) == 0 {
		return nil, nil
	}

	ids, err := ResolveIdentity(v)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNoIdentity
	}

	for _, key := range sealed {
		plaintext, err := Open(v.GetString(key), ids...)
		if err != nil {
			return nil, fmt.Errorf("open config key %q: %w", key, err)
		}
		v.Set(key, plaintext)
	}
	return sealed, nil
}

// WriteIdentityFile stores id at path with owner-only permissions. An
// existing file is never overwritten.
func WriteIdentityFile(path string, id *age.X25519Identity, createdAt string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	content := fmt.Sprintf("# created: %s\n# public key: %s\n%s\n", createdAt, id.Recipient(), id)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("key file already exists: %s", path)
		}
		return fmt.Errorf("create key file: %w", err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return fmt.Errorf("write key file: %w", err)
	}
	return f.Close()
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
