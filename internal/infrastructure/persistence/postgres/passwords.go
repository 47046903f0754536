package postgres

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

// Password hashers stored in auth_user.password by the backend.
const (
	HasherPBKDF2SHA256 = "pbkdf2_sha256"
	HasherPBKDF2SHA1   = "pbkdf2_sha1"
	HasherBcryptSHA256 = "bcrypt_sha256"
	HasherBcrypt       = "bcrypt"

	// DefaultPBKDF2Iterations matches the backend's Django version.
	DefaultPBKDF2Iterations = 600000
)

// ErrUnknownHasher is returned for encodings produced by hashers we cannot verify.
var ErrUnknownHasher = errors.New("postgres: unknown password hasher")

// VerifyDjangoPassword checks password against a Django-encoded hash.
// An unusable password (leading "!") never matches.
func VerifyDjangoPassword(password, encoded string) (bool, error) {
	if encoded == "" || strings.HasPrefix(encoded, "!") {
		return false, nil
	}

	algorithm, rest, ok := strings.Cut(encoded, "$")
	if !ok {
		return false, fmt.Errorf("%w: malformed hash", ErrUnknownHasher)
	}

	switch algorithm {
	case HasherPBKDF2SHA256:
		return verifyPBKDF2(password, rest, sha256.New)
	case HasherPBKDF2SHA1:
		return verifyPBKDF2(password, rest, sha1.New)
	case HasherBcryptSHA256:
		sum := sha256.Sum256([]byte(password))
		return verifyBcrypt([]byte(hex.EncodeToString(sum[:])), rest)
	case HasherBcrypt:
		return verifyBcrypt([]byte(password), rest)
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownHasher, algorithm)
	}
}

func verifyPBKDF2(password, rest string, h func() hash.Hash) (bool, error) {
	parts := strings.Split(rest, "$")
	if len(parts) != 3 {
		return false, fmt.Errorf("%w: malformed pbkdf2 hash", ErrUnknownHasher)
	}

	iterations, err := strconv.Atoi(parts[0])
	if err != nil || iterations <= 0 {
		return false, fmt.Errorf("%w: bad iteration count", ErrUnknownHasher)
	}
	want, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return false, fmt.Errorf("%w: bad pbkdf2 digest", ErrUnknownHasher)
	}

	got := pbkdf2.Key([]byte(password), []byte(parts[1]), iterations, len(want), h)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func verifyBcrypt(password []byte, hashed string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hashed), password)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %w", ErrUnknownHasher, err)
	}
}

// MakeDjangoPassword encodes password with PBKDF2-SHA256 and a random salt,
// in the format the backend's login accepts. Used to seed development data.
func MakeDjangoPassword(password string, iterations int) (string, error) {
	if iterations <= 0 {
		iterations = DefaultPBKDF2Iterations
	}

	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	salt := base64.RawURLEncoding.EncodeToString(raw)

	digest := pbkdf2.Key([]byte(password), []byte(salt), iterations, sha256.Size, sha256.New)
	return fmt.Sprintf("%s$%d$%s$%s",
		HasherPBKDF2SHA256, iterations, salt, base64.StdEncoding.EncodeToString(digest)), nil
}
