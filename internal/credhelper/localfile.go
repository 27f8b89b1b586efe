package credhelper

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/user"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// LocalFileValidator checks the local OS account against a
// bcrypt-hashed credentials file, for environments with no PAM stack
// (CI, containers). Each line of the file is "username:bcrypt_hash";
// blank lines and lines starting with "#" are ignored.
type LocalFileValidator struct {
	Path string

	// secretFunc supplies the secret to hash-compare, overridden in
	// tests. In production it reads RHOST_CREDENTIAL_SECRET, since the
	// main wire protocol carries no credential exchange to source one
	// from.
	secretFunc func() (string, error)
}

// NewLocalFileValidator builds a validator reading credentials from path.
func NewLocalFileValidator(path string) *LocalFileValidator {
	return &LocalFileValidator{Path: path, secretFunc: defaultSecretFunc}
}

func defaultSecretFunc() (string, error) {
	secret, ok := os.LookupEnv("RHOST_CREDENTIAL_SECRET")
	if !ok {
		return "", fmt.Errorf("credhelper/localfile: RHOST_CREDENTIAL_SECRET not set")
	}
	return secret, nil
}

// Validate looks up the current OS user's line in the credentials
// file and bcrypt-compares it against the configured secret.
func (v *LocalFileValidator) Validate(ctx context.Context) error {
	u, err := user.Current()
	if err != nil {
		return fmt.Errorf("credhelper/localfile: resolve current user: %w", err)
	}

	secretFn := v.secretFunc
	if secretFn == nil {
		secretFn = defaultSecretFunc
	}
	secret, err := secretFn()
	if err != nil {
		return err
	}

	hash, err := lookupHash(v.Path, u.Username)
	if err != nil {
		return err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return fmt.Errorf("credhelper/localfile: credential mismatch for %s", u.Username)
	}
	return nil
}

func lookupHash(path, username string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("credhelper/localfile: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		if parts[0] == username {
			return parts[1], nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("credhelper/localfile: read %s: %w", path, err)
	}
	return "", fmt.Errorf("credhelper/localfile: no entry for user %s in %s", username, path)
}
