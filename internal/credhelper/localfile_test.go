package credhelper

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func writeCredFile(t *testing.T, username, secret string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt.GenerateFromPassword: %v", err)
	}
	path := filepath.Join(t.TempDir(), "credentials")
	content := fmt.Sprintf("# comment\n\n%s:%s\n", username, hash)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func currentUsername(t *testing.T) string {
	t.Helper()
	u, err := user.Current()
	if err != nil {
		t.Skipf("cannot resolve current user in this environment: %v", err)
	}
	return u.Username
}

func TestLocalFileValidator_AcceptsMatchingSecret(t *testing.T) {
	username := currentUsername(t)
	path := writeCredFile(t, username, "correct-horse")

	v := NewLocalFileValidator(path)
	v.secretFunc = func() (string, error) { return "correct-horse", nil }

	if err := v.Validate(nil); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLocalFileValidator_RejectsWrongSecret(t *testing.T) {
	username := currentUsername(t)
	path := writeCredFile(t, username, "correct-horse")

	v := NewLocalFileValidator(path)
	v.secretFunc = func() (string, error) { return "wrong-secret", nil }

	if err := v.Validate(nil); err == nil {
		t.Fatal("expected validation to fail for a mismatched secret")
	}
}

func TestLocalFileValidator_RejectsUnknownUser(t *testing.T) {
	path := writeCredFile(t, "someone-else", "correct-horse")

	v := NewLocalFileValidator(path)
	v.secretFunc = func() (string, error) { return "correct-horse", nil }

	if err := v.Validate(nil); err == nil {
		t.Fatal("expected validation to fail when the current user has no entry")
	}
}

func TestLocalFileValidator_MissingFile(t *testing.T) {
	v := NewLocalFileValidator(filepath.Join(t.TempDir(), "nope"))
	v.secretFunc = func() (string, error) { return "x", nil }

	if err := v.Validate(nil); err == nil {
		t.Fatal("expected validation to fail when the credentials file does not exist")
	}
}
