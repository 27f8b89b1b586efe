package credhelper

import (
	"context"
	"os/exec"
	"testing"
)

// fakeHelper builds a commandContext that runs an inline shell script
// in place of a real PAM helper binary, so these tests exercise the
// framing and subprocess plumbing without depending on a PAM stack.
func fakeHelper(script string) func(ctx context.Context, name string, args ...string) *exec.Cmd {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "/bin/sh", "-c", script)
	}
}

func TestPAMValidator_AcceptsOKResponse(t *testing.T) {
	v := NewValidator("/unused/helper", "login")
	v.commandContext = fakeHelper(`printf '\0000\0000\0000\0013{"ok":true}'`)

	if err := v.Validate(context.Background()); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestPAMValidator_RejectsNotOKResponse(t *testing.T) {
	v := NewValidator("/unused/helper", "login")
	v.commandContext = fakeHelper(`printf '\0000\0000\0000\0014{"ok":false}'`)

	if err := v.Validate(context.Background()); err == nil {
		t.Fatal("expected rejection when helper responds ok=false")
	}
}

func TestPAMValidator_HelperExitsWithoutResponding(t *testing.T) {
	v := NewValidator("/unused/helper", "login")
	v.commandContext = fakeHelper(`exit 1`)

	if err := v.Validate(context.Background()); err == nil {
		t.Fatal("expected an error when the helper exits without a response frame")
	}
}
