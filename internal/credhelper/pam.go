package credhelper

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"os/user"
)

// Validator shells out to a short-lived PAM-aware helper binary and
// speaks the length-prefixed protocol over its stdin/stdout. The
// helper is expected to authenticate the local OS account the host
// process is running under against the named PAM service — there is
// no username/secret exchange on the main wire protocol to delegate
// to, so this gates the process's own environment, not the remote
// client.
type Validator struct {
	// HelperPath is the path to the PAM helper executable.
	HelperPath string
	// Service is the PAM service name passed to the helper.
	Service string

	// commandContext is overridden in tests to avoid depending on a
	// real PAM stack or helper binary being present.
	commandContext func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewValidator builds a Validator for the given helper binary and PAM
// service name.
func NewValidator(helperPath, service string) *Validator {
	return &Validator{
		HelperPath:     helperPath,
		Service:        service,
		commandContext: exec.CommandContext,
	}
}

// Validate runs the helper once, exchanging a single request/response
// frame pair, and reports whether it approved the local account.
func (v *Validator) Validate(ctx context.Context) error {
	u, err := user.Current()
	if err != nil {
		return fmt.Errorf("credhelper/pam: resolve current user: %w", err)
	}

	cmdCtx := v.commandContext
	if cmdCtx == nil {
		cmdCtx = exec.CommandContext
	}
	cmd := cmdCtx(ctx, v.HelperPath, v.Service)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("credhelper/pam: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("credhelper/pam: stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("credhelper/pam: start helper: %w", err)
	}

	req := request{Username: u.Username}
	if err := writeFrame(stdin, req); err != nil {
		cmd.Process.Kill()
		return fmt.Errorf("credhelper/pam: %w", err)
	}
	stdin.Close()

	var resp response
	readErr := readFrame(stdout, &resp)

	waitErr := cmd.Wait()
	if readErr != nil {
		return fmt.Errorf("credhelper/pam: helper %s: %w (stderr: %s)", v.HelperPath, readErr, stderr.String())
	}
	if waitErr != nil {
		return fmt.Errorf("credhelper/pam: helper %s exited with error: %w (stderr: %s)", v.HelperPath, waitErr, stderr.String())
	}
	if !resp.OK {
		return fmt.Errorf("credhelper/pam: rejected for user %s: %s", u.Username, resp.Reason)
	}
	return nil
}
