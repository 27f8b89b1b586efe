// Package enginesim is a deterministic, dependency-free stand-in for
// the embedded statistical-language interpreter the host.Host
// otherwise links against. It implements engine.Engine with a small
// arithmetic/builtin grammar — just enough to exercise the full
// parse/eval/interrupt contract (including a genuinely interruptible
// busy-loop and a cooperative sleep) without requiring a real runtime.
// It is not, and is not meant to resemble, a statistical language.
package enginesim

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rhostcore/rhost/internal/engine"
)

// tickInterval is how long Sys.sleep() waits between checks for an
// applicable interrupt. The while(TRUE) busy loop does not use it: it
// checks on every iteration.
const tickInterval = 5 * time.Millisecond

// Simulator implements engine.Engine.
type Simulator struct {
	cb engine.Callbacks

	mu                 sync.Mutex
	interruptRequested bool

	// Clock is overridable in tests for deterministic Sys.time() output.
	Clock func() time.Time

	version string
}

// New creates a Simulator wired to the given callback set.
func New(cb engine.Callbacks) *Simulator {
	return &Simulator{
		cb:      cb,
		Clock:   time.Now,
		version: "rhost-enginesim 0.1.0",
	}
}

// Version implements engine.Engine.
func (s *Simulator) Version() string {
	return s.version
}

// Interrupt implements engine.Engine. It only ever has an effect on a
// tight loop inside this Simulator's own Eval that is polling for it;
// propagating a cancellation across engine callback boundaries is the
// job of engine.EvalCancel, not this method.
func (s *Simulator) Interrupt() {
	s.mu.Lock()
	s.interruptRequested = true
	s.mu.Unlock()
}

func (s *Simulator) consumeInterrupt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interruptRequested {
		s.interruptRequested = false
		return true
	}
	return false
}

// Parse implements engine.Engine.
func (s *Simulator) Parse(expr string) (engine.ParseStatus, engine.ParsedExpr, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return engine.ParseNull, engine.ParsedExpr{}, nil
	}

	if !balanced(trimmed) {
		return engine.ParseIncomplete, engine.ParsedExpr{}, nil
	}

	p := &parser{toks: tokenize(trimmed)}
	_, err := p.parseExpr()
	if err != nil || !p.atEnd() {
		return engine.ParseError, engine.ParsedExpr{}, fmt.Errorf("enginesim: parse error: %v", err)
	}

	return engine.ParseOK, engine.ParsedExpr{Source: trimmed}, nil
}

// Eval implements engine.Engine.
func (s *Simulator) Eval(ctx context.Context, parsed engine.ParsedExpr, env engine.EnvKind) (string, error) {
	p := &parser{toks: tokenize(parsed.Source)}
	node, err := p.parseExpr()
	if err != nil {
		return "", fmt.Errorf("enginesim: internal: re-parse failed: %w", err)
	}
	return s.evalNode(ctx, node)
}

func (s *Simulator) tick(ctx context.Context) error {
	if s.cb.Tick != nil {
		s.cb.Tick()
	}
	if s.consumeInterrupt() {
		return engine.ErrCancelled
	}
	if ctx.Err() != nil {
		return engine.ErrCancelled
	}
	return nil
}

// evalNode walks the toy AST and produces a value's printed form, the
// only representation this host protocol moves across the wire.
func (s *Simulator) evalNode(ctx context.Context, n node) (string, error) {
	switch v := n.(type) {
	case numberNode:
		return formatNumber(float64(v)), nil

	case stringNode:
		return string(v), nil

	case identNode:
		switch string(v) {
		case "TRUE", "T":
			return "TRUE", nil
		case "FALSE", "F":
			return "FALSE", nil
		case "NULL":
			return "NULL", nil
		default:
			return "", fmt.Errorf("enginesim: object %q not found", string(v))
		}

	case negNode:
		operand, err := s.evalNode(ctx, v.operand)
		if err != nil {
			return "", err
		}
		f, err := strconv.ParseFloat(operand, 64)
		if err != nil {
			return "", fmt.Errorf("enginesim: invalid argument to unary '-'")
		}
		return formatNumber(-f), nil

	case binOpNode:
		return s.evalBinOp(ctx, v)

	case callNode:
		return s.evalCall(ctx, v)

	default:
		return "", fmt.Errorf("enginesim: internal: unhandled node type %T", n)
	}
}

func (s *Simulator) evalBinOp(ctx context.Context, b binOpNode) (string, error) {
	left, err := s.evalNode(ctx, b.left)
	if err != nil {
		return "", err
	}
	right, err := s.evalNode(ctx, b.right)
	if err != nil {
		return "", err
	}
	lf, lerr := strconv.ParseFloat(left, 64)
	rf, rerr := strconv.ParseFloat(right, 64)
	if lerr != nil || rerr != nil {
		return "", fmt.Errorf("enginesim: non-numeric argument to binary operator")
	}
	switch b.op {
	case '+':
		return formatNumber(lf + rf), nil
	case '-':
		return formatNumber(lf - rf), nil
	case '*':
		return formatNumber(lf * rf), nil
	case '/':
		if rf == 0 {
			return "Inf", nil
		}
		return formatNumber(lf / rf), nil
	default:
		return "", fmt.Errorf("enginesim: internal: unhandled operator %q", b.op)
	}
}

func (s *Simulator) evalCall(ctx context.Context, c callNode) (string, error) {
	switch c.fn {
	case "Sys.time":
		if len(c.args) != 0 {
			return "", fmt.Errorf("enginesim: Sys.time() takes no arguments")
		}
		return s.Clock().UTC().Format("2006-01-02 15:04:05 UTC"), nil

	case "readline":
		// Drives the host's read-prompt callback mid-evaluation, the
		// toy grammar's only way to produce a genuinely nested chain
		// of in-flight evaluations for the host to multiplex.
		if len(c.args) != 0 {
			return "", fmt.Errorf("enginesim: readline() takes no arguments")
		}
		if s.cb.ReadPrompt == nil {
			return "", fmt.Errorf("enginesim: readline() unavailable: no read-prompt callback registered")
		}
		line, eof, err := s.cb.ReadPrompt(ctx, nil, 4096, false)
		if err != nil {
			return "", err
		}
		if eof {
			return "NULL", nil
		}
		return line, nil

	case "Sys.sleep":
		if len(c.args) != 1 {
			return "", fmt.Errorf("enginesim: Sys.sleep() takes exactly one argument")
		}
		secondsStr, err := s.evalNode(ctx, c.args[0])
		if err != nil {
			return "", err
		}
		seconds, err := strconv.ParseFloat(secondsStr, 64)
		if err != nil {
			return "", fmt.Errorf("enginesim: Sys.sleep(): invalid argument")
		}
		return "", s.sleep(ctx, time.Duration(seconds*float64(time.Second)))

	case "stop":
		if len(c.args) != 1 {
			return "", fmt.Errorf("enginesim: stop() takes exactly one argument")
		}
		msg, err := s.evalNode(ctx, c.args[0])
		if err != nil {
			return "", err
		}
		return "", fmt.Errorf("%s", msg)

	case "while":
		// The only supported form is the interruptible busy loop
		// while(TRUE) NULL, modeling a tight computation that never
		// yields control except at tick check points. The loop body
		// was already parsed into args[1] purely so it doesn't trail
		// the call as a dangling expression; only NULL is accepted.
		if len(c.args) != 2 {
			return "", fmt.Errorf("enginesim: unsupported while() form")
		}
		if body, ok := c.args[1].(identNode); !ok || string(body) != "NULL" {
			return "", fmt.Errorf("enginesim: unsupported while() body")
		}
		cond, err := s.evalNode(ctx, c.args[0])
		if err != nil {
			return "", err
		}
		if cond != "TRUE" {
			return "NULL", nil
		}
		for {
			if err := s.tick(ctx); err != nil {
				return "", err
			}
		}

	default:
		return "", fmt.Errorf("enginesim: could not find function %q", c.fn)
	}
}

func (s *Simulator) sleep(ctx context.Context, d time.Duration) error {
	deadline := s.Clock().Add(d)
	for s.Clock().Before(deadline) {
		if err := s.tick(ctx); err != nil {
			return err
		}
		time.Sleep(tickInterval)
	}
	return nil
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
