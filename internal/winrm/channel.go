// Package winrm dispatches generated scripts to remote Windows hosts
// through an external execution facility and normalizes whatever happens
// into a single timed result envelope.
package winrm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/osbits/winfleet/internal/scanauth"
)

// Target identifies the remote host for one probe.
type Target struct {
	Hostname  string
	IPAddress string
}

// Address prefers the IP and falls back to the hostname.
func (t Target) Address() string {
	if t.IPAddress != "" {
		return t.IPAddress
	}
	return t.Hostname
}

// Result is the uniform outcome of one remote execution. It is always
// fully populated; no branch of the channel raises.
type Result struct {
	Success  bool
	Output   string
	Error    string
	Duration time.Duration
}

// Channel executes a script against a target. Implementations must never
// panic and must settle within their configured timeout.
type Channel interface {
	Execute(ctx context.Context, script string, target Target, override *scanauth.Override) Result
}

// envelope is the JSON document the facility prints on its own stdout.
// Its success flag describes the remote script, not the facility process.
type envelope struct {
	Success bool   `json:"success"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
}

// Options configures the sidecar channel.
type Options struct {
	// Command and Args form the facility invocation prefix,
	// e.g. Command "python3", Args ["scripts/winrm-exec.py"].
	Command string
	Args    []string
	// Timeout bounds each call end-to-end. The facility process is killed
	// on expiry.
	Timeout time.Duration
	// SkipTLSVerify relaxes certificate validation when HTTPS is in use.
	SkipTLSVerify bool
}

// Sidecar runs the execution facility as a child process per call.
type Sidecar struct {
	opts     Options
	resolver *scanauth.Resolver
	logger   *slog.Logger
}

// NewSidecar builds a sidecar channel.
func NewSidecar(opts Options, resolver *scanauth.Resolver, logger *slog.Logger) *Sidecar {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sidecar{opts: opts, resolver: resolver, logger: logger}
}

// Execute resolves auth, spawns the facility and maps its outcome into a
// Result. Every branch, including spawn failure and timeout, resolves to
// a populated Result with an end-to-end duration.
func (s *Sidecar) Execute(ctx context.Context, script string, target Target, override *scanauth.Override) Result {
	start := time.Now()
	auth := s.resolver.Resolve(ctx, override)

	args := append([]string{}, s.opts.Args...)
	args = append(args, target.Address(), auth.Username, auth.Password, script)
	args = append(args, "--transport", string(auth.Transport))
	args = append(args, "--port", strconv.Itoa(auth.Port))
	if auth.UseHTTPS {
		args = append(args, "--use-https")
		if s.opts.SkipTLSVerify {
			args = append(args, "--no-verify-ssl")
		}
	}

	s.logger.Info("executing remote script",
		"host", target.Hostname, "address", target.Address(),
		"auth_source", auth.Source, "transport", auth.Transport, "port", auth.Port)

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.opts.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	duration := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		s.logger.Error("remote execution timed out", "host", target.Hostname, "timeout", s.opts.Timeout)
		return Result{
			Success:  false,
			Error:    fmt.Sprintf("execution timed out after %s", s.opts.Timeout),
			Duration: duration,
		}
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = "execution facility failed"
			}
			s.logger.Error("execution facility exited non-zero",
				"host", target.Hostname, "exit_code", exitErr.ExitCode(), "stderr", msg)
			return Result{Success: false, Error: msg, Duration: duration}
		}
		s.logger.Error("failed to start execution facility", "host", target.Hostname, "error", err)
		return Result{Success: false, Error: err.Error(), Duration: duration}
	}

	raw := stdout.Bytes()
	if len(bytes.TrimSpace(raw)) == 0 {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "execution facility produced no output"
		}
		return Result{Success: false, Error: msg, Duration: duration}
	}

	var env envelope
	if err := json.Unmarshal(bytes.TrimSpace(raw), &env); err != nil {
		s.logger.Error("failed to parse facility output", "host", target.Hostname, "error", err)
		return Result{
			Success:  false,
			Error:    fmt.Sprintf("failed to parse facility output: %v", err),
			Duration: duration,
		}
	}

	if !env.Success {
		s.logger.Error("remote script failed", "host", target.Hostname, "stderr", strings.TrimSpace(env.Stderr))
		return Result{
			Success:  false,
			Output:   strings.TrimSpace(env.Stdout),
			Error:    strings.TrimSpace(env.Stderr),
			Duration: duration,
		}
	}

	s.logger.Info("remote execution succeeded", "host", target.Hostname, "duration_ms", duration.Milliseconds())
	return Result{
		Success:  true,
		Output:   strings.TrimSpace(env.Stdout),
		Duration: duration,
	}
}
