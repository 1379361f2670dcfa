package capability

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/openfroyo/scripthost/pkg/hosterr"
	"github.com/openfroyo/scripthost/pkg/value"
)

// ProcessConfig configures the process capability.
type ProcessConfig struct {
	// Dir is the default working directory; relative cwd arguments resolve
	// against it.
	Dir string

	// Env is added to the inherited process environment.
	Env map[string]string

	Logger zerolog.Logger
}

// NewProcess exposes subprocess execution.
//
// A command given without arguments is interpreted as a POSIX shell line by
// an embedded interpreter, so pipelines and builtins behave the same on
// every platform. A command with arguments is executed directly.
func NewProcess(cfg ProcessConfig) *Object {
	const name = NameProcess
	p := &processRunner{cfg: cfg}

	return &Object{
		Name: name,
		Methods: []Method{
			// run(command, cwd?, args...)
			syncMethod(name, "run", func(ctx context.Context, args Args) (value.Value, error) {
				command, err := args.String(0)
				if err != nil {
					return value.Null(), err
				}
				cwd, err := args.OptString(1, "")
				if err != nil {
					return value.Null(), err
				}
				rest, err := args.Rest(2)
				if err != nil {
					return value.Null(), err
				}
				return value.Null(), p.start(ctx, cwd, command, rest)
			}),
			// runCommand(captureOutput, cwd, command, args...)
			syncMethod(name, "runCommand", func(ctx context.Context, args Args) (value.Value, error) {
				capture, err := args.Bool(0)
				if err != nil {
					return value.Null(), err
				}
				cwd, err := args.OptString(1, "")
				if err != nil {
					return value.Null(), err
				}
				command, err := args.String(2)
				if err != nil {
					return value.Null(), err
				}
				rest, err := args.Rest(3)
				if err != nil {
					return value.Null(), err
				}

				out, err := p.execute(ctx, cwd, command, rest)
				if err != nil {
					return value.Null(), err
				}
				if out.exitCode != 0 {
					return value.Null(), hosterr.NewProcessError(
						fmt.Sprintf("%s exited with status %d", command, out.exitCode), out.exitCode, nil).
						WithDetail("stderr", normalizeOutput(out.stderr))
				}
				if !capture {
					return value.String(""), nil
				}
				return value.String(normalizeOutput(out.stdout)), nil
			}),
			// exec(command, cwd?, args...)
			syncMethod(name, "exec", func(ctx context.Context, args Args) (value.Value, error) {
				command, err := args.String(0)
				if err != nil {
					return value.Null(), err
				}
				cwd, err := args.OptString(1, "")
				if err != nil {
					return value.Null(), err
				}
				rest, err := args.Rest(2)
				if err != nil {
					return value.Null(), err
				}

				out, err := p.execute(ctx, cwd, command, rest)
				if err != nil {
					return value.Null(), err
				}
				return value.FromObject(value.NewObject().
					Set("exitCode", value.Int(int64(out.exitCode))).
					Set("stdout", value.String(normalizeOutput(out.stdout))).
					Set("stderr", value.String(normalizeOutput(out.stderr)))), nil
			}),
		},
	}
}

type processRunner struct {
	cfg ProcessConfig
}

type processOutcome struct {
	exitCode int
	stdout   string
	stderr   string
}

func (p *processRunner) dir(cwd string) string {
	switch {
	case cwd == "":
		return p.cfg.Dir
	case filepath.IsAbs(cwd) || p.cfg.Dir == "":
		return cwd
	default:
		return filepath.Join(p.cfg.Dir, cwd)
	}
}

func (p *processRunner) environ() []string {
	env := os.Environ()
	keys := make([]string, 0, len(p.cfg.Env))
	for k := range p.cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+p.cfg.Env[k])
	}
	return env
}

// execute runs the command to completion. A non-zero exit is reported in
// the outcome; only failures to start are returned as errors.
func (p *processRunner) execute(ctx context.Context, cwd, command string, args []string) (processOutcome, error) {
	var stdout, stderr bytes.Buffer
	dir := p.dir(cwd)

	if len(args) == 0 {
		code, err := p.shell(ctx, dir, command, &stdout, &stderr)
		if err != nil {
			return processOutcome{}, err
		}
		return processOutcome{exitCode: code, stdout: stdout.String(), stderr: stderr.String()}, nil
	}

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = dir
	cmd.Env = p.environ()
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	p.cfg.Logger.Debug().Str("command", command).Strs("args", args).Str("dir", dir).Msg("Running process")

	err := cmd.Run()
	out := processOutcome{stdout: stdout.String(), stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			out.exitCode = exitErr.ExitCode()
			return out, nil
		}
		return processOutcome{}, hosterr.NewProcessError(fmt.Sprintf("failed to execute %s", command), -1, err)
	}
	return out, nil
}

func (p *processRunner) shell(ctx context.Context, dir, script string, stdout, stderr io.Writer) (int, error) {
	prog, err := syntax.NewParser().Parse(strings.NewReader(script), "command")
	if err != nil {
		return -1, hosterr.NewProcessError("failed to parse command", -1, err)
	}

	opts := []interp.RunnerOption{
		interp.Env(expand.ListEnviron(p.environ()...)),
		interp.StdIO(nil, stdout, stderr),
	}
	if dir != "" {
		opts = append(opts, interp.Dir(dir))
	}
	runner, err := interp.New(opts...)
	if err != nil {
		return -1, hosterr.NewProcessError("failed to create interpreter", -1, err)
	}

	p.cfg.Logger.Debug().Str("command", script).Str("dir", dir).Msg("Running shell command")

	if err := runner.Run(ctx, prog); err != nil {
		var status interp.ExitStatus
		if errors.As(err, &status) && ctx.Err() == nil {
			return int(status), nil
		}
		return -1, hosterr.NewProcessError(fmt.Sprintf("failed to execute %q", script), -1, err)
	}
	return 0, nil
}

// start launches the command without waiting. The child outlives the
// calling script; it is reaped in the background.
func (p *processRunner) start(ctx context.Context, cwd, command string, args []string) error {
	dir := p.dir(cwd)
	log := p.cfg.Logger.With().Str("command", command).Logger()

	if len(args) == 0 {
		prog, err := syntax.NewParser().Parse(strings.NewReader(command), "command")
		if err != nil {
			return hosterr.NewProcessError("failed to parse command", -1, err)
		}
		opts := []interp.RunnerOption{
			interp.Env(expand.ListEnviron(p.environ()...)),
			interp.StdIO(nil, io.Discard, io.Discard),
		}
		if dir != "" {
			opts = append(opts, interp.Dir(dir))
		}
		runner, err := interp.New(opts...)
		if err != nil {
			return hosterr.NewProcessError("failed to create interpreter", -1, err)
		}
		go func() {
			if err := runner.Run(context.WithoutCancel(ctx), prog); err != nil {
				log.Debug().Err(err).Msg("Background command finished with error")
				return
			}
			log.Debug().Msg("Background command finished")
		}()
		return nil
	}

	cmd := exec.Command(command, args...)
	cmd.Dir = dir
	cmd.Env = p.environ()
	if err := cmd.Start(); err != nil {
		return hosterr.NewProcessError(fmt.Sprintf("failed to start %s", command), -1, err)
	}
	log.Debug().Int("pid", cmd.Process.Pid).Msg("Started background process")

	go func() {
		if err := cmd.Wait(); err != nil {
			log.Debug().Err(err).Int("pid", cmd.Process.Pid).Msg("Background process exited with error")
		}
	}()
	return nil
}

// normalizeOutput converts CRLF to LF and drops trailing newlines.
func normalizeOutput(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimRight(s, "\n")
}
