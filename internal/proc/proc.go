// Package proc runs external commands and streams their combined
// stdout/stderr back to the caller line by line while the process is
// still running. Lines are split on both carriage-return and newline
// boundaries so progress-style output (e.g. git clone counters) is
// surfaced as it is produced.
package proc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// lineChanCap bounds the channel between the reading goroutine and the
// consumer. A slow consumer applies backpressure through the pipe
// instead of buffering unbounded process output in memory.
const lineChanCap = 64

// tailLines is how many trailing output lines are retained for error
// reporting after the process exits.
const tailLines = 8

// waitDelay is how long Wait allows a cancelled process to exit before
// it is forcibly killed.
const waitDelay = 5 * time.Second

// Spec describes a single external command invocation.
type Spec struct {
	Dir  string   // working directory; empty means inherit
	Env  []string // extra KEY=VAL entries appended to the inherited environment
	Name string
	Args []string
}

func (s Spec) String() string {
	if len(s.Args) == 0 {
		return s.Name
	}
	return s.Name + " " + strings.Join(s.Args, " ")
}

// ExitError reports a command that terminated with a nonzero status.
type ExitError struct {
	Cmd  string
	Code int
	Tail []string // last output lines, for context
}

func (e *ExitError) Error() string {
	if len(e.Tail) == 0 {
		return fmt.Sprintf("%s: exit status %d", e.Cmd, e.Code)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Cmd, e.Code, strings.Join(e.Tail, " | "))
}

// Proc is a started external command whose combined output is consumed
// as a forward-only, single-pass sequence of lines. Consuming the
// sequence drives the process: the reading goroutine drains the output
// pipe concurrently with the process writing to it, so neither side
// can deadlock on a full pipe buffer.
type Proc struct {
	spec   Spec
	cmd    *exec.Cmd
	lines  chan string
	tail   []string // written only by the reader goroutine, read after done
	done   chan struct{}
	waited bool
}

// Start launches the command described by spec. Cancelling ctx kills
// the spawned process rather than leaving it orphaned.
func Start(ctx context.Context, spec Spec) (*Proc, error) {
	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.WaitDelay = waitDelay
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", spec, err)
	}
	// Combine stderr into the same pipe; git reports progress on stderr.
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%s: %w", spec, err)
	}

	p := &Proc{
		spec:  spec,
		cmd:   cmd,
		lines: make(chan string, lineChanCap),
		done:  make(chan struct{}),
	}

	go func() {
		defer close(p.done)
		defer close(p.lines)
		scanner := bufio.NewScanner(stdout)
		scanner.Split(scanLines)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			p.tail = append(p.tail, line)
			if len(p.tail) > tailLines {
				p.tail = p.tail[1:]
			}
			p.lines <- line
		}
	}()

	return p, nil
}

// Lines returns the channel of output lines. It is closed when the
// process closes its output.
func (p *Proc) Lines() <-chan string { return p.lines }

// Wait discards any unconsumed lines, reaps the process and reports
// its result: nil on a zero exit status, an *ExitError on a nonzero
// one, or the context error when the run was cancelled. Wait must be
// called exactly once, after the caller is finished with Lines.
func (p *Proc) Wait() error {
	if p.waited {
		return fmt.Errorf("%s: Wait called twice", p.spec)
	}
	p.waited = true

	for range p.lines {
	}
	<-p.done

	err := p.cmd.Wait()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.Exited() {
		return &ExitError{Cmd: p.spec.String(), Code: exitErr.ExitCode(), Tail: append([]string(nil), p.tail...)}
	}
	// Killed by signal, most likely context cancellation.
	return fmt.Errorf("%s: %w", p.spec, err)
}

// Run starts the command, logs every output line at debug level through
// the given logger and waits for completion. This is the common shape
// for invocations where the caller only cares about success or failure.
func Run(ctx context.Context, logger *slog.Logger, spec Spec) error {
	p, err := Start(ctx, spec)
	if err != nil {
		return err
	}
	for line := range p.Lines() {
		logger.Debug(line, "cmd", spec.Name)
	}
	return p.Wait()
}

// Output starts the command, collects its complete output and waits for
// completion. Returned output has trailing whitespace trimmed.
func Output(ctx context.Context, spec Spec) (string, error) {
	p, err := Start(ctx, spec)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for line := range p.Lines() {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := p.Wait(); err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}

// scanLines splits on '\n', '\r' and "\r\n" so carriage-return based
// progress updates become individual lines.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		// '\r': swallow a directly following '\n' as the same break.
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF {
			return i + 1, data[:i], nil
		}
		// Cannot yet tell whether '\n' follows the trailing '\r'.
		return 0, nil, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
