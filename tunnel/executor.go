// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/lib/clock"
)

// DefaultShutdownGrace is how long Shutdown waits after SIGTERM before
// escalating to SIGKILL.
const DefaultShutdownGrace = 2 * time.Second

// DefaultOutputGrace is how long the output readers may keep going
// after the command exits. A background process that inherited the
// pipes would otherwise keep the session busy until it exits too.
const DefaultOutputGrace = 250 * time.Millisecond

// outgoingCapacity bounds how far the output goroutines may run ahead
// of the event loop before they block on send.
const outgoingCapacity = 64

// Session is the executor's view of the running command.
type Session struct {
	Active    bool
	RequestID uint32
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	// AllowList names the programs a request may run, either as the
	// exact first token or as its final path segment. An empty list
	// allows every program.
	AllowList []string

	// ShutdownGrace overrides DefaultShutdownGrace.
	ShutdownGrace time.Duration

	// OutputGrace overrides DefaultOutputGrace.
	OutputGrace time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Executor runs one command at a time for the peer.
type Executor struct {
	allowList     []string
	shutdownGrace time.Duration
	outputGrace   time.Duration
	clock         clock.Clock
	logger        *slog.Logger

	session  Session
	outgoing chan Message

	// pending holds replies produced by the owning goroutine itself
	// (rejections). They are delivered before channel traffic.
	pending []Message

	// process and finished belong to the running command; both are nil
	// when the session is idle.
	process  *os.Process
	finished chan struct{}
}

// NewExecutor returns an idle Executor.
func NewExecutor(config ExecutorConfig) *Executor {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ShutdownGrace <= 0 {
		config.ShutdownGrace = DefaultShutdownGrace
	}
	if config.OutputGrace <= 0 {
		config.OutputGrace = DefaultOutputGrace
	}
	return &Executor{
		allowList:     slices.Clone(config.AllowList),
		shutdownGrace: config.ShutdownGrace,
		outputGrace:   config.OutputGrace,
		clock:         config.Clock,
		logger:        config.Logger,
		outgoing:      make(chan Message, outgoingCapacity),
	}
}

// SetAllowList replaces the allow-list for future requests. A command
// already running is not affected.
func (e *Executor) SetAllowList(allowList []string) {
	e.allowList = slices.Clone(allowList)
}

// Session returns the current session state.
func (e *Executor) Session() Session { return e.session }

// Allowed reports whether program passes the allow-list.
func (e *Executor) Allowed(program string) bool {
	if len(e.allowList) == 0 {
		return true
	}
	base := filepath.Base(program)
	for _, entry := range e.allowList {
		if entry == program || entry == base {
			return true
		}
	}
	return false
}

// HandleEvent reacts to a decoded message. For a Request it returns the
// immediate reply: Busy while another command runs, Ack once the
// command has started, or Error when the request is rejected (in which
// case Error and Exit(1) are also queued for NextOutgoing). Every other
// message is ignored.
func (e *Executor) HandleEvent(message Message) (Message, bool) {
	request, ok := message.(Request)
	if !ok {
		return nil, false
	}

	if e.session.Active {
		return Busy{RequestID: request.RequestID}, true
	}

	tokens, err := Tokenize(request.Command)
	if err != nil {
		return e.reject(request.RequestID, fmt.Sprintf("invalid command: %v", err)), true
	}
	if !e.Allowed(tokens[0]) {
		return e.reject(request.RequestID, fmt.Sprintf("command %q is not allowed", tokens[0])), true
	}

	if err := e.spawn(request, tokens); err != nil {
		e.logger.Warn("command spawn failed",
			"request_id", request.RequestID,
			"program", tokens[0],
			"error", err,
		)
		return e.reject(request.RequestID, fmt.Sprintf("spawn failed: %v", err)), true
	}

	e.session = Session{Active: true, RequestID: request.RequestID}
	e.logger.Info("command started", "request_id", request.RequestID, "program", tokens[0])
	return Ack{RequestID: request.RequestID}, true
}

// reject queues Error then Exit(1) and returns the Error.
func (e *Executor) reject(requestID uint32, reason string) Message {
	failure := Error{RequestID: ID(requestID), Message: reason}
	e.pending = append(e.pending, failure, Exit{RequestID: requestID, Code: 1})
	return failure
}

func (e *Executor) spawn(request Request, tokens []string) error {
	command := exec.Command(tokens[0], tokens[1:]...)
	command.Stdin = nil
	command.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if request.ScratchPath != "" {
		if err := os.MkdirAll(request.ScratchPath, 0o700); err != nil {
			return fmt.Errorf("creating scratch directory: %w", err)
		}
		command.Dir = request.ScratchPath
	}

	stdoutReader, stdoutWriter, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderrReader, stderrWriter, err := os.Pipe()
	if err != nil {
		stdoutReader.Close()
		stdoutWriter.Close()
		return fmt.Errorf("stderr pipe: %w", err)
	}
	command.Stdout = stdoutWriter
	command.Stderr = stderrWriter
	startErr := command.Start()
	// The child has its own copies of the write ends.
	stdoutWriter.Close()
	stderrWriter.Close()
	if startErr != nil {
		stdoutReader.Close()
		stderrReader.Close()
		return startErr
	}

	finished := make(chan struct{})
	e.process = command.Process
	e.finished = finished

	var readers sync.WaitGroup
	readers.Add(2)
	go e.forward(request.RequestID, Stdout, stdoutReader, &readers)
	go e.forward(request.RequestID, Stderr, stderrReader, &readers)
	readersDone := make(chan struct{})
	go func() {
		readers.Wait()
		close(readersDone)
	}()

	go func() {
		defer close(finished)
		code := exitCode(command.Wait())

		// Output the command wrote before exiting is still in the pipes.
		// Anything that inherited them gets OutputGrace to finish.
		select {
		case <-readersDone:
		case <-e.clock.After(e.outputGrace):
			e.logger.Debug("command output still open after exit, closing it",
				"request_id", request.RequestID,
			)
		}
		stdoutReader.Close()
		stderrReader.Close()
		<-readersDone
		e.outgoing <- Exit{RequestID: request.RequestID, Code: code}
	}()
	return nil
}

// exitCode maps the result of Wait to the code reported to the peer:
// -1 when the process did not exit normally.
func exitCode(err error) int32 {
	if err == nil {
		return 0
	}
	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		return int32(exitError.ExitCode())
	}
	return -1
}

// forward reads one output stream in ReadChunkBytes pieces until end of
// stream or a read error.
func (e *Executor) forward(requestID uint32, stream Stream, source io.Reader, readers *sync.WaitGroup) {
	defer readers.Done()
	buffer := make([]byte, ReadChunkBytes)
	var seq uint32
	for {
		count, err := source.Read(buffer)
		if count > 0 {
			e.outgoing <- Chunk{
				RequestID: requestID,
				Stream:    stream,
				Seq:       seq,
				Data:      slices.Clone(buffer[:count]),
			}
			seq++
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				e.logger.Debug("command output read failed", "stream", string(stream), "error", err)
			}
			return
		}
	}
}

// NextOutgoing returns the next queued message without blocking.
// Draining an Exit ends the session so the next Request is accepted.
func (e *Executor) NextOutgoing() (Message, bool) {
	var message Message
	if len(e.pending) > 0 {
		message = e.pending[0]
		e.pending = e.pending[1:]
	} else {
		select {
		case message = <-e.outgoing:
		default:
			return nil, false
		}
	}

	if exit, ok := message.(Exit); ok && e.session.Active && exit.RequestID == e.session.RequestID {
		e.logger.Info("command finished", "request_id", exit.RequestID, "code", exit.Code)
		e.session = Session{}
		e.process = nil
		e.finished = nil
	}
	return message, true
}

// Shutdown terminates the running command, if any. The command's
// process group receives SIGTERM, then SIGKILL once the grace period
// passes. Shutdown returns when the waiter goroutine has finished or
// ctx ends, and hands back every message still queued (including the
// final Exit) so the caller can flush them.
func (e *Executor) Shutdown(ctx context.Context) []Message {
	var drained []Message
	if e.process != nil && e.finished != nil {
		processGroupID := -e.process.Pid
		if err := unix.Kill(processGroupID, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
			e.logger.Warn("terminating command failed", "error", err)
		}
		escalate := e.clock.After(e.shutdownGrace)
	wait:
		for {
			select {
			case message := <-e.outgoing:
				drained = append(drained, message)
			case <-e.finished:
				break wait
			case <-escalate:
				_ = unix.Kill(processGroupID, unix.SIGKILL)
				escalate = nil
			case <-ctx.Done():
				_ = unix.Kill(processGroupID, unix.SIGKILL)
				break wait
			}
		}
	}

	for {
		message, ok := e.NextOutgoing()
		if !ok {
			break
		}
		drained = append(drained, message)
	}
	for _, message := range drained {
		if exit, ok := message.(Exit); ok && exit.RequestID == e.session.RequestID {
			e.session = Session{}
		}
	}
	e.process = nil
	e.finished = nil
	return drained
}
