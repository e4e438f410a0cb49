// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package serialsh

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/lib/clock"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/negotiation"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/serial"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/tunnel"
)

// Prompt is written before each command when prompting is enabled.
const Prompt = "serialsh> "

// Config configures one shell session.
type Config struct {
	Input  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// ShowPrompt writes Prompt before each command. The binary enables
	// it only when stdin is a terminal.
	ShowPrompt bool

	NodeID uint32

	// HandshakeTimeout bounds the wait for the daemon's HelloAck. Zero
	// uses negotiation.DefaultTimeout.
	HandshakeTimeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Shell is one session over a serial link.
type Shell struct {
	transport serial.LineTransport
	config    Config
	codec     tunnel.Codec
	nextID    uint32
}

// New returns a Shell. Input, Stdout and Stderr are required.
func New(transport serial.LineTransport, config Config) (*Shell, error) {
	if transport == nil {
		return nil, errors.New("serialsh: transport is required")
	}
	if config.Input == nil || config.Stdout == nil || config.Stderr == nil {
		return nil, errors.New("serialsh: Input, Stdout and Stderr are required")
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = negotiation.DefaultTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Shell{transport: transport, config: config, nextID: 1}, nil
}

// Run performs the handshake and then reads commands until the input
// ends, the user types exit, or ctx is cancelled. It returns the exit
// code of the last command (0 if none ran).
func (s *Shell) Run(ctx context.Context) (int, error) {
	if err := s.handshake(ctx); err != nil {
		return 1, err
	}

	done := make(chan struct{})
	defer close(done)
	commands := readCommands(s.config.Input, done)

	lastExit := 0
	for {
		if s.config.ShowPrompt {
			if _, err := io.WriteString(s.config.Stdout, Prompt); err != nil {
				return lastExit, fmt.Errorf("writing prompt: %w", err)
			}
		}

		var command string
		select {
		case <-ctx.Done():
			return lastExit, nil
		case line, ok := <-commands:
			if !ok {
				return lastExit, nil
			}
			command = strings.TrimSpace(line)
		}
		if command == "" {
			continue
		}
		if strings.EqualFold(command, "exit") {
			return lastExit, nil
		}

		code, err := s.execute(ctx, command)
		if err != nil {
			return lastExit, err
		}
		lastExit = code
	}
}

// readCommands delivers input lines until EOF or done closes.
func readCommands(input io.Reader, done <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(input)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()
	return lines
}

// handshake asks the daemon for the client role. A daemon that is
// itself just starting may send its Hello first; that one is answered
// so both sides agree. No answer within the timeout is not fatal: the
// daemon will then refuse commands with an error, which the user sees.
func (s *Shell) handshake(ctx context.Context) error {
	hello, err := negotiation.EncodeFrame(negotiation.NewHello(s.config.NodeID, negotiation.DefaultCapabilities, negotiation.PreferClient))
	if err != nil {
		return fmt.Errorf("encoding hello: %w", err)
	}
	if err := s.transport.SendLine(hello); err != nil {
		return fmt.Errorf("sending hello: %w", err)
	}

	deadline := s.config.Clock.Now().Add(s.config.HandshakeTimeout)
	for s.config.Clock.Now().Before(deadline) {
		if ctx.Err() != nil {
			return nil
		}
		line, err := s.transport.ReadLine()
		if err != nil {
			return fmt.Errorf("reading handshake reply: %w", err)
		}
		frame, err := negotiation.DecodeFrame(line)
		if err != nil {
			continue
		}
		switch typed := frame.(type) {
		case negotiation.HelloAck:
			s.config.Logger.Debug("handshake complete", "role", typed.Role().String())
			return nil
		case negotiation.Hello:
			return s.answerHello()
		}
	}
	s.config.Logger.Warn("no handshake reply from daemon, commands may be refused",
		"timeout", s.config.HandshakeTimeout)
	return nil
}

// answerHello tells the daemon to serve.
func (s *Shell) answerHello() error {
	ack, err := negotiation.EncodeFrame(negotiation.NewHelloAck(negotiation.RoleServer, negotiation.DefaultCapabilities))
	if err != nil {
		return fmt.Errorf("encoding hello_ack: %w", err)
	}
	if err := s.transport.SendLine(ack); err != nil {
		return fmt.Errorf("sending hello_ack: %w", err)
	}
	return nil
}

// execute sends one request and relays its output until it exits.
func (s *Shell) execute(ctx context.Context, command string) (int, error) {
	requestID := s.nextID
	s.nextID++

	line, err := s.codec.Encode(tunnel.Request{RequestID: requestID, Command: command})
	if err != nil {
		fmt.Fprintf(s.config.Stderr, "serialsh: %v\n", err)
		return 1, nil
	}
	if err := s.transport.SendLine(line); err != nil {
		return 1, fmt.Errorf("sending request: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return 1, nil
		}
		line, err := s.transport.ReadLine()
		if err != nil {
			return 1, fmt.Errorf("reading reply: %w", err)
		}
		if line == "" {
			continue
		}
		if !tunnel.IsCommandLine(line) {
			if frame, err := negotiation.DecodeFrame(line); err == nil {
				if _, isHello := frame.(negotiation.Hello); isHello {
					if err := s.answerHello(); err != nil {
						return 1, err
					}
				}
			}
			continue
		}

		message, err := s.codec.Decode(line)
		if err != nil {
			s.config.Logger.Debug("skipping undecodable reply", "error", err)
			continue
		}
		if id, ok := tunnel.RequestIDOf(message); ok && id != requestID {
			continue
		}

		switch typed := message.(type) {
		case tunnel.Chunk:
			target := s.config.Stdout
			if typed.Stream == tunnel.Stderr {
				target = s.config.Stderr
			}
			if _, err := target.Write(typed.Data); err != nil {
				return 1, fmt.Errorf("writing %s: %w", typed.Stream, err)
			}
		case tunnel.Exit:
			return int(typed.Code), nil
		case tunnel.Busy:
			fmt.Fprintln(s.config.Stderr, "remote busy")
			return 1, nil
		case tunnel.Error:
			fmt.Fprintf(s.config.Stderr, "remote error: %s\n", typed.Message)
		}
	}
}
