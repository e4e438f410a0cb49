// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package serialsh

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/lib/testutil"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/negotiation"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/serial"
	"github.com/macg4dave/My-Pi-KVM-LCD-Serial-sub000/tunnel"
)

// scriptedLink answers the shell's Hello with a HelloAck and every
// request with whatever replies returns for it.
func scriptedLink(t *testing.T, replies func(tunnel.Request) []tunnel.Message) *serial.Fake {
	t.Helper()
	link := serial.NewFake()
	link.OnSend(func(line string) {
		if negotiation.IsNegotiationLine(line) {
			frame, err := negotiation.DecodeFrame(line)
			if _, isHello := frame.(negotiation.Hello); err == nil && isHello {
				ack, err := negotiation.EncodeFrame(negotiation.NewHelloAck(negotiation.RoleClient, negotiation.DefaultCapabilities))
				if err != nil {
					t.Errorf("encoding hello_ack: %v", err)
					return
				}
				link.Push(ack)
			}
			return
		}
		message, err := tunnel.Codec{}.Decode(line)
		if err != nil {
			t.Errorf("shell sent undecodable line %q: %v", line, err)
			return
		}
		request, ok := message.(tunnel.Request)
		if !ok {
			return
		}
		for _, reply := range replies(request) {
			encoded, err := tunnel.Codec{}.Encode(reply)
			if err != nil {
				t.Errorf("encoding %#v: %v", reply, err)
				return
			}
			link.Push(encoded)
		}
	})
	return link
}

type result struct {
	code   int
	err    error
	stdout string
	stderr string
}

func runShell(t *testing.T, link serial.LineTransport, input string, showPrompt bool) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	shell, err := New(link, Config{
		Input:      strings.NewReader(input),
		Stdout:     &stdout,
		Stderr:     &stderr,
		ShowPrompt: showPrompt,
		NodeID:     7,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan result, 1)
	go func() {
		code, err := shell.Run(context.Background())
		done <- result{code: code, err: err}
	}()
	outcome := testutil.RequireReceive(t, done, 5*time.Second, "waiting for the shell to return")
	outcome.stdout = stdout.String()
	outcome.stderr = stderr.String()
	return outcome
}

func TestShellRelaysOutputAndExitCode(t *testing.T) {
	link := scriptedLink(t, func(request tunnel.Request) []tunnel.Message {
		if request.Command != "echo hi" {
			t.Errorf("Command = %q, want %q", request.Command, "echo hi")
		}
		return []tunnel.Message{
			tunnel.Ack{RequestID: request.RequestID},
			tunnel.Chunk{RequestID: request.RequestID, Stream: tunnel.Stdout, Data: []byte("hello")},
			tunnel.Chunk{RequestID: request.RequestID, Stream: tunnel.Stderr, Data: []byte("oops")},
			tunnel.Exit{RequestID: request.RequestID, Code: 42},
		}
	})

	outcome := runShell(t, link, "echo hi\nexit\n", true)

	if outcome.err != nil {
		t.Fatalf("Run: %v", outcome.err)
	}
	if outcome.code != 42 {
		t.Errorf("exit code = %d, want 42", outcome.code)
	}
	if !strings.Contains(outcome.stdout, "hello") {
		t.Errorf("stdout = %q, want the remote output", outcome.stdout)
	}
	if count := strings.Count(outcome.stdout, Prompt); count != 2 {
		t.Errorf("prompt written %d times, want 2", count)
	}
	if outcome.stderr != "oops" {
		t.Errorf("stderr = %q, want %q", outcome.stderr, "oops")
	}
}

func TestShellBusyReturnsOne(t *testing.T) {
	link := scriptedLink(t, func(request tunnel.Request) []tunnel.Message {
		return []tunnel.Message{tunnel.Busy{RequestID: request.RequestID}}
	})

	outcome := runShell(t, link, "ls\n", false)

	if outcome.code != 1 {
		t.Errorf("exit code = %d, want 1", outcome.code)
	}
	if !strings.Contains(outcome.stderr, "remote busy") {
		t.Errorf("stderr = %q, want it to mention remote busy", outcome.stderr)
	}
}

func TestShellIgnoresHeartbeatsAndOtherRequests(t *testing.T) {
	link := scriptedLink(t, func(request tunnel.Request) []tunnel.Message {
		return []tunnel.Message{
			tunnel.Heartbeat{},
			tunnel.Chunk{RequestID: request.RequestID + 100, Stream: tunnel.Stdout, Data: []byte("stray")},
			tunnel.Chunk{RequestID: request.RequestID, Stream: tunnel.Stdout, Data: []byte("ok")},
			tunnel.Exit{RequestID: request.RequestID, Code: 0},
		}
	})

	outcome := runShell(t, link, "uptime\n", false)

	if outcome.err != nil || outcome.code != 0 {
		t.Fatalf("Run = %d, %v; want 0, nil", outcome.code, outcome.err)
	}
	if outcome.stdout != "ok" {
		t.Errorf("stdout = %q, want %q", outcome.stdout, "ok")
	}
}

func TestShellReportsRemoteError(t *testing.T) {
	link := scriptedLink(t, func(request tunnel.Request) []tunnel.Message {
		return []tunnel.Message{
			tunnel.Error{RequestID: tunnel.ID(request.RequestID), Message: "command tunnel disabled"},
			tunnel.Exit{RequestID: request.RequestID, Code: 1},
		}
	})

	outcome := runShell(t, link, "reboot\n", false)

	if outcome.code != 1 {
		t.Errorf("exit code = %d, want 1", outcome.code)
	}
	if !strings.Contains(outcome.stderr, "command tunnel disabled") {
		t.Errorf("stderr = %q, want the remote error", outcome.stderr)
	}
}

func TestShellUsesFreshRequestIDs(t *testing.T) {
	var seen []uint32
	link := scriptedLink(t, func(request tunnel.Request) []tunnel.Message {
		seen = append(seen, request.RequestID)
		return []tunnel.Message{tunnel.Exit{RequestID: request.RequestID, Code: int32(len(seen))}}
	})

	outcome := runShell(t, link, "one\n\ntwo\n", false)

	if outcome.code != 2 {
		t.Errorf("exit code = %d, want the last command's code 2", outcome.code)
	}
	if len(seen) != 2 || seen[0] == seen[1] {
		t.Errorf("request ids = %v, want two distinct ids", seen)
	}
}

func TestShellAnswersDaemonHello(t *testing.T) {
	link := serial.NewFake()
	link.OnSend(func(line string) {
		frame, err := negotiation.DecodeFrame(line)
		if _, isHello := frame.(negotiation.Hello); err == nil && isHello {
			hello, err := negotiation.EncodeFrame(negotiation.NewHello(1, negotiation.DefaultCapabilities, negotiation.PreferServer))
			if err != nil {
				t.Errorf("encoding hello: %v", err)
				return
			}
			link.Push(hello)
		}
	})

	outcome := runShell(t, link, "", false)
	if outcome.err != nil {
		t.Fatalf("Run: %v", outcome.err)
	}

	sent := link.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent %d lines, want hello and hello_ack", len(sent))
	}
	frame, err := negotiation.DecodeFrame(sent[1])
	if err != nil {
		t.Fatalf("decoding reply: %v", err)
	}
	if ack, ok := frame.(negotiation.HelloAck); !ok || ack.Role() != negotiation.RoleServer {
		t.Errorf("reply = %#v, want HelloAck telling the daemon to serve", frame)
	}
}

func TestShellSurfacesReadError(t *testing.T) {
	link := scriptedLink(t, func(tunnel.Request) []tunnel.Message { return nil })
	readFailure := errors.New("device unplugged")

	wrapped := &failingReads{Fake: link, failAfterRequest: readFailure}
	outcome := runShell(t, wrapped, "date\n", false)

	if !errors.Is(outcome.err, readFailure) {
		t.Errorf("Run error = %v, want it to wrap %v", outcome.err, readFailure)
	}
}

// failingReads fails every read once a request has been sent.
type failingReads struct {
	*serial.Fake
	failAfterRequest error
	requested        bool
}

func (f *failingReads) SendLine(text string) error {
	if tunnel.IsCommandLine(text) {
		f.requested = true
	}
	return f.Fake.SendLine(text)
}

func (f *failingReads) ReadLine() (string, error) {
	if f.requested {
		return "", f.failAfterRequest
	}
	return f.Fake.ReadLine()
}

func TestNewRequiresStreams(t *testing.T) {
	if _, err := New(serial.NewFake(), Config{Stdout: io.Discard, Stderr: io.Discard}); err == nil {
		t.Error("New without Input succeeded")
	}
	if _, err := New(nil, Config{Input: strings.NewReader(""), Stdout: io.Discard, Stderr: io.Discard}); err == nil {
		t.Error("New without a transport succeeded")
	}
}
