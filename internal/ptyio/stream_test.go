package ptyio

import (
	"context"
	"errors"
	osexec "os/exec"
	"testing"
	"time"
)

func startCat(t *testing.T) *Stream {
	t.Helper()
	if _, err := osexec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	s, err := Start(osexec.Command("cat"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(true) })
	return s
}

func TestSendLineAndExpectToken(t *testing.T) {
	s := startCat(t)

	if err := s.SendLine("hello world"); err != nil {
		t.Fatalf("SendLine: %v", err)
	}

	raw, matched, err := s.ExpectToken(2*time.Second, "hello")
	if err != nil {
		t.Fatalf("ExpectToken: %v", err)
	}
	if matched != "hello" {
		t.Errorf("matched = %q", matched)
	}
	if len(raw) == 0 {
		t.Error("no lines captured")
	}
}

func TestExpectTokenTimeout(t *testing.T) {
	s := startCat(t)

	_, _, err := s.ExpectToken(50*time.Millisecond, "^never")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestCloseIsIdempotentAndKillsProcess(t *testing.T) {
	s := startCat(t)

	if !s.Alive() {
		t.Fatal("stream not alive after start")
	}
	if err := s.Close(true); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := s.Close(true); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if s.Alive() {
		t.Error("stream alive after close")
	}
}
