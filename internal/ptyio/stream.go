// Package ptyio provides a supervised, line-synchronized PTY stream for
// driving an interactive subprocess (gdb in MI mode) and waiting for an
// expected terminator token with a deadline.
//
// Grounded on the reference platform's execution.TerminalSession
// (github.com/creack/pty session lifecycle: StartWithSize, Resize,
// Write/Read, Stop) generalized from raw terminal I/O to the
// line-buffered send/expect contract the debugger adapter needs.
package ptyio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	osexec "os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
)

// Stream wraps a PTY-attached subprocess with line-oriented send/expect
// semantics and a background reader that fans every line out to anyone
// waiting on ExpectToken.
type Stream struct {
	cmd *osexec.Cmd
	pty *os.File

	mu       sync.Mutex
	closed   bool
	eof      bool
	lines    chan string
	readErrC chan error
}

// Start launches cmd attached to a new PTY and begins the background
// line reader. Mirrors TerminalSession.Start's pty.StartWithSize call.
func Start(cmd *osexec.Cmd) (*Stream, error) {
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 40, Cols: 200})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	s := &Stream{
		cmd:      cmd,
		pty:      ptmx,
		lines:    make(chan string, 256),
		readErrC: make(chan error, 1),
	}
	go s.readLoop()
	return s, nil
}

func (s *Stream) readLoop() {
	scanner := bufio.NewScanner(s.pty)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		select {
		case s.lines <- line:
		default:
			// Drop the oldest buffered line rather than block the reader;
			// a stalled consumer should not wedge subprocess I/O.
			select {
			case <-s.lines:
			default:
			}
			s.lines <- line
		}
	}
	if err := scanner.Err(); err != nil {
		s.readErrC <- err
	} else {
		s.readErrC <- io.EOF
	}
	s.mu.Lock()
	s.eof = true
	s.mu.Unlock()
	close(s.lines)
}

// Alive reports whether the subprocess behind the PTY is still running:
// the stream has not been closed and its reader has not hit EOF (the
// PTY returns EOF once the child exits).
func (s *Stream) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && !s.eof
}

// SendLine writes data followed by a newline to the subprocess's PTY.
func (s *Stream) SendLine(data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("ptyio: stream closed")
	}
	_, err := s.pty.Write([]byte(data + "\n"))
	return err
}

// ExpectToken reads lines until one starts with any of tokens, or until
// timeout elapses. It returns every line read (including the matching
// one) and which token matched.
func (s *Stream) ExpectToken(timeout time.Duration, tokens ...string) (raw []string, matched string, err error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case line, ok := <-s.lines:
			if !ok {
				select {
				case rerr := <-s.readErrC:
					return raw, "", fmt.Errorf("ptyio: stream ended: %w", rerr)
				default:
					return raw, "", io.EOF
				}
			}
			raw = append(raw, line)
			for _, t := range tokens {
				if strings.HasPrefix(line, t) {
					return raw, t, nil
				}
			}
		case <-deadline.C:
			return raw, "", context.DeadlineExceeded
		}
	}
}

// Close terminates the subprocess and its PTY. The process is always
// killed and reaped; when force is false the PTY is closed just before
// the kill, with no wait in between.
func (s *Stream) Close(force bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if !force {
		_ = s.pty.Close()
	}

	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.pty.Close()
	_ = s.cmd.Wait()
	return nil
}
