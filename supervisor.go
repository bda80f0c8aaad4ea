package webq

// Copyright 2025 mdreamfly. All rights reserved.
// Use of this source code is governed by the MIT
// license which can be found in the LICENSE file.

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/apex/log"
)

// Supervisor owns the wrapped application server process. The child must
// never outlive the proxy, so Stop always waits for its exit.
type Supervisor struct {
	cmd         *exec.Cmd
	stopTimeout time.Duration
	Log         log.Interface

	mu      sync.Mutex
	exitErr error
	done    chan struct{}
}

// StartChild launches the application server and sleeps the configured
// startup delay before returning, giving the child time to bind the
// internal address. There is no readiness probe: until the child listens,
// proxied connections simply take the 502 path.
func StartChild(cfg *Config) (*Supervisor, error) {
	if len(cfg.ChildCommand) == 0 {
		return nil, fmt.Errorf("no child command configured")
	}

	cmd := exec.Command(cfg.ChildCommand[0], cfg.ChildCommand[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %q: %w", cfg.ChildCommand[0], err)
	}

	s := &Supervisor{
		cmd:         cmd,
		stopTimeout: cfg.ChildStopTimeout,
		Log: log.WithFields(log.Fields{
			"child": cfg.ChildCommand[0],
			"pid":   cmd.Process.Pid,
		}),
		done: make(chan struct{}),
	}

	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		s.exitErr = err
		s.mu.Unlock()
		close(s.done)
	}()

	s.Log.Info("application server started")

	time.Sleep(cfg.ChildStartupDelay)

	return s, nil
}

// Done is closed once the child process has exited.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// ExitErr returns the child's exit error, valid once Done is closed.
func (s *Supervisor) ExitErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitErr
}

// Stop terminates the child and waits for it to exit, escalating to a kill
// if the termination signal is not deliverable or gets ignored.
func (s *Supervisor) Stop() {
	select {
	case <-s.done:
		s.Log.WithError(s.ExitErr()).Warn("application server had already exited")
		return
	default:
	}

	if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// not every platform can deliver SIGTERM
		s.Log.WithError(err).Debug("terminate signal failed, killing")
		s.cmd.Process.Kill()
	}

	select {
	case <-s.done:
	case <-time.After(s.stopTimeout):
		s.Log.Warn("application server ignored SIGTERM, killing")
		s.cmd.Process.Kill()
		<-s.done
	}

	s.Log.WithError(s.ExitErr()).Info("application server stopped")
}
