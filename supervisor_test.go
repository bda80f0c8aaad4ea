package webq

// Copyright 2025 mdreamfly. All rights reserved.
// Use of this source code is governed by the MIT
// license which can be found in the LICENSE file.

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func childConfig(command ...string) *Config {
	cfg := DefaultConfig()
	cfg.ChildCommand = command
	cfg.ChildStartupDelay = 50 * time.Millisecond
	cfg.ChildStopTimeout = 2 * time.Second
	return cfg
}

func TestSupervisorStopTerminatesChild(t *testing.T) {
	sup, err := StartChild(childConfig("sleep", "30"))
	require.NoError(t, err)

	select {
	case <-sup.Done():
		t.Fatal("child exited prematurely")
	default:
	}

	stopped := make(chan struct{})
	go func() {
		sup.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	select {
	case <-sup.Done():
	default:
		t.Fatal("child still running after Stop")
	}

	// a sleep cut down by SIGTERM reports an exit error
	assert.Error(t, sup.ExitErr())
}

func TestSupervisorObservesChildExit(t *testing.T) {
	sup, err := StartChild(childConfig("true"))
	require.NoError(t, err)

	select {
	case <-sup.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("child exit not observed")
	}

	assert.NoError(t, sup.ExitErr())

	// stopping an already-exited child returns immediately
	sup.Stop()
}

func TestStartChildErrors(t *testing.T) {
	_, err := StartChild(childConfig())
	assert.Error(t, err)

	_, err = StartChild(childConfig("webq-no-such-binary"))
	assert.Error(t, err)
}
