// SPDX-License-Identifier: MIT
// Package gitxtest provides a scripted gitx.Runner for tests.
package gitxtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Response is the scripted result of one git invocation.
type Response struct {
	Output string
	Err    error
}

// Call is one recorded invocation.
type Call struct {
	Dir  string
	Args []string
	Env  []string
}

// Key returns the "dir:args" form used by MockRunner.Responses.
func (c Call) Key() string {
	return c.Dir + ":" + strings.Join(c.Args, " ")
}

// Command returns Args without leading "-c key=value" options.
func (c Call) Command() []string {
	args := c.Args
	for len(args) >= 2 && args[0] == "-c" {
		args = args[2:]
	}
	return args
}

// MockRunner implements gitx.Runner for testing.
type MockRunner struct {
	// Responses maps "dir:args" keys to (output, error) pairs. A key with an
	// empty dir matches any directory.
	Responses map[string]Response
	// Handler answers calls that have no scripted response.
	Handler func(call Call) (Response, bool)

	mu    sync.Mutex
	calls []Call
}

func (m *MockRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	return m.RunEnv(ctx, dir, nil, args...)
}

func (m *MockRunner) RunEnv(_ context.Context, dir string, env []string, args ...string) (string, error) {
	call := Call{Dir: dir, Args: append([]string(nil), args...), Env: append([]string(nil), env...)}
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()

	if resp, ok := m.Responses[call.Key()]; ok {
		return resp.Output, resp.Err
	}
	// Also try without dir for convenience
	if resp, ok := m.Responses[":"+strings.Join(args, " ")]; ok {
		return resp.Output, resp.Err
	}
	if m.Handler != nil {
		if resp, ok := m.Handler(call); ok {
			return resp.Output, resp.Err
		}
	}
	return "", fmt.Errorf("unexpected call: dir=%q args=%v", dir, args)
}

// Calls returns a copy of every recorded invocation.
func (m *MockRunner) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Keys returns the "dir:args" key of every recorded invocation.
func (m *MockRunner) Keys() []string {
	var keys []string
	for _, c := range m.Calls() {
		keys = append(keys, c.Key())
	}
	return keys
}

// Invoked reports whether any call's args, ignoring "-c key=value"
// options, start with prefix.
func (m *MockRunner) Invoked(prefix ...string) bool {
	want := strings.Join(prefix, " ")
	for _, c := range m.Calls() {
		if strings.HasPrefix(strings.Join(c.Command(), " "), want) {
			return true
		}
	}
	return false
}
