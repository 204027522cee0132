package toolexec

import (
	"context"
	"strings"
	"sync"
)

// FakeRunner records invocations and returns scripted results. It is used by
// tests across the module in place of ExecRunner.
type FakeRunner struct {
	mu    sync.Mutex
	Calls []Command
	// Handlers are consulted in order; the first whose Match returns true
	// produces the result.
	Handlers []FakeHandler
}

// FakeHandler scripts the behavior for matching commands.
type FakeHandler struct {
	Match func(cmd Command) bool
	Do    func(cmd Command) (Result, error)
}

// On registers a handler for commands whose rendered line contains substr.
func (f *FakeRunner) On(substr string, do func(cmd Command) (Result, error)) *FakeRunner {
	f.Handlers = append(f.Handlers, FakeHandler{
		Match: func(c Command) bool { return strings.Contains(c.String(), substr) },
		Do:    do,
	})
	return f
}

// Fail makes commands containing substr exit with code.
func (f *FakeRunner) Fail(substr string, code int) *FakeRunner {
	return f.On(substr, func(c Command) (Result, error) {
		return Result{}, &ToolError{Tool: c.Name, Args: c.Args, Code: code}
	})
}

func (f *FakeRunner) Run(_ context.Context, cmd Command) (Result, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, cmd)
	handlers := f.Handlers
	f.mu.Unlock()
	for _, h := range handlers {
		if h.Match(cmd) {
			res, err := h.Do(cmd)
			if err == nil && cmd.Stdout != nil && res.Stdout != "" {
				_, _ = cmd.Stdout.Write([]byte(res.Stdout))
			}
			return res, err
		}
	}
	return Result{}, nil
}

// Lines returns the rendered command lines recorded so far.
func (f *FakeRunner) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Calls))
	for i, c := range f.Calls {
		out[i] = c.String()
	}
	return out
}

// Called reports whether any recorded command line contains substr.
func (f *FakeRunner) Called(substr string) bool {
	for _, l := range f.Lines() {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}
