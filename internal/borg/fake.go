package borg

import (
	"context"
	"strings"
	"sync"
)

// FakeResponse is one scripted answer.
type FakeResponse struct {
	Result Result
	Err    error
}

// FakeRunner is a deterministic Runner for tests. Responses are queued per
// operation key ("list", "create", "mount --help", ...) and consumed in
// order; the last queued response keeps answering once the queue is drained.
// Operations with nothing queued succeed with empty output.
type FakeRunner struct {
	mu        sync.Mutex
	calls     []Invocation
	responses map[string][]FakeResponse

	// Hook, when set, runs before the scripted response is returned.
	Hook func(inv Invocation)
}

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{responses: map[string][]FakeResponse{}}
}

// On queues a response for op.
func (f *FakeRunner) On(op string, res Result, err error) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[op] = append(f.responses[op], FakeResponse{Result: res, Err: err})
	return f
}

// OnStdout queues a successful response with the given stdout.
func (f *FakeRunner) OnStdout(op, stdout string) *FakeRunner {
	return f.On(op, Result{Stdout: []byte(stdout)}, nil)
}

// OnExit queues a response exiting with code and stderr.
func (f *FakeRunner) OnExit(op string, code int, stderr string) *FakeRunner {
	return f.On(op, Result{ExitCode: code, Stderr: []byte(stderr)}, nil)
}

func (f *FakeRunner) Execute(_ context.Context, inv Invocation) (Result, error) {
	f.mu.Lock()
	inv.Args = append([]string(nil), inv.Args...)
	inv.Env = append([]string(nil), inv.Env...)
	f.calls = append(f.calls, inv)

	key := OperationKey(inv.Args)
	var resp FakeResponse
	if queue := f.responses[key]; len(queue) > 0 {
		resp = queue[0]
		if len(queue) > 1 {
			f.responses[key] = queue[1:]
		}
	}
	hook := f.Hook
	f.mu.Unlock()

	if hook != nil {
		hook(inv)
	}
	return resp.Result, resp.Err
}

// Calls returns every invocation seen so far.
func (f *FakeRunner) Calls() []Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Invocation(nil), f.calls...)
}

// CallsFor returns the invocations of one operation.
func (f *FakeRunner) CallsFor(op string) []Invocation {
	var out []Invocation
	for _, inv := range f.Calls() {
		if OperationKey(inv.Args) == op {
			out = append(out, inv)
		}
	}
	return out
}

// OperationKey names the borg operation an argument vector performs.
func OperationKey(args []string) string {
	if len(args) == 0 {
		return ""
	}
	if len(args) > 1 && args[1] == "--help" {
		return args[0] + " --help"
	}
	return strings.TrimSpace(args[0])
}
