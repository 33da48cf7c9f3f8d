package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/kwong/prefscope/internal/gateway"
)

// fakeClient scripts gateway behavior for tests. Complete answers are chosen
// by matching a substring of the system prompt, so one fake can serve the
// refusal checks and extraction at once.
type fakeClient struct {
	mu sync.Mutex

	// answers maps a system prompt substring to the reply.
	answers map[string]string
	// structured is returned from CompleteStructured calls, popped in order.
	structured []string
	// errs maps a system prompt substring to a forced error.
	errs map[string]error

	completeCalls   []gateway.Request
	structuredCalls []gateway.Request
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		answers: make(map[string]string),
		errs:    make(map[string]error),
	}
}

func (f *fakeClient) Complete(_ context.Context, req gateway.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeCalls = append(f.completeCalls, req)

	for substr, err := range f.errs {
		if strings.Contains(req.System, substr) {
			return "", err
		}
	}
	for substr, answer := range f.answers {
		if strings.Contains(req.System, substr) {
			return answer, nil
		}
	}
	return "no", nil
}

func (f *fakeClient) CompleteStructured(_ context.Context, req gateway.Request, _ gateway.Schema) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.structuredCalls = append(f.structuredCalls, req)

	for substr, err := range f.errs {
		if strings.Contains(req.System, substr) {
			return nil, err
		}
	}
	if len(f.structured) == 0 {
		return json.RawMessage(`{"isNew": true, "standardizedPreference": "Blue"}`), nil
	}
	out := f.structured[0]
	f.structured = f.structured[1:]
	return json.RawMessage(out), nil
}

func (f *fakeClient) completeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.completeCalls)
}
