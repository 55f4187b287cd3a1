package testutil

import (
	"context"
	"sync"

	"cvSync/internal/cv"
)

// LLMCall records one call made against MockLLM.
type LLMCall struct {
	Op    string
	From  cv.Language
	To    cv.Language
	Texts map[string]string
}

// MockLLM is a scriptable translator. Nil funcs behave as identity.
type MockLLM struct {
	PolishFunc    func(ctx context.Context, lang cv.Language, texts map[string]string) (map[string]string, error)
	TranslateFunc func(ctx context.Context, from, to cv.Language, texts map[string]string) (map[string]string, error)

	mu    sync.Mutex
	calls []LLMCall
}

func (m *MockLLM) Polish(ctx context.Context, lang cv.Language, texts map[string]string) (map[string]string, error) {
	m.record(LLMCall{Op: "polish", From: lang, To: lang, Texts: copyMap(texts)})
	if m.PolishFunc != nil {
		return m.PolishFunc(ctx, lang, texts)
	}
	return copyMap(texts), nil
}

func (m *MockLLM) Translate(ctx context.Context, from, to cv.Language, texts map[string]string) (map[string]string, error) {
	m.record(LLMCall{Op: "translate", From: from, To: to, Texts: copyMap(texts)})
	if m.TranslateFunc != nil {
		return m.TranslateFunc(ctx, from, to, texts)
	}
	return copyMap(texts), nil
}

// Calls returns a snapshot of every recorded call.
func (m *MockLLM) Calls() []LLMCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LLMCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Count returns the number of calls of op ("polish" or "translate"); empty op counts all.
func (m *MockLLM) Count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if op == "" || c.Op == op {
			n++
		}
	}
	return n
}

// TranslateCount returns the number of translate calls targeting lang.
func (m *MockLLM) TranslateCount(lang cv.Language) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Op == "translate" && c.To == lang {
			n++
		}
	}
	return n
}

// Reset clears the call log.
func (m *MockLLM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *MockLLM) record(call LLMCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

// Tagged returns a translate func that appends " [lang]" to every value.
func Tagged() func(ctx context.Context, from, to cv.Language, texts map[string]string) (map[string]string, error) {
	return func(_ context.Context, _, to cv.Language, texts map[string]string) (map[string]string, error) {
		out := make(map[string]string, len(texts))
		for k, v := range texts {
			out[k] = v + " [" + string(to) + "]"
		}
		return out, nil
	}
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
