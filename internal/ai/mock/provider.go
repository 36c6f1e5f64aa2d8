package mock

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/kiranshivaraju/codeagent/internal/ai"
	"github.com/kiranshivaraju/codeagent/pkg/models"
)

// MockProvider satisfies models.Completer for testing.
type MockProvider struct {
	Name_         string
	ProducerFunc  func(ctx context.Context, input string) (string, error)
	ValidatorFunc func(ctx context.Context, input string) (string, error)

	calls atomic.Int64
}

func (m *MockProvider) Name() string { return m.Name_ }

// Calls returns the number of Complete invocations so far.
func (m *MockProvider) Calls() int { return int(m.calls.Load()) }

func (m *MockProvider) Complete(ctx context.Context, role models.Role, input string) (string, error) {
	m.calls.Add(1)
	fn := m.ProducerFunc
	if role == models.RoleValidator {
		fn = m.ValidatorFunc
	}
	if fn != nil {
		return fn(ctx, input)
	}
	return "", nil
}

// NewMockProvider returns a MockProvider with deterministic non-empty output
// for both roles.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		ProducerFunc: func(_ context.Context, input string) (string, error) {
			return fmt.Sprintf("// generated by mock\n// %d bytes of prompt\nfunc main() {}\n", len(input)), nil
		},
		ValidatorFunc: func(_ context.Context, _ string) (string, error) {
			return "APPROVED\nMock review: no issues found.", nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	fail := func(_ context.Context, _ string) (string, error) { return "", err }
	return &MockProvider{Name_: "mock-failing", ProducerFunc: fail, ValidatorFunc: fail}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	block := func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ai.ErrInferenceTimeout
	}
	return &MockProvider{Name_: "mock-timeout", ProducerFunc: block, ValidatorFunc: block}
}

// NewValidatorTimeoutProvider produces normally and then blocks in the
// validator role until the context is cancelled.
func NewValidatorTimeoutProvider() *MockProvider {
	m := NewMockProvider()
	m.Name_ = "mock-validator-timeout"
	m.ValidatorFunc = func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ai.ErrInferenceTimeout
	}
	return m
}

// Compile-time check that MockProvider implements Completer.
var _ models.Completer = (*MockProvider)(nil)
