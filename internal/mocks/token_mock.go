package mocks

import (
	"time"

	"github.com/stretchr/testify/mock"
)

// MockToken is a mock implementation of the mqtt.Token interface
type MockToken struct {
	mock.Mock
}

// NewCompletedToken returns a token that has already finished with err.
func NewCompletedToken(err error) *MockToken {
	done := make(chan struct{})
	close(done)

	t := new(MockToken)
	t.On("Wait").Return(true).Maybe()
	t.On("WaitTimeout", mock.Anything).Return(true).Maybe()
	t.On("Completed").Return(true).Maybe()
	t.On("Done").Return((<-chan struct{})(done)).Maybe()
	t.On("Error").Return(err).Maybe()
	return t
}

// NewPendingToken returns a token that never completes within any wait.
func NewPendingToken() *MockToken {
	t := new(MockToken)
	t.On("Wait").Return(false).Maybe()
	t.On("WaitTimeout", mock.Anything).Return(false).Maybe()
	t.On("Completed").Return(false).Maybe()
	t.On("Done").Return((<-chan struct{})(make(chan struct{}))).Maybe()
	t.On("Error").Return(nil).Maybe()
	return t
}

func (m *MockToken) Error() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockToken) Wait() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockToken) Done() <-chan struct{} {
	args := m.Called()
	return args.Get(0).(<-chan struct{})
}

func (m *MockToken) Completed() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockToken) WaitTimeout(timeout time.Duration) bool {
	args := m.Called(timeout)
	return args.Bool(0)
}
