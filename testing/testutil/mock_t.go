package testutil

import (
	"fmt"
	"runtime"
	"testing"
)

// MockT is a mock testing.TB that captures test failures. It is used
// to test helpers that call Fatal, Error and friends themselves.
type MockT struct {
	testing.TB // embed to satisfy unexported methods
	Failed_    bool
	Fatal_     bool
	Message    string
	Logs       []string
}

// NewMockT creates a new MockT instance.
func NewMockT() *MockT {
	return &MockT{Logs: make([]string, 0)}
}

// Helper implements testing.TB.
func (m *MockT) Helper() {}

// Log implements testing.TB.
func (m *MockT) Log(args ...any) {
	m.Logs = append(m.Logs, fmt.Sprint(args...))
}

// Logf implements testing.TB.
func (m *MockT) Logf(format string, args ...any) {
	m.Logs = append(m.Logs, fmt.Sprintf(format, args...))
}

// Error implements testing.TB.
func (m *MockT) Error(args ...any) {
	m.fail(fmt.Sprint(args...))
}

// Errorf implements testing.TB.
func (m *MockT) Errorf(format string, args ...any) {
	m.fail(fmt.Sprintf(format, args...))
}

// Fail implements testing.TB.
func (m *MockT) Fail() { m.Failed_ = true }

// FailNow implements testing.TB.
func (m *MockT) FailNow() {
	m.Failed_ = true
	runtime.Goexit()
}

// Failed implements testing.TB.
func (m *MockT) Failed() bool { return m.Failed_ }

// Fatal implements testing.TB.
func (m *MockT) Fatal(args ...any) {
	m.fail(fmt.Sprint(args...))
	m.Fatal_ = true
	runtime.Goexit()
}

// Fatalf implements testing.TB.
func (m *MockT) Fatalf(format string, args ...any) {
	m.fail(fmt.Sprintf(format, args...))
	m.Fatal_ = true
	runtime.Goexit()
}

func (m *MockT) fail(msg string) {
	m.Failed_ = true
	m.Message = msg
}

// RunWithMockT runs fn with a fresh MockT on its own goroutine and
// waits for it to finish, so Fatal and FailNow calls (which call
// runtime.Goexit) stop fn without stopping the real test.
func RunWithMockT(fn func(m *MockT)) *MockT {
	mt := NewMockT()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(mt)
	}()
	<-done
	return mt
}
