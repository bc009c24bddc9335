package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// Nil installs a no-op
	called = false
	SetLogger(nil)
	Logf("test message")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Error("Logf should not be nil by default")
	}

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Logf panicked: %v", r)
		}
	}()

	Logf("test message: %s", "value")
}

func TestComponent(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var lines []string
	capture := func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	}

	logf := Component("ouster sender")
	SetLogger(capture)
	logf("sent %d packets", 3)

	// Swapping the logger after Component still redirects output
	var later []string
	SetLogger(func(format string, v ...interface{}) {
		later = append(later, fmt.Sprintf(format, v...))
	})
	logf("closed")

	assert.Equal(t, []string{"ouster sender: sent 3 packets"}, lines)
	assert.Equal(t, []string{"ouster sender: closed"}, later)
}
