package aigf

import (
	"context"
	"github.com/stretchr/testify/assert"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatchConsole(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    io.Reader
		wantStop bool
	}{
		{name: "enter", input: strings.NewReader("\n"), wantStop: true},
		{name: "line", input: strings.NewReader("quit\nmore"), wantStop: true},
		{name: "eof without newline", input: strings.NewReader("quit")},
		{name: "empty", input: strings.NewReader("")},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
				defer cancel()

				var stopped atomic.Bool
				done := make(chan struct{})
				go func() {
					defer close(done)
					watchConsole(ctx, tc.input, func() { stopped.Store(true) })
				}()

				select {
				case <-done:
				case <-time.After(10 * time.Second):
					t.Fatal("watchConsole didn't return")
				}
				assert.Equal(t, tc.wantStop, stopped.Load())
			},
		)
	}
}

func TestWatchConsole_Cancelled(t *testing.T) {
	t.Parallel()
	r, w := io.Pipe()
	t.Cleanup(func() { _ = w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		watchConsole(ctx, r, func() { t.Error("stop shouldn't be called") })
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("watchConsole didn't return after cancel")
	}
}
