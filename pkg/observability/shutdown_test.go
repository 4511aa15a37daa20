package observability

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShutdownManager_RunsFuncs(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), time.Second, &http.Server{})

	var calls int32
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	assert.NoError(t, sm.Shutdown())
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestShutdownManager_ReportsErrors(t *testing.T) {
	sm := NewShutdownManager(nil, time.Second)
	sm.RegisterShutdownFunc(func(ctx context.Context) error { return errors.New("close failed") })

	err := sm.Shutdown()
	assert.EqualError(t, err, "shutdown completed with 1 errors")
}

func TestShutdownManager_Timeout(t *testing.T) {
	sm := NewShutdownManager(nil, 20*time.Millisecond)
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})

	assert.EqualError(t, sm.Shutdown(), "shutdown timeout reached")
}
