package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		wantErr     bool
		errContains string
	}{
		{name: "valid", config: DefaultConfig(), wantErr: false},
		{
			name: "zero max failures",
			config: Config{MaxFailures: 0, ResetTimeout: time.Second, FailureThreshold: 0.5,
				TimeWindow: time.Minute, SlowCallDuration: time.Second, HalfOpenMaxCalls: 1},
			wantErr: true, errContains: "max_failures",
		},
		{
			name: "failure threshold out of range",
			config: Config{MaxFailures: 5, ResetTimeout: time.Second, FailureThreshold: 1.5,
				TimeWindow: time.Minute, SlowCallDuration: time.Second, HalfOpenMaxCalls: 1},
			wantErr: true, errContains: "failure_threshold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cfg := Config{MaxFailures: 3, ResetTimeout: 50 * time.Millisecond, FailureThreshold: 0.5,
		TimeWindow: time.Minute, SlowCallDuration: time.Second, HalfOpenMaxCalls: 1}
	cb, err := New(cfg, nil, nil)
	require.NoError(t, err)

	boom := errors.New("source unreachable")
	for i := 0; i < 3; i++ {
		_ = cb.Call(context.Background(), func(context.Context) error { return boom })
	}
	assert.Equal(t, StateOpen, cb.GetState())

	err = cb.Call(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrOpen)
}

func TestCircuitBreaker_HalfOpenRecoversOnSuccess(t *testing.T) {
	cfg := Config{MaxFailures: 2, ResetTimeout: 10 * time.Millisecond, FailureThreshold: 0.5,
		TimeWindow: time.Minute, SlowCallDuration: time.Second, HalfOpenMaxCalls: 1}
	cb, err := New(cfg, nil, nil)
	require.NoError(t, err)

	boom := errors.New("timeout")
	for i := 0; i < 2; i++ {
		_ = cb.Call(context.Background(), func(context.Context) error { return boom })
	}
	require.Equal(t, StateOpen, cb.GetState())

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, cb.Call(context.Background(), func(context.Context) error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_SlowCallCountsAsFailure(t *testing.T) {
	cfg := Config{MaxFailures: 1, ResetTimeout: time.Minute, FailureThreshold: 0.5,
		TimeWindow: time.Minute, SlowCallDuration: 5 * time.Millisecond, HalfOpenMaxCalls: 1}
	cb, err := New(cfg, nil, nil)
	require.NoError(t, err)

	_ = cb.Call(context.Background(), func(context.Context) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})
	assert.Equal(t, StateOpen, cb.GetState())
}
