package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/backlogd/internal/fault"
)

func testOptions() *Options {
	o := &Options{
		MaxAttempts:   3,
		BaseDelay:     time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
		JitterFactor:  0.2,
	}
	o.ApplyDefaults()
	return o
}

func TestDelay_AlwaysExceedsUndithered(t *testing.T) {
	o := &Options{
		BaseDelay:     1000,
		MaxDelay:      30000,
		BackoffFactor: 2.0,
		JitterFactor:  0.2,
		MaxAttempts:   3,
	}
	o.ApplyDefaults()

	for i := 0; i < 1000; i++ {
		d := Delay(0, o)
		assert.Greater(t, d, time.Duration(1000), "delay must strictly exceed the undithered value")
		assert.Less(t, d, time.Duration(1200), "delay must stay below exp*(1+jitter factor)")
	}
}

func TestDelay_ZeroRandStillAddsJitter(t *testing.T) {
	o := testOptions()
	o.rand = func() float64 { return 0 }

	d := Delay(0, o)
	assert.Equal(t, o.BaseDelay+1, d)
}

func TestDelay_ExponentialGrowthAndCap(t *testing.T) {
	o := &Options{
		BaseDelay:     1000,
		MaxDelay:      3000,
		BackoffFactor: 2.0,
		JitterFactor:  0.2,
		MaxAttempts:   5,
	}
	o.ApplyDefaults()
	o.rand = func() float64 { return 0 }

	assert.Equal(t, time.Duration(1001), Delay(0, o))
	assert.Equal(t, time.Duration(2001), Delay(1, o))
	// 4000 exceeds the cap, so the exponential component clamps to 3000.
	assert.Equal(t, time.Duration(3001), Delay(2, o))
	assert.Equal(t, time.Duration(3001), Delay(3, o))
}

func TestDefaultRetryable(t *testing.T) {
	assert.True(t, DefaultRetryable(errors.New("transient")))
	assert.True(t, DefaultRetryable(fault.Task("P1.M1.T1.S1", errors.New("boom"))))
	assert.True(t, DefaultRetryable(fault.Agent("executor", errors.New("boom"))))

	assert.False(t, DefaultRetryable(fault.Validation(fault.OpParseDocument, "bad")))
	assert.False(t, DefaultRetryable(fault.Environment("missing config")))
	assert.False(t, DefaultRetryable(fault.Fatal("dead", nil)))
	assert.False(t, DefaultRetryable(context.Canceled))
	assert.False(t, DefaultRetryable(context.DeadlineExceeded))
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), testOptions(), func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestDo_RecoversAfterTransientFailures(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), testOptions(), func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, calls)
}

func TestDo_NonRetryableReturnsImmediately(t *testing.T) {
	calls := 0
	permanent := fault.Validation(fault.OpParseDocument, "bad tree")

	_, err := Do(context.Background(), testOptions(), func(ctx context.Context) (string, error) {
		calls++
		return "", permanent
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustionWrapsLastError(t *testing.T) {
	calls := 0
	inner := fault.Agent("executor", errors.New("timeout"))

	_, err := Do(context.Background(), testOptions(), func(ctx context.Context) (string, error) {
		calls++
		return "", inner
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, inner)

	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, fault.CodeRetryExhausted, fe.Code)
	assert.Equal(t, fault.KindAgent, fe.Kind)
	assert.Equal(t, 3, fe.Context["attempts"])
}

func TestDo_ExhaustionPreservesInnerKind(t *testing.T) {
	inner := fault.Task("P1.M1.T1.S1", errors.New("boom"))

	_, err := Do(context.Background(), testOptions(), func(ctx context.Context) (string, error) {
		return "", inner
	})

	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, fault.KindTask, fe.Kind)
}

func TestDo_ContextCancellationStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	o := testOptions()
	o.BaseDelay = time.Second
	o.MaxDelay = 30 * time.Second

	calls := 0
	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = Do(ctx, o, func(ctx context.Context) (string, error) {
			calls++
			return "", errors.New("transient")
		})
	}()

	// Let the first attempt fail, then cancel during the backoff sleep.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestApplyDefaults(t *testing.T) {
	o := &Options{}
	o.ApplyDefaults()

	assert.Equal(t, 3, o.MaxAttempts)
	assert.Equal(t, time.Second, o.BaseDelay)
	assert.Equal(t, 30*time.Second, o.MaxDelay)
	assert.Equal(t, 2.0, o.BackoffFactor)
	assert.Equal(t, 0.2, o.JitterFactor)
	assert.NotNil(t, o.IsRetryable)
	assert.NotNil(t, o.Logger)
}

func TestApplyDefaults_RaisesMaxDelayToBaseDelay(t *testing.T) {
	// A base delay above the cap would otherwise make every backoff
	// computation start from an already-clamped value.
	o := &Options{BaseDelay: time.Second, MaxDelay: 5 * time.Millisecond}
	o.ApplyDefaults()

	assert.Equal(t, time.Second, o.MaxDelay)

	o.rand = func() float64 { return 0 }
	assert.Equal(t, time.Second+1, Delay(0, o))
}
