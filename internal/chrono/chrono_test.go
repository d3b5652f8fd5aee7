package chrono_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/shacron/sled/internal/chrono"
)

func TestTimerFiresAndCancelPreventsFurther(t *testing.T) {
	c := chrono.New()
	c.Start()
	defer c.Stop()

	var fires int32
	id := c.TimerSet(2000, func(ctx any, flags uint32) chrono.Result {
		atomic.AddInt32(&fires, 1)
		return chrono.Restart
	}, nil)

	time.Sleep(10 * time.Millisecond)
	if err := c.TimerCancel(id); err != nil {
		// A restart race is possible but unlikely at this granularity;
		// retry once after letting the in-flight restart settle.
		time.Sleep(2 * time.Millisecond)
		_ = c.TimerCancel(id)
	}

	n := atomic.LoadInt32(&fires)
	if n == 0 {
		t.Fatalf("expected timer to have fired at least once")
	}
	time.Sleep(10 * time.Millisecond)
	after := atomic.LoadInt32(&fires)
	if after > n+1 {
		t.Fatalf("timer kept firing after cancel: before=%d after=%d", n, after)
	}
}

func TestTimerGetRemainingDecreases(t *testing.T) {
	var clockUs int64
	c := chrono.NewWithClock(func() int64 { return clockUs })
	c.Start()
	defer c.Stop()

	id := c.TimerSet(1_000_000, func(ctx any, flags uint32) chrono.Result { return chrono.Done }, nil)
	r1, err := c.TimerGetRemaining(id)
	if err != nil {
		t.Fatal(err)
	}
	clockUs += 500_000
	r2, err := c.TimerGetRemaining(id)
	if err != nil {
		t.Fatal(err)
	}
	if r2 >= r1 {
		t.Fatalf("expected remaining to decrease: r1=%d r2=%d", r1, r2)
	}
}

func TestExitFiresRemainingCallbacksOnce(t *testing.T) {
	c := chrono.New()
	c.Start()

	var exitFlags uint32
	c.TimerSet(60_000_000, func(ctx any, flags uint32) chrono.Result {
		exitFlags = flags
		return chrono.Done
	}, nil)

	c.Stop()
	if exitFlags != chrono.ExitFlag {
		t.Fatalf("expected ExitFlag on shutdown callback, got %d", exitFlags)
	}
}
