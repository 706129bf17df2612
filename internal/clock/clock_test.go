package clock

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestInvalidSchedule(t *testing.T) {
	if _, err := New(WithSchedule("every now and then")); err == nil {
		t.Fatal("New() with a bad schedule should fail")
	}
}

func TestSubscribeAndCancel(t *testing.T) {
	fixed := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	tk, err := New(WithNow(func() time.Time { return fixed }))
	if err != nil {
		t.Fatal(err)
	}

	var a, b atomic.Int32
	var got atomic.Value
	cancelA := tk.Subscribe(func(now time.Time) {
		a.Add(1)
		got.Store(now)
	})
	tk.Subscribe(func(time.Time) { b.Add(1) })

	tk.Tick()
	cancelA()
	cancelA()
	tk.Tick()

	if a.Load() != 1 || b.Load() != 2 {
		t.Errorf("deliveries = %d, %d, want 1, 2", a.Load(), b.Load())
	}
	if now, _ := got.Load().(time.Time); !now.Equal(fixed) {
		t.Errorf("tick time = %v, want %v", now, fixed)
	}
	if !tk.Now().Equal(fixed) {
		t.Errorf("Now() = %v", tk.Now())
	}
}

func TestScheduledTicks(t *testing.T) {
	tk, err := New(WithSchedule("@every 1s"))
	if err != nil {
		t.Fatal(err)
	}

	ticks := make(chan time.Time, 4)
	tk.Subscribe(func(now time.Time) {
		select {
		case ticks <- now:
		default:
		}
	})
	tk.Start()
	defer tk.Stop()

	select {
	case <-ticks:
	case <-time.After(5 * time.Second):
		t.Fatal("no tick delivered")
	}
}
