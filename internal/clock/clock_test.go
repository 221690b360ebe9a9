package clock

import (
	"context"
	"testing"
	"time"
)

func TestManual_SleepAdvances(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	m := NewManual(start)

	if err := m.Sleep(context.Background(), 500*time.Millisecond); err != nil {
		t.Fatalf("Sleep() error = %v", err)
	}
	m.Advance(time.Second)

	if got, want := m.Now(), start.Add(1500*time.Millisecond); !got.Equal(want) {
		t.Errorf("Now() = %v, want %v", got, want)
	}
	if sleeps := m.Sleeps(); len(sleeps) != 1 || sleeps[0] != 500*time.Millisecond {
		t.Errorf("Sleeps() = %v, want [500ms]", sleeps)
	}
}

func TestManual_SleepCanceled(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := m.Sleep(ctx, time.Second); err == nil {
		t.Error("Sleep() on canceled context should fail")
	}
}

func TestReal_SleepCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := (Real{}).Sleep(ctx, time.Hour); err == nil {
		t.Error("Real.Sleep() on canceled context should fail")
	}
}
