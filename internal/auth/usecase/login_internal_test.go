// internal/auth/usecase/login_internal_test.go
package usecase

import (
	"fmt"
	"testing"
	"time"
)

func TestFailureWindow_BurstThreshold(t *testing.T) {
	f := newFailureWindow(time.Minute)
	now := time.Now()

	for i := 1; i < failureBurstThreshold; i++ {
		if f.fail("alice", now) {
			t.Fatalf("burst reported after %d failures, threshold is %d", i, failureBurstThreshold)
		}
	}
	if !f.fail("alice", now) {
		t.Fatalf("burst not reported at failure %d", failureBurstThreshold)
	}
	// порог срабатывает один раз, без повторов на каждой следующей неудаче
	if f.fail("alice", now) {
		t.Error("burst reported twice for the same streak")
	}
}

func TestFailureWindow_ExpiredStreakRestarts(t *testing.T) {
	f := newFailureWindow(time.Minute)
	now := time.Now()

	for i := 0; i < failureBurstThreshold-1; i++ {
		f.fail("bob", now)
	}
	// окно истекло: серия начинается заново
	if f.fail("bob", now.Add(2*time.Minute)) {
		t.Error("stale streak counted towards a new burst")
	}
}

func TestFailureWindow_SweepsStaleCells(t *testing.T) {
	f := newFailureWindow(time.Minute)
	base := time.Now()

	// спрей по уникальным username заполняет карту до порога выметания
	for i := 0; i < failureSweepAt; i++ {
		f.fail(fmt.Sprintf("sprayed-%d", i), base)
	}
	if got := len(f.seen); got != failureSweepAt {
		t.Fatalf("expected %d cells before sweep, got %d", failureSweepAt, got)
	}

	// следующая неудача за пределами окна выметает всё протухшее
	f.fail("late", base.Add(2*time.Minute))
	if got := len(f.seen); got != 1 {
		t.Errorf("expected 1 cell after sweep, got %d", got)
	}
	if _, ok := f.seen["late"]; !ok {
		t.Error("fresh cell evicted by sweep")
	}
}

func TestFailureWindow_SweepKeepsLiveCells(t *testing.T) {
	f := newFailureWindow(time.Minute)
	base := time.Now()

	for i := 0; i < failureSweepAt-1; i++ {
		f.fail(fmt.Sprintf("sprayed-%d", i), base)
	}
	f.fail("carol", base.Add(40*time.Second))

	// выметание на 90-й секунде: спрей протух, серия carol ещё жива
	f.fail("late", base.Add(90*time.Second))
	if _, ok := f.seen["carol"]; !ok {
		t.Error("live streak evicted by sweep")
	}
	if _, ok := f.seen["sprayed-0"]; ok {
		t.Error("stale cell survived sweep")
	}
}
