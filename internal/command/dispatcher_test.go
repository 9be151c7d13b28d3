package command

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/feed"
	"fieldsync/internal/logger"
	"fieldsync/internal/models"
)

// ---- helpers ----

func testConfig(window, timeout time.Duration) config.CommandConfig {
	return config.CommandConfig{
		Timeout:        timeout,
		CoalesceWindow: window,
		Actuators: map[string]config.ActuatorConfig{
			"pump":  {Topic: "Irrigation", Field: "pumpStatus", Path: "Irrigation/pumpStatus", Encoding: config.EncodingBool},
			"valve": {Topic: "Greenhouse", Field: "valve", Encoding: config.EncodingOnOff},
		},
	}
}

func newTestDispatcher(mem *feed.Memory, window, timeout time.Duration) *Dispatcher {
	return NewDispatcher(mem, testConfig(window, timeout), logger.Nop())
}

// gate makes every write block until released (or the write context ends).
func gate(mem *feed.Memory) (release func()) {
	ch := make(chan struct{})
	mem.SetWriteFunc(func(ctx context.Context, path string, v any) error {
		select {
		case <-ch:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	return func() { close(ch) }
}

func pumpReading(on bool) models.SensorReading {
	return models.SensorReading{
		Topic:  "Irrigation",
		Fields: map[string]models.Value{"pumpStatus": models.Bool(on)},
	}
}

func waitWrites(t *testing.T, mem *feed.Memory, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(mem.Writes()) < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d writes, have %d", n, len(mem.Writes()))
		}
		time.Sleep(time.Millisecond)
	}
}

func result(t *testing.T, ch <-chan models.CommandResult) models.CommandResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("command not resolved")
		return models.CommandResult{}
	}
}

func writtenValues(mem *feed.Memory) []any {
	var out []any
	for _, w := range mem.Writes() {
		out = append(out, w.Value)
	}
	return out
}

// ---- Tests ----

func TestIssue_OptimisticThenConfirmed(t *testing.T) {
	mem := feed.NewMemory()
	release := gate(mem)
	d := newTestDispatcher(mem, 0, time.Second)

	ch, err := d.IssueAsync("pump", true)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	st, _ := d.State("pump")
	if !st.Desired || st.Confirmed || !st.Pending {
		t.Fatalf("optimistic state = %+v", st)
	}

	waitWrites(t, mem, 1)
	release()
	res := result(t, ch)
	if res.Err != nil || !res.Written {
		t.Fatalf("result = %+v", res)
	}
	if !res.State.Confirmed || res.State.Pending || !res.State.Synced {
		t.Fatalf("final state = %+v", res.State)
	}
	if w := mem.Writes()[0]; w.Path != "Irrigation/pumpStatus" || w.Value != true {
		t.Fatalf("write = %+v", w)
	}
}

func TestIssue_RollsBackOnFailure(t *testing.T) {
	mem := feed.NewMemory()
	denied := errors.New("permission denied")
	mem.SetWriteFunc(func(ctx context.Context, path string, v any) error { return denied })
	d := newTestDispatcher(mem, 0, time.Second)
	d.Reconcile(pumpReading(false))

	res, err := d.Issue(context.Background(), "pump", true)
	if !errors.Is(err, models.ErrCommandFailed) || !errors.Is(err, denied) {
		t.Fatalf("err = %v", err)
	}
	var ce *models.CommandError
	if !errors.As(err, &ce) || ce.ActuatorID != "pump" || !ce.Value {
		t.Fatalf("expected CommandError, got %#v", err)
	}
	if !strings.Contains(err.Error(), "update failed, reverted") {
		t.Fatalf("message = %q", err.Error())
	}
	if res.State.Desired || res.State.Confirmed || res.State.Pending {
		t.Fatalf("state after rollback = %+v", res.State)
	}
	if st, _ := d.State("pump"); st.Desired != st.Confirmed || st.Pending {
		t.Fatalf("stored state after rollback = %+v", st)
	}
}

func TestIssue_CoalescesWithinWindow(t *testing.T) {
	mem := feed.NewMemory()
	d := newTestDispatcher(mem, 30*time.Millisecond, time.Second)

	first, _ := d.IssueAsync("pump", true)
	second, _ := d.IssueAsync("pump", false)

	r1, r2 := result(t, first), result(t, second)
	if r1.Err != nil || r2.Err != nil {
		t.Fatalf("errors: %v %v", r1.Err, r2.Err)
	}
	if got := writtenValues(mem); len(got) != 1 || got[0] != false {
		t.Fatalf("writes = %v, want exactly one write of false", got)
	}
	if st, _ := d.State("pump"); st.Confirmed || st.Desired || st.Pending {
		t.Fatalf("state = %+v", st)
	}
}

func TestIssue_OneFollowUpWriteWhileInFlight(t *testing.T) {
	mem := feed.NewMemory()
	release := gate(mem)
	d := newTestDispatcher(mem, 0, time.Second)

	a, _ := d.IssueAsync("pump", true)
	waitWrites(t, mem, 1)

	b, _ := d.IssueAsync("pump", false)
	c, _ := d.IssueAsync("pump", true)
	if st, _ := d.State("pump"); !st.Pending || !st.Desired {
		t.Fatalf("queued state = %+v", st)
	}

	release()
	if r := result(t, a); r.Err != nil || !r.Written {
		t.Fatalf("first result = %+v", r)
	}
	for _, ch := range []<-chan models.CommandResult{b, c} {
		r := result(t, ch)
		if r.Err != nil || r.Written || !r.State.Confirmed || r.State.Pending {
			t.Fatalf("queued result = %+v, want no-op on confirmed true", r)
		}
	}
	if got := writtenValues(mem); len(got) != 1 || got[0] != true {
		t.Fatalf("writes = %v, want [true]", got)
	}
	if st, _ := d.State("pump"); !st.Desired || !st.Confirmed || st.Pending {
		t.Fatalf("state = %+v", st)
	}
}

func TestIssue_FollowUpWriteWhenQueuedValueDiffers(t *testing.T) {
	mem := feed.NewMemory()
	release := gate(mem)
	d := newTestDispatcher(mem, 0, time.Second)

	a, _ := d.IssueAsync("pump", true)
	waitWrites(t, mem, 1)
	b, _ := d.IssueAsync("pump", false)

	release()
	for _, ch := range []<-chan models.CommandResult{a, b} {
		if r := result(t, ch); r.Err != nil || !r.Written {
			t.Fatalf("result = %+v", r)
		}
	}
	if got := writtenValues(mem); len(got) != 2 || got[0] != true || got[1] != false {
		t.Fatalf("writes = %v, want [true false]", got)
	}
	if st, _ := d.State("pump"); st.Desired || st.Confirmed || st.Pending {
		t.Fatalf("state = %+v", st)
	}
}

func TestIssue_IdempotentNoop(t *testing.T) {
	mem := feed.NewMemory()
	d := newTestDispatcher(mem, 0, time.Second)
	d.Reconcile(pumpReading(true))

	res, err := d.Issue(context.Background(), "pump", true)
	if err != nil || res.Written {
		t.Fatalf("expected no-op, got %+v, %v", res, err)
	}
	if len(mem.Writes()) != 0 {
		t.Fatalf("no-op must not write, writes=%v", mem.Writes())
	}
}

func TestIssue_UnsyncedAlwaysWrites(t *testing.T) {
	mem := feed.NewMemory()
	d := newTestDispatcher(mem, 0, time.Second)

	// Confirmed defaults to false but the device state is unknown until synced.
	res, err := d.Issue(context.Background(), "pump", false)
	if err != nil || !res.Written {
		t.Fatalf("expected a write, got %+v, %v", res, err)
	}
}

func TestReconcile_DoesNotTouchDesiredWhilePending(t *testing.T) {
	mem := feed.NewMemory()
	release := gate(mem)
	d := newTestDispatcher(mem, 0, time.Second)

	ch, _ := d.IssueAsync("pump", true)
	waitWrites(t, mem, 1)
	d.Reconcile(pumpReading(false))

	st, _ := d.State("pump")
	if !st.Desired || st.Confirmed || !st.Pending || !st.Synced {
		t.Fatalf("state during pending = %+v", st)
	}

	release()
	if r := result(t, ch); !r.State.Confirmed || r.State.Pending {
		t.Fatalf("final = %+v", r.State)
	}

	d.Reconcile(pumpReading(false))
	if st, _ := d.State("pump"); st.Desired || st.Confirmed {
		t.Fatalf("authoritative snapshot should win once idle: %+v", st)
	}
}

func TestReconcile_RollbackUsesReconciledConfirmed(t *testing.T) {
	mem := feed.NewMemory()
	fail := make(chan struct{})
	mem.SetWriteFunc(func(ctx context.Context, path string, v any) error {
		<-fail
		return errors.New("rejected")
	})
	d := newTestDispatcher(mem, 0, time.Second)
	d.Reconcile(pumpReading(false))

	ch, _ := d.IssueAsync("pump", true)
	waitWrites(t, mem, 1)
	// the device reports the pump on while the write is still in flight
	d.Reconcile(pumpReading(true))

	close(fail)
	r := result(t, ch)
	if !errors.Is(r.Err, models.ErrCommandFailed) {
		t.Fatalf("err = %v", r.Err)
	}
	if !r.State.Desired || !r.State.Confirmed || r.State.Pending {
		t.Fatalf("state after rollback = %+v, want desired=confirmed=true", r.State)
	}
}

func TestReconcile_IgnoresUnboundAndNonBool(t *testing.T) {
	d := newTestDispatcher(feed.NewMemory(), 0, time.Second)

	d.Reconcile(models.SensorReading{Topic: "Other", Fields: map[string]models.Value{"pumpStatus": models.Bool(true)}})
	d.Reconcile(models.SensorReading{Topic: "Irrigation", Fields: map[string]models.Value{"pumpStatus": models.Number(1)}})

	if st, _ := d.State("pump"); st.Synced {
		t.Fatalf("state should be untouched: %+v", st)
	}
}

func TestIssue_TimesOut(t *testing.T) {
	mem := feed.NewMemory()
	gate(mem) // never released
	d := newTestDispatcher(mem, 0, 20*time.Millisecond)

	_, err := d.Issue(context.Background(), "pump", true)
	if !errors.Is(err, models.ErrCommandFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	if st, _ := d.State("pump"); st.Pending || st.Desired {
		t.Fatalf("state after timeout = %+v", st)
	}
}

func TestIssue_CallerCancelDoesNotAbortIntent(t *testing.T) {
	mem := feed.NewMemory()
	d := newTestDispatcher(mem, 20*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Issue(ctx, "pump", true); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	waitWrites(t, mem, 1)
}

func TestIssue_UnknownActuator(t *testing.T) {
	d := newTestDispatcher(feed.NewMemory(), 0, time.Second)

	if _, err := d.Issue(context.Background(), "heater", true); !errors.Is(err, models.ErrUnknownActuator) {
		t.Fatalf("issue err = %v", err)
	}
	if _, err := d.State("heater"); !errors.Is(err, models.ErrUnknownActuator) {
		t.Fatalf("state err = %v", err)
	}
}

func TestIssue_OnOffEncodingAndDerivedPath(t *testing.T) {
	mem := feed.NewMemory()
	d := newTestDispatcher(mem, 0, time.Second)

	if _, err := d.Issue(context.Background(), "valve", true); err != nil {
		t.Fatalf("issue: %v", err)
	}
	w := mem.Writes()[0]
	if w.Path != "Greenhouse/valve" || w.Value != "ON" {
		t.Fatalf("write = %+v", w)
	}
}

// The pump is switched on and confirmed, then a switch-off fails: both values end up true.
func TestIssue_IrrigationScenario(t *testing.T) {
	mem := feed.NewMemory()
	d := newTestDispatcher(mem, 0, time.Second)
	d.Reconcile(pumpReading(false))

	if _, err := d.Issue(context.Background(), "pump", true); err != nil {
		t.Fatalf("switch on: %v", err)
	}
	d.Reconcile(pumpReading(true))

	mem.SetWriteFunc(func(ctx context.Context, path string, v any) error { return errors.New("offline") })
	if _, err := d.Issue(context.Background(), "pump", false); !errors.Is(err, models.ErrCommandFailed) {
		t.Fatalf("switch off err = %v", err)
	}

	st, _ := d.State("pump")
	if !st.Desired || !st.Confirmed || st.Pending {
		t.Fatalf("state = %+v, want desired=confirmed=true", st)
	}
	if got := writtenValues(mem); len(got) != 2 || got[1] != false {
		t.Fatalf("writes = %v", got)
	}
}

func TestBindings_Sorted(t *testing.T) {
	d := newTestDispatcher(feed.NewMemory(), 0, time.Second)
	bs := d.Bindings()
	if len(bs) != 2 || bs[0].ActuatorID != "pump" || bs[1].ActuatorID != "valve" {
		t.Fatalf("bindings = %+v", bs)
	}
}
