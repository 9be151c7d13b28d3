package feed

import (
	"context"
	"errors"
	"testing"
)

func TestMemory_OpenPushClose(t *testing.T) {
	m := NewMemory()
	ch, err := m.Open(context.Background(), "Irrigation")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := m.Open(context.Background(), "Irrigation"); err == nil {
		t.Fatalf("expected error on double open")
	}
	if !m.PushJSON("Irrigation", map[string]any{"Humidity": 40}) {
		t.Fatalf("push rejected")
	}
	snap := <-ch
	if snap.Topic != "Irrigation" || string(snap.Payload) != `{"Humidity":40}` {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	if err := m.Close("Irrigation"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("stream should be closed")
	}
	if m.IsOpen("Irrigation") || m.Push("Irrigation", []byte(`{}`)) {
		t.Fatalf("topic should no longer accept pushes")
	}
	if m.OpenCount("Irrigation") != 2 || m.CloseCount("Irrigation") != 1 {
		t.Fatalf("counts: open=%d close=%d", m.OpenCount("Irrigation"), m.CloseCount("Irrigation"))
	}
}

func TestMemory_FailOpensThenSucceeds(t *testing.T) {
	m := NewMemory()
	boom := errors.New("boom")
	m.FailOpens(boom, boom)

	for i := 0; i < 2; i++ {
		if _, err := m.Open(context.Background(), "t"); !errors.Is(err, boom) {
			t.Fatalf("attempt %d: expected boom, got %v", i, err)
		}
	}
	if _, err := m.Open(context.Background(), "t"); err != nil {
		t.Fatalf("third attempt: %v", err)
	}
}

func TestMemory_WriteHooks(t *testing.T) {
	m := NewMemory()
	var seen []any
	m.OnWrite(func(path string, v any) { seen = append(seen, v) })

	if err := m.Write(context.Background(), "Irrigation/pumpStatus", true); err != nil {
		t.Fatalf("write: %v", err)
	}

	reject := errors.New("permission denied")
	m.SetWriteFunc(func(ctx context.Context, path string, v any) error { return reject })
	if err := m.Write(context.Background(), "Irrigation/pumpStatus", false); !errors.Is(err, reject) {
		t.Fatalf("expected reject, got %v", err)
	}

	writes := m.Writes()
	if len(writes) != 2 || writes[0].Value != true || writes[1].Value != false {
		t.Fatalf("writes = %+v", writes)
	}
	if len(seen) != 1 {
		t.Fatalf("observer should only see successful writes, saw %v", seen)
	}
}
