package history

import (
	"testing"
	"time"

	"fieldsync/internal/models"
)

var base = time.Unix(1_700_000_000, 0)

func reading(topic models.Topic, sec int, moisture float64) models.SensorReading {
	return models.SensorReading{
		Topic:      topic,
		Fields:     map[string]models.Value{"SoilMoisture": models.Number(moisture)},
		SourceTime: base.Add(time.Duration(sec) * time.Second),
		ReceivedAt: time.Now(),
	}
}

func TestRing_EvictsOldestAndStaysBounded(t *testing.T) {
	t.Parallel()

	r := NewRing(3)
	for i := 1; i <= 5; i++ {
		if !r.Append(reading("t", i, float64(i))) {
			t.Fatalf("append %d rejected", i)
		}
		if r.Len() > r.Cap() {
			t.Fatalf("len %d exceeds cap %d", r.Len(), r.Cap())
		}
	}

	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len = %d, want 3", len(snap))
	}
	for i, want := range []int{3, 4, 5} {
		if !snap[i].Timestamp.Equal(base.Add(time.Duration(want) * time.Second)) {
			t.Fatalf("entry %d timestamp = %v, want +%ds", i, snap[i].Timestamp, want)
		}
	}
}

func TestRing_RejectsOlderOrEqual(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		secs []int
		want []bool
	}{
		{"ascending", []int{1, 2, 3}, []bool{true, true, true}},
		{"duplicate", []int{1, 1}, []bool{true, false}},
		{"out of order", []int{5, 3, 6}, []bool{true, false, true}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := NewRing(10)
			for i, s := range tc.secs {
				if got := r.Append(reading("t", s, 1)); got != tc.want[i] {
					t.Fatalf("append #%d (t=%d) = %v, want %v", i, s, got, tc.want[i])
				}
			}
			snap := r.Snapshot()
			for i := 1; i < len(snap); i++ {
				if !snap[i].Timestamp.After(snap[i-1].Timestamp) {
					t.Fatalf("timestamps not strictly ascending: %v", snap)
				}
			}
		})
	}
}

func TestRing_SnapshotIsDetached(t *testing.T) {
	t.Parallel()

	r := NewRing(2)
	in := reading("t", 1, 10)
	r.Append(in)
	in.Fields["SoilMoisture"] = models.Number(99)

	snap := r.Snapshot()
	snap[0].Reading.Fields["SoilMoisture"] = models.Number(42)

	again := r.Snapshot()
	if f, _ := again[0].Reading.Fields["SoilMoisture"].Float(); f != 10 {
		t.Fatalf("stored reading was mutated: %v", f)
	}
}

func TestRing_NoSourceTimeUsesTruncatedReceipt(t *testing.T) {
	t.Parallel()

	r := NewRing(4)
	at := base.Add(1500 * time.Millisecond)
	first := models.SensorReading{Topic: "t", ReceivedAt: at}
	second := models.SensorReading{Topic: "t", ReceivedAt: at.Add(200 * time.Millisecond)}

	if !r.Append(first) {
		t.Fatalf("first rejected")
	}
	if r.Append(second) {
		t.Fatalf("second within the same second should be rejected")
	}
	if got := r.Snapshot()[0].Timestamp; !got.Equal(base.Add(time.Second)) {
		t.Fatalf("timestamp = %v", got)
	}
}

func TestNewRing_DefaultCapacity(t *testing.T) {
	t.Parallel()
	if got := NewRing(0).Cap(); got != DefaultCapacity {
		t.Fatalf("cap = %d", got)
	}
}

func TestStore_PerTopicAndUnknown(t *testing.T) {
	t.Parallel()

	s := NewStore(2)
	s.Append(reading("a", 1, 1))
	s.Append(reading("a", 2, 2))
	s.Append(reading("a", 3, 3))
	s.Append(reading("b", 1, 1))

	if got := len(s.Snapshot("a")); got != 2 {
		t.Fatalf("a len = %d", got)
	}
	if got := len(s.Snapshot("b")); got != 1 {
		t.Fatalf("b len = %d", got)
	}
	if got := s.Snapshot("missing"); got == nil || len(got) != 0 {
		t.Fatalf("unknown topic = %#v", got)
	}

	s.Drop("a")
	if got := len(s.Snapshot("a")); got != 0 {
		t.Fatalf("dropped topic len = %d", got)
	}
}
