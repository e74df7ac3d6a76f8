package netstate

import (
	"context"
	"testing"
	"time"
)

// TestParseConnectionType verifies host names map onto the closed set.
func TestParseConnectionType(t *testing.T) {
	tests := map[string]ConnectionType{
		"wifi":      TypeWiFi,
		"WIFI":      TypeWiFi,
		"ethernet":  TypeWiFi,
		"cellular":  TypeCellular,
		"none":      TypeNone,
		"bluetooth": TypeUnknown,
		"":          TypeUnknown,
	}
	for in, want := range tests {
		if got := ParseConnectionType(in); got != want {
			t.Errorf("ParseConnectionType(%q) = %v, want %v", in, got, want)
		}
	}
}

// TestTracker_Update verifies transitions and timestamps.
func TestTracker_Update(t *testing.T) {
	tr := NewTracker()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tr.now = func() time.Time { return fixed }

	if tr.IsConnected() {
		t.Fatal("tracker should start disconnected")
	}

	if restored := tr.Update(Status{IsConnected: true, Type: TypeCellular}); !restored {
		t.Error("disconnected → connected should report restored")
	}
	if restored := tr.Update(Status{IsConnected: true, Type: TypeWiFi}); restored {
		t.Error("connected → connected should not report restored")
	}

	st := tr.State()
	if !st.IsConnected || st.ConnectionType != TypeWiFi || !st.LastConnected.Equal(fixed) {
		t.Errorf("State() = %+v", st)
	}

	tr.Update(Status{IsConnected: false, Type: TypeNone})
	st = tr.State()
	if st.IsConnected || !st.LastDisconnected.Equal(fixed) {
		t.Errorf("State() after disconnect = %+v", st)
	}
}

// TestManual_SubscribeAndSet verifies callbacks and unsubscribe.
func TestManual_SubscribeAndSet(t *testing.T) {
	m := NewManual(Status{})

	cur, err := m.FetchCurrent(context.Background())
	if err != nil || cur.IsConnected || cur.Type != TypeNone {
		t.Fatalf("FetchCurrent() = %+v, %v", cur, err)
	}

	var got []Status
	unsubscribe := m.Subscribe(func(s Status) { got = append(got, s) })

	m.SetConnected(true)
	unsubscribe()
	m.SetConnected(false)

	if len(got) != 1 || !got[0].IsConnected || got[0].Type != TypeWiFi {
		t.Errorf("callbacks = %+v, want one connected event", got)
	}

	cur, _ = m.FetchCurrent(context.Background())
	if cur.IsConnected {
		t.Error("FetchCurrent() should reflect the last Set")
	}
}
