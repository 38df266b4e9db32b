package camera

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/kerbside-data/passage.report/internal/fusion"
	"github.com/kerbside-data/passage.report/internal/timeutil"
)

// fixtureTS is the unix-millisecond camera timestamp the test datagrams
// carry. The store clock is pinned beside it so the entries sit inside the
// retention window.
const fixtureTS = 1700000000123

func newTestListener(t *testing.T) (*Listener, *fusion.WindowStore) {
	t.Helper()
	clock := timeutil.NewMockClock(time.UnixMilli(fixtureTS))
	windows := fusion.NewWindowStore(fusion.WindowConfig{}, clock)
	l := NewListener(ListenerConfig{Addr: "127.0.0.1:0"}, windows, clock)
	return l, windows
}

func TestHandleDatagram_ValidInference(t *testing.T) {
	l, windows := newTestListener(t)

	l.HandleDatagram([]byte(`{"class":"car","confidence":0.92,"box":[10,20,80,40],"image":"cap/0001.jpg","ts":1700000000123}`))

	if got := windows.Len(fusion.SourceCamera); got != 1 {
		t.Fatalf("window depth = %d, expected 1", got)
	}

	det, ok := windows.FindNearest(fusion.SourceCamera, time.UnixMilli(fixtureTS), time.Second)
	if !ok {
		t.Fatal("expected to find appended detection")
	}
	if det.Camera == nil {
		t.Fatal("expected camera payload")
	}
	if det.Camera.Class != "car" {
		t.Errorf("class = %q, expected car", det.Camera.Class)
	}
	if det.Camera.Confidence != 0.92 {
		t.Errorf("confidence = %v, expected 0.92", det.Camera.Confidence)
	}
	if len(det.Camera.Box) != 4 || det.Camera.Box[0] != 10 {
		t.Errorf("box = %v, expected [10 20 80 40]", det.Camera.Box)
	}
	if det.Camera.ImageRef != "cap/0001.jpg" {
		t.Errorf("image ref = %q, expected cap/0001.jpg", det.Camera.ImageRef)
	}
	if !det.ObservedAt.Equal(time.UnixMilli(fixtureTS)) {
		t.Errorf("observed_at = %v, expected camera timestamp", det.ObservedAt)
	}

	c := l.Counters()
	if c.Received != 1 || c.Appended != 1 {
		t.Errorf("counters = %+v, expected received 1 appended 1", c)
	}
}

func TestHandleDatagram_HostStampWhenCameraOmitsTS(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(now)
	windows := fusion.NewWindowStore(fusion.WindowConfig{}, clock)
	l := NewListener(ListenerConfig{}, windows, clock)

	l.HandleDatagram([]byte(`{"class":"truck","confidence":0.7}`))

	det, ok := windows.FindNearest(fusion.SourceCamera, now, time.Second)
	if !ok {
		t.Fatal("expected to find appended detection")
	}
	if !det.ObservedAt.Equal(now) {
		t.Errorf("observed_at = %v, expected host time %v", det.ObservedAt, now)
	}
}

func TestHandleDatagram_DropsMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"truncated json", `{"class":"car","confidence":`},
		{"missing class", `{"confidence":0.9}`},
		{"confidence above one", `{"class":"car","confidence":1.4}`},
		{"negative confidence", `{"class":"car","confidence":-0.1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, windows := newTestListener(t)

			l.HandleDatagram([]byte(tt.data))

			if got := windows.Len(fusion.SourceCamera); got != 0 {
				t.Errorf("window depth = %d, expected 0", got)
			}
			c := l.Counters()
			if c.Malformed != 1 {
				t.Errorf("malformed counter = %d, expected 1", c.Malformed)
			}
			if c.Appended != 0 {
				t.Errorf("appended counter = %d, expected 0", c.Appended)
			}
		})
	}
}

func TestHandleDatagram_DropsOversized(t *testing.T) {
	windows := fusion.NewWindowStore(fusion.WindowConfig{}, nil)
	l := NewListener(ListenerConfig{MaxDatagram: 64}, windows, nil)

	big := append([]byte(`{"class":"car","confidence":0.9,"image":"`), bytes.Repeat([]byte("x"), 128)...)
	big = append(big, []byte(`"}`)...)
	l.HandleDatagram(big)

	if got := windows.Len(fusion.SourceCamera); got != 0 {
		t.Errorf("window depth = %d, expected 0", got)
	}
	if c := l.Counters(); c.Oversized != 1 {
		t.Errorf("oversized counter = %d, expected 1", c.Oversized)
	}
}

func TestListener_ReceivesOverUDP(t *testing.T) {
	l, windows := newTestListener(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.Start(ctx) }()

	// Wait for the socket to come up.
	var addr net.Addr
	deadline := time.After(2 * time.Second)
	for addr = l.LocalAddr(); addr == nil; addr = l.LocalAddr() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for listener socket")
		case <-time.After(5 * time.Millisecond):
		}
	}

	conn, err := net.Dial("udp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(`{"class":"bike","confidence":0.81,"ts":1700000000500}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline = time.After(2 * time.Second)
	for windows.Len(fusion.SourceCamera) < 1 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for detection to appear in window")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Start returned %v, expected context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestListener_StartFailsOnBadAddress(t *testing.T) {
	windows := fusion.NewWindowStore(fusion.WindowConfig{}, nil)
	l := NewListener(ListenerConfig{Addr: "not-an-address:!!"}, windows, nil)

	if err := l.Start(context.Background()); err == nil {
		t.Error("expected error for unresolvable address")
	}
}
