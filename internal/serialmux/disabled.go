package serialmux

import (
	"context"
	"net/http"
	"sync"
)

// DisabledSerialMux satisfies SerialMuxInterface with no device behind it,
// so the API and admin routes can run when the radar is absent. Subscribers
// are tracked so their channels close deterministically on Unsubscribe or
// Close and readers unblock during shutdown.
type DisabledSerialMux struct {
	mu      sync.Mutex
	subs    map[string]chan string
	closing bool
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{subs: make(map[string]chan string)}
}

func (d *DisabledSerialMux) Subscribe() (string, chan string) {
	ch := make(chan string)
	id := newSubscriberID()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		// Already closing: hand back a closed channel so the caller
		// cannot block on it.
		close(ch)
	} else {
		d.subs[id] = ch
	}
	return id, ch
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.subs[id]
	if !ok {
		return
	}
	close(ch)
	delete(d.subs, id)
}

func (d *DisabledSerialMux) SendCommand(string) error { return nil }

func (d *DisabledSerialMux) Initialize(...string) error { return nil }

// Monitor has no port to read; it blocks until the context ends so the
// daemon's monitor goroutine behaves the same with or without hardware.
func (d *DisabledSerialMux) Monitor(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return nil
	}
	d.closing = true
	for id, ch := range d.subs {
		close(ch)
		delete(d.subs, id)
	}
	return nil
}

// AttachAdminRoutes registers a marker page in place of the serial debug
// routes, so an operator poking /debug sees why they are absent.
func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/serial-disabled", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("serial disabled"))
	})
}
