package serialmux

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

// debugRequest stamps a loopback RemoteAddr so tsweb's debug-access check
// lets the request through.
func debugRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:54321"
	return req
}

func newAdminMux(t *testing.T) (*SerialMux[*scriptPort], *scriptPort, *http.ServeMux) {
	t.Helper()
	port := newScriptPort("")
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)
	return mux, port, httpMux
}

func TestAdminSendCommandForm(t *testing.T) {
	_, _, httpMux := newAdminMux(t)

	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, debugRequest(http.MethodGet, "/debug/send-command", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /debug/send-command = %d, want 200. Body: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "<form") {
		t.Error("Expected the command form in the page body")
	}
}

func TestAdminSendCommandAPI(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		form       url.Values
		wantStatus int
		wantBody   string
	}{
		{"writes the command", http.MethodPost, url.Values{"command": {"OJ"}}, http.StatusOK, "OJ"},
		{"rejects empty command", http.MethodPost, url.Values{"command": {""}}, http.StatusBadRequest, "Missing command"},
		{"rejects blank command", http.MethodPost, url.Values{"command": {"   "}}, http.StatusBadRequest, "Missing command"},
		{"rejects GET", http.MethodGet, nil, http.StatusMethodNotAllowed, "Method not allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, port, httpMux := newAdminMux(t)
			defer mux.Close()

			var body io.Reader
			if tt.form != nil {
				body = strings.NewReader(tt.form.Encode())
			}
			req := debugRequest(tt.method, "/debug/send-command-api", body)
			if tt.form != nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}

			rec := httptest.NewRecorder()
			httpMux.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("Status = %d, want %d. Body: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("Body = %q, want mention of %q", rec.Body.String(), tt.wantBody)
			}
			if tt.wantStatus == http.StatusOK && !strings.Contains(port.commands(), "OJ\n") {
				t.Errorf("Port received %q, want the newline-terminated command", port.commands())
			}
		})
	}
}

func TestAdminSendCommandAPIWriteError(t *testing.T) {
	mux, port, httpMux := newAdminMux(t)
	defer mux.Close()
	port.writeErr = io.ErrClosedPipe

	form := url.Values{"command": {"OJ"}}
	req := debugRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", rec.Code)
	}
}

func TestAdminTailStreamsLines(t *testing.T) {
	mux, _, httpMux := newAdminMux(t)
	defer mux.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req := debugRequest(http.MethodGet, "/debug/tail", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	served := make(chan struct{})
	go func() {
		httpMux.ServeHTTP(rec, req)
		close(served)
	}()

	// Wait for the handler to subscribe, then push a line the way Monitor
	// would.
	var ch chan string
	deadline := time.Now().Add(2 * time.Second)
	for {
		mux.subsMu.Lock()
		for _, c := range mux.subs {
			ch = c
		}
		mux.subsMu.Unlock()
		if ch != nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if ch == nil {
		t.Fatal("Tail handler never subscribed")
	}
	select {
	case ch <- `{"speed":"12.50","magnitude":"140"}`:
	case <-time.After(2 * time.Second):
		t.Fatal("Tail handler never received the line")
	}

	cancel()
	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("Tail handler did not exit on context cancel")
	}

	body := rec.Body.String()
	if !strings.Contains(body, ": ping\n\n") {
		t.Error("Expected the opening ping event")
	}
	if !strings.Contains(body, "data: {\"speed\":\"12.50\",\"magnitude\":\"140\"}\n\n") {
		t.Errorf("Body = %q, want the line as an SSE data event", body)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", got)
	}
}

func TestAdminTailRejectsPost(t *testing.T) {
	mux, _, httpMux := newAdminMux(t)
	defer mux.Close()

	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, debugRequest(http.MethodPost, "/debug/tail", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /debug/tail = %d, want 405", rec.Code)
	}
}

func TestAdminTailScript(t *testing.T) {
	mux, _, httpMux := newAdminMux(t)
	defer mux.Close()

	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, debugRequest(http.MethodGet, "/debug/tail.js", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /debug/tail.js = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "javascript") {
		t.Errorf("Content-Type = %q, want javascript", got)
	}
	if !strings.Contains(rec.Body.String(), "EventSource") {
		t.Error("Expected the tail script to open an EventSource")
	}
}
