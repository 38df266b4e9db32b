package httputil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewStandardClient(t *testing.T) {
	custom := &http.Client{}
	if got := NewStandardClient(custom); got.Client != custom {
		t.Error("Expected the custom client to be wrapped")
	}
	if got := NewStandardClient(nil); got.Client != http.DefaultClient {
		t.Error("Expected nil to fall back to http.DefaultClient")
	}
}

func TestGetJSONSuccess(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `{"temp_c": 21.5, "station": "gate-7"}`)

	var obs struct {
		TempC   float64 `json:"temp_c"`
		Station string  `json:"station"`
	}
	if err := GetJSON(context.Background(), mock, "http://weather.local/latest", &obs); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}

	if obs.TempC != 21.5 || obs.Station != "gate-7" {
		t.Errorf("Decoded %+v, want temp 21.5 at gate-7", obs)
	}

	req := mock.GetRequest(0)
	if req == nil {
		t.Fatal("Expected the request to be recorded")
	}
	if req.URL.String() != "http://weather.local/latest" {
		t.Errorf("Request URL = %s", req.URL)
	}
	if got := req.Header.Get("Accept"); got != "application/json" {
		t.Errorf("Accept header = %q, want application/json", got)
	}
}

func TestGetJSONStatusError(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusServiceUnavailable, "upstream down")

	var out map[string]interface{}
	err := GetJSON(context.Background(), mock, "http://weather.local/latest", &out)
	if err == nil {
		t.Fatal("Expected an error for a non-200 response")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("Error %q should name the status", err)
	}
}

func TestGetJSONDecodeError(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, "not json at all")

	var out map[string]interface{}
	err := GetJSON(context.Background(), mock, "http://weather.local/latest", &out)
	if err == nil {
		t.Fatal("Expected a decode error")
	}
	if !strings.Contains(err.Error(), "decode") {
		t.Errorf("Error %q should mention decoding", err)
	}
}

func TestGetJSONTransportError(t *testing.T) {
	mock := NewMockHTTPClient()
	wantErr := errors.New("connection refused")
	mock.AddErrorResponse(wantErr)

	var out map[string]interface{}
	if err := GetJSON(context.Background(), mock, "http://weather.local/latest", &out); !errors.Is(err, wantErr) {
		t.Errorf("GetJSON error = %v, want the transport error wrapped", err)
	}
}

func TestGetJSONContextCanceled(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out map[string]interface{}
	if err := GetJSON(ctx, NewStandardClient(nil), server.URL, &out); !errors.Is(err, context.Canceled) {
		t.Errorf("GetJSON error = %v, want context.Canceled", err)
	}
	if hits != 0 {
		t.Errorf("Server saw %d requests, want none for a canceled context", hits)
	}
}

func TestGetJSONRealServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("Accept header = %q, want application/json", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"temp_c": -2.0, "humidity": 81.5}`))
	}))
	defer server.Close()

	var obs struct {
		TempC    float64 `json:"temp_c"`
		Humidity float64 `json:"humidity"`
	}
	if err := GetJSON(context.Background(), NewStandardClient(nil), server.URL+"/v1/observations/latest", &obs); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if obs.TempC != -2.0 || obs.Humidity != 81.5 {
		t.Errorf("Decoded %+v", obs)
	}
}

func TestGetJSONBodyCap(t *testing.T) {
	// A body past the cap truncates mid-value and fails the decode.
	huge := `{"pad":"` + strings.Repeat("x", maxResponseBytes) + `"}`
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, huge)

	var out map[string]interface{}
	if err := GetJSON(context.Background(), mock, "http://weather.local/latest", &out); err == nil {
		t.Fatal("Expected an oversized body to fail")
	}
}

func TestMockHTTPClientQueue(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, "first").AddResponse(http.StatusAccepted, "second")

	statuses := []int{http.StatusOK, http.StatusAccepted, http.StatusOK}
	for i, want := range statuses {
		req, _ := http.NewRequest(http.MethodGet, "http://example.test/", nil)
		resp, err := mock.Do(req)
		if err != nil {
			t.Fatalf("Do %d failed: %v", i, err)
		}
		resp.Body.Close()
		// The queue answers in order, then defaults to an empty 200.
		if resp.StatusCode != want {
			t.Errorf("Response %d status = %d, want %d", i, resp.StatusCode, want)
		}
	}

	if mock.RequestCount() != 3 {
		t.Errorf("RequestCount() = %d, want 3", mock.RequestCount())
	}
}

func TestMockHTTPClientGetRequestBounds(t *testing.T) {
	mock := NewMockHTTPClient()
	if mock.GetRequest(0) != nil {
		t.Error("Expected nil before any request")
	}

	req, _ := http.NewRequest(http.MethodGet, "http://example.test/", nil)
	resp, err := mock.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	resp.Body.Close()

	if mock.GetRequest(0) != req {
		t.Error("GetRequest(0) should return the recorded request")
	}
	if mock.GetRequest(1) != nil || mock.GetRequest(-1) != nil {
		t.Error("Out-of-range indexes should return nil")
	}
}
