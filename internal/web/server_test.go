// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/usbl_relay/internal/relay"
)

type fakeRelay struct {
	mu       sync.Mutex
	status   relay.Status
	syncs    int
	syncErr  error
	gpsCalls []string
}

func (f *fakeRelay) Snapshot() relay.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeRelay) SyncLocation() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs++
	return f.syncErr
}

func (f *fakeRelay) SetGPSEndpoint(addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gpsCalls = append(f.gpsCalls, addr)
	f.status.GPSEndpoint = addr
	return nil
}

func (f *fakeRelay) SetFusedEndpoint(addr string) error {
	if _, err := relay.ParseEndpoint(addr); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status.FusedEndpoint = addr
	return nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestStatus_UnavailableBeforeAttach(t *testing.T) {
	s := New(quiet())
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d want 503", rec.Code)
	}
}

func TestStatus_ReturnsSnapshot(t *testing.T) {
	s := New(quiet())
	s.Attach(&fakeRelay{status: relay.Status{State: relay.StateRunning, GPSDevice: "/dev/ttyUSB0", FusedSent: 7}})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rec.Code)
	}
	var got relay.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.State != relay.StateRunning || got.GPSDevice != "/dev/ttyUSB0" || got.FusedSent != 7 {
		t.Fatalf("status=%+v", got)
	}
}

func TestSync(t *testing.T) {
	fr := &fakeRelay{}
	s := New(quiet())
	s.Attach(fr)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync", nil))
	if rec.Code != http.StatusNoContent || fr.syncs != 1 {
		t.Fatalf("code=%d syncs=%d want 204/1", rec.Code, fr.syncs)
	}

	fr.syncErr = relay.ErrStopped
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("code=%d want 409", rec.Code)
	}

	fr.syncErr = errors.New("write failed")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("code=%d want 500", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sync", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET code=%d want 405", rec.Code)
	}
}

func TestEndpoints(t *testing.T) {
	fr := &fakeRelay{}
	s := New(quiet())
	s.Attach(fr)

	for _, tc := range []struct {
		name      string
		body      string
		wantCode  int
		wantFused string
	}{
		{"set fused", `{"fused":"192.168.2.2:27000"}`, http.StatusOK, "192.168.2.2:27000"},
		{"missing port", `{"fused":"192.168.2.2"}`, http.StatusBadRequest, "192.168.2.2:27000"},
		{"clear", `{"fused":""}`, http.StatusOK, ""},
		{"bad json", `{"fused":`, http.StatusBadRequest, ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/endpoints", strings.NewReader(tc.body)))
			if rec.Code != tc.wantCode {
				t.Fatalf("code=%d want %d (%s)", rec.Code, tc.wantCode, rec.Body.String())
			}
			if got := fr.Snapshot().FusedEndpoint; got != tc.wantFused {
				t.Fatalf("fused=%q want %q", got, tc.wantFused)
			}
		})
	}
	if len(fr.gpsCalls) != 0 {
		t.Fatalf("gps endpoint changed without being requested: %v", fr.gpsCalls)
	}
}

func TestWebsocket_StreamsEvents(t *testing.T) {
	s := New(quiet())
	ts := httptest.NewServer(s)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Handle only reaches clients that have registered.
	deadline := time.Now().Add(time.Second)
	for {
		s.clientsMu.Lock()
		n := len(s.clients)
		s.clientsMu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(time.Millisecond)
	}

	s.Handle(relay.Event{Key: relay.KeyState, Value: relay.StateRunning})

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var ev struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Key != relay.KeyState || ev.Value != string(relay.StateRunning) {
		t.Fatalf("event=%+v", ev)
	}
}
