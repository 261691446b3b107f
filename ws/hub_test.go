package ws

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harveysanders/lcdtext/refresh"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) refresh.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f refresh.Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestHub_NewClientGetsLatestThenUpdates(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	hub.Broadcast(refresh.Frame{Tick: 1, Lines: []string{"stale", "frame"}})
	hub.Broadcast(refresh.Frame{Tick: 2, Lines: []string{"Hello", "World"}})

	conn := dial(t, srv.URL)
	first := readFrame(t, conn)
	if first.Tick != 2 || !reflect.DeepEqual(first.Lines, []string{"Hello", "World"}) {
		t.Fatalf("first frame = %+v, want tick 2", first)
	}
	if hub.Len() != 1 {
		t.Fatalf("clients = %d, want 1", hub.Len())
	}

	hub.Broadcast(refresh.Frame{Tick: 3, Lines: []string{"", ""}})
	if next := readFrame(t, conn); next.Tick != 3 {
		t.Fatalf("next frame tick = %d, want 3", next.Tick)
	}
}

func TestHub_ClientLeaves(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	hub.Broadcast(refresh.Frame{Tick: 1})
	conn := dial(t, srv.URL)
	readFrame(t, conn)
	conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for hub.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client still registered after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
	// Must not block or panic with nobody listening.
	hub.Broadcast(refresh.Frame{Tick: 2})
}

func TestHub_RunStopsOnCancel(t *testing.T) {
	hub := NewHub(nil)
	frames := make(chan refresh.Frame, 1)
	ctx, cancel := context.WithCancel(context.Background())

	frames <- refresh.Frame{Tick: 5}
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx, frames) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		hub.mu.Lock()
		latest := hub.latest
		hub.mu.Unlock()
		if latest != nil && latest.Tick == 5 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("frame never reached the hub")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
}

func TestHub_ListenAndServe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	hub := NewHub(nil)
	hub.Broadcast(refresh.Frame{Tick: 9})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.ListenAndServe(ctx, addr) }()

	var conn *websocket.Conn
	deadline := time.Now().Add(5 * time.Second)
	for {
		conn, _, err = websocket.DefaultDialer.Dial("ws://"+addr+"/", nil)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("dial: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	defer conn.Close()
	if f := readFrame(t, conn); f.Tick != 9 {
		t.Fatalf("tick = %d, want 9", f.Tick)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("ListenAndServe = %v, want context.Canceled", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("ListenAndServe did not return")
	}
}
