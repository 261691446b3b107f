package mqtt

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/harveysanders/lcdtext/refresh"
)

type published struct {
	topic   string
	payload []byte
}

// readPacket reads one MQTT 3.1.1 control packet and returns its fixed header
// byte and body.
func readPacket(r *bufio.Reader) (byte, []byte, error) {
	head, err := r.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	var length, shift int
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, nil, err
		}
		length |= int(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	body := make([]byte, length)
	_, err = io.ReadFull(r, body)
	return head, body, err
}

// fakeBroker accepts one connection, acknowledges CONNECT and forwards every
// QoS0 PUBLISH it receives.
func fakeBroker(t *testing.T, ln net.Listener, out chan<- published) {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		head, body, err := readPacket(r)
		if err != nil {
			return
		}
		switch head >> 4 {
		case 1: // CONNECT
			if _, err := conn.Write([]byte{0x20, 0x02, 0x00, 0x00}); err != nil {
				return
			}
		case 3: // PUBLISH
			n := int(binary.BigEndian.Uint16(body))
			out <- published{topic: string(body[2 : 2+n]), payload: body[2+n:]}
		}
	}
}

func TestConnectAndPublish(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	got := make(chan published, 2)
	go fakeBroker(t, ln, got)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	frames := make(chan refresh.Frame, 2)
	c := &Client{Topic: "garden/lcd", Timeout: 2 * time.Second}
	done := make(chan error, 1)
	go func() { done <- c.ConnectAndPublish(ctx, ln.Addr().String(), frames) }()

	want := refresh.Frame{
		Tick:  7,
		Time:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Lines: []string{"Hello           ", "World!!!!!!!!!!!"},
	}
	frames <- want
	next := want
	next.Tick = 8
	frames <- next

	// Both frames must arrive over the same session.
	for _, w := range []refresh.Frame{want, next} {
		select {
		case p := <-got:
			if p.topic != "garden/lcd" {
				t.Fatalf("topic = %q", p.topic)
			}
			var f refresh.Frame
			if err := json.Unmarshal(p.payload, &f); err != nil {
				t.Fatalf("payload %q: %v", p.payload, err)
			}
			if f.Tick != w.Tick || !f.Time.Equal(w.Time) || !reflect.DeepEqual(f.Lines, w.Lines) {
				t.Fatalf("frame = %+v, want %+v", f, w)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("no publish received for tick %d", w.Tick)
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("ConnectAndPublish = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ConnectAndPublish did not return after cancel")
	}
}

func TestConnectAndPublish_RetriesUntilCancelled(t *testing.T) {
	// Reserve a port and close it so every dial is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	c := &Client{RetryDelay: 10 * time.Millisecond}
	err = c.ConnectAndPublish(ctx, addr, make(chan refresh.Frame))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if c.Topic != DefaultTopic || c.ID != DefaultClientID {
		t.Fatalf("defaults not applied: topic=%q id=%q", c.Topic, c.ID)
	}
}

func TestNextPacketID_NeverZero(t *testing.T) {
	c := &Client{}
	if id := c.nextPacketID(); id != 1 {
		t.Fatalf("first id = %d, want 1", id)
	}
	c.packetID = 0xffff
	if id := c.nextPacketID(); id != 1 {
		t.Fatalf("id after wraparound = %d, want 1", id)
	}
	if id := c.nextPacketID(); id != 2 {
		t.Fatalf("id = %d, want 2", id)
	}
}
