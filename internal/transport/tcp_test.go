package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"
)

// startDevice runs a single-connection echo peer on a random local port and
// returns its address plus channels carrying received/injected frames.
func startDevice(t *testing.T) (addr string, received <-chan string, inject chan<- string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	rx := make(chan string, 16)
	tx := make(chan string, 16)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		go func() {
			buf := make([]byte, 0, 256)
			tmp := make([]byte, 256)
			for {
				n, err := conn.Read(tmp)
				if err != nil {
					return
				}
				buf = append(buf, tmp[:n]...)
				for {
					i := bytes.Index(buf, []byte("\r\n"))
					if i < 0 {
						break
					}
					rx <- string(buf[:i])
					buf = append(buf[:0], buf[i+2:]...)
				}
			}
		}()

		for frame := range tx {
			if _, err := conn.Write([]byte(frame + "\r\n")); err != nil {
				return
			}
		}
	}()

	return ln.Addr().String(), rx, tx
}

func TestTCPClientRoundTrip(t *testing.T) {
	addr, received, inject := startDevice(t)

	client, err := Open(TCPConfig{Address: addr, ReconnectInterval: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer client.Close()

	states := make(chan bool, 4)
	frames := make(chan string, 4)
	client.SetOnState(func(up bool) { states <- up })
	client.SetOnFrame(func(f []byte) { frames <- string(f) })

	select {
	case up := <-states:
		if !up {
			t.Fatal("first state transition was down, want up")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connect")
	}

	if err := client.Send(context.Background(), []byte("PWR?")); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	select {
	case got := <-received:
		if got != "PWR?" {
			t.Errorf("device received %q, want %q", got, "PWR?")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for request at device")
	}

	inject <- "PWR=1"

	select {
	case got := <-frames:
		if got != "PWR=1" {
			t.Errorf("frame callback got %q, want %q (terminator must be stripped)", got, "PWR=1")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response frame")
	}

	stats := client.Stats()
	if stats.FramesTx != 1 || stats.FramesRx != 1 {
		t.Errorf("stats tx/rx = %d/%d, want 1/1", stats.FramesTx, stats.FramesRx)
	}
	if !stats.Connected {
		t.Error("stats report disconnected after successful round trip")
	}
}

func TestTCPClientDeliversFramesInOrder(t *testing.T) {
	addr, _, inject := startDevice(t)

	client, err := Open(TCPConfig{Address: addr})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer client.Close()

	var mu sync.Mutex
	var got []string
	client.SetOnFrame(func(f []byte) {
		mu.Lock()
		got = append(got, string(f))
		mu.Unlock()
	})

	states := make(chan bool, 4)
	client.SetOnState(func(up bool) { states <- up })
	select {
	case <-states:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connect")
	}

	// A burst well past the queue depth: every frame must arrive, in the
	// order it was sent. Responses are matched to outstanding requests
	// downstream, so reordering or dropping corrupts attribution.
	const total = 500
	for i := 0; i < total; i++ {
		inject <- fmt.Sprintf("VAL=%d", i)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == total {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != total {
		t.Fatalf("delivered %d frames, want all %d", len(got), total)
	}
	for i, f := range got {
		if want := fmt.Sprintf("VAL=%d", i); f != want {
			t.Fatalf("frame %d = %q, want %q (wire order)", i, f, want)
		}
	}
}

func TestTCPClientSendWhileDown(t *testing.T) {
	// Reserved port with no listener: the client keeps retrying in the
	// background and Send reports the link as down.
	client, err := Open(TCPConfig{
		Address:           "127.0.0.1:1",
		ConnectTimeout:    100 * time.Millisecond,
		ReconnectInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer client.Close()

	if err := client.Send(context.Background(), []byte("PWR?")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() while down = %v, want ErrNotConnected", err)
	}
}

func TestTCPClientConfigValidation(t *testing.T) {
	if _, err := Open(TCPConfig{}); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Open() without address = %v, want ErrConnectionFailed", err)
	}
}

func TestTCPClientCloseIsIdempotent(t *testing.T) {
	addr, _, _ := startDevice(t)

	client, err := Open(TCPConfig{Address: addr})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
}
