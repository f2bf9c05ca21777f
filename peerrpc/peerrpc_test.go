package peerrpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sys/unix"

	"github.com/offsoc/glycin/wire"
)

type echoArgs struct {
	Value string `msgpack:"value"`
}

func pairForTest(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	client, peer, err := Pair()
	if err != nil {
		t.Fatalf("Pair failed: %v", err)
	}
	server, err := NewConn(peer)
	if err != nil {
		client.Close()
		t.Fatalf("NewConn failed: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestCallReply(t *testing.T) {
	client, server := pairForTest(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go server.Serve(ctx, func(method string, args []byte, fds []int) (any, []int, error) {
		if method != "test.Echo" {
			t.Errorf("unexpected method %q", method)
		}
		var in echoArgs
		if err := msgpack.Unmarshal(args, &in); err != nil {
			t.Errorf("decoding args: %v", err)
		}
		return echoArgs{Value: in.Value + "!"}, nil, nil
	})

	var reply echoArgs
	fds, err := client.Call(ctx, "test.Echo", echoArgs{Value: "hello"}, nil, &reply)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if len(fds) != 0 {
		t.Errorf("unexpected fds: %v", fds)
	}
	if reply.Value != "hello!" {
		t.Errorf("reply = %q, want %q", reply.Value, "hello!")
	}
}

func TestCallErrorReply(t *testing.T) {
	client, server := pairForTest(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go server.Serve(ctx, func(method string, args []byte, fds []int) (any, []int, error) {
		return nil, nil, &wire.RemoteError{Kind: wire.KindUnsupportedImageFormat, Message: "no webp here"}
	})

	var reply echoArgs
	_, err := client.Call(ctx, "test.Echo", echoArgs{}, nil, &reply)
	var remote *wire.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remote.Kind != wire.KindUnsupportedImageFormat {
		t.Errorf("kind = %v, want UnsupportedImageFormat", remote.Kind)
	}
}

func TestCallPassesDescriptors(t *testing.T) {
	client, server := pairForTest(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go server.Serve(ctx, func(method string, args []byte, fds []int) (any, []int, error) {
		if len(fds) != 1 {
			t.Errorf("expected 1 fd, got %d", len(fds))
			return echoArgs{}, nil, nil
		}
		// Read what the client wrote through the passed descriptor.
		buf := make([]byte, 5)
		if _, err := unix.Pread(fds[0], buf, 0); err != nil {
			t.Errorf("reading passed fd: %v", err)
		}
		unix.Close(fds[0])

		// Pass one back, too.
		out, err := memfdWith(t, "reply data")
		if err != nil {
			return nil, nil, err
		}
		return echoArgs{Value: string(buf)}, []int{out}, nil
	})

	in, err := memfdWith(t, "pixel")
	if err != nil {
		t.Fatalf("memfd: %v", err)
	}

	var reply echoArgs
	fds, err := client.Call(ctx, "test.Swap", echoArgs{}, []int{in}, &reply)
	unix.Close(in)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if reply.Value != "pixel" {
		t.Errorf("server read %q through fd, want %q", reply.Value, "pixel")
	}
	if len(fds) != 1 {
		t.Fatalf("expected 1 returned fd, got %d", len(fds))
	}
	defer unix.Close(fds[0])

	buf := make([]byte, 10)
	if _, err := unix.Pread(fds[0], buf, 0); err != nil {
		t.Fatalf("reading returned fd: %v", err)
	}
	if string(buf) != "reply data" {
		t.Errorf("returned fd contents = %q, want %q", buf, "reply data")
	}
}

func TestCallCanceled(t *testing.T) {
	client, server := pairForTest(t)
	_ = server // never serves; the call must still resolve

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		var reply echoArgs
		_, err := client.Call(ctx, "test.Echo", echoArgs{}, nil, &reply)
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrCanceled) {
			t.Errorf("expected ErrCanceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("canceled call did not resolve")
	}
}

func memfdWith(t *testing.T, content string) (int, error) {
	t.Helper()
	fd, err := unix.MemfdCreate("peerrpc-test", unix.MFD_CLOEXEC)
	if err != nil {
		return -1, err
	}
	if _, err := unix.Pwrite(fd, []byte(content), 0); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}
