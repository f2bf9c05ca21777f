// Package source streams image bytes to the loader process. A blocking
// worker reads the source on its own goroutine, publishes the first
// chunk so the host can sniff the media type without consuming the
// stream, and then pipes everything to the child.
package source

import (
	"context"
	"errors"
	"io"
	"os"
	"syscall"
)

// firstChunkSize bounds the chunk used for media-type sniffing.
const firstChunkSize = 64 * 1024

// ErrCanceled reports that the worker was torn down before the stream
// completed.
var ErrCanceled = errors.New("source: canceled")

// Worker streams one source. Spawn it once per image load.
type Worker struct {
	name string

	writerCh chan *os.File
	firstCh  chan []byte

	done chan struct{}
	err  error
}

// Spawn starts the blocking read loop. name is the source's file name,
// used only as a media-type hint.
func Spawn(ctx context.Context, name string, r io.Reader) *Worker {
	w := &Worker{
		name:     name,
		writerCh: make(chan *os.File, 1),
		firstCh:  make(chan []byte, 1),
		done:     make(chan struct{}),
	}

	go func() {
		w.err = w.run(ctx, r)
		close(w.done)
	}()

	return w
}

func (w *Worker) run(ctx context.Context, r io.Reader) error {
	buf := make([]byte, firstChunkSize)

	n, err := readSome(r, buf)
	if err != nil {
		return err
	}
	first := make([]byte, n)
	copy(first, buf[:n])
	w.firstCh <- first

	// Wait for the host to connect the pipe endpoint.
	var pipe *os.File
	select {
	case pipe = <-w.writerCh:
	case <-ctx.Done():
		return ErrCanceled
	}
	defer pipe.Close()

	if _, err := pipe.Write(first); err != nil {
		return writeErr(ctx, err)
	}

	for {
		if ctx.Err() != nil {
			return ErrCanceled
		}
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := pipe.Write(buf[:n]); werr != nil {
				return writeErr(ctx, werr)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// writeErr swallows the broken pipe produced by teardown: the child
// end is gone because the request was canceled or the loader finished
// reading early, neither of which is a source failure.
func writeErr(ctx context.Context, err error) error {
	if errors.Is(err, syscall.EPIPE) {
		if ctx.Err() != nil {
			return ErrCanceled
		}
		return nil
	}
	return err
}

// readSome reads until the buffer is full or the source ends.
func readSome(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return n, nil
	}
	return n, err
}

// Name returns the source's file name hint; may be empty.
func (w *Worker) Name() string {
	return w.name
}

// FirstChunk suspends until the sniffing chunk is available.
func (w *Worker) FirstChunk(ctx context.Context) ([]byte, error) {
	select {
	case chunk := <-w.firstCh:
		return chunk, nil
	case <-w.done:
		if w.err != nil {
			return nil, w.err
		}
		return nil, io.ErrUnexpectedEOF
	case <-ctx.Done():
		return nil, ErrCanceled
	}
}

// ConnectPipe hands the worker the write end it streams into. May be
// called once.
func (w *Worker) ConnectPipe(pipe *os.File) {
	w.writerCh <- pipe
}

// Done is closed when the worker finishes; Err then holds its result.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Err returns the worker result once Done is closed.
func (w *Worker) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}
