package glycin

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/offsoc/glycin/internal/registry"
	"github.com/offsoc/glycin/internal/sandbox"
	"github.com/offsoc/glycin/internal/source"
	"github.com/offsoc/glycin/peerrpc"
	"github.com/offsoc/glycin/shm"
	"github.com/offsoc/glycin/wire"
)

// decoderProcess owns one sandboxed loader child and its RPC
// connection.
type decoderProcess struct {
	conn     *peerrpc.Conn
	proc     *sandbox.Process
	mimeType string
	logger   *slog.Logger

	// exitCh fires once when the child exits; the waiter also reaps
	// it.
	exitCh chan int
}

// newDecoderProcess spawns the loader for mimeType. The child is
// killed when ctx fires.
func newDecoderProcess(ctx context.Context, mimeType string, cfg registry.Loader, mechanism sandbox.Mechanism, baseDir string, logger *slog.Logger) (*decoderProcess, *Error) {
	conn, childEnd, err := peerrpc.Pair()
	if err != nil {
		return nil, hostError(err)
	}

	sb := sandbox.New(mechanism, cfg.Exec, childEnd, logger)
	if baseDir != "" {
		sb.AddROBind(baseDir)
	}

	proc, err := sb.Spawn()
	if err != nil {
		conn.Close()
		var spawnErr *sandbox.SpawnError
		if errors.As(err, &spawnErr) {
			return nil, &Error{Kind: KindSpawnFailure, CmdLine: spawnErr.CmdLine, Err: spawnErr.Err}
		}
		return nil, hostError(err)
	}

	p := &decoderProcess{
		conn:     conn,
		proc:     proc,
		mimeType: mimeType,
		logger:   logger,
		exitCh:   make(chan int, 1),
	}

	go func() {
		status, err := proc.Wait()
		if err != nil {
			logger.Warn("waiting for loader process", "error", err)
		}
		p.exitCh <- status
	}()

	context.AfterFunc(ctx, func() {
		proc.Kill()
		conn.Close()
	})

	return p, nil
}

// init streams the source to the child and retrieves the image info.
// The source descriptor belongs to the child once the call returns.
func (p *decoderProcess) init(ctx context.Context, worker *source.Worker, baseDir string) (*wire.ImageInfo, []*shm.Blob, *Error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, hostError(err)
	}
	worker.ConnectPipe(w)

	req := wire.InitRequest{
		FD:       wire.RefFD(0),
		MimeType: p.mimeType,
		Details:  wire.InitDetails{BaseDir: baseDir},
	}

	type callResult struct {
		info wire.ImageInfo
		fds  []int
		err  error
	}
	callCh := make(chan callResult, 1)
	go func() {
		var info wire.ImageInfo
		fds, err := p.conn.Call(ctx, wire.MethodInit, req, []int{int(r.Fd())}, &info)
		// The host's copy of the source descriptor is dropped; the
		// child owns it now.
		r.Close()
		callCh <- callResult{info, fds, err}
	}()

	// A source failure means the child may never answer.
	workerErrCh := make(chan error, 1)
	go func() {
		<-worker.Done()
		if err := worker.Err(); err != nil && err != source.ErrCanceled {
			workerErrCh <- err
		}
	}()

	select {
	case res := <-callCh:
		if res.err != nil {
			return nil, nil, hostError(res.err)
		}
		blobs := adoptBlobs(res.fds)
		return &res.info, blobs, nil
	case err := <-workerErrCh:
		p.proc.Kill()
		return nil, nil, hostError(err)
	case status := <-p.exitCh:
		return nil, nil, &Error{Kind: KindPrematureExit, Status: status, CmdLine: p.proc.CmdLine}
	}
}

// frame requests the next frame. The returned descriptors belong to
// the caller.
func (p *decoderProcess) frame(ctx context.Context, req wire.FrameRequest) (*wire.Frame, []int, *Error) {
	type callResult struct {
		frame wire.Frame
		fds   []int
		err   error
	}
	callCh := make(chan callResult, 1)
	go func() {
		var frame wire.Frame
		fds, err := p.conn.Call(ctx, wire.MethodFrame, req, nil, &frame)
		callCh <- callResult{frame, fds, err}
	}()

	select {
	case res := <-callCh:
		if res.err != nil {
			return nil, nil, hostError(res.err)
		}
		return &res.frame, res.fds, nil
	case status := <-p.exitCh:
		return nil, nil, &Error{Kind: KindPrematureExit, Status: status, CmdLine: p.proc.CmdLine}
	}
}

// adoptBlobs wraps received descriptors as sealed blobs.
func adoptBlobs(fds []int) []*shm.Blob {
	blobs := make([]*shm.Blob, len(fds))
	for i, fd := range fds {
		blobs[i] = shm.NewBlob(shm.OpenSealed(fd))
	}
	return blobs
}

// blobAt resolves a wire descriptor reference against received blobs.
func blobAt(blobs []*shm.Blob, ref wire.FDRef) *shm.Blob {
	i := ref.Index()
	if i < 0 || i >= len(blobs) {
		return nil
	}
	return blobs[i]
}

