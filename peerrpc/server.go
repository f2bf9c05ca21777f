package peerrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/offsoc/glycin/wire"
)

// Handler processes one request. args is the raw msgpack-encoded
// argument dictionary; fds are the descriptors that arrived with it
// and are owned by the handler. The returned descriptors are sent with
// the reply; a *wire.RemoteError return becomes an error reply, any
// other error tears the connection down.
type Handler func(method string, args []byte, fds []int) (reply any, replyFDs []int, err error)

// Serve answers requests on the connection until the peer goes away or
// ctx fires. Requests are processed strictly one at a time.
func (c *Conn) Serve(ctx context.Context, handler Handler) error {
	stop := context.AfterFunc(ctx, func() { c.uc.Close() })
	defer stop()

	for {
		f, err := c.readFrame()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if f.typ != typeCall {
			closeAll(f.fds)
			return fmt.Errorf("peerrpc: unexpected frame type 0x%02x", f.typ)
		}

		var cb callBody
		if err := msgpack.Unmarshal(f.body, &cb); err != nil {
			closeAll(f.fds)
			return fmt.Errorf("peerrpc: decoding call: %w", err)
		}

		reply, replyFDs, err := handler(cb.Method, cb.Args, f.fds)
		if err != nil {
			var remote *wire.RemoteError
			if !errors.As(err, &remote) {
				return err
			}
			body, merr := msgpack.Marshal(errorBody{Name: remote.Kind.WireName(), Message: remote.Message})
			if merr != nil {
				return fmt.Errorf("peerrpc: encoding error reply: %w", merr)
			}
			if werr := c.writeFrame(&frame{typ: typeError, serial: f.serial, body: body}); werr != nil {
				return werr
			}
			continue
		}

		body, err := msgpack.Marshal(reply)
		if err != nil {
			return fmt.Errorf("peerrpc: encoding reply: %w", err)
		}
		if err := c.writeFrame(&frame{typ: typeReply, serial: f.serial, body: body, fds: replyFDs}); err != nil {
			return err
		}
		closeAll(replyFDs)
	}
}
