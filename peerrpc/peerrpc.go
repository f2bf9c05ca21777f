// Package peerrpc implements request/response messaging over a single
// socket pair with no broker. Endpoints discover each other by
// position: the host holds one end, the other end becomes the loader
// process's standard input. File descriptors are first-class message
// values, carried as SCM_RIGHTS ancillary data on the frame that
// references them.
package peerrpc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sys/unix"

	"github.com/offsoc/glycin/wire"
)

// Magic bytes identify glycin-wire protocol frames.
var magic = [2]byte{0x47, 0x59} // "GY"

// version is the current protocol version.
const version uint8 = 0x01

// headerSize is the fixed size of a frame header in bytes.
const headerSize = 13

// Frame types.
const (
	typeCall  uint8 = 0x01
	typeReply uint8 = 0x02
	typeError uint8 = 0x03
)

// maxBodySize bounds a single message body. Pixel data never travels
// in bodies, only descriptors do, so this is generous.
const maxBodySize = 1 << 24

// ErrCanceled resolves a pending call whose context fired. It maps to
// the internal-communication-canceled host error.
var ErrCanceled = errors.New("peerrpc: call canceled")

type frame struct {
	typ    uint8
	serial uint32
	body   []byte
	fds    []int
}

type callBody struct {
	Method string             `msgpack:"method"`
	Args   msgpack.RawMessage `msgpack:"args"`
}

type errorBody struct {
	Name    string `msgpack:"name"`
	Message string `msgpack:"message"`
}

// headerPool recycles the fixed header buffer across reads.
var headerPool = sync.Pool{
	New: func() any {
		b := make([]byte, headerSize)
		return &b
	},
}

// Pair creates the connected socket pair for one loader process. The
// returned file is handed to the child as standard input; the Conn
// stays in the host.
func Pair() (*Conn, *os.File, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("peerrpc: socketpair: %w", err)
	}
	conn, err := NewConn(os.NewFile(uintptr(fds[0]), "glycin-rpc"))
	if err != nil {
		unix.Close(fds[1])
		return nil, nil, err
	}
	return conn, os.NewFile(uintptr(fds[1]), "glycin-rpc-peer"), nil
}

// Conn is one endpoint of the transport. A single call may be pending
// at a time; concurrent callers serialize.
type Conn struct {
	uc *net.UnixConn

	writeMu sync.Mutex
	callMu  sync.Mutex

	readOnce  sync.Once
	closeOnce sync.Once
	incoming  chan *frame
	readErr   error
	done      chan struct{}

	serial uint32
}

// NewConn wraps a socket-pair end. The file is consumed.
func NewConn(f *os.File) (*Conn, error) {
	defer f.Close()
	c, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("peerrpc: fileconn: %w", err)
	}
	uc, ok := c.(*net.UnixConn)
	if !ok {
		c.Close()
		return nil, fmt.Errorf("peerrpc: not a unix socket: %T", c)
	}
	return &Conn{
		uc:       uc,
		incoming: make(chan *frame, 1),
		done:     make(chan struct{}),
	}, nil
}

// Close tears the connection down and unblocks any pending call.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return c.uc.Close()
}

// Call issues a request and suspends until the reply, an error reply,
// a transport fault, or ctx cancellation. Descriptors in fds are
// passed along with the request; descriptors returned arrived with the
// reply and are owned by the caller.
func (c *Conn) Call(ctx context.Context, method string, args any, fds []int, reply any) ([]int, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	c.startReader()

	rawArgs, err := msgpack.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("peerrpc: encoding args: %w", err)
	}
	body, err := msgpack.Marshal(callBody{Method: method, Args: rawArgs})
	if err != nil {
		return nil, fmt.Errorf("peerrpc: encoding call: %w", err)
	}

	c.serial++
	serial := c.serial
	if err := c.writeFrame(&frame{typ: typeCall, serial: serial, body: body, fds: fds}); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		// The caller tears down the connection; the reply, if it ever
		// comes, is undeliverable.
		return nil, ErrCanceled
	case f, ok := <-c.incoming:
		if !ok {
			return nil, &wire.RemoteError{Kind: wire.KindTransport, Message: c.readErrString()}
		}
		if f.serial != serial {
			closeAll(f.fds)
			return nil, &wire.RemoteError{Kind: wire.KindTransport, Message: fmt.Sprintf("reply serial %d, expected %d", f.serial, serial)}
		}
		switch f.typ {
		case typeReply:
			if err := msgpack.Unmarshal(f.body, reply); err != nil {
				closeAll(f.fds)
				return nil, &wire.RemoteError{Kind: wire.KindTransport, Message: fmt.Sprintf("decoding reply: %v", err)}
			}
			return f.fds, nil
		case typeError:
			closeAll(f.fds)
			var eb errorBody
			if err := msgpack.Unmarshal(f.body, &eb); err != nil {
				return nil, &wire.RemoteError{Kind: wire.KindTransport, Message: fmt.Sprintf("decoding error reply: %v", err)}
			}
			return nil, &wire.RemoteError{Kind: wire.KindFromWireName(eb.Name), Message: eb.Message}
		default:
			closeAll(f.fds)
			return nil, &wire.RemoteError{Kind: wire.KindTransport, Message: fmt.Sprintf("unexpected frame type 0x%02x", f.typ)}
		}
	}
}

func (c *Conn) startReader() {
	c.readOnce.Do(func() {
		go func() {
			defer close(c.incoming)
			for {
				f, err := c.readFrame()
				if err != nil {
					c.readErr = err
					return
				}
				select {
				case c.incoming <- f:
				case <-c.done:
					closeAll(f.fds)
					return
				}
			}
		}()
	})
}

func (c *Conn) readErrString() string {
	if c.readErr == nil {
		return "connection closed"
	}
	return c.readErr.Error()
}

// writeFrame sends header, body, and ancillary descriptors in a single
// sendmsg so the descriptors attach to this frame's bytes.
func (c *Conn) writeFrame(f *frame) error {
	if len(f.fds) > 0xff {
		return fmt.Errorf("peerrpc: too many fds: %d", len(f.fds))
	}
	if len(f.body) > maxBodySize {
		return fmt.Errorf("peerrpc: body too large: %d", len(f.body))
	}

	buf := make([]byte, headerSize+len(f.body))
	buf[0] = magic[0]
	buf[1] = magic[1]
	buf[2] = version
	buf[3] = f.typ
	binary.BigEndian.PutUint32(buf[4:8], f.serial)
	buf[8] = byte(len(f.fds))
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(f.body)))
	copy(buf[headerSize:], f.body)

	var oob []byte
	if len(f.fds) > 0 {
		oob = unix.UnixRights(f.fds...)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	n, oobn, err := c.uc.WriteMsgUnix(buf, oob, nil)
	if err != nil {
		return &wire.RemoteError{Kind: wire.KindTransport, Message: fmt.Sprintf("writing frame: %v", err)}
	}
	if n != len(buf) || oobn != len(oob) {
		return &wire.RemoteError{Kind: wire.KindTransport, Message: io.ErrShortWrite.Error()}
	}
	return nil
}

// readFrame reads one frame. Ancillary data arrives with the header
// bytes because the sender coalesces the whole frame into one sendmsg.
func (c *Conn) readFrame() (*frame, error) {
	hp := headerPool.Get().(*[]byte)
	header := *hp
	defer headerPool.Put(hp)

	fds, err := c.readFullWithRights(header)
	if err != nil {
		return nil, err
	}

	if header[0] != magic[0] || header[1] != magic[1] {
		closeAll(fds)
		return nil, fmt.Errorf("invalid magic bytes: 0x%02x%02x", header[0], header[1])
	}
	if header[2] != version {
		closeAll(fds)
		return nil, fmt.Errorf("unsupported protocol version: %d", header[2])
	}

	f := &frame{
		typ:    header[3],
		serial: binary.BigEndian.Uint32(header[4:8]),
		fds:    fds,
	}
	nFDs := int(header[8])
	bodySize := int(binary.BigEndian.Uint32(header[9:13]))
	if bodySize > maxBodySize {
		closeAll(fds)
		return nil, fmt.Errorf("frame body too large: %d", bodySize)
	}

	if bodySize > 0 {
		f.body = make([]byte, bodySize)
		more, err := c.readFullWithRights(f.body)
		f.fds = append(f.fds, more...)
		if err != nil {
			closeAll(f.fds)
			return nil, err
		}
	}
	if len(f.fds) != nFDs {
		closeAll(f.fds)
		return nil, fmt.Errorf("frame announced %d fds, received %d", nFDs, len(f.fds))
	}
	return f, nil
}

// readFullWithRights fills p, collecting any SCM_RIGHTS descriptors
// that arrive with the data. Received descriptors get close-on-exec.
func (c *Conn) readFullWithRights(p []byte) ([]int, error) {
	var fds []int
	oob := make([]byte, unix.CmsgSpace(16*4))
	off := 0
	for off < len(p) {
		n, oobn, _, _, err := c.uc.ReadMsgUnix(p[off:], oob)
		if err != nil {
			return fds, fmt.Errorf("reading frame: %w", err)
		}
		if n == 0 && oobn == 0 {
			return fds, io.ErrUnexpectedEOF
		}
		if oobn > 0 {
			msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
			if err != nil {
				return fds, fmt.Errorf("parsing control message: %w", err)
			}
			for _, m := range msgs {
				got, err := unix.ParseUnixRights(&m)
				if err != nil {
					continue
				}
				for _, fd := range got {
					unix.CloseOnExec(fd)
					fds = append(fds, fd)
				}
			}
		}
		off += n
	}
	return fds, nil
}

func closeAll(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}
