package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/Skryldev/glycin/core"
	"github.com/Skryldev/glycin/glycinerr"
	"github.com/Skryldev/glycin/pixel"
)

// Decoder is implemented by a worker's image backend. Methods are called
// with the single-flight lock held by Serve, mirroring the original
// implementation's Mutex<Box<dyn Decoder>> around the same two operations.
type Decoder interface {
	Init(ctx context.Context, details core.DecodingDetails, source *os.File) (core.ImageInfo, error)
	DecodeFrame(ctx context.Context, req core.FrameRequest) (core.Frame, error)
}

// Conn wraps a point-to-point, anonymously-authenticated D-Bus connection
// over an already-connected *os.File (the socket pair end handed to this
// side by sandbox.Launch).
type Conn struct {
	bus *dbus.Conn
}

// NewConn adopts fd as a peer D-Bus transport. No Hello call is made: there
// is no broker and no well-known bus name, matching the protocol's
// point-to-point design. Unix fd passing is enabled before authentication,
// since EnableUnixFDs has no effect once negotiated past that point — this
// is what lets PixelBufferDescriptor and the init source descriptor cross
// the wire at all.
func NewConn(fd *os.File) (*Conn, error) {
	nc, err := net.FileConn(fd)
	if err != nil {
		return nil, glycinerr.Wrap(glycinerr.Transport, "rpc.NewConn", err)
	}
	bus, err := dbus.NewConn(nc)
	if err != nil {
		return nil, glycinerr.Wrap(glycinerr.Transport, "rpc.NewConn", err)
	}
	bus.EnableUnixFDs()
	if err := bus.Auth([]dbus.Auth{dbus.AuthAnonymous()}); err != nil {
		bus.Close()
		return nil, glycinerr.Wrap(glycinerr.Transport, "rpc.NewConn", err)
	}
	return &Conn{bus: bus}, nil
}

// Close shuts down the underlying transport.
func (c *Conn) Close() error { return c.bus.Close() }

// instruction is the exported object implementing DecodingInstruction on
// the worker side. Its single mutex serializes Init and DecodeFrame, the Go
// substitute for the original's Mutex<Box<dyn Decoder>>.
type instruction struct {
	mu      sync.Mutex
	decoder Decoder
	ctx     context.Context
}

// Serve exports decoder at ObjectPath on c and blocks until the connection
// is closed by the peer or ctx is cancelled.
func Serve(ctx context.Context, c *Conn, decoder Decoder) error {
	inst := &instruction{decoder: decoder, ctx: ctx}
	if err := c.bus.Export(inst, ObjectPath, InterfaceName); err != nil {
		return glycinerr.Wrap(glycinerr.Transport, "rpc.Serve export", err)
	}

	select {
	case <-ctx.Done():
		return glycinerr.Wrap(glycinerr.Transport, "rpc.Serve", ctx.Err())
	case <-c.bus.Context().Done():
		return glycinerr.Wrap(glycinerr.Transport, "rpc.Serve", c.bus.Context().Err())
	}
}

// Init is the D-Bus-exported method backing DecodingInstruction.Init.
// Its signature follows godbus's convention: ordinary return values plus a
// trailing *dbus.Error.
func (i *instruction) Init(req decodingRequest) (imageInfo, *dbus.Error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	source := os.NewFile(uintptr(req.FD), "glycin-source")
	info, err := i.decoder.Init(i.ctx, core.DecodingDetails{MediaType: req.MediaType, BaseDir: req.BaseDir}, source)
	if err != nil {
		return imageInfo{}, toDBusError(err)
	}
	return toWireImageInfo(info), nil
}

// DecodeFrame is the D-Bus-exported method backing
// DecodingInstruction.DecodeFrame.
func (i *instruction) DecodeFrame(req frameRequest) (frame, *dbus.Error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	f, err := i.decoder.DecodeFrame(i.ctx, fromWireFrameRequest(req))
	if err != nil {
		return frame{}, toDBusError(err)
	}
	return toWireFrame(f), nil
}

func toWireFrame(f core.Frame) frame {
	w := frame{
		Width:        f.Width,
		Height:       f.Height,
		Stride:       f.Stride,
		MemoryFormat: int32(f.MemoryFormat),
		TextureFD:    dbus.UnixFD(f.Texture.FD),
		ICCP:         f.ICCP,
		CICP:         f.CICP,
	}
	if f.Delay != nil {
		w.HasDelayMillis = true
		w.DelayMillis = f.Delay.Milliseconds()
	}
	return w
}

// Client is the host-side caller of a worker's DecodingInstruction object,
// serializing concurrent requests per Image with its own mutex — godbus
// already matches replies to calls by serial, this only protects decode
// ordering fairness.
type Client struct {
	mu   sync.Mutex
	conn *Conn
	obj  dbus.BusObject
}

// NewClient wraps conn for calling the worker's exported object.
func NewClient(conn *Conn) *Client {
	return &Client{conn: conn, obj: conn.bus.Object("", ObjectPath)}
}

// Close shuts down the underlying connection. The caller must not use c
// afterward.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Init calls DecodingInstruction.Init, handing over ownership of source's
// descriptor: once the call returns, source is closed on this side
// regardless of outcome, representing the fd's transfer to the worker.
func (c *Client) Init(ctx context.Context, details core.DecodingDetails, source *os.File) (core.ImageInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer source.Close()

	req := decodingRequest{
		FD:        dbus.UnixFD(source.Fd()),
		MediaType: details.MediaType,
		BaseDir:   details.BaseDir,
	}
	var reply imageInfo
	call := c.obj.CallWithContext(ctx, InterfaceName+".Init", 0, req)
	if err := call.Store(&reply); err != nil {
		return core.ImageInfo{}, translateCallError(err)
	}
	return fromWireImageInfo(reply), nil
}

// DecodeFrame calls DecodingInstruction.DecodeFrame.
func (c *Client) DecodeFrame(ctx context.Context, req core.FrameRequest) (core.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var reply frame
	call := c.obj.CallWithContext(ctx, InterfaceName+".DecodeFrame", 0, toWireFrameRequest(req))
	if err := call.Store(&reply); err != nil {
		return core.Frame{}, translateCallError(err)
	}

	out := core.NewFrame(reply.Width, reply.Height, pixel.Format(reply.MemoryFormat), core.PixelBufferDescriptor{
		Tag: core.TextureMemFD,
		FD:  int(reply.TextureFD),
	})
	out.Stride = reply.Stride
	out.ICCP = reply.ICCP
	out.CICP = reply.CICP
	if reply.HasDelayMillis {
		d := msToDuration(reply.DelayMillis)
		out.Delay = &d
	}
	return out, nil
}

// RemoteError is the worker-raised wire error reported to a host caller.
// The D-Bus error name it arrived under is ErrorPrefix+string(Tag).
type RemoteError struct {
	Tag     glycinerr.Tag
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Tag, e.Message)
}

func toDBusError(err error) *dbus.Error {
	tag := glycinerr.InternalDecoderError
	var ge *glycinerr.Error
	msg := err.Error()
	if errors.As(err, &ge) {
		tag = ge.Tag
	}
	return dbus.NewError(ErrorPrefix+string(tag), []interface{}{msg})
}

// translateCallError turns a godbus call failure into a *glycinerr.Error,
// recovering the worker's RemoteError tag when the failure carries one and
// falling back to glycinerr.Transport for anything that looks like a
// framing, auth, or disconnect failure.
func translateCallError(err error) error {
	if dbusErr, ok := err.(dbus.Error); ok {
		tag := glycinerr.Tag(trimErrorPrefix(dbusErr.Name))
		msg := ""
		if len(dbusErr.Body) > 0 {
			if s, ok := dbusErr.Body[0].(string); ok {
				msg = s
			}
		}
		return glycinerr.New(tag, "rpc call", &RemoteError{Tag: tag, Message: msg})
	}
	return glycinerr.Wrap(glycinerr.Transport, "rpc call", err)
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func trimErrorPrefix(name string) string {
	if len(name) > len(ErrorPrefix) && name[:len(ErrorPrefix)] == ErrorPrefix {
		return name[len(ErrorPrefix):]
	}
	return name
}
