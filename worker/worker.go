// Package worker is the runtime a loader executable links against: it
// adapts an image-format-specific Decoder into the DecodingInstruction
// object exported over the inherited socket, the worker-side counterpart
// of the teacher's core.Processor dispatch loop.
package worker

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/Skryldev/glycin/core"
	"github.com/Skryldev/glycin/glycinerr"
	"github.com/Skryldev/glycin/pixel"
	"github.com/Skryldev/glycin/rpc"
	"github.com/Skryldev/glycin/shm"
)

// Decoder is implemented once per supported media type. A decoder must be
// safe to call from a single goroutine at a time; worker.Serve guarantees
// that serialization.
type Decoder interface {
	Init(stream io.Reader, details core.DecodingDetails) (core.ImageInfo, error)
	DecodeFrame(req core.FrameRequest) (core.Frame, error)
}

// NewFrameMemory allocates a sealable shared-memory region sized for one
// frame of width x height pixels at format, the documented way a Decoder
// fills core.Frame.Texture. The region is sealed by its IntoTexture call.
func NewFrameMemory(width, height uint32, format pixel.Format) (*shm.Memory, error) {
	return shm.New(uint64(format.BytesPerPixel()) * uint64(width) * uint64(height))
}

// adapter bridges worker.Decoder's io.Reader-based Init to rpc.Decoder's
// *os.File-based one, and wraps both calls with panic recovery.
type adapter struct {
	decoder Decoder
	logger  core.Logger
}

func (a *adapter) Init(ctx context.Context, details core.DecodingDetails, source *os.File) (info core.ImageInfo, err error) {
	defer a.recoverInto(&err, "Init")
	info, err = a.decoder.Init(source, details)
	return
}

func (a *adapter) DecodeFrame(ctx context.Context, req core.FrameRequest) (frame core.Frame, err error) {
	defer a.recoverInto(&err, "DecodeFrame")
	frame, err = a.decoder.DecodeFrame(req)
	return
}

// recoverInto maps a panic in the wrapped call — including the poisoned
// "decoder left in a bad state" condition a failed previous call can leave
// behind — to glycinerr.InternalDecoderError, logs it, and never lets it
// cross back into godbus's dispatch goroutine.
func (a *adapter) recoverInto(err *error, op string) {
	if r := recover(); r != nil {
		if a.logger != nil {
			a.logger.Error("worker: decoder panicked", "op", op, "panic", r)
		}
		*err = glycinerr.New(glycinerr.InternalDecoderError, op, fmt.Errorf("panic: %v", r))
	}
}

// Serve wraps os.Stdin as the worker's end of the socket pair, exports
// decoder at rpc.ObjectPath, and blocks until the connection closes.
func Serve(decoder Decoder) error {
	return ServeWithLogger(decoder, nil)
}

// ServeWithLogger is Serve with an explicit core.Logger for panic and
// lifecycle diagnostics.
func ServeWithLogger(decoder Decoder, logger core.Logger) error {
	conn, err := rpc.NewConn(os.Stdin)
	if err != nil {
		return err
	}
	defer conn.Close()

	a := &adapter{decoder: decoder, logger: logger}
	return rpc.Serve(context.Background(), conn, a)
}
