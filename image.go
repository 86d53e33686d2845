package glycin

import (
	"context"
	"sync"

	"github.com/Skryldev/glycin/core"
	"github.com/Skryldev/glycin/rpc"
	"github.com/Skryldev/glycin/sandbox"
)

// FrameRequest describes an optional scale/clip applied to a decoded frame.
type FrameRequest = core.FrameRequest

// Image is a ready-to-decode handle to a sandboxed worker that has already
// completed Init.
type Image struct {
	mu sync.Mutex

	ctx     context.Context
	cancel  context.CancelFunc
	process sandbox.ProcessHandle
	client  *rpc.Client

	info      core.ImageInfo
	mediaType string

	closed bool
}

// Info returns the metadata the worker returned from Init.
func (i *Image) Info() core.ImageInfo { return i.info }

// MediaType returns the sniffed media type this Image was decoded as.
func (i *Image) MediaType() string { return i.mediaType }

// NextFrame requests the next frame with no scale or clip applied.
func (i *Image) NextFrame() (core.Frame, error) {
	return i.SpecificFrame(FrameRequest{})
}

// SpecificFrame requests a frame with the given scale/clip, serialized
// against any other call in flight on this Image.
func (i *Image) SpecificFrame(req FrameRequest) (core.Frame, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.client.DecodeFrame(i.ctx, req)
}

// Close cancels the request's context, which tears down the stream source
// and the RPC connection, driving the sandboxed worker to observe EOF on
// its inherited socket and exit. Safe to call more than once.
func (i *Image) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil
	}
	i.closed = true

	i.cancel()
	if i.client != nil {
		i.client.Close()
	}
	if i.process != nil {
		i.process.Kill()
	}
	return nil
}
