// Package core holds the data model shared across the decoding pipeline:
// the loader registry's entry type, the wire vocabulary that crosses the
// host/worker boundary, and the small set of interfaces (Registry,
// RequestStage, Hook, Logger, MetricsCollector) that let config, stage, rpc, and worker
// depend on core without depending on each other.
package core

import (
	"context"
	"time"

	"github.com/Skryldev/glycin/pixel"
)

// LoaderEntry describes one registered decoder executable, immutable after
// the registry finishes loading. For a given MediaType the last entry
// loaded wins (system dirs are processed before the user dir).
type LoaderEntry struct {
	MediaType      string
	ExecutablePath string
	ExposeBaseDir  bool
}

// DecodingDetails accompanies the source descriptor on the init call.
type DecodingDetails struct {
	MediaType string
	// BaseDir is empty unless the matched LoaderEntry has ExposeBaseDir set.
	BaseDir string
}

// ImageInfo is the worker's reply to init.
type ImageInfo struct {
	Width, Height uint32
	FormatName    string
	EXIF          []byte // nil when absent
	XMP           []byte // nil when absent

	// TransformationsApplied reports whether the pixel buffer already
	// reflects EXIF orientation; when true the consumer must not reapply it.
	TransformationsApplied bool

	DimensionsText string // empty when absent

	// DimensionsInch holds (width, height) in inches, nil when absent.
	DimensionsInch *[2]float64
}

// NewImageInfo builds the minimal ImageInfo a decoder must return.
func NewImageInfo(width, height uint32, formatName string) ImageInfo {
	return ImageInfo{Width: width, Height: height, FormatName: formatName}
}

// FrameRequest is the host's request for one decoded frame. Both fields
// default to absent (nil). Clip coordinates are relative to the un-scaled
// image; when both are present, clip is applied before scale.
type FrameRequest struct {
	// Scale is the requested (width, height) target, nil when absent.
	Scale *[2]uint32
	// Clip is the requested (x, y, width, height) crop, nil when absent.
	Clip *[4]uint32
}

// TextureTag discriminates PixelBufferDescriptor's variants. MemFD is the
// only tag today; the type stays open to future tags without forcing an
// interface-per-variant split.
type TextureTag int

const (
	TextureMemFD TextureTag = iota
)

// PixelBufferDescriptor is the tagged variant describing where a Frame's
// pixels live. Once sent across the transport, ownership of FD belongs to
// the receiver; the sender must not touch it again.
type PixelBufferDescriptor struct {
	Tag TextureTag
	// FD is valid when Tag == TextureMemFD. Left as a raw descriptor number
	// (not *os.File) so nothing outside rpc/shm is tempted to keep a
	// finalizer-bearing handle alive past the ownership transfer.
	FD int
}

// Frame is one decoded picture from an image file.
type Frame struct {
	Width, Height, Stride uint32
	MemoryFormat          pixel.Format
	Texture               PixelBufferDescriptor
	ICCP, CICP            []byte // nil when absent
	// Delay is nil for non-animated images.
	Delay *time.Duration
}

// NewFrame builds a Frame with Stride computed from MemoryFormat and Width,
// enforcing the stride law every Frame must satisfy.
func NewFrame(width, height uint32, format pixel.Format, texture PixelBufferDescriptor) Frame {
	return Frame{
		Width:        width,
		Height:       height,
		Stride:       pixel.Stride(format, width),
		MemoryFormat: format,
		Texture:      texture,
	}
}

// RequestStage is the fundamental building block of the host façade's
// request lifecycle (registry resolve, stream spawn, sniff, sandbox launch,
// rpc init, ...). Each stage mutates or inspects a *RequestState.
type RequestStage interface {
	Name() string
	Execute(ctx context.Context, state *RequestState) error
}

// RequestState threads through the lifecycle stages driven by stage.Runner.
// It is deliberately loosely typed (interface{} fields keyed by stage) the
// same way the teacher's ImageData carried a backend-specific Image slot,
// so stage stays independent of the glycin, sandbox, and rpc packages.
type RequestState struct {
	MediaType string
	BaseDir   string
	Unsure    bool

	// Extra carries stage-specific results (registry entry, stream source,
	// sandboxed process, rpc connection, ImageInfo, ...) keyed by a small
	// string constant each stage agrees on.
	Extra map[string]interface{}
}

// NewRequestState returns an empty, ready-to-use RequestState.
func NewRequestState() *RequestState {
	return &RequestState{Extra: make(map[string]interface{})}
}

// Hook is an optional observer invoked around each request stage.
type Hook interface {
	BeforeStage(ctx context.Context, stageName string, state *RequestState)
	AfterStage(ctx context.Context, stageName string, state *RequestState, d time.Duration, err error)
}

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// MetricsCollector receives performance observations from the request
// lifecycle and from the worker runtime.
type MetricsCollector interface {
	RecordStageTime(stageName string, d time.Duration)
	RecordFrameBytes(bytes int64)
	RecordError(stageName string, tag string)
}
