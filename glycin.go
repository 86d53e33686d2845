// Package glycin is the host-side façade for sandboxed image decoding:
// build an ImageRequest from a stream.File, run Request to spawn and
// initialize a sandboxed worker, then pull frames from the returned Image.
package glycin

import (
	"context"

	"github.com/Skryldev/glycin/config"
	"github.com/Skryldev/glycin/core"
	"github.com/Skryldev/glycin/rpc"
	"github.com/Skryldev/glycin/sandbox"
	"github.com/Skryldev/glycin/stage"
	"github.com/Skryldev/glycin/stream"
	"github.com/Skryldev/glycin/telemetry"
)

const (
	extraFile      = "file"
	extraSource    = "source"
	extraRegistry  = "registry"
	extraEntry     = "entry"
	extraMechanism = "mechanism"
	extraProcess   = "process"
	extraClient    = "client"
	extraInfo      = "info"
)

// KnownMediaTypes returns every media type with a registered loader in the
// process-wide cached registry. A feature present in the original
// implementation this protocol is modeled on but left out of a minimal
// decode-one-image walkthrough; restored here since any UI offering a file
// picker format filter needs it.
func KnownMediaTypes() ([]string, error) {
	reg, err := config.Cached(config.APIVersion)
	if err != nil {
		return nil, err
	}
	return reg.KnownMediaTypes(), nil
}

// ImageRequest is a builder for a single decode request.
type ImageRequest struct {
	file    stream.File
	ctx     context.Context
	mech    *sandbox.Mechanism
	hooks   []core.Hook
	logger  core.Logger
	metrics core.MetricsCollector
}

// NewImageRequest starts building a request to decode f.
func NewImageRequest(f stream.File) *ImageRequest {
	return &ImageRequest{file: f, ctx: context.Background()}
}

// SandboxMechanism overrides auto-detection of the sandbox mechanism.
func (r *ImageRequest) SandboxMechanism(m sandbox.Mechanism) *ImageRequest {
	r.mech = &m
	return r
}

// Context sets the cancellation context for the request and every frame
// call made against the returned Image.
func (r *ImageRequest) Context(ctx context.Context) *ImageRequest {
	r.ctx = ctx
	return r
}

// Logger attaches a core.Logger; lifecycle stages log through it via
// telemetry.LoggingHook.
func (r *ImageRequest) Logger(logger core.Logger) *ImageRequest {
	r.logger = logger
	return r
}

// Metrics attaches a core.MetricsCollector; lifecycle stages report through
// it via telemetry.MetricsHook.
func (r *ImageRequest) Metrics(metrics core.MetricsCollector) *ImageRequest {
	r.metrics = metrics
	return r
}

// Request runs the eight-step decode setup: resolve registry, spawn
// stream, sniff media type, resolve loader entry, resolve sandbox
// mechanism, launch + open RPC, call Init, and return the ready Image.
func (r *ImageRequest) Request() (*Image, error) {
	ctx, cancel := context.WithCancel(r.ctx)

	state := core.NewRequestState()
	state.Extra[extraFile] = r.file

	runner := stage.New().Use(
		&resolveRegistryStage{logger: r.logger},
		&spawnStreamStage{},
		&sniffStage{},
		&resolveLoaderStage{},
		&resolveMechanismStage{override: r.mech},
		&launchStage{},
		&initStage{},
	).WithRetry(2, defaultRetryDelay)

	if r.logger != nil {
		runner.AddHook(telemetry.NewLoggingHook(r.logger))
	}
	if r.metrics != nil {
		runner.AddHook(telemetry.NewMetricsHook(r.metrics))
	}

	if _, err := runner.Run(ctx, state); err != nil {
		cancel()
		teardown(state)
		return nil, err
	}

	info, _ := state.Extra[extraInfo].(core.ImageInfo)
	process, _ := state.Extra[extraProcess].(sandbox.ProcessHandle)
	client, _ := state.Extra[extraClient].(*rpc.Client)

	return &Image{
		ctx:       ctx,
		cancel:    cancel,
		process:   process,
		client:    client,
		info:      info,
		mediaType: state.MediaType,
	}, nil
}

func teardown(state *core.RequestState) {
	if src, ok := state.Extra[extraSource].(*stream.Source); ok {
		src.Cancel()
	}
	if c, ok := state.Extra[extraClient].(*rpc.Client); ok {
		c.Close()
	}
	if p, ok := state.Extra[extraProcess].(sandbox.ProcessHandle); ok {
		p.Kill()
	}
}
