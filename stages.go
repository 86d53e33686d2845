package glycin

import (
	"context"
	"time"

	"github.com/Skryldev/glycin/config"
	"github.com/Skryldev/glycin/core"
	"github.com/Skryldev/glycin/glycinerr"
	"github.com/Skryldev/glycin/rpc"
	"github.com/Skryldev/glycin/sandbox"
	"github.com/Skryldev/glycin/sniff"
	"github.com/Skryldev/glycin/stream"
)

const defaultRetryDelay = 50 * time.Millisecond

// launchSandbox is sandbox.Launch, held behind a variable so tests can
// substitute an in-process fake worker in place of a real bwrap child.
var launchSandbox = func(ctx context.Context, execPath, baseDir string, exposeBaseDir bool, mech sandbox.Mechanism) (sandbox.ProcessHandle, error) {
	return sandbox.Launch(ctx, execPath, baseDir, exposeBaseDir, mech)
}

// resolveRegistry is config.CachedWithLogger, held behind a variable so
// tests can supply a loader registry without depending on the process-wide
// config cache other tests in this package also populate.
var resolveRegistry = config.CachedWithLogger

type resolveRegistryStage struct {
	logger core.Logger
}

func (resolveRegistryStage) Name() string { return "resolve-registry" }
func (s resolveRegistryStage) Execute(ctx context.Context, state *core.RequestState) error {
	reg, err := resolveRegistry(config.APIVersion, s.logger)
	if err != nil {
		return glycinerr.Wrap(glycinerr.InternalDecoderError, "resolve-registry", err)
	}
	state.Extra[extraRegistry] = reg
	return nil
}

type spawnStreamStage struct{}

func (spawnStreamStage) Name() string { return "spawn-stream" }
func (spawnStreamStage) Execute(ctx context.Context, state *core.RequestState) error {
	f, _ := state.Extra[extraFile].(stream.File)
	if f == nil {
		return glycinerr.Wrap(glycinerr.SourceIO, "spawn-stream", glycinerr.ErrEmptySource)
	}
	src := stream.Spawn(ctx, f, 0)
	state.Extra[extraSource] = src
	return nil
}

type sniffStage struct{}

func (sniffStage) Name() string { return "sniff" }
func (s sniffStage) Execute(ctx context.Context, state *core.RequestState) error {
	src, _ := state.Extra[extraSource].(*stream.Source)
	head, err := src.Head(ctx)
	if err != nil {
		return err
	}

	result := sniff.Detect(head)
	if result.MediaType == "image/tiff" || result.Unsure {
		result = sniff.DetectWithFilename(head, src.File().Name())
	}

	state.MediaType = result.MediaType
	state.Unsure = result.Unsure
	return nil
}

type resolveLoaderStage struct{}

func (resolveLoaderStage) Name() string { return "resolve-loader" }
func (resolveLoaderStage) Execute(ctx context.Context, state *core.RequestState) error {
	reg, _ := state.Extra[extraRegistry].(core.Registry)
	entry, ok := reg.Lookup(state.MediaType)
	if !ok {
		return glycinerr.New(glycinerr.UnknownImageFormat, "resolve-loader", nil)
	}
	state.Extra[extraEntry] = entry

	if entry.ExposeBaseDir {
		src, _ := state.Extra[extraSource].(*stream.Source)
		state.BaseDir = src.File().Dir()
	}
	return nil
}

type resolveMechanismStage struct {
	override *sandbox.Mechanism
}

func (resolveMechanismStage) Name() string { return "resolve-mechanism" }
func (s resolveMechanismStage) Execute(ctx context.Context, state *core.RequestState) error {
	if s.override != nil {
		state.Extra[extraMechanism] = *s.override
		return nil
	}
	state.Extra[extraMechanism] = sandbox.Detect()
	return nil
}

type launchStage struct{}

func (launchStage) Name() string { return "launch" }
func (launchStage) Execute(ctx context.Context, state *core.RequestState) error {
	entry, _ := state.Extra[extraEntry].(core.LoaderEntry)
	mech, _ := state.Extra[extraMechanism].(sandbox.Mechanism)

	process, err := launchSandbox(ctx, entry.ExecutablePath, state.BaseDir, entry.ExposeBaseDir, mech)
	if err != nil {
		return glycinerr.Wrap(glycinerr.Transport, "launch", err)
	}
	state.Extra[extraProcess] = process

	conn, err := rpc.NewConn(process.HostConn())
	if err != nil {
		process.Kill()
		return err
	}
	state.Extra[extraClient] = rpc.NewClient(conn)
	return nil
}

type initStage struct{}

func (initStage) Name() string { return "init" }
func (initStage) Execute(ctx context.Context, state *core.RequestState) error {
	client, _ := state.Extra[extraClient].(*rpc.Client)
	src, _ := state.Extra[extraSource].(*stream.Source)

	info, err := client.Init(ctx, core.DecodingDetails{MediaType: state.MediaType, BaseDir: state.BaseDir}, src.ReadFD())
	if err != nil {
		return err
	}
	state.Extra[extraInfo] = info
	return nil
}
