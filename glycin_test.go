package glycin_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Skryldev/glycin"
	"github.com/Skryldev/glycin/core"
	"github.com/Skryldev/glycin/pixel"
	"github.com/Skryldev/glycin/rpc"
	"github.com/Skryldev/glycin/sandbox"
)

// pngHeader is the minimal signature sniff needs; the rest of the bytes
// are never actually decoded, since DecodeFrame is served by fakeDecoder.
var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

type fakeFile struct{ data []byte }

func (f fakeFile) Open(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}
func (f fakeFile) Name() string { return "fake.png" }
func (f fakeFile) Dir() string  { return "/tmp" }

// fakeWorkerDecoder implements rpc.Decoder, standing in for a real loader
// executable's decode backend.
type fakeWorkerDecoder struct {
	info  core.ImageInfo
	frame core.Frame
}

func (d *fakeWorkerDecoder) Init(ctx context.Context, details core.DecodingDetails, source *os.File) (core.ImageInfo, error) {
	source.Close()
	return d.info, nil
}

func (d *fakeWorkerDecoder) DecodeFrame(ctx context.Context, req core.FrameRequest) (core.Frame, error) {
	return d.frame, nil
}

// fakeProcess satisfies sandbox.ProcessHandle over a socketpair whose
// worker end is served in-process by a fakeWorkerDecoder, standing in for
// a sandboxed loader executable launched by bwrap.
type fakeProcess struct {
	hostEnd *os.File
	killed  chan struct{}
}

func spawnFakeWorker(t *testing.T, decoder rpc.Decoder) *fakeProcess {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	hostEnd := os.NewFile(uintptr(fds[0]), "host")
	workerEnd := os.NewFile(uintptr(fds[1]), "worker")

	workerConn, err := rpc.NewConn(workerEnd)
	if err != nil {
		t.Fatalf("worker NewConn: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	killed := make(chan struct{})
	go func() {
		rpc.Serve(ctx, workerConn, decoder)
		workerConn.Close()
		close(killed)
	}()

	p := &fakeProcess{hostEnd: hostEnd, killed: killed}
	t.Cleanup(cancel)
	return p
}

func (p *fakeProcess) HostConn() *os.File { return p.hostEnd }
func (p *fakeProcess) Kill() error        { return nil }

func requestFakeImage(t *testing.T, decoder *fakeWorkerDecoder) (*glycin.Image, *fakeProcess) {
	t.Helper()
	process := spawnFakeWorker(t, decoder)

	restoreLaunch := glycin.SetLaunchSandboxForTest(func(ctx context.Context, execPath, baseDir string, exposeBaseDir bool, mech sandbox.Mechanism) (sandbox.ProcessHandle, error) {
		return process, nil
	})
	t.Cleanup(restoreLaunch)

	reg := core.NewLoaderRegistry()
	reg.Register(core.LoaderEntry{MediaType: "image/png", ExecutablePath: "/fake/loader"})
	restoreRegistry := glycin.SetRegistryResolverForTest(func(apiVersion int, logger core.Logger) (*core.LoaderRegistry, error) {
		return reg, nil
	})
	t.Cleanup(restoreRegistry)

	img, err := glycin.NewImageRequest(fakeFile{data: pngHeader}).Request()
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	return img, process
}

func TestRequestDrivesFullOrchestration(t *testing.T) {
	decoder := &fakeWorkerDecoder{
		info:  core.NewImageInfo(20, 10, "image/png"),
		frame: core.NewFrame(20, 10, pixel.R8g8b8, core.PixelBufferDescriptor{Tag: core.TextureMemFD, FD: 9}),
	}
	img, _ := requestFakeImage(t, decoder)
	defer img.Close()

	if img.MediaType() != "image/png" {
		t.Errorf("MediaType() = %q, want image/png", img.MediaType())
	}
	if img.Info().Width != 20 || img.Info().Height != 10 {
		t.Errorf("Info() = %+v, want 20x10", img.Info())
	}

	frame, err := img.NextFrame()
	if err != nil {
		t.Fatalf("NextFrame: %v", err)
	}
	if frame.Width != 20 || frame.Height != 10 {
		t.Errorf("frame = %dx%d, want 20x10", frame.Width, frame.Height)
	}
}

func TestRequestCloseCancelsWorker(t *testing.T) {
	decoder := &fakeWorkerDecoder{info: core.NewImageInfo(1, 1, "image/png")}
	img, process := requestFakeImage(t, decoder)

	if err := img.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-process.killed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not terminate the fake worker's serve loop")
	}

	// Close is idempotent.
	if err := img.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestKnownMediaTypesOnEmptyRegistry(t *testing.T) {
	t.Setenv("XDG_DATA_DIRS", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	// Cached is process-wide and memoized; this only documents the call
	// shape, since a prior test in the same process may have already
	// populated it from the real environment.
	if _, err := glycin.KnownMediaTypes(); err != nil {
		t.Fatalf("KnownMediaTypes: %v", err)
	}
}
