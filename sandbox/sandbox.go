// Package sandbox launches the worker executable isolated from the host,
// either via bubblewrap or, inside an existing Flatpak, via the desktop
// portal's Flatpak.Spawn — the process-lifecycle half of what the teacher's
// cvpipe.Pipeline did for its decoder/encoder subprocess pair, generalized
// from a fixed gst-launch-1.0 pipeline to an arbitrary loader executable.
package sandbox

import (
	"context"
	"os"
	"os/exec"
	"syscall"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"

	"github.com/Skryldev/glycin/glycinerr"
)

// Mechanism selects how the worker process is isolated from the host.
type Mechanism int

const (
	// Bracketed runs the worker under bubblewrap, built fresh for every
	// request.
	Bracketed Mechanism = iota
	// PortalSpawn asks org.freedesktop.portal.Flatpak to spawn the worker
	// beside the host's own Flatpak sandbox.
	PortalSpawn
)

// Detect picks PortalSpawn when the host itself is running inside a
// Flatpak (bubblewrap cannot nest), Bracketed otherwise.
func Detect() Mechanism {
	if _, err := os.Stat("/.flatpak-info"); err == nil {
		return PortalSpawn
	}
	return Bracketed
}

// ProcessHandle is the subset of Process the host façade depends on,
// exported so tests can substitute an in-process fake worker without
// spawning bwrap.
type ProcessHandle interface {
	HostConn() *os.File
	Kill() error
}

var _ ProcessHandle = (*Process)(nil)

// Process is a launched, sandboxed worker.
type Process struct {
	mech    Mechanism
	cmd     *exec.Cmd // non-nil only for Bracketed
	hostEnd *os.File

	pid int // portal-spawn child pid; unused for Bracketed

	waitErr  error
	waitDone chan struct{}
}

// HostConn returns the host's end of the socket pair wired to the worker's
// stdin. The caller owns it; closing it signals the worker to exit cleanly.
func (p *Process) HostConn() *os.File { return p.hostEnd }

// Wait blocks until the worker process exits.
func (p *Process) Wait() error {
	<-p.waitDone
	return p.waitErr
}

// Kill terminates the worker process immediately.
func (p *Process) Kill() error {
	if p.cmd != nil && p.cmd.Process != nil {
		return p.cmd.Process.Kill()
	}
	if p.pid > 0 {
		return unix.Kill(p.pid, unix.SIGKILL)
	}
	return nil
}

// Launch starts execPath sandboxed via mech. baseDir is bind-mounted
// read-only into the sandbox (Bracketed) or passed to the portal
// (PortalSpawn) only when the matched loader requested ExposeBaseDir.
func Launch(ctx context.Context, execPath, baseDir string, exposeBaseDir bool, mech Mechanism) (*Process, error) {
	if execPath == "" {
		return nil, glycinerr.ErrExecutableNotFound
	}
	if _, err := os.Stat(execPath); err != nil {
		return nil, glycinerr.ErrExecutableNotFound
	}

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, glycinerr.Wrap(glycinerr.Transport, "socketpair", err)
	}
	hostEnd := os.NewFile(uintptr(fds[0]), "glycin-host-conn")
	workerEnd := os.NewFile(uintptr(fds[1]), "glycin-worker-conn")
	defer workerEnd.Close()

	switch mech {
	case PortalSpawn:
		return launchPortalSpawn(ctx, execPath, baseDir, exposeBaseDir, hostEnd, workerEnd)
	default:
		return launchBracketed(ctx, execPath, baseDir, exposeBaseDir, hostEnd, workerEnd)
	}
}

func launchBracketed(ctx context.Context, execPath, baseDir string, exposeBaseDir bool, hostEnd, workerEnd *os.File) (*Process, error) {
	seccompProgram, err := buildSeccompProgram()
	if err != nil {
		hostEnd.Close()
		return nil, err
	}

	seccompR, seccompW, err := os.Pipe()
	if err != nil {
		hostEnd.Close()
		return nil, glycinerr.Wrap(glycinerr.Transport, "pipe", err)
	}

	args := []string{
		"--unshare-all",
		"--die-with-parent",
		"--ro-bind", "/usr", "/usr",
		"--ro-bind", "/lib", "/lib",
		"--proc", "/proc",
		"--dev", "/dev",
		"--new-session",
	}
	if _, err := os.Stat("/lib64"); err == nil {
		args = append(args, "--ro-bind", "/lib64", "/lib64")
	}
	if exposeBaseDir && baseDir != "" {
		args = append(args, "--ro-bind", baseDir, baseDir)
	}
	args = append(args, "--seccomp", "3", execPath)

	cmd := exec.CommandContext(ctx, "bwrap", args...)
	cmd.Stdin = workerEnd
	cmd.ExtraFiles = []*os.File{seccompR}
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL}

	go func() {
		seccompW.Write(seccompProgram)
		seccompW.Close()
	}()

	if err := cmd.Start(); err != nil {
		hostEnd.Close()
		seccompR.Close()
		seccompW.Close()
		return nil, glycinerr.Wrap(glycinerr.Transport, "bwrap start", err)
	}
	seccompR.Close()

	p := &Process{mech: Bracketed, cmd: cmd, hostEnd: hostEnd, waitDone: make(chan struct{})}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.waitDone)
	}()
	return p, nil
}

func launchPortalSpawn(ctx context.Context, execPath, baseDir string, exposeBaseDir bool, hostEnd, workerEnd *os.File) (*Process, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		hostEnd.Close()
		return nil, glycinerr.Wrap(glycinerr.Transport, "dbus.ConnectSessionBus", err)
	}
	defer conn.Close()

	portal := conn.Object("org.freedesktop.portal.Desktop", dbus.ObjectPath("/org/freedesktop/portal/desktop"))

	fds := map[uint32]dbus.UnixFD{
		0: dbus.UnixFD(workerEnd.Fd()),
	}
	env := map[string]string{}
	var sandboxFlags uint32
	var pid uint32

	cwd := ""
	if exposeBaseDir {
		cwd = baseDir
	}

	call := portal.CallWithContext(ctx, "org.freedesktop.portal.Flatpak.Spawn", 0,
		cwd, []string{execPath}, fds, env, sandboxFlags, map[string]dbus.Variant{})
	if call.Err != nil {
		hostEnd.Close()
		return nil, glycinerr.Wrap(glycinerr.Transport, "portal spawn", call.Err)
	}
	if err := call.Store(&pid); err != nil {
		hostEnd.Close()
		return nil, glycinerr.Wrap(glycinerr.Transport, "portal spawn reply", err)
	}

	p := &Process{mech: PortalSpawn, pid: int(pid), hostEnd: hostEnd, waitDone: make(chan struct{})}
	go p.waitPortalChild(conn, pid)
	return p, nil
}

// waitPortalChild blocks on the portal's SpawnExited signal for pid. The
// portal, not the host, is the direct parent of a spawned process, so
// os.Process.Wait is unavailable here.
func (p *Process) waitPortalChild(conn *dbus.Conn, pid uint32) {
	defer close(p.waitDone)

	rule := "type='signal',interface='org.freedesktop.portal.Flatpak',member='SpawnExited'"
	if err := conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
		p.waitErr = glycinerr.Wrap(glycinerr.Transport, "AddMatch", err)
		return
	}

	signals := make(chan *dbus.Signal, 1)
	conn.Signal(signals)
	for sig := range signals {
		if len(sig.Body) < 2 {
			continue
		}
		gotPID, ok := sig.Body[0].(uint32)
		if !ok || gotPID != pid {
			continue
		}
		return
	}
}
