// Package shm carries decoded pixel buffers between worker and host as
// sealed anonymous shared memory, the Go analogue of the teacher's in-memory
// ImageData buffer but backed by memfd instead of a Go-owned []byte.
package shm

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/Skryldev/glycin/core"
	"github.com/Skryldev/glycin/glycinerr"
)

// Memory is a writable memfd-backed mapping of exactly size bytes. The
// producer fills Bytes() and then calls IntoTexture to seal and hand
// ownership of the descriptor to the consumer; after that call m is spent
// and must not be used again.
type Memory struct {
	mu   sync.Mutex
	fd   int
	size uint64
	data []byte
	sent bool
}

// New allocates a sealable (not yet sealed) anonymous shared memory region
// of size bytes, memfd_create-backed and mmap'd PROT_READ|PROT_WRITE.
func New(size uint64) (*Memory, error) {
	if size == 0 {
		return nil, glycinerr.New(glycinerr.InternalDecoderError, "shm.New", fmt.Errorf("zero-size frame"))
	}

	fd, err := unix.MemfdCreate("glycin-frame", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, glycinerr.Wrap(glycinerr.InternalDecoderError, "memfd_create", err)
	}

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, glycinerr.Wrap(glycinerr.InternalDecoderError, "ftruncate", err)
	}

	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, glycinerr.Wrap(glycinerr.InternalDecoderError, "mmap", err)
	}

	return &Memory{fd: fd, size: size, data: data}, nil
}

// Bytes returns the writable mapping. Panics once the Memory has been
// consumed by IntoTexture — callers must not retain pixel slices past that
// boundary, the Go substitute for the producer-side move-only consumption
// spec.md calls out.
func (m *Memory) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sent {
		panic("shm: Bytes called after IntoTexture")
	}
	return m.data
}

// IntoTexture seals the region against further resizing and writes, unmaps
// the writable view, and returns a descriptor wrapping the now read-only
// file descriptor. m is spent after this call.
func (m *Memory) IntoTexture() (core.PixelBufferDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sent {
		return core.PixelBufferDescriptor{}, glycinerr.Wrap(glycinerr.InternalDecoderError, "shm.IntoTexture", glycinerr.ErrAlreadySent)
	}

	seals := unix.F_SEAL_SHRINK | unix.F_SEAL_GROW | unix.F_SEAL_WRITE
	if _, err := unix.FcntlInt(uintptr(m.fd), unix.F_ADD_SEALS, seals); err != nil {
		return core.PixelBufferDescriptor{}, glycinerr.Wrap(glycinerr.InternalDecoderError, "fcntl(F_ADD_SEALS)", err)
	}

	if err := unix.Munmap(m.data); err != nil {
		return core.PixelBufferDescriptor{}, glycinerr.Wrap(glycinerr.InternalDecoderError, "munmap", err)
	}

	m.data = nil
	m.sent = true
	return core.PixelBufferDescriptor{Tag: core.TextureMemFD, FD: m.fd}, nil
}
