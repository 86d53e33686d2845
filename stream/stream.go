// Package stream turns a host-side file into a pipe the sandboxed worker
// reads from, the streaming analogue of the teacher's DrainReader chunked
// copy loop — except the destination is a pipe's write end instead of a
// pooled in-memory buffer, and the first bytes are retained for sniffing.
package stream

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/Skryldev/glycin/glycinerr"
)

// HeadSize is the number of leading bytes retained for media-type sniffing,
// matching net/http's DetectContentType sniff window and comfortably above
// the floor media-type sniffing needs.
const HeadSize = 512

// File is the host's abstraction over the bytes being decoded.
type File interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	Name() string // basename, used for the sniff filename-hint retry
	Dir() string  // parent directory, exposed to the worker when the matched loader requests it
}

// osFile implements File over a real filesystem path.
type osFile struct{ path string }

// NewOSFile returns a File backed by the file at path.
func NewOSFile(path string) File { return &osFile{path: path} }

func (f *osFile) Open(ctx context.Context) (io.ReadCloser, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, glycinerr.Wrap(glycinerr.SourceIO, "open", err)
	}
	return file, nil
}

func (f *osFile) Name() string {
	return filepath.Base(f.path)
}

func (f *osFile) Dir() string {
	return filepath.Dir(f.path)
}

// Source copies File's contents into the write end of a pipe on a
// background goroutine, retaining the leading HeadSize bytes for sniffing
// before the worker ever sees them.
type Source struct {
	file      File
	chunkSize int

	readFD  *os.File
	writeFD *os.File

	head     chan []byte
	headOnce []byte

	done chan error
}

// Spawn begins streaming f's contents. The returned Source's background
// copy starts immediately; callers must eventually call Wait to observe the
// outcome and release resources.
func Spawn(ctx context.Context, f File, chunkSize int) *Source {
	if chunkSize <= 0 {
		chunkSize = 32 * 1024
	}

	r, w, err := os.Pipe()
	s := &Source{
		file:      f,
		chunkSize: chunkSize,
		readFD:    r,
		writeFD:   w,
		head:      make(chan []byte, 1),
		done:      make(chan error, 1),
	}
	if err != nil {
		s.done <- glycinerr.Wrap(glycinerr.SourceIO, "pipe", err)
		close(s.head)
		return s
	}

	go s.copyLoop(ctx)
	return s
}

func (s *Source) copyLoop(ctx context.Context) {
	defer s.writeFD.Close()

	src, err := s.file.Open(ctx)
	if err != nil {
		s.head <- nil
		s.done <- err
		return
	}
	defer src.Close()

	chunk := make([]byte, s.chunkSize)
	var head []byte
	headSent := false

	for {
		if err := ctx.Err(); err != nil {
			if !headSent {
				s.head <- head
			}
			s.done <- glycinerr.Wrap(glycinerr.SourceIO, "stream", err)
			return
		}

		n, rerr := src.Read(chunk)
		if n > 0 {
			if !headSent {
				need := HeadSize - len(head)
				if need > n {
					need = n
				}
				head = append(head, chunk[:need]...)
				if len(head) >= HeadSize {
					s.head <- head
					headSent = true
				}
			}
			if _, werr := s.writeFD.Write(chunk[:n]); werr != nil {
				if !headSent {
					s.head <- head
					headSent = true
				}
				s.done <- glycinerr.Wrap(glycinerr.SourceIO, "pipe write", werr)
				return
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if !headSent {
				s.head <- head
				headSent = true
			}
			s.done <- glycinerr.Wrap(glycinerr.SourceIO, "read", rerr)
			return
		}
	}

	if !headSent {
		s.head <- head
	}
	s.done <- nil
}

// Head blocks until at least HeadSize bytes have been copied (or the source
// is exhausted/failed first) and returns the bytes seen so far.
func (s *Source) Head(ctx context.Context) ([]byte, error) {
	select {
	case h := <-s.head:
		return h, nil
	case <-ctx.Done():
		return nil, glycinerr.Wrap(glycinerr.Transport, "stream.Head", ctx.Err())
	}
}

// File returns the underlying File abstraction.
func (s *Source) File() File { return s.file }

// ReadFD returns the read end of the pipe. The caller takes ownership and
// is responsible for closing it (typically by handing it to rpc.Client.Init,
// which sends it to the worker and closes the host's copy).
func (s *Source) ReadFD() *os.File { return s.readFD }

// Cancel stops the copy early by closing the pipe's write end, causing the
// worker to observe a short read.
func (s *Source) Cancel() {
	s.writeFD.Close()
}

// Wait blocks until the copy goroutine exits, returning its terminal error
// wrapped glycinerr.SourceIO, or nil on a clean EOF.
func (s *Source) Wait() error {
	return <-s.done
}
