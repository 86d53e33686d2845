package worker

import (
	"context"
	"io"
	"testing"

	"github.com/Skryldev/glycin/core"
	"github.com/Skryldev/glycin/glycinerr"
	"github.com/Skryldev/glycin/pixel"
)

type panicky struct{}

func (panicky) Init(stream io.Reader, details core.DecodingDetails) (core.ImageInfo, error) {
	panic("boom")
}
func (panicky) DecodeFrame(req core.FrameRequest) (core.Frame, error) {
	panic("boom")
}

type fakeLogger struct{ errors []string }

func (l *fakeLogger) Debug(string, ...interface{}) {}
func (l *fakeLogger) Info(string, ...interface{})  {}
func (l *fakeLogger) Warn(string, ...interface{})  {}
func (l *fakeLogger) Error(msg string, fields ...interface{}) {
	l.errors = append(l.errors, msg)
}

func TestAdapterRecoversPanicAsInternalDecoderError(t *testing.T) {
	logger := &fakeLogger{}
	a := &adapter{decoder: panicky{}, logger: logger}

	_, err := a.Init(context.Background(), core.DecodingDetails{}, nil)
	if !glycinerr.Is(err, glycinerr.InternalDecoderError) {
		t.Errorf("Init error = %v, want InternalDecoderError", err)
	}
	if len(logger.errors) != 1 {
		t.Errorf("expected one logged panic, got %d", len(logger.errors))
	}

	_, err = a.DecodeFrame(context.Background(), core.FrameRequest{})
	if !glycinerr.Is(err, glycinerr.InternalDecoderError) {
		t.Errorf("DecodeFrame error = %v, want InternalDecoderError", err)
	}
}

func TestNewFrameMemorySizing(t *testing.T) {
	mem, err := NewFrameMemory(4, 4, pixel.R8g8b8)
	if err != nil {
		t.Fatalf("NewFrameMemory: %v", err)
	}
	want := 4 * 4 * 3
	if got := len(mem.Bytes()); got != want {
		t.Errorf("len(Bytes()) = %d, want %d", got, want)
	}
}
