// Command glycin-loader-demo is a loader executable: a worker.Decoder
// implementation linked into a standalone binary that a LoaderEntry in a
// conf.d file can point ExecutablePath at. It decodes the formats libvips
// supports plus lossy WebP via golang.org/x/image/webp as a fallback for
// builds without libwebp, the same split the teacher's own WebP decoder
// documented.
package main

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"

	govips "github.com/davidbyttow/govips/v2/vips"
	"golang.org/x/image/draw"
	"golang.org/x/image/webp"

	"github.com/Skryldev/glycin/core"
	"github.com/Skryldev/glycin/glycinerr"
	"github.com/Skryldev/glycin/pixel"
	"github.com/Skryldev/glycin/shm"
	"github.com/Skryldev/glycin/worker"
)

// demoDecoder implements worker.Decoder. One instance handles exactly one
// image: Init decodes the header and caches pixels, DecodeFrame replays
// the cached image through the requested scale/clip.
type demoDecoder struct {
	vipsImage *govips.ImageRef
	fallback  image.Image

	width, height uint32
	formatName    string
}

func newDemoDecoder() *demoDecoder { return &demoDecoder{} }

func (d *demoDecoder) Init(stream io.Reader, details core.DecodingDetails) (core.ImageInfo, error) {
	raw, err := io.ReadAll(stream)
	if err != nil {
		return core.ImageInfo{}, glycinerr.Wrap(glycinerr.SourceIO, "demo.Init.read", err)
	}
	if len(raw) == 0 {
		return core.ImageInfo{}, glycinerr.New(glycinerr.SourceIO, "demo.Init", glycinerr.ErrEmptySource)
	}

	if ref, verr := govips.NewImageFromBuffer(raw); verr == nil {
		d.vipsImage = ref
		d.width, d.height = uint32(ref.Width()), uint32(ref.Height())
		d.formatName = vipsFormatName(ref.Format())
		return d.imageInfo(), nil
	}

	if details.MediaType == "image/webp" {
		img, werr := webp.Decode(bytes.NewReader(raw))
		if werr != nil {
			return core.ImageInfo{}, glycinerr.Wrap(glycinerr.DecodingError, "demo.Init.webp", werr)
		}
		d.fallback = img
		b := img.Bounds()
		d.width, d.height = uint32(b.Dx()), uint32(b.Dy())
		d.formatName = "webp"
		return d.imageInfo(), nil
	}

	img, _, derr := image.Decode(bytes.NewReader(raw))
	if derr != nil {
		return core.ImageInfo{}, glycinerr.Wrap(glycinerr.UnsupportedImageFormat, "demo.Init.fallback", derr)
	}
	d.fallback = img
	b := img.Bounds()
	d.width, d.height = uint32(b.Dx()), uint32(b.Dy())
	d.formatName = details.MediaType
	return d.imageInfo(), nil
}

func (d *demoDecoder) imageInfo() core.ImageInfo {
	return core.NewImageInfo(d.width, d.height, d.formatName)
}

func (d *demoDecoder) DecodeFrame(req core.FrameRequest) (core.Frame, error) {
	img, width, height, err := d.renderFrame(req)
	if err != nil {
		return core.Frame{}, err
	}

	mem, err := worker.NewFrameMemory(width, height, pixel.R8g8b8a8)
	if err != nil {
		return core.Frame{}, glycinerr.Wrap(glycinerr.InternalDecoderError, "demo.DecodeFrame.shm", err)
	}
	fillRGBA(mem.Bytes(), img, width, height)

	texture, err := mem.IntoTexture()
	if err != nil {
		return core.Frame{}, glycinerr.Wrap(glycinerr.InternalDecoderError, "demo.DecodeFrame.seal", err)
	}
	return core.NewFrame(width, height, pixel.R8g8b8a8, texture), nil
}

// renderFrame applies req's clip then scale and returns a plain
// image.Image plus its final dimensions, regardless of which decode path
// produced the source pixels.
func (d *demoDecoder) renderFrame(req core.FrameRequest) (image.Image, uint32, uint32, error) {
	if err := validateFrameRequest(req); err != nil {
		return nil, 0, 0, err
	}
	if d.vipsImage != nil {
		return d.renderVipsFrame(req)
	}
	if d.fallback != nil {
		return renderFallbackFrame(d.fallback, req)
	}
	return nil, 0, 0, glycinerr.New(glycinerr.InternalDecoderError, "demo.renderFrame", fmt.Errorf("DecodeFrame called before Init"))
}

// validateFrameRequest rejects a zero-width/height scale or clip with
// DecodingError before any decode backend sees it. ConversionTooLargerError
// is reserved for dimensions that exceed the addressable range, a different
// condition than an explicitly empty request.
func validateFrameRequest(req core.FrameRequest) error {
	if req.Scale != nil && (req.Scale[0] == 0 || req.Scale[1] == 0) {
		return glycinerr.New(glycinerr.DecodingError, "demo.renderFrame", fmt.Errorf("%w: zero-dimension scale %v", glycinerr.ErrInvalidFrameRequest, *req.Scale))
	}
	if req.Clip != nil && (req.Clip[2] == 0 || req.Clip[3] == 0) {
		return glycinerr.New(glycinerr.DecodingError, "demo.renderFrame", fmt.Errorf("%w: zero-dimension clip %v", glycinerr.ErrInvalidFrameRequest, *req.Clip))
	}
	return nil
}

func (d *demoDecoder) renderVipsFrame(req core.FrameRequest) (image.Image, uint32, uint32, error) {
	clone, err := d.vipsImage.Copy()
	if err != nil {
		return nil, 0, 0, glycinerr.Wrap(glycinerr.InternalDecoderError, "demo.renderVipsFrame.copy", err)
	}
	defer clone.Close()

	if req.Clip != nil {
		c := req.Clip
		if err := clone.ExtractArea(int(c[0]), int(c[1]), int(c[2]), int(c[3])); err != nil {
			return nil, 0, 0, glycinerr.Wrap(glycinerr.ConversionTooLargerError, "demo.renderVipsFrame.clip", fmt.Errorf("%w: %v", glycinerr.ErrInvalidFrameRequest, err))
		}
	}
	if req.Scale != nil {
		s := req.Scale
		scale := float64(s[0]) / float64(clone.Width())
		if err := clone.Resize(scale, govips.KernelLanczos3); err != nil {
			return nil, 0, 0, glycinerr.Wrap(glycinerr.ConversionTooLargerError, "demo.renderVipsFrame.scale", fmt.Errorf("%w: %v", glycinerr.ErrInvalidFrameRequest, err))
		}
	}

	ep := govips.NewPngExportParams()
	buf, _, err := clone.ExportPng(ep)
	if err != nil {
		return nil, 0, 0, glycinerr.Wrap(glycinerr.InternalDecoderError, "demo.renderVipsFrame.export", err)
	}
	img, err := decodePNG(buf)
	if err != nil {
		return nil, 0, 0, glycinerr.Wrap(glycinerr.InternalDecoderError, "demo.renderVipsFrame.decode", err)
	}
	b := img.Bounds()
	return img, uint32(b.Dx()), uint32(b.Dy()), nil
}

func renderFallbackFrame(src image.Image, req core.FrameRequest) (image.Image, uint32, uint32, error) {
	img := src
	if req.Clip != nil {
		c := req.Clip
		rect := image.Rect(int(c[0]), int(c[1]), int(c[0]+c[2]), int(c[1]+c[3]))
		cropped := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
		draw.Draw(cropped, cropped.Bounds(), img, rect.Min, draw.Src)
		img = cropped
	}
	if req.Scale != nil {
		s := req.Scale
		scaled := image.NewRGBA(image.Rect(0, 0, int(s[0]), int(s[1])))
		draw.NearestNeighbor.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Src, nil)
		img = scaled
	}
	b := img.Bounds()
	return img, uint32(b.Dx()), uint32(b.Dy()), nil
}

// fillRGBA copies img's pixels into dst in tightly packed R8g8b8a8 rows,
// dst must be at least width*height*4 bytes, the size worker.NewFrameMemory
// allocated it at.
func fillRGBA(dst []byte, img image.Image, width, height uint32) {
	b := img.Bounds()
	stride := pixel.Stride(pixel.R8g8b8a8, width)
	for y := uint32(0); y < height; y++ {
		row := dst[y*stride : y*stride+width*4]
		for x := uint32(0); x < width; x++ {
			r, g, bl, a := img.At(b.Min.X+int(x), b.Min.Y+int(y)).RGBA()
			off := x * 4
			row[off] = byte(r >> 8)
			row[off+1] = byte(g >> 8)
			row[off+2] = byte(bl >> 8)
			row[off+3] = byte(a >> 8)
		}
	}
}

func decodePNG(buf []byte) (image.Image, error) {
	return png.Decode(bytes.NewReader(buf))
}

func vipsFormatName(f govips.ImageType) string {
	switch f {
	case govips.ImageTypeJPEG:
		return "jpeg"
	case govips.ImageTypePNG:
		return "png"
	case govips.ImageTypeWEBP:
		return "webp"
	case govips.ImageTypeGIF:
		return "gif"
	case govips.ImageTypeTIFF:
		return "tiff"
	case govips.ImageTypeBMP:
		return "bmp"
	default:
		return "unknown"
	}
}

var _ worker.Decoder = (*demoDecoder)(nil)
