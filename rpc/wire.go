// Package rpc implements the point-to-point connection between host and
// worker: an anonymously-authenticated peer D-Bus link with no broker and
// no bus name, carrying the DecodingInstruction interface the worker
// exports at /org/gnome/glycin.
package rpc

import (
	"github.com/godbus/dbus/v5"

	"github.com/Skryldev/glycin/core"
)

// ObjectPath is the single object every worker exports.
const ObjectPath = dbus.ObjectPath("/org/gnome/glycin")

// InterfaceName is the D-Bus interface DecodingInstruction implements.
const InterfaceName = "org.gnome.glycin.DecodingInstruction"

// ErrorPrefix namespaces every RemoteError's D-Bus error name.
const ErrorPrefix = "org.gnome.glycin.Error."

// decodingRequest is the wire struct for Init: the source descriptor plus
// the sniffed media type and, when the matched loader asked for it, the
// source's parent directory.
type decodingRequest struct {
	FD        dbus.UnixFD
	MediaType string
	BaseDir   string
}

// imageInfo mirrors core.ImageInfo with EXIF/XMP encoded as dbus-safe byte
// slices (nil becomes empty, restored to nil on decode) and DimensionsInch
// flattened to a present/absent pair since godbus has no native optional.
type imageInfo struct {
	Width, Height           uint32
	FormatName              string
	EXIF, XMP               []byte
	TransformationsApplied  bool
	DimensionsText          string
	HasDimensionsInch       bool
	DimensionsInchW         float64
	DimensionsInchH         float64
}

func toWireImageInfo(info core.ImageInfo) imageInfo {
	w := imageInfo{
		Width:                  info.Width,
		Height:                 info.Height,
		FormatName:             info.FormatName,
		EXIF:                   info.EXIF,
		XMP:                    info.XMP,
		TransformationsApplied: info.TransformationsApplied,
		DimensionsText:         info.DimensionsText,
	}
	if info.DimensionsInch != nil {
		w.HasDimensionsInch = true
		w.DimensionsInchW = info.DimensionsInch[0]
		w.DimensionsInchH = info.DimensionsInch[1]
	}
	return w
}

func fromWireImageInfo(w imageInfo) core.ImageInfo {
	info := core.ImageInfo{
		Width:                  w.Width,
		Height:                 w.Height,
		FormatName:             w.FormatName,
		EXIF:                   w.EXIF,
		XMP:                    w.XMP,
		TransformationsApplied: w.TransformationsApplied,
		DimensionsText:         w.DimensionsText,
	}
	if len(info.EXIF) == 0 {
		info.EXIF = nil
	}
	if len(info.XMP) == 0 {
		info.XMP = nil
	}
	if w.HasDimensionsInch {
		info.DimensionsInch = &[2]float64{w.DimensionsInchW, w.DimensionsInchH}
	}
	return info
}

// frameRequest mirrors core.FrameRequest with the two optional fields
// flattened to present/absent pairs.
type frameRequest struct {
	HasScale      bool
	ScaleW, ScaleH uint32
	HasClip       bool
	ClipX, ClipY, ClipW, ClipH uint32
}

func toWireFrameRequest(r core.FrameRequest) frameRequest {
	var w frameRequest
	if r.Scale != nil {
		w.HasScale = true
		w.ScaleW, w.ScaleH = r.Scale[0], r.Scale[1]
	}
	if r.Clip != nil {
		w.HasClip = true
		w.ClipX, w.ClipY, w.ClipW, w.ClipH = r.Clip[0], r.Clip[1], r.Clip[2], r.Clip[3]
	}
	return w
}

func fromWireFrameRequest(w frameRequest) core.FrameRequest {
	var r core.FrameRequest
	if w.HasScale {
		r.Scale = &[2]uint32{w.ScaleW, w.ScaleH}
	}
	if w.HasClip {
		r.Clip = &[4]uint32{w.ClipX, w.ClipY, w.ClipW, w.ClipH}
	}
	return r
}

// frame mirrors core.Frame with the texture descriptor's fd carried as a
// dbus.UnixFD and the delay flattened to a present/absent pair.
type frame struct {
	Width, Height, Stride uint32
	MemoryFormat          int32
	TextureFD             dbus.UnixFD
	ICCP, CICP            []byte
	HasDelayMillis        bool
	DelayMillis           int64
}
