// Package sniff detects an input's media type from its leading bytes, the
// same byte-signature-then-stdlib-fallback shape as the teacher's
// DetectFormat, generalized from a closed {jpeg,png,webp} set to arbitrary
// registered media types plus a TIFF/unsure filename-hint retry.
package sniff

import (
	"net/http"
	"strings"
)

// Result is the outcome of sniffing a byte prefix.
type Result struct {
	MediaType string
	Unsure    bool
}

// Detect inspects head (the leading bytes of a file, at least 256 of them
// unless the file itself is shorter) and returns its best-guess media type.
// Unsure is set when net/http's fallback classification applies, signaling
// the caller should retry with DetectWithFilename.
func Detect(head []byte) Result {
	if mt, ok := bySignature(head); ok {
		return Result{MediaType: mt}
	}

	ct := http.DetectContentType(head)
	mt, _, _ := strings.Cut(ct, ";")
	if mt == "application/octet-stream" {
		return Result{MediaType: mt, Unsure: true}
	}
	return Result{MediaType: mt}
}

// DetectWithFilename retries Detect's result using name's extension as a
// hint, applied per spec: when the first guess is image/tiff (a TIFF
// container may wrap a raw format) or unsure, the filename extension is
// trusted over the byte signature.
func DetectWithFilename(head []byte, name string) Result {
	first := Detect(head)
	if first.MediaType != "image/tiff" && !first.Unsure {
		return first
	}

	if mt, ok := byExtension(name); ok {
		return Result{MediaType: mt}
	}
	return first
}

var signatures = []struct {
	mediaType string
	magic     []byte
	offset    int
}{
	{"image/jpeg", []byte{0xFF, 0xD8, 0xFF}, 0},
	{"image/png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, 0},
	{"image/gif", []byte("GIF8"), 0},
	{"image/bmp", []byte("BM"), 0},
	{"image/tiff", []byte{0x49, 0x49, 0x2A, 0x00}, 0}, // little-endian TIFF
	{"image/tiff", []byte{0x4D, 0x4D, 0x00, 0x2A}, 0}, // big-endian TIFF
}

func bySignature(head []byte) (string, bool) {
	for _, sig := range signatures {
		end := sig.offset + len(sig.magic)
		if len(head) < end {
			continue
		}
		if string(head[sig.offset:end]) == string(sig.magic) {
			return sig.mediaType, true
		}
	}
	if len(head) >= 12 && string(head[0:4]) == "RIFF" && string(head[8:12]) == "WEBP" {
		return "image/webp", true
	}
	if len(head) >= 12 && string(head[4:8]) == "ftyp" {
		return "image/avif", true
	}
	return "", false
}

var extensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".avif": "image/avif",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".cr2":  "image/x-canon-cr2",
	".nef":  "image/x-nikon-nef",
	".dng":  "image/x-adobe-dng",
	".svg":  "image/svg+xml",
}

func byExtension(name string) (string, bool) {
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 {
		return "", false
	}
	mt, ok := extensions[strings.ToLower(name[dot:])]
	return mt, ok
}
