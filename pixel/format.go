// Package pixel defines the closed set of pixel memory layouts that can be
// carried across the host/worker shared-memory boundary.
package pixel

// Format is one of the fixed pixel memory layouts a worker may produce.
// The set is closed: adding a variant is a wire-incompatible change and
// must bump config.APIVersion.
type Format int

const (
	B8g8r8a8Premultiplied Format = iota
	A8r8g8b8Premultiplied
	R8g8b8a8Premultiplied
	B8g8r8a8
	A8r8g8b8
	R8g8b8a8
	A8b8g8r8
	R8g8b8
	B8g8r8
	R16g16b16
	R16g16b16a16Premultiplied
	R16g16b16a16
	R16g16b16Float
	R16g16b16a16Float
	R32g32b32Float
	R32g32b32a32FloatPremultiplied
	R32g32b32a32Float
	G8a8
	G8
	G16a16
	G16
)

var names = map[Format]string{
	B8g8r8a8Premultiplied:          "B8g8r8a8Premultiplied",
	A8r8g8b8Premultiplied:          "A8r8g8b8Premultiplied",
	R8g8b8a8Premultiplied:          "R8g8b8a8Premultiplied",
	B8g8r8a8:                       "B8g8r8a8",
	A8r8g8b8:                       "A8r8g8b8",
	R8g8b8a8:                       "R8g8b8a8",
	A8b8g8r8:                       "A8b8g8r8",
	R8g8b8:                         "R8g8b8",
	B8g8r8:                         "B8g8r8",
	R16g16b16:                      "R16g16b16",
	R16g16b16a16Premultiplied:      "R16g16b16a16Premultiplied",
	R16g16b16a16:                   "R16g16b16a16",
	R16g16b16Float:                 "R16g16b16Float",
	R16g16b16a16Float:              "R16g16b16a16Float",
	R32g32b32Float:                 "R32g32b32Float",
	R32g32b32a32FloatPremultiplied: "R32g32b32a32FloatPremultiplied",
	R32g32b32a32Float:              "R32g32b32a32Float",
	G8a8:                           "G8a8",
	G8:                             "G8",
	G16a16:                         "G16a16",
	G16:                            "G16",
}

func (f Format) String() string {
	if n, ok := names[f]; ok {
		return n
	}
	return "Unknown"
}

// BytesPerPixel returns the number of bytes one pixel occupies in f.
func (f Format) BytesPerPixel() uint32 {
	switch f {
	case B8g8r8a8Premultiplied, A8r8g8b8Premultiplied, R8g8b8a8Premultiplied,
		B8g8r8a8, A8r8g8b8, R8g8b8a8, A8b8g8r8:
		return 4
	case R8g8b8, B8g8r8:
		return 3
	case R16g16b16, R16g16b16Float:
		return 6
	case R16g16b16a16, R16g16b16a16Premultiplied, R16g16b16a16Float:
		return 8
	case R32g32b32Float:
		return 12
	case R32g32b32a32Float, R32g32b32a32FloatPremultiplied:
		return 16
	case G8a8:
		return 2
	case G8:
		return 1
	case G16a16:
		return 4
	case G16:
		return 2
	default:
		return 0
	}
}

// Channels returns the number of color channels f carries.
func (f Format) Channels() uint8 {
	switch f {
	case B8g8r8a8Premultiplied, A8r8g8b8Premultiplied, R8g8b8a8Premultiplied,
		B8g8r8a8, A8r8g8b8, R8g8b8a8, A8b8g8r8,
		R16g16b16a16, R16g16b16a16Premultiplied, R16g16b16a16Float,
		R32g32b32a32Float, R32g32b32a32FloatPremultiplied:
		return 4
	case R8g8b8, B8g8r8, R16g16b16, R16g16b16Float, R32g32b32Float:
		return 3
	case G8a8, G16a16:
		return 2
	case G8, G16:
		return 1
	default:
		return 0
	}
}

// Stride returns the required row stride, in bytes, for an image of the
// given width encoded in f. Callers must validate a received Frame's
// advertised stride against this value (the "stride law" invariant).
func Stride(f Format, width uint32) uint32 {
	return f.BytesPerPixel() * width
}
