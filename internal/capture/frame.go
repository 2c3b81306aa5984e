package capture

import "image"

// Frame is a single captured bitmap with pixels packed as 3-channel RGB.
// Frames are what the video writers consume: 4-channel captures are
// normalized to this format before leaving the package.
type Frame struct {
	Pix    []byte
	Width  int
	Height int

	// Seq is the position of the frame in the session's output. It is
	// assigned by the capture loop right before the frame is appended.
	Seq uint64
}

// NewFrame allocates an empty (black) frame.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Pix:    make([]byte, width*height*3),
		Width:  width,
		Height: height,
	}
}

// Stride is the number of bytes per row.
func (f *Frame) Stride() int {
	return f.Width * 3
}

// ToRGBA expands the frame into dst, which is reallocated when nil or when its
// size does not match the frame.
func (f *Frame) ToRGBA(dst *image.RGBA) *image.RGBA {
	if dst == nil || dst.Rect.Dx() != f.Width || dst.Rect.Dy() != f.Height {
		dst = image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	}
	for y := 0; y < f.Height; y++ {
		src := f.Pix[y*f.Stride() : (y+1)*f.Stride()]
		out := dst.Pix[y*dst.Stride : y*dst.Stride+f.Width*4]
		for x := 0; x < f.Width; x++ {
			out[x*4] = src[x*3]
			out[x*4+1] = src[x*3+1]
			out[x*4+2] = src[x*3+2]
			out[x*4+3] = 0xff
		}
	}
	return dst
}

// FromRGBA converts a 4-channel RGBA image into a frame, dropping alpha.
func FromRGBA(img *image.RGBA) *Frame {
	b := img.Bounds()
	f := NewFrame(b.Dx(), b.Dy())
	for y := 0; y < f.Height; y++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		src := img.Pix[off : off+f.Width*4]
		dst := f.Pix[y*f.Stride() : (y+1)*f.Stride()]
		for x := 0; x < f.Width; x++ {
			dst[x*3] = src[x*4]
			dst[x*3+1] = src[x*4+1]
			dst[x*3+2] = src[x*4+2]
		}
	}
	return f
}
