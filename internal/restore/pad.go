package restore

import (
	"image"

	"github.com/disintegration/imaging"
)

// PaddedSize rounds n up to the next multiple of align.
func PaddedSize(n, align int) int {
	if align <= 1 || n%align == 0 {
		return n
	}
	return n + align - n%align
}

// PadReflect extends img on the right and bottom so both dimensions are
// multiples of align. New pixels mirror the image about its last row and
// column without repeating them (reflect-101). Single-pixel dimensions are
// extended by replication.
func PadReflect(img image.Image, align int) *image.NRGBA {
	src := imaging.Clone(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	pw, ph := PaddedSize(w, align), PaddedSize(h, align)
	if pw == w && ph == h {
		return src
	}

	dst := image.NewNRGBA(image.Rect(0, 0, pw, ph))
	for y := range ph {
		sy := mirror(y, h)
		srcRow := src.Pix[sy*src.Stride:]
		dstRow := dst.Pix[y*dst.Stride:]
		for x := range pw {
			sx := mirror(x, w)
			copy(dstRow[x*4:x*4+4], srcRow[sx*4:sx*4+4])
		}
	}
	return dst
}

// mirror maps i >= 0 into [0, n) by reflecting about the last index.
func mirror(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * (n - 1)
	i %= period
	if i >= n {
		i = period - i
	}
	return i
}
