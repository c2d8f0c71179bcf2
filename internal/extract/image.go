package extract

import (
	"image"
	"image/png"
	"os"

	"golang.org/x/image/draw"
)

// preprocess rewrites a rasterized page in place as a 2x upscaled
// grayscale image before it goes to tesseract.
func preprocess(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	src, err := png.Decode(f)
	f.Close()
	if err != nil {
		return err
	}

	bounds := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, bounds.Dx()*2, bounds.Dy()*2))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(out, dst); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
