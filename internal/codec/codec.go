// Package codec turns uploaded raster images into normalized JPEG derivatives.
package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/disintegration/imaging"
	libjpeg "github.com/pixiv/go-libjpeg/jpeg"
	_ "golang.org/x/image/webp"

	"gallery/internal/models"
)

// Spec describes one derivative. A zero MaxHeight means the height follows
// the aspect ratio of the source. Images are never enlarged.
type Spec struct {
	Name        string
	MaxWidth    int
	MaxHeight   int
	Quality     int
	Progressive bool
}

var (
	// Original bounds both edges by 1600px.
	Original = Spec{Name: "original", MaxWidth: 1600, MaxHeight: 1600, Quality: 85, Progressive: true}
	// Thumbnail has a fixed 400px width.
	Thumbnail = Spec{Name: "thumbnail", MaxWidth: 400, Quality: 80}
)

var supportedFormats = map[string]bool{
	"jpeg": true,
	"png":  true,
	"webp": true,
}

// Imaging is the Codec backed by disintegration/imaging for resampling and
// baseline output, and libjpeg for progressive output.
type Imaging struct {
	maxPixels int64
}

func New() *Imaging {
	return NewWithMaxPixels(models.DefaultMaxImagePixels)
}

// NewWithMaxPixels returns a codec that refuses sources whose declared
// width*height exceeds maxPixels. Non-positive values select the default.
func NewWithMaxPixels(maxPixels int64) *Imaging {
	if maxPixels <= 0 {
		maxPixels = models.DefaultMaxImagePixels
	}
	return &Imaging{maxPixels: maxPixels}
}

// Decode checks the buffer holds a supported raster format of acceptable
// dimensions before decoding it.
func (c *Imaging) Decode(raw []byte) (image.Image, error) {
	const op = "codec.Decode"

	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, models.ErrUnsupportedFormat.WithCause(fmt.Errorf("%s: %w", op, err))
	}
	if !supportedFormats[format] {
		return nil, models.ErrUnsupportedFormat.WithMessage("unsupported image format %q", format)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > c.maxPixels {
		return nil, models.ErrInvalidInput.WithMessage("image is %dx%d, above the %d pixel limit",
			cfg.Width, cfg.Height, c.maxPixels)
	}

	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, models.ErrCodecFailure.WithCause(fmt.Errorf("%s: %w", op, err))
	}
	return img, nil
}

// Derive resizes src per spec and writes it to w as JPEG.
func (c *Imaging) Derive(w io.Writer, src image.Image, spec Spec) error {
	const op = "codec.Derive"

	img := Resize(src, spec)
	var err error
	if spec.Progressive {
		err = libjpeg.Encode(w, toYCbCr(img), &libjpeg.EncoderOptions{
			Quality:         spec.Quality,
			OptimizeCoding:  true,
			ProgressiveMode: true,
		})
	} else {
		err = imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(spec.Quality))
	}
	if err != nil {
		return models.ErrCodecFailure.WithCause(fmt.Errorf("%s: %s: %w", op, spec.Name, err))
	}
	return nil
}

// Resize downscales src so it fits spec, preserving the aspect ratio.
func Resize(src image.Image, spec Spec) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	if spec.MaxHeight == 0 {
		if w <= spec.MaxWidth {
			return src
		}
		return imaging.Resize(src, spec.MaxWidth, 0, imaging.Lanczos)
	}
	if w <= spec.MaxWidth && h <= spec.MaxHeight {
		return src
	}
	return imaging.Fit(src, spec.MaxWidth, spec.MaxHeight, imaging.Lanczos)
}

// toYCbCr converts img to 4:2:0 YCbCr, the layout libjpeg takes directly.
// Transparent pixels end up over black, as with the stdlib encoder.
func toYCbCr(img image.Image) *image.YCbCr {
	if y, ok := img.(*image.YCbCr); ok && y.SubsampleRatio == image.YCbCrSubsampleRatio420 {
		return y
	}

	b := img.Bounds()
	dst := image.NewYCbCr(b, image.YCbCrSubsampleRatio420)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			yy, cb, cr := color.RGBToYCbCr(uint8(r>>8), uint8(g>>8), uint8(bl>>8))
			dst.Y[dst.YOffset(x, y)] = yy
			if (x-b.Min.X)%2 == 0 && (y-b.Min.Y)%2 == 0 {
				off := dst.COffset(x, y)
				dst.Cb[off] = cb
				dst.Cr[off] = cr
			}
		}
	}
	return dst
}
