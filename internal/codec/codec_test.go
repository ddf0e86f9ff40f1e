package codec

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gallery/internal/models"
)

func solid(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, solid(w, h), nil))
	return buf.Bytes()
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(w, h)))
	return buf.Bytes()
}

func derivedSize(t *testing.T, c *Imaging, raw []byte, spec Spec) (int, int) {
	t.Helper()
	src, err := c.Decode(raw)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, c.Derive(&out, src, spec))

	cfg, format, err := image.DecodeConfig(&out)
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)
	return cfg.Width, cfg.Height
}

func TestDerive_LargeJPEG(t *testing.T) {
	c := New()
	raw := encodeJPEG(t, 3000, 2000)

	w, h := derivedSize(t, c, raw, Original)
	assert.Equal(t, 1600, w)
	assert.Equal(t, 1067, h)

	w, h = derivedSize(t, c, raw, Thumbnail)
	assert.Equal(t, 400, w)
	assert.Equal(t, 267, h)
}

func TestDerive_PortraitBoundByHeight(t *testing.T) {
	c := New()
	raw := encodeJPEG(t, 1000, 2400)

	w, h := derivedSize(t, c, raw, Original)
	assert.Equal(t, 1600, h)
	assert.Equal(t, 667, w)
}

func TestDerive_SmallPNGIsNotEnlarged(t *testing.T) {
	c := New()
	raw := encodePNG(t, 200, 150)

	w, h := derivedSize(t, c, raw, Original)
	assert.Equal(t, 200, w)
	assert.Equal(t, 150, h)

	w, h = derivedSize(t, c, raw, Thumbnail)
	assert.Equal(t, 200, w)
	assert.Equal(t, 150, h)
}

func TestDecode_Rejects(t *testing.T) {
	c := New()

	t.Run("garbage bytes", func(t *testing.T) {
		_, err := c.Decode([]byte("definitely not an image"))
		assert.ErrorIs(t, err, models.ErrUnsupportedFormat)
	})

	t.Run("empty buffer", func(t *testing.T) {
		_, err := c.Decode(nil)
		assert.ErrorIs(t, err, models.ErrUnsupportedFormat)
	})

	t.Run("gif is not a supported source", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, gif.Encode(&buf, solid(10, 10), nil))

		_, err := c.Decode(buf.Bytes())
		assert.ErrorIs(t, err, models.ErrUnsupportedFormat)
		assert.Contains(t, err.Error(), "gif")
	})

	t.Run("truncated jpeg", func(t *testing.T) {
		raw := encodeJPEG(t, 64, 64)

		_, err := c.Decode(raw[:len(raw)/2])
		assert.Error(t, err)
	})
}

func TestResize_ExactFitIsUntouched(t *testing.T) {
	src := solid(400, 300)
	assert.Same(t, image.Image(src), Resize(src, Thumbnail))
}

// lossless4x4 is a 4x4 VP8L image filled with NRGBA{0x40, 0x80, 0x20, 0xff}.
var lossless4x4 = []byte{
	0x52, 0x49, 0x46, 0x46, 0x1c, 0x00, 0x00, 0x00, 0x57, 0x45, 0x42, 0x50,
	0x56, 0x50, 0x38, 0x4c, 0x10, 0x00, 0x00, 0x00, 0x2f, 0x03, 0xc0, 0x00,
	0x00, 0x28, 0x60, 0x81, 0x0a, 0xd2, 0xff, 0x00, 0x00, 0x00, 0x00, 0x00,
}

func TestDecode_WEBP(t *testing.T) {
	c := New()

	src, err := c.Decode(lossless4x4)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 4), src.Bounds())
	assert.Equal(t, color.NRGBA{R: 0x40, G: 0x80, B: 0x20, A: 0xff}, color.NRGBAModel.Convert(src.At(2, 2)))

	for _, spec := range []Spec{Original, Thumbnail} {
		var out bytes.Buffer
		require.NoError(t, c.Derive(&out, src, spec), spec.Name)

		cfg, format, err := image.DecodeConfig(&out)
		require.NoError(t, err)
		assert.Equal(t, "jpeg", format)
		assert.Equal(t, 4, cfg.Width)
		assert.Equal(t, 4, cfg.Height)
	}
}

// frameMarker returns the SOFn marker of a JPEG stream.
func frameMarker(t *testing.T, data []byte) byte {
	t.Helper()
	require.True(t, len(data) > 4 && data[0] == 0xff && data[1] == 0xd8, "missing SOI")

	for i := 2; i+4 <= len(data); {
		require.Equal(t, byte(0xff), data[i], "bad marker at %d", i)
		m := data[i+1]
		if m >= 0xc0 && m <= 0xcf && m != 0xc4 && m != 0xc8 && m != 0xcc {
			return m
		}
		i += 2 + int(binary.BigEndian.Uint16(data[i+2:]))
	}
	t.Fatal("no SOF marker")
	return 0
}

func TestDerive_OriginalIsProgressive(t *testing.T) {
	c := New()
	src, err := c.Decode(encodeJPEG(t, 3000, 2000))
	require.NoError(t, err)

	var original, thumb bytes.Buffer
	require.NoError(t, c.Derive(&original, src, Original))
	require.NoError(t, c.Derive(&thumb, src, Thumbnail))

	assert.Equal(t, byte(0xc2), frameMarker(t, original.Bytes()), "original should be progressive (SOF2)")
	assert.Equal(t, byte(0xc0), frameMarker(t, thumb.Bytes()), "thumbnail should be baseline (SOF0)")

	cfg, err := jpeg.DecodeConfig(&original)
	require.NoError(t, err)
	assert.Equal(t, 1600, cfg.Width)
	assert.Equal(t, 1067, cfg.Height)
}

// pngHeader returns a PNG signature and IHDR chunk declaring w x h, with no
// pixel data behind it.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 0, 17)
	ihdr = append(ihdr, "IHDR"...)
	ihdr = binary.BigEndian.AppendUint32(ihdr, w)
	ihdr = binary.BigEndian.AppendUint32(ihdr, h)
	ihdr = append(ihdr, 8, 6, 0, 0, 0) // 8-bit RGBA, no interlace

	out := []byte("\x89PNG\r\n\x1a\n")
	out = binary.BigEndian.AppendUint32(out, 13)
	out = append(out, ihdr...)
	return binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(ihdr))
}

func TestDecode_PixelLimit(t *testing.T) {
	t.Run("declared dimensions above the default limit", func(t *testing.T) {
		_, err := New().Decode(pngHeader(50000, 50000))
		assert.ErrorIs(t, err, models.ErrInvalidInput)
		assert.Contains(t, err.Error(), "50000x50000")
	})

	t.Run("configured limit", func(t *testing.T) {
		c := NewWithMaxPixels(100 * 100)

		_, err := c.Decode(encodePNG(t, 101, 100))
		assert.ErrorIs(t, err, models.ErrInvalidInput)

		_, err = c.Decode(encodePNG(t, 100, 100))
		assert.NoError(t, err)
	})
}
