package env

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
)

// JPEGQuality matches common encoder defaults.
const JPEGQuality = 75

// Frame is a raw pixel buffer, row-major, Channels bytes per pixel
// (1 = gray, 3 = RGB, 4 = RGBA).
type Frame struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Channels int    `json:"channels"`
	Pix      []byte `json:"pix"`
}

// Image converts the buffer to an image.
func (f *Frame) Image() (image.Image, error) {
	if f == nil {
		return nil, fmt.Errorf("empty frame")
	}
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	if want := f.Width * f.Height * f.Channels; len(f.Pix) != want {
		return nil, fmt.Errorf("frame %dx%dx%d needs %d bytes, got %d", f.Width, f.Height, f.Channels, want, len(f.Pix))
	}

	rect := image.Rect(0, 0, f.Width, f.Height)
	switch f.Channels {
	case 1:
		img := image.NewGray(rect)
		copy(img.Pix, f.Pix)
		return img, nil
	case 3:
		img := image.NewRGBA(rect)
		for i, j := 0, 0; i < len(f.Pix); i, j = i+3, j+4 {
			img.Pix[j] = f.Pix[i]
			img.Pix[j+1] = f.Pix[i+1]
			img.Pix[j+2] = f.Pix[i+2]
			img.Pix[j+3] = 0xff
		}
		return img, nil
	case 4:
		img := image.NewRGBA(rect)
		copy(img.Pix, f.Pix)
		return img, nil
	default:
		return nil, fmt.Errorf("unsupported channel count %d", f.Channels)
	}
}

// EncodeFrame renders f as a base64 JPEG.
func EncodeFrame(f *Frame) (string, error) {
	img, err := f.Image()
	if err != nil {
		return "", err
	}
	return EncodeImage(img)
}

// EncodeImage renders img as a base64 JPEG.
func EncodeImage(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return "", fmt.Errorf("jpeg encode: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// FrameFromObservation converts a decoded observation array, shaped
// [height][width] or [height][width][channels] with values 0-255, into a Frame.
func FrameFromObservation(obs any) (*Frame, error) {
	rows, ok := obs.([]any)
	if !ok || len(rows) == 0 {
		return nil, fmt.Errorf("observation is not an image array")
	}
	first, ok := rows[0].([]any)
	if !ok || len(first) == 0 {
		return nil, fmt.Errorf("observation row 0 is not an array")
	}

	f := &Frame{Height: len(rows), Width: len(first), Channels: 1}
	if px, ok := first[0].([]any); ok {
		f.Channels = len(px)
	}
	f.Pix = make([]byte, 0, f.Width*f.Height*f.Channels)

	for y, r := range rows {
		row, ok := r.([]any)
		if !ok || len(row) != f.Width {
			return nil, fmt.Errorf("observation row %d has the wrong width", y)
		}
		for x, p := range row {
			if f.Channels == 1 {
				v, err := channelValue(p)
				if err != nil {
					return nil, fmt.Errorf("pixel (%d,%d): %w", x, y, err)
				}
				f.Pix = append(f.Pix, v)
				continue
			}
			px, ok := p.([]any)
			if !ok || len(px) != f.Channels {
				return nil, fmt.Errorf("pixel (%d,%d) has the wrong channel count", x, y)
			}
			for _, c := range px {
				v, err := channelValue(c)
				if err != nil {
					return nil, fmt.Errorf("pixel (%d,%d): %w", x, y, err)
				}
				f.Pix = append(f.Pix, v)
			}
		}
	}
	return f, nil
}

func channelValue(v any) (byte, error) {
	n, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("value %v is not a number", v)
	}
	if n < 0 || n > 255 {
		return 0, fmt.Errorf("value %v outside 0-255", n)
	}
	return byte(n), nil
}

// FrameFromImage copies an image into an RGB frame.
func FrameFromImage(img image.Image) *Frame {
	b := img.Bounds()
	f := &Frame{Width: b.Dx(), Height: b.Dy(), Channels: 3, Pix: make([]byte, 0, b.Dx()*b.Dy()*3)}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			f.Pix = append(f.Pix, c.R, c.G, c.B)
		}
	}
	return f
}
