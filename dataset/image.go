package dataset

import (
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"

	xdraw "golang.org/x/image/draw"

	"faststyle/tensor"
)

// LoadImage decodes an image file into a [1, H, W, 3] float32 tensor with
// pixel values in [0, 255].
func LoadImage(path string) (*tensor.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %v", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %v", err)
	}
	return tensorFromImage(img)
}

// LoadImageSized decodes an image file and center-crops or zero-pads it to a
// size x size square, without scaling.
func LoadImageSized(path string, size int) (*tensor.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %v", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %v", err)
	}
	return tensorFromImage(cropOrPad(img, size))
}

// LoadImageScaled decodes an image file and, when its longer side exceeds
// maxDim, scales it down bilinearly to fit. Useful for large reference
// style images.
func LoadImageScaled(path string, maxDim int) (*tensor.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %v", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %v", err)
	}

	bounds := img.Bounds()
	longest := bounds.Dx()
	if bounds.Dy() > longest {
		longest = bounds.Dy()
	}
	if maxDim > 0 && longest > maxDim {
		scale := float64(maxDim) / float64(longest)
		dst := image.NewNRGBA(image.Rect(0, 0,
			int(float64(bounds.Dx())*scale), int(float64(bounds.Dy())*scale)))
		xdraw.BiLinear.Scale(dst, dst.Bounds(), img, bounds, xdraw.Over, nil)
		img = dst
	}
	return tensorFromImage(img)
}

// cropOrPad centers the image on a size x size canvas: larger images are
// center-cropped, smaller ones padded with black.
func cropOrPad(img image.Image, size int) image.Image {
	bounds := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, size, size))

	// Offsets are negative when cropping, positive when padding.
	offX := (size - bounds.Dx()) / 2
	offY := (size - bounds.Dy()) / 2

	target := image.Rect(offX, offY, offX+bounds.Dx(), offY+bounds.Dy())
	draw.Draw(dst, target, img, bounds.Min, draw.Src)
	return dst
}

func tensorFromImage(img image.Image) (*tensor.Tensor, error) {
	bounds := img.Bounds()
	h, w := bounds.Dy(), bounds.Dx()
	if h == 0 || w == 0 {
		return nil, fmt.Errorf("image is empty")
	}

	data := make([]float32, h*w*3)
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			data[i] = float32(r >> 8)
			data[i+1] = float32(g >> 8)
			data[i+2] = float32(b >> 8)
			i += 3
		}
	}
	return tensor.New([]int{1, h, w, 3}, data)
}
