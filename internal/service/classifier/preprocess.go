package classifier

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
)

// DecodeImage decodes JPEG or PNG bytes.
func DecodeImage(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	return img, format, nil
}

// Preprocess converts an image to the float tensor expected by the model:
// resized to ImageSize x ImageSize, RGB scaled to [0,1], laid out per meta.Layout.
func Preprocess(img image.Image, meta Metadata) []float32 {
	size := uint(meta.ImageSize)
	resized := resize.Resize(size, size, img, resize.NearestNeighbor)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height
	input := make([]float32, 3*plane)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			// RGBA() is 16-bit; >>8 gives the 0..255 value the model was trained on.
			rNorm := float32(r>>8) / 255.0
			gNorm := float32(g>>8) / 255.0
			bNorm := float32(b>>8) / 255.0

			pixel := y*width + x
			if meta.Layout == LayoutNCHW {
				input[pixel] = rNorm
				input[plane+pixel] = gNorm
				input[2*plane+pixel] = bNorm
			} else {
				input[3*pixel] = rNorm
				input[3*pixel+1] = gNorm
				input[3*pixel+2] = bNorm
			}
		}
	}

	return input
}
