package media

import (
	"bytes"
	"fmt"
	"image"
	"log"

	"github.com/camden-git/scamqc/geometry"
	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
)

// Processor decodes, orients and re-encodes cached thumbnails. It relies on a
// Store implementation for saving them.
type Processor struct {
	store Store
}

func NewProcessor(store Store) *Processor {
	return &Processor{store: store}
}

// ExifOrientation returns the EXIF orientation tag of an encoded image, or 1
// when the image carries none
func ExifOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	o, err := tag.Int(0)
	if err != nil || o < 1 || o > 8 {
		return 1
	}
	return o
}

// applyOrientation undoes an EXIF orientation so the image displays upright
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	}
	return img
}

// rotateClockwise turns img by a multiple of 90 degrees clockwise. imaging
// rotates counter-clockwise.
func rotateClockwise(img image.Image, rotation int) image.Image {
	switch geometry.NormalizeRotation(rotation) {
	case 90:
		return imaging.Rotate270(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate90(img)
	}
	return img
}

// Dimensions returns the upright size of an encoded image
func Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to decode image config: %w", err)
	}
	if o := ExifOrientation(data); o >= 5 {
		return cfg.Height, cfg.Width, nil
	}
	return cfg.Width, cfg.Height, nil
}

// SaveThumbnail stores raw thumbnail bytes under a random name and returns the
// relative path with the upright dimensions
func (p *Processor) SaveThumbnail(data []byte) (string, int, int, error) {
	w, h, err := Dimensions(data)
	if err != nil {
		return "", 0, 0, err
	}
	relPath, err := p.store.Save(AssetTypeThumbnail, "", ThumbnailFileExtension, bytes.NewReader(data))
	if err != nil {
		return "", 0, 0, fmt.Errorf("failed to save thumbnail via store: %w", err)
	}
	return relPath, w, h, nil
}

// Render decodes a thumbnail, applies its EXIF orientation, turns it
// clockwise by rotation and encodes it as JPEG
func (p *Processor) Render(data []byte, rotation int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode thumbnail: %w", err)
	}
	img = rotateClockwise(applyOrientation(img, ExifOrientation(data)), rotation)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(RenderJpegQuality)); err != nil {
		log.Printf("processor: Failed to encode thumbnail: %v", err)
		return nil, fmt.Errorf("thumbnail encoding failed: %w", err)
	}
	return buf.Bytes(), nil
}
