// Package frame turns data-URL encoded video frames into decoded images and
// OpenCV matrices.
package frame

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"strings"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/webp" // Register WebP format decoder
)

var (
	// ErrMalformedDataURL is returned when a data URL has no comma separating
	// the header from the payload.
	ErrMalformedDataURL = errors.New("malformed data URL")

	// ErrBase64 is returned when the payload is not valid base64.
	ErrBase64 = errors.New("invalid base64 payload")

	// ErrImageDecode is returned when the bytes are not a supported image.
	ErrImageDecode = errors.New("unsupported or corrupt image")
)

// Payload returns the part of a data URL after the first comma.
// The header ("data:image/jpeg;base64") is discarded without inspection.
func Payload(dataURL string) (string, error) {
	_, payload, found := strings.Cut(dataURL, ",")
	if !found {
		return "", ErrMalformedDataURL
	}
	return payload, nil
}

// DecodeBase64 decodes a standard, padded base64 payload. Whitespace and line
// breaks inside the payload are ignored.
func DecodeBase64(payload string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, payload)

	data, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBase64, err)
	}
	return data, nil
}

// DecodeImage decodes JPEG, PNG, GIF, WebP or BMP bytes, applying any EXIF
// orientation tag.
func DecodeImage(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}

	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrImageDecode)
	}

	return img, nil
}

// Fit downscales img so neither side exceeds maxSide, preserving the aspect
// ratio. Images that already fit, and maxSide <= 0, are returned unchanged.
// Normalized box coordinates are unaffected by this scaling.
func Fit(img image.Image, maxSide int) image.Image {
	if maxSide <= 0 {
		return img
	}

	bounds := img.Bounds()
	if bounds.Dx() <= maxSide && bounds.Dy() <= maxSide {
		return img
	}

	return imaging.Fit(img, maxSide, maxSide, imaging.Linear)
}

// ToMat converts img into a BGR gocv.Mat. The caller must Close the result.
func ToMat(img image.Image) (gocv.Mat, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("convert image to mat: %w", err)
	}
	if mat.Empty() {
		mat.Close()
		return gocv.NewMat(), fmt.Errorf("convert image to mat: empty result")
	}
	return mat, nil
}
