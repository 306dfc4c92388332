package analysis

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
)

const sampleSize = 128

// Similarity compares two encoded images (PNG or JPEG) and returns a value in
// [0,1]: the mean of grayscale histogram correlation and global SSIM.
func Similarity(a, b []byte) (float64, error) {
	ga, err := decodeGray(a)
	if err != nil {
		return 0, fmt.Errorf("decode original image: %w", err)
	}
	gb, err := decodeGray(b)
	if err != nil {
		return 0, fmt.Errorf("decode regenerated image: %w", err)
	}

	corr := histogramCorrelation(ga, gb)
	ssim := globalSSIM(ga, gb)
	return clamp01((corr + ssim) / 2), nil
}

// decodeGray decodes data and samples it onto a fixed grid of luminance values.
func decodeGray(data []byte) ([]float64, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, ErrEmptyImage
	}

	out := make([]float64, sampleSize*sampleSize)
	for y := 0; y < sampleSize; y++ {
		sy := bounds.Min.Y + y*h/sampleSize
		for x := 0; x < sampleSize; x++ {
			sx := bounds.Min.X + x*w/sampleSize
			r, g, b, _ := img.At(sx, sy).RGBA()
			// ITU-R 601 luma on 16-bit channels, scaled to 0..255.
			lum := (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 257
			out[y*sampleSize+x] = lum
		}
	}
	return out, nil
}

func histogramCorrelation(a, b []float64) float64 {
	var ha, hb [256]float64
	for _, v := range a {
		ha[bin(v)]++
	}
	for _, v := range b {
		hb[bin(v)]++
	}

	meanA, meanB := 0.0, 0.0
	for i := range ha {
		meanA += ha[i]
		meanB += hb[i]
	}
	meanA /= 256
	meanB /= 256

	var num, da, db float64
	for i := range ha {
		x, y := ha[i]-meanA, hb[i]-meanB
		num += x * y
		da += x * x
		db += y * y
	}
	if da == 0 || db == 0 {
		if ha == hb {
			return 1
		}
		return 0
	}
	return num / math.Sqrt(da*db)
}

func globalSSIM(a, b []float64) float64 {
	const (
		c1 = (0.01 * 255) * (0.01 * 255)
		c2 = (0.03 * 255) * (0.03 * 255)
	)
	n := float64(len(a))

	var muA, muB float64
	for i := range a {
		muA += a[i]
		muB += b[i]
	}
	muA /= n
	muB /= n

	var varA, varB, cov float64
	for i := range a {
		x, y := a[i]-muA, b[i]-muB
		varA += x * x
		varB += y * y
		cov += x * y
	}
	varA /= n - 1
	varB /= n - 1
	cov /= n - 1

	return ((2*muA*muB + c1) * (2*cov + c2)) / ((muA*muA + muB*muB + c1) * (varA + varB + c2))
}

func bin(v float64) int {
	i := int(v)
	if i < 0 {
		return 0
	}
	if i > 255 {
		return 255
	}
	return i
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
