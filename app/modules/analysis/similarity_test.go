package analysis

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeGradient(t *testing.T, invert bool) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 128, 128))
	for y := 0; y < 128; y++ {
		for x := 0; x < 128; x++ {
			v := uint8(2 * x)
			if invert {
				v = 255 - v
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestSimilarity(t *testing.T) {
	gradient := encodeGradient(t, false)
	inverted := encodeGradient(t, true)

	tests := []struct {
		name    string
		a, b    []byte
		check   func(t *testing.T, got float64)
		wantErr bool
	}{
		{
			name: "identical images",
			a:    gradient,
			b:    gradient,
			check: func(t *testing.T, got float64) {
				assert.InDelta(t, 1.0, got, 0.01)
			},
		},
		{
			name: "inverted image scores low",
			a:    gradient,
			b:    inverted,
			check: func(t *testing.T, got float64) {
				assert.Less(t, got, 0.5)
				assert.GreaterOrEqual(t, got, 0.0)
			},
		},
		{
			name:    "empty payload",
			a:       gradient,
			b:       nil,
			wantErr: true,
		},
		{
			name:    "not an image",
			a:       []byte("definitely not a png"),
			b:       gradient,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Similarity(tt.a, tt.b)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, got)
		})
	}
}
