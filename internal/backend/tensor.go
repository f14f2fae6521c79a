package backend

import (
	"image"
	"image/draw"
)

// windowSize is the multiple Swin2SR inputs are padded to
const windowSize = 8

// padTo rounds n up to a multiple of m
func padTo(n, m int) int {
	if r := n % m; r != 0 {
		return n + m - r
	}
	return n
}

// ImageToCHW converts img into a 1x3xHxW float32 tensor in [0,1]. The tensor is
// padW x padH; the padding replicates the last row and column.
func ImageToCHW(img image.Image, padW, padH int, pool *WorkerPool) []float32 {
	b := img.Bounds()
	src, ok := img.(*image.NRGBA)
	if !ok {
		src = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(src, src.Bounds(), img, b.Min, draw.Src)
	}
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	plane := padW * padH
	data := make([]float32, 3*plane)

	pool.ForEachBand(padH, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			sy := min(y, h-1)
			row := src.Pix[sy*src.Stride:]
			for x := 0; x < padW; x++ {
				sx := min(x, w-1)
				p := row[sx*4:]
				i := y*padW + x
				data[i] = float32(p[0]) / 255
				data[plane+i] = float32(p[1]) / 255
				data[2*plane+i] = float32(p[2]) / 255
			}
		}
	})
	return data
}

// CHWToImage converts a 1x3xHxW tensor into an image, keeping only the top-left w x h region
func CHWToImage(data []float32, tensorW, tensorH, w, h int, pool *WorkerPool) *image.NRGBA {
	w, h = min(w, tensorW), min(h, tensorH)
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	plane := tensorW * tensorH

	pool.ForEachBand(h, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			row := out.Pix[y*out.Stride:]
			for x := 0; x < w; x++ {
				i := y*tensorW + x
				p := row[x*4:]
				p[0] = toByte(data[i])
				p[1] = toByte(data[plane+i])
				p[2] = toByte(data[2*plane+i])
				p[3] = 255
			}
		}
	})
	return out
}

func toByte(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 255
	default:
		return uint8(v*255 + 0.5)
	}
}
