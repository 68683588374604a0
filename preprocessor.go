package ocrsession

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
)

type PreprocessorKind int

const (
	PreprocessorNone = PreprocessorKind(iota)
	PreprocessorBasic
	PreprocessorAdvanced
)

const (
	// minimum working dimension for recognition; smaller images get upscaled
	minWorkingDim = 300
	// never upscale by less than this factor once upscaling is needed
	upscaleFloorFactor = 1.5
	// contrast boost in percent, roughly doubles the dynamic range
	contrastBoost = 100.0
	sharpenSigma  = 2.0
	// global binarization cut for the basic variant
	binarizeThreshold = uint8(160)
	// window for the locally varying threshold in the advanced variant
	adaptiveWindow = 15
	adaptiveBias   = 10
)

func (p PreprocessorKind) String() string {
	switch p {
	case PreprocessorNone:
		return "none"
	case PreprocessorBasic:
		return "basic"
	case PreprocessorAdvanced:
		return "advanced"
	}
	return ""
}

func (p *PreprocessorKind) UnmarshalJSON(b []byte) (err error) {

	var kindStr string

	if err := json.Unmarshal(b, &kindStr); err == nil {
		switch strings.ToLower(kindStr) {
		case "none", "":
			*p = PreprocessorNone
		case "basic":
			*p = PreprocessorBasic
		case "advanced":
			*p = PreprocessorAdvanced
		default:
			log.Warn().Str("kindString", kindStr).Msg("Unexpected PreprocessorKind json")
			*p = PreprocessorNone
		}
		return nil
	}

	// not a string .. maybe it's an int

	var kindInt int
	if err := json.Unmarshal(b, &kindInt); err == nil {
		*p = PreprocessorKind(kindInt)
		return nil
	} else {
		return err
	}

}

// ParsePreprocessorKind maps a request string to a kind, falling back
// to none for anything it does not know.
func ParsePreprocessorKind(s string) PreprocessorKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "basic":
		return PreprocessorBasic
	case "advanced":
		return PreprocessorAdvanced
	}
	return PreprocessorNone
}

// Preprocess produces the requested variant of the input image as PNG
// bytes. The none kind passes the bytes through untouched without
// decoding them. Errors are returned to the caller, which is expected
// to fall back to the untouched bytes so a corrupt image still yields
// an attempt.
func Preprocess(imgBytes []byte, kind PreprocessorKind) ([]byte, error) {

	if kind == PreprocessorNone {
		return imgBytes, nil
	}

	img, _, err := image.Decode(bytes.NewReader(imgBytes))
	if err != nil {
		return nil, err
	}

	switch kind {
	case PreprocessorBasic:
		img = applyBasic(img)
	case PreprocessorAdvanced:
		img = applyAdvanced(img)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// applyBasic is the single-channel, upscale, enhance, hard-threshold
// variant.
func applyBasic(img image.Image) *image.NRGBA {
	out := imaging.Grayscale(img)
	out = upscaleToWorkingSize(out)
	out = imaging.AdjustContrast(out, contrastBoost)
	out = imaging.Sharpen(out, sharpenSigma)
	return threshold(out, binarizeThreshold)
}

// applyAdvanced additionally rotates the image upright, denoises and
// uses a locally varying threshold plus a light open-then-close to
// remove speckle and reconnect broken strokes.
func applyAdvanced(img image.Image) *image.NRGBA {
	out := imaging.Grayscale(img)
	out = rotateUpright(out)
	out = upscaleToWorkingSize(out)
	out = imaging.AdjustContrast(out, contrastBoost)
	out = imaging.Blur(out, 0.8)
	out = adaptiveThreshold(out, adaptiveWindow, adaptiveBias)
	// open then close
	out = dilate(erode(out))
	return erode(dilate(out))
}

func upscaleToWorkingSize(img *image.NRGBA) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w >= minWorkingDim && h >= minWorkingDim {
		return img
	}
	factor := math.Max(float64(minWorkingDim)/float64(w), float64(minWorkingDim)/float64(h))
	if factor < upscaleFloorFactor {
		factor = upscaleFloorFactor
	}
	return imaging.Resize(img, int(float64(w)*factor), int(float64(h)*factor), imaging.Lanczos)
}

// threshold applies a hard black/white cut. The image is already
// grayscale, so the red channel is enough as a brightness proxy.
func threshold(img *image.NRGBA, cut uint8) *image.NRGBA {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		if c.R > cut {
			return color.NRGBA{R: 255, G: 255, B: 255, A: 255}
		}
		return color.NRGBA{R: 0, G: 0, B: 0, A: 255}
	})
}

// rotateUpright tries the four page rotations and keeps the one whose
// horizontal intensity profile varies the most, which is where text
// lines alternate with the gaps between them. A 180 degree flip scores
// the same as upright and is left alone; the recognition engine copes
// with those on its own.
func rotateUpright(img *image.NRGBA) *image.NRGBA {
	best := img
	bestScore := rowProfileVariance(img)

	for _, rotated := range []*image.NRGBA{
		imaging.Rotate90(img),
		imaging.Rotate180(img),
		imaging.Rotate270(img),
	} {
		if score := rowProfileVariance(rotated); score > bestScore {
			best = rotated
			bestScore = score
		}
	}
	return best
}

func rowProfileVariance(img *image.NRGBA) float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return 0
	}

	rows := make([]float64, h)
	var total float64
	for y := 0; y < h; y++ {
		var sum int
		for x := 0; x < w; x++ {
			sum += int(img.Pix[img.PixOffset(b.Min.X+x, b.Min.Y+y)])
		}
		rows[y] = float64(sum) / float64(w)
		total += rows[y]
	}

	mean := total / float64(h)
	var variance float64
	for _, v := range rows {
		variance += (v - mean) * (v - mean)
	}
	return variance / float64(h)
}

// adaptiveThreshold binarizes against the mean of a window around each
// pixel, computed over an integral image so the window size does not
// matter for cost.
func adaptiveThreshold(img *image.NRGBA, window, bias int) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := imaging.Clone(img)
	if w == 0 || h == 0 {
		return out
	}

	integral := make([]uint64, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := uint64(img.Pix[img.PixOffset(b.Min.X+x, b.Min.Y+y)])
			integral[(y+1)*(w+1)+x+1] = px +
				integral[y*(w+1)+x+1] +
				integral[(y+1)*(w+1)+x] -
				integral[y*(w+1)+x]
		}
	}

	half := window / 2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			x0, y0 := maxInt(0, x-half), maxInt(0, y-half)
			x1, y1 := minInt(w-1, x+half), minInt(h-1, y+half)
			area := uint64((x1 - x0 + 1) * (y1 - y0 + 1))
			sum := integral[(y1+1)*(w+1)+x1+1] -
				integral[y0*(w+1)+x1+1] -
				integral[(y1+1)*(w+1)+x0] +
				integral[y0*(w+1)+x0]
			localMean := sum / area

			off := out.PixOffset(x, y)
			var v uint8
			if uint64(img.Pix[img.PixOffset(b.Min.X+x, b.Min.Y+y)])+uint64(bias) > localMean {
				v = 255
			}
			out.Pix[off] = v
			out.Pix[off+1] = v
			out.Pix[off+2] = v
			out.Pix[off+3] = 255
		}
	}
	return out
}

func erode(img *image.NRGBA) *image.NRGBA { return morph3x3(img, true) }

func dilate(img *image.NRGBA) *image.NRGBA { return morph3x3(img, false) }

// morph3x3 runs a 3x3 min (erode) or max (dilate) filter over the
// binarized image.
func morph3x3(img *image.NRGBA, minimum bool) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := imaging.Clone(img)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var v uint8
			if minimum {
				v = 255
			}
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					px := img.Pix[img.PixOffset(b.Min.X+nx, b.Min.Y+ny)]
					if minimum {
						if px < v {
							v = px
						}
					} else if px > v {
						v = px
					}
				}
			}
			off := out.PixOffset(x, y)
			out.Pix[off] = v
			out.Pix[off+1] = v
			out.Pix[off+2] = v
			out.Pix[off+3] = 255
		}
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
