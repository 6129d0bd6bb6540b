package av1enc

import (
	"math"
	"strings"
)

// Pattern selects the synthetic image drawn by a PatternGenerator.
type Pattern int

const (
	PatternColorBars    Pattern = iota // Eight vertical bars, scrolling
	PatternGradient                    // Horizontal luma ramp, scrolling
	PatternCheckerboard                // Alternating squares, inverting every GOP
	PatternMovingBox                   // Bright box orbiting the centre
	PatternNoise                       // Luma noise, reseeded per frame
)

func (p Pattern) String() string {
	switch p {
	case PatternColorBars:
		return "bars"
	case PatternGradient:
		return "gradient"
	case PatternCheckerboard:
		return "checkerboard"
	case PatternMovingBox:
		return "box"
	case PatternNoise:
		return "noise"
	default:
		return "Unknown"
	}
}

// ParsePattern parses a pattern name as printed by Pattern.String.
func ParsePattern(s string) (Pattern, bool) {
	switch strings.ToLower(s) {
	case "", "bars":
		return PatternColorBars, true
	case "gradient":
		return PatternGradient, true
	case "checkerboard":
		return PatternCheckerboard, true
	case "box":
		return PatternMovingBox, true
	case "noise":
		return PatternNoise, true
	default:
		return PatternColorBars, false
	}
}

// 75% color bars
var colorBarsRGB = [8][3]uint8{
	{192, 192, 192},
	{192, 192, 0},
	{0, 192, 192},
	{0, 192, 0},
	{192, 0, 192},
	{192, 0, 0},
	{0, 0, 192},
	{16, 16, 16},
}

// PatternGenerator renders deterministic I420 frames: the same index always
// yields the same bytes.
type PatternGenerator struct {
	width   int
	height  int
	pattern Pattern
	checker int

	bars [8][3]uint8 // Y, U, V per bar
}

// NewPatternGenerator creates a generator for the given dimensions.
func NewPatternGenerator(width, height int, pattern Pattern) *PatternGenerator {
	g := &PatternGenerator{
		width:   width,
		height:  height,
		pattern: pattern,
		checker: max(min(width, height)/8, 2) &^ 1,
	}
	for i, rgb := range colorBarsRGB {
		y, u, v := rgbToYUV(rgb[0], rgb[1], rgb[2])
		g.bars[i] = [3]uint8{y, u, v}
	}
	return g
}

// Render draws frame index into buf, which must hold I420Size bytes.
func (g *PatternGenerator) Render(index int, buf []byte) {
	w, h := g.width, g.height
	ySize := w * h
	uvSize := ySize / 4
	yPlane := buf[:ySize]
	uPlane := buf[ySize : ySize+uvSize]
	vPlane := buf[ySize+uvSize : ySize+2*uvSize]

	switch g.pattern {
	case PatternGradient:
		shift := index * 4
		for y := 0; y < h; y++ {
			row := yPlane[y*w : (y+1)*w]
			for x := range row {
				row[x] = uint8(((x + shift) % w) * 255 / w)
			}
		}
		fill(uPlane, 128)
		fill(vPlane, 128)

	case PatternCheckerboard:
		invert := (index/DefaultGOP)%2 == 1
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				white := ((x/g.checker)+(y/g.checker))%2 == 0
				if white != invert {
					yPlane[y*w+x] = 235
				} else {
					yPlane[y*w+x] = 16
				}
			}
		}
		fill(uPlane, 128)
		fill(vPlane, 128)

	case PatternMovingBox:
		fill(yPlane, 16)
		fill(uPlane, 128)
		fill(vPlane, 128)

		size := max(min(w, h)/5, 2)
		radius := float64(min(w, h)) / 4
		angle := float64(index) * 0.05
		bx := w/2 + int(radius*math.Cos(angle)) - size/2
		by := h/2 + int(radius*math.Sin(angle)) - size/2
		for y := max(by, 0); y < min(by+size, h); y++ {
			for x := max(bx, 0); x < min(bx+size, w); x++ {
				yPlane[y*w+x] = 235
			}
		}

	case PatternNoise:
		// xorshift64, seeded per frame
		state := uint64(index)*0x9E3779B97F4A7C15 + 1
		for i := range yPlane {
			state ^= state << 13
			state ^= state >> 7
			state ^= state << 17
			yPlane[i] = uint8(state)
		}
		fill(uPlane, 128)
		fill(vPlane, 128)

	default:
		barWidth := max(w/8, 1)
		shift := index * 2
		cw := w / 2
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				bar := min(((x+shift)%w)/barWidth, 7)
				yPlane[y*w+x] = g.bars[bar][0]
				if x%2 == 0 && y%2 == 0 {
					uPlane[(y/2)*cw+x/2] = g.bars[bar][1]
					vPlane[(y/2)*cw+x/2] = g.bars[bar][2]
				}
			}
		}
	}
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// rgbToYUV converts RGB to studio-range YUV (BT.601).
func rgbToYUV(r, g, b uint8) (y, u, v uint8) {
	yf := 16.0 + 65.481*float64(r)/255.0 + 128.553*float64(g)/255.0 + 24.966*float64(b)/255.0
	uf := 128.0 - 37.797*float64(r)/255.0 - 74.203*float64(g)/255.0 + 112.0*float64(b)/255.0
	vf := 128.0 + 112.0*float64(r)/255.0 - 93.786*float64(g)/255.0 - 18.214*float64(b)/255.0

	y = uint8(math.Max(16, math.Min(235, yf)))
	u = uint8(math.Max(16, math.Min(240, uf)))
	v = uint8(math.Max(16, math.Min(240, vf)))
	return
}
