// Package source draws synthetic test frames for demo producers.
package source

import (
	"fmt"
	"math/rand/v2"
	"slices"
)

// Pattern names accepted in channel configuration.
const (
	PatternGradient = "gradient"
	PatternBars     = "bars"
	PatternNoise    = "noise"
	PatternSolid    = "solid"
)

var patterns = []string{PatternBars, PatternGradient, PatternNoise, PatternSolid}

// Patterns returns the known pattern names in sorted order.
func Patterns() []string {
	return slices.Clone(patterns)
}

// IsPattern reports whether name is a known pattern.
func IsPattern(name string) bool {
	return slices.Contains(patterns, name)
}

// Generator fills frame buffers with a pattern that moves every frame, so a
// consumer can tell consecutive frames apart.
type Generator struct {
	pattern string
	width   int
	height  int
	depth   int
	frame   uint64
	rng     *rand.Rand
	buf     []byte
}

// NewGenerator returns a generator for width*height*depth frames.
func NewGenerator(pattern string, width, height, depth int) (*Generator, error) {
	if !IsPattern(pattern) {
		return nil, fmt.Errorf("unknown pattern %q", pattern)
	}
	if width <= 0 || height <= 0 || depth <= 0 {
		return nil, fmt.Errorf("invalid shape %dx%dx%d", width, height, depth)
	}
	return &Generator{
		pattern: pattern,
		width:   width,
		height:  height,
		depth:   depth,
		rng:     rand.New(rand.NewPCG(uint64(width), uint64(height))),
		buf:     make([]byte, width*height*depth),
	}, nil
}

// Shape returns the frame geometry.
func (g *Generator) Shape() (width, height, depth int) {
	return g.width, g.height, g.depth
}

// Frame returns the frame counter of the next call to Next.
func (g *Generator) Frame() uint64 {
	return g.frame
}

// Next draws the next frame into the generator's buffer and returns it. The
// buffer is reused by the following call.
func (g *Generator) Next() []byte {
	g.Fill(g.buf, g.frame)
	g.frame++
	return g.buf
}

// Fill draws frame n into dst, which must hold at least width*height*depth
// bytes.
func (g *Generator) Fill(dst []byte, n uint64) {
	shift := int(n % 256)
	switch g.pattern {
	case PatternSolid:
		v := byte(shift)
		for i := range dst[:len(g.buf)] {
			dst[i] = v
		}
	case PatternNoise:
		for i := range dst[:len(g.buf)] {
			dst[i] = byte(g.rng.Uint32())
		}
	case PatternBars:
		barWidth := max(g.width/8, 1)
		for y := range g.height {
			for x := range g.width {
				bar := ((x + shift) / barWidth) % 8
				g.pixel(dst, x, y, byte(bar*32))
			}
		}
	default:
		for y := range g.height {
			for x := range g.width {
				g.pixel(dst, x, y, byte(x+y+shift))
			}
		}
	}
}

func (g *Generator) pixel(dst []byte, x, y int, v byte) {
	off := (y*g.width + x) * g.depth
	for c := range g.depth {
		dst[off+c] = v + byte(c*85)
	}
}
