// Package display drives the bonnet's SSD1306 status OLED.
package display

import (
	"image"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/devices/v3/ssd1306/image1bit"
)

// Panel shows short status lines to the operator. Implementations must
// tolerate being called from a single goroutine only.
type Panel interface {
	// WriteLines replaces the panel content. Lines beyond the panel
	// height are dropped.
	WriteLines(lines ...string) error
	Close() error
}

// Nop is a Panel for headless stations.
type Nop struct{}

// WriteLines implements Panel.
func (Nop) WriteLines(...string) error { return nil }

// Close implements Panel.
func (Nop) Close() error { return nil }

// Geometry of the bonnet OLED with the 7x13 face.
const (
	Width  = 128
	Height = 32

	// MaxLines is how many text lines fit.
	MaxLines = 2
	// MaxCols is how many characters fit per line.
	MaxCols = Width / 7

	lineHeight   = 13
	baselineOffs = 10
)

// render draws lines into a fresh 1-bit image sized for the panel.
func render(lines []string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, Width, Height))
	drawer := font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{C: image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		if i >= MaxLines {
			break
		}
		if len(line) > MaxCols {
			line = line[:MaxCols]
		}
		drawer.Dot = fixed.P(0, i*lineHeight+baselineOffs)
		drawer.DrawString(line)
	}
	return img
}
