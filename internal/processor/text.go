package processor

import (
	"image"
	"image/color"
	"image/draw"
	"strings"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	overlayPadding = 4
	lineSpacing    = 4
)

var (
	placeholderBackground = color.NRGBA{R: 0x19, G: 0x23, B: 0x2d, A: 0xff}
	placeholderBorder     = color.NRGBA{R: 0xa4, G: 0xa4, B: 0xa4, A: 0xff}
)

// drawTimestamp paints the capture time in a black box at the top-right corner
func drawTimestamp(img draw.Image, at time.Time) {
	if at.IsZero() {
		return
	}
	label := at.Format("15:04:05")
	face := basicfont.Face7x13

	textW := font.MeasureString(face, label).Ceil()
	textH := face.Metrics().Height.Ceil()
	bounds := img.Bounds()

	box := image.Rect(
		bounds.Max.X-textW-2*overlayPadding, bounds.Min.Y,
		bounds.Max.X, bounds.Min.Y+textH+2*overlayPadding,
	).Intersect(bounds)
	if box.Empty() {
		return
	}
	draw.Draw(img, box, image.Black, image.Point{}, draw.Src)
	drawString(img, label, box.Min.X+overlayPadding, box.Min.Y+overlayPadding+face.Metrics().Ascent.Ceil(), color.White)
}

// RenderPlaceholder draws text centered on a plain background of the given size.
// Lines are separated by '\n'.
func RenderPlaceholder(width, height int, text string) *image.NRGBA {
	if width <= 0 || height <= 0 {
		width, height = 320, 240
	}
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(placeholderBackground), image.Point{}, draw.Src)
	drawBorder(img, placeholderBorder, 3)

	face := basicfont.Face7x13
	lines := strings.Split(text, "\n")
	lineH := face.Metrics().Height.Ceil() + lineSpacing
	y := (height-lineH*len(lines))/2 + face.Metrics().Ascent.Ceil()

	for _, line := range lines {
		w := font.MeasureString(face, line).Ceil()
		drawString(img, line, (width-w)/2, y, color.White)
		y += lineH
	}
	return img
}

func drawString(img draw.Image, s string, x, baseline int, col color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, baseline),
	}
	d.DrawString(s)
}

func drawBorder(img draw.Image, col color.Color, thickness int) {
	b := img.Bounds()
	src := image.NewUniform(col)
	edges := []image.Rectangle{
		image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+thickness),
		image.Rect(b.Min.X, b.Max.Y-thickness, b.Max.X, b.Max.Y),
		image.Rect(b.Min.X, b.Min.Y, b.Min.X+thickness, b.Max.Y),
		image.Rect(b.Max.X-thickness, b.Min.Y, b.Max.X, b.Max.Y),
	}
	for _, r := range edges {
		draw.Draw(img, r.Intersect(b), src, image.Point{}, draw.Src)
	}
}
