package recorder

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	background  = color.RGBA{0x12, 0x12, 0x16, 0xff}
	placeholder = color.RGBA{0x2a, 0x2a, 0x33, 0xff}
	labelBox    = color.RGBA{0x00, 0x00, 0x00, 0xa0}
)

const labelPad = 4

// Grid returns the layout for n tiles: as many columns as the square root
// rounded up, and as many rows as that needs.
func Grid(n int) (cols, rows int) {
	if n <= 0 {
		return 0, 0
	}
	cols = int(math.Ceil(math.Sqrt(float64(n))))
	rows = (n + cols - 1) / cols
	return cols, rows
}

// cells splits bounds into the grid for n tiles, row by row.
func cells(bounds image.Rectangle, n int) []image.Rectangle {
	cols, rows := Grid(n)
	if n == 0 {
		return nil
	}
	w, h := bounds.Dx()/cols, bounds.Dy()/rows

	out := make([]image.Rectangle, n)
	for i := range out {
		x := bounds.Min.X + (i%cols)*w
		y := bounds.Min.Y + (i/cols)*h
		out[i] = image.Rect(x, y, x+w, y+h)
	}
	return out
}

// fit centres src's aspect ratio inside cell.
func fit(cell, src image.Rectangle) image.Rectangle {
	if src.Dx() == 0 || src.Dy() == 0 {
		return cell
	}
	w, h := cell.Dx(), cell.Dx()*src.Dy()/src.Dx()
	if h > cell.Dy() {
		w, h = cell.Dy()*src.Dx()/src.Dy(), cell.Dy()
	}
	x := cell.Min.X + (cell.Dx()-w)/2
	y := cell.Min.Y + (cell.Dy()-h)/2
	return image.Rect(x, y, x+w, y+h)
}

// drawTiles paints one composite frame and reports whether any tile had a
// picture.
func drawTiles(canvas *image.RGBA, tiles []Tile) bool {
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	var drew bool
	for i, cell := range cells(canvas.Bounds(), len(tiles)) {
		var frame image.Image
		if v := tiles[i].Video; v != nil {
			frame = v.Frame()
		}

		if frame != nil {
			xdraw.ApproxBiLinear.Scale(canvas, fit(cell, frame.Bounds()), frame, frame.Bounds(), xdraw.Src, nil)
			drew = true
		} else {
			draw.Draw(canvas, cell.Inset(2), image.NewUniform(placeholder), image.Point{}, draw.Src)
		}
		drawLabel(canvas, cell, tiles[i].Name)
	}
	return drew
}

// drawLabel writes name in the bottom-left corner of cell.
func drawLabel(canvas *image.RGBA, cell image.Rectangle, name string) {
	if name == "" {
		return
	}
	face := basicfont.Face7x13
	width := font.MeasureString(face, name).Ceil()
	height := face.Metrics().Height.Ceil()

	box := image.Rect(
		cell.Min.X+labelPad,
		cell.Max.Y-height-3*labelPad,
		cell.Min.X+width+3*labelPad,
		cell.Max.Y-labelPad,
	).Intersect(cell)
	draw.Draw(canvas, box, image.NewUniform(labelBox), image.Point{}, draw.Over)

	d := font.Drawer{
		Dst:  canvas,
		Src:  image.White,
		Face: face,
		Dot:  fixed.P(box.Min.X+labelPad, box.Max.Y-labelPad-face.Metrics().Descent.Ceil()),
	}
	d.DrawString(name)
}
