package pipeline

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/divyadrishti/detection-engine/models"
)

var font *truetype.Font

func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Style of the detection marker.
type Style struct {
	Color           color.Color
	LabelBackground color.Color
	LineWidth       float64
	CornerLength    float64
	CornerWidth     float64
	FontSize        float64
}

// DefaultStyle draws grey boxes with corner accents over a black label plate.
func DefaultStyle() Style {
	return Style{
		Color:           color.RGBA{R: 128, G: 128, B: 128, A: 255},
		LabelBackground: color.RGBA{A: 255},
		LineWidth:       2,
		CornerLength:    20,
		CornerWidth:     3,
		FontSize:        14,
	}
}

// Label is the text drawn above a detection.
func Label(d models.Detection) string {
	return fmt.Sprintf("%s %.2f%%", d.ClassName, d.Confidence*100)
}

// annotate draws every detection onto a copy of frame. The copy keeps the
// bounds of frame.
func annotate(frame image.Image, dets []models.Detection, style Style) image.Image {
	bounds := frame.Bounds()
	dc := gg.NewContextForImage(frame)
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: style.FontSize}))
	for _, d := range dets {
		// the context canvas starts at (0,0)
		drawDetection(dc, d.Box.Translate(-float64(bounds.Min.X), -float64(bounds.Min.Y)), Label(d), style)
	}

	out, ok := dc.Image().(*image.RGBA)
	if !ok || bounds.Min == (image.Point{}) {
		return dc.Image()
	}
	shifted := *out
	shifted.Rect = bounds
	return &shifted
}

func drawDetection(dc *gg.Context, box models.Box, label string, style Style) {
	x1, y1, x2, y2 := box.X1, box.Y1, box.X2, box.Y2

	dc.SetColor(style.Color)
	dc.SetLineWidth(style.LineWidth)
	dc.DrawRectangle(x1, y1, x2-x1, y2-y1)
	dc.Stroke()

	cl := style.CornerLength
	dc.SetLineWidth(style.CornerWidth)
	for _, seg := range [][4]float64{
		{x1, y1, x1 + cl, y1}, {x1, y1, x1, y1 + cl},
		{x2, y1, x2 - cl, y1}, {x2, y1, x2, y1 + cl},
		{x1, y2, x1 + cl, y2}, {x1, y2, x1, y2 - cl},
		{x2, y2, x2 - cl, y2}, {x2, y2, x2, y2 - cl},
	} {
		dc.DrawLine(seg[0], seg[1], seg[2], seg[3])
		dc.Stroke()
	}

	w, h := dc.MeasureString(label)
	top := y1 - h - 10
	if top < 0 {
		top = y1
	}

	dc.SetColor(style.LabelBackground)
	dc.DrawRectangle(x1, top, w+10, h+10)
	dc.Fill()

	dc.SetColor(style.Color)
	dc.SetLineWidth(1)
	dc.DrawRectangle(x1, top, w+10, h+10)
	dc.Stroke()

	dc.DrawStringAnchored(label, x1+5, top+5+h/2, 0, 0.5)
}
