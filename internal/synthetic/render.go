package synthetic

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"math"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	frameWidth  = 640
	frameHeight = 480
	jpegQuality = 80
	lineWidth   = 3
	swayPixels  = 5.0
)

// Footer captions
const (
	CaptionFallback = "Backend not connected"
	CaptionDemo     = "Demo session"
)

var (
	background = color.RGBA{0x1a, 0x1a, 0x1a, 0xff}
	skeleton   = color.RGBA{0x00, 0xff, 0x00, 0xff}
)

type point struct{ x, y float64 }

// Stick figure joints, connected in the order listed per limb.
var limbs = [][]point{
	{{320, 120}, {320, 300}},             // spine
	{{320, 160}, {280, 200}, {260, 240}}, // left arm
	{{320, 160}, {360, 200}, {380, 240}}, // right arm
	{{320, 300}, {300, 380}, {290, 460}}, // left leg
	{{320, 300}, {340, 380}, {350, 460}}, // right leg
}

// Renderer draws the placeholder skeleton frame.
type Renderer struct {
	footer string
	face   font.Face
}

// NewRenderer returns a Renderer printing footer at the bottom of each frame.
func NewRenderer(footer string) *Renderer {
	return &Renderer{footer: footer, face: basicfont.Face7x13}
}

// Render draws one 640x480 JPEG frame. elapsed drives a slow sway of the
// figure so consecutive frames differ.
func (r *Renderer) Render(score float64, elapsed time.Duration) []byte {
	img := image.NewRGBA(image.Rect(0, 0, frameWidth, frameHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: background}, image.Point{}, draw.Src)

	offset := math.Sin(elapsed.Seconds()) * swayPixels

	drawCircle(img, 320+offset, 100, 20, skeleton)
	for _, limb := range limbs {
		for i := 1; i < len(limb); i++ {
			drawLine(img,
				point{limb[i-1].x + offset, limb[i-1].y},
				point{limb[i].x + offset, limb[i].y},
				skeleton)
		}
	}

	r.text(img, 10, 30, "Simulation mode - pose tracking")
	r.text(img, 10, 60, fmt.Sprintf("Score: %d", int(math.Round(score))))
	r.text(img, 10, 450, r.footer)

	var buf bytes.Buffer
	// Encoding into memory cannot fail for an RGBA image.
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	return buf.Bytes()
}

func (r *Renderer) text(img draw.Image, x, y int, s string) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(skeleton),
		Face: r.face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func drawLine(img *image.RGBA, a, b point, c color.Color) {
	steps := int(math.Max(math.Abs(b.x-a.x), math.Abs(b.y-a.y)))
	if steps == 0 {
		steps = 1
	}
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		stamp(img, a.x+(b.x-a.x)*t, a.y+(b.y-a.y)*t, c)
	}
}

func drawCircle(img *image.RGBA, cx, cy, radius float64, c color.Color) {
	steps := int(2 * math.Pi * radius)
	for i := 0; i < steps; i++ {
		theta := 2 * math.Pi * float64(i) / float64(steps)
		stamp(img, cx+radius*math.Cos(theta), cy+radius*math.Sin(theta), c)
	}
}

// stamp paints a lineWidth square centred on (x, y).
func stamp(img *image.RGBA, x, y float64, c color.Color) {
	half := lineWidth / 2
	px, py := int(math.Round(x)), int(math.Round(y))
	for dx := -half; dx <= half; dx++ {
		for dy := -half; dy <= half; dy++ {
			img.Set(px+dx, py+dy, c)
		}
	}
}
