package display

import (
	"image"
	"image/color"
	"image/png"
	"io"

	"github.com/annel0/fog-engine/internal/fog"
)

// Палитра для просмотра человеком: текстура RG трудно читается глазом
var (
	colorHidden       = color.RGBA{R: 0x10, G: 0x10, B: 0x18, A: 0xFF}
	colorVisible      = color.RGBA{R: 0x9C, G: 0xC8, B: 0x7A, A: 0xFF}
	colorBlockedSeen  = color.RGBA{R: 0x80, G: 0x60, B: 0x40, A: 0xFF}
	colorBlockedFoggy = color.RGBA{R: 0x30, G: 0x24, B: 0x1A, A: 0xFF}
)

// Preview перекрашивает текстуру тумана в палитру и увеличивает каждую ячейку до scale пикселей
func Preview(tex *image.RGBA, scale int) *image.RGBA {
	if scale < 1 {
		scale = 1
	}
	r := tex.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, r.Dx()*scale, r.Dy()*scale))
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			c := previewColor(fog.DecodeCell(tex.RGBAAt(r.Min.X+x, r.Min.Y+y)))
			for py := 0; py < scale; py++ {
				for px := 0; px < scale; px++ {
					out.SetRGBA(x*scale+px, y*scale+py, c)
				}
			}
		}
	}
	return out
}

func previewColor(blocked, visible bool) color.RGBA {
	switch {
	case blocked && visible:
		return colorBlockedSeen
	case blocked:
		return colorBlockedFoggy
	case visible:
		return colorVisible
	default:
		return colorHidden
	}
}

// WritePNG пишет текстуру в PNG. При raw=true пишутся исходные каналы RG без перекраски.
func WritePNG(w io.Writer, tex *image.RGBA, scale int, raw bool) error {
	if raw && scale <= 1 {
		return png.Encode(w, tex)
	}
	if raw {
		return png.Encode(w, upscale(tex, scale))
	}
	return png.Encode(w, Preview(tex, scale))
}

func upscale(tex *image.RGBA, scale int) *image.RGBA {
	r := tex.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, r.Dx()*scale, r.Dy()*scale))
	for y := 0; y < out.Rect.Dy(); y++ {
		for x := 0; x < out.Rect.Dx(); x++ {
			out.SetRGBA(x, y, tex.RGBAAt(r.Min.X+x/scale, r.Min.Y+y/scale))
		}
	}
	return out
}
