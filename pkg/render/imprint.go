package render

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"net/url"
	"strings"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

var (
	fontOnce sync.Once
	fontTT   *truetype.Font
	fontErr  error
)

// Imprint adds the origin of rawURL to the bottom of a PNG image.
func Imprint(img []byte, rawURL string) ([]byte, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	host := parsedURL.Host
	if hostWithoutPort, port, found := strings.Cut(host, ":"); found {
		if (parsedURL.Scheme == "http" && port == "80") || (parsedURL.Scheme == "https" && port == "443") {
			host = hostWithoutPort
		}
	}
	printURL := parsedURL.Scheme + "://" + host

	decoded, err := png.Decode(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	face, err := loadFont()
	if err != nil {
		return nil, err
	}

	const padding = 20
	const borderSize = 1

	w := decoded.Bounds().Dx()
	h := decoded.Bounds().Dy() + padding*2 + borderSize
	dc := gg.NewContext(w, h)

	dc.DrawImage(decoded, 0, 0)

	yLine := float64(decoded.Bounds().Dy())
	dc.SetColor(color.White)
	dc.DrawRectangle(0, yLine, float64(w), float64(padding*2+borderSize))
	dc.Fill()
	dc.SetColor(color.Black)
	dc.SetLineWidth(float64(borderSize))
	dc.DrawLine(0, yLine, float64(w), yLine)
	dc.Stroke()
	dc.SetFontFace(face)
	dc.DrawStringAnchored(printURL, float64(w)/2, yLine+float64(padding), 0.5, 0.35)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dc.Image()); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return buf.Bytes(), nil
}

func loadFont() (font.Face, error) {
	fontOnce.Do(func() {
		fontTT, fontErr = truetype.Parse(goregular.TTF)
	})
	if fontErr != nil {
		return nil, fmt.Errorf("failed to parse font: %w", fontErr)
	}

	return truetype.NewFace(fontTT, &truetype.Options{Size: 14}), nil
}
