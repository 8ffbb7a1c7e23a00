// Package extract pulls text and metadata out of uploaded media. Documents
// yield their plain text; images yield their pixel dimensions. Audio and
// video carry no extractor yet and pass through with declared metadata only.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// ErrUnsupported is returned for document types with no text extractor.
var ErrUnsupported = errors.New("unsupported document type")

// DocumentText extracts plain text from a document by declared content type.
func DocumentText(data []byte, contentType string) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case ct == "application/pdf":
		return pdfText(data)
	case strings.HasPrefix(ct, "text/"):
		return string(data), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, contentType)
	}
}

func pdfText(data []byte) (string, error) {
	reader := bytes.NewReader(data)
	doc, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("new pdf reader: %w", err)
	}
	var builder strings.Builder
	total := doc.NumPage()
	for page := 1; page <= total; page++ {
		p := doc.Page(page)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", page, err)
		}
		builder.WriteString(content)
		builder.WriteString("\n")
	}
	return builder.String(), nil
}

// ImageMeta holds the probed properties of an image upload.
type ImageMeta struct {
	Width  int
	Height int
	Format string
}

// ProbeImage decodes just the image header to learn its dimensions.
func ProbeImage(data []byte) (ImageMeta, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageMeta{}, fmt.Errorf("decode image config: %w", err)
	}
	return ImageMeta{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}
