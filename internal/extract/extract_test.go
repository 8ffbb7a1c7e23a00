package extract

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDocumentTextPlain(t *testing.T) {
	text, err := DocumentText([]byte("hello media"), "text/plain")
	require.NoError(t, err)
	require.Equal(t, "hello media", text)

	text, err = DocumentText([]byte("a,b\n1,2"), "text/csv")
	require.NoError(t, err)
	require.Equal(t, "a,b\n1,2", text)
}

func TestDocumentTextUnsupported(t *testing.T) {
	_, err := DocumentText([]byte{0x00}, "application/zip")
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestDocumentTextBadPDF(t *testing.T) {
	_, err := DocumentText([]byte("not a pdf"), "application/pdf")
	require.Error(t, err)
}

func TestProbeImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	meta, err := ProbeImage(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, 8, meta.Width)
	require.Equal(t, 6, meta.Height)
	require.Equal(t, "png", meta.Format)
}

func TestProbeImageGarbage(t *testing.T) {
	_, err := ProbeImage([]byte("definitely not pixels"))
	require.Error(t, err)
}
