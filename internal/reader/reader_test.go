package reader

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRegistry_ReadAny(t *testing.T) {
	r := NewRegistry(5)

	text, err := r.ReadAny(write(t, "a.TXT", "héllo world"))
	require.NoError(t, err)
	assert.Equal(t, "héllo", text)

	text, err = r.ReadAny(write(t, "scan.png", "\x89PNG"))
	require.NoError(t, err)
	assert.Empty(t, text)

	_, err = r.ReadAny(write(t, "a.exe", "MZ"))
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = r.ReadAny(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry(0)
	r.Register(".LOG", Func(func(string) (string, error) { return "custom", nil }))

	text, err := r.ReadAny(write(t, "x.log", "ignored"))
	require.NoError(t, err)
	assert.Equal(t, "custom", text)
	assert.Contains(t, r.Extensions(), ".log")
	assert.Contains(t, r.Extensions(), ".pdf")
}

func TestIsImage(t *testing.T) {
	assert.True(t, IsImage("/a/B.JPG"))
	assert.True(t, IsImage("x.jpeg"))
	assert.False(t, IsImage("x.pdf"))
}

func TestReadText_InvalidUTF8(t *testing.T) {
	text, err := ReadText(write(t, "a.txt", "ok\xffok"))
	require.NoError(t, err)
	assert.Equal(t, "ok�ok", text)
}

func TestReadCSV(t *testing.T) {
	text, err := ReadCSV(write(t, "a.csv", "name,amount\nWidget,\"1,200\"\nGadget,3,extra\n"))
	require.NoError(t, err)
	assert.Equal(t, "name, amount\nWidget, 1,200\nGadget, 3, extra", text)
}

func TestReadHTML(t *testing.T) {
	page := `<html><head><title>Invoice 42</title><style>body{}</style></head>
<body><h2>Acme</h2><p>Total: <b>$25.00</b></p><script>alert(1)</script></body></html>`

	text, err := ReadHTML(write(t, "a.html", page))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "# Invoice 42"))
	assert.Contains(t, text, "## Acme")
	assert.Contains(t, text, "**$25.00**")
	assert.NotContains(t, text, "alert")
}

func TestReadDocx(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.docx")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:r><w:t>Hello</w:t></w:r><w:r><w:tab/><w:t xml:space="preserve">world</w:t></w:r></w:p>
<w:p></w:p>
<w:p><w:r><w:t>Second</w:t><w:br/><w:t>line</w:t></w:r></w:p>
</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	text, err := ReadDocx(path)
	require.NoError(t, err)
	assert.Equal(t, "Hello\tworld\n\nSecond\nline", text)
}

func TestReadDocx_Invalid(t *testing.T) {
	_, err := ReadDocx(write(t, "a.docx", "not a zip"))
	assert.Error(t, err)
}

func TestReadPDF_Invalid(t *testing.T) {
	_, err := ReadPDF(write(t, "a.pdf", "not a pdf"))
	assert.Error(t, err)
}

func TestContentStreamText(t *testing.T) {
	tests := []struct {
		name   string
		stream string
		want   string
	}{
		{"tj", "BT /F1 12 Tf 72 712 Td (Hello World) Tj ET", "Hello World\n"},
		{"tj array", "BT [(Inv) 20 (oice) -300 (42)] TJ ET", "Invoice 42\n"},
		{"lines", "BT (Line one) Tj T* (Line two) Tj ET", "Line one\nLine two\n"},
		{"escapes", `BT (a\(b\) \101\n) Tj ET`, "a(b) A\n"},
		{"nested parens", "BT (f(x)) Tj ET", "f(x)\n"},
		{"hex", "BT <48656C6C6F> Tj ET", "Hello\n"},
		{"dict and comment", "<< /MCID 0 >> BDC % note (skip)\nBT (x) Tj ET EMC", "x\n"},
		{"quote operator", "BT (a) Tj (b) ' ET", "a\nb\n"},
		{"no text", "q 1 0 0 1 0 0 cm Q", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ContentStreamText([]byte(tt.stream)))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "abc", Truncate("abc", 3))
	assert.Equal(t, "日本", Truncate("日本語", 2))
}
