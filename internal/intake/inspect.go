package intake

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/ledongthuc/pdf"
)

var pdfMagic = []byte("%PDF-")

// Info describes a stored PDF.
type Info struct {
	Pages      int
	TextLength int
}

// IsPDF reports whether the file at path starts with the PDF header.
func IsPDF(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	head := make([]byte, len(pdfMagic))
	if _, err := io.ReadFull(f, head); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(head, pdfMagic), nil
}

// Inspect counts pages and extractable text of a PDF. With withText false
// only the page tree is read.
func Inspect(path string, withText bool) (info Info, err error) {
	// The PDF reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf %s: %v", path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	info.Pages = r.NumPage()
	if !withText {
		return info, nil
	}
	for i := 1; i <= info.Pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return info, fmt.Errorf("extract text from page %d: %w", i, err)
		}
		info.TextLength += len(text)
	}
	return info, nil
}
