package extract

import (
	"fmt"
	"io"
	"os"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Document is a paged document that exposes text, positioned HTML, and
// raster images per zero-based page index.
type Document interface {
	NumPage() int
	Text(pageNumber int) (string, error)
	HTML(pageNumber int, header bool) (string, error)
	ImagePNG(pageNumber int, dpi float64) ([]byte, error)
	Close() error
}

// Opener opens a document from disk.
type Opener func(path string) (Document, error)

// OpenFitz opens path with MuPDF.
func OpenFitz(path string) (Document, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	return doc, nil
}

// PageSplitter copies one page of a PDF into a standalone PDF.
type PageSplitter interface {
	WritePage(srcPath string, pageNumber int, w io.Writer) error
}

// PDFCPUSplitter implements PageSplitter with pdfcpu.
type PDFCPUSplitter struct {
	conf *model.Configuration
}

// NewPDFCPUSplitter returns a splitter that tolerates minor PDF syntax violations,
// which are common in generated routine documents.
func NewPDFCPUSplitter() *PDFCPUSplitter {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFCPUSplitter{conf: conf}
}

// WritePage writes the one-based pageNumber of srcPath to w.
func (s *PDFCPUSplitter) WritePage(srcPath string, pageNumber int, w io.Writer) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open source pdf: %w", err)
	}
	defer f.Close()

	if err := api.Trim(f, w, []string{fmt.Sprint(pageNumber)}, s.conf); err != nil {
		return fmt.Errorf("trim page %d: %w", pageNumber, err)
	}
	return nil
}
