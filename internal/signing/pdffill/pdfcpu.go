package pdffill

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"subsidy-esign/pkg/registry"
)

// Anchor glyphs are tiny and almost white so they stay machine readable for
// anchor tab placement without being visible to the signer.
const (
	anchorPointSize = 2
	anchorColor     = "#FEFEFE"
)

// FormWriter applies form values and anchor stamps to PDF bytes.
type FormWriter interface {
	FillForm(content, formJSON []byte) ([]byte, error)
	StampText(content []byte, marker registry.AnchorMarker) ([]byte, error)
}

// PDFCPUWriter implements FormWriter with pdfcpu. Form fields stay editable.
type PDFCPUWriter struct{}

func NewPDFCPUWriter() *PDFCPUWriter {
	api.DisableConfigDir()
	return &PDFCPUWriter{}
}

func newConfiguration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func (w *PDFCPUWriter) FillForm(content, formJSON []byte) ([]byte, error) {
	var out bytes.Buffer
	if err := api.FillForm(bytes.NewReader(content), bytes.NewReader(formJSON), &out, newConfiguration()); err != nil {
		return nil, fmt.Errorf("pdfcpu fill form: %w", err)
	}
	return out.Bytes(), nil
}

func (w *PDFCPUWriter) StampText(content []byte, marker registry.AnchorMarker) ([]byte, error) {
	desc := fmt.Sprintf("fontname:Helvetica, points:%d, position:bl, offset:%s %s, fillcolor:%s, rotation:0, scalefactor:1 abs",
		anchorPointSize,
		strconv.FormatFloat(marker.X, 'f', 2, 64),
		strconv.FormatFloat(marker.Y, 'f', 2, 64),
		anchorColor,
	)
	wm, err := api.TextWatermark(marker.Text, desc, true, false, types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("anchor stamp %q: %w", marker.Text, err)
	}

	var out bytes.Buffer
	pages := []string{strconv.Itoa(marker.Page)}
	if err := api.AddWatermarks(bytes.NewReader(content), &out, pages, wm, newConfiguration()); err != nil {
		return nil, fmt.Errorf("anchor stamp %q on page %d: %w", marker.Text, marker.Page, err)
	}
	return out.Bytes(), nil
}
