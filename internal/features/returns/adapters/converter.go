package adapter

import "fmt"

// PassthroughConverter hands the label PDF to the portal unchanged. The
// portal's document service accepts PDF uploads directly, so no raster
// conversion is required here.
type PassthroughConverter struct{}

// NewPassthroughConverter creates a PassthroughConverter.
func NewPassthroughConverter() *PassthroughConverter {
	return &PassthroughConverter{}
}

// Convert returns the input bytes with the PDF content type.
func (c *PassthroughConverter) Convert(pdf []byte) ([]byte, string, error) {
	if len(pdf) == 0 {
		return nil, "", fmt.Errorf("label document is empty")
	}
	return pdf, "application/pdf", nil
}
