// Package receipt renders a boleta as a printable PDF with a QR code that
// encodes the boleta number for lookup at the counter.
package receipt

import (
	"bytes"
	"fmt"

	"github.com/phpdave11/gofpdf"
	qrcode "github.com/skip2/go-qrcode"

	"puntoventa/backend/internal/domain"
)

type PDFRenderer struct {
	storeName string
}

func NewPDFRenderer(storeName string) *PDFRenderer {
	if storeName == "" {
		storeName = "Punto Venta"
	}
	return &PDFRenderer{storeName: storeName}
}

// Render produces the boleta PDF. The QR payload is "boleta|<number>|<total>"
// so a scanner can verify the amount against the lookup endpoint.
func (r *PDFRenderer) Render(boleta domain.Boleta) ([]byte, error) {
	qrPayload := fmt.Sprintf("boleta|%s|%d", boleta.Number, boleta.Total)
	qrPNG, err := qrcode.Encode(qrPayload, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("generate qr: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(40, 10, r.storeName)
	pdf.Ln(8)
	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(40, 10, "Boleta electronica "+boleta.Number)
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 11)
	pdf.Cell(0, 8, "Fecha: "+boleta.CreatedAt.Format("2006-01-02 15:04:05"))
	pdf.Ln(6)
	pdf.Cell(0, 8, "Medio de pago: "+boleta.PaymentMethod)
	pdf.Ln(6)
	if boleta.CustomerName != "" {
		pdf.Cell(0, 8, "Cliente: "+boleta.CustomerName)
		pdf.Ln(6)
	}
	if boleta.CustomerTaxID != "" {
		pdf.Cell(0, 8, "RUT: "+boleta.CustomerTaxID)
		pdf.Ln(6)
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(90, 8, "Producto", "B", 0, "L", false, 0, "")
	pdf.CellFormat(20, 8, "Cant.", "B", 0, "R", false, 0, "")
	pdf.CellFormat(30, 8, "Precio", "B", 0, "R", false, 0, "")
	pdf.CellFormat(30, 8, "Importe", "B", 1, "R", false, 0, "")

	pdf.SetFont("Arial", "", 11)
	for _, line := range boleta.Lines {
		pdf.CellFormat(90, 7, line.Name, "", 0, "L", false, 0, "")
		pdf.CellFormat(20, 7, fmt.Sprintf("%d", line.Quantity), "", 0, "R", false, 0, "")
		pdf.CellFormat(30, 7, fmt.Sprintf("$%d", line.UnitPrice), "", 0, "R", false, 0, "")
		pdf.CellFormat(30, 7, fmt.Sprintf("$%d", line.UnitPrice*int64(line.Quantity)), "", 1, "R", false, 0, "")
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(140, 7, "Neto", "", 0, "R", false, 0, "")
	pdf.CellFormat(30, 7, fmt.Sprintf("$%d", boleta.Subtotal), "", 1, "R", false, 0, "")
	pdf.CellFormat(140, 7, fmt.Sprintf("IVA (%d%%)", domain.IVARatePercent), "", 0, "R", false, 0, "")
	pdf.CellFormat(30, 7, fmt.Sprintf("$%d", boleta.Tax), "", 1, "R", false, 0, "")
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(140, 8, "Total", "T", 0, "R", false, 0, "")
	pdf.CellFormat(30, 8, fmt.Sprintf("$%d", boleta.Total), "T", 1, "R", false, 0, "")

	imageOpts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("qr", imageOpts, bytes.NewReader(qrPNG))
	pdf.ImageOptions("qr", 160, 20, 30, 30, false, imageOpts, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
