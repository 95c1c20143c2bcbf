package export

import (
	"fmt"
	"io"
	"time"

	"clinica/internal/models"

	"github.com/xuri/excelize/v2"
)

// ContentType is the MIME type of the workbook written by AppointmentsXLSX.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var headers = []string{"ID", "Paciente", "Servicio", "Fecha", "Hora", "Estado", "Creada"}

var statusFill = map[models.Status]string{
	models.StatusPending:   "#FFF2CC",
	models.StatusConfirmed: "#E2EFDA",
	models.StatusCancelled: "#FCE4D6",
}

// AppointmentsXLSX writes the appointments, in the given order, as a single
// sheet workbook.
func AppointmentsXLSX(w io.Writer, sheetName string, appointments []*models.Appointment) error {
	if sheetName == "" {
		sheetName = "Citas"
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if sheetName != "Sheet1" {
		_ = f.DeleteSheet("Sheet1")
	}

	if err := writeHeader(f, sheetName); err != nil {
		return err
	}

	styles := make(map[models.Status]int, len(statusFill))
	for status, color := range statusFill {
		style, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		})
		if err != nil {
			return fmt.Errorf("error creating style: %w", err)
		}
		styles[status] = style
	}

	for i, appt := range appointments {
		row := i + 2
		values := []interface{}{
			appt.ID,
			appt.OwnerEmail,
			appt.ServiceName,
			appt.Date,
			appt.Time,
			string(appt.Status),
			appt.CreatedAt.UTC().Format(time.RFC3339),
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return fmt.Errorf("error writing row %d: %w", row, err)
		}
		if style, ok := styles[appt.Status]; ok {
			statusCell, _ := excelize.CoordinatesToCellName(6, row)
			_ = f.SetCellStyle(sheetName, statusCell, statusCell, style)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 38)
	_ = f.SetColWidth(sheetName, "B", "C", 28)
	_ = f.SetColWidth(sheetName, "D", "F", 14)
	_ = f.SetColWidth(sheetName, "G", "G", 24)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

func writeHeader(f *excelize.File, sheetName string) error {
	row := make([]interface{}, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	if err := f.SetSheetRow(sheetName, "A1", &row); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}

	style, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("error creating header style: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	_ = f.SetCellStyle(sheetName, "A1", last, style)
	return f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}
