// Package export renders availability data as spreadsheets.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"venuebook/internal/availability"
)

// Sheet names of the calendar workbook.
const (
	SheetSummary = "Summary"
	SheetDays    = "Days"
	SheetSlots   = "Slots"
)

// sheetWriter fills sheets row by row.
type sheetWriter struct {
	file         *excelize.File
	currentSheet string
	currentRow   int
}

func newSheetWriter() *sheetWriter {
	return &sheetWriter{file: excelize.NewFile()}
}

func (w *sheetWriter) addSheet(name string) error {
	// Excel caps sheet names at 31 characters.
	if len(name) > 31 {
		name = name[:31]
	}
	if w.currentSheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}
	w.currentSheet = name
	w.currentRow = 1
	return nil
}

func (w *sheetWriter) writeHeader(columns ...string) error {
	row := make([]any, len(columns))
	for i, c := range columns {
		row[i] = c
	}
	if err := w.writeRow(row...); err != nil {
		return err
	}

	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	start, _ := excelize.CoordinatesToCellName(1, w.currentRow-1)
	end, _ := excelize.CoordinatesToCellName(len(columns), w.currentRow-1)
	return w.file.SetCellStyle(w.currentSheet, start, end, style)
}

func (w *sheetWriter) writeRow(values ...any) error {
	if w.currentSheet == "" {
		return fmt.Errorf("no active sheet")
	}
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, w.currentRow)
		if err != nil {
			return err
		}
		if err := w.file.SetCellValue(w.currentSheet, cell, v); err != nil {
			return err
		}
	}
	w.currentRow++
	return nil
}

// WriteCalendar writes the calendar as an .xlsx workbook with a summary
// sheet, one row per day and one row per slot.
func WriteCalendar(cal *availability.Calendar, out io.Writer) error {
	w := newSheetWriter()
	defer w.file.Close()

	if err := writeSummary(w, cal); err != nil {
		return err
	}
	if err := writeDays(w, cal); err != nil {
		return err
	}
	if err := writeSlots(w, cal); err != nil {
		return err
	}
	if err := w.file.Write(out); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSummary(w *sheetWriter, cal *availability.Calendar) error {
	if err := w.addSheet(SheetSummary); err != nil {
		return err
	}
	rows := [][]any{
		{"Location", cal.LocationID},
		{"From", cal.StartDate},
		{"To", cal.EndDate},
		{"Duration (min)", cal.DurationMinutes},
		{"Days", cal.Summary.TotalDays},
		{"Available days", cal.Summary.AvailableDays},
		{"Closed days", cal.Summary.ClosedDays},
		{"Slots", cal.Summary.TotalSlots},
		{"Availability rate (%)", cal.Summary.AvailabilityRate},
	}
	for _, r := range rows {
		if err := w.writeRow(r...); err != nil {
			return err
		}
	}
	return nil
}

func writeDays(w *sheetWriter, cal *availability.Calendar) error {
	if err := w.addSheet(SheetDays); err != nil {
		return err
	}
	if err := w.writeHeader("Date", "Weekday", "Available", "Slots", "Closed", "Restrictions", "Notes"); err != nil {
		return err
	}
	for _, d := range cal.Days {
		closed := ""
		if d.Closed {
			closed = d.ClosedReason
		}
		err := w.writeRow(d.Date, d.Weekday, yesNo(d.Available), d.SlotCount, closed,
			strings.Join(d.Restrictions, ", "), strings.Join(d.Notes, "; "))
		if err != nil {
			return err
		}
	}
	return nil
}

func writeSlots(w *sheetWriter, cal *availability.Calendar) error {
	if err := w.addSheet(SheetSlots); err != nil {
		return err
	}
	if err := w.writeHeader("Date", "Start", "End", "Window", "Type"); err != nil {
		return err
	}
	for _, d := range cal.Days {
		for _, s := range d.Slots {
			if err := w.writeRow(d.Date, s.Start.Format("15:04"), s.End.Format("15:04"), s.WindowID, s.WindowType); err != nil {
				return err
			}
		}
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
