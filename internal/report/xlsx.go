package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Occupancy"

var xlsxHeader = []any{
	"Space code",
	"Initial status",
	"Final status",
	"Transitions",
	"Occupied (min)",
	"Occupancy %",
	"Last transition (UTC)",
}

// WriteXLSX renders the report as a single-sheet workbook.
func WriteXLSX(w io.Writer, r OccupancyReport) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	title := fmt.Sprintf("Occupancy %s to %s", r.From.UTC().Format(time.RFC3339), r.To.UTC().Format(time.RFC3339))
	if err := f.SetCellValue(sheetName, "A1", title); err != nil {
		return err
	}
	if err := f.SetSheetRow(sheetName, "A3", &xlsxHeader); err != nil {
		return err
	}

	for i, space := range r.Spaces {
		last := ""
		if space.LastTransitionAt != nil {
			last = space.LastTransitionAt.UTC().Format("2006-01-02 15:04:05")
		}
		row := []any{
			space.SpaceCode,
			string(space.InitialStatus),
			string(space.FinalStatus),
			space.Transitions,
			roundTo(space.OccupiedSeconds/60, 1),
			roundTo(space.OccupancyRatio*100, 1),
			last,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+4)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(sheetName, "A", "G", 18); err != nil {
		return err
	}

	return f.Write(w)
}

func roundTo(v float64, places int) float64 {
	p := 1.0
	for i := 0; i < places; i++ {
		p *= 10
	}
	return float64(int64(v*p+0.5)) / p
}
