// Package export renders assembled BOMs as XLSX workbooks and reads
// tabular project sheets back in.
package export

import (
	"io"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/fenceworks/estimator/internal/model"
)

// Sheet names used in BOM workbooks.
const (
	SheetMaterials = "Materials"
	SheetLabor     = "Labor"
	SheetInputs    = "Inputs"
)

var (
	materialHeader = []string{"Component", "Name", "Quantity", "Unit", "Raw quantity", "Rounding"}
	laborHeader    = []string{"Group", "Code", "Name", "Quantity", "Unit", "Default"}
	inputHeader    = []string{"Variable", "Value"}
)

// Job is one BOM in a workbook, labeled by project.
type Job struct {
	ProjectID string
	BOM       *model.BOM
}

// WriteBOM writes a single BOM as a workbook.
func WriteBOM(w io.Writer, projectID string, b *model.BOM) error {
	return WriteBOMs(w, []Job{{ProjectID: projectID, BOM: b}})
}

// WriteBOMs writes one workbook with material, labor and input sheets. When
// more than one job is given every row is prefixed with its project id.
func WriteBOMs(w io.Writer, jobs []Job) error {
	f, err := Workbook(jobs)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "export: write workbook")
}

// Workbook builds the workbook without writing it.
func Workbook(jobs []Job) (*xlsx.File, error) {
	if len(jobs) == 0 {
		return nil, eris.New("export: no BOMs to write")
	}
	multi := len(jobs) > 1

	f := xlsx.NewFile()
	materials, err := addSheet(f, SheetMaterials, materialHeader, multi)
	if err != nil {
		return nil, err
	}
	labor, err := addSheet(f, SheetLabor, laborHeader, multi)
	if err != nil {
		return nil, err
	}
	inputs, err := addSheet(f, SheetInputs, inputHeader, multi)
	if err != nil {
		return nil, err
	}

	for _, job := range jobs {
		if job.BOM == nil {
			return nil, eris.Errorf("export: project %s has no BOM", job.ProjectID)
		}
		b := job.BOM
		for _, l := range b.Lines {
			row := newRow(materials, multi, job.ProjectID)
			row.AddCell().SetString(l.ComponentCode)
			row.AddCell().SetString(l.Name)
			row.AddCell().SetFloat(l.RoundedQuantity)
			row.AddCell().SetString(l.Unit)
			row.AddCell().SetFloat(l.RawQuantity)
			row.AddCell().SetString(string(l.RoundingLevel))
		}
		for _, sel := range b.Labor {
			for _, c := range sel.Codes {
				row := newRow(labor, multi, job.ProjectID)
				row.AddCell().SetString(sel.GroupCode)
				row.AddCell().SetString(c.Code)
				row.AddCell().SetString(c.Name)
				if c.Quantity != nil {
					row.AddCell().SetFloat(*c.Quantity)
				} else {
					row.AddCell()
				}
				row.AddCell().SetString(c.Unit)
				row.AddCell().SetBool(c.IsDefault)
			}
		}
		names := make([]string, 0, len(b.Variables))
		for k := range b.Variables {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			row := newRow(inputs, multi, job.ProjectID)
			row.AddCell().SetString(k)
			row.AddCell().SetValue(b.Variables[k])
		}
	}
	return f, nil
}

func addSheet(f *xlsx.File, name string, header []string, multi bool) (*xlsx.Sheet, error) {
	sheet, err := f.AddSheet(name)
	if err != nil {
		return nil, eris.Wrapf(err, "export: add sheet %s", name)
	}
	row := sheet.AddRow()
	if multi {
		row.AddCell().SetString("Project")
	}
	for _, h := range header {
		row.AddCell().SetString(h)
	}
	return sheet, nil
}

func newRow(sheet *xlsx.Sheet, multi bool, projectID string) *xlsx.Row {
	row := sheet.AddRow()
	if multi {
		row.AddCell().SetString(projectID)
	}
	return row
}

// ReadSheet returns the rows of a sheet as trimmed strings. An empty name
// selects the first sheet.
func ReadSheet(path, name string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "export: open workbook")
	}

	var sheet *xlsx.Sheet
	if name != "" {
		s, ok := f.Sheet[name]
		if !ok {
			return nil, eris.Errorf("export: sheet %q not found", name)
		}
		sheet = s
	} else {
		if len(f.Sheets) == 0 {
			return nil, eris.New("export: workbook has no sheets")
		}
		sheet = f.Sheets[0]
	}

	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = strings.TrimSpace(cell.String())
		}
		rows = append(rows, cells)
	}
	return rows, nil
}
