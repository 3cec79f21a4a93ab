package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"noteflow/internal/references"
	"noteflow/internal/types"
)

var bundle = Bundle{
	Document: types.NoteDocument{
		Title:   "Linear Regression",
		Summary: "Fitting a line to data.",
		Sections: []types.Section{
			{Title: "Section 1", Content: "Least squares.", Timestamp: "00:00:00"},
			{Title: "Section 2", Content: "Gradient descent."},
		},
		KeyPoints: []string{"Minimize squared error", "Learning rate\nmatters"},
	},
	References: references.Generate("")[:1],
	Clips:      references.ForVideo("https://example.com/v")[:1],
}

func TestMarkdown(t *testing.T) {
	var buf bytes.Buffer
	if err := Markdown(&buf, bundle); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"# Linear Regression\n",
		"## Section 1 `00:00:00`\n\nLeast squares.",
		"## Section 2\n\nGradient descent.",
		"- Minimize squared error\n",
		"- Learning rate matters\n",
		"## References\n\n- [Introduction to Machine Learning | MIT OpenCourseWare](https://ocw.mit.edu/",
		"- `00:01:15` [Introduction and Key Concepts](https://example.com/v)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q\n%s", want, out)
		}
	}
}

func TestXLSX(t *testing.T) {
	var buf bytes.Buffer
	if err := XLSX(&buf, bundle); err != nil {
		t.Fatal(err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	want := []string{SheetNotes, SheetSections, SheetKeyPoints, SheetReferences}
	if got := f.GetSheetList(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("sheets = %v, want %v", got, want)
	}

	title, _ := f.GetCellValue(SheetNotes, "B1")
	if title != "Linear Regression" {
		t.Errorf("title cell = %q", title)
	}
	rows, err := f.GetRows(SheetSections)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 || rows[1][1] != "00:00:00" || rows[2][3] != "Gradient descent." {
		t.Errorf("section rows = %v", rows)
	}
	refs, _ := f.GetRows(SheetReferences)
	if len(refs) != 3 || refs[1][0] != "reading" || refs[2][0] != "clip" {
		t.Errorf("reference rows = %v", refs)
	}
}
