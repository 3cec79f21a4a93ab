// Package export renders finished notes as Markdown or as an XLSX workbook.
package export

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"noteflow/internal/references"
	"noteflow/internal/types"
)

// Bundle is a document plus the references gathered for it.
type Bundle struct {
	Document   types.NoteDocument
	References []references.Reference
	Clips      []references.VideoReference
}

// Markdown writes b as a Markdown study sheet.
func Markdown(w io.Writer, b Bundle) error {
	bw := bufio.NewWriter(w)
	doc := b.Document

	fmt.Fprintf(bw, "# %s\n\n", oneLine(doc.Title))
	if doc.Summary != "" {
		fmt.Fprintf(bw, "%s\n\n", doc.Summary)
	}
	for _, s := range doc.Sections {
		if s.Timestamp != "" {
			fmt.Fprintf(bw, "## %s `%s`\n\n", oneLine(s.Title), s.Timestamp)
		} else {
			fmt.Fprintf(bw, "## %s\n\n", oneLine(s.Title))
		}
		fmt.Fprintf(bw, "%s\n\n", s.Content)
	}
	if len(doc.KeyPoints) > 0 {
		bw.WriteString("## Key Points\n\n")
		for _, p := range doc.KeyPoints {
			fmt.Fprintf(bw, "- %s\n", oneLine(p))
		}
		bw.WriteString("\n")
	}
	if len(b.References) > 0 {
		bw.WriteString("## References\n\n")
		for _, r := range b.References {
			fmt.Fprintf(bw, "- [%s](%s): %s\n", oneLine(r.Title), r.URL, oneLine(r.Description))
		}
		bw.WriteString("\n")
	}
	if len(b.Clips) > 0 {
		bw.WriteString("## Video Clips\n\n")
		for _, c := range b.Clips {
			fmt.Fprintf(bw, "- `%s` [%s](%s)\n", c.Timestamp, oneLine(c.Title), c.URL)
		}
		bw.WriteString("\n")
	}
	return bw.Flush()
}

const (
	SheetNotes      = "Notes"
	SheetSections   = "Sections"
	SheetKeyPoints  = "Key Points"
	SheetReferences = "References"
)

// XLSX writes b as a workbook with one sheet per part of the notes.
func XLSX(w io.Writer, b Bundle) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetNotes); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{SheetSections, SheetKeyPoints, SheetReferences} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("new sheet %s: %w", name, err)
		}
	}

	doc := b.Document
	rows := map[string][][]any{
		SheetNotes: {
			{"Title", doc.Title},
			{"Summary", doc.Summary},
		},
		SheetSections:   {{"#", "Timestamp", "Title", "Content"}},
		SheetKeyPoints:  {{"#", "Key Point"}},
		SheetReferences: {{"Kind", "Title", "URL", "Detail"}},
	}
	for i, s := range doc.Sections {
		rows[SheetSections] = append(rows[SheetSections], []any{i + 1, s.Timestamp, s.Title, s.Content})
	}
	for i, p := range doc.KeyPoints {
		rows[SheetKeyPoints] = append(rows[SheetKeyPoints], []any{i + 1, p})
	}
	for _, r := range b.References {
		rows[SheetReferences] = append(rows[SheetReferences], []any{"reading", r.Title, r.URL, r.Description})
	}
	for _, c := range b.Clips {
		rows[SheetReferences] = append(rows[SheetReferences], []any{"clip", c.Title, c.URL, c.Timestamp})
	}

	for sheet, data := range rows {
		for i, row := range data {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(sheet, cell, &row); err != nil {
				return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
			}
		}
	}
	if err := f.SetColWidth(SheetSections, "D", "D", 80); err != nil {
		return err
	}
	if err := f.SetColWidth(SheetNotes, "B", "B", 100); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
