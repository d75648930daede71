package gcp

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Sheet reads and writes cells of one worksheet.
type Sheet struct {
	svc           *sheets.Service
	spreadsheetID string
	title         string
}

// NewSheet opens the worksheet title of spreadsheetID.
func NewSheet(ctx context.Context, spreadsheetID, title string, opts ...option.ClientOption) (*Sheet, error) {
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets: create service: %w", err)
	}
	return &Sheet{svc: svc, spreadsheetID: spreadsheetID, title: title}, nil
}

// ColumnLetter converts a 0-based column index to its A1 letters (0 -> A, 26 -> AA).
func ColumnLetter(idx int) string {
	if idx < 0 {
		return ""
	}
	var b []byte
	for idx >= 0 {
		b = append([]byte{byte('A' + idx%26)}, b...)
		idx = idx/26 - 1
	}
	return string(b)
}

// A1Range quotes the sheet title and appends the cell range.
func A1Range(title, cells string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'!" + cells
}

// RowCount is the grid size of the worksheet, filled or not.
func (s *Sheet) RowCount(ctx context.Context) (int, error) {
	ss, err := s.svc.Spreadsheets.Get(s.spreadsheetID).
		Fields("sheets.properties").
		Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("sheets: get spreadsheet: %w", err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == s.title && sh.Properties.GridProperties != nil {
			return int(sh.Properties.GridProperties.RowCount), nil
		}
	}
	return 0, fmt.Errorf("sheets: worksheet %q not found", s.title)
}

// Rows returns the values of rows fromRow..toRow (1-based, inclusive) for
// columns A through lastColumn (0-based). Trailing empty cells may be absent.
func (s *Sheet) Rows(ctx context.Context, fromRow, toRow, lastColumn int) ([][]string, error) {
	rng := A1Range(s.title, fmt.Sprintf("A%d:%s%d", fromRow, ColumnLetter(lastColumn), toRow))
	vr, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets: read %s: %w", rng, err)
	}

	rows := make([][]string, len(vr.Values))
	for i, row := range vr.Values {
		rows[i] = make([]string, len(row))
		for j, v := range row {
			rows[i][j] = fmt.Sprint(v)
		}
	}
	return rows, nil
}

// Cell returns the value at a 1-based row and column.
func (s *Sheet) Cell(ctx context.Context, row, col int) (string, error) {
	rng := A1Range(s.title, fmt.Sprintf("%s%d", ColumnLetter(col-1), row))
	vr, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("sheets: read %s: %w", rng, err)
	}
	if len(vr.Values) == 0 || len(vr.Values[0]) == 0 {
		return "", nil
	}
	return fmt.Sprint(vr.Values[0][0]), nil
}

// UpdateCell writes value at a 1-based row and column.
func (s *Sheet) UpdateCell(ctx context.Context, row, col int, value string) error {
	rng := A1Range(s.title, fmt.Sprintf("%s%d", ColumnLetter(col-1), row))
	_, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, rng, &sheets.ValueRange{
		Values: [][]any{{value}},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets: update %s: %w", rng, err)
	}
	return nil
}
