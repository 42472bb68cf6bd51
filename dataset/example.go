// Package dataset loads labeled sentences, encodes them
// into fixed-length token sequences, and packs them into
// batches.
package dataset

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/unixpickle/essentials"
	"github.com/xuri/excelize/v2"
)

const (
	inputColumn = "input"
	labelColumn = "labels"
)

// An Example is a sentence with an optional class label.
type Example struct {
	Text     string
	Label    int
	HasLabel bool
}

type csvRow struct {
	Input  string `csv:"input"`
	Labels string `csv:"labels"`
}

// predictionHeader leaves the index column unnamed, like
// a CSV file written from a pandas DataFrame.
const predictionHeader = ",input,labels\n"

type predictionRow struct {
	ID     int    `csv:"id"`
	Input  string `csv:"input"`
	Labels int    `csv:"labels"`
}

// ReadFile reads examples from a .csv or .xlsx file.
func ReadFile(path string) ([]*Example, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadCSV(path)
	case ".xlsx":
		return ReadXLSX(path)
	default:
		return nil, fmt.Errorf("read %s: unsupported file type", path)
	}
}

// ReadCSV reads examples from a CSV file with an "input"
// column and an optional "labels" column.
// Other columns are ignored.
func ReadCSV(path string) ([]*Example, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, essentials.AddCtx("read CSV", err)
	}
	header, err := gocsv.DefaultCSVReader(bytes.NewReader(data)).Read()
	if err != nil {
		return nil, essentials.AddCtx("read CSV header", err)
	}
	columns := columnIndices(header)
	if _, ok := columns[inputColumn]; !ok {
		return nil, fmt.Errorf("read CSV %s: missing %q column", path, inputColumn)
	}
	_, hasLabels := columns[labelColumn]

	var rows []*csvRow
	if err := gocsv.UnmarshalBytes(data, &rows); err != nil {
		return nil, essentials.AddCtx("read CSV "+path, err)
	}
	res := make([]*Example, len(rows))
	for i, row := range rows {
		res[i], err = newExample(row.Input, row.Labels, hasLabels)
		if err != nil {
			return nil, fmt.Errorf("read CSV %s: row %d: %s", path, i, err)
		}
	}
	return res, nil
}

// ReadXLSX reads examples from the first sheet of a
// spreadsheet.
// The first row is a header which names the "input" and
// (optional) "labels" columns.
//
// Every input cell is read as a string, whatever its
// type in the spreadsheet.
func ReadXLSX(path string) (res []*Example, err error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, essentials.AddCtx("read XLSX", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = essentials.AddCtx("read XLSX", closeErr)
		}
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("read XLSX %s: no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, essentials.AddCtx("read XLSX", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("read XLSX %s: missing header", path)
	}
	columns := columnIndices(rows[0])
	inputIdx, ok := columns[inputColumn]
	if !ok {
		return nil, fmt.Errorf("read XLSX %s: missing %q column", path, inputColumn)
	}
	labelIdx, hasLabels := columns[labelColumn]

	for i, row := range rows[1:] {
		label := ""
		if hasLabels {
			label = cell(row, labelIdx)
		}
		example, err := newExample(cell(row, inputIdx), label, hasLabels)
		if err != nil {
			return nil, fmt.Errorf("read XLSX %s: row %d: %s", path, i, err)
		}
		res = append(res, example)
	}
	return res, nil
}

// WritePredictions writes predicted labels to a CSV file
// with an unnamed row index column followed by the input
// and labels columns.
func WritePredictions(path string, texts []string, labels []int) (err error) {
	if len(texts) != len(labels) {
		return fmt.Errorf("write predictions: %d texts but %d labels", len(texts), len(labels))
	}
	rows := make([]*predictionRow, len(texts))
	for i, text := range texts {
		rows[i] = &predictionRow{ID: i, Input: text, Labels: labels[i]}
	}
	f, err := os.Create(path)
	if err != nil {
		return essentials.AddCtx("write predictions", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = essentials.AddCtx("write predictions", closeErr)
		}
	}()
	if _, err := io.WriteString(f, predictionHeader); err != nil {
		return essentials.AddCtx("write predictions", err)
	}
	if err := gocsv.MarshalWithoutHeaders(&rows, f); err != nil {
		return essentials.AddCtx("write predictions", err)
	}
	return nil
}

// Texts returns the text of every example.
func Texts(examples []*Example) []string {
	res := make([]string, len(examples))
	for i, e := range examples {
		res[i] = e.Text
	}
	return res
}

// CheckLabels makes sure that every label is a class
// index less than numClasses.
// If required is set, every example must be labeled.
func CheckLabels(examples []*Example, numClasses int, required bool) error {
	for i, e := range examples {
		if !e.HasLabel {
			if required {
				return fmt.Errorf("row %d: missing label", i)
			}
			continue
		}
		if e.Label < 0 || e.Label >= numClasses {
			return fmt.Errorf("row %d: label %d out of range [0, %d)", i, e.Label, numClasses)
		}
	}
	return nil
}

func newExample(text, label string, hasLabels bool) (*Example, error) {
	res := &Example{Text: text}
	label = strings.TrimSpace(label)
	if !hasLabels || label == "" {
		return res, nil
	}
	value, err := strconv.ParseFloat(label, 64)
	if err != nil || value != math.Trunc(value) {
		return nil, fmt.Errorf("invalid label: %q", label)
	}
	res.Label = int(value)
	res.HasLabel = true
	return res, nil
}

func columnIndices(header []string) map[string]int {
	res := map[string]int{}
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, ok := res[name]; !ok {
			res[name] = i
		}
	}
	return res
}

func cell(row []string, idx int) string {
	if idx < len(row) {
		return row[idx]
	}
	return ""
}
