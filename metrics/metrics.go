// Package metrics computes classification metrics for
// model evaluation.
package metrics

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// A Confusion matrix counts predictions.
// Entry [i][j] is the number of examples of class i that
// were predicted as class j.
type Confusion [][]int

// ConfusionMatrix tallies labels against predictions.
func ConfusionMatrix(labels, preds []int, numClasses int) Confusion {
	if len(labels) != len(preds) {
		panic("label and prediction counts differ")
	}
	res := make(Confusion, numClasses)
	for i := range res {
		res[i] = make([]int, numClasses)
	}
	for i, label := range labels {
		res[label][preds[i]]++
	}
	return res
}

// Precision computes the precision for a class.
// If the class was never predicted, it is 0.
func (c Confusion) Precision(class int) float64 {
	predicted := 0
	for _, row := range c {
		predicted += row[class]
	}
	if predicted == 0 {
		return 0
	}
	return float64(c[class][class]) / float64(predicted)
}

// F1 computes the F1 score for a class.
// If the class never occurs and is never predicted, it is
// 0.
func (c Confusion) F1(class int) float64 {
	tp := c[class][class]
	var fp, fn int
	for i := range c {
		if i != class {
			fp += c[i][class]
			fn += c[class][i]
		}
	}
	if tp+fp+fn == 0 {
		return 0
	}
	return 2 * float64(tp) / float64(2*tp+fp+fn)
}

// MacroPrecision averages the precision of every class
// which appears in the labels or the predictions.
func (c Confusion) MacroPrecision() float64 {
	return c.macro(c.Precision)
}

// MacroF1 averages the F1 score of every class which
// appears in the labels or the predictions.
func (c Confusion) MacroF1() float64 {
	return c.macro(c.F1)
}

// WriteTable renders the matrix as a text table.
func (c Confusion) WriteTable(w io.Writer) {
	table := tablewriter.NewWriter(w)
	header := []string{"true \\ pred"}
	for i := range c {
		header = append(header, strconv.Itoa(i))
	}
	table.SetHeader(header)
	for i, row := range c {
		line := []string{strconv.Itoa(i)}
		for _, x := range row {
			line = append(line, strconv.Itoa(x))
		}
		table.Append(line)
	}
	table.Render()
}

func (c Confusion) macro(f func(class int) float64) float64 {
	var sum float64
	var count int
	for class := range c {
		if !c.present(class) {
			continue
		}
		sum += f(class)
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func (c Confusion) present(class int) bool {
	for i := range c {
		if c[class][i] != 0 || c[i][class] != 0 {
			return true
		}
	}
	return false
}

// Metrics summarizes a pass over a labeled dataset.
type Metrics struct {
	Loss      float64
	F1        float64
	Precision float64
	Confusion Confusion
}

// Compute computes the metrics for a set of predictions.
//
// Scores are computed once over every prediction of a
// pass, not averaged over batches.
// Precision is the fraction of each class's predictions
// that are correct, which differs from recall whenever
// the errors are unbalanced.
func Compute(loss float64, labels, preds []int, numClasses int) *Metrics {
	confusion := ConfusionMatrix(labels, preds, numClasses)
	return &Metrics{
		Loss:      loss,
		F1:        confusion.MacroF1(),
		Precision: confusion.MacroPrecision(),
		Confusion: confusion,
	}
}

// Summary formats the scalar metrics with a prefix, e.g.
// "Validation".
func (m *Metrics) Summary(prefix string) string {
	return fmt.Sprintf("%s loss: %.3f, %s F1 score: %.3f, %s Precision: %.3f",
		prefix, m.Loss, prefix, m.F1, prefix, m.Precision)
}

// String formats the metrics and the confusion matrix.
func (m *Metrics) String() string {
	var b strings.Builder
	b.WriteString(m.Summary("Validation"))
	b.WriteString("\nConfusion matrix:\n")
	m.Confusion.WriteTable(&b)
	return b.String()
}
