package train

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/malbeclabs/medallion/pkg/model"
)

// PrintReport renders the classification report and the confusion matrix.
func PrintReport(w io.Writer, report *model.Report) {
	fmt.Fprintln(w, "Classification Report:")
	table := newTable(w)
	table.SetHeader([]string{"", "precision", "recall", "f1-score", "support"})
	for _, s := range report.Classes {
		table.Append(scoreRow(s))
	}
	table.Append([]string{"accuracy", "", "", fmt.Sprintf("%.2f", report.Accuracy), strconv.Itoa(report.Total)})
	table.Append(scoreRow(report.MacroAvg))
	table.Append(scoreRow(report.WeightedAvg))
	table.Render()

	fmt.Fprintln(w, "Confusion Matrix:")
	cm := report.Confusion
	table = newTable(w)
	header := []string{"true \\ predicted"}
	for _, l := range cm.Labels {
		header = append(header, strconv.Itoa(l))
	}
	table.SetHeader(header)
	for i, l := range cm.Labels {
		row := []string{strconv.Itoa(l)}
		for _, c := range cm.Counts[i] {
			row = append(row, strconv.Itoa(c))
		}
		table.Append(row)
	}
	table.Render()
}

func scoreRow(s model.ClassScores) []string {
	return []string{
		s.Label,
		fmt.Sprintf("%.2f", s.Precision),
		fmt.Sprintf("%.2f", s.Recall),
		fmt.Sprintf("%.2f", s.F1),
		strconv.Itoa(s.Support),
	}
}

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	return table
}
