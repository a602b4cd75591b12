package train

import (
	"fmt"
	"math/big"
	"slices"
	"strings"

	"github.com/malbeclabs/medallion/pkg/duck"
	"github.com/malbeclabs/medallion/pkg/pipeline"
)

var (
	DefaultLabelColumn = "is_fraud"

	DefaultExcludeColumns = []string{
		"cc_num", "first", "last", "street", "city", "state", "zip", "dob",
		"trans_num", "trans_date_trans_time", "trans_date_time", "is_fraud",
	}

	DefaultCategoricalColumns = []string{"merchant", "category", "gender", "job"}
)

// Dataset is a dense feature matrix with its labels. Columns names the
// features in X's column order.
type Dataset struct {
	Columns []string
	X       [][]float64
	Y       []int
}

func (d *Dataset) Len() int {
	return len(d.Y)
}

// Subset returns the rows at idx, in idx order. Rows are shared, not copied.
func (d *Dataset) Subset(idx []int) ([][]float64, []int) {
	X := make([][]float64, len(idx))
	y := make([]int, len(idx))
	for i, j := range idx {
		X[i] = d.X[j]
		y[i] = d.Y[j]
	}
	return X, y
}

// Encoder turns an extract into a Dataset. Every column that is neither
// excluded nor the label becomes a feature. Numeric features keep their
// extract order; categorical columns follow as one-hot blocks in Categorical
// order, named "<column>_<value>", with each column's lexicographically
// first value dropped.
type Encoder struct {
	Label       string
	Exclude     []string
	Categorical []string
}

func (e *Encoder) Encode(frame *duck.Frame) (*Dataset, error) {
	labels, err := frame.Column(e.Label)
	if err != nil {
		return nil, fmt.Errorf("%w: label %v", pipeline.ErrSchemaContract, err)
	}
	if missing := missingFrom(frame.Columns, e.Categorical); len(missing) > 0 {
		return nil, fmt.Errorf("%w: categorical columns not found: %s", pipeline.ErrSchemaContract, strings.Join(missing, ", "))
	}

	var numeric []int
	for i, col := range frame.Columns {
		if col == e.Label || slices.Contains(e.Exclude, col) || slices.Contains(e.Categorical, col) {
			continue
		}
		for _, row := range frame.Rows {
			if _, ok := toFloat(row[i]); !ok {
				return nil, fmt.Errorf("%w: feature %q has non-numeric value of type %T", pipeline.ErrSchemaContract, col, row[i])
			}
		}
		numeric = append(numeric, i)
	}

	type block struct {
		idx    int
		values []string
	}
	var blocks []block
	columns := make([]string, 0, len(numeric))
	for _, i := range numeric {
		columns = append(columns, frame.Columns[i])
	}
	for _, col := range e.Categorical {
		i := frame.Index(col)
		b := block{idx: i, values: categories(frame, i)}
		if len(b.values) > 0 {
			b.values = b.values[1:]
		}
		for _, v := range b.values {
			columns = append(columns, col+"_"+v)
		}
		blocks = append(blocks, b)
	}

	ds := &Dataset{
		Columns: columns,
		X:       make([][]float64, len(frame.Rows)),
		Y:       make([]int, len(frame.Rows)),
	}
	for r, row := range frame.Rows {
		label, ok := toFloat(labels[r])
		if !ok || labels[r] == nil {
			return nil, fmt.Errorf("%w: label %q has invalid value %v in row %d", pipeline.ErrSchemaContract, e.Label, labels[r], r)
		}
		ds.Y[r] = int(label)

		x := make([]float64, len(columns))
		c := 0
		for _, i := range numeric {
			x[c], _ = toFloat(row[i])
			c++
		}
		for _, b := range blocks {
			if row[b.idx] != nil {
				if j, found := slices.BinarySearch(b.values, categoryString(row[b.idx])); found {
					x[c+j] = 1
				}
			}
			c += len(b.values)
		}
		ds.X[r] = x
	}
	return ds, nil
}

// categories returns the sorted distinct non-NULL values of column i.
func categories(frame *duck.Frame, i int) []string {
	var out []string
	for _, row := range frame.Rows {
		if row[i] != nil {
			out = append(out, categoryString(row[i]))
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func categoryString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func missingFrom(have, want []string) []string {
	var missing []string
	for _, w := range want {
		if !slices.Contains(have, w) {
			missing = append(missing, w)
		}
	}
	return missing
}

// toFloat converts a driver value to a feature value. NULL is 0.
func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, true
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case *big.Int:
		f, _ := new(big.Float).SetInt(x).Float64()
		return f, true
	case interface{ Float64() float64 }:
		return x.Float64(), true
	}
	return 0, false
}
