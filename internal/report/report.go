// Package report correlates summary scores with human reference scores.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/tidwall/gjson"
	"gonum.org/v1/gonum/stat"
)

// ErrNoSamples is returned when no reference id has a result.
var ErrNoSamples = errors.New("no samples in common")

// Method is a correlation coefficient.
type Method string

const (
	Pearson  Method = "pearson"
	Spearman Method = "spearman"
	// Kendall is tau-b, which corrects for ties.
	Kendall Method = "kendall"
)

// ParseMethod maps a name onto a Method.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case Pearson, Spearman, Kendall:
		return m, nil
	}
	return "", fmt.Errorf("unknown correlation method %q", s)
}

// ResultColumn names the model's scores in every table.
const ResultColumn = "result"

// Aspects are the summary aspects correlated, in report order. The result
// score of aspect a is read from the field "<a>_score".
var Aspects = []string{"appearance", "intrinsic", "relationship", "overall"}

// Table holds the score columns of one aspect, aligned by sample.
type Table struct {
	Aspect  string
	Columns []string
	// Values[c][i] is column c of sample i; NaN marks a missing value.
	Values [][]float64
}

// Load joins the reference file with a summarize score file.
//
// The reference is a JSON array or JSON lines of objects with an id. Under
// each aspect name a sample holds either a number or an object whose
// numeric fields and numeric arrays become reference columns: a field
// "manual_score" holding three numbers yields manual_score_1 through
// manual_score_3. Reference samples without a result are dropped.
func Load(referencePath, scorePath string, logger *slog.Logger) ([]*Table, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "report")

	refs, err := readSamples(referencePath)
	if err != nil {
		return nil, err
	}
	results, err := readSamples(scorePath)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]gjson.Result, len(results))
	for _, r := range results {
		byID[r.Get("id").String()] = r
	}

	var joined [][2]gjson.Result
	missing := 0
	for _, ref := range refs {
		res, ok := byID[ref.Get("id").String()]
		if !ok {
			missing++
			continue
		}
		joined = append(joined, [2]gjson.Result{ref, res})
	}
	if missing > 0 {
		logger.Warn("reference samples without a result", "missing", missing)
	}
	if len(joined) == 0 {
		return nil, ErrNoSamples
	}

	tables := make([]*Table, 0, len(Aspects))
	for _, aspect := range Aspects {
		t := &Table{Aspect: aspect, Columns: []string{ResultColumn}}
		index := map[string]int{}
		rows := make([]map[string]float64, len(joined))
		for i, pair := range joined {
			rows[i] = referenceValues(pair[0].Get(aspect))
			for _, name := range sortedKeys(rows[i]) {
				if _, ok := index[name]; !ok {
					index[name] = len(t.Columns)
					t.Columns = append(t.Columns, name)
				}
			}
		}
		if len(t.Columns) == 1 {
			continue
		}

		t.Values = make([][]float64, len(t.Columns))
		for c := range t.Values {
			t.Values[c] = make([]float64, len(joined))
		}
		for i, pair := range joined {
			t.Values[0][i] = number(pair[1].Get(aspect + "_score"))
			for c, name := range t.Columns[1:] {
				v, ok := rows[i][name]
				if !ok {
					v = math.NaN()
				}
				t.Values[c+1][i] = v
			}
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func readSamples(path string) ([]gjson.Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		if !gjson.ValidBytes(raw) {
			return nil, fmt.Errorf("%s: invalid JSON", path)
		}
		return gjson.ParseBytes(raw).Array(), nil
	}
	var out []gjson.Result
	for n, line := range bytes.Split(raw, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if !gjson.ValidBytes(line) {
			return nil, fmt.Errorf("%s:%d: invalid JSON", path, n+1)
		}
		out = append(out, gjson.ParseBytes(line))
	}
	return out, nil
}

func referenceValues(v gjson.Result) map[string]float64 {
	out := map[string]float64{}
	switch {
	case v.Type == gjson.Number:
		out["reference"] = v.Float()
	case v.IsObject():
		v.ForEach(func(key, val gjson.Result) bool {
			switch {
			case val.Type == gjson.Number:
				out[key.String()] = val.Float()
			case val.IsArray():
				for i, e := range val.Array() {
					out[key.String()+"_"+strconv.Itoa(i+1)] = number(e)
				}
			}
			return true
		})
	}
	return out
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// number reads a numeric field; anything else, "N/A" included, is NaN.
func number(v gjson.Result) float64 {
	if v.Type != gjson.Number {
		return math.NaN()
	}
	return v.Float()
}

// FillMean replaces NaN entries with the mean of the column's other
// entries, or 0 when none is numeric.
func FillMean(col []float64) []float64 {
	var present []float64
	for _, v := range col {
		if !math.IsNaN(v) {
			present = append(present, v)
		}
	}
	fill := 0.0
	if len(present) > 0 {
		fill = stat.Mean(present, nil)
	}
	out := make([]float64, len(col))
	for i, v := range col {
		if math.IsNaN(v) {
			v = fill
		}
		out[i] = v
	}
	return out
}

// Ranks assigns 1-based ranks, averaging the ranks of ties.
func Ranks(x []float64) []float64 {
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })

	ranks := make([]float64, len(x))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && x[idx[j+1]] == x[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}
	return ranks
}

// Correlation returns the coefficient of x and y after mean-filling both.
// A constant column yields NaN.
func Correlation(m Method, x, y []float64) float64 {
	x, y = FillMean(x), FillMean(y)
	switch m {
	case Spearman:
		x, y = Ranks(x), Ranks(y)
	case Kendall:
		return kendallTau(x, y)
	}
	return stat.Correlation(x, y, nil)
}

// kendallTau is tau-b over all sample pairs. It is NaN when either side is
// constant.
func kendallTau(x, y []float64) float64 {
	var concordant, discordant, tiesX, tiesY float64
	for i := range x {
		for j := i + 1; j < len(x); j++ {
			dx, dy := x[i]-x[j], y[i]-y[j]
			switch {
			case dx == 0 && dy == 0:
				tiesX++
				tiesY++
			case dx == 0:
				tiesX++
			case dy == 0:
				tiesY++
			case (dx > 0) == (dy > 0):
				concordant++
			default:
				discordant++
			}
		}
	}
	n := float64(len(x))
	pairs := n * (n - 1) / 2
	denom := math.Sqrt((pairs - tiesX) * (pairs - tiesY))
	if denom == 0 {
		return math.NaN()
	}
	return (concordant - discordant) / denom
}

// Matrix is the lower triangle of the pairwise correlation of the table's
// columns; entries on and above the diagonal are zero.
func (t *Table) Matrix(m Method) [][]float64 {
	out := make([][]float64, len(t.Columns))
	for i := range out {
		out[i] = make([]float64, len(t.Columns))
		for j := 0; j < i; j++ {
			out[i][j] = Correlation(m, t.Values[i], t.Values[j])
		}
	}
	return out
}

// Render writes one correlation table per aspect and method.
func Render(w io.Writer, tables []*Table, methods ...Method) error {
	for _, m := range methods {
		if _, err := fmt.Fprintf(w, "# %s correlation\n", m); err != nil {
			return err
		}
		for _, t := range tables {
			if _, err := fmt.Fprintf(w, "\n## %s (%d samples)\n", t.Aspect, len(t.Values[0])); err != nil {
				return err
			}
			tw := tablewriter.NewWriter(w)
			tw.SetAutoFormatHeaders(false)
			tw.SetAlignment(tablewriter.ALIGN_RIGHT)
			tw.SetHeader(append([]string{""}, t.Columns...))
			for i, row := range t.Matrix(m) {
				cells := []string{t.Columns[i]}
				for j, v := range row {
					cell := ""
					if j < i {
						cell = strconv.FormatFloat(v, 'f', 4, 64)
					}
					cells = append(cells, cell)
				}
				tw.Append(cells)
			}
			tw.Render()
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}
