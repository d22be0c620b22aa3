package tracking

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

// CSV appends one row per report. The columns are fixed by the first report
// unless given up front.
type CSV struct {
	w           *csv.Writer
	columns     []string
	wroteHeader bool
}

// NewCSV creates a CSV sink. columns may be nil.
func NewCSV(w io.Writer, columns []string) *CSV {
	return &CSV{w: csv.NewWriter(w), columns: columns}
}

// LogScalars implements ScalarLogger.
func (c *CSV) LogScalars(epoch int, values map[string]float64) error {
	if !c.wroteHeader {
		if c.columns == nil {
			for k := range values {
				c.columns = append(c.columns, k)
			}
			sort.Strings(c.columns)
		}
		if err := c.w.Write(append([]string{"epoch"}, c.columns...)); err != nil {
			return errors.WithStack(err)
		}
		c.wroteHeader = true
	}
	record := make([]string, 0, len(c.columns)+1)
	record = append(record, strconv.Itoa(epoch))
	for _, col := range c.columns {
		v, ok := values[col]
		if !ok {
			record = append(record, "")
			continue
		}
		record = append(record, strconv.FormatFloat(v, 'g', -1, 64))
	}
	if err := c.w.Write(record); err != nil {
		return errors.WithStack(err)
	}
	c.w.Flush()
	return errors.WithStack(c.w.Error())
}
