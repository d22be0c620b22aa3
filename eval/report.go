package eval

import (
	"encoding/csv"
	"image"
	"io"
	"strconv"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// DefaultPatch is the tile size used for mutual information.
const DefaultPatch = 64

// Result is the comparison of one real/translated pair.
type Result struct {
	Name              string
	Distance          Channelwise
	Correlation       Channelwise
	MutualInformation float64
}

// Compare computes every metric for a pair of images.
func Compare(name string, truth, translated image.Image, patch int) (Result, error) {
	d, c, err := CompareHistograms(truth, translated)
	if err != nil {
		return Result{}, errors.Wrapf(err, "comparing %v", name)
	}
	mi, err := MeanMutualInformation(truth, translated, patch)
	if err != nil {
		return Result{}, errors.Wrapf(err, "comparing %v", name)
	}
	return Result{Name: name, Distance: d, Correlation: c, MutualInformation: mi}, nil
}

// Summarize averages a set of results into one named "mean".
func Summarize(results []Result) Result {
	retVal := Result{Name: "mean"}
	if len(results) == 0 {
		return retVal
	}
	col := make([]float64, len(results))
	mean := func(get func(Result) float64) float64 {
		for i, r := range results {
			col[i] = get(r)
		}
		return stat.Mean(col, nil)
	}
	for c := 0; c < 3; c++ {
		c := c
		retVal.Distance[c] = mean(func(r Result) float64 { return r.Distance[c] })
		retVal.Correlation[c] = mean(func(r Result) float64 { return r.Correlation[c] })
	}
	retVal.MutualInformation = mean(func(r Result) float64 { return r.MutualInformation })
	return retVal
}

var reportHeader = []string{
	"name",
	"bhattacharyya_l", "bhattacharyya_a", "bhattacharyya_b",
	"correlation_l", "correlation_a", "correlation_b",
	"mutual_information",
}

// WriteCSV writes one row per result.
func WriteCSV(w io.Writer, results []Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(reportHeader); err != nil {
		return errors.WithStack(err)
	}
	format := func(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
	for _, r := range results {
		record := []string{r.Name}
		for _, v := range r.Distance {
			record = append(record, format(v))
		}
		for _, v := range r.Correlation {
			record = append(record, format(v))
		}
		record = append(record, format(r.MutualInformation))
		if err := cw.Write(record); err != nil {
			return errors.WithStack(err)
		}
	}
	cw.Flush()
	return errors.WithStack(cw.Error())
}
