package gan

import (
	"bytes"
	"fmt"

	G "gorgonia.org/gorgonia"
)

type manyErr []error

func (err manyErr) Error() string {
	var buf bytes.Buffer
	for _, e := range err {
		fmt.Fprintln(&buf, e.Error())
	}
	return buf.String()
}

// CloseAll closes every machine, collecting the errors.
func CloseAll(machines ...G.VM) error {
	var errs manyErr
	for _, m := range machines {
		if m == nil {
			continue
		}
		if err := m.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Scalar reads a float from a scalar value.
func Scalar(v G.Value) float64 {
	if v == nil {
		return 0
	}
	switch d := v.Data().(type) {
	case float32:
		return float64(d)
	case float64:
		return d
	case []float32:
		if len(d) > 0 {
			return float64(d[0])
		}
	case []float64:
		if len(d) > 0 {
			return d[0]
		}
	}
	return 0
}
