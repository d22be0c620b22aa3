package cyclestain

import (
	"github.com/sirupsen/logrus"

	gan "github.com/gorgonia/cyclestain/gannet"
	"github.com/gorgonia/cyclestain/optim"
)

// sanitizeLosses replaces non-finite losses with 0, +1 or -1 in place and logs what was replaced.
func sanitizeLosses(log logrus.FieldLogger, losses map[string]*float64) {
	var bad logrus.Fields
	for name, l := range losses {
		v := optim.SanitizeScalar(*l)
		if v != *l {
			if bad == nil {
				bad = make(logrus.Fields)
			}
			bad[name] = *l
			*l = v
		}
	}
	if bad != nil {
		log.WithFields(bad).Warn("non-finite losses replaced")
	}
}

// sanitizeTerms reads the values of loss terms after a run, with non-finite values
// replaced. The raw values that were replaced are returned by term name.
func sanitizeTerms(terms []lossTerm) (values []float64, bad logrus.Fields) {
	values = make([]float64, len(terms))
	for i, t := range terms {
		v := gan.Scalar(t.loss.Value())
		values[i] = optim.SanitizeScalar(v)
		if values[i] != v {
			if bad == nil {
				bad = make(logrus.Fields)
			}
			bad[t.name] = v
		}
	}
	return values, bad
}
