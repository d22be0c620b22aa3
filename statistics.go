package cyclestain

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// Loss channels reported to sinks.
const (
	GeneratorHEToP63Loss = "he_to_p63_generator_loss"
	GeneratorP63ToHELoss = "p63_to_he_generator_loss"
	DiscriminatorHELoss  = "he_discriminator_loss"
	DiscriminatorP63Loss = "p63_discriminator_loss"
	CycleHELoss          = "he_cycle_loss"
	CycleP63Loss         = "p63_cycle_loss"
	TotalGeneratorLoss   = "total_generator_loss"
	ContextLoss          = "context_loss"
	CycleContextLoss     = "cycle_context_loss"
)

// Channels lists the loss channels in reporting order.
var Channels = []string{
	GeneratorHEToP63Loss,
	GeneratorP63ToHELoss,
	DiscriminatorHELoss,
	DiscriminatorP63Loss,
	CycleHELoss,
	CycleP63Loss,
	TotalGeneratorLoss,
	ContextLoss,
	CycleContextLoss,
}

// RunningMean is the mean of the last few values pushed into it.
type RunningMean struct {
	capacity int
	values   []float64
	next     int
}

// NewRunningMean creates an accumulator that keeps capacity values.
func NewRunningMean(capacity int) *RunningMean {
	if capacity < 1 {
		capacity = 1
	}
	return &RunningMean{capacity: capacity, values: make([]float64, 0, capacity)}
}

// Push adds a value, evicting the oldest when full.
func (r *RunningMean) Push(v float64) {
	if len(r.values) < r.capacity {
		r.values = append(r.values, v)
		return
	}
	r.values[r.next] = v
	r.next = (r.next + 1) % r.capacity
}

// Len is the number of values held.
func (r *RunningMean) Len() int { return len(r.values) }

// Mean of the held values. An empty accumulator has a mean of 0.
func (r *RunningMean) Mean() float64 {
	if len(r.values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range r.values {
		sum += v
	}
	return sum / float64(len(r.values))
}

// Statistics holds the running means of every loss channel and the history of
// the means that were reported.
type Statistics struct {
	running map[string]*RunningMean

	Reported []int
	History  map[string][]float64
}

func makeStatistics(capacity int) Statistics {
	s := Statistics{
		running: make(map[string]*RunningMean, len(Channels)),
		History: make(map[string][]float64, len(Channels)),
	}
	for _, ch := range Channels {
		s.running[ch] = NewRunningMean(capacity)
	}
	return s
}

func (s *Statistics) push(channel string, v float64) {
	if r, ok := s.running[channel]; ok {
		r.Push(v)
	}
}

// Means returns the current running mean of every channel.
func (s *Statistics) Means() map[string]float64 {
	retVal := make(map[string]float64, len(Channels))
	for _, ch := range Channels {
		retVal[ch] = s.running[ch].Mean()
	}
	return retVal
}

func (s *Statistics) record(epoch int, means map[string]float64) {
	s.Reported = append(s.Reported, epoch)
	for _, ch := range Channels {
		s.History[ch] = append(s.History[ch], means[ch])
	}
}

// Dump writes the reported history as CSV, one row per report.
func (s *Statistics) Dump(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(append([]string{"epoch"}, Channels...)); err != nil {
		return errors.WithStack(err)
	}
	for i, epoch := range s.Reported {
		record := make([]string, 0, len(Channels)+1)
		record = append(record, strconv.Itoa(epoch))
		for _, ch := range Channels {
			record = append(record, strconv.FormatFloat(s.History[ch][i], 'f', 6, 64))
		}
		if err := w.Write(record); err != nil {
			return errors.WithStack(err)
		}
	}
	w.Flush()
	return errors.WithStack(w.Error())
}
