package gan

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ErrShapeMismatch is returned when decoded parameters do not fit the network they are loaded into.
var ErrShapeMismatch = errors.New("parameter mismatch")

// Params is an ordered set of named float32 tensors. The tensors are shared by every
// graph a network is built into, so an update made through one graph is seen by all.
type Params struct {
	name   string
	names  []string
	values []*tensor.Dense
	index  map[string]int
}

// NewParams creates an empty set. The name prefixes the nodes of the parameters in graphs.
func NewParams(name string) *Params {
	return &Params{
		name:  name,
		index: make(map[string]int),
	}
}

// Name of the set.
func (p *Params) Name() string { return p.name }

// Len is the number of tensors.
func (p *Params) Len() int { return len(p.values) }

// Names lists the tensor names in order.
func (p *Params) Names() []string { return p.names }

// Has reports whether the set holds a tensor called name.
func (p *Params) Has(name string) bool {
	_, ok := p.index[name]
	return ok
}

// Get returns the tensor called name, or nil.
func (p *Params) Get(name string) *tensor.Dense {
	if i, ok := p.index[name]; ok {
		return p.values[i]
	}
	return nil
}

// Size is the total number of scalars held.
func (p *Params) Size() (retVal int) {
	for _, v := range p.values {
		retVal += v.Shape().TotalSize()
	}
	return
}

func (p *Params) add(name string, init G.InitWFn, shape ...int) {
	if p.Has(name) {
		panic("duplicate parameter " + name)
	}
	t := tensor.New(tensor.WithShape(shape...), tensor.WithBacking(init(Float, shape...)))
	p.index[name] = len(p.values)
	p.names = append(p.names, name)
	p.values = append(p.values, t)
}

// conv registers the weights of a convolution, and its bias if bias is true.
func (p *Params) conv(name string, in, out, k int, bias bool) {
	p.add(name+".w", G.GlorotU(1.0), out, in, k, k)
	if bias {
		p.add(name+".b", G.Zeroes(), 1, out, 1, 1)
	}
}

// CopyFrom copies the values of o into p. Both sets must have the same layout.
func (p *Params) CopyFrom(o *Params) error {
	if err := p.sameLayout(o.names, shapesOf(o.values)); err != nil {
		return err
	}
	for i, v := range o.values {
		copy(p.values[i].Data().([]float32), v.Data().([]float32))
	}
	return nil
}

func (p *Params) sameLayout(names []string, shapes [][]int) error {
	if len(names) != len(p.names) {
		return errors.Wrapf(ErrShapeMismatch, "%s: expected %d tensors, got %d", p.name, len(p.names), len(names))
	}
	for i, n := range names {
		if n != p.names[i] {
			return errors.Wrapf(ErrShapeMismatch, "%s: expected tensor %q at %d, got %q", p.name, p.names[i], i, n)
		}
		if !p.values[i].Shape().Eq(tensor.Shape(shapes[i])) {
			return errors.Wrapf(ErrShapeMismatch, "%s: tensor %q has shape %v, got %v", p.name, n, p.values[i].Shape(), shapes[i])
		}
	}
	return nil
}

func shapesOf(ts []*tensor.Dense) [][]int {
	retVal := make([][]int, len(ts))
	for i, t := range ts {
		retVal[i] = []int(t.Shape().Clone())
	}
	return retVal
}

type paramsRecord struct {
	Names  []string
	Shapes [][]int
	Data   [][]float32
}

// GobEncode implements gob.GobEncoder.
func (p *Params) GobEncode() ([]byte, error) {
	rec := paramsRecord{
		Names:  p.names,
		Shapes: shapesOf(p.values),
		Data:   make([][]float32, len(p.values)),
	}
	for i, v := range p.values {
		rec.Data[i] = v.Data().([]float32)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf.Bytes(), nil
}

// GobDecode loads values into an already constructed set. The names and shapes
// must match exactly.
func (p *Params) GobDecode(data []byte) error {
	var rec paramsRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return errors.WithStack(err)
	}
	if err := p.sameLayout(rec.Names, rec.Shapes); err != nil {
		return err
	}
	if len(rec.Data) != len(p.values) {
		return errors.Errorf("%s: decoded %d tensors, expected %d", p.name, len(rec.Data), len(p.values))
	}
	for i, d := range rec.Data {
		if want := p.values[i].Shape().TotalSize(); len(d) != want {
			return errors.Errorf("%s: %s has %d values, expected %d", p.name, p.names[i], len(d), want)
		}
	}
	for i, d := range rec.Data {
		copy(p.values[i].Data().([]float32), d)
	}
	return nil
}
