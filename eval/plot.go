package eval

import (
	"image/color"
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

var (
	truthColor      = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
	translatedColor = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}
)

func histogramXYs(hist []float64) plotter.XYs {
	xys := make(plotter.XYs, len(hist))
	for i, v := range hist {
		xys[i].X = float64(i)
		xys[i].Y = v
	}
	return xys
}

func channelPlot(title string, truth, translated []float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "intensity"
	p.Y.Label.Text = "frequency"

	a, err := plotter.NewLine(histogramXYs(truth))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	a.Color = truthColor
	b, err := plotter.NewLine(histogramXYs(translated))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	b.Color = translatedColor
	b.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	p.Add(a, b)
	p.Legend.Add("real", a)
	p.Legend.Add("translated", b)
	p.Legend.Top = true
	return p, nil
}

// PlotHistograms writes the LAB channel histograms of a real and a translated
// image side by side into a PNG file.
func PlotHistograms(truth, translated LAB, title, filename string) error {
	row := make([]*plot.Plot, 0, 3)
	for c, name := range ChannelNames {
		p, err := channelPlot(title+" - "+name, Histogram(truth.Planes[c]), Histogram(translated.Planes[c]))
		if err != nil {
			return err
		}
		row = append(row, p)
	}
	plots := [][]*plot.Plot{row}

	const w, h = 15 * vg.Inch, 4 * vg.Inch
	img := vgimg.New(w, h)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: 1,
		Cols: len(row),
		PadX: vg.Millimeter * 4,
		PadY: vg.Millimeter * 4,

		PadTop:    vg.Millimeter * 2,
		PadBottom: vg.Millimeter * 2,
		PadLeft:   vg.Millimeter * 2,
		PadRight:  vg.Millimeter * 2,
	}
	canvases := plot.Align(plots, tiles, dc)
	for j, p := range row {
		p.Draw(canvases[0][j])
	}

	f, err := os.Create(filename)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()
	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(f); err != nil {
		return errors.Wrapf(err, "writing %v", filename)
	}
	return errors.WithStack(f.Close())
}

// PlotDistances writes a histogram of per-image distances into a PNG file.
func PlotDistances(values []float64, title, filename string) error {
	if len(values) == 0 {
		return errors.New("no values to plot")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "distance"
	p.Y.Label.Text = "images"

	hist, err := plotter.NewHist(plotter.Values(values), 20)
	if err != nil {
		return errors.WithStack(err)
	}
	p.Add(hist)
	return errors.WithStack(p.Save(8*vg.Inch, 6*vg.Inch, filename))
}
