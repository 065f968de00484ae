package analysis

import (
	"errors"
	"os"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Curve is a per-episode series with its rolling mean
type Curve struct {
	Episodes []int     `json:"episodes"`
	Values   []float64 `json:"values"`
	Rolling  []float64 `json:"rolling"`
	Window   int       `json:"window"`
}

func newCurve(window int) *Curve {
	if window <= 0 {
		window = 1
	}
	return &Curve{
		Episodes: make([]int, 0),
		Values:   make([]float64, 0),
		Rolling:  make([]float64, 0),
		Window:   window,
	}
}

func (c *Curve) add(episode int, v float64) {
	c.Episodes = append(c.Episodes, episode)
	c.Values = append(c.Values, v)
	start := len(c.Values) - c.Window
	if start < 0 {
		start = 0
	}
	c.Rolling = append(c.Rolling, stat.Mean(c.Values[start:], nil))
}

func (c *Curve) Len() int {
	return len(c.Values)
}

// Last returns the latest rolling mean
func (c *Curve) Last() float64 {
	if len(c.Rolling) == 0 {
		return 0
	}
	return c.Rolling[len(c.Rolling)-1]
}

func (c *Curve) Copy() *Curve {
	return &Curve{
		Episodes: append([]int(nil), c.Episodes...),
		Values:   append([]float64(nil), c.Values...),
		Rolling:  append([]float64(nil), c.Rolling...),
		Window:   c.Window,
	}
}

// plotCurves draws the rolling mean of every curve on one chart
func plotCurves(file, title, yLabel string, names []string, curves []*Curve) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Episode"
	p.Y.Label.Text = yLabel
	p.Legend.Top = true

	drawn := 0
	for i, c := range curves {
		if c == nil || c.Len() == 0 {
			continue
		}
		points := make(plotter.XYs, c.Len())
		for j := range c.Rolling {
			points[j] = plotter.XY{
				X: float64(c.Episodes[j]),
				Y: c.Rolling[j],
			}
		}
		line, err := plotter.NewLine(points)
		if err != nil {
			continue
		}
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(names[i], line)
		drawn++
	}
	if drawn == 0 {
		return errors.New("nothing to plot")
	}
	return p.Save(8*vg.Inch, 8*vg.Inch, file)
}

func ensureDir(dir string) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		os.MkdirAll(dir, 0755)
	}
}
