package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/qphone/internal/db"
)

// series is one named line of a chart.
type series struct {
	name string
	pts  plotter.XYs
}

// plotSession writes the charts for a session into dir and returns their paths.
func plotSession(database *db.DB, sessionID, dir string) ([]string, error) {
	samples, err := database.Samples(sessionID)
	if err != nil {
		return nil, fmt.Errorf("load samples: %w", err)
	}
	cmds, err := database.MotorCommands(sessionID)
	if err != nil {
		return nil, fmt.Errorf("load motor commands: %w", err)
	}
	if len(samples) == 0 && len(cmds) == 0 {
		return nil, fmt.Errorf("session %s has no data", sessionID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create directory: %w", err)
	}

	var t0 time.Time
	switch {
	case len(samples) > 0 && len(cmds) > 0:
		t0 = samples[0].Timestamp
		if cmds[0].Timestamp.Before(t0) {
			t0 = cmds[0].Timestamp
		}
	case len(samples) > 0:
		t0 = samples[0].Timestamp
	default:
		t0 = cmds[0].Timestamp
	}
	secs := func(t time.Time) float64 { return t.Sub(t0).Seconds() }

	var files []string
	save := func(name, title, ylabel string, lines []series) error {
		path := filepath.Join(dir, name)
		if err := savePlot(path, title, ylabel, lines); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		files = append(files, path)
		return nil
	}

	if len(samples) > 0 {
		height := series{name: "height", pts: make(plotter.XYs, len(samples))}
		roll := series{name: "roll", pts: make(plotter.XYs, len(samples))}
		pitch := series{name: "pitch", pts: make(plotter.XYs, len(samples))}
		yaw := series{name: "yaw", pts: make(plotter.XYs, len(samples))}
		for i, s := range samples {
			x := secs(s.Timestamp)
			height.pts[i] = plotter.XY{X: x, Y: s.Height}
			roll.pts[i] = plotter.XY{X: x, Y: s.Roll}
			pitch.pts[i] = plotter.XY{X: x, Y: s.Pitch}
			yaw.pts[i] = plotter.XY{X: x, Y: s.Yaw}
		}
		if err := save("height.png", "Measured height", "Height (m)", []series{height}); err != nil {
			return files, err
		}
		if err := save("attitude.png", "Measured attitude", "Angle (rad)", []series{roll, pitch, yaw}); err != nil {
			return files, err
		}
	}

	if len(cmds) > 0 {
		motors := make([]series, 4)
		outputs := make([]series, 4)
		for m := range motors {
			motors[m] = series{name: fmt.Sprintf("m%d", m), pts: make(plotter.XYs, len(cmds))}
		}
		for i, name := range []string{"thrust", "roll", "pitch", "yaw"} {
			outputs[i] = series{name: name, pts: make(plotter.XYs, len(cmds))}
		}
		for i, c := range cmds {
			x := secs(c.Timestamp)
			for m := range motors {
				motors[m].pts[i] = plotter.XY{X: x, Y: c.Speeds[m]}
				outputs[m].pts[i] = plotter.XY{X: x, Y: c.Output[m]}
			}
		}
		if err := save("motors.png", "Motor speeds", "Speed (rad/s)", motors); err != nil {
			return files, err
		}
		if err := save("outputs.png", "Controller outputs", "Output", outputs); err != nil {
			return files, err
		}
	}
	return files, nil
}

func savePlot(path, title, ylabel string, lines []series) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = ylabel
	p.Add(plotter.NewGrid())

	for i, s := range lines {
		line, err := plotter.NewLine(s.pts)
		if err != nil {
			return fmt.Errorf("%s line: %w", s.name, err)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(s.name, line)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return p.Save(10*vg.Inch, 4*vg.Inch, path)
}
