// Package synthetic produces range images for a spinning multi-beam lidar
// looking at a simple scene: flat ground, a cylindrical boundary wall and
// a few upright objects orbiting the sensor.
package synthetic

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// ErrConfig is returned for an unusable generator configuration.
var ErrConfig = errors.New("invalid synthetic scene")

// Config describes the simulated sensor and scene.
type Config struct {
	NumCols int
	NumRows int

	VerticalFOVDeg float64 // total vertical field of view, centred on the horizon
	SensorHeight   float64 // metres above the ground plane
	WallRadius     float64 // metres, horizontal distance to the boundary wall

	Objects      int     // number of orbiting objects
	ObjectRadius float64 // metres
	ObjectHeight float64 // metres
	OrbitRadius  float64 // metres
	OrbitSpeed   float64 // metres per second along the orbit

	NoiseStdDev float64 // metres, gaussian range noise
	DropoutRate float64 // probability in [0,1] that a return is dropped
	FrameRate   float64 // frames per second, drives object motion
	Seed        int64
}

// DefaultConfig returns a scene sized for the given image.
func DefaultConfig(numCols, numRows int) Config {
	return Config{
		NumCols:        numCols,
		NumRows:        numRows,
		VerticalFOVDeg: 45,
		SensorHeight:   1.8,
		WallRadius:     40,
		Objects:        4,
		ObjectRadius:   1.0,
		ObjectHeight:   1.7,
		OrbitRadius:    12,
		OrbitSpeed:     5,
		NoiseStdDev:    0.01,
		DropoutRate:    0.002,
		FrameRate:      10,
		Seed:           1,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.NumCols <= 0:
		return fmt.Errorf("%w: num_cols must be positive, not %d", ErrConfig, c.NumCols)
	case c.NumRows <= 0:
		return fmt.Errorf("%w: num_rows must be positive, not %d", ErrConfig, c.NumRows)
	case c.VerticalFOVDeg <= 0 || c.VerticalFOVDeg >= 180:
		return fmt.Errorf("%w: vertical fov must be in (0, 180) degrees, not %v", ErrConfig, c.VerticalFOVDeg)
	case c.SensorHeight <= 0:
		return fmt.Errorf("%w: sensor height must be positive, not %v", ErrConfig, c.SensorHeight)
	case c.WallRadius <= 0:
		return fmt.Errorf("%w: wall radius must be positive, not %v", ErrConfig, c.WallRadius)
	case c.Objects < 0:
		return fmt.Errorf("%w: object count must not be negative, not %d", ErrConfig, c.Objects)
	case c.NoiseStdDev < 0:
		return fmt.Errorf("%w: noise must not be negative, not %v", ErrConfig, c.NoiseStdDev)
	case c.DropoutRate < 0 || c.DropoutRate > 1:
		return fmt.Errorf("%w: dropout rate must be in [0, 1], not %v", ErrConfig, c.DropoutRate)
	case c.FrameRate <= 0:
		return fmt.Errorf("%w: frame rate must be positive, not %v", ErrConfig, c.FrameRate)
	}
	return nil
}

// Generator renders successive range images. It is not safe for
// concurrent use.
type Generator struct {
	cfg   Config
	rng   *rand.Rand
	frame uint64
	depth []float32
}

// NewGenerator creates a generator for cfg.
func NewGenerator(cfg Config) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Generator{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		depth: make([]float32, cfg.NumCols*cfg.NumRows),
	}, nil
}

// Config returns the generator configuration.
func (g *Generator) Config() Config {
	return g.cfg
}

// Frame returns the number of frames rendered so far.
func (g *Generator) Frame() uint64 {
	return g.frame
}

// Azimuth returns the horizontal angle in radians of a storage column.
// Columns are stored right-to-left with azimuth zero at the centre column.
func (g *Generator) Azimuth(col int) float64 {
	h := 2 * math.Pi / float64(g.cfg.NumCols)
	return float64(g.cfg.NumCols/2-col) * h
}

// Elevation returns the vertical angle in radians of a row; row 0 is the
// top beam.
func (g *Generator) Elevation(row int) float64 {
	fov := g.cfg.VerticalFOVDeg * math.Pi / 180
	if g.cfg.NumRows == 1 {
		return 0
	}
	return fov/2 - fov*float64(row)/float64(g.cfg.NumRows-1)
}

// NextFrame renders the next image as column-major depth in metres, zero
// meaning no return. The returned slice is overwritten by the next call.
func (g *Generator) NextFrame() []float32 {
	t := float64(g.frame) / g.cfg.FrameRate
	g.frame++

	centres := g.objectCentres(t)
	rows := g.cfg.NumRows
	for col := 0; col < g.cfg.NumCols; col++ {
		az := g.Azimuth(col)
		dirX, dirY := math.Cos(az), math.Sin(az)
		for row := 0; row < rows; row++ {
			d := g.trace(dirX, dirY, g.Elevation(row), centres)
			if d > 0 && g.cfg.NoiseStdDev > 0 {
				d += g.rng.NormFloat64() * g.cfg.NoiseStdDev
			}
			if g.cfg.DropoutRate > 0 && g.rng.Float64() < g.cfg.DropoutRate {
				d = 0
			}
			if d < 0 {
				d = 0
			}
			g.depth[col*rows+row] = float32(d)
		}
	}
	return g.depth
}

type point struct{ x, y float64 }

func (g *Generator) objectCentres(t float64) []point {
	if g.cfg.Objects == 0 || g.cfg.OrbitRadius <= 0 {
		return nil
	}
	omega := g.cfg.OrbitSpeed / g.cfg.OrbitRadius
	centres := make([]point, g.cfg.Objects)
	for k := range centres {
		theta := 2*math.Pi*float64(k)/float64(g.cfg.Objects) + omega*t
		centres[k] = point{g.cfg.OrbitRadius * math.Cos(theta), g.cfg.OrbitRadius * math.Sin(theta)}
	}
	return centres
}

// trace returns the range along one beam to the nearest surface.
func (g *Generator) trace(dirX, dirY, elev float64, centres []point) float64 {
	cosE := math.Cos(elev)
	tanE := math.Tan(elev)

	// Horizontal distance to the wall, shortened by the ground when looking down
	s := g.cfg.WallRadius
	if elev < 0 {
		s = math.Min(s, g.cfg.SensorHeight/-tanE)
	}

	for _, c := range centres {
		hit, ok := rayCircle(dirX, dirY, c, g.cfg.ObjectRadius)
		if !ok || hit >= s {
			continue
		}
		z := g.cfg.SensorHeight + hit*tanE
		if z >= 0 && z <= g.cfg.ObjectHeight {
			s = hit
		}
	}
	return s / cosE
}

// rayCircle intersects a ray from the origin along (dx, dy) with a circle
// and returns the distance to the near side.
func rayCircle(dx, dy float64, c point, r float64) (float64, bool) {
	b := dx*c.x + dy*c.y
	disc := b*b - (c.x*c.x + c.y*c.y - r*r)
	if disc < 0 {
		return 0, false
	}
	s := b - math.Sqrt(disc)
	if s <= 0 {
		return 0, false
	}
	return s, true
}
