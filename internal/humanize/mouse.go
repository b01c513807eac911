package humanize

import (
	"context"
	"math"
	"math/rand"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

// Point represents a 2D coordinate.
type Point struct {
	X, Y float64
}

// Default viewport used for random-coordinate draws when the page size is
// not known. Matches the launcher's window-size flag.
const (
	viewportWidth  = 1920.0
	viewportHeight = 1080.0
)

// Mouse provides humanized mouse interactions for a browser page.
// Movements follow cubic Bezier curves with randomized control points to
// mimic human neuromotor patterns.
type Mouse struct {
	page    *rod.Page
	profile Profile
}

// NewMouse creates a humanized mouse controller for the given page.
func NewMouse(page *rod.Page, profile Profile) *Mouse {
	return &Mouse{page: page, profile: profile}
}

// MoveTo moves the mouse to the target coordinates along a Bezier path.
func (m *Mouse) MoveTo(ctx context.Context, x, y float64) error {
	currentPos := m.page.Mouse.Position()
	start := Point{X: currentPos.X, Y: currentPos.Y}
	end := Point{X: x, Y: y}

	numSteps := 15 + rand.Intn(16)
	path := generateBezierPath(start, end, numSteps)

	for _, p := range path {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := m.page.Mouse.MoveTo(proto.NewPoint(p.X, p.Y)); err != nil {
			return err
		}

		// 3-12ms between path steps; not scaled by the profile, the
		// curve itself already encodes the motion speed.
		if !sleepWithContext(ctx, RandomDuration(3, 12)) {
			return ctx.Err()
		}
	}

	return nil
}

// PrepMoves performs 1-2 preparatory motions to random coordinates in the
// central viewport region, pausing 0.2-0.5s (scaled) between them.
func (m *Mouse) PrepMoves(ctx context.Context) error {
	moves := 1 + rand.Intn(2)
	for i := 0; i < moves; i++ {
		x := viewportWidth * (0.25 + rand.Float64()*0.5)
		y := viewportHeight * (0.25 + rand.Float64()*0.5)
		if err := m.MoveTo(ctx, x, y); err != nil {
			return err
		}
		if !m.profile.Wait(ctx, 0.2, 0.5) {
			return ctx.Err()
		}
	}
	return nil
}

// ReviewMove moves to a lower-viewport coordinate and pauses 0.5-1.0s
// (scaled), approximating a user glancing over the form before submitting.
func (m *Mouse) ReviewMove(ctx context.Context) error {
	x := viewportWidth * (0.3 + rand.Float64()*0.4)
	y := viewportHeight * (0.7 + rand.Float64()*0.2)
	if err := m.MoveTo(ctx, x, y); err != nil {
		return err
	}
	if !m.profile.Wait(ctx, 0.5, 1.0) {
		return ctx.Err()
	}
	return nil
}

// Click performs a humanized click at the target coordinates: Bezier
// approach with a small random offset, a 0.3-0.5s (scaled) settle pause,
// then the click.
func (m *Mouse) Click(ctx context.Context, x, y float64) error {
	offsetX := (rand.Float64()*2 - 1) * 5.0
	offsetY := (rand.Float64()*2 - 1) * 5.0
	targetX := x + offsetX
	targetY := y + offsetY

	if err := m.MoveTo(ctx, targetX, targetY); err != nil {
		return err
	}

	if !m.profile.Wait(ctx, 0.3, 0.5) {
		return ctx.Err()
	}

	if err := m.page.Mouse.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return err
	}

	log.Debug().
		Float64("x", targetX).
		Float64("y", targetY).
		Msg("Humanized click completed")

	return nil
}

// ClickElement performs a humanized click on the center of a DOM element.
func (m *Mouse) ClickElement(ctx context.Context, element *rod.Element) error {
	shape, err := element.Shape()
	if err != nil {
		return err
	}
	if shape == nil || len(shape.Quads) == 0 {
		return ErrElementNotVisible
	}

	quad := shape.Quads[0]
	centerX := (quad[0] + quad[2] + quad[4] + quad[6]) / 4
	centerY := (quad[1] + quad[3] + quad[5] + quad[7]) / 4

	return m.Click(ctx, centerX, centerY)
}

// generateBezierPath generates a cubic Bezier curve path between two points
// with randomized perpendicular control points and ease-in-out pacing.
func generateBezierPath(start, end Point, numPoints int) []Point {
	if numPoints < 2 {
		numPoints = 2
	}

	dx := end.X - start.X
	dy := end.Y - start.Y
	distance := math.Sqrt(dx*dx + dy*dy)

	ctrl1Offset := distance * (0.2 + rand.Float64()*0.3)
	ctrl2Offset := distance * (0.2 + rand.Float64()*0.3)

	perpDir1 := 1.0
	if rand.Float64() < 0.5 {
		perpDir1 = -1.0
	}
	perpDir2 := 1.0
	if rand.Float64() < 0.5 {
		perpDir2 = -1.0
	}

	perpX, perpY := 0.0, 0.0
	if distance > 0 {
		perpX = -dy / distance
		perpY = dx / distance
	}

	ctrl1 := Point{
		X: start.X + dx*0.33 + perpX*ctrl1Offset*perpDir1,
		Y: start.Y + dy*0.33 + perpY*ctrl1Offset*perpDir1,
	}
	ctrl2 := Point{
		X: start.X + dx*0.67 + perpX*ctrl2Offset*perpDir2,
		Y: start.Y + dy*0.67 + perpY*ctrl2Offset*perpDir2,
	}

	points := make([]Point, numPoints)
	for i := 0; i < numPoints; i++ {
		t := float64(i) / float64(numPoints-1)
		t = easeInOutCubic(t)

		mt := 1 - t
		mt2 := mt * mt
		mt3 := mt2 * mt
		t2 := t * t
		t3 := t2 * t

		points[i] = Point{
			X: mt3*start.X + 3*mt2*t*ctrl1.X + 3*mt*t2*ctrl2.X + t3*end.X,
			Y: mt3*start.Y + 3*mt2*t*ctrl1.Y + 3*mt*t2*ctrl2.Y + t3*end.Y,
		}
	}

	return points
}

// easeInOutCubic starts slow, speeds up, then slows down.
func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}
