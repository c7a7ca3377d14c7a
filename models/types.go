package models

import (
	"strings"
	"time"
)

// Taxonomy is the family of classes a model profile detects.
type Taxonomy string

const (
	TaxonomyCustom       Taxonomy = "custom"
	TaxonomyGeneral      Taxonomy = "general"
	TaxonomySegmentation Taxonomy = "segmentation"
)

// Valid reports whether t is one of the known taxonomies.
func (t Taxonomy) Valid() bool {
	switch t {
	case TaxonomyCustom, TaxonomyGeneral, TaxonomySegmentation:
		return true
	}
	return false
}

// ModelProfile describes a selectable detection model. Profiles are immutable
// once registered; accessors hand out copies.
type ModelProfile struct {
	Key         string   `yaml:"key" json:"key"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Path        string   `yaml:"path" json:"path"`
	Type        Taxonomy `yaml:"type" json:"type"`
	Classes     []string `yaml:"classes" json:"classes"`
	Icon        string   `yaml:"icon" json:"icon"`
	Color       string   `yaml:"color" json:"color"`
}

// Clone returns a deep copy of p.
func (p ModelProfile) Clone() ModelProfile {
	p.Classes = append([]string(nil), p.Classes...)
	return p
}

// DisplayName is the dropdown label used by the operator console.
func (p ModelProfile) DisplayName() string {
	return strings.TrimSpace(p.Icon + " " + p.Name + " - " + p.Description)
}

// Box is an axis-aligned bounding box in frame pixel space.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Normalize orders the corners so that X1 <= X2 and Y1 <= Y2.
func (b Box) Normalize() Box {
	if b.X1 > b.X2 {
		b.X1, b.X2 = b.X2, b.X1
	}
	if b.Y1 > b.Y2 {
		b.Y1, b.Y2 = b.Y2, b.Y1
	}
	return b
}

// Clamp restricts the box to [0,width]x[0,height].
func (b Box) Clamp(width, height float64) Box {
	b.X1 = clamp(b.X1, 0, width)
	b.X2 = clamp(b.X2, 0, width)
	b.Y1 = clamp(b.Y1, 0, height)
	b.Y2 = clamp(b.Y2, 0, height)
	return b
}

// Translate shifts the box by (dx, dy).
func (b Box) Translate(dx, dy float64) Box {
	b.X1 += dx
	b.X2 += dx
	b.Y1 += dy
	b.Y2 += dy
	return b
}

// Center is the midpoint of the opposite corners.
func (b Box) Center() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// Area tolerates any corner ordering.
func (b Box) Area() float64 {
	return abs(b.X2-b.X1) * abs(b.Y2-b.Y1)
}

// Point is a location in frame pixel space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// RawDetection is what an inference backend reports for one object.
type RawDetection struct {
	Box        Box
	Confidence float32
	ClassID    int
}

// Detection is one recognized object in one frame. Values are produced fresh
// per frame and never mutated afterwards.
type Detection struct {
	Box        Box     `json:"bbox"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
	Center     Point   `json:"center"`
	Area       float64 `json:"area"`
}

// NewDetection derives center and area from the box.
func NewDetection(box Box, confidence float64, classID int, className string) Detection {
	return Detection{
		Box:        box,
		Confidence: clamp(confidence, 0, 1),
		ClassID:    classID,
		ClassName:  className,
		Center:     box.Center(),
		Area:       box.Area(),
	}
}

type ProcessingTimings struct {
	RequestID   string
	Resize      time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Total       time.Duration
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
