package models

import (
	"sort"
	"strings"
	"time"
)

// LogEntry is one logged detection, the row schema of the durable log.
type LogEntry struct {
	Timestamp     time.Time  `json:"timestamp"`
	SessionID     string     `json:"session_id"`
	FrameNumber   int        `json:"frame_number"`
	ObjectClass   string     `json:"object_class"`
	Confidence    float64    `json:"confidence"`
	BBox          [4]float64 `json:"bbox"`
	Center        [2]float64 `json:"center"`
	Area          float64    `json:"area"`
	DetectionMode string     `json:"detection_mode"`
}

// NewLogEntry flattens a detection into a log row.
func NewLogEntry(at time.Time, d Detection, frameNumber int, sessionID, mode string) LogEntry {
	return LogEntry{
		Timestamp:     at,
		SessionID:     sessionID,
		FrameNumber:   frameNumber,
		ObjectClass:   d.ClassName,
		Confidence:    d.Confidence,
		BBox:          [4]float64{d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2},
		Center:        [2]float64{d.Center.X, d.Center.Y},
		Area:          d.Area,
		DetectionMode: mode,
	}
}

// Category buckets class names for session statistics.
type Category int

const (
	CategoryOther Category = iota
	CategoryTrail
	CategoryPerson
)

// Categorize classifies a class name by substring: trail/path first, then
// person/hiker, everything else is other.
func Categorize(className string) Category {
	name := strings.ToLower(className)
	switch {
	case strings.Contains(name, "trail") || strings.Contains(name, "path"):
		return CategoryTrail
	case strings.Contains(name, "person") || strings.Contains(name, "hiker"):
		return CategoryPerson
	}
	return CategoryOther
}

// SessionStats aggregates the detections held by a logger session.
type SessionStats struct {
	SessionStart time.Time      `json:"session_start"`
	Total        int            `json:"total_detections"`
	Trail        int            `json:"trail_detections"`
	Person       int            `json:"person_detections"`
	Other        int            `json:"other_detections"`
	Classes      map[string]int `json:"classes"`
	Evicted      int            `json:"evicted"`
	Duration     time.Duration  `json:"session_duration"`
}

// NewSessionStats returns empty stats starting at start.
func NewSessionStats(start time.Time) SessionStats {
	return SessionStats{SessionStart: start, Classes: map[string]int{}}
}

// Add counts one detection of className.
func (s *SessionStats) Add(className string) {
	s.Total++
	s.Classes[className]++
	switch Categorize(className) {
	case CategoryTrail:
		s.Trail++
	case CategoryPerson:
		s.Person++
	default:
		s.Other++
	}
}

// Remove uncounts one detection of className, used on buffer eviction.
func (s *SessionStats) Remove(className string) {
	if s.Classes[className] == 0 {
		return
	}
	s.Total--
	if s.Classes[className]--; s.Classes[className] == 0 {
		delete(s.Classes, className)
	}
	switch Categorize(className) {
	case CategoryTrail:
		s.Trail--
	case CategoryPerson:
		s.Person--
	default:
		s.Other--
	}
	s.Evicted++
}

// UniqueObjects lists distinct class names in sorted order.
func (s SessionStats) UniqueObjects() []string {
	out := make([]string, 0, len(s.Classes))
	for name := range s.Classes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Clone copies the class map.
func (s SessionStats) Clone() SessionStats {
	classes := make(map[string]int, len(s.Classes))
	for k, v := range s.Classes {
		classes[k] = v
	}
	s.Classes = classes
	return s
}

// PerformanceSample is one observation at a sampling tick.
type PerformanceSample struct {
	At          time.Time `json:"at"`
	FPS         float64   `json:"fps"`
	InferenceMs float64   `json:"inference_ms"`
	CPU         float64   `json:"cpu_percent"`
	Memory      float64   `json:"memory_percent"`
	GPU         float64   `json:"gpu_percent"`
}
