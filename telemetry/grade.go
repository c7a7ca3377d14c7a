package telemetry

// Grade is a coarse rating of live performance.
type Grade struct {
	Grade string `json:"grade"`
	Label string `json:"label"`
	Color string `json:"color"`
}

type gradeRule struct {
	minFPS, maxCPU, maxMemory float64
	grade                     Grade
}

// gradeTable is checked top down; a row matches when average FPS is at least
// minFPS and CPU and memory are strictly below their bounds.
var gradeTable = []gradeRule{
	{25, 70, 80, Grade{"A+", "Excellent", "#00ff41"}},
	{20, 80, 85, Grade{"A", "Very Good", "#00d4ff"}},
	{15, 85, 90, Grade{"B", "Good", "#ffff00"}},
	{10, 90, 95, Grade{"C", "Fair", "#ff8000"}},
}

var poorGrade = Grade{"D", "Poor", "#ff0080"}

// Evaluate maps stats onto the grade table.
func Evaluate(s Stats) Grade {
	for _, r := range gradeTable {
		if s.AverageFPS >= r.minFPS && s.CPU < r.maxCPU && s.Memory < r.maxMemory {
			return r.grade
		}
	}
	return poorGrade
}
