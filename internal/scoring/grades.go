package scoring

// gradeBoundary maps a minimum percentage to a letter grade. Ordered from
// highest boundary down; the first match wins.
type gradeBoundary struct {
	Grade string
	Min   float64
}

var gradeBoundaries = []gradeBoundary{
	{"A+", 95},
	{"A", 90},
	{"A-", 85},
	{"B+", 80},
	{"B", 75},
	{"B-", 70},
	{"C+", 65},
	{"C", 60},
	{"C-", 55},
	{"D", 50},
	{"F", 0},
}

// GradeFor returns the letter grade for a percentage in [0,100].
func GradeFor(percentage float64) string {
	for _, b := range gradeBoundaries {
		if percentage >= b.Min {
			return b.Grade
		}
	}
	return "F"
}
