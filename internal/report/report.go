// Package report derives attendance and class statistics from already
// fetched profile data. Everything here is a pure function over its inputs;
// fetching is the caller's job.
package report

import (
	"math"

	"github.com/edukita/schoolboard/internal/domain"
)

type AttendanceStats struct {
	TotalDays            int `json:"total_days"`
	PresentDays          int `json:"present_days"`
	LateDays             int `json:"late_days"`
	AbsentDays           int `json:"absent_days"`
	AttendancePercentage int `json:"attendance_percentage"`
}

// Attendance summarizes one student's record. An empty record is not an
// error: it reports one day and 0% so the dashboard renders something sane
// instead of dividing by zero.
func Attendance(rec domain.AttendanceRecord) AttendanceStats {
	stats := AttendanceStats{TotalDays: len(rec)}
	if stats.TotalDays == 0 {
		stats.TotalDays = 1
	}

	for _, status := range rec {
		switch status {
		case domain.AttendancePresent:
			stats.PresentDays++
		case domain.AttendanceLate:
			stats.LateDays++
		case domain.AttendanceAbsent:
			stats.AbsentDays++
		}
	}

	stats.AttendancePercentage = int(math.Round(100 * float64(stats.PresentDays) / float64(stats.TotalDays)))
	return stats
}

// ClassBuckets is the number of histogram buckets: classes 1..10 plus the
// unclassified bucket 0.
const ClassBuckets = 11

// ClassHistogram buckets students by the trailing number of their class
// label. Unparsable labels land in bucket 0 rather than failing, so one
// badly entered roster row cannot break the chart.
func ClassHistogram(students []domain.Profile) map[int]int {
	hist := make(map[int]int)
	for _, s := range students {
		hist[s.ClassNumber()]++
	}
	return hist
}

// ClassHistogramDense returns the histogram as a dense array usable directly
// as chart input, index 0 holding the unclassified count.
func ClassHistogramDense(students []domain.Profile) [ClassBuckets]int {
	var hist [ClassBuckets]int
	for _, s := range students {
		hist[s.ClassNumber()]++
	}
	return hist
}

type SchoolWideAttendance struct {
	Present int `json:"present"`
	Late    int `json:"late"`
	Absent  int `json:"absent"`
}

// SchoolWide tallies every per-date status entry across all students.
func SchoolWide(records []domain.AttendanceRecord) SchoolWideAttendance {
	var out SchoolWideAttendance
	for _, rec := range records {
		for _, status := range rec {
			switch status {
			case domain.AttendancePresent:
				out.Present++
			case domain.AttendanceLate:
				out.Late++
			case domain.AttendanceAbsent:
				out.Absent++
			}
		}
	}
	return out
}
