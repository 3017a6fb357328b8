package attendance

import (
	"fmt"
	"time"
)

// Method records how an attendance record was captured.
type Method string

const (
	MethodFaceRecognition Method = "face-recognition"
	MethodManual          Method = "manual"
)

// Student is an enrolled person together with the face descriptor used to
// recognise them.
type Student struct {
	ID             string     `json:"id"`
	StudentID      string     `json:"student_id"`
	Name           string     `json:"name"`
	FaceDescriptor []float32  `json:"-"`
	Photo          []byte     `json:"-"`
	PhotoURL       string     `json:"photo_url,omitempty"`
	PhotoKey       string     `json:"-"`
	EnrolledAt     time.Time  `json:"enrolled_at"`
	LastAttendance *time.Time `json:"last_attendance,omitempty"`
}

// Record is one attendance event. Records are immutable once written.
type Record struct {
	ID         string    `json:"id"`
	StudentID  string    `json:"student_id"`
	Timestamp  time.Time `json:"timestamp"`
	Method     Method    `json:"method"`
	Confidence *float64  `json:"confidence,omitempty"`
}

// Day is a local calendar day, [Start, End).
type Day struct {
	Start time.Time
	End   time.Time
}

// DayOf returns the calendar day containing t in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return Day{Start: start, End: start.AddDate(0, 0, 1)}
}

// ParseDay parses a YYYY-MM-DD date in loc.
func ParseDay(s string, loc *time.Location) (Day, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(time.DateOnly, s, loc)
	if err != nil {
		return Day{}, fmt.Errorf("parse day %q: %w", s, err)
	}
	return DayOf(t, loc), nil
}

// Contains reports whether t falls within the day.
func (d Day) Contains(t time.Time) bool {
	return !t.Before(d.Start) && t.Before(d.End)
}

func (d Day) String() string {
	return d.Start.Format(time.DateOnly)
}
