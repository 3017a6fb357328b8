package attendance

import (
	"context"
	"time"
)

// Repository is the record store holding the students and attendance
// collections.
//
// Lookups of unknown students return ErrStudentNotFound; a second student
// with the same StudentID is rejected with ErrDuplicateStudentID.
type Repository interface {
	AddStudent(ctx context.Context, st Student) error
	GetStudent(ctx context.Context, id string) (*Student, error)
	GetStudentByStudentID(ctx context.Context, studentID string) (*Student, error)
	ListStudents(ctx context.Context) ([]Student, error)
	UpdateStudent(ctx context.Context, st Student) error
	DeleteStudent(ctx context.Context, id string) error

	AddAttendanceRecord(ctx context.Context, rec Record) error
	ListAttendanceByStudent(ctx context.Context, studentID string) ([]Record, error)
	ListAttendanceBetween(ctx context.Context, from, to time.Time) ([]Record, error)

	// RecordAttendanceOnce inserts rec and sets the student's last attendance
	// to rec.Timestamp, unless the student already has a record within day.
	// In that case the existing record is returned and nothing is written.
	// The check and the insert are one atomic operation.
	RecordAttendanceOnce(ctx context.Context, rec Record, day Day) (*Record, error)

	Close() error
}

// Embedder turns an image into a face descriptor. ExtractDescriptor returns
// a nil descriptor and no error when the image holds no face.
type Embedder interface {
	Init(ctx context.Context) error
	ExtractDescriptor(ctx context.Context, image []byte) ([]float32, error)
}

// PhotoStore keeps student photos outside the record store. Put returns a
// public URL, or "" when the photo is only reachable through Get.
type PhotoStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (url string, err error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

const (
	EventStudentEnrolled  = "student.enrolled"
	EventStudentDeleted   = "student.deleted"
	EventAttendanceMarked = "attendance.marked"
)

// Event describes a completed write, published after it is persisted.
type Event struct {
	Type      string    `json:"type"`
	StudentID string    `json:"student_id"`
	Name      string    `json:"name,omitempty"`
	Record    *Record   `json:"record,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier receives events. Delivery failures never fail the workflow.
type Notifier interface {
	Notify(ctx context.Context, evt Event) error
}
