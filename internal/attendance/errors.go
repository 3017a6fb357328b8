package attendance

import "errors"

var (
	ErrMissingInput        = errors.New("required input missing")
	ErrNoFaceDetected      = errors.New("no face detected in image")
	ErrDuplicateStudentID  = errors.New("student id already enrolled")
	ErrNoStudentsEnrolled  = errors.New("no students enrolled")
	ErrNotRecognized       = errors.New("face not recognized")
	ErrAlreadyMarked       = errors.New("attendance already marked today")
	ErrStudentNotFound     = errors.New("student not found")
	ErrStorageFailure      = errors.New("storage failure")
	ErrProviderUnavailable = errors.New("embedding provider unavailable")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrMissingInput, "missing_input"},
	{ErrNoFaceDetected, "no_face_detected"},
	{ErrDuplicateStudentID, "duplicate_student_id"},
	{ErrNoStudentsEnrolled, "no_students_enrolled"},
	{ErrNotRecognized, "not_recognized"},
	{ErrAlreadyMarked, "already_marked"},
	{ErrStudentNotFound, "student_not_found"},
	{ErrStorageFailure, "storage_failure"},
	{ErrProviderUnavailable, "provider_unavailable"},
}

// Code returns a stable machine-readable code for err: "ok" for nil,
// "internal" for anything outside the workflow taxonomy.
func Code(err error) string {
	if err == nil {
		return "ok"
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}
