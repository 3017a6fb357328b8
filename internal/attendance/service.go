package attendance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"faceattend/internal/matcher"
	"faceattend/internal/observability"
)

// DefaultMatchThreshold is the minimum confidence a scan must exceed.
const DefaultMatchThreshold = 0.5

// Options configures a Service. Zero values fall back to defaults except
// Threshold, which is used as given.
type Options struct {
	Threshold float64
	Location  *time.Location
	Photos    PhotoStore
	Notifier  Notifier
	Now       func() time.Time
}

// Service runs the enrollment and attendance workflows.
type Service struct {
	repo      Repository
	embedder  Embedder
	photos    PhotoStore
	notifier  Notifier
	threshold float64
	loc       *time.Location
	now       func() time.Time
	logger    *zap.Logger
}

// NewService creates a service backed by a repository and an embedder.
func NewService(repo Repository, embedder Embedder, opts Options, logger *zap.Logger) *Service {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:      repo,
		embedder:  embedder,
		photos:    opts.Photos,
		notifier:  opts.Notifier,
		threshold: opts.Threshold,
		loc:       opts.Location,
		now:       opts.Now,
		logger:    logger,
	}
}

// Threshold returns the configured match threshold.
func (s *Service) Threshold() float64 { return s.threshold }

// Location returns the time zone calendar days are computed in.
func (s *Service) Location() *time.Location { return s.loc }

// EnrollRequest carries the enrollment form.
type EnrollRequest struct {
	Name      string
	StudentID string
	Image     []byte
}

// Enroll registers a new student from a captured photo.
func (s *Service) Enroll(ctx context.Context, req EnrollRequest) (st Student, err error) {
	defer func() { observability.Enrollments.WithLabelValues(Code(err)).Inc() }()

	name := strings.TrimSpace(req.Name)
	studentID := strings.TrimSpace(req.StudentID)
	if name == "" || studentID == "" || len(req.Image) == 0 {
		return Student{}, fmt.Errorf("name, student id and photo are required: %w", ErrMissingInput)
	}

	descriptor, err := s.extract(ctx, req.Image)
	if err != nil {
		return Student{}, err
	}

	existing, err := s.repo.GetStudentByStudentID(ctx, studentID)
	switch {
	case err == nil && existing != nil:
		return Student{}, ErrDuplicateStudentID
	case err != nil && !errors.Is(err, ErrStudentNotFound):
		return Student{}, s.storageErr("lookup student id", err)
	}

	st = Student{
		ID:             uuid.NewString(),
		StudentID:      studentID,
		Name:           name,
		FaceDescriptor: descriptor,
		EnrolledAt:     s.now(),
	}
	if s.photos != nil {
		key := "students/" + st.ID
		url, err := s.photos.Put(ctx, key, req.Image, http.DetectContentType(req.Image))
		if err != nil {
			return Student{}, s.storageErr("store photo", err)
		}
		st.PhotoURL, st.PhotoKey = url, key
	} else {
		st.Photo = req.Image
	}

	if err := s.repo.AddStudent(ctx, st); err != nil {
		s.discardPhoto(ctx, st)
		if errors.Is(err, ErrDuplicateStudentID) {
			return Student{}, ErrDuplicateStudentID
		}
		return Student{}, s.storageErr("add student", err)
	}

	s.logger.Info("student enrolled",
		zap.String("id", st.ID),
		zap.String("student_id", st.StudentID),
	)
	s.notify(ctx, Event{Type: EventStudentEnrolled, StudentID: st.ID, Name: st.Name, At: st.EnrolledAt})
	return st, nil
}

// ScanResult is the outcome of a recognised scan. With ErrAlreadyMarked,
// Record is the record that already existed for today.
type ScanResult struct {
	Student    Student `json:"student"`
	Record     Record  `json:"record"`
	Confidence float64 `json:"confidence"`
}

// Scan recognises the face in image and marks the matching student present.
// A student already marked today yields a populated result together with
// ErrAlreadyMarked.
func (s *Service) Scan(ctx context.Context, image []byte) (res ScanResult, err error) {
	defer func() { observability.Scans.WithLabelValues(Code(err)).Inc() }()

	students, err := s.repo.ListStudents(ctx)
	if err != nil {
		return ScanResult{}, s.storageErr("list students", err)
	}
	if len(students) == 0 {
		return ScanResult{}, ErrNoStudentsEnrolled
	}
	if len(image) == 0 {
		return ScanResult{}, fmt.Errorf("scan image is required: %w", ErrMissingInput)
	}

	descriptor, err := s.extract(ctx, image)
	if err != nil {
		return ScanResult{}, err
	}

	candidates := make([]matcher.Candidate, 0, len(students))
	byID := make(map[string]Student, len(students))
	for _, st := range students {
		candidates = append(candidates, matcher.Candidate{ID: st.ID, Descriptor: st.FaceDescriptor})
		byID[st.ID] = st
	}

	match, ok := matcher.FindBestMatch(descriptor, candidates, s.threshold)
	if !ok {
		s.logger.Debug("scan not recognized", zap.Int("candidates", len(candidates)))
		return ScanResult{}, ErrNotRecognized
	}
	observability.MatchConfidence.Observe(match.Confidence)

	student := byID[match.ID]
	confidence := match.Confidence
	rec, err := s.recordOnce(ctx, &student, MethodFaceRecognition, &confidence)
	if err != nil && !errors.Is(err, ErrAlreadyMarked) {
		return ScanResult{}, err
	}
	return ScanResult{Student: student, Record: rec, Confidence: confidence}, err
}

// MarkManual records attendance for a student without a scan.
func (s *Service) MarkManual(ctx context.Context, id string) (Student, Record, error) {
	student, err := s.GetStudent(ctx, id)
	if err != nil {
		return Student{}, Record{}, err
	}
	rec, err := s.recordOnce(ctx, &student, MethodManual, nil)
	if err != nil && !errors.Is(err, ErrAlreadyMarked) {
		return Student{}, Record{}, err
	}
	return student, rec, err
}

func (s *Service) recordOnce(ctx context.Context, student *Student, method Method, confidence *float64) (Record, error) {
	now := s.now()
	rec := Record{
		ID:         uuid.NewString(),
		StudentID:  student.ID,
		Timestamp:  now,
		Method:     method,
		Confidence: confidence,
	}

	existing, err := s.repo.RecordAttendanceOnce(ctx, rec, DayOf(now, s.loc))
	if err != nil {
		if errors.Is(err, ErrStudentNotFound) {
			return Record{}, ErrStudentNotFound
		}
		return Record{}, s.storageErr("record attendance", err)
	}
	if existing != nil {
		s.logger.Info("attendance already marked",
			zap.String("student", student.ID),
			zap.Time("at", existing.Timestamp),
		)
		return *existing, ErrAlreadyMarked
	}

	student.LastAttendance = &now
	observability.AttendanceMarked.WithLabelValues(string(method)).Inc()
	s.logger.Info("attendance marked",
		zap.String("student", student.ID),
		zap.String("method", string(method)),
	)
	s.notify(ctx, Event{Type: EventAttendanceMarked, StudentID: student.ID, Name: student.Name, Record: &rec, At: now})
	return rec, nil
}

// GetStudent returns one student by id.
func (s *Service) GetStudent(ctx context.Context, id string) (Student, error) {
	st, err := s.repo.GetStudent(ctx, id)
	if err != nil {
		if errors.Is(err, ErrStudentNotFound) {
			return Student{}, ErrStudentNotFound
		}
		return Student{}, s.storageErr("get student", err)
	}
	return *st, nil
}

// ListStudents returns enrolled students ordered by enrollment time. A
// non-empty query keeps students whose name or student id contains it,
// ignoring case and diacritics.
func (s *Service) ListStudents(ctx context.Context, query string) ([]Student, error) {
	students, err := s.repo.ListStudents(ctx)
	if err != nil {
		return nil, s.storageErr("list students", err)
	}
	sort.SliceStable(students, func(i, j int) bool {
		return students[i].EnrolledAt.Before(students[j].EnrolledAt)
	})
	if strings.TrimSpace(query) == "" {
		return students, nil
	}
	out := students[:0]
	for _, st := range students {
		if MatchesQuery(st, query) {
			out = append(out, st)
		}
	}
	return out, nil
}

// DeleteStudent removes a student. Their attendance history is kept.
func (s *Service) DeleteStudent(ctx context.Context, id string) error {
	st, err := s.GetStudent(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteStudent(ctx, id); err != nil {
		if errors.Is(err, ErrStudentNotFound) {
			return ErrStudentNotFound
		}
		return s.storageErr("delete student", err)
	}
	s.discardPhoto(ctx, st)
	s.logger.Info("student deleted", zap.String("id", id))
	s.notify(ctx, Event{Type: EventStudentDeleted, StudentID: id, Name: st.Name, At: s.now()})
	return nil
}

// Photo is a student's stored photo: inline bytes or an external URL.
type Photo struct {
	Data        []byte
	ContentType string
	URL         string
}

// StudentPhoto returns the enrollment photo of a student.
func (s *Service) StudentPhoto(ctx context.Context, id string) (Photo, error) {
	st, err := s.GetStudent(ctx, id)
	if err != nil {
		return Photo{}, err
	}
	if len(st.Photo) > 0 {
		return Photo{Data: st.Photo, ContentType: http.DetectContentType(st.Photo)}, nil
	}
	if st.PhotoURL != "" || st.PhotoKey == "" || s.photos == nil {
		return Photo{URL: st.PhotoURL}, nil
	}
	data, err := s.photos.Get(ctx, st.PhotoKey)
	if err != nil {
		return Photo{}, s.storageErr("load photo", err)
	}
	return Photo{Data: data, ContentType: http.DetectContentType(data)}, nil
}

// StudentAttendance returns the records of one student, newest first.
func (s *Service) StudentAttendance(ctx context.Context, id string) ([]Record, error) {
	if _, err := s.GetStudent(ctx, id); err != nil {
		return nil, err
	}
	records, err := s.repo.ListAttendanceByStudent(ctx, id)
	if err != nil {
		return nil, s.storageErr("list student attendance", err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	return records, nil
}

// Today returns the current calendar day.
func (s *Service) Today() Day {
	return DayOf(s.now(), s.loc)
}

// TodayAttendance returns every record of the current calendar day.
func (s *Service) TodayAttendance(ctx context.Context) ([]Record, error) {
	return s.AttendanceOn(ctx, s.Today())
}

// AttendanceOn returns the records of one calendar day, oldest first.
func (s *Service) AttendanceOn(ctx context.Context, day Day) ([]Record, error) {
	records, err := s.repo.ListAttendanceBetween(ctx, day.Start, day.End)
	if err != nil {
		return nil, s.storageErr("list attendance", err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	return records, nil
}

// PresentEntry pairs a present student with the record that marked them.
type PresentEntry struct {
	Student Student `json:"student"`
	Record  Record  `json:"record"`
}

// Summary splits the enrolled students into present and absent for a day.
type Summary struct {
	Date    string         `json:"date"`
	Present []PresentEntry `json:"present"`
	Absent  []Student      `json:"absent"`
}

// TodaySummary returns who is present and who is absent today.
func (s *Service) TodaySummary(ctx context.Context) (Summary, error) {
	return s.SummaryOn(ctx, s.Today())
}

// SummaryOn returns who was present and who was absent on day.
func (s *Service) SummaryOn(ctx context.Context, day Day) (Summary, error) {
	students, err := s.ListStudents(ctx, "")
	if err != nil {
		return Summary{}, err
	}
	records, err := s.AttendanceOn(ctx, day)
	if err != nil {
		return Summary{}, err
	}

	first := make(map[string]Record, len(records))
	for _, r := range records {
		if _, ok := first[r.StudentID]; !ok {
			first[r.StudentID] = r
		}
	}

	sum := Summary{Date: day.String(), Present: []PresentEntry{}, Absent: []Student{}}
	for _, st := range students {
		if r, ok := first[st.ID]; ok {
			sum.Present = append(sum.Present, PresentEntry{Student: st, Record: r})
		} else {
			sum.Absent = append(sum.Absent, st)
		}
	}
	return sum, nil
}

func (s *Service) extract(ctx context.Context, image []byte) ([]float32, error) {
	if err := s.embedder.Init(ctx); err != nil {
		return nil, fmt.Errorf("init embedder: %w", errors.Join(ErrProviderUnavailable, err))
	}
	descriptor, err := s.embedder.ExtractDescriptor(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("extract descriptor: %w", errors.Join(ErrProviderUnavailable, err))
	}
	if len(descriptor) == 0 {
		return nil, ErrNoFaceDetected
	}
	return descriptor, nil
}

func (s *Service) storageErr(op string, err error) error {
	s.logger.Error("storage operation failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%s: %w", op, errors.Join(ErrStorageFailure, err))
}

func (s *Service) discardPhoto(ctx context.Context, st Student) {
	if s.photos == nil || st.PhotoKey == "" {
		return
	}
	if err := s.photos.Delete(ctx, st.PhotoKey); err != nil {
		s.logger.Warn("photo cleanup failed", zap.String("key", st.PhotoKey), zap.Error(err))
	}
}

func (s *Service) notify(ctx context.Context, evt Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, evt); err != nil {
		s.logger.Warn("event delivery failed", zap.String("type", evt.Type), zap.Error(err))
	}
}
