package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"faceattend/internal/attendance"
)

// runRepositoryTests exercises the behaviour every record store shares.
func runRepositoryTests(t *testing.T, open func(t *testing.T) attendance.Repository) {
	t.Run("students", func(t *testing.T) { testStudents(t, open(t)) })
	t.Run("duplicate student id", func(t *testing.T) { testDuplicate(t, open(t)) })
	t.Run("attendance queries", func(t *testing.T) { testAttendanceQueries(t, open(t)) })
	t.Run("record once", func(t *testing.T) { testRecordOnce(t, open(t)) })
	t.Run("record once concurrent", func(t *testing.T) { testRecordOnceConcurrent(t, open(t)) })
}

var base = time.Date(2026, 3, 9, 8, 30, 0, 0, time.UTC)

func newStudent(id, studentID, name string, enrolled time.Time) attendance.Student {
	return attendance.Student{
		ID:             id,
		StudentID:      studentID,
		Name:           name,
		FaceDescriptor: []float32{0.1, -0.25, 0.5, 0.75},
		Photo:          []byte{0xff, 0xd8, 0xff},
		EnrolledAt:     enrolled,
	}
}

func testStudents(t *testing.T, repo attendance.Repository) {
	ctx := context.Background()
	a := newStudent("a", "S1", "Alice", base)
	b := newStudent("b", "S2", "Bob", base.Add(time.Minute))
	b.Photo = nil
	b.PhotoURL = "https://cdn.example.com/b.jpg"
	b.PhotoKey = "students/b"
	for _, st := range []attendance.Student{a, b} {
		if err := repo.AddStudent(ctx, st); err != nil {
			t.Fatalf("AddStudent(%s): %v", st.ID, err)
		}
	}

	got, err := repo.GetStudent(ctx, "a")
	if err != nil {
		t.Fatalf("GetStudent: %v", err)
	}
	if got.Name != "Alice" || got.StudentID != "S1" {
		t.Fatalf("unexpected student %+v", got)
	}
	if len(got.FaceDescriptor) != 4 || got.FaceDescriptor[1] != -0.25 || got.FaceDescriptor[3] != 0.75 {
		t.Fatalf("descriptor not preserved: %v", got.FaceDescriptor)
	}
	if string(got.Photo) != string(a.Photo) {
		t.Fatalf("photo not preserved: %v", got.Photo)
	}
	if !got.EnrolledAt.Equal(base) {
		t.Fatalf("enrolled_at = %v, want %v", got.EnrolledAt, base)
	}
	if got.LastAttendance != nil {
		t.Fatalf("expected no last attendance, got %v", got.LastAttendance)
	}

	byID, err := repo.GetStudentByStudentID(ctx, "S2")
	if err != nil {
		t.Fatalf("GetStudentByStudentID: %v", err)
	}
	if byID.ID != "b" || byID.PhotoURL != b.PhotoURL || byID.PhotoKey != b.PhotoKey || len(byID.Photo) != 0 {
		t.Fatalf("unexpected student %+v", byID)
	}

	list, err := repo.ListStudents(ctx)
	if err != nil {
		t.Fatalf("ListStudents: %v", err)
	}
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("unexpected list %+v", list)
	}

	last := base.Add(time.Hour)
	a.Name = "Alice Smith"
	a.LastAttendance = &last
	if err := repo.UpdateStudent(ctx, a); err != nil {
		t.Fatalf("UpdateStudent: %v", err)
	}
	got, _ = repo.GetStudent(ctx, "a")
	if got.Name != "Alice Smith" || got.LastAttendance == nil || !got.LastAttendance.Equal(last) {
		t.Fatalf("update not applied: %+v", got)
	}

	if err := repo.DeleteStudent(ctx, "b"); err != nil {
		t.Fatalf("DeleteStudent: %v", err)
	}
	if _, err := repo.GetStudent(ctx, "b"); !errors.Is(err, attendance.ErrStudentNotFound) {
		t.Fatalf("GetStudent after delete = %v, want ErrStudentNotFound", err)
	}
	if err := repo.DeleteStudent(ctx, "b"); !errors.Is(err, attendance.ErrStudentNotFound) {
		t.Fatalf("second delete = %v, want ErrStudentNotFound", err)
	}
	if err := repo.UpdateStudent(ctx, b); !errors.Is(err, attendance.ErrStudentNotFound) {
		t.Fatalf("update of deleted = %v, want ErrStudentNotFound", err)
	}
	if _, err := repo.GetStudentByStudentID(ctx, "S2"); !errors.Is(err, attendance.ErrStudentNotFound) {
		t.Fatalf("lookup of deleted = %v, want ErrStudentNotFound", err)
	}
}

func testDuplicate(t *testing.T, repo attendance.Repository) {
	ctx := context.Background()
	if err := repo.AddStudent(ctx, newStudent("a", "S1", "Alice", base)); err != nil {
		t.Fatalf("AddStudent: %v", err)
	}
	err := repo.AddStudent(ctx, newStudent("b", "S1", "Imposter", base))
	if !errors.Is(err, attendance.ErrDuplicateStudentID) {
		t.Fatalf("AddStudent duplicate = %v, want ErrDuplicateStudentID", err)
	}
	list, _ := repo.ListStudents(ctx)
	if len(list) != 1 {
		t.Fatalf("expected one student after rejected duplicate, got %d", len(list))
	}
}

func testAttendanceQueries(t *testing.T, repo attendance.Repository) {
	ctx := context.Background()
	if err := repo.AddStudent(ctx, newStudent("a", "S1", "Alice", base)); err != nil {
		t.Fatalf("AddStudent: %v", err)
	}
	conf := 0.82
	records := []attendance.Record{
		{ID: "r1", StudentID: "a", Timestamp: base, Method: attendance.MethodManual},
		{ID: "r2", StudentID: "a", Timestamp: base.Add(24 * time.Hour), Method: attendance.MethodFaceRecognition, Confidence: &conf},
		{ID: "r3", StudentID: "x", Timestamp: base.Add(2 * time.Hour), Method: attendance.MethodManual},
	}
	for _, rec := range records {
		if err := repo.AddAttendanceRecord(ctx, rec); err != nil {
			t.Fatalf("AddAttendanceRecord(%s): %v", rec.ID, err)
		}
	}

	mine, err := repo.ListAttendanceByStudent(ctx, "a")
	if err != nil {
		t.Fatalf("ListAttendanceByStudent: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("expected 2 records, got %d", len(mine))
	}
	for _, rec := range mine {
		if rec.ID == "r2" {
			if rec.Confidence == nil || *rec.Confidence != conf || rec.Method != attendance.MethodFaceRecognition {
				t.Fatalf("face record not preserved: %+v", rec)
			}
		}
		if rec.ID == "r1" && rec.Confidence != nil {
			t.Fatalf("manual record gained a confidence: %+v", rec)
		}
	}

	day := attendance.DayOf(base, time.UTC)
	between, err := repo.ListAttendanceBetween(ctx, day.Start, day.End)
	if err != nil {
		t.Fatalf("ListAttendanceBetween: %v", err)
	}
	if len(between) != 2 {
		t.Fatalf("expected 2 records on %s, got %+v", day, between)
	}
	for _, rec := range between {
		if rec.ID == "r2" {
			t.Fatalf("record from the next day returned: %+v", rec)
		}
	}
}

func testRecordOnce(t *testing.T, repo attendance.Repository) {
	ctx := context.Background()
	if err := repo.AddStudent(ctx, newStudent("a", "S1", "Alice", base)); err != nil {
		t.Fatalf("AddStudent: %v", err)
	}
	day := attendance.DayOf(base, time.UTC)

	first := attendance.Record{ID: "r1", StudentID: "a", Timestamp: base, Method: attendance.MethodManual}
	existing, err := repo.RecordAttendanceOnce(ctx, first, day)
	if err != nil || existing != nil {
		t.Fatalf("first RecordAttendanceOnce = %v, %v", existing, err)
	}
	st, _ := repo.GetStudent(ctx, "a")
	if st.LastAttendance == nil || !st.LastAttendance.Equal(base) {
		t.Fatalf("last attendance = %v, want %v", st.LastAttendance, base)
	}

	second := attendance.Record{ID: "r2", StudentID: "a", Timestamp: base.Add(3 * time.Hour), Method: attendance.MethodManual}
	existing, err = repo.RecordAttendanceOnce(ctx, second, day)
	if err != nil {
		t.Fatalf("second RecordAttendanceOnce: %v", err)
	}
	if existing == nil || existing.ID != "r1" || !existing.Timestamp.Equal(base) {
		t.Fatalf("expected existing r1, got %+v", existing)
	}
	recs, _ := repo.ListAttendanceByStudent(ctx, "a")
	if len(recs) != 1 {
		t.Fatalf("expected a single record, got %d", len(recs))
	}
	st, _ = repo.GetStudent(ctx, "a")
	if !st.LastAttendance.Equal(base) {
		t.Fatalf("last attendance moved to %v", st.LastAttendance)
	}

	next := attendance.Record{ID: "r3", StudentID: "a", Timestamp: base.Add(24 * time.Hour), Method: attendance.MethodManual}
	existing, err = repo.RecordAttendanceOnce(ctx, next, attendance.DayOf(next.Timestamp, time.UTC))
	if err != nil || existing != nil {
		t.Fatalf("next day RecordAttendanceOnce = %v, %v", existing, err)
	}

	ghost := attendance.Record{ID: "r4", StudentID: "nobody", Timestamp: base, Method: attendance.MethodManual}
	if _, err := repo.RecordAttendanceOnce(ctx, ghost, day); !errors.Is(err, attendance.ErrStudentNotFound) {
		t.Fatalf("unknown student = %v, want ErrStudentNotFound", err)
	}
}

func testRecordOnceConcurrent(t *testing.T, repo attendance.Repository) {
	ctx := context.Background()
	if err := repo.AddStudent(ctx, newStudent("a", "S1", "Alice", base)); err != nil {
		t.Fatalf("AddStudent: %v", err)
	}
	day := attendance.DayOf(base, time.UTC)

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := attendance.Record{
				ID:        "r" + string(rune('a'+i)),
				StudentID: "a",
				Timestamp: base.Add(time.Duration(i) * time.Minute),
				Method:    attendance.MethodManual,
			}
			existing, err := repo.RecordAttendanceOnce(ctx, rec, day)
			if err != nil {
				t.Errorf("RecordAttendanceOnce: %v", err)
				return
			}
			if existing == nil {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if inserted != 1 {
		t.Fatalf("expected exactly one insert, got %d", inserted)
	}
	recs, _ := repo.ListAttendanceByStudent(ctx, "a")
	if len(recs) != 1 {
		t.Fatalf("expected one stored record, got %d", len(recs))
	}
}
