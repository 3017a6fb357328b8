package store

import (
	"context"
	"sync"
	"time"

	"faceattend/internal/attendance"
)

// Memory is a process-local record store for development and tests.
type Memory struct {
	mu         sync.RWMutex
	students   map[string]attendance.Student
	byStudent  map[string]string // StudentID -> ID
	records    []attendance.Record
	enrollment []string // insertion order of student ids
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		students:  make(map[string]attendance.Student),
		byStudent: make(map[string]string),
	}
}

func (m *Memory) AddStudent(_ context.Context, st attendance.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byStudent[st.StudentID]; ok {
		return attendance.ErrDuplicateStudentID
	}
	m.students[st.ID] = cloneStudent(st)
	m.byStudent[st.StudentID] = st.ID
	m.enrollment = append(m.enrollment, st.ID)
	return nil
}

func (m *Memory) GetStudent(_ context.Context, id string) (*attendance.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.students[id]
	if !ok {
		return nil, attendance.ErrStudentNotFound
	}
	out := cloneStudent(st)
	return &out, nil
}

func (m *Memory) GetStudentByStudentID(ctx context.Context, studentID string) (*attendance.Student, error) {
	m.mu.RLock()
	id, ok := m.byStudent[studentID]
	m.mu.RUnlock()
	if !ok {
		return nil, attendance.ErrStudentNotFound
	}
	return m.GetStudent(ctx, id)
}

func (m *Memory) ListStudents(_ context.Context) ([]attendance.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]attendance.Student, 0, len(m.enrollment))
	for _, id := range m.enrollment {
		out = append(out, cloneStudent(m.students[id]))
	}
	return out, nil
}

func (m *Memory) UpdateStudent(_ context.Context, st attendance.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(st)
}

func (m *Memory) updateLocked(st attendance.Student) error {
	old, ok := m.students[st.ID]
	if !ok {
		return attendance.ErrStudentNotFound
	}
	if old.StudentID != st.StudentID {
		if _, taken := m.byStudent[st.StudentID]; taken {
			return attendance.ErrDuplicateStudentID
		}
		delete(m.byStudent, old.StudentID)
		m.byStudent[st.StudentID] = st.ID
	}
	m.students[st.ID] = cloneStudent(st)
	return nil
}

func (m *Memory) DeleteStudent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.students[id]
	if !ok {
		return attendance.ErrStudentNotFound
	}
	delete(m.students, id)
	delete(m.byStudent, st.StudentID)
	for i, sid := range m.enrollment {
		if sid == id {
			m.enrollment = append(m.enrollment[:i], m.enrollment[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) AddAttendanceRecord(_ context.Context, rec attendance.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *Memory) ListAttendanceByStudent(_ context.Context, studentID string) ([]attendance.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []attendance.Record
	for _, r := range m.records {
		if r.StudentID == studentID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) ListAttendanceBetween(_ context.Context, from, to time.Time) ([]attendance.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []attendance.Record
	for _, r := range m.records {
		if !r.Timestamp.Before(from) && r.Timestamp.Before(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) RecordAttendanceOnce(_ context.Context, rec attendance.Record, day attendance.Day) (*attendance.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.students[rec.StudentID]
	if !ok {
		return nil, attendance.ErrStudentNotFound
	}
	for _, r := range m.records {
		if r.StudentID == rec.StudentID && day.Contains(r.Timestamp) {
			existing := r
			return &existing, nil
		}
	}

	m.records = append(m.records, rec)
	ts := rec.Timestamp
	st.LastAttendance = &ts
	return nil, m.updateLocked(st)
}

func (m *Memory) Close() error { return nil }

func cloneStudent(st attendance.Student) attendance.Student {
	st.FaceDescriptor = append([]float32(nil), st.FaceDescriptor...)
	st.Photo = append([]byte(nil), st.Photo...)
	if st.LastAttendance != nil {
		t := *st.LastAttendance
		st.LastAttendance = &t
	}
	return st
}
