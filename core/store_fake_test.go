package core

import (
	"context"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// memStore is an in-memory Store that mirrors the Postgres constraints the code
// relies on: unique email and appointment foreign keys.
type memStore struct {
	mu       sync.Mutex
	users    map[int64]*UserRecord
	appts    map[int64]*Appointment
	nextUser int64
	nextAppt int64

	acquired int
	released int

	acquireErr error
	usersErr   error
	apptErr    error
}

func newMemStore() *memStore {
	return &memStore{
		users: map[int64]*UserRecord{},
		appts: map[int64]*Appointment{},
	}
}

func (s *memStore) Acquire(context.Context) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquireErr != nil {
		return nil, s.acquireErr
	}
	s.acquired++
	return &memSession{s: s}, nil
}

func (s *memStore) counts() (acquired, released int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired, s.released
}

// addUser inserts a user directly, bypassing the hasher.
func (s *memStore) addUser(name, email string, role Role) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextUser++
	s.users[s.nextUser] = &UserRecord{
		User:         User{ID: s.nextUser, Name: name, Email: email, Role: role, CreatedAt: time.Now()},
		PasswordHash: "$2a$04$invalidinvalidinvalidinvalidinvalidinvalidinvalidinva",
	}
	return s.nextUser
}

func (s *memStore) deleteUser(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
}

func (s *memStore) addAppointment(patientID, doctorID int64, status AppointmentStatus) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAppt++
	s.appts[s.nextAppt] = &Appointment{ID: s.nextAppt, PatientID: patientID, DoctorID: doctorID, Status: status, Timestamp: time.Now()}
	return s.nextAppt
}

func (s *memStore) appointment(id int64) (Appointment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok {
		return Appointment{}, false
	}
	return *a, true
}

type memSession struct {
	s *memStore
}

func (m *memSession) Users() UserRepository               { return memUsers{m.s} }
func (m *memSession) Appointments() AppointmentRepository { return memAppointments{m.s} }
func (m *memSession) Release() {
	m.s.mu.Lock()
	m.s.released++
	m.s.mu.Unlock()
}

type memUsers struct{ s *memStore }

func (r memUsers) FindByID(_ context.Context, id int64) (*UserRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.usersErr != nil {
		return nil, r.s.usersErr
	}
	u, ok := r.s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r memUsers) FindByEmail(_ context.Context, email string) (*UserRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.usersErr != nil {
		return nil, r.s.usersErr
	}
	for _, u := range r.s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r memUsers) Create(_ context.Context, rec UserRecord) (*UserRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.usersErr != nil {
		return nil, r.s.usersErr
	}
	for _, u := range r.s.users {
		if u.Email == rec.Email {
			return nil, ErrEmailAlreadyRegistered
		}
	}
	r.s.nextUser++
	rec.ID = r.s.nextUser
	rec.CreatedAt = time.Now()
	stored := rec
	r.s.users[rec.ID] = &stored
	return &rec, nil
}

func (r memUsers) List(_ context.Context, skip, limit int) ([]User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.usersErr != nil {
		return nil, r.s.usersErr
	}
	ids := make([]int64, 0, len(r.s.users))
	for id := range r.s.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := []User{}
	for i, id := range ids {
		if i < skip {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, r.s.users[id].User)
	}
	return out, nil
}

type memAppointments struct{ s *memStore }

func (r memAppointments) Create(_ context.Context, patientID, doctorID int64, status AppointmentStatus) (*Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.apptErr != nil {
		return nil, r.s.apptErr
	}
	if _, ok := r.s.users[patientID]; !ok {
		return nil, ErrUnknownParticipant
	}
	if _, ok := r.s.users[doctorID]; !ok {
		return nil, ErrUnknownParticipant
	}
	r.s.nextAppt++
	a := Appointment{ID: r.s.nextAppt, PatientID: patientID, DoctorID: doctorID, Status: status, Timestamp: time.Now()}
	stored := a
	r.s.appts[a.ID] = &stored
	return &a, nil
}

func (r memAppointments) Get(_ context.Context, id int64) (*Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.apptErr != nil {
		return nil, r.s.apptErr
	}
	a, ok := r.s.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r memAppointments) ListForUser(_ context.Context, userID int64, skip, limit int) ([]Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.apptErr != nil {
		return nil, r.s.apptErr
	}
	ids := make([]int64, 0, len(r.s.appts))
	for id, a := range r.s.appts {
		if a.PatientID == userID || a.DoctorID == userID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := []Appointment{}
	for i, id := range ids {
		if i < skip {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, *r.s.appts[id])
	}
	return out, nil
}

func (r memAppointments) ResolvePending(_ context.Context, id int64, status AppointmentStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.apptErr != nil {
		return r.s.apptErr
	}
	a, ok := r.s.appts[id]
	if !ok || a.Status != AppointmentPending {
		return ErrAppointmentNotPending
	}
	a.Status = status
	return nil
}

func (r memAppointments) Delete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.appts, id)
	return nil
}

const testSecret = "test-secret-test-secret-test-secret-0123"

func newTestHasher(t *testing.T) *BcryptHasher {
	t.Helper()
	h, err := NewBcryptHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewBcryptHasher: %v", err)
	}
	return h
}

func newTestCodec(t *testing.T, now func() time.Time) *TokenCodec {
	t.Helper()
	c, err := NewTokenCodec(TokenConfig{Secret: []byte(testSecret), Now: now})
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	return c
}
