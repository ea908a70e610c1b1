package core

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"
)

// AppointmentStatus is the lifecycle state of an appointment.
type AppointmentStatus string

const (
	AppointmentPending   AppointmentStatus = "pending"
	AppointmentConfirmed AppointmentStatus = "confirmed"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentPending, AppointmentConfirmed, AppointmentCancelled:
		return true
	default:
		return false
	}
}

type Appointment struct {
	ID        int64             `json:"id"`
	PatientID int64             `json:"patient_id"`
	DoctorID  int64             `json:"doctor_id"`
	Status    AppointmentStatus `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
}

var (
	ErrAppointmentNotFound   = errors.New("appointment not found")
	ErrAppointmentNotPending = errors.New("appointment not pending")
	// ErrUnknownParticipant is returned when doctor_id or patient_id references no user.
	ErrUnknownParticipant = errors.New("unknown appointment participant")
)

type AppointmentRepository interface {
	Create(ctx context.Context, patientID, doctorID int64, status AppointmentStatus) (*Appointment, error)
	Get(ctx context.Context, id int64) (*Appointment, error)
	ListForUser(ctx context.Context, userID int64, skip, limit int) ([]Appointment, error)
	// ResolvePending moves a pending appointment to status. It returns
	// ErrAppointmentNotPending when the appointment was already resolved.
	ResolvePending(ctx context.Context, id int64, status AppointmentStatus) error
	Delete(ctx context.Context, id int64) error
}

type PgAppointmentRepository struct {
	db DBTX
}

func NewPgAppointmentRepository(db DBTX) *PgAppointmentRepository {
	return &PgAppointmentRepository{db: db}
}

func (r *PgAppointmentRepository) Create(ctx context.Context, patientID, doctorID int64, status AppointmentStatus) (*Appointment, error) {
	const q = `INSERT INTO appointments (patient_id, doctor_id, status) VALUES ($1,$2,$3) RETURNING id, created_at`
	a := Appointment{PatientID: patientID, DoctorID: doctorID, Status: status}
	if err := r.db.QueryRow(ctx, q, patientID, doctorID, string(status)).Scan(&a.ID, &a.Timestamp); err != nil {
		if isPgError(err, pgerrcode.ForeignKeyViolation) {
			return nil, oops.Code("APPOINTMENT_UNKNOWN_PARTICIPANT").
				With("patient_id", patientID).
				With("doctor_id", doctorID).
				Wrap(ErrUnknownParticipant)
		}
		return nil, oops.With("operation", "create appointment").Wrap(err)
	}
	return &a, nil
}

func (r *PgAppointmentRepository) Get(ctx context.Context, id int64) (*Appointment, error) {
	const q = `SELECT id, patient_id, doctor_id, status, created_at FROM appointments WHERE id=$1`
	var a Appointment
	var status string
	if err := r.db.QueryRow(ctx, q, id).Scan(&a.ID, &a.PatientID, &a.DoctorID, &status, &a.Timestamp); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, oops.With("operation", "get appointment").With("appointment_id", id).Wrap(err)
	}
	a.Status = AppointmentStatus(status)
	return &a, nil
}

// ListForUser returns appointments where userID is the patient or the doctor.
func (r *PgAppointmentRepository) ListForUser(ctx context.Context, userID int64, skip, limit int) ([]Appointment, error) {
	if skip < 0 || limit <= 0 {
		return nil, errors.New("invalid pagination")
	}
	rows, err := r.db.Query(ctx, `
SELECT id, patient_id, doctor_id, status, created_at
FROM appointments
WHERE patient_id=$1 OR doctor_id=$1
ORDER BY id
LIMIT $2 OFFSET $3
`, userID, limit, skip)
	if err != nil {
		return nil, oops.With("operation", "list appointments").With("user_id", userID).Wrap(err)
	}
	defer rows.Close()
	items := make([]Appointment, 0, limit)
	for rows.Next() {
		var a Appointment
		var status string
		if err := rows.Scan(&a.ID, &a.PatientID, &a.DoctorID, &status, &a.Timestamp); err != nil {
			return nil, oops.With("operation", "scan appointment row").Wrap(err)
		}
		a.Status = AppointmentStatus(status)
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *PgAppointmentRepository) ResolvePending(ctx context.Context, id int64, status AppointmentStatus) error {
	const q = `UPDATE appointments SET status=$1 WHERE id=$2 AND status='pending'`
	tag, err := r.db.Exec(ctx, q, string(status), id)
	if err != nil {
		return oops.With("operation", "resolve appointment").With("appointment_id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotPending
	}
	return nil
}

func (r *PgAppointmentRepository) Delete(ctx context.Context, id int64) error {
	const q = `DELETE FROM appointments WHERE id=$1`
	_, err := r.db.Exec(ctx, q, id)
	return err
}
