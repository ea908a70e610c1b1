package core

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPgAppointmentRepository_Create(t *testing.T) {
	insert := regexp.QuoteMeta(`INSERT INTO appointments (patient_id, doctor_id, status) VALUES ($1,$2,$3) RETURNING id, created_at`)

	t.Run("inserted", func(t *testing.T) {
		mock := newMockPool(t)
		created := time.Now().UTC()
		mock.ExpectQuery(insert).
			WithArgs(int64(2), int64(1), "pending").
			WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(10), created))

		got, err := NewPgAppointmentRepository(mock).Create(context.Background(), 2, 1, AppointmentPending)
		require.NoError(t, err)
		assert.Equal(t, &Appointment{ID: 10, PatientID: 2, DoctorID: 1, Status: AppointmentPending, Timestamp: created}, got)
	})

	t.Run("unknown participant", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(insert).
			WithArgs(int64(2), int64(99), "pending").
			WillReturnError(&pgconn.PgError{Code: pgerrcode.ForeignKeyViolation})

		_, err := NewPgAppointmentRepository(mock).Create(context.Background(), 2, 99, AppointmentPending)
		assert.ErrorIs(t, err, ErrUnknownParticipant)
	})
}

func TestPgAppointmentRepository_Get(t *testing.T) {
	query := regexp.QuoteMeta(`SELECT id, patient_id, doctor_id, status, created_at FROM appointments WHERE id=$1`)

	mock := newMockPool(t)
	created := time.Now().UTC()
	mock.ExpectQuery(query).WithArgs(int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "patient_id", "doctor_id", "status", "created_at"}).
			AddRow(int64(3), int64(2), int64(1), "confirmed", created))
	mock.ExpectQuery(query).WithArgs(int64(4)).WillReturnError(pgx.ErrNoRows)

	repo := NewPgAppointmentRepository(mock)
	got, err := repo.Get(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, AppointmentConfirmed, got.Status)

	_, err = repo.Get(context.Background(), 4)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestPgAppointmentRepository_ListForUser(t *testing.T) {
	mock := newMockPool(t)
	created := time.Now().UTC()
	mock.ExpectQuery(`FROM appointments\s+WHERE patient_id=\$1 OR doctor_id=\$1`).
		WithArgs(int64(2), 100, 0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "patient_id", "doctor_id", "status", "created_at"}).
			AddRow(int64(1), int64(2), int64(1), "pending", created).
			AddRow(int64(2), int64(5), int64(2), "cancelled", created))

	got, err := NewPgAppointmentRepository(mock).ListForUser(context.Background(), 2, 0, 100)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, AppointmentCancelled, got[1].Status)
}

func TestPgAppointmentRepository_ResolvePending(t *testing.T) {
	update := regexp.QuoteMeta(`UPDATE appointments SET status=$1 WHERE id=$2 AND status='pending'`)

	mock := newMockPool(t)
	mock.ExpectExec(update).WithArgs("confirmed", int64(1)).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(update).WithArgs("cancelled", int64(1)).WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	repo := NewPgAppointmentRepository(mock)
	require.NoError(t, repo.ResolvePending(context.Background(), 1, AppointmentConfirmed))
	assert.ErrorIs(t, repo.ResolvePending(context.Background(), 1, AppointmentCancelled), ErrAppointmentNotPending)
}

func TestPgAppointmentRepository_Delete(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM appointments WHERE id=$1`)).
		WithArgs(int64(8)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	assert.NoError(t, NewPgAppointmentRepository(mock).Delete(context.Background(), 8))
}
