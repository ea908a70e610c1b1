package core

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/samber/oops"
)

// ErrInvalidJob is returned for queue payloads that are not appointment ids.
var ErrInvalidJob = errors.New("invalid review job")

// AppointmentReviewer settles pending appointments.
type AppointmentReviewer struct {
	store Store
}

func NewAppointmentReviewer(store Store) *AppointmentReviewer {
	return &AppointmentReviewer{store: store}
}

// Review confirms the appointment when doctor_id names a doctor and patient_id names
// a different user who is a patient, and cancels it otherwise. It returns
// ErrAppointmentNotPending when the appointment was already settled.
func (r *AppointmentReviewer) Review(ctx context.Context, job string) (AppointmentStatus, error) {
	id, err := strconv.ParseInt(job, 10, 64)
	if err != nil || id <= 0 {
		return "", oops.Code("REVIEW_INVALID_JOB").With("job", job).Wrap(ErrInvalidJob)
	}

	sess, err := r.store.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer sess.Release()

	appt, err := sess.Appointments().Get(ctx, id)
	if err != nil {
		return "", err
	}
	if appt.Status != AppointmentPending {
		return appt.Status, ErrAppointmentNotPending
	}

	status, err := r.decide(ctx, sess.Users(), appt)
	if err != nil {
		return "", err
	}
	if err := sess.Appointments().ResolvePending(ctx, id, status); err != nil {
		return "", err
	}
	return status, nil
}

func (r *AppointmentReviewer) decide(ctx context.Context, users UserRepository, appt *Appointment) (AppointmentStatus, error) {
	if appt.DoctorID == appt.PatientID {
		return AppointmentCancelled, nil
	}
	doctor, err := r.lookup(ctx, users, appt.DoctorID)
	if err != nil {
		return "", err
	}
	patient, err := r.lookup(ctx, users, appt.PatientID)
	if err != nil {
		return "", err
	}
	if doctor == nil || patient == nil || doctor.Role != RoleDoctor || patient.Role != RolePatient {
		return AppointmentCancelled, nil
	}
	return AppointmentConfirmed, nil
}

// lookup returns nil without error for a missing user.
func (r *AppointmentReviewer) lookup(ctx context.Context, users UserRepository, id int64) (*User, error) {
	rec, err := users.FindByID(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec.User, nil
}

// ReviewWorker drains the review queue with a fixed number of goroutines.
type ReviewWorker struct {
	Queue           ReviewQueue
	Reviewer        *AppointmentReviewer
	State           *HeartbeatState
	Metrics         *Metrics
	Logger          *slog.Logger
	Concurrency     int
	Visibility      time.Duration
	ReclaimInterval time.Duration
	MaxAttempts     int64

	// PollInterval is the wait after finding the queue empty.
	PollInterval time.Duration
}

func (w *ReviewWorker) defaults() {
	if w.Concurrency <= 0 {
		w.Concurrency = 1
	}
	if w.Visibility <= 0 {
		w.Visibility = DefaultVisibilityTimeout
	}
	if w.ReclaimInterval <= 0 {
		w.ReclaimInterval = DefaultReclaimInterval
	}
	if w.MaxAttempts <= 0 {
		w.MaxAttempts = MaxReviewAttempts
	}
	if w.PollInterval <= 0 {
		w.PollInterval = 100 * time.Millisecond
	}
	if w.Logger == nil {
		w.Logger = slog.Default()
	}
}

// Run blocks until ctx is done and every consumer goroutine has returned.
func (w *ReviewWorker) Run(ctx context.Context) {
	w.defaults()
	if w.State != nil {
		w.State.Ready()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.reclaimLoop(ctx)
	}()

	for i := 0; i < w.Concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.consume(ctx, slot)
		}(i + 1)
	}
	wg.Wait()
}

func (w *ReviewWorker) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(w.ReclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Reclaim(ctx, time.Now())
		}
	}
}

// Reclaim returns jobs whose visibility deadline passed to pending. A timed out
// delivery counts as an attempt, so a job that keeps stalling its worker is dropped.
func (w *ReviewWorker) Reclaim(ctx context.Context, now time.Time) {
	requeued, dropped, err := w.Queue.RequeueExpired(ctx, now, w.MaxAttempts)
	if err != nil {
		if ctx.Err() == nil {
			logError(w.Logger, "requeue expired jobs", err)
		}
		return
	}
	for _, job := range dropped {
		w.Metrics.appointmentReview("failed")
		w.Logger.Error("review timed out too often, dropping job", "job", job, "attempts", w.MaxAttempts)
	}
	if len(requeued) > 0 {
		w.Logger.Info("requeued expired jobs", "count", len(requeued))
	}
}

func (w *ReviewWorker) consume(ctx context.Context, slot int) {
	for {
		job, err := w.Queue.Reserve(ctx, w.Visibility)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := w.PollInterval
			if !errors.Is(err, ErrQueueEmpty) {
				w.Logger.Error("reserve job", "slot", slot, "error", err)
				wait = time.Second
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
				continue
			}
		}
		w.HandleJob(ctx, job)
	}
}

// HandleJob reviews one reserved job and settles it in the queue: acked on success
// or permanent failure, pushed back while attempts remain.
func (w *ReviewWorker) HandleJob(ctx context.Context, job string) {
	w.defaults()
	if w.State != nil {
		w.State.JobStarted(job)
	}
	logger := w.Logger.With("job", job)

	status, err := w.Reviewer.Review(ctx, job)
	switch {
	case err == nil:
		w.Metrics.appointmentReview(string(status))
		logger.Info("appointment reviewed", "status", status)
		w.finish(ctx, job)
	case errors.Is(err, ErrAppointmentNotPending),
		errors.Is(err, ErrAppointmentNotFound),
		errors.Is(err, ErrInvalidJob):
		w.Metrics.appointmentReview("skipped")
		logger.Info("review skipped", "reason", err.Error())
		w.finish(ctx, job)
		err = nil
	default:
		w.retryOrDrop(ctx, job, err, logger)
	}

	if w.State != nil {
		w.State.JobFinished(job, err)
	}
}

func (w *ReviewWorker) retryOrDrop(ctx context.Context, job string, cause error, logger *slog.Logger) {
	attempts, err := w.Queue.IncrAttempts(ctx, job)
	if err != nil {
		logger.Warn("count attempt", "error", err)
	}
	if err == nil && attempts < w.MaxAttempts {
		// On failure the job stays in the processing set for the reclaimer.
		if err := w.Queue.Retry(ctx, job); err != nil {
			logError(logger, "retry job", err)
			return
		}
		w.Metrics.appointmentReview("retried")
		logger.Warn("review failed, retrying", "attempt", attempts, "error", cause)
		return
	}

	w.Metrics.appointmentReview("failed")
	logError(logger, "review failed after retries", cause, "attempts", attempts)
	w.finish(ctx, job)
}

func (w *ReviewWorker) finish(ctx context.Context, job string) {
	if err := w.Queue.Ack(ctx, job); err != nil {
		w.Logger.Warn("ack job", "job", job, "error", err)
	}
	if err := w.Queue.ClearAttempts(ctx, job); err != nil {
		w.Logger.Warn("clear attempts", "job", job, "error", err)
	}
}
