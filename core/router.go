package core

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// RouterDeps carries everything NewRouter wires into handlers.
type RouterDeps struct {
	Config   Config
	Logger   *slog.Logger
	Store    Store
	Auth     *AuthService
	Metrics  *Metrics
	Gatherer prometheus.Gatherer

	// Queue receives pending appointment ids; nil disables review.
	Queue     Enqueuer
	Inspector *QueueInspector
	StartedAt time.Time
	Version   string
}

// NewRouter constructs the Gin engine with routes wired.
func NewRouter(d RouterDeps) *gin.Engine {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	startedAt := d.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(logger, d.Metrics))
	r.Use(OriginMiddleware(d.Config))

	r.NoRoute(func(c *gin.Context) {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "not found")
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": d.Version})
	})
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(MetricsHandler(d.Gatherer)))
	}

	db := r.Group("", DBSessionMiddleware(d.Store, logger))
	authed := db.Group("", RequireAuth(d.Auth, d.Metrics, logger))
	doctors := authed.Group("", RequireRole(RoleDoctor))

	db.POST("/auth/register", func(c *gin.Context) {
		var req struct {
			Name     string `json:"name" binding:"required,max=255"`
			Email    string `json:"email" binding:"required,email,max=255"`
			Password string `json:"password" binding:"required,min=8,max=72"`
			Role     Role   `json:"role" binding:"required,oneof=doctor patient"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			d.Metrics.registration("invalid")
			respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid registration payload")
			return
		}

		u, err := d.Auth.Register(c.Request.Context(), dbSession(c).Users(), NewUser{
			Name:     req.Name,
			Email:    req.Email,
			Password: req.Password,
			Role:     req.Role,
		})
		switch {
		case err == nil:
		case errors.Is(err, ErrEmailAlreadyRegistered):
			d.Metrics.registration("duplicate_email")
			respondError(c, http.StatusConflict, "EMAIL_ALREADY_REGISTERED", "email already registered")
			return
		case errors.Is(err, ErrEmptyPassword), errors.Is(err, ErrPasswordTooLong), errors.Is(err, ErrEmptyName):
			d.Metrics.registration("invalid")
			respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
			return
		default:
			d.Metrics.registration("error")
			logError(logger, "register user", err, "request_id", requestID(c))
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to register user")
			return
		}

		d.Metrics.registration("created")
		logger.Info("user registered", "user_id", u.ID, "role", u.Role, "request_id", requestID(c))
		c.JSON(http.StatusCreated, u)
	})

	db.POST("/auth/login", func(c *gin.Context) {
		var req struct {
			Username string `form:"username" binding:"required"`
			Password string `form:"password" binding:"required"`
		}
		if err := c.ShouldBind(&req); err != nil {
			d.Metrics.login("invalid")
			respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "username and password are required")
			return
		}

		token, err := d.Auth.Login(c.Request.Context(), dbSession(c).Users(), req.Username, req.Password)
		if err != nil {
			if errors.Is(err, ErrInvalidCredentials) {
				d.Metrics.login("invalid_credentials")
				c.Header("WWW-Authenticate", "Bearer")
				respondError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "incorrect email or password")
				return
			}
			d.Metrics.login("error")
			logError(logger, "login", err, "request_id", requestID(c))
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "login failed")
			return
		}

		d.Metrics.login("success")
		c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "bearer"})
	})

	authed.GET("/users/me", func(c *gin.Context) {
		u, _ := CurrentUser(c)
		c.JSON(http.StatusOK, u)
	})

	doctors.GET("/users", func(c *gin.Context) {
		skip, limit, err := parseSkipLimit(c.Query("skip"), c.Query("limit"))
		if err != nil {
			respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
			return
		}
		users, err := dbSession(c).Users().List(c.Request.Context(), skip, limit)
		if err != nil {
			logError(logger, "list users", err, "request_id", requestID(c))
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to list users")
			return
		}
		c.JSON(http.StatusOK, users)
	})

	authed.POST("/appointments", func(c *gin.Context) {
		var req struct {
			DoctorID  int64             `json:"doctor_id" binding:"required,gt=0"`
			PatientID int64             `json:"patient_id" binding:"required,gt=0"`
			Status    AppointmentStatus `json:"status"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid appointment payload")
			return
		}
		if req.Status == "" {
			req.Status = AppointmentPending
		}
		if !req.Status.Valid() {
			respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "status must be pending, confirmed or cancelled")
			return
		}

		u, _ := CurrentUser(c)
		if u.ID != req.DoctorID && u.ID != req.PatientID {
			respondError(c, http.StatusForbidden, "FORBIDDEN", "caller must be a participant")
			return
		}

		ctx := c.Request.Context()
		repo := dbSession(c).Appointments()
		appt, err := repo.Create(ctx, req.PatientID, req.DoctorID, req.Status)
		if err != nil {
			if errors.Is(err, ErrUnknownParticipant) {
				respondError(c, http.StatusBadRequest, "UNKNOWN_PARTICIPANT", "doctor_id or patient_id does not exist")
				return
			}
			logError(logger, "create appointment", err, "request_id", requestID(c))
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to create appointment")
			return
		}

		if appt.Status == AppointmentPending && d.Queue != nil {
			if err := d.Queue.Enqueue(ctx, strconv.FormatInt(appt.ID, 10)); err != nil {
				if delErr := repo.Delete(ctx, appt.ID); delErr != nil {
					logError(logger, "delete unqueued appointment", delErr, "appointment_id", appt.ID)
				}
				logError(logger, "enqueue appointment review", err, "appointment_id", appt.ID, "request_id", requestID(c))
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to schedule appointment review")
				return
			}
		}

		c.JSON(http.StatusCreated, appt)
	})

	authed.GET("/appointments", func(c *gin.Context) {
		skip, limit, err := parseSkipLimit(c.Query("skip"), c.Query("limit"))
		if err != nil {
			respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
			return
		}
		u, _ := CurrentUser(c)
		items, err := dbSession(c).Appointments().ListForUser(c.Request.Context(), u.ID, skip, limit)
		if err != nil {
			logError(logger, "list appointments", err, "request_id", requestID(c))
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to list appointments")
			return
		}
		c.JSON(http.StatusOK, items)
	})

	doctors.GET("/status/system", func(c *gin.Context) {
		c.JSON(http.StatusOK, CollectSystemStatus(c.Request.Context(), d.Inspector, d.Version, startedAt))
	})

	return r
}
