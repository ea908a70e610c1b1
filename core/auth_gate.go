package core

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	sessionContextKey = "db_session"
	userContextKey    = "current_user"

	unauthenticatedMessage = "could not validate credentials"
)

// DBSessionMiddleware acquires a persistence session before the handler chain and
// releases it when the chain returns, including on abort and panic.
func DBSessionMiddleware(store Store, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := store.Acquire(c.Request.Context())
		if err != nil {
			logError(logger, "acquire db session", err, "request_id", requestID(c))
			respondError(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "database unavailable")
			c.Abort()
			return
		}
		defer sess.Release()

		c.Set(sessionContextKey, sess)
		c.Next()
	}
}

// dbSession returns the session installed by DBSessionMiddleware.
func dbSession(c *gin.Context) Session {
	return c.MustGet(sessionContextKey).(Session)
}

// RequireAuth is the bearer token gate. On success the resolved user is available
// through CurrentUser; every failure answers the same 401.
func RequireAuth(auth *AuthService, metrics *Metrics, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			metrics.authDecision("missing_bearer")
			logger.DebugContext(c.Request.Context(), "request rejected",
				"reason", "missing_bearer", "request_id", requestID(c))
			rejectUnauthenticated(c)
			return
		}

		user, err := auth.Identify(c.Request.Context(), dbSession(c).Users(), token)
		if err != nil {
			if !IsAuthError(err) {
				logError(logger, "identify request", err, "request_id", requestID(c))
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal error")
				c.Abort()
				return
			}
			reason := authFailureReason(err)
			metrics.authDecision(reason)
			logger.DebugContext(c.Request.Context(), "request rejected",
				"reason", reason, "request_id", requestID(c))
			rejectUnauthenticated(c)
			return
		}

		metrics.authDecision("authenticated")
		c.Set(userContextKey, user)
		c.Next()
	}
}

// CurrentUser returns the identity set by RequireAuth.
func CurrentUser(c *gin.Context) (*User, bool) {
	v, ok := c.Get(userContextKey)
	if !ok {
		return nil, false
	}
	u, ok := v.(*User)
	return u, ok && u != nil
}

// RequireRole ensures the authenticated user has one of roles.
func RequireRole(roles ...Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := CurrentUser(c)
		if !ok {
			rejectUnauthenticated(c)
			return
		}
		for _, r := range roles {
			if u.Role == r {
				c.Next()
				return
			}
		}
		respondError(c, http.StatusForbidden, "FORBIDDEN", "insufficient role")
		c.Abort()
	}
}

// bearerToken extracts the credential from an "Authorization: Bearer <token>" value.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}

func rejectUnauthenticated(c *gin.Context) {
	c.Header("WWW-Authenticate", "Bearer")
	respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", unauthenticatedMessage)
	c.Abort()
}
