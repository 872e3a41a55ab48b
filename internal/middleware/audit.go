// audit.go provides Gin middleware that feeds operator API activity into the
// audit recorder: successful write operations become system_access entries and
// rejected authentications become failed_login entries, so the detector sees
// brute-force attempts against the operator surface too.
package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/audit-sentinel/audit-sentinel/internal/audit"
	"github.com/audit-sentinel/audit-sentinel/internal/db/models"
)

// ActionRecorder is the recorder surface this middleware needs.
type ActionRecorder interface {
	Record(ctx context.Context, action models.Action, rc audit.RecordContext) string
}

// AuditMiddleware records operator API activity after the handler has run.
// Read operations are not recorded; they carry no state change and would
// drown the trail. Rejected requests (401/403) are recorded as failed logins
// attributed to the client IP when no actor is known, which lets the
// suspicious-activity detector flag repeated operator-API probing.
func AuditMiddleware(recorder ActionRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Request.Method == http.MethodOptions {
			return
		}

		status := c.Writer.Status()
		rc := audit.RecordContext{
			ActorID:   actorOrIP(c),
			IPAddress: c.ClientIP(),
		}

		switch {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			rc.Metadata = &models.Metadata{
				FailureReason: http.StatusText(status),
				AuthMethod:    "jwt",
			}
			recorder.Record(c.Request.Context(), models.ActionFailedLogin, rc)

		case c.Request.Method != http.MethodGet && status < 400:
			path := c.FullPath()
			if path == "" {
				path = c.Request.URL.Path
			}
			rc.TargetID = path
			rc.Metadata = &models.Metadata{
				Extra: map[string]any{
					"method": c.Request.Method,
					"status": status,
				},
			}
			recorder.Record(c.Request.Context(), models.ActionSystemAccess, rc)
		}
	}
}

// actorOrIP returns the authenticated actor ID, falling back to the client IP
// so unauthenticated probes still share a detector key per source.
func actorOrIP(c *gin.Context) string {
	if actor, ok := c.Get(ActorIDKey); ok {
		if id, ok := actor.(string); ok && id != "" {
			return id
		}
	}
	return c.ClientIP()
}
