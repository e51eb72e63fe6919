package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SigninMethod identifies which login path produced a sign-in event.
type SigninMethod string

const (
	SigninMethodPassword SigninMethod = "password"
	SigninMethodSSO      SigninMethod = "sso"
	SigninMethodPKCE     SigninMethod = "pkce"
)

// SigninEvent is a best-effort, append-only record of a login attempt,
// intended for external sinks.
type SigninEvent struct {
	ID         uuid.UUID
	OccurredAt time.Time
	Method     SigninMethod
	Username   string // empty for SSO attempts
	Succeeded  bool
	ErrorKind  ErrorKind // empty on success
	SourceIP   string
}

// SigninLogger receives sign-in events. Implementations must not block the
// login path on sink failures; errors are dropped.
type SigninLogger interface {
	RecordSignin(ctx context.Context, ev SigninEvent)
}

func (o *Orchestrator) logSignin(ctx context.Context, method SigninMethod, username string, loginErr *Error) {
	if o.signins == nil {
		return
	}
	o.mu.Lock()
	sourceIP := o.sourceIP
	o.mu.Unlock()
	ev := SigninEvent{
		ID:         uuid.New(),
		OccurredAt: time.Now().UTC(),
		Method:     method,
		Username:   username,
		Succeeded:  loginErr == nil,
		SourceIP:   sourceIP,
	}
	if loginErr != nil {
		ev.ErrorKind = loginErr.Kind
	}
	o.signins.RecordSignin(ctx, ev)
}
