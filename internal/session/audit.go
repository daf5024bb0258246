package session

import (
	"context"

	"github.com/google/uuid"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"
	slogctx "github.com/veqryn/slog-context"
)

const auditSource = "pkce session manager"

// auditLoginSuccess sends the user-login-success event. Failures are logged
// and never reach the caller.
func (h *CallbackHandler) auditLoginSuccess(ctx context.Context, scope Scope) {
	if h.audit == nil {
		return
	}

	metadata, err := otlpaudit.NewEventMetadata(auditSource, scope.Tenant, uuid.NewString())
	if err != nil {
		slogctx.Error(ctx, "creating audit metadata", "error", err)
		return
	}

	event, err := otlpaudit.NewUserLoginSuccessEvent(metadata, scope.Agent, otlpaudit.LOGINMETHOD_OPENIDCONNECT, otlpaudit.MFATYPE_NONE, otlpaudit.USERTYPE_BUSINESS, scope.Agent)
	if err != nil {
		slogctx.Error(ctx, "creating audit log", "error", err)
		return
	}

	if err := h.audit.SendEvent(ctx, event); err != nil {
		slogctx.Error(ctx, "Failed to send audit log for user login success", "error", err)
		return
	}

	slogctx.Debug(ctx, "sent audit log for user login success")
}

// auditLoginFailure sends the user-login-failure event with a generic reason.
func (h *CallbackHandler) auditLoginFailure(ctx context.Context, scope Scope, reason string) {
	if h.audit == nil {
		slogctx.Debug(ctx, "audit logger is nil; skipping user login failure event")
		return
	}

	metadata, err := otlpaudit.NewEventMetadata(auditSource, scope.Tenant, uuid.NewString())
	if err != nil {
		slogctx.Error(ctx, "creating audit metadata", "error", err)
		return
	}

	event, err := otlpaudit.NewUserLoginFailureEvent(metadata, scope.Agent, otlpaudit.LOGINMETHOD_OPENIDCONNECT, otlpaudit.FailReason(reason), scope.Agent)
	if err != nil {
		slogctx.Error(ctx, "creating audit log", "error", err)
		return
	}

	if err := h.audit.SendEvent(ctx, event); err != nil {
		slogctx.Error(ctx, "Failed to send audit log for user login failure", "error", err)
		return
	}

	slogctx.Debug(ctx, "sent audit log for user login failure")
}
