package command

import (
	"context"

	"github.com/academic-tracker/student-dashboard/internal/application/session"
	"github.com/academic-tracker/student-dashboard/pkg/logger"
)

// LoginCommand contains the credentials of the student.
type LoginCommand struct {
	Username string `json:"username" validate:"required,notblank,max=150"`
	Password string `json:"password" validate:"required,notblank"`
}

// LoginHandler starts a dashboard session.
type LoginHandler struct {
	deps Deps
}

// NewLoginHandler creates a new LoginHandler.
func NewLoginHandler(deps Deps) *LoginHandler {
	return &LoginHandler{deps: deps.withDefaults()}
}

// Handle validates the credentials and logs in through the session manager.
func (h *LoginHandler) Handle(ctx context.Context, cmd LoginCommand) (session.Session, error) {
	if err := h.deps.Validator.Struct("Login", cmd); err != nil {
		return session.Session{}, err
	}

	sess, err := h.deps.Sessions.Login(ctx, cmd.Username, cmd.Password)
	if err != nil {
		h.deps.Logger.Info("login rejected", logger.Username(cmd.Username), logger.Err(err))
		return session.Session{}, err
	}
	return sess, nil
}
