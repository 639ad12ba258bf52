package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/maintconsole/internal/api/request"
	"github.com/edvin/maintconsole/internal/api/response"
	"github.com/edvin/maintconsole/internal/backend"
	"github.com/edvin/maintconsole/internal/channel"
)

// Authenticator exchanges credentials for a session token.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*backend.LoginResponse, error)
}

// SessionStore is the session manager as seen by the session endpoints.
type SessionStore interface {
	Login(user backend.User, token string) error
	Logout() error
	LoggedIn() bool
	User() *backend.User
	LastActivity() (time.Time, bool)
}

// LiveStatus reports how job status is currently being followed.
type LiveStatus interface {
	Refresher
	ChannelState() channel.State
	Polling() bool
}

type Session struct {
	auth   Authenticator
	store  SessionStore
	status LiveStatus
}

func NewSession(auth Authenticator, store SessionStore, status LiveStatus) *Session {
	return &Session{auth: auth, store: store, status: status}
}

type SessionStatus struct {
	LoggedIn     bool          `json:"logged_in"`
	User         *backend.User `json:"user,omitempty"`
	LastActivity *time.Time    `json:"last_activity,omitempty"`
	Channel      string        `json:"channel"`
	Polling      bool          `json:"polling"`
}

// Get godoc
//
//	@Summary		Current session
//	@Description	Reports the logged-in user and how job status is being followed.
//	@Tags			Session
//	@Success		200	{object}	SessionStatus
//	@Router			/session [get]
func (h *Session) Get(w http.ResponseWriter, _ *http.Request) {
	response.WriteJSON(w, http.StatusOK, h.current())
}

// Login godoc
//
//	@Summary		Log in
//	@Description	Authenticates against the backend, stores the session and re-synchronizes the job list with the new credential.
//	@Tags			Session
//	@Param			body	body		request.Login	true	"Credentials"
//	@Success		200		{object}	SessionStatus
//	@Failure		400		{object}	response.ErrorResponse
//	@Failure		401		{object}	response.ErrorResponse
//	@Failure		502		{object}	response.ErrorResponse
//	@Router			/session [post]
func (h *Session) Login(w http.ResponseWriter, r *http.Request) {
	var req request.Login
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if backend.IsUnauthorized(err) || backend.IsValidation(err) {
			response.WriteError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeServiceError(w, r, err)
		return
	}
	if err := h.store.Login(resp.User, resp.Token); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to store session")
		response.WriteError(w, http.StatusInternalServerError, "failed to store session")
		return
	}

	if err := h.status.Refresh(r.Context()); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("job list refresh after login failed")
	}
	response.WriteJSON(w, http.StatusOK, h.current())
}

// Logout godoc
//
//	@Summary	Log out
//	@Tags		Session
//	@Success	204
//	@Router		/session [delete]
func (h *Session) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Logout(); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to clear session")
		response.WriteError(w, http.StatusInternalServerError, "failed to clear session")
		return
	}
	response.WriteNoContent(w)
}

func (h *Session) current() SessionStatus {
	s := SessionStatus{
		LoggedIn: h.store.LoggedIn(),
		Channel:  h.status.ChannelState().String(),
		Polling:  h.status.Polling(),
	}
	if s.LoggedIn {
		s.User = h.store.User()
		if t, ok := h.store.LastActivity(); ok {
			s.LastActivity = &t
		}
	}
	return s
}
