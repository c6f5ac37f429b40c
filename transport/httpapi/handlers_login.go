package httpapi

import (
	"net/http"

	goMFA "github.com/MrEthical07/goMFA"
	"github.com/go-chi/chi/v5"
)

type beginLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *server) handleBeginLogin(w http.ResponseWriter, r *http.Request) {
	var req beginLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, 0)
		return
	}
	res, err := s.engine.BeginLogin(r.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(w, r, err, 0)
		return
	}
	message := "verification required"
	if !res.MFARequired {
		message = "login complete"
	}
	s.ok(w, message, res)
}

// handleLogin answers code failures with 401 so clients treat them like a
// failed sign-in rather than a malformed request.
func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req goMFA.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, 0)
		return
	}
	res, err := s.engine.Login(r.Context(), req)
	if err != nil {
		s.fail(w, r, err, http.StatusUnauthorized)
		return
	}
	s.ok(w, "login verified", res)
}

type resendRequest struct {
	Email string `json:"email"`
}

// handleResend serves login resends by email without a session; config
// and disable resends need one.
func (s *server) handleResend(w http.ResponseWriter, r *http.Request) {
	cctx, err := goMFA.ParseChallengeContext(chi.URLParam(r, "context"))
	if err != nil || cctx == goMFA.ContextRegister {
		s.fail(w, r, goMFA.ErrInvalidContext, 0)
		return
	}
	var req resendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, 0)
		return
	}

	var ticket *goMFA.ChallengeTicket
	if cctx == goMFA.ContextLogin && req.Email != "" {
		ticket, err = s.engine.ResendLoginCode(r.Context(), req.Email)
	} else {
		uid, serr := s.sessions.ResolveSession(r)
		if serr != nil || uid == "" {
			s.unauthorized(w, r)
			return
		}
		ticket, err = s.engine.ResendEmailCode(r.Context(), uid, cctx)
	}
	if err != nil {
		s.fail(w, r, err, 0)
		return
	}
	s.ok(w, "verification code sent", ticket)
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Status(r.Context(), userID(r))
	if err != nil {
		s.fail(w, r, err, 0)
		return
	}
	s.ok(w, "", st)
}

type preferredRequest struct {
	Method string `json:"method"`
}

func (s *server) handleSetPreferred(w http.ResponseWriter, r *http.Request) {
	var req preferredRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, 0)
		return
	}
	m, err := goMFA.ParseMethod(req.Method)
	if err != nil {
		s.fail(w, r, err, 0)
		return
	}
	st, err := s.engine.SetPreferredMethod(r.Context(), userID(r), m)
	if err != nil {
		s.fail(w, r, err, 0)
		return
	}
	s.ok(w, "preferred method updated", st)
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *server) handleLoginWithWebAuthn(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, 0)
		return
	}
	if req.Enabled == nil {
		s.fail(w, r, goMFA.ErrInvalidInput, 0)
		return
	}
	st, err := s.engine.SetLoginWithWebAuthn(r.Context(), userID(r), *req.Enabled)
	if err != nil {
		s.fail(w, r, err, 0)
		return
	}
	s.ok(w, "passwordless login updated", st)
}

func (s *server) handleDisableAll(w http.ResponseWriter, r *http.Request) {
	var proof goMFA.Proof
	if err := decodeJSON(w, r, &proof); err != nil {
		s.fail(w, r, err, 0)
		return
	}
	st, err := s.engine.DisableAll(r.Context(), userID(r), proof)
	if err != nil {
		s.fail(w, r, err, 0)
		return
	}
	s.ok(w, "two-factor authentication disabled", st)
}
