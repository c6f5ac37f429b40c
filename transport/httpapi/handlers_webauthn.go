package httpapi

import (
	"encoding/json"
	"net/http"

	goMFA "github.com/MrEthical07/goMFA"
	"github.com/go-chi/chi/v5"
)

const (
	phaseBegin    = "begin"
	phaseComplete = "complete"
)

type registerRequest struct {
	Phase      string          `json:"phase"`
	CeremonyID string          `json:"ceremonyId"`
	Response   json.RawMessage `json:"response"`
	DeviceName string          `json:"deviceName"`
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	role, err := goMFA.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		s.fail(w, r, err, 0)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, 0)
		return
	}

	switch req.Phase {
	case phaseBegin:
		ticket, err := s.engine.BeginRegistration(r.Context(), userID(r), role)
		if err != nil {
			s.fail(w, r, err, 0)
			return
		}
		s.ok(w, "registration options created", ticket)
	case phaseComplete:
		res, err := s.engine.CompleteRegistration(r.Context(), userID(r), role, req.CeremonyID, req.Response, req.DeviceName)
		if err != nil {
			s.fail(w, r, err, 0)
			return
		}
		s.ok(w, "security key registered", res)
	default:
		s.fail(w, r, goMFA.ErrInvalidInput, 0)
	}
}

type authenticateRequest struct {
	Phase      string          `json:"phase"`
	Role       string          `json:"role"`
	Email      string          `json:"email"`
	Context    string          `json:"context"`
	CeremonyID string          `json:"ceremonyId"`
	Response   json.RawMessage `json:"response"`
	RememberMe bool            `json:"rememberMe"`
}

// handleAuthenticate serves both login ceremonies, which are public, and
// disable-proof ceremonies, which resolve the session themselves. Disable
// ceremonies finish through the disable endpoints as a webauthn proof.
func (s *server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req authenticateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, 0)
		return
	}
	role, err := goMFA.ParseRole(req.Role)
	if err != nil {
		s.fail(w, r, err, 0)
		return
	}
	cctx := goMFA.ContextLogin
	if req.Context != "" {
		if cctx, err = goMFA.ParseChallengeContext(req.Context); err != nil {
			s.fail(w, r, err, 0)
			return
		}
	}

	switch req.Phase {
	case phaseBegin:
		authReq := goMFA.AuthenticationRequest{Role: role, Email: req.Email, Context: cctx}
		if cctx == goMFA.ContextDisable {
			uid, serr := s.sessions.ResolveSession(r)
			if serr != nil || uid == "" {
				s.unauthorized(w, r)
				return
			}
			authReq = goMFA.AuthenticationRequest{Role: role, UserID: uid, Context: cctx}
		}
		ticket, err := s.engine.BeginAuthentication(r.Context(), authReq)
		if err != nil {
			s.fail(w, r, err, 0)
			return
		}
		s.ok(w, "authentication options created", ticket)
	case phaseComplete:
		if cctx != goMFA.ContextLogin {
			s.fail(w, r, goMFA.ErrInvalidContext, 0)
			return
		}
		res, err := s.engine.FinishAuthentication(r.Context(), goMFA.AuthenticationFinish{
			Role:       role,
			Email:      req.Email,
			CeremonyID: req.CeremonyID,
			Response:   req.Response,
			RememberMe: req.RememberMe,
		})
		if err != nil {
			s.fail(w, r, err, http.StatusUnauthorized)
			return
		}
		s.ok(w, "login verified", res)
	default:
		s.fail(w, r, goMFA.ErrInvalidInput, 0)
	}
}

type renameRequest struct {
	DeviceName string `json:"deviceName"`
}

func (s *server) handleRenameCredential(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, 0)
		return
	}
	if err := s.engine.RenameCredential(r.Context(), userID(r), chi.URLParam(r, "id"), req.DeviceName); err != nil {
		s.fail(w, r, err, 0)
		return
	}
	s.ok(w, "credential renamed", nil)
}

func (s *server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	role, err := goMFA.ParseRole(r.URL.Query().Get("role"))
	if err != nil {
		s.fail(w, r, err, 0)
		return
	}
	st, err := s.engine.DeleteCredential(r.Context(), userID(r), role, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err, 0)
		return
	}
	s.ok(w, "credential deleted", st)
}

type transferRequest struct {
	CredentialID string `json:"credentialId"`
	FromRole     string `json:"fromRole"`
	ToRole       string `json:"toRole"`
}

func (s *server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, 0)
		return
	}
	from, err := goMFA.ParseRole(req.FromRole)
	if err != nil {
		s.fail(w, r, err, 0)
		return
	}
	to, err := goMFA.ParseRole(req.ToRole)
	if err != nil {
		s.fail(w, r, err, 0)
		return
	}
	res, err := s.engine.TransferCredential(r.Context(), userID(r), req.CredentialID, from, to)
	if err != nil {
		s.fail(w, r, err, 0)
		return
	}
	s.ok(w, "credential transferred", res)
}
