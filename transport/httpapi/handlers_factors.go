package httpapi

import (
	"net/http"

	goMFA "github.com/MrEthical07/goMFA"
)

type codeRequest struct {
	Code string `json:"code"`
}

func (s *server) handleEmailConfig(w http.ResponseWriter, r *http.Request) {
	ticket, err := s.engine.ConfigureEmail(r.Context(), userID(r))
	if err != nil {
		s.fail(w, r, err, 0)
		return
	}
	s.ok(w, "verification code sent", ticket)
}

func (s *server) handleEmailEnable(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, 0)
		return
	}
	res, err := s.engine.EnableEmail(r.Context(), userID(r), req.Code)
	if err != nil {
		s.fail(w, r, err, 0)
		return
	}
	s.ok(w, "email verification enabled", res)
}

func (s *server) handleAppConfig(w http.ResponseWriter, r *http.Request) {
	setup, err := s.engine.ConfigureApp(r.Context(), userID(r))
	if err != nil {
		s.fail(w, r, err, 0)
		return
	}
	s.ok(w, "scan the QR code with your authenticator app", setup)
}

func (s *server) handleAppEnable(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, 0)
		return
	}
	res, err := s.engine.EnableApp(r.Context(), userID(r), req.Code)
	if err != nil {
		s.fail(w, r, err, 0)
		return
	}
	s.ok(w, "authenticator app enabled", res)
}

func (s *server) handleDisable(m goMFA.Method) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var proof goMFA.Proof
		if err := decodeJSON(w, r, &proof); err != nil {
			s.fail(w, r, err, 0)
			return
		}
		st, err := s.engine.DisableMethod(r.Context(), userID(r), m, proof)
		if err != nil {
			s.fail(w, r, err, 0)
			return
		}
		s.ok(w, string(m)+" disabled", st)
	}
}

func (s *server) handleRegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	var proof goMFA.Proof
	if err := decodeJSON(w, r, &proof); err != nil {
		s.fail(w, r, err, 0)
		return
	}
	res, err := s.engine.RegenerateBackupCodes(r.Context(), userID(r), proof)
	if err != nil {
		s.fail(w, r, err, 0)
		return
	}
	s.ok(w, "backup codes regenerated", res)
}

type answersRequest struct {
	Answers []goMFA.AnswerInput `json:"answers"`
}

func (s *server) handleQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := s.engine.SecurityQuestions(r.Context())
	if err != nil {
		s.fail(w, r, err, 0)
		return
	}
	s.ok(w, "", map[string]any{"questions": questions})
}

func (s *server) handleSetAnswers(w http.ResponseWriter, r *http.Request) {
	var req answersRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, 0)
		return
	}
	if err := s.engine.SetSecurityAnswers(r.Context(), userID(r), req.Answers); err != nil {
		s.fail(w, r, err, 0)
		return
	}
	s.ok(w, "security questions saved", nil)
}

func (s *server) handleVerifyAnswers(w http.ResponseWriter, r *http.Request) {
	var req answersRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, 0)
		return
	}
	if err := s.engine.VerifySecurityAnswers(r.Context(), userID(r), req.Answers); err != nil {
		s.fail(w, r, err, 0)
		return
	}
	s.ok(w, "security answers verified", map[string]any{"verified": true})
}
