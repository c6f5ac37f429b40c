package goMFA

import (
	"context"
	"sort"

	"github.com/MrEthical07/goMFA/hashing"
	"github.com/MrEthical07/goMFA/internal/rate"
	"go.uber.org/zap"
)

// securityQuestionMethod verifies answers to the user's configured
// questions. Like backup codes it is bounded by a failure window instead of
// a challenge record.
type securityQuestionMethod struct {
	e *Engine
}

func (m *securityQuestionMethod) Method() Method { return MethodSecurityQuestion }

// IssueChallenge returns the configured questions so the client can prompt
// for them.
func (m *securityQuestionMethod) IssueChallenge(ctx context.Context, userID string, cctx ChallengeContext) (*ChallengeTicket, error) {
	questions, err := m.e.configuredQuestions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &ChallengeTicket{
		Method:    MethodSecurityQuestion,
		Kind:      ChallengeSecurityQuestion.String(),
		Context:   cctx,
		Questions: questions,
	}, nil
}

func (m *securityQuestionMethod) Verify(ctx context.Context, userID string, cctx ChallengeContext, proof Proof) error {
	return m.e.verifySecurityAnswers(ctx, userID, cctx, proof.Answers)
}

func (m *securityQuestionMethod) Describe(ctx context.Context, userID string, _ *Profile) (MethodDescription, error) {
	d := MethodDescription{Method: MethodSecurityQuestion, State: StateUnconfigured}
	answers, err := m.e.store.GetSecurityAnswers(ctx, userID)
	if err != nil {
		return d, m.e.storeErr("get security answers", err)
	}
	if len(answers) > 0 {
		d.State = StateEnabled
		d.Enabled = true
	}
	return d, nil
}

// SecurityQuestions returns the seeded catalog.
func (e *Engine) SecurityQuestions(ctx context.Context) ([]SecurityQuestion, error) {
	catalog, err := e.store.ListSecurityQuestions(ctx)
	if err != nil {
		return nil, e.storeErr("list security questions", err)
	}
	return catalog, nil
}

// SetSecurityAnswers describes the setsecurityanswers operation and its observable behavior.
//
// SetSecurityAnswers replaces the user's answers. It requires exactly the
// configured number of entries, with distinct catalog question ids and
// non-empty answers. Answers are normalized before hashing so that casing
// and spacing do not matter at verification time.
func (e *Engine) SetSecurityAnswers(ctx context.Context, userID string, answers []AnswerInput) error {
	if _, err := e.profile(ctx, userID); err != nil {
		return err
	}
	if len(answers) != e.config.SecurityQuestions.RequiredAnswers {
		return ErrSecurityAnswersInvalid
	}

	catalog, err := e.SecurityQuestions(ctx)
	if err != nil {
		return err
	}
	known := make(map[int]struct{}, len(catalog))
	for _, q := range catalog {
		known[q.ID] = struct{}{}
	}

	seen := make(map[int]struct{}, len(answers))
	hashed := make([]SecurityAnswer, 0, len(answers))
	for _, in := range answers {
		if _, ok := known[in.QuestionID]; !ok {
			return ErrSecurityAnswersInvalid
		}
		if _, dup := seen[in.QuestionID]; dup {
			return ErrSecurityAnswersInvalid
		}
		seen[in.QuestionID] = struct{}{}

		normalized := hashing.NormalizeAnswer(in.Answer)
		if normalized == "" {
			return ErrSecurityAnswersInvalid
		}
		h, err := e.hasher.Hash(normalized)
		if err != nil {
			return ErrSecurityAnswersInvalid
		}
		hashed = append(hashed, SecurityAnswer{QuestionID: in.QuestionID, AnswerHash: h})
	}

	if err := e.store.ReplaceSecurityAnswers(ctx, userID, hashed); err != nil {
		return e.storeErr("replace security answers", err)
	}
	e.metricInc(MetricSecurityAnswersSet)
	e.emitAudit(ctx, auditEventSecurityAnswersSet, true, userID, MethodSecurityQuestion, nil, nil)
	return nil
}

// VerifySecurityAnswers checks answers outside any challenge. A mismatch
// returns ErrProofRejected and counts against the failure window.
func (e *Engine) VerifySecurityAnswers(ctx context.Context, userID string, answers []AnswerInput) error {
	if _, err := e.profile(ctx, userID); err != nil {
		return err
	}
	return e.verifySecurityAnswers(ctx, userID, "", answers)
}

func (e *Engine) configuredQuestions(ctx context.Context, userID string) ([]SecurityQuestion, error) {
	stored, err := e.store.GetSecurityAnswers(ctx, userID)
	if err != nil {
		return nil, e.storeErr("get security answers", err)
	}
	if len(stored) == 0 {
		return nil, ErrSecurityQuestionsNotSet
	}
	catalog, err := e.SecurityQuestions(ctx)
	if err != nil {
		return nil, err
	}
	text := make(map[int]string, len(catalog))
	for _, q := range catalog {
		text[q.ID] = q.Text
	}

	out := make([]SecurityQuestion, 0, len(stored))
	for _, a := range stored {
		out = append(out, SecurityQuestion{ID: a.QuestionID, Text: text[a.QuestionID]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// verifySecurityAnswers requires every configured question to be answered
// correctly. All hashes are evaluated even after a mismatch.
func (e *Engine) verifySecurityAnswers(ctx context.Context, userID string, cctx ChallengeContext, answers []AnswerInput) error {
	rule := e.config.RateLimit.SecurityAnswerFailures
	key := rate.FailureKey("security", userID)
	if err := e.checkFailures(ctx, "security_answers", key, userID, rule); err != nil {
		return err
	}

	stored, err := e.store.GetSecurityAnswers(ctx, userID)
	if err != nil {
		return e.storeErr("get security answers", err)
	}
	if len(stored) == 0 {
		return ErrSecurityQuestionsNotSet
	}

	given := make(map[int]string, len(answers))
	for _, a := range answers {
		given[a.QuestionID] = a.Answer
	}

	ok := len(answers) == len(stored)
	for _, s := range stored {
		answer, present := given[s.QuestionID]
		if !present {
			ok = false
			continue
		}
		match, err := e.hasher.Verify(hashing.NormalizeAnswer(answer), s.AnswerHash)
		if err != nil {
			e.logger.Error("stored security answer hash unreadable",
				zap.String("user_id", userID), zap.Int("question_id", s.QuestionID), zap.Error(err))
			ok = false
			continue
		}
		if !match {
			ok = false
		}
	}

	meta := func() map[string]string {
		if cctx == "" {
			return nil
		}
		return map[string]string{"context": string(cctx)}
	}
	if !ok {
		e.recordFailure(ctx, key, rule)
		e.metricInc(MetricSecurityAnswersFailed)
		e.emitAudit(ctx, auditEventSecurityAnswersFailed, false, userID, MethodSecurityQuestion, ErrProofRejected, meta)
		return ErrProofRejected
	}

	if err := e.limiter.Reset(ctx, key); err != nil {
		e.logger.Warn("failed to reset security answer failures", zap.String("user_id", userID), zap.Error(err))
	}
	e.emitAudit(ctx, auditEventSecurityAnswersMatched, true, userID, MethodSecurityQuestion, nil, meta)
	return nil
}
