package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/onno/internal/leveling"
	"github.com/MikeSquared-Agency/onno/internal/preference"
	"github.com/MikeSquared-Agency/onno/internal/store"
)

type questionActionRequest struct {
	QuestionID   *uuid.UUID `json:"question_id"`
	MeetingID    *uuid.UUID `json:"meeting_id"`
	Category     string     `json:"category"`
	Action       string     `json:"action"`
	OriginalText string     `json:"original_text"`
	ModifiedText string     `json:"modified_text"`
}

func (s *Server) handleQuestionAction(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req questionActionRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sig, err := preference.ParseSignal(req.Action)
	if err != nil || sig == preference.SignalThumbsUp || sig == preference.SignalThumbsDown {
		writeError(w, http.StatusBadRequest, "action must be used, used_modified, ignored or dismissed")
		return
	}
	if req.QuestionID == nil && req.Category == "" {
		writeError(w, http.StatusBadRequest, "question_id or category is required")
		return
	}

	weight, err := s.prefs.RecordAction(r.Context(), preference.Action{
		UserID:       userID,
		QuestionID:   req.QuestionID,
		MeetingID:    req.MeetingID,
		Category:     req.Category,
		Signal:       sig,
		OriginalText: req.OriginalText,
		ModifiedText: req.ModifiedText,
	})
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "question not found")
		return
	}
	if err != nil {
		s.logger.Error("record question action failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"action": sig, "weight": weight})
}

type questionFeedbackRequest struct {
	QuestionID uuid.UUID `json:"question_id"`
	Rating     string    `json:"rating"`
	Tags       []string  `json:"tags"`
	Favorite   bool      `json:"favorite"`
}

// handleQuestionFeedback stores a rating and awards feedback xp in the
// domain of the question's meeting.
func (s *Server) handleQuestionFeedback(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req questionFeedbackRequest
	if err := decode(w, r, &req); err != nil || req.QuestionID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "question_id is required")
		return
	}
	sig, err := preference.ParseSignal(req.Rating)
	if err != nil || (sig != preference.SignalThumbsUp && sig != preference.SignalThumbsDown) {
		writeError(w, http.StatusBadRequest, "rating must be thumbs_up or thumbs_down")
		return
	}

	q, weight, err := s.prefs.Rate(r.Context(), preference.Rating{
		UserID:     userID,
		QuestionID: req.QuestionID,
		Signal:     sig,
		Tags:       req.Tags,
		Favorite:   req.Favorite,
	})
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "question not found")
		return
	}
	if err != nil {
		s.logger.Error("rate question failed", "user_id", userID, "question_id", req.QuestionID.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	domain := leveling.DomainGeneral
	if s.meetings != nil {
		if m, err := s.meetings.GetMeeting(r.Context(), q.MeetingID); err == nil {
			domain = leveling.DomainFor(m.MeetingType)
		} else {
			s.logger.Warn("meeting lookup failed, awarding in general domain", "meeting_id", q.MeetingID.String(), "error", err)
		}
	}
	out, err := s.levels.Award(r.Context(), userID, domain, s.levels.Policy().FeedbackXP, leveling.ReasonFeedback)
	if err != nil {
		s.logger.Error("feedback award failed", "user_id", userID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"category":   q.Category,
		"weight":     weight,
		"domain":     domain,
		"xp_awarded": out.XPAwarded,
		"leveled_up": out.LeveledUp,
		"new_level":  out.NewLevel,
	})
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	st, err := s.prefs.Stats(r.Context(), userID)
	if err != nil {
		s.logger.Error("load preferences failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type preferencesPatch struct {
	Tone               *string `json:"tone"`
	IncludeExplanation *bool   `json:"include_explanation"`
}

func (s *Server) handlePatchPreferences(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req preferencesPatch
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cur, err := s.prefs.Stats(r.Context(), userID)
	if err != nil {
		s.logger.Error("load preferences failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	tone, explain := cur.Tone, cur.IncludeExplanation
	if req.Tone != nil {
		t, err := preference.ParseTone(*req.Tone)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		tone = t
	}
	if req.IncludeExplanation != nil {
		explain = *req.IncludeExplanation
	}
	if err := s.prefs.UpdateStyle(r.Context(), userID, tone, explain); err != nil {
		s.logger.Error("update preferences failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	cur.Tone, cur.IncludeExplanation = tone, explain
	writeJSON(w, http.StatusOK, cur)
}

type candidateJSON struct {
	Text     string `json:"text"`
	Category string `json:"category"`
	Priority int    `json:"priority"`
	Reason   string `json:"reason,omitempty"`
}

type rankedJSON struct {
	candidateJSON
	OriginalPriority int     `json:"original_priority"`
	Score            float64 `json:"score"`
}

func (s *Server) handlePersonalize(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req struct {
		Questions []candidateJSON `json:"questions"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	candidates := make([]preference.Candidate, len(req.Questions))
	for i, q := range req.Questions {
		candidates[i] = preference.Candidate{Text: q.Text, Category: q.Category, Priority: q.Priority, Reason: q.Reason}
	}

	ranked, err := s.prefs.Personalize(r.Context(), userID, candidates)
	if err != nil {
		s.logger.Warn("personalize failed, returning input order", "user_id", userID, "error", err)
		ranked = preference.Unranked(candidates)
	}
	out := make([]rankedJSON, len(ranked))
	for i, q := range ranked {
		out[i] = rankedJSON{
			candidateJSON:    candidateJSON{Text: q.Text, Category: q.Category, Priority: q.Priority, Reason: q.Reason},
			OriginalPriority: q.OriginalPriority,
			Score:            q.Score,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"questions": out})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	p, err := s.levels.Progress(r.Context(), userID)
	if err != nil {
		s.logger.Error("load progress failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type historyJSON struct {
	Domain      string    `json:"domain"`
	OldLevel    int       `json:"old_level"`
	NewLevel    int       `json:"new_level"`
	XPAtChange  int       `json:"xp_at_change"`
	NewFeatures []string  `json:"new_features"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *Server) handleLevelHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit := 10
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := s.levels.History(r.Context(), userID, limit)
	if err != nil {
		s.logger.Error("load level history failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]historyJSON, len(entries))
	for i, e := range entries {
		out[i] = historyJSON{
			Domain:      e.Domain,
			OldLevel:    e.OldLevel,
			NewLevel:    e.NewLevel,
			XPAtChange:  e.XPAtChange,
			NewFeatures: e.NewFeatures,
			Reason:      e.Reason,
			CreatedAt:   e.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type levelJSON struct {
	UserID   string   `json:"user_id"`
	Domain   string   `json:"domain"`
	Level    int      `json:"level"`
	XP       int      `json:"xp"`
	Features []string `json:"features"`
	Persona  string   `json:"persona"`
}

func toLevelJSON(dl store.DomainLevel) levelJSON {
	return levelJSON{
		UserID:   dl.UserID,
		Domain:   dl.Domain,
		Level:    dl.Level,
		XP:       dl.Experience,
		Features: dl.UnlockedFeatures,
		Persona:  dl.Persona,
	}
}

// domainParam parses the {domain} path segment, writing a 400 on failure.
func domainParam(w http.ResponseWriter, r *http.Request) (leveling.Domain, bool) {
	d, err := leveling.ParseDomain(chi.URLParam(r, "domain"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return d, true
}

func (s *Server) handleGetLevel(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	domain, ok := domainParam(w, r)
	if !ok {
		return
	}
	dl, err := s.levels.Level(r.Context(), userID, domain)
	if err != nil {
		s.logger.Error("load level failed", "user_id", userID, "domain", domain, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toLevelJSON(dl))
}

func (s *Server) handleNextLevel(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	domain, ok := domainParam(w, r)
	if !ok {
		return
	}
	nl, err := s.levels.NextLevel(r.Context(), userID, domain)
	if err != nil {
		s.logger.Error("load next level failed", "user_id", userID, "domain", domain, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, nl)
}

func (s *Server) handleSetPersona(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	domain, ok := domainParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Persona string `json:"persona"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	persona, err := leveling.ParsePersona(req.Persona)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	dl, err := s.levels.SetPersona(r.Context(), userID, domain, persona)
	if err != nil {
		s.logger.Error("set persona failed", "user_id", userID, "domain", domain, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toLevelJSON(dl))
}

func (s *Server) handleAwardXP(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	domain, ok := domainParam(w, r)
	if !ok {
		return
	}
	var req struct {
		XP     int    `json:"xp"`
		Reason string `json:"reason"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reason == "" {
		req.Reason = leveling.ReasonManual
	}

	out, err := s.levels.Award(r.Context(), userID, domain, req.XP, req.Reason)
	if errors.Is(err, leveling.ErrNegativeXP) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("award xp failed", "user_id", userID, "domain", domain, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFollowUp(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	domain, ok := domainParam(w, r)
	if !ok {
		return
	}
	out, err := s.levels.RewardFollowUp(r.Context(), userID, domain)
	if err != nil {
		s.logger.Error("follow-up award failed", "user_id", userID, "domain", domain, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, out)
}
