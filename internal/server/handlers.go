package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"typeshield/internal/behaviour"
	"typeshield/internal/policy"
	"typeshield/internal/security"
	"typeshield/internal/store"
)

// credentialsRequest is the shared register/login body. Behaviour stays
// raw until the schema has accepted it.
type credentialsRequest struct {
	Username  string          `json:"username"`
	Password  string          `json:"password"`
	Behaviour json.RawMessage `json:"behaviour"`
}

// registerResponse acknowledges enrollment.
type registerResponse struct {
	Username string `json:"username"`
}

// loginResponse reports the outcome. Score carries the similarity
// breakdown when the scorer ran; template timings are never included.
type loginResponse struct {
	Authenticated bool                   `json:"authenticated"`
	Category      string                 `json:"category,omitempty"`
	Reasons       []string               `json:"reasons,omitempty"`
	Score         *behaviour.ScoreResult `json:"score,omitempty"`
}

// attemptView is one history row in the attempts listing.
type attemptView struct {
	Outcome   string    `json:"outcome"`
	Score     *float64  `json:"score,omitempty"`
	Category  string    `json:"category,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// attemptsResponse is the attempt history for the session's user.
type attemptsResponse struct {
	Username string        `json:"username"`
	Success  int64         `json:"success_count"`
	Failure  int64         `json:"failure_count"`
	Recent   []attemptView `json:"recent"`
}

// decodeCredentials parses and validates the request body shared by
// register and login. The behaviour payload is schema-checked and then
// decoded into a timing vector.
func decodeCredentials(r *http.Request) (*credentialsRequest, behaviour.TimingVector, error) {
	var req credentialsRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, behaviour.TimingVector{}, err
	}

	if len(req.Behaviour) == 0 {
		return nil, behaviour.TimingVector{}, errors.New("behaviour payload missing")
	}
	if err := validateBehaviourPayload(req.Behaviour); err != nil {
		return nil, behaviour.TimingVector{}, err
	}

	var vec behaviour.TimingVector
	if err := json.Unmarshal(req.Behaviour, &vec); err != nil {
		return nil, behaviour.TimingVector{}, err
	}
	return &req, vec, nil
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	log := s.log.WithContext(r.Context())

	req, vec, err := decodeCredentials(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := security.ValidateUsername(req.Username); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := security.ValidatePassword(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := vec.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hash, err := security.HashPassword(req.Password)
	if err != nil {
		log.Error("hash password", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if _, err := s.store.CreateUserWithTemplate(r.Context(), req.Username, hash, vec); err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			writeError(w, http.StatusConflict, "username already taken")
			return
		}
		log.Error("enroll user", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if s.metrics != nil {
		s.metrics.RegistrationsTotal.Inc()
	}
	log.Info("user enrolled", "username", req.Username, "keys", vec.KeyCount())
	writeJSON(w, http.StatusCreated, registerResponse{Username: req.Username})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	log := s.log.WithContext(r.Context())
	start := time.Now()

	req, vec, err := decodeCredentials(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !s.limiter.Allow(req.Username) {
		if s.metrics != nil {
			s.metrics.RateLimitedTotal.Inc()
		}
		log.Warn("login rate limited", "username", req.Username)
		writeError(w, http.StatusTooManyRequests, "too many attempts")
		return
	}

	// Unknown usernames run through the same path with a failed password
	// check so the response does not reveal which accounts exist.
	var userID int64
	passwordOK := false
	user, err := s.store.GetUserByName(r.Context(), req.Username)
	switch {
	case err == nil:
		userID = user.ID
		passwordOK = security.VerifyPassword(req.Password, user.PasswordHash) == nil
	case errors.Is(err, store.ErrUserNotFound):
	default:
		log.Error("lookup user", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	decision, err := s.currentPolicy().Authenticate(r.Context(), userID, passwordOK, vec)
	if err != nil {
		log.Error("authenticate", "err", err, "username", req.Username)
		if s.metrics != nil {
			s.metrics.ErrorsTotal.Inc()
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.recordAttempt(r, req.Username, userID, decision)

	if s.metrics != nil {
		s.metrics.LoginDuration.ObserveDuration(time.Since(start))
	}

	if !decision.Authenticated {
		if s.metrics != nil {
			s.metrics.RecordFailedLogin()
		}
		log.Info("login denied",
			"username", req.Username, "category", string(decision.Category))
		writeJSON(w, http.StatusUnauthorized, loginResponse{
			Authenticated: false,
			Category:      string(decision.Category),
			Reasons:       decision.Reasons,
			Score:         decision.Score,
		})
		return
	}

	cookie := s.sessions.Create(userID, req.Username)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    cookie,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	if s.metrics != nil {
		s.metrics.RecordSuccessfulLogin(decision.Score.Similarity)
		s.metrics.ActiveSessions.Set(int64(s.sessions.Count()))
	}
	log.Info("login accepted",
		"username", req.Username, "score", decision.Score.Similarity)
	writeJSON(w, http.StatusOK, loginResponse{
		Authenticated: true,
		Score:         decision.Score,
	})
}

// recordAttempt logs the attempt to the store. Unknown users are recorded
// under user id 0 so probing still leaves a trace.
func (s *Server) recordAttempt(r *http.Request, username string, userID int64, d policy.Decision) {
	attempt := &store.Attempt{
		UserID:   userID,
		Username: username,
		Outcome:  store.OutcomeFailure,
		Category: string(d.Category),
	}
	if d.Authenticated {
		attempt.Outcome = store.OutcomeSuccess
	}
	if d.Score != nil {
		score := d.Score.Similarity
		attempt.Score = &score
	}

	if _, err := s.store.InsertAttempt(r.Context(), attempt); err != nil {
		s.log.WithContext(r.Context()).Error("record attempt", "err", err)
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookieName); err == nil {
		s.sessions.Destroy(c.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(int64(s.sessions.Count()))
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	sess, err := s.sessions.Resolve(c.Value)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	totals, err := s.store.Totals(r.Context(), sess.userID)
	if err != nil {
		s.log.WithContext(r.Context()).Error("attempt totals", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	recent, err := s.store.RecentAttempts(r.Context(), sess.userID, 20)
	if err != nil {
		s.log.WithContext(r.Context()).Error("recent attempts", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := attemptsResponse{
		Username: sess.username,
		Success:  totals.Success,
		Failure:  totals.Failure,
		Recent:   make([]attemptView, 0, len(recent)),
	}
	for _, a := range recent {
		resp.Recent = append(resp.Recent, attemptView{
			Outcome:   string(a.Outcome),
			Score:     a.Score,
			Category:  a.Category,
			CreatedAt: a.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
