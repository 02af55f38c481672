package http

import (
	"encoding/json"
	"net/http"
	"time"

	"attempt-ledger-service/internal/app"
	"attempt-ledger-service/internal/auth"
	"attempt-ledger-service/internal/domain"
	"attempt-ledger-service/internal/metrics"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler exposes the attempt, leaderboard and reward use cases over HTTP.
type Handler struct {
	attempts *app.AttemptService
	boards   *app.LeaderboardService
	ledger   *app.RewardLedger
	verifier TokenVerifier
	metrics  *metrics.Metrics
	log      *zap.Logger
	validate *validator.Validate
	upgrader websocket.Upgrader
}

func NewHandler(attempts *app.AttemptService, boards *app.LeaderboardService, ledger *app.RewardLedger, verifier TokenVerifier, m *metrics.Metrics, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		attempts: attempts,
		boards:   boards,
		ledger:   ledger,
		verifier: verifier,
		metrics:  m,
		log:      log,
		validate: validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Routes builds the service mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", h.metrics.Handler())

	mux.Handle("POST /attempts", h.authed(h.submitAttempt))
	mux.Handle("POST /attempts/{id}/complete", h.authed(h.completeAttempt))
	mux.Handle("GET /attempts", h.authed(h.attemptHistory))
	mux.Handle("GET /attempts/summary", h.authed(h.attemptSummary))
	mux.Handle("GET /events/{id}/leaderboard", h.authed(h.leaderboard))
	mux.Handle("GET /events/{id}/leaderboard/ws", h.authed(h.ServeLeaderboardWS))
	mux.Handle("POST /rewards/uploads", h.authed(h.grantUploadReward))
	mux.Handle("GET /rewards/xp", h.authed(h.xpTotal))
	return h.instrument(mux)
}

type submitAttemptRequest struct {
	SubjectKind string     `json:"subjectKind" validate:"required,oneof=quiz game path"`
	SubjectID   string     `json:"subjectId" validate:"required"`
	EventID     string     `json:"eventId"`
	StartedAt   *time.Time `json:"startedAt"`
	TotalItems  int        `json:"totalItems" validate:"gte=0"`
}

type completeAttemptRequest struct {
	CompletedItems int        `json:"completedItems" validate:"gte=0"`
	Passed         bool       `json:"passed"`
	Score          *float64   `json:"score"`
	CompletedAt    *time.Time `json:"completedAt"`
}

type grantRewardRequest struct {
	ContentID string `json:"contentId" validate:"required"`
}

type attemptSummary struct {
	HasAttempted bool                  `json:"hasAttempted"`
	AttemptCount int                   `json:"attemptCount"`
	LastAttempt  *domain.AttemptRecord `json:"lastAttempt"`
}

type xpResponse struct {
	UserID string `json:"userId"`
	Total  int64  `json:"total"`
}

func (h *Handler) submitAttempt(w http.ResponseWriter, r *http.Request) {
	var req submitAttemptRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := app.SubmitAttempt{
		Scope: domain.Scope{
			SubjectKind: domain.SubjectKind(req.SubjectKind),
			SubjectID:   req.SubjectID,
			EventID:     req.EventID,
		},
		TotalItems: req.TotalItems,
	}
	if req.StartedAt != nil {
		in.StartedAt = *req.StartedAt
	}
	rec, err := h.attempts.Submit(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) completeAttempt(w http.ResponseWriter, r *http.Request) {
	var req completeAttemptRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := app.CompleteAttempt{
		AttemptID:      r.PathValue("id"),
		CompletedItems: req.CompletedItems,
		Passed:         req.Passed,
		Score:          req.Score,
	}
	if req.CompletedAt != nil {
		in.CompletedAt = *req.CompletedAt
	}
	rec, err := h.attempts.Complete(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) attemptHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.attempts.History(r.Context(), scopeFromQuery(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) attemptSummary(w http.ResponseWriter, r *http.Request) {
	scope := scopeFromQuery(r)
	ctx := r.Context()

	has, err := h.attempts.HasAttempted(ctx, scope)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	count, err := h.attempts.AttemptCount(ctx, scope)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	last, err := h.attempts.LastAttempt(ctx, scope)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, attemptSummary{HasAttempted: has, AttemptCount: count, LastAttempt: last})
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	lb, err := h.boards.Leaderboard(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

func (h *Handler) grantUploadReward(w http.ResponseWriter, r *http.Request) {
	var req grantRewardRequest
	if !h.decode(w, r, &req) {
		return
	}
	userID, _ := auth.UserID(r.Context())
	outcome, err := h.ledger.GrantUploadReward(r.Context(), userID, req.ContentID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if outcome.Status == domain.GrantGranted {
		status = http.StatusCreated
	}
	writeJSON(w, status, outcome)
}

func (h *Handler) xpTotal(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	total, err := h.ledger.XPTotal(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, xpResponse{UserID: userID, Total: total})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeBadRequest(w, "malformed JSON body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeBadRequest(w, err.Error())
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, err)
}

func scopeFromQuery(r *http.Request) domain.Scope {
	q := r.URL.Query()
	return domain.Scope{
		SubjectKind: domain.SubjectKind(q.Get("kind")),
		SubjectID:   q.Get("subjectId"),
		EventID:     q.Get("eventId"),
	}
}
