// Package handler содержит HTTP-обработчики API сервиса финлёрн.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/finlearn-system/internal/identity"
	"github.com/mmeshcher/finlearn-system/internal/middleware"
	"github.com/mmeshcher/finlearn-system/internal/model"
	"github.com/mmeshcher/finlearn-system/internal/repository"
	"github.com/mmeshcher/finlearn-system/internal/service"
	"github.com/mmeshcher/finlearn-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	EnsureAccount(ctx context.Context, ident *identity.Identity) (*model.Account, error)
	GetAccount(ctx context.Context, ident *identity.Identity) (*model.Account, error)
	SetProfile(ctx context.Context, ident *identity.Identity, displayName string) (*model.Account, error)
	ListLessons(ctx context.Context) ([]model.Lesson, error)
	GetLesson(ctx context.Context, lessonID int64) (*model.Lesson, error)
	CompleteLesson(ctx context.Context, ident *identity.Identity, lessonID int64) (*model.Account, error)
	SeedCatalog(ctx context.Context) ([]model.Lesson, error)
}

// Handler реализует HTTP-обработчики API сервиса финлёрн.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type accountResponse struct {
	ID               int64   `json:"id"`
	DisplayName      string  `json:"displayName"`
	Email            string  `json:"email"`
	CoinBalance      int64   `json:"coinBalance"`
	CurrentDay       int     `json:"currentDay"`
	GroupID          *int64  `json:"groupId,omitempty"`
	CompletedLessons []int64 `json:"completedLessons"`
	Awards           []int64 `json:"awards"`
}

func toAccountResponse(a *model.Account) accountResponse {
	resp := accountResponse{
		ID:               a.ID,
		DisplayName:      a.DisplayName,
		Email:            a.Email,
		CoinBalance:      a.CoinBalance,
		CurrentDay:       a.CurrentDay,
		GroupID:          a.GroupID,
		CompletedLessons: a.CompletedLessons,
		Awards:           a.Awards,
	}
	if resp.CompletedLessons == nil {
		resp.CompletedLessons = []int64{}
	}
	if resp.Awards == nil {
		resp.Awards = []int64{}
	}
	return resp
}

type lessonSummary struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Icon        string `json:"icon"`
	RewardCoins int64  `json:"rewardCoins"`
}

type lessonDetail struct {
	ID          int64                `json:"id"`
	Title       string               `json:"title"`
	Icon        string               `json:"icon"`
	Slides      []string             `json:"slides"`
	Quiz        []model.QuizQuestion `json:"quiz"`
	RewardCoins int64                `json:"rewardCoins"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// EnsureAccount создаёт счёт для текущей личности, если его ещё нет, и возвращает его.
func (h *Handler) EnsureAccount(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	acc, err := h.service.EnsureAccount(r.Context(), ident)
	if err != nil {
		if errors.Is(err, service.ErrUnauthenticated) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("ensure account error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, toAccountResponse(acc))
}

// GetAccount возвращает снимок счёта текущей личности или 204, если счёта ещё нет.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	acc, err := h.service.GetAccount(r.Context(), ident)
	if err != nil {
		if errors.Is(err, service.ErrUnauthenticated) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("get account error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if acc == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.writeJSON(w, toAccountResponse(acc))
}

type profileRequest struct {
	Name string `json:"name"`
}

// SetProfile устанавливает отображаемое имя счёта текущей личности.
func (h *Handler) SetProfile(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidDisplayName(req.Name) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	acc, err := h.service.SetProfile(r.Context(), ident, req.Name)
	if err != nil {
		if errors.Is(err, service.ErrUnauthenticated) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("set profile error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, toAccountResponse(acc))
}

// ListLessons возвращает все уроки каталога. Пустой каталог — пустой массив, не ошибка.
func (h *Handler) ListLessons(w http.ResponseWriter, r *http.Request) {
	lessons, err := h.service.ListLessons(r.Context())
	if err != nil {
		h.logger.Error("list lessons error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]lessonSummary, 0, len(lessons))
	for _, l := range lessons {
		resp = append(resp, lessonSummary{
			ID:          l.ID,
			Title:       l.Title,
			Icon:        l.Icon,
			RewardCoins: l.RewardCoins,
		})
	}

	h.writeJSON(w, resp)
}

// GetLesson возвращает урок целиком: слайды, викторину и размер награды.
func (h *Handler) GetLesson(w http.ResponseWriter, r *http.Request) {
	lessonID, ok := validation.ParseLessonID(chi.URLParam(r, "lessonID"))
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	lesson, err := h.service.GetLesson(r.Context(), lessonID)
	if err != nil {
		if errors.Is(err, repository.ErrLessonNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get lesson error", zap.Error(err), zap.Int64("lessonID", lessonID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, lessonDetail{
		ID:          lesson.ID,
		Title:       lesson.Title,
		Icon:        lesson.Icon,
		Slides:      lesson.Slides,
		Quiz:        lesson.Quiz,
		RewardCoins: lesson.RewardCoins,
	})
}

// CompleteLesson отмечает урок пройденным для текущей личности и возвращает
// обновлённый счёт. Повторное прохождение не меняет баланс.
func (h *Handler) CompleteLesson(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	lessonID, ok := validation.ParseLessonID(chi.URLParam(r, "lessonID"))
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	acc, err := h.service.CompleteLesson(r.Context(), ident, lessonID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnauthenticated):
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		case errors.Is(err, repository.ErrLessonNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		default:
			h.logger.Error("complete lesson error", zap.Error(err), zap.Int64("lessonID", lessonID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, toAccountResponse(acc))
}

// SeedCatalog заполняет каталог встроенным набором уроков. Утилита для dev-стендов.
func (h *Handler) SeedCatalog(w http.ResponseWriter, r *http.Request) {
	lessons, err := h.service.SeedCatalog(r.Context())
	if err != nil {
		h.logger.Error("seed catalog error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]lessonSummary, 0, len(lessons))
	for _, l := range lessons {
		resp = append(resp, lessonSummary{
			ID:          l.ID,
			Title:       l.Title,
			Icon:        l.Icon,
			RewardCoins: l.RewardCoins,
		})
	}

	h.writeJSON(w, resp)
}
