package admin

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/example/romanticbot/internal/metrics"
	"github.com/example/romanticbot/internal/models"
	"github.com/example/romanticbot/internal/repository"
	"github.com/example/romanticbot/internal/service"
)

// Server is the operator-facing HTTP surface: totals, recent pipeline rows,
// payments, broadcast and Prometheus exposition.
type Server struct {
	addr        string
	username    string
	password    string
	log         *slog.Logger
	users       *service.UserService
	userRepo    *repository.UserRepository
	generations *repository.GenerationRepository
	payments    *repository.PaymentRepository
	bot         *tgbotapi.BotAPI
	router      *chi.Mux
}

func NewServer(addr, username, password string, log *slog.Logger, users *service.UserService, userRepo *repository.UserRepository, generations *repository.GenerationRepository, payments *repository.PaymentRepository, bot *tgbotapi.BotAPI, registry *prometheus.Registry) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:        addr,
		username:    username,
		password:    password,
		log:         log,
		users:       users,
		userRepo:    userRepo,
		generations: generations,
		payments:    payments,
		bot:         bot,
		router:      r,
	}
	r.Method(http.MethodGet, "/metrics", metrics.Handler(registry))
	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Post("/broadcast", s.handleBroadcast)
		protected.Get("/stats", s.handleStats)
		protected.Get("/generations", s.handleListGenerations)
		protected.Get("/payments", s.handleListPayments)
	})
	return s
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("admin shutdown error", "err", err)
		}
	}()

	s.log.Info("admin server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin listen: %w", err)
	}
	return nil
}

type broadcastRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	ids, err := s.users.ListTelegramIDs(ctx)
	if err != nil {
		s.internalError(w, err)
		return
	}

	count := 0
	for _, id := range ids {
		msg := tgbotapi.NewMessage(id, req.Message)
		if _, err := s.bot.Send(msg); err != nil {
			s.log.Error("send broadcast", "user", id, "err", err)
			continue
		}
		count++
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"sent":  count,
		"total": len(ids),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userCount, err := s.userRepo.Count(ctx)
	if err != nil {
		s.internalError(w, err)
		return
	}
	statusCounts, err := s.generations.CountByStatus(ctx)
	if err != nil {
		s.internalError(w, err)
		return
	}

	byStatus := make(map[string]int, len(statusCounts))
	active := 0
	for status, count := range statusCounts {
		byStatus[string(status)] = count
		if !status.Terminal() {
			active += count
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"users":              userCount,
		"generations":        byStatus,
		"active_generations": active,
	})
}

func (s *Server) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"))
	gens, err := s.generations.ListRecent(r.Context(), limit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(gens))
	for _, g := range gens {
		out = append(out, generationJSON(g))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"))
	payments, err := s.payments.ListRecent(r.Context(), limit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(payments))
	for _, p := range payments {
		out = append(out, map[string]any{
			"id":                  p.ID,
			"user_id":             p.UserID,
			"amount":              p.Amount,
			"generations_count":   p.GenerationsCount,
			"status":              p.Status,
			"provider_payment_id": p.ProviderPaymentID,
			"created_at":          p.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func generationJSON(g models.Generation) map[string]any {
	return map[string]any{
		"id":         g.ID,
		"user_id":    g.UserID,
		"status":     g.Status,
		"video_url":  g.VideoURL,
		"created_at": g.CreatedAt,
		"updated_at": g.UpdatedAt,
	}
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.username || pass != s.password {
				w.Header().Set("WWW-Authenticate", `Basic realm="romanticbot"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s.log.Error("admin handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func parseLimit(value string) int {
	if value == "" {
		return 0
	}
	limit, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}
