package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/reelforge/reelforge/internal/models"
	"github.com/reelforge/reelforge/internal/repository"
	"github.com/reelforge/reelforge/internal/service"
	"github.com/reelforge/reelforge/internal/storage"
	"github.com/reelforge/reelforge/internal/workflow"
)

const maxAssetSize = 64 << 20 // 64 MiB

type Server struct {
	addr          string
	webhookSecret string
	opsUsername   string
	opsPassword   string
	log           *slog.Logger

	reconciler  *service.Reconciler
	dispatcher  *workflow.Dispatcher
	profiles    *repository.ProfileRepository
	audits      *repository.AuditRepository
	generations *repository.GenerationRepository
	plans       *service.PlanService
	promos      *service.PromoService
	uploader    *storage.Uploader

	router *chi.Mux
}

func NewServer(addr, webhookSecret, opsUsername, opsPassword string, log *slog.Logger, reconciler *service.Reconciler, dispatcher *workflow.Dispatcher, profiles *repository.ProfileRepository, audits *repository.AuditRepository, generations *repository.GenerationRepository, plans *service.PlanService, promos *service.PromoService, uploader *storage.Uploader) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:          addr,
		webhookSecret: webhookSecret,
		opsUsername:   opsUsername,
		opsPassword:   opsPassword,
		log:           log,
		reconciler:    reconciler,
		dispatcher:    dispatcher,
		profiles:      profiles,
		audits:        audits,
		generations:   generations,
		plans:         plans,
		promos:        promos,
		uploader:      uploader,
		router:        r,
	}

	r.Get("/healthz", s.handleHealthz)
	r.Post("/webhook/stripe", s.handleStripeWebhook)

	r.Route("/api", func(api chi.Router) {
		api.Post("/workflows/validate", s.handleValidateWorkflow)
		api.Post("/workflows/run", s.handleRunWorkflow)
		api.Get("/workflows/generations", s.handleListGenerations)
		api.Post("/assets", s.handleUploadAsset)
		api.Post("/promo/redeem", s.handleRedeemPromo)
		api.Get("/plans", s.handleListPlans)
	})

	r.Group(func(ops chi.Router) {
		ops.Use(s.basicAuthMiddleware())
		ops.Get("/ops/profiles/{id}", s.handleGetProfile)
		ops.Get("/ops/profiles/{id}/audit", s.handleProfileAudit)
	})

	return s
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("server shutdown error", "err", err)
		}
	}()

	s.log.Info("http server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type workflowRequest struct {
	UserID string         `json:"user_id"`
	Tool   workflow.Tool  `json:"tool"`
	Graph  workflow.Graph `json:"graph"`
}

func (s *Server) handleValidateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if !req.Tool.Valid() {
		http.Error(w, "unknown tool", http.StatusBadRequest)
		return
	}

	validation := workflow.ValidateWorkflow(req.Graph, req.Tool)
	outputs := workflow.CalculateOutputs(req.Graph, req.Tool)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"validation": validation,
		"outputs":    outputs,
	})
}

func (s *Server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}
	if !req.Tool.Valid() {
		http.Error(w, "unknown tool", http.StatusBadRequest)
		return
	}

	result, err := s.dispatcher.Run(r.Context(), req.UserID, req.Graph, req.Tool)
	if err != nil {
		switch {
		case errors.Is(err, workflow.ErrWorkflowBusy):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, workflow.ErrInsufficientCredits):
			http.Error(w, err.Error(), http.StatusPaymentRequired)
		case errors.Is(err, workflow.ErrAccountSuspended):
			http.Error(w, err.Error(), http.StatusForbidden)
		case errors.Is(err, workflow.ErrWorkflowInvalid), errors.Is(err, workflow.ErrNothingToDispatch):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			s.internalError(w, err)
		}
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"generation_ids": result.GenerationIDs,
		"credits_spent":  result.CreditsSpent,
	})
}

func (s *Server) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	gens, err := s.generations.ListRecent(r.Context(), userID, limit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, gens)
}

func (s *Server) handleUploadAsset(w http.ResponseWriter, r *http.Request) {
	if s.uploader == nil {
		http.Error(w, "asset storage not configured", http.StatusServiceUnavailable)
		return
	}
	if err := r.ParseMultipartForm(maxAssetSize); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	kind := storage.AssetKind(r.FormValue("kind"))
	if !kind.Valid() {
		http.Error(w, "kind must be image, audio or video", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxAssetSize+1))
	if err != nil {
		http.Error(w, "read file error", http.StatusBadRequest)
		return
	}
	if len(data) > maxAssetSize {
		http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
		return
	}

	url, err := s.uploader.Upload(r.Context(), kind, data, header.Header.Get("Content-Type"))
	if err != nil {
		s.log.Error("asset upload", "kind", kind, "err", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"url": url})
}

type promoRequest struct {
	UserID string `json:"user_id"`
	Code   string `json:"code"`
}

func (s *Server) handleRedeemPromo(w http.ResponseWriter, r *http.Request) {
	var req promoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Code == "" {
		http.Error(w, "user_id and code required", http.StatusBadRequest)
		return
	}

	credits, err := s.promos.Apply(r.Context(), req.UserID, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPromoInvalid), errors.Is(err, service.ErrPromoAlreadyRedeemed):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			s.internalError(w, err)
		}
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"credits_granted": credits})
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.plans.List(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plans)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.profiles.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.internalError(w, err)
		return
	}
	if profile == nil {
		http.Error(w, "profile not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, profileView(profile))
}

func (s *Server) handleProfileAudit(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.audits.ListByUser(r.Context(), userID, limit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func profileView(p *models.Profile) map[string]any {
	return map[string]any{
		"id":                  p.ID,
		"email":               p.Email,
		"plan":                p.Plan,
		"subscription_status": p.SubscriptionStatus,
		"account_status":      p.AccountStatus,
		"credits":             p.Credits,
		"credits_extras":      p.CreditsExtras,
		"total_credits":       p.TotalCredits(),
	}
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.opsUsername || pass != s.opsPassword {
				w.Header().Set("WWW-Authenticate", `Basic realm="reelforge"`)
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
	s.log.Error("handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
