// Package server exposes the signing pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"subsidy-esign/internal/common/config"
	apperrors "subsidy-esign/internal/common/errors"
	"subsidy-esign/internal/common/logger"
	"subsidy-esign/internal/common/validation"
	"subsidy-esign/internal/models"
	"subsidy-esign/internal/signing/pipeline"
)

const defaultMaxBodyBytes = 1 << 20

// SigningService is the pipeline surface the API calls.
type SigningService interface {
	Submit(ctx context.Context, req pipeline.SubmitRequest) (*pipeline.SubmitResult, error)
	Status(ctx context.Context, providerName, envelopeID string) (*models.EnvelopeStatusInfo, error)
	Classify(m models.CompanyMetrics) (models.CompanySizeResult, error)
}

// WebhookEndpoint builds the provider callback handler.
type WebhookEndpoint interface {
	HTTPHandler(providerName func(*http.Request) string, maxBodyBytes int64) http.HandlerFunc
}

type Server struct {
	cfg      config.ServerConfig
	app      config.AppConfig
	signing  SigningService
	webhooks WebhookEndpoint
	intake   *validation.IntakeDecoder
	log      logger.Logger
	router   chi.Router
}

func New(cfg *config.Config, signing SigningService, webhooks WebhookEndpoint, log logger.Logger) *Server {
	s := &Server{
		cfg:      cfg.Server,
		app:      cfg.App,
		signing:  signing,
		webhooks: webhooks,
		intake:   validation.NewIntakeDecoder(),
		log:      logger.Component(log, "http"),
	}
	if s.cfg.MaxBodyBytes <= 0 {
		s.cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if s.cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(config.GetDuration(s.cfg.RequestTimeout)))
		}
		r.Route("/api/v1", func(r chi.Router) {
			r.Post("/applications/{formKind}/sign", s.sign)
			r.Post("/classification", s.classify)
			r.Get("/envelopes/{provider}/{envelopeId}", s.envelopeStatus)
		})
	})

	// Completion processing may outlast the API timeout; providers wait.
	if s.webhooks != nil {
		r.Post("/webhooks/{provider}", s.webhooks.HTTPHandler(func(r *http.Request) string {
			return chi.URLParam(r, "provider")
		}, s.cfg.MaxBodyBytes))
	}
	return r
}

// ListenAndServe runs until ctx is cancelled and then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Address,
		Handler:      s.router,
		ReadTimeout:  config.GetDuration(s.cfg.ReadTimeout),
		WriteTimeout: config.GetDuration(s.cfg.WriteTimeout),
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", map[string]interface{}{"address": s.cfg.Address})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// ==========================
// Handlers
// ==========================

type signRequest struct {
	Provider      string             `json:"provider,omitempty"`
	ApplicationID string             `json:"applicationId"`
	Intake        json.RawMessage    `json:"intake"`
	Signers       []pipeline.Signer  `json:"signers,omitempty"`
	SigningMode   models.SigningMode `json:"signingMode,omitempty"`
	ReturnURL     string             `json:"returnUrl,omitempty"`
}

func (s *Server) sign(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	kind := models.FormKind(chi.URLParam(r, "formKind"))
	intake, err := s.intake.Decode(kind, req.ApplicationID, req.Intake)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.signing.Submit(r.Context(), pipeline.SubmitRequest{
		Provider:    req.Provider,
		Intake:      intake,
		Signers:     req.Signers,
		SigningMode: req.SigningMode,
		ReturnURL:   req.ReturnURL,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) classify(w http.ResponseWriter, r *http.Request) {
	var m models.CompanyMetrics
	if err := s.decode(w, r, &m); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.signing.Classify(m)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) envelopeStatus(w http.ResponseWriter, r *http.Request) {
	info, err := s.signing.Status(r.Context(), chi.URLParam(r, "provider"), chi.URLParam(r, "envelopeId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": s.app.Name,
		"version": s.app.Version,
	})
}

// ==========================
// Helpers
// ==========================

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperrors.NewValidationError("Request body too large", fmt.Sprintf("limit is %d bytes", tooLarge.Limit))
		}
		return apperrors.NewValidationError("Request body is not valid JSON", err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	fields := map[string]interface{}{
		"path":      r.URL.Path,
		"status":    status,
		"requestId": middleware.GetReqID(r.Context()),
		"error":     err.Error(),
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("Request failed", fields)
	} else {
		s.log.Warn("Request rejected", fields)
	}
	writeJSON(w, status, apperrors.ToResponse(err))
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("HTTP request", map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"durationMs": time.Since(start).Milliseconds(),
			"requestId":  middleware.GetReqID(r.Context()),
		})
	})
}
