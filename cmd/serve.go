package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cropprice/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the price query HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           buildRouter(env, cfg.Server.CORSOrigins),
			ReadHeaderTimeout: time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
			ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server",
			zap.Int("port", cfg.Server.Port),
			zap.Int("locations", env.Table.Len()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// buildRouter mounts the query routes over env.
func buildRouter(env *queryEnv, origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	h := &handlers{env: env}
	r.Get("/health", h.health)
	r.Post("/prices", h.postPrices)
	r.Get("/crop-prices", h.getPrices)
	r.Get("/nearby", h.nearby)
	return r
}

type handlers struct {
	env *queryEnv
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"locations": h.env.Table.Len(),
	}
	if h.env.Breaker != nil {
		body["source_circuit"] = h.env.Breaker.State().String()
	}
	writeJSON(w, http.StatusOK, body)
}

// priceRequest is the POST /prices body. Coordinates are pointers so a
// missing field is distinguishable from zero.
type priceRequest struct {
	Lat      *float64 `json:"lat"`
	Lon      *float64 `json:"lon"`
	Crop     string   `json:"crop"`
	RadiusKM float64  `json:"radius_km"`
}

func (h *handlers) postPrices(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, r, eris.Wrap(model.ErrInvalidQuery, "invalid request body"))
		return
	}
	if req.Lat == nil || req.Lon == nil {
		writeError(w, r, eris.Wrap(model.ErrInvalidQuery, "lat and lon are required"))
		return
	}
	h.resolve(w, r, model.PriceQuery{Lat: *req.Lat, Lon: *req.Lon, Crop: req.Crop}, req.RadiusKM)
}

func (h *handlers) getPrices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, lon, err := parsePoint(q.Get("lat"), q.Get("lon"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	radius, err := parseOptionalFloat("radius", q.Get("radius"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.resolve(w, r, model.PriceQuery{Lat: lat, Lon: lon, Crop: q.Get("crop")}, radius)
}

func (h *handlers) resolve(w http.ResponseWriter, r *http.Request, q model.PriceQuery, radiusKM float64) {
	res, err := h.env.Resolver.Resolve(r.Context(), q, radiusKM)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) nearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, lon, err := parsePoint(q.Get("lat"), q.Get("lon"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	radius, err := parseOptionalFloat("radius", q.Get("radius"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit := 0
	if s := q.Get("limit"); s != "" {
		limit, err = strconv.Atoi(s)
		if err != nil || limit < 0 {
			writeError(w, r, eris.Wrapf(model.ErrInvalidQuery, "invalid limit %q", s))
			return
		}
	}

	matches, err := h.env.Resolver.Nearby(model.Point{Lat: lat, Lon: lon}, radius, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

func parsePoint(latStr, lonStr string) (float64, float64, error) {
	if latStr == "" || lonStr == "" {
		return 0, 0, eris.Wrap(model.ErrInvalidQuery, "lat and lon are required")
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return 0, 0, eris.Wrapf(model.ErrInvalidQuery, "invalid lat %q", latStr)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return 0, 0, eris.Wrapf(model.ErrInvalidQuery, "invalid lon %q", lonStr)
	}
	return lat, lon, nil
}

func parseOptionalFloat(name, s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, eris.Wrapf(model.ErrInvalidQuery, "invalid %s %q", name, s)
	}
	return v, nil
}

// statusFor maps a failure kind to an HTTP status.
func statusFor(kind model.ErrorKind) int {
	switch kind {
	case model.KindInvalidQuery:
		return http.StatusBadRequest
	case model.KindNoNearbyLocation, model.KindNotFound, model.KindNoValidData:
		return http.StatusNotFound
	case model.KindSourceUnavailable:
		return http.StatusServiceUnavailable
	case model.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := model.KindOf(err)
	status := statusFor(kind)

	fields := []zap.Field{
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("kind", string(kind)),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		zap.L().Error("price query failed", fields...)
	} else {
		zap.L().Info("price query rejected", fields...)
	}

	writeJSON(w, status, map[string]string{
		"error": model.Reason(err),
		"kind":  string(kind),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response", zap.Error(err))
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
