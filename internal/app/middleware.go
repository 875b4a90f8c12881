package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/odyssey-erp/orderflow/internal/observability"
	"github.com/odyssey-erp/orderflow/internal/platform/httpx"
	"github.com/odyssey-erp/orderflow/internal/shared"
)

const (
	headerCompanyID      = "X-Company-ID"
	headerEmployeeID     = "X-Employee-ID"
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"

	maxIdempotentBody = 1 << 20
)

// IdempotencyStore records processed mutating requests for replay.
type IdempotencyStore interface {
	Begin(ctx context.Context, key, module, fingerprint string) (*shared.IdempotencyRecord, error)
	Complete(ctx context.Context, key, module string, status int, body []byte) error
	Delete(ctx context.Context, key, module string) error
}

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack installs the orderflow middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}
	rate := 120
	if cfg.Config != nil && cfg.Config.RateLimitPerMinute > 0 {
		rate = cfg.Config.RateLimitPerMinute
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		requestLogger(logger),
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		middleware.Compress(5),
		httprate.Limit(rate, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded")
			}),
		),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, cfg.Metrics.Middleware)
	}
	return append(middlewares, CallerIdentity)
}

// requestLogger writes one structured line per request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// CallerIdentity reads the caller set by the auth gateway. Requests without
// the headers pass through without a caller; commands reject them later.
func CallerIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawCompany := r.Header.Get(headerCompanyID)
		if rawCompany == "" {
			next.ServeHTTP(w, r)
			return
		}
		companyID, err := strconv.ParseInt(rawCompany, 10, 64)
		if err != nil || companyID <= 0 {
			httpx.RespondError(w, shared.Invalid(headerCompanyID, "must be a positive number"))
			return
		}
		employeeID, err := strconv.ParseInt(r.Header.Get(headerEmployeeID), 10, 64)
		if err != nil || employeeID <= 0 {
			httpx.RespondError(w, shared.Invalid(headerEmployeeID, "must be a positive number"))
			return
		}
		caller := shared.Caller{CompanyID: companyID, EmployeeID: employeeID}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithCaller(r.Context(), caller)))
	})
}

// Idempotency replays the stored response of a mutating request that carries
// an Idempotency-Key already seen with the same body. Server errors release
// the key so the client may retry.
func Idempotency(store IdempotencyStore, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(headerIdempotencyKey)
			if key == "" || !mutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotentBody+1))
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
				return
			}
			if len(body) > maxIdempotentBody {
				httpx.Problem(w, http.StatusRequestEntityTooLarge, "Body Too Large", "idempotent requests are limited to 1 MiB")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			var companyID int64
			if caller, ok := shared.CallerFromContext(r.Context()); ok {
				companyID = caller.CompanyID
			}
			module := fmt.Sprintf("company:%d", companyID)
			fingerprint := shared.Fingerprint([]byte(r.Method), []byte(r.URL.Path), body)

			rec, err := store.Begin(r.Context(), key, module, fingerprint)
			if err != nil {
				if !errors.Is(err, shared.ErrIdempotencyConflict) {
					logger.Error("idempotency begin", slog.String("key", key), slog.Any("error", err))
				}
				httpx.RespondError(w, err)
				return
			}
			if rec != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(headerReplayed, "true")
				w.WriteHeader(rec.Status)
				_, _ = w.Write(rec.Response)
				return
			}

			capture := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(capture, r)

			ctx := context.WithoutCancel(r.Context())
			if capture.status >= http.StatusInternalServerError {
				if err := store.Delete(ctx, key, module); err != nil {
					logger.Warn("idempotency release", slog.String("key", key), slog.Any("error", err))
				}
				return
			}
			if err := store.Complete(ctx, key, module, capture.status, capture.body.Bytes()); err != nil {
				logger.Warn("idempotency complete", slog.String("key", key), slog.Any("error", err))
			}
		})
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

type captureWriter struct {
	http.ResponseWriter
	status      int
	body        bytes.Buffer
	wroteHeader bool
}

func (c *captureWriter) WriteHeader(status int) {
	if !c.wroteHeader {
		c.status = status
		c.wroteHeader = true
	}
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(data []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	c.body.Write(data)
	return c.ResponseWriter.Write(data)
}
