// Package httpapi exposes the signature workflow over HTTP/JSON.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dmitrijs2005/docseal/internal/logging"
	"github.com/dmitrijs2005/docseal/internal/server/models"
	"github.com/dmitrijs2005/docseal/internal/server/services"
)

// SigningAPI is the part of services.SigningService served over HTTP.
type SigningAPI interface {
	Create(ctx context.Context, in services.CreateRequestInput) (*services.CreatedRequest, error)
	GetRequest(ctx context.Context, id string) (*models.SignatureRequest, error)
	ValidateToken(ctx context.Context, token string) (*services.TokenInfo, error)
	Sign(ctx context.Context, in services.SignInput) error
	Reject(ctx context.Context, token, reason string) error
	OpenOriginalDocument(ctx context.Context, accessToken, sessionID string) (string, error)
}

type PreviewAPI interface {
	CheckAccess(ctx context.Context, accessToken, sessionID string) (*services.AccessGrant, error)
}

type HTTPServer struct {
	address string
	echo    *echo.Echo
	signing SigningAPI
	preview PreviewAPI
	logger  logging.Logger
}

func NewHTTPServer(address string, l logging.Logger, signing SigningAPI, preview PreviewAPI) *HTTPServer {
	s := &HTTPServer{
		address: address,
		echo:    echo.New(),
		signing: signing,
		preview: preview,
		logger:  l.With("module", "http_server"),
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = s.handleError

	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURIPath:  true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Info(c.Request().Context(), "http request",
				"method", v.Method, "path", v.URIPath, "status", v.Status,
				"latency", v.Latency, "remote_ip", v.RemoteIP)
			return nil
		},
	}))

	s.routes()
	return s
}

func (s *HTTPServer) routes() {
	api := s.echo.Group("/api/v1")

	api.POST("/signature-requests", s.createRequest)
	api.GET("/signature-requests/:id", s.getRequest)

	api.POST("/signing/validate", s.validateToken)
	api.POST("/signing/sign", s.sign)
	api.POST("/signing/reject", s.reject)

	api.GET("/documents/original", s.openOriginal)
	api.GET("/previews/access", s.checkAccess)
}

// Handler returns the router, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "HTTP shutdown failed", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)
	if err := s.echo.Start(s.address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
