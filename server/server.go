// Package server is the relay: it holds the provider app secrets, exchanges and renews
// tokens for clients and serves the authoritative account store.
package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-social-connect/accounts"
	"github.com/jrsteele09/go-social-connect/exchange"
	"github.com/jrsteele09/go-social-connect/internal/config"
	"github.com/jrsteele09/go-social-connect/internal/errors"
	"github.com/jrsteele09/go-social-connect/relayapi"
	"github.com/jrsteele09/go-social-connect/token"
)

// Exchanger is the provider side of the relay: exchange, renew and start code flows.
type Exchanger interface {
	exchange.Exchanger
	Authorize(platform accounts.Platform, userID, redirectURI string) (*relayapi.AuthorizeResponse, error)
}

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	env       string
	mux       *http.ServeMux
	routes    []string
	config    config.Config
	store     accounts.Store
	exchanger Exchanger
	sessions  *token.Sessions
	validate  *validator.Validate
	now       func() time.Time
}

type Option func(*Server)

func WithNowFunc(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

func New(cfg config.Config, store accounts.Store, exchanger Exchanger, sessions *token.Sessions, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("[Server New] config is required")
	}
	if store == nil {
		return nil, errors.New("[Server New] store is required")
	}
	if exchanger == nil {
		return nil, errors.New("[Server New] exchanger is required")
	}
	if sessions == nil {
		return nil, errors.New("[Server New] sessions are required")
	}

	s := &Server{
		env:       cfg.GetEnv(),
		mux:       http.NewServeMux(),
		config:    cfg,
		store:     store,
		exchanger: exchanger,
		sessions:  sessions,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.initRoutes()
	s.logRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())
	s.RegisterRouteHandler("GET "+RouteMetrics, promhttp.Handler())

	s.RegisterRouteHandler("POST "+RouteOAuthExchange, ChainMiddleware(s.ExchangeHandler(), s.APIMiddleware(RouteOAuthExchange)...))
	s.RegisterRouteHandler("POST "+RouteOAuthRenew, ChainMiddleware(s.RenewHandler(), s.APIMiddleware(RouteOAuthRenew)...))
	s.RegisterRouteHandler("GET "+RouteOAuthAuthorize, ChainMiddleware(s.AuthorizeHandler(), s.APIMiddleware(RouteOAuthAuthorize)...))

	s.RegisterRouteHandler("GET "+RouteAccounts, ChainMiddleware(s.ListAccountsHandler(), s.APIMiddleware(RouteAccounts)...))
	s.RegisterRouteHandler("POST "+RouteAccounts, ChainMiddleware(s.UpsertAccountHandler(), s.APIMiddleware(RouteAccounts)...))
	s.RegisterRouteHandler("DELETE "+RouteAccount, ChainMiddleware(s.DeleteAccountHandler(), s.APIMiddleware(RouteAccount)...))

	s.RegisterRouteHandler("OPTIONS /", ChainMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}, s.CorsMiddleware))
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		method, path, found := strings.Cut(route, " ")
		if !found {
			method, path = "", route
		}
		log.Debug().Str("method", method).Str("path", path).Msg("route registered")
	}
}
