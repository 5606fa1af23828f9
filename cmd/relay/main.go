// Command relay runs the token relay: it holds the provider app secrets, exchanges and renews
// tokens and serves the authoritative account store.
//
//	relay                                         serve
//	relay token -user u1 -customers c1,c2 [-agency]  mint a session token for socialctl
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-social-connect/accounts/sqlstore"
	"github.com/jrsteele09/go-social-connect/exchange"
	"github.com/jrsteele09/go-social-connect/exchange/authflow"
	"github.com/jrsteele09/go-social-connect/internal/config"
	"github.com/jrsteele09/go-social-connect/internal/logging"
	"github.com/jrsteele09/go-social-connect/internal/sealbox"
	"github.com/jrsteele09/go-social-connect/internal/utils"
	"github.com/jrsteele09/go-social-connect/server"
	"github.com/jrsteele09/go-social-connect/token"
)

const insecureDefault = "change-me-in-production"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := mintToken(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "relay token: %s\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("relay stopped")
	}
	log.Info().Msg("relay stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := config.Load()
	if err != nil {
		return err
	}
	logging.Setup(c.GetLogLevel(), c.GetEnv())
	displayAppname(c.GetAppName())
	warnInsecureDefaults(c)

	ctx := context.Background()
	box, err := sealbox.New(c.GetSealKey())
	if err != nil {
		return err
	}
	store, err := sqlstore.Open(ctx, c.GetDatabaseDriver(), c.GetDatabaseDSN(), box,
		sqlstore.WithTokenWindow(c.GetDefaultTokenWindow()))
	if err != nil {
		return err
	}
	defer store.Close()

	flows := authflow.NewInMemoryRepo(c.GetAuthFlowTimeout(), time.Now)
	exchanger, err := exchange.NewProviderExchanger(c, flows, exchange.WithTimeout(c.GetRelayTimeout()))
	if err != nil {
		return err
	}
	sessions, err := newSessions(c)
	if err != nil {
		return err
	}
	handler, err := server.New(c, store, exchanger, sessions)
	if err != nil {
		return err
	}

	srv := &http.Server{Addr: c.GetPort(), Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- listenAndServe(srv)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(srv)
}

func newSessions(c config.Config) (*token.Sessions, error) {
	signer, err := token.NewHMACSigner(c.GetJWTSecret())
	if err != nil {
		return nil, err
	}
	return token.NewSessions(signer, c.GetSessionTokenExpiry(), token.WithIssuer(token.DefaultIssuer))
}

// mintToken prints a session token so operators can hand one to socialctl.
func mintToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	user := fs.String("user", "", "user id the session acts as")
	customers := fs.String("customers", "", "comma separated customer ids the user may act for")
	agency := fs.Bool("agency", false, "allow reading every customer")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return errors.New("-user is required")
	}

	c, err := config.Load()
	if err != nil {
		return err
	}
	sessions, err := newSessions(c)
	if err != nil {
		return err
	}
	raw, claims, err := sessions.Issue(*user, utils.SplitCSV(*customers), *agency)
	if err != nil {
		return err
	}
	fmt.Println(raw)
	fmt.Fprintf(os.Stderr, "expires %s\n", claims.ExpiresAt.Format(time.RFC3339))
	return nil
}

func warnInsecureDefaults(c config.Config) {
	if strings.EqualFold(c.GetEnv(), "DEV") {
		return
	}
	if c.GetJWTSecret() == insecureDefault {
		log.Warn().Msg("RELAY_JWT_SECRET is the default value")
	}
	if c.GetSealKey() == insecureDefault {
		log.Warn().Msg("TOKEN_SEAL_KEY is the default value")
	}
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("relay listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
