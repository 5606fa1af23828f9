// Command socialctl drives the account lifecycle for one signed-in user acting for one customer.
// Accounts are read from and written to the relay; the local cache keeps the last known state.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-social-connect/accounts"
	"github.com/jrsteele09/go-social-connect/accounts/httpstore"
	"github.com/jrsteele09/go-social-connect/exchange"
	"github.com/jrsteele09/go-social-connect/internal/config"
	"github.com/jrsteele09/go-social-connect/internal/logging"
	"github.com/jrsteele09/go-social-connect/internal/sealbox"
	"github.com/jrsteele09/go-social-connect/lifecycle"
	"github.com/jrsteele09/go-social-connect/localcache"
	"github.com/jrsteele09/go-social-connect/localcache/rediscache"
	"github.com/jrsteele09/go-social-connect/localcache/sqlitecache"
	"github.com/jrsteele09/go-social-connect/platforms"
)

const usage = `usage: socialctl -user <id> -customer <id> <command> [flags] [args]

commands:
  list [platform]                      accounts with status and next refresh
  authorize <platform> -redirect uri   print the consent URL for code based logins
  connect <platform> -token t | -code c -state s -redirect uri
  switch <account-id>                  make the account active for its platform
  refresh <account-id>                 renew the token now
  disconnect <account-id> [-yes]       remove one account
  disconnect-all <platform> [-yes]     remove every account of a platform
  status [-probe]                      snapshot as JSON, optionally checking each session live
  watch                                keep tokens fresh until interrupted
`

type app struct {
	cfg      config.Config
	manager  *lifecycle.Manager
	relay    *exchange.RelayClient
	adapters map[accounts.Platform]platforms.Adapter
	closers  []func() error
}

func main() {
	fs := flag.NewFlagSet("socialctl", flag.ExitOnError)
	user := fs.String("user", os.Getenv("SOCIAL_USER"), "signed-in user id")
	customer := fs.String("customer", os.Getenv("SOCIAL_CUSTOMER"), "customer the user acts for")
	banner := fs.Bool("banner", false, "print the banner")
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	_ = fs.Parse(os.Args[1:])

	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}
	if err := run(*user, *customer, *banner, fs.Arg(0), fs.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "socialctl %s: %s\n", fs.Arg(0), err)
		var e *accounts.Error
		if errors.As(err, &e) && e.RecoveryAction() != accounts.RecoveryNone {
			fmt.Fprintf(os.Stderr, "suggested action: %s\n", e.RecoveryAction())
		}
		os.Exit(1)
	}
}

func run(user, customer string, banner bool, command string, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Setup(cfg.GetLogLevel(), cfg.GetEnv())
	if banner {
		figure.NewFigure(cfg.GetAppName(), "cybermedium", true).Print()
		fmt.Println()
	}
	if user == "" || customer == "" {
		return errors.New("-user and -customer are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, user, customer)
	if err != nil {
		return err
	}
	defer a.close()

	switch command {
	case "list":
		return a.list(args)
	case "authorize":
		return a.authorize(ctx, args)
	case "connect":
		return a.connect(ctx, args)
	case "switch":
		return a.switchActive(ctx, args)
	case "refresh":
		return a.refresh(ctx, args)
	case "disconnect":
		return a.disconnect(ctx, args)
	case "disconnect-all":
		return a.disconnectAll(ctx, args)
	case "status":
		return a.status(ctx, args)
	case "watch":
		return a.watch(ctx)
	}
	return fmt.Errorf("unknown command %q", command)
}

func newApp(ctx context.Context, cfg config.Config, user, customer string) (*app, error) {
	a := &app{cfg: cfg}

	box, err := sealbox.New(cfg.GetSealKey())
	if err != nil {
		return nil, err
	}
	cache, err := a.openCache(ctx, box)
	if err != nil {
		return nil, err
	}
	store, err := httpstore.New(cfg.GetRelayURL(), cfg.GetRelayToken(), cfg.GetRelayTimeout())
	if err != nil {
		a.close()
		return nil, err
	}
	a.relay, err = exchange.NewRelayClient(cfg.GetRelayURL(), cfg.GetRelayToken(), cfg.GetRelayTimeout())
	if err != nil {
		a.close()
		return nil, err
	}
	a.adapters, err = platforms.NewRegistry(platforms.Specs(platforms.DefaultBaseURLs))
	if err != nil {
		a.close()
		return nil, err
	}

	a.manager, err = lifecycle.NewManager(user, customer, lifecycle.Deps{
		Store:     store,
		Cache:     cache,
		Exchanger: a.relay,
		Adapters:  a.adapters,
	},
		lifecycle.WithPolicy(policyFromConfig(cfg)),
		lifecycle.WithSelectionListener(lifecycle.SelectionListenerFunc(func(p accounts.Platform, previousID, newID string) {
			log.Info().Str("platform", string(p)).Str("previous", previousID).Str("active", newID).Msg("active account changed")
		})),
	)
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, func() error { a.manager.Close(); return nil })

	if err := a.manager.Start(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// openCache picks the backend named by CACHE_BACKEND.
func (a *app) openCache(ctx context.Context, box *sealbox.Box) (localcache.Cache, error) {
	switch a.cfg.GetCacheBackend() {
	case "memory":
		return localcache.NewInMemoryCache(), nil
	case "redis":
		c, err := rediscache.Connect(ctx, a.cfg.GetRedisAddr(), a.cfg.GetRedisPassword(), a.cfg.GetRedisDB(), box)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, c.Close)
		return c, nil
	case "sqlite", "":
		c, err := sqlitecache.Open(ctx, a.cfg.GetCachePath(), box)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, c.Close)
		return c, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", a.cfg.GetCacheBackend())
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}

func policyFromConfig(cfg config.LifecycleConfig) lifecycle.Policy {
	p := lifecycle.DefaultPolicy()
	p.Lead.Ceiling = cfg.GetLeadTimeCeiling()
	p.Lead.DegradedAfter = cfg.GetDegradedRefreshAfter()
	p.Lead.DefaultWindow = cfg.GetDefaultTokenWindow()
	p.MaxRetries = cfg.GetMaxRetries()
	p.RetryBackoff = cfg.GetRetryBackoff()
	p.RetryDelay = cfg.GetRefreshRetryDelay()
	return p
}
