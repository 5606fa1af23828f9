package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jrsteele09/go-social-connect/accounts"
	"github.com/jrsteele09/go-social-connect/exchange"
	"github.com/jrsteele09/go-social-connect/lifecycle"
	"github.com/jrsteele09/go-social-connect/sessionmon"
)

func (a *app) list(args []string) error {
	selected := accounts.Platforms
	if len(args) > 0 {
		p, err := accounts.ParsePlatform(args[0])
		if err != nil {
			return err
		}
		selected = []accounts.Platform{p}
	}

	snap := a.manager.Snapshot()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PLATFORM\tID\tNAME\tEXTERNAL ID\tSTATUS\tCAPABILITY\tNEXT REFRESH\t")
	for _, p := range selected {
		state := snap.Platforms[p]
		for _, v := range state.Accounts {
			marker := ""
			if v.Account.ID == state.ActiveID {
				marker = " *"
			}
			next := "-"
			if v.NextRefreshAt != nil {
				next = v.NextRefreshAt.Local().Format(time.DateTime)
			}
			fmt.Fprintf(w, "%s%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n", p, marker, v.Account.ID, v.Account.DisplayName,
				v.Account.ExternalAccountID, v.Account.Status, v.Capability, next)
		}
		if state.Stale {
			fmt.Fprintf(w, "%s\t(cached, relay unreachable)\t\t\t\t\t\t\n", p)
		}
	}
	return w.Flush()
}

func (a *app) authorize(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("authorize", flag.ContinueOnError)
	redirect := fs.String("redirect", "", "redirect URI registered with the provider")
	platform, err := parsePlatformArg(fs, args)
	if err != nil {
		return err
	}
	resp, err := a.relay.Authorize(ctx, platform, *redirect)
	if err != nil {
		return err
	}
	fmt.Printf("open: %s\nstate: %s\n", resp.URL, resp.State)
	return nil
}

func (a *app) connect(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("connect", flag.ContinueOnError)
	short := fs.String("token", "", "short-lived token from client-side login")
	expiresIn := fs.Duration("expires-in", 0, "lifetime of the short-lived token, if known")
	code := fs.String("code", "", "authorization code")
	state := fs.String("state", "", "state printed by authorize")
	redirect := fs.String("redirect", "", "redirect URI used with authorize")
	platform, err := parsePlatformArg(fs, args)
	if err != nil {
		return err
	}
	if *short == "" && *code == "" {
		return errors.New("-token or -code is required")
	}

	account, err := a.manager.Connect(ctx, platform, exchange.Grant{
		ShortLivedToken:     *short,
		ShortLivedExpiresIn: *expiresIn,
		Code:                *code,
		State:               *state,
		RedirectURI:         *redirect,
	})
	if err != nil {
		return err
	}
	fmt.Printf("connected %s %s (%s) status=%s\n", account.Platform, account.DisplayName, account.ID, account.Status)
	return nil
}

func (a *app) switchActive(ctx context.Context, args []string) error {
	id, err := oneArg("switch", args)
	if err != nil {
		return err
	}
	return a.manager.SwitchActive(ctx, id)
}

func (a *app) refresh(ctx context.Context, args []string) error {
	id, err := oneArg("refresh", args)
	if err != nil {
		return err
	}
	if err := a.manager.Refresh(ctx, id); err != nil {
		return err
	}
	fmt.Printf("%s %s\n", id, a.manager.Status(id))
	return nil
}

func (a *app) disconnect(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("disconnect", flag.ContinueOnError)
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := oneArg("disconnect", fs.Args())
	if err != nil {
		return err
	}

	confirmation, err := a.manager.RequestDisconnect(id)
	if err != nil {
		return err
	}
	if !*yes && !confirm(fmt.Sprintf("disconnect %s?", id)) {
		return errors.New("cancelled")
	}
	return a.manager.Disconnect(ctx, id, confirmation)
}

func (a *app) disconnectAll(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("disconnect-all", flag.ContinueOnError)
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	platform, err := parsePlatformArg(fs, args)
	if err != nil {
		return err
	}

	confirmation, err := a.manager.RequestDisconnectAll(platform)
	if err != nil {
		return err
	}
	n := len(a.manager.Accounts(platform))
	if !*yes && !confirm(fmt.Sprintf("disconnect all %d %s accounts?", n, platform)) {
		return errors.New("cancelled")
	}

	result, err := a.manager.DisconnectAll(ctx, platform, confirmation)
	if err != nil {
		return err
	}
	for _, id := range result.Disconnected {
		fmt.Printf("disconnected %s\n", id)
	}
	for _, id := range result.RevokeFailed {
		fmt.Printf("revoke failed %s (removed locally)\n", id)
	}
	var failed []error
	for id, err := range result.Failed {
		failed = append(failed, fmt.Errorf("%s: %w", id, err))
	}
	return errors.Join(failed...)
}

type statusOutput struct {
	lifecycle.Snapshot
	Probes []sessionmon.ProbeResult `json:"probes,omitempty"`
}

func (a *app) status(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	probe := fs.Bool("probe", false, "check every session against the provider")
	if err := fs.Parse(args); err != nil {
		return err
	}

	out := statusOutput{Snapshot: a.manager.Snapshot()}
	if *probe {
		monitor, err := sessionmon.NewMonitor(a.adapters, nil)
		if err != nil {
			return err
		}
		for _, p := range accounts.Platforms {
			for _, v := range out.Platforms[p].Accounts {
				out.Probes = append(out.Probes, monitor.Probe(ctx, v.Account))
			}
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// watch keeps the manager running so scheduled refreshes fire.
func (a *app) watch(ctx context.Context) error {
	for _, p := range accounts.Platforms {
		for _, v := range a.manager.Snapshot().Platforms[p].Accounts {
			if v.NextRefreshAt != nil {
				fmt.Printf("%s %s refreshes at %s\n", p, v.Account.ID, v.NextRefreshAt.Local().Format(time.DateTime))
			}
		}
	}
	<-ctx.Done()
	return nil
}

func parsePlatformArg(fs *flag.FlagSet, args []string) (accounts.Platform, error) {
	// Accept the platform before or after the flags.
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		p, err := accounts.ParsePlatform(args[0])
		if err != nil {
			return "", err
		}
		return p, fs.Parse(args[1:])
	}
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() == 0 {
		return "", fmt.Errorf("%s: platform is required", fs.Name())
	}
	return accounts.ParsePlatform(fs.Arg(0))
}

func oneArg(command string, args []string) (string, error) {
	if len(args) != 1 || args[0] == "" {
		return "", fmt.Errorf("%s takes exactly one account id", command)
	}
	return args[0], nil
}

func confirm(question string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N] ", question)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
