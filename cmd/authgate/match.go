package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/upb/authgate/config"
	"github.com/upb/authgate/gate"
)

func newMatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "match <path>...",
		Short: "Show how the gate treats request paths",
		Long: "match prints, for each path, whether the gate is skipped, which rule answers it, " +
			"or whether a session is required. Gate settings come from the environment like serve.",
		Example: "  authgate match / /dashboard /auth/login /api/v1/me",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(cmd.Context())
			if err != nil {
				return err
			}
			return writeMatches(cmd.OutOrStdout(), cfg.Gate, args)
		},
	}
}

func writeMatches(out io.Writer, cfg config.GateConfig, paths []string) error {
	matcher := gate.NewMatcher(cfg.ExcludePrefixes...)
	rules := gate.DefaultRules(cfg.AuthPrefix, cfg.PublicPaths...)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tGATE\tRULE\tACTION")
	for _, path := range paths {
		m, err := describe(matcher, rules, path)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", path, m.gate, m.rule, m.action)
	}
	return tw.Flush()
}

type match struct {
	gate   string
	rule   string
	action string
}

func describe(matcher *gate.Matcher, rules []gate.Rule, path string) (match, error) {
	if prefix, excluded := matcher.ExcludedBy(path); excluded {
		return match{gate: "skipped", rule: "exclude:" + prefix, action: "next"}, nil
	}

	u, err := url.Parse(path)
	if err != nil {
		return match{}, fmt.Errorf("invalid path %q: %w", path, err)
	}
	r, err := http.NewRequestWithContext(context.Background(), http.MethodGet, u.String(), nil)
	if err != nil {
		return match{}, err
	}

	if rule, ok := gate.FirstMatch(rules, r); ok {
		return match{gate: "applied", rule: rule.Name, action: rule.Action.String()}, nil
	}
	return match{gate: "applied", rule: "-", action: gate.ActionRequireSession.String()}, nil
}
