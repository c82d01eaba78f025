package main

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/maauso/audiobook-forge/internal/bootstrap"
	"github.com/maauso/audiobook-forge/internal/cache"
)

func newCacheCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the synthesis and processing caches",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:     "list <namespace>",
			Short:   "List live entries of a namespace",
			Example: "forgectl cache list tts",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := a.store(args[0])
				if err != nil {
					return err
				}
				entries, err := st.List(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "KEY\tBYTES\tEXPIRES")
				for _, e := range entries {
					_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\n", e.Key, e.Meta.SizeBytes, e.Meta.ExpiresAt.Format(time.RFC3339))
				}
				return tw.Flush()
			},
		},
		&cobra.Command{
			Use:   "stats [namespace]",
			Short: "Summarise one or every namespace",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				stores, err := a.stores(args)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "NAMESPACE\tENTRIES\tBYTES")
				for _, st := range stores {
					s, err := st.Stats(cmd.Context())
					if err != nil {
						return err
					}
					_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\n", s.Namespace, s.Entries, s.TotalBytes)
				}
				return tw.Flush()
			},
		},
		&cobra.Command{
			Use:   "clear <namespace>",
			Short: "Remove every entry of a namespace",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := a.store(args[0])
				if err != nil {
					return err
				}
				n, err := st.Clear(cmd.Context())
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries from %s\n", n, st.Namespace())
				return nil
			},
		},
		&cobra.Command{
			Use:   "evict <namespace> <key>",
			Short: "Remove one entry",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := a.store(args[0])
				if err != nil {
					return err
				}
				return st.Delete(cmd.Context(), args[1])
			},
		},
		&cobra.Command{
			Use:   "prune [namespace]",
			Short: "Remove expired entries and interrupted writes",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				stores, err := a.stores(args)
				if err != nil {
					return err
				}
				for _, st := range stores {
					n, err := st.Prune(cmd.Context())
					if err != nil {
						return err
					}
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "pruned %d entries from %s\n", n, st.Namespace())
				}
				return nil
			},
		},
	)
	return cmd
}

// stores opens the namespaces named in args, or all of them.
func (a *app) stores(args []string) ([]*cache.Store, error) {
	if len(args) == 1 {
		st, err := a.store(args[0])
		if err != nil {
			return nil, err
		}
		return []*cache.Store{st}, nil
	}
	all, err := a.openCaches()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*cache.Store, 0, len(names))
	for _, name := range names {
		out = append(out, all[name])
	}
	return out, nil
}

func (a *app) store(ns string) (*cache.Store, error) {
	all, err := a.openCaches()
	if err != nil {
		return nil, err
	}
	st, ok := all[ns]
	if !ok {
		return nil, fmt.Errorf("unknown cache namespace %q (want %s or %s)", ns, cache.NamespaceSynthesis, cache.NamespaceProcessing)
	}
	return st, nil
}

func (a *app) openCaches() (map[string]*cache.Store, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	tts, processed, err := bootstrap.NewCaches(cfg, a.logger)
	if err != nil {
		return nil, err
	}
	return map[string]*cache.Store{
		tts.Namespace():       tts,
		processed.Namespace(): processed,
	}, nil
}
