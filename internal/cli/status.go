package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Store StoreOptions
}

// DomainStatus is one domain's entry in the status report.
type DomainStatus struct {
	Domain  string `json:"domain"`
	Commits int64  `json:"commits"`
	LastSeq int64  `json:"last_seq"`
	Root    string `json:"root,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status <manifests-dir>",
		Short: "Show the journal head of each declared domain",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, args[0], cmd)
		},
	}

	addStoreFlags(cmd, &opts.Store)

	return cmd
}

func runStatus(opts *StatusOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	specs, err := compileManifests(dir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compile manifests", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	statuses := make([]DomainStatus, 0, len(specs))
	for _, spec := range specs {
		store, journal, err := openBackend(ctx, &opts.Store, spec.Name)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to open store for %s", spec.Name), err)
		}

		status := DomainStatus{Domain: spec.Name}
		records, err := journal.List(ctx, 0)
		if err != nil {
			store.Close()
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to read journal for %s", spec.Name), err)
		}
		status.Commits = int64(len(records))
		if len(records) > 0 {
			last := records[len(records)-1]
			status.LastSeq = last.Seq
			status.Root = last.Root.Hex()
			status.Summary = last.Summary
		}
		statuses = append(statuses, status)
		store.Close()
	}

	if formatter.Format == "json" {
		return formatter.Success(statuses)
	}
	for _, s := range statuses {
		if s.Commits == 0 {
			fmt.Fprintf(formatter.Writer, "%-16s no commits\n", s.Domain)
			continue
		}
		fmt.Fprintf(formatter.Writer, "%-16s commits=%d seq=%d root=%s\n", s.Domain, s.Commits, s.LastSeq, s.Root)
	}
	return nil
}
