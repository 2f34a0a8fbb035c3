package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telic-run/telic/internal/smt"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Store StoreOptions
	From  int64
}

// ReplayRecord is one verified journal entry in the replay report.
type ReplayRecord struct {
	Seq     int64  `json:"seq"`
	Root    string `json:"root"`
	Summary string `json:"summary"`
}

// ReplayResult is the replay command's payload.
type ReplayResult struct {
	Domain  string         `json:"domain"`
	Records []ReplayRecord `json:"records"`
	Valid   bool           `json:"valid"`
	Problem string         `json:"problem,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <domain>",
		Short: "Verify a domain's commit journal against its store",
		Long: `Verify a domain's commit journal against its store.

Walks the journal from --from, checks that sequence numbers are strictly
increasing and that every recorded root resolves to a tree in the node
store. A broken chain exits with code 1.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	addStoreFlags(cmd, &opts.Store)
	cmd.Flags().Int64Var(&opts.From, "from", 0, "first sequence number to verify")

	return cmd
}

func runReplay(opts *ReplayOptions, domain string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, journal, err := openBackend(ctx, &opts.Store, domain)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer store.Close()

	records, err := journal.List(ctx, opts.From)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}
	if len(records) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("journal for %q is empty", domain))
	}

	result := ReplayResult{Domain: domain, Valid: true}
	lastSeq := int64(-1)
	for _, rec := range records {
		if rec.Seq <= lastSeq {
			result.Valid = false
			result.Problem = fmt.Sprintf("sequence not increasing at seq %d", rec.Seq)
			break
		}
		lastSeq = rec.Seq

		if rec.Root != smt.EmptyRoot() {
			if _, ok, err := store.Get(rec.Root); err != nil {
				return WrapExitError(ExitCommandError, "store read failed", err)
			} else if !ok {
				result.Valid = false
				result.Problem = fmt.Sprintf("root %s at seq %d missing from store", rec.Root.Hex(), rec.Seq)
				break
			}
		}

		result.Records = append(result.Records, ReplayRecord{
			Seq:     rec.Seq,
			Root:    rec.Root.Hex(),
			Summary: rec.Summary,
		})
		formatter.VerboseLog("seq %d root %s ok", rec.Seq, rec.Root.Hex())
	}

	if formatter.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		for _, rec := range result.Records {
			fmt.Fprintf(formatter.Writer, "seq %-6d %s  %s\n", rec.Seq, rec.Root, rec.Summary)
		}
		if result.Valid {
			fmt.Fprintf(formatter.Writer, "ok: %d record(s) verified\n", len(result.Records))
		} else {
			fmt.Fprintf(formatter.Writer, "broken: %s\n", result.Problem)
		}
	}

	if !result.Valid {
		return NewExitError(ExitFailure, result.Problem)
	}
	return nil
}
