package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the telic CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "telic",
		Short: "telic - deterministic effect runtime",
		Long: `telic runs linearly-typed effect programs over content-addressed state.

Domains are declared in CUE manifests; each domain owns a sparse Merkle
tree, a commit journal and a resource registry, and settles intents
through a single-writer loop. Consumed resources leave nullifiers, new
roots land in the journal, and every committed artifact can be proven
against a root with an SMT inclusion proof.

Typical flow:
  telic validate ./manifests            check the domain declarations
  telic run ./manifests                 serve the declared domains
  telic submit ./manifests amm \
      --intent swap.json                settle one intent and print the root
  telic replay amm                      re-verify the commit journal
  telic prove amm <key>                 produce an inclusion proof`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewSubmitCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewProveCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
