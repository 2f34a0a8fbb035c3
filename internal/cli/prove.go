package cli

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telic-run/telic/internal/smt"
)

// ProveOptions holds flags for the prove command.
type ProveOptions struct {
	*RootOptions
	Store StoreOptions
	Root  string
}

// ProofResult is the prove command's payload.
type ProofResult struct {
	Domain   string   `json:"domain"`
	Key      string   `json:"key"`
	Root     string   `json:"root"`
	Value    string   `json:"value,omitempty"` // hex, empty for non-membership
	Member   bool     `json:"member"`
	Siblings []string `json:"siblings"`
}

// NewProveCommand creates the prove command.
func NewProveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "prove <domain> <key>",
		Short: "Produce a Merkle proof for a key",
		Long: `Produce a Merkle membership proof for a key in a domain's tree.

The root defaults to the last journaled commit; --root pins an earlier one.
Keys are the store's literal key strings, e.g. teg-resource-<hex> or
nullifier-<hex>. The printed proof verifies against the root with the
standard fold.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProve(opts, args[0], args[1], cmd)
		},
	}

	addStoreFlags(cmd, &opts.Store)
	cmd.Flags().StringVar(&opts.Root, "root", "", "root to prove against (hex, defaults to the journal head)")

	return cmd
}

func runProve(opts *ProveOptions, domain, key string, cmd *cobra.Command) error {
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

	var root smt.Hash
	if opts.Root != "" {
		if root, err = parseHash(opts.Root); err != nil {
			return WrapExitError(ExitCommandError, "bad --root", err)
		}
	} else {
		rec, ok, err := journal.Last(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read journal", err)
		}
		if !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("journal for %q is empty, pass --root", domain))
		}
		root = rec.Root
	}

	tree := smt.LoadTree(store, root)
	value, member, err := tree.Get(key)
	if err != nil {
		return WrapExitError(ExitCommandError, "tree read failed", err)
	}
	proof, err := tree.Prove(key)
	if err != nil {
		return WrapExitError(ExitCommandError, "proof generation failed", err)
	}
	if member && !smt.Verify(root, key, value, proof) {
		return NewExitError(ExitFailure, "generated proof does not verify")
	}

	result := ProofResult{
		Domain: domain,
		Key:    key,
		Root:   root.Hex(),
		Member: member,
	}
	if member {
		result.Value = hex.EncodeToString(value)
	}
	result.Siblings = make([]string, len(proof.Siblings))
	for i, s := range proof.Siblings {
		result.Siblings[i] = s.Hex()
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	if member {
		fmt.Fprintf(formatter.Writer, "key %s is present at root %s\n", key, result.Root)
	} else {
		fmt.Fprintf(formatter.Writer, "key %s is absent at root %s\n", key, result.Root)
	}
	fmt.Fprintf(formatter.Writer, "proof: %d siblings\n", len(result.Siblings))
	return nil
}
