package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/telic-run/telic/internal/blob"
	"github.com/telic-run/telic/internal/compiler"
	"github.com/telic-run/telic/internal/ir"
	"github.com/telic-run/telic/internal/runtime"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	Store       StoreOptions
	Admin       string
	Intent      string
	Seeds       []string
	Gas         uint64
	ArtifactDir string
}

// SubmitResult is the submit command's success payload.
type SubmitResult struct {
	Token    string          `json:"token"`
	Intent   string          `json:"intent"`
	Value    json.RawMessage `json:"value"`
	Root     string          `json:"root"`
	Artifact string          `json:"artifact,omitempty"`
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit <manifests-dir> <domain>",
		Short: "Submit one intent against a domain",
		Long: `Submit one intent against a domain and print the settled result.

The command starts the named domain from its manifests, authenticates with a
bootstrap capability, submits the intent from --intent, and prints the result
value and the committed root. With the sqlite store the root history persists
across invocations.

The intent file is the canonical intent encoding; domain_id may be omitted
and is filled in from the domain argument. Resources can be seeded for the
run with --seed name:type:quantity.

Example:
  telic submit ./manifests amm --intent swap.json --seed pool:amm.token:1000`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(opts, args[0], args[1], cmd)
		},
	}

	addStoreFlags(cmd, &opts.Store)
	cmd.Flags().StringVar(&opts.Admin, "admin", "telic/admin", "admin identity name for the bootstrap capability")
	cmd.Flags().StringVar(&opts.Intent, "intent", "", "path to the intent file (required)")
	cmd.Flags().StringArrayVar(&opts.Seeds, "seed", nil, "seed resource as name:type:quantity (repeatable)")
	cmd.Flags().Uint64Var(&opts.Gas, "gas", 0, "gas budget for this intent (0 uses the default)")
	cmd.Flags().StringVar(&opts.ArtifactDir, "artifact-dir", "", "archive the settled result as a content-addressed blob under this directory")
	_ = cmd.MarkFlagRequired("intent")

	return cmd
}

func runSubmit(opts *SubmitOptions, dir, domainName string, cmd *cobra.Command) error {
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
	var spec *compiler.DomainSpec
	for i := range specs {
		if specs[i].Name == domainName {
			spec = &specs[i]
			break
		}
	}
	if spec == nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("domain %q not declared in %s", domainName, dir))
	}

	intent, err := loadIntent(opts.Intent, domainName)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load intent", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	store, journal, err := openBackend(ctx, &opts.Store, domainName)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer store.Close()

	domainOpts := []runtime.DomainOption{runtime.WithConfig(spec.Config)}
	if opts.Gas > 0 {
		domainOpts = append(domainOpts, runtime.WithGasBudget(opts.Gas))
	}
	resume, found, err := resumeOption(ctx, journal)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}
	if found {
		domainOpts = append(domainOpts, resume)
		formatter.VerboseLog("resuming at journal head")
	}
	d := runtime.NewDomain(domainName, store, journal, domainOpts...)

	runErr := make(chan error, 1)
	go func() {
		runErr <- d.Run(ctx)
	}()
	defer func() {
		d.Stop()
		<-runErr
	}()

	admin := ir.NewIdentityID(opts.Admin)
	auth, err := d.Bootstrap(admin)
	if err != nil {
		return WrapExitError(ExitCommandError, "bootstrap failed", err)
	}
	if err := registerDeclaredHandlers(ctx, d, *spec, auth.ID); err != nil {
		return WrapExitError(ExitCommandError, "handler registration failed", err)
	}

	for _, seed := range opts.Seeds {
		name, resourceType, quantity, err := parseSeed(seed)
		if err != nil {
			return WrapExitError(ExitCommandError, "bad --seed", err)
		}
		if _, _, err := d.RegisterResource(name, resourceType, quantity, admin); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to seed %q", name), err)
		}
		formatter.VerboseLog("seeded %s (%s x%d)", name, resourceType, quantity)
	}

	result, err := d.SubmitIntent(ctx, intent, auth.ID)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return NewExitError(ExitFailure, "intent failed")
	}

	value, err := ir.MarshalCanonical(result.Value)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to encode result", err)
	}
	payload := SubmitResult{
		Token:  NewRunToken(),
		Intent: ir.Hex(intent.ID),
		Value:  json.RawMessage(value),
		Root:   result.Root.Hex(),
	}
	if opts.ArtifactDir != "" {
		ref, err := archiveResult(ctx, opts.ArtifactDir, intent, result)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to archive result", err)
		}
		payload.Artifact = ir.Hex(ref)
		formatter.VerboseLog("archived result as %s", ir.ShortHex(ref))
	}
	if formatter.Format == "json" {
		return formatter.Success(payload)
	}
	fmt.Fprintf(formatter.Writer, "intent %s settled\n", ir.ShortHex(intent.ID))
	fmt.Fprintf(formatter.Writer, "  value: %s\n", value)
	fmt.Fprintf(formatter.Writer, "  root:  %s\n", payload.Root)
	if payload.Artifact != "" {
		fmt.Fprintf(formatter.Writer, "  artifact: %s\n", payload.Artifact)
	}
	return nil
}

// archiveResult writes the settled outcome through a filesystem blob store
// so the run leaves a content-addressed artifact beside the root history.
func archiveResult(ctx context.Context, dir string, intent ir.Intent, result runtime.IntentResult) (blob.Ref, error) {
	store, err := blob.Open(ctx, blob.DriverFilesystem, dir)
	if err != nil {
		return blob.Ref{}, err
	}
	defer store.Close()

	data, err := ir.MarshalCanonical(ir.Obj{
		"intent": ir.Str(ir.Hex(intent.ID)),
		"root":   ir.Str(result.Root.Hex()),
		"value":  result.Value,
	})
	if err != nil {
		return blob.Ref{}, err
	}
	return store.Put(ctx, data)
}

// loadIntent reads an intent file and fills in the domain id when the file
// leaves it out.
func loadIntent(path, domainName string) (ir.Intent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ir.Intent{}, err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return ir.Intent{}, fmt.Errorf("parse intent: %w", err)
	}
	if id, ok := raw["domain_id"].(string); !ok || id == "" {
		raw["domain_id"] = ir.Hex(ir.NewDomainID(domainName))
		if data, err = json.Marshal(raw); err != nil {
			return ir.Intent{}, err
		}
	}

	return ir.DecodeIntent(data)
}

// parseSeed splits a name:type:quantity seed flag.
func parseSeed(seed string) (name, resourceType string, quantity uint64, err error) {
	parts := strings.Split(seed, ":")
	if len(parts) != 3 {
		return "", "", 0, fmt.Errorf("want name:type:quantity, got %q", seed)
	}
	quantity, err = strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return "", "", 0, fmt.Errorf("bad quantity in %q: %w", seed, err)
	}
	return parts[0], parts[1], quantity, nil
}
