package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/telic-run/telic/internal/compiler"
	"github.com/telic-run/telic/internal/ir"
	"github.com/telic-run/telic/internal/obs"
	"github.com/telic-run/telic/internal/runtime"
	"github.com/telic-run/telic/internal/smt"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Store   StoreOptions
	Admin   string
	Metrics string
	Gas     uint64
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <manifests-dir>",
		Short: "Start the runtime with compiled domain manifests",
		Long: `Start the telic runtime with compiled domain manifests.

Each declared domain gets its own store, journal and single-writer commit
loop. The bootstrap capability for each domain is printed on startup; use it
with submit to authenticate intents.

Example:
  telic run ./manifests --data-dir ./telic-data
  telic run ./manifests --store memory --metrics :9100 --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuntime(opts, args[0], cmd)
		},
	}

	addStoreFlags(cmd, &opts.Store)
	cmd.Flags().StringVar(&opts.Admin, "admin", "telic/admin", "admin identity name for bootstrap capabilities")
	cmd.Flags().StringVar(&opts.Metrics, "metrics", "", "prometheus listen address (empty disables)")
	cmd.Flags().Uint64Var(&opts.Gas, "gas", 0, "per-intent gas budget (0 uses the default)")

	return cmd
}

func runRuntime(opts *RunOptions, dir string, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})).
		With("run_id", NewRunToken())
	slog.SetDefault(log)

	log.Info("compiling manifests", "dir", dir)
	specs, err := compileManifests(dir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compile manifests", err)
	}
	log.Info("manifests compiled", "domains", len(specs))

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	rt := runtime.NewRuntime(log)
	var stores []smt.NodeStore
	defer func() {
		for _, st := range stores {
			if closeErr := st.Close(); closeErr != nil {
				log.Error("error closing store", "error", closeErr)
			}
		}
	}()

	for _, spec := range specs {
		store, journal, err := openBackend(ctx, &opts.Store, spec.Name)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to open store for %s", spec.Name), err)
		}
		stores = append(stores, store)

		domainOpts := []runtime.DomainOption{
			runtime.WithConfig(spec.Config),
			runtime.WithLogger(log),
		}
		if opts.Gas > 0 {
			domainOpts = append(domainOpts, runtime.WithGasBudget(opts.Gas))
		}
		resume, found, err := resumeOption(ctx, journal)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to read journal for %s", spec.Name), err)
		}
		if found {
			domainOpts = append(domainOpts, resume)
		}
		if err := syncDomainManifest(ctx, log, &opts.Store, spec, journal); err != nil {
			log.Warn("manifest sync failed", "domain", spec.Name, "error", err)
		}

		d := runtime.NewDomain(spec.Name, store, journal, domainOpts...)
		if err := rt.AddDomain(d); err != nil {
			return WrapExitError(ExitCommandError, "failed to compose runtime", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	runErr := make(chan error, 1)
	go func() {
		runErr <- rt.Run(ctx)
	}()

	admin := ir.NewIdentityID(opts.Admin)
	byName := map[string]compiler.DomainSpec{}
	for _, spec := range specs {
		byName[spec.Name] = spec
	}
	for _, d := range rt.Domains() {
		cap, err := d.Bootstrap(admin)
		if err != nil {
			cancel()
			<-runErr
			return WrapExitError(ExitCommandError, fmt.Sprintf("bootstrap failed for %s", d.Name()), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "domain %s: bootstrap capability %s\n", d.Name(), ir.Hex(cap.ID))

		if err := registerDeclaredHandlers(ctx, d, byName[d.Name()], cap.ID); err != nil {
			cancel()
			<-runErr
			return WrapExitError(ExitCommandError, fmt.Sprintf("handler registration failed for %s", d.Name()), err)
		}
	}

	if opts.Metrics != "" {
		exporter := obs.NewExporter()
		for _, d := range rt.Domains() {
			events, cancelSub := d.Observe(256)
			defer cancelSub()
			go exporter.Watch(ctx, d.Name(), events)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", exporter.Handler())
		srv := &http.Server{Addr: opts.Metrics, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		go func() {
			log.Info("metrics listening", "addr", opts.Metrics)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server error", "error", err)
			}
		}()
	}

	log.Info("runtime started", "domains", len(specs), "data_dir", opts.Store.DataDir)
	fmt.Fprintln(cmd.OutOrStdout(), "Runtime started. Press Ctrl-C to stop.")

	if err := <-runErr; err != nil && err != context.Canceled && err != context.DeadlineExceeded {
		return WrapExitError(ExitFailure, "runtime error", err)
	}

	log.Info("runtime stopped gracefully")
	return nil
}

// syncDomainManifest pins the domain's config and journal checkpoint next
// to its database. A stale store surfaces here: if a previously written
// manifest records a checkpoint the journal no longer reaches, the domain
// lost history and the operator gets a warning before it serves.
func syncDomainManifest(ctx context.Context, log *slog.Logger, store *StoreOptions, spec compiler.DomainSpec, journal smt.Journal) error {
	if store.Driver != string(smt.DriverSqlite) {
		return nil
	}
	path := filepath.Join(store.DataDir, spec.Name+".manifest.yaml")

	head, hasHead, err := journal.Last(ctx)
	if err != nil {
		return err
	}

	if prev, err := smt.LoadManifest(path); err == nil {
		if !hasHead && prev.CheckpointSeq > 0 {
			log.Warn("journal is empty but the manifest records a checkpoint; store may have been replaced",
				"domain", spec.Name, "manifest_seq", prev.CheckpointSeq)
		} else if hasHead && prev.CheckpointSeq > head.Seq {
			log.Warn("journal head is behind the manifest checkpoint; store may have lost commits",
				"domain", spec.Name, "manifest_seq", prev.CheckpointSeq, "journal_seq", head.Seq)
		}
	}

	m := smt.Manifest{
		Domain:      spec.Name,
		Config:      spec.Config,
		StoreDriver: smt.DriverSqlite,
		StoreDSN:    filepath.Join(store.DataDir, spec.Name+".db"),
	}
	if hasHead {
		m.CheckpointSeq = head.Seq
		m.CheckpointRoot = head.Root.Hex()
	}
	return m.Save(path)
}

// registerDeclaredHandlers registers each manifest handler through the
// domain's command loop.
func registerDeclaredHandlers(ctx context.Context, d *runtime.Domain, spec compiler.DomainSpec, auth ir.CapabilityID) error {
	for _, decl := range spec.Handlers {
		transformer, err := decl.Transformer()
		if err != nil {
			return err
		}
		handler, err := decl.Handler(d.ID(), d.Clock().Next())
		if err != nil {
			return err
		}
		if err := d.RegisterHandler(ctx, handler, transformer, auth); err != nil {
			return fmt.Errorf("handler %q: %w", decl.Name, err)
		}
	}
	return nil
}

// compileManifests loads and compiles all CUE manifests from a directory.
func compileManifests(dir string) ([]compiler.DomainSpec, error) {
	loadResult, loadErrors := LoadManifests(dir, LoadModeFailFast)
	if len(loadErrors) > 0 {
		return nil, loadErrors[0]
	}
	for i := range loadResult.Domains {
		if errs := compiler.Validate(&loadResult.Domains[i]); len(errs) > 0 {
			return nil, errs[0]
		}
	}
	return loadResult.Domains, nil
}
