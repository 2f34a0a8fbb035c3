package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Runtime composes domains. There is no process-global state: two runtimes
// in one process are fully independent.
type Runtime struct {
	mu      sync.Mutex
	domains map[string]*Domain
	log     *slog.Logger
}

// NewRuntime creates an empty runtime.
func NewRuntime(log *slog.Logger) *Runtime {
	if log == nil {
		log = slog.Default()
	}
	return &Runtime{domains: make(map[string]*Domain), log: log}
}

// AddDomain registers a domain under its name.
func (r *Runtime) AddDomain(d *Domain) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.domains[d.Name()]; dup {
		return fmt.Errorf("domain %q already registered", d.Name())
	}
	r.domains[d.Name()] = d
	return nil
}

// Domain looks a domain up by name.
func (r *Runtime) Domain(name string) (*Domain, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.domains[name]
	return d, ok
}

// Domains returns all domains in name order.
func (r *Runtime) Domains() []*Domain {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.domains))
	for name := range r.domains {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*Domain, len(names))
	for i, name := range names {
		out[i] = r.domains[name]
	}
	return out
}

// Run starts every domain loop and blocks until all have stopped. Each
// domain runs its own single writer; domains never share one.
func (r *Runtime) Run(ctx context.Context) error {
	domains := r.Domains()
	r.log.Info("runtime starting", "domains", len(domains))

	var wg sync.WaitGroup
	errs := make([]error, len(domains))
	for i, d := range domains {
		wg.Add(1)
		go func(i int, d *Domain) {
			defer wg.Done()
			errs[i] = d.Run(ctx)
		}(i, d)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil && err != context.Canceled {
			return err
		}
	}
	return nil
}

// Stop closes every domain's ingress queue.
func (r *Runtime) Stop() {
	for _, d := range r.Domains() {
		d.Stop()
	}
}
