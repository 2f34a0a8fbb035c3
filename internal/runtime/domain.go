package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/telic-run/telic/internal/eff"
	"github.com/telic-run/telic/internal/ir"
	"github.com/telic-run/telic/internal/resource"
	"github.com/telic-run/telic/internal/sched"
	"github.com/telic-run/telic/internal/smt"
	"github.com/telic-run/telic/internal/teg"
)

type commandKind int

const (
	cmdSubmitIntent commandKind = iota + 1
	cmdSubmitTeg
	cmdRegisterHandler
)

// command is one unit of ingress work for the single-writer loop.
type command struct {
	kind      commandKind
	intent    ir.Intent
	tegBytes  []byte
	handler   ir.Handler
	transform eff.Transformer
	auth      ir.CapabilityID
	reply     chan outcome
}

// outcome is the loop's answer to one command.
type outcome struct {
	value ir.Value
	root  smt.Hash
	teg   ir.TegID
	err   error
}

// IntentResult reports one settled intent.
type IntentResult struct {
	Value ir.Value
	Root  smt.Hash
}

// Domain owns one namespace: its SMT, journal, resource registry, handler
// table and observer stream. All mutations flow through the Run loop in a
// single goroutine; ingress methods enqueue and wait.
type Domain struct {
	id       ir.DomainID
	name     string
	cfg      ir.DomainConfig
	tree     *smt.Tree
	journal  smt.Journal
	clock    *sched.Clock
	registry *resource.Registry
	handlers *eff.HandlerRegistry
	view     *eff.RegistryView
	queue    *commandQueue
	hub      *ObserverHub
	sched    *sched.Scheduler
	egress   Egress
	gas      uint64
	log      *slog.Logger

	checkpointRoot smt.Hash
	checkpointSeq  int64
}

// DomainOption configures a domain.
type DomainOption func(*Domain)

// WithConfig overrides the default domain config.
func WithConfig(cfg ir.DomainConfig) DomainOption {
	return func(d *Domain) { d.cfg = cfg }
}

// WithEgress attaches an egress adapter.
func WithEgress(e Egress) DomainOption {
	return func(d *Domain) { d.egress = e }
}

// WithGasBudget sets the per-intent gas budget.
func WithGasBudget(budget uint64) DomainOption {
	return func(d *Domain) { d.gas = budget }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) DomainOption {
	return func(d *Domain) { d.log = log }
}

// WithCheckpoint resumes the domain at a previously journaled commit: the
// tree is pinned at root and the logical clock continues past seq, so new
// commits extend the recorded history instead of restarting from an empty
// tree.
func WithCheckpoint(root smt.Hash, seq int64) DomainOption {
	return func(d *Domain) {
		d.checkpointRoot = root
		d.checkpointSeq = seq
	}
}

// NewDomain creates a domain over a node store and journal.
func NewDomain(name string, store smt.NodeStore, journal smt.Journal, opts ...DomainOption) *Domain {
	d := &Domain{
		id:      ir.NewDomainID(name),
		name:    name,
		cfg:     ir.DefaultDomainConfig(),
		tree:    smt.NewTree(store),
		journal: journal,
		clock:   sched.NewClock(),
		queue:   newCommandQueue(),
		egress:  NopEgress{},
		gas:     eff.DefaultGasBudget,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.checkpointRoot != (smt.Hash{}) {
		d.tree = smt.LoadTree(store, d.checkpointRoot)
		d.clock = sched.NewClockAt(d.checkpointSeq)
		d.log.Info("domain resuming at checkpoint",
			"domain", d.name,
			"seq", d.checkpointSeq,
			"root", ir.ShortHex(d.checkpointRoot))
	}
	d.registry = resource.NewRegistry(d.id, d.tree, d.clock, resource.WithLogger(d.log))
	d.handlers = eff.NewHandlerRegistry(eff.WithDispatchAuthorizer(d.registry))
	d.view = eff.NewRegistryView(d.registry)
	d.hub = NewObserverHub(d.log)
	d.sched = sched.New(d.registry, d.clock, sched.WithLogger(d.log))
	return d
}

// ID returns the domain id.
func (d *Domain) ID() ir.DomainID { return d.id }

// Name returns the domain name.
func (d *Domain) Name() string { return d.name }

// Tree returns the domain's SMT.
func (d *Domain) Tree() *smt.Tree { return d.tree }

// Registry returns the domain's resource registry.
func (d *Domain) Registry() *resource.Registry { return d.registry }

// Clock returns the domain's logical clock.
func (d *Domain) Clock() *sched.Clock { return d.clock }

// Scheduler returns the domain's task scheduler.
func (d *Domain) Scheduler() *sched.Scheduler { return d.sched }

// Observe subscribes to the domain's event stream.
func (d *Domain) Observe(buffer int) (<-chan Event, func()) {
	return d.hub.Subscribe(buffer)
}

// Halted reports whether the domain has refused further commits after a
// fatal invariant break.
func (d *Domain) Halted() (bool, error) {
	return d.registry.Halted()
}

// Bootstrap issues the domain's admin class capability. Call once before
// serving ingress; the returned capability authenticates every port.
func (d *Domain) Bootstrap(admin ir.IdentityID) (ir.Capability, error) {
	return d.registry.IssueClass(admin, ir.GrantsAll)
}

// RegisterResource creates a Live resource owned by owner and tracks its
// root capability for intent binding.
func (d *Domain) RegisterResource(name, resourceType string, quantity uint64, owner ir.IdentityID) (ir.Resource, ir.Capability, error) {
	res, cap, err := d.registry.Register(name, resourceType, quantity, owner)
	if err != nil {
		return ir.Resource{}, ir.Capability{}, err
	}
	d.view.Grant(res.ID, cap.ID)
	return res, cap, nil
}

func (d *Domain) submit(ctx context.Context, c command) (outcome, error) {
	c.reply = make(chan outcome, 1)
	if !d.queue.enqueue(c) {
		return outcome{}, fmt.Errorf("domain %s: loop stopped", d.name)
	}
	select {
	case <-ctx.Done():
		return outcome{}, ctx.Err()
	case out := <-c.reply:
		return out, out.err
	}
}

// SubmitIntent compiles, executes and commits an intent. The capability
// must grant execute.
func (d *Domain) SubmitIntent(ctx context.Context, intent ir.Intent, auth ir.CapabilityID) (IntentResult, error) {
	out, err := d.submit(ctx, command{kind: cmdSubmitIntent, intent: intent, auth: auth})
	if err != nil {
		return IntentResult{}, err
	}
	return IntentResult{Value: out.value, Root: out.root}, nil
}

// SubmitTeg validates and commits a canonical graph encoding. The
// capability must grant write.
func (d *Domain) SubmitTeg(ctx context.Context, data []byte, auth ir.CapabilityID) (ir.TegID, smt.Hash, error) {
	out, err := d.submit(ctx, command{kind: cmdSubmitTeg, tegBytes: data, auth: auth})
	if err != nil {
		return ir.TegID{}, smt.Hash{}, err
	}
	return out.teg, out.root, nil
}

// RegisterHandler installs a handler with its transformation. The
// capability must grant delegate.
func (d *Domain) RegisterHandler(ctx context.Context, h ir.Handler, t eff.Transformer, auth ir.CapabilityID) error {
	_, err := d.submit(ctx, command{kind: cmdRegisterHandler, handler: h, transform: t, auth: auth})
	return err
}

// ScheduleIntent queues an intent for dispatch once its input resources
// are Live and unclaimed by another in-flight task. Inputs that bind now
// become the task's claim set; the authoritative bind still happens inside
// the writer loop at dispatch, so a stale pre-bind fails there, not here.
func (d *Domain) ScheduleIntent(intent ir.Intent, auth ir.CapabilityID, opts ...sched.SubmitOption) (*sched.Handle, error) {
	var required []ir.ResourceID
	if bindings, err := d.view.BindFlows(intent.Inputs); err == nil {
		for _, b := range bindings {
			required = append(required, b.Resource)
		}
	}

	task := func(ctx context.Context) (ir.Value, error) {
		res, err := d.SubmitIntent(ctx, intent, auth)
		if err != nil {
			return nil, err
		}
		return res.Value, nil
	}
	return d.sched.Submit(task, required, intent.Priority, opts...)
}

// Stop refuses further ingress: scheduled submissions fail closed and the
// command queue stops accepting; Run drains and returns. Callers holding
// scheduler handles should wait on them before stopping.
func (d *Domain) Stop() {
	d.sched.Stop()
	d.queue.close()
}

// Run is the single-writer loop. Must be called from exactly one
// goroutine; every store write and handler table mutation happens here.
// Command failures are answered to the caller and logged, and the loop
// continues; retries would break deterministic replay. The scheduler's
// dispatch loop runs alongside and feeds settled claims back through the
// same queue, so commits stay serialized.
func (d *Domain) Run(ctx context.Context) error {
	d.log.Info("domain loop starting", "domain", d.name)

	schedCtx, cancelSched := context.WithCancel(ctx)
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		_ = d.sched.Run(schedCtx)
	}()
	defer func() {
		d.sched.Stop()
		cancelSched()
		<-schedDone
	}()

	for {
		c, ok := d.queue.tryDequeue()
		if ok {
			out := d.process(ctx, c)
			if out.err != nil {
				d.log.Warn("command failed",
					"domain", d.name,
					"kind", c.kind,
					"error", out.err)
			}
			c.reply <- out
			continue
		}

		select {
		case <-ctx.Done():
			d.log.Info("domain loop stopping: context cancelled", "domain", d.name)
			d.queue.close()
			d.hub.Close()
			return ctx.Err()
		case <-d.queue.wait():
			if d.queue.len() == 0 {
				d.log.Info("domain loop stopping: queue closed", "domain", d.name)
				d.hub.Close()
				return nil
			}
		}
	}
}

func (d *Domain) process(ctx context.Context, c command) outcome {
	if halted, cause := d.registry.Halted(); halted {
		return outcome{err: &resource.Error{Code: resource.CodeHalted, Message: "domain halted on fatal error", Err: cause}}
	}

	switch c.kind {
	case cmdSubmitIntent:
		return d.processIntent(ctx, c)
	case cmdSubmitTeg:
		return d.processTeg(c)
	case cmdRegisterHandler:
		return d.processRegisterHandler(c)
	default:
		return outcome{err: fmt.Errorf("unknown command kind %d", c.kind)}
	}
}

func (d *Domain) processIntent(ctx context.Context, c command) outcome {
	if err := d.registry.Authorize(c.auth, ir.NewGrants(ir.GrantExecute)); err != nil {
		return outcome{err: err}
	}
	cap, _ := d.registry.Capability(c.auth)

	expr, err := eff.CompileIntent(c.intent, d.view, d.handlers)
	if err != nil {
		d.emit(EventIntentFailed, ir.Obj{
			"intent": ir.Str(ir.Hex(c.intent.ID)),
			"error":  ir.Str(err.Error()),
		})
		return outcome{err: err}
	}

	interp := eff.NewInterp(d.handlers, &eff.RegistryCommitter{Registry: d.registry, Owner: cap.Subject},
		eff.WithGasBudget(d.gas), eff.WithInterpLogger(d.log))
	result, err := interp.Execute(ctx, expr)
	if err != nil {
		d.emit(EventIntentFailed, ir.Obj{
			"intent": ir.Str(ir.Hex(c.intent.ID)),
			"error":  ir.Str(err.Error()),
		})
		if halted, cause := d.registry.Halted(); halted {
			d.emit(EventHalt, ir.Obj{"cause": ir.Str(cause.Error())})
		}
		return outcome{err: err}
	}

	if result.Receipt.Root != (smt.Hash{}) {
		if err := d.recordCommit(ctx, result.Receipt, fmt.Sprintf("intent %s", ir.ShortHex(c.intent.ID))); err != nil {
			return outcome{err: err}
		}
	}

	d.emit(EventIntentSettled, ir.Obj{
		"intent":   ir.Str(ir.Hex(c.intent.ID)),
		"gas_used": ir.Int(int64(result.GasUsed)),
	})
	return outcome{value: result.Value, root: result.Receipt.Root}
}

func (d *Domain) processTeg(c command) outcome {
	if err := d.registry.Authorize(c.auth, ir.NewGrants(ir.GrantWrite)); err != nil {
		return outcome{err: err}
	}

	g, err := teg.Decode(c.tegBytes)
	if err != nil {
		return outcome{err: err}
	}
	tegID, root, err := teg.Commit(teg.FromGraph(g), d.tree, d.id, d.cfg, d.log)
	if err != nil {
		return outcome{err: err}
	}

	seq := d.clock.Next()
	if err := d.journal.Append(context.Background(), smt.CommitRecord{
		Seq:     seq,
		Root:    root,
		Summary: fmt.Sprintf("teg %s", ir.ShortHex(tegID)),
	}); err != nil {
		return outcome{err: err}
	}
	if err := d.egress.PublishCommit(d.id, root, CommitSummary{Seq: seq, Summary: "teg"}); err != nil {
		d.log.Warn("egress publish failed", "domain", d.name, "error", err)
	}

	d.emit(EventTegCommitted, ir.Obj{"teg": ir.Str(ir.Hex(tegID))})
	return outcome{teg: tegID, root: root}
}

func (d *Domain) processRegisterHandler(c command) outcome {
	if err := d.registry.Authorize(c.auth, ir.NewGrants(ir.GrantDelegate)); err != nil {
		return outcome{err: err}
	}
	if err := d.handlers.Register(c.handler, c.transform, c.auth); err != nil {
		return outcome{err: err}
	}
	d.emit(EventHandlerRegistered, ir.Obj{
		"handler":      ir.Str(ir.Hex(c.handler.ID)),
		"handles_type": ir.Str(c.handler.HandlesType),
	})
	return outcome{}
}

// recordCommit journals a committed receipt and publishes it on the egress
// and observer ports.
func (d *Domain) recordCommit(ctx context.Context, receipt eff.CommitReceipt, summary string) error {
	seq := d.clock.Next()
	if err := d.journal.Append(ctx, smt.CommitRecord{
		Seq:     seq,
		Root:    receipt.Root,
		Summary: summary,
	}); err != nil {
		return err
	}

	cs := CommitSummary{
		Seq:        seq,
		Nullifiers: len(receipt.Nullifiers),
		Minted:     len(receipt.Minted),
		Summary:    summary,
	}
	if err := d.egress.PublishCommit(d.id, receipt.Root, cs); err != nil {
		d.log.Warn("egress publish failed", "domain", d.name, "error", err)
	}

	d.emit(EventCommit, ir.Obj{
		"seq":        ir.Int(seq),
		"nullifiers": ir.Int(int64(len(receipt.Nullifiers))),
		"minted":     ir.Int(int64(len(receipt.Minted))),
	})
	return nil
}

func (d *Domain) emit(kind string, payload ir.Value) {
	d.hub.Publish(Event{Step: d.clock.Current(), Kind: kind, Payload: payload})
}
