package runtime

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telic-run/telic/internal/eff"
	"github.com/telic-run/telic/internal/ir"
	"github.com/telic-run/telic/internal/resource"
	"github.com/telic-run/telic/internal/sched"
	"github.com/telic-run/telic/internal/smt"
	"github.com/telic-run/telic/internal/teg"
)

func startDomain(t *testing.T, d *Domain) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(context.Background())
	}()
	t.Cleanup(func() {
		d.Stop()
		<-done
	})
}

func newTestDomain(t *testing.T, opts ...DomainOption) (*Domain, ir.Capability) {
	t.Helper()
	d := NewDomain("test-domain", smt.NewMemoryStore(), smt.NewMemoryJournal(), opts...)
	admin, err := d.Bootstrap(ir.NewIdentityID("admin"))
	require.NoError(t, err)
	startDomain(t, d)
	return d, admin
}

func makeIntent(t *testing.T, d *Domain, name string, inputs, outputs []ir.ResourceFlow, target string) ir.Intent {
	t.Helper()
	i := ir.Intent{
		Name:              name,
		DomainID:          d.ID(),
		Inputs:            inputs,
		Outputs:           outputs,
		TargetTypedDomain: target,
		Timestamp:         1,
	}
	id, err := ir.ComputeIntentID(i)
	require.NoError(t, err)
	i.ID = id
	return i
}

// captureEgress records published commits for assertions.
type captureEgress struct {
	mu      sync.Mutex
	commits []CommitSummary
}

func (e *captureEgress) PublishCommit(_ ir.DomainID, _ smt.Hash, s CommitSummary) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commits = append(e.commits, s)
	return nil
}

func (e *captureEgress) RequestExternalRead(ir.DomainID, string) ([]byte, error) {
	return nil, nil
}

func (e *captureEgress) RequestOrdering(ir.DomainID) (int64, error) { return 0, nil }

func TestSubmitIntentEndToEnd(t *testing.T) {
	egress := &captureEgress{}
	d, admin := newTestDomain(t, WithEgress(egress))

	events, unsub := d.Observe(16)
	defer unsub()

	res, _, err := d.RegisterResource("vault", "token", 100, ir.NewIdentityID("admin"))
	require.NoError(t, err)

	flow := []ir.ResourceFlow{{ResourceType: "token", Quantity: 100, DomainID: d.ID()}}
	intent := makeIntent(t, d, "move", flow, flow, "")

	result, err := d.SubmitIntent(context.Background(), intent, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, d.Tree().Root(), result.Root)

	_, state, ok := d.Registry().Get(res.ID)
	require.True(t, ok)
	assert.Equal(t, ir.Consumed, state)

	// The commit was journaled and published.
	rec, ok, err := smtJournalLast(d)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, result.Root, rec.Root)

	egress.mu.Lock()
	require.Len(t, egress.commits, 1)
	assert.Equal(t, 1, egress.commits[0].Nullifiers)
	egress.mu.Unlock()

	// The observer stream saw the commit before settlement.
	kinds := drainEvents(events)
	assert.Contains(t, kinds, EventCommit)
	assert.Contains(t, kinds, EventIntentSettled)
}

func smtJournalLast(d *Domain) (smt.CommitRecord, bool, error) {
	return d.journal.Last(context.Background())
}

func drainEvents(ch <-chan Event) []string {
	var kinds []string
	for {
		select {
		case ev := <-ch:
			kinds = append(kinds, ev.Kind)
		default:
			return kinds
		}
	}
}

func TestSubmitIntentRequiresCapability(t *testing.T) {
	d, _ := newTestDomain(t)
	intent := makeIntent(t, d, "noop", nil, nil, "")

	// Unknown capability.
	_, err := d.SubmitIntent(context.Background(), intent, ir.CapabilityID{})
	require.Error(t, err)
	assert.True(t, resource.IsAccessDenied(err))

	// A capability without the execute grant.
	readOnly, err := d.Registry().IssueClass(ir.NewIdentityID("reader"), ir.NewGrants(ir.GrantRead))
	require.NoError(t, err)
	_, err = d.SubmitIntent(context.Background(), intent, readOnly.ID)
	require.Error(t, err)
	assert.True(t, resource.IsAccessDenied(err))
}

func TestSubmitTegRoundTrip(t *testing.T) {
	d, admin := newTestDomain(t)

	e := ir.Effect{
		Name:       "step",
		DomainID:   d.ID(),
		EffectType: "core.note",
		Timestamp:  1,
	}
	id, err := ir.ComputeEffectID(e)
	require.NoError(t, err)
	e.ID = id

	f := teg.NewFragment(teg.EffectNode(e))
	encoded, err := teg.Encode(f.Graph())
	require.NoError(t, err)

	tegID, root, err := d.SubmitTeg(context.Background(), encoded, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, d.Tree().Root(), root)

	loaded, err := teg.Load(d.Tree(), tegID)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Len())
}

func TestSubmitTegRejectsTampered(t *testing.T) {
	d, admin := newTestDomain(t)

	_, _, err := d.SubmitTeg(context.Background(), []byte(`{"edges":[],"exprs":[],"nodes"`), admin.ID)
	require.Error(t, err)
}

func TestRegisterHandlerAndTypedIntent(t *testing.T) {
	d, admin := newTestDomain(t)

	h := ir.Handler{
		Name:        "amm",
		DomainID:    d.ID(),
		HandlesType: "amm.transform",
		Priority:    1,
		Timestamp:   1,
	}
	hid, err := ir.ComputeHandlerID(h)
	require.NoError(t, err)
	h.ID = hid

	transform := eff.FuncTransformer{Type: "amm.transform", Fn: func(e ir.Effect, p ir.Value) (eff.Expr, error) {
		return eff.NewPure(ir.Str("swapped")), nil
	}}
	require.NoError(t, d.RegisterHandler(context.Background(), h, transform, admin.ID))

	intent := makeIntent(t, d, "swap", nil, nil, "amm")
	result, err := d.SubmitIntent(context.Background(), intent, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, ir.Str("swapped"), result.Value)
}

func TestRegisterHandlerRequiresDelegate(t *testing.T) {
	d, _ := newTestDomain(t)

	h := ir.Handler{Name: "x", DomainID: d.ID(), HandlesType: "app.x", Timestamp: 1}
	hid, err := ir.ComputeHandlerID(h)
	require.NoError(t, err)
	h.ID = hid

	reader, err := d.Registry().IssueClass(ir.NewIdentityID("reader"), ir.NewGrants(ir.GrantRead))
	require.NoError(t, err)

	err = d.RegisterHandler(context.Background(), h,
		eff.FuncTransformer{Type: "app.x", Fn: func(e ir.Effect, p ir.Value) (eff.Expr, error) {
			return eff.NewPure(ir.Null{}), nil
		}}, reader.ID)
	require.Error(t, err)
	assert.True(t, resource.IsAccessDenied(err))
}

type haltingStore struct {
	*smt.MemoryStore
	fail bool
}

func (s *haltingStore) PutBatch(nodes map[smt.Hash][]byte) error {
	if s.fail {
		return assert.AnError
	}
	return s.MemoryStore.PutBatch(nodes)
}

func TestHaltedDomainRefusesCommands(t *testing.T) {
	store := &haltingStore{MemoryStore: smt.NewMemoryStore()}
	d := NewDomain("test-domain", store, smt.NewMemoryJournal())
	admin, err := d.Bootstrap(ir.NewIdentityID("admin"))
	require.NoError(t, err)
	startDomain(t, d)

	res, cap, err := d.RegisterResource("vault", "token", 10, ir.NewIdentityID("admin"))
	require.NoError(t, err)

	// A storage failure during consumption is fatal and halts the domain.
	store.fail = true
	_, err = d.Registry().Consume(res.ID, cap.ID)
	require.Error(t, err)
	store.fail = false

	intent := makeIntent(t, d, "noop", nil, nil, "")
	_, err = d.SubmitIntent(context.Background(), intent, admin.ID)
	require.Error(t, err)

	var rerr *resource.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, resource.CodeHalted, rerr.Code)
}

func TestDomainResumesAtCheckpoint(t *testing.T) {
	store := smt.NewMemoryStore()
	journal := smt.NewMemoryJournal()
	admin := ir.NewIdentityID("admin")

	d1 := NewDomain("ledger", store, journal)
	auth1, err := d1.Bootstrap(admin)
	require.NoError(t, err)
	startDomain(t, d1)

	_, _, err = d1.RegisterResource("vault", "token", 100, admin)
	require.NoError(t, err)
	flow := []ir.ResourceFlow{{ResourceType: "token", Quantity: 100, DomainID: d1.ID()}}
	result, err := d1.SubmitIntent(context.Background(), makeIntent(t, d1, "move", flow, flow, ""), auth1.ID)
	require.NoError(t, err)
	d1.Stop()

	rec, ok, err := journal.Last(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, result.Root, rec.Root)

	// A second domain over the same backend resumes at the journal head
	// instead of an empty tree.
	d2 := NewDomain("ledger", store, journal, WithCheckpoint(rec.Root, rec.Seq))
	assert.Equal(t, rec.Root, d2.Tree().Root())
	assert.Equal(t, rec.Seq, d2.Clock().Current())

	auth2, err := d2.Bootstrap(admin)
	require.NoError(t, err)
	startDomain(t, d2)

	_, _, err = d2.RegisterResource("vault2", "token", 40, admin)
	require.NoError(t, err)
	flow2 := []ir.ResourceFlow{{ResourceType: "token", Quantity: 40, DomainID: d2.ID()}}
	result2, err := d2.SubmitIntent(context.Background(), makeIntent(t, d2, "move-again", flow2, flow2, ""), auth2.ID)
	require.NoError(t, err)

	// The journal keeps one strictly increasing history across the restart.
	rec2, ok, err := journal.Last(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Greater(t, rec2.Seq, rec.Seq)
	assert.Equal(t, result2.Root, rec2.Root)
	assert.NotEqual(t, rec.Root, rec2.Root)
}

func TestScheduleIntentSettlesThroughWriterLoop(t *testing.T) {
	d, admin := newTestDomain(t)

	res, _, err := d.RegisterResource("vault", "token", 50, ir.NewIdentityID("admin"))
	require.NoError(t, err)
	rootBefore := d.Tree().Root()

	flow := []ir.ResourceFlow{{ResourceType: "token", Quantity: 50, DomainID: d.ID()}}
	intent := makeIntent(t, d, "move", flow, flow, "")

	h, err := d.ScheduleIntent(intent, admin.ID)
	require.NoError(t, err)

	_, err = h.Result()
	require.NoError(t, err)
	assert.NotEqual(t, rootBefore, d.Tree().Root())

	_, state, ok := d.Registry().Get(res.ID)
	require.True(t, ok)
	assert.Equal(t, ir.Consumed, state)
}

func TestScheduleIntentUnbindableInputsFail(t *testing.T) {
	d, admin := newTestDomain(t)
	rootBefore := d.Tree().Root()

	flow := []ir.ResourceFlow{{ResourceType: "phantom", Quantity: 1, DomainID: d.ID()}}
	intent := makeIntent(t, d, "ghost", flow, flow, "")

	h, err := d.ScheduleIntent(intent, admin.ID)
	require.NoError(t, err)

	_, err = h.Result()
	require.Error(t, err)
	assert.Equal(t, rootBefore, d.Tree().Root())
}

func TestScheduleIntentHonorsLogicalDeadline(t *testing.T) {
	d, admin := newTestDomain(t)

	res, _, err := d.RegisterResource("vault", "token", 10, ir.NewIdentityID("admin"))
	require.NoError(t, err)

	flow := []ir.ResourceFlow{{ResourceType: "token", Quantity: 10, DomainID: d.ID()}}
	intent := makeIntent(t, d, "late", flow, flow, "")

	// Bootstrap and registration already moved the clock past step 1, so
	// the deadline has lapsed before the task can dispatch.
	h, err := d.ScheduleIntent(intent, admin.ID, sched.WithDeadlineStep(1))
	require.NoError(t, err)

	_, err = h.Result()
	require.Error(t, err)
	assert.True(t, sched.IsTimeout(err))

	_, state, ok := d.Registry().Get(res.ID)
	require.True(t, ok)
	assert.Equal(t, ir.Live, state)
}

func TestScheduleIntentAfterStopRefused(t *testing.T) {
	d, admin := newTestDomain(t)
	intent := makeIntent(t, d, "noop", nil, nil, "")

	d.Stop()
	_, err := d.ScheduleIntent(intent, admin.ID)
	require.Error(t, err)
	assert.True(t, sched.IsClosed(err))
}

func TestRuntimeComposition(t *testing.T) {
	rt := NewRuntime(nil)

	a := NewDomain("alpha", smt.NewMemoryStore(), smt.NewMemoryJournal())
	b := NewDomain("beta", smt.NewMemoryStore(), smt.NewMemoryJournal())
	require.NoError(t, rt.AddDomain(a))
	require.NoError(t, rt.AddDomain(b))
	require.Error(t, rt.AddDomain(a), "duplicate name")

	got, ok := rt.Domain("alpha")
	require.True(t, ok)
	assert.Equal(t, a, got)

	domains := rt.Domains()
	require.Len(t, domains, 2)
	assert.Equal(t, "alpha", domains[0].Name())
	assert.Equal(t, "beta", domains[1].Name())

	adminA, err := a.Bootstrap(ir.NewIdentityID("admin"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- rt.Run(context.Background()) }()

	// Domains are independent: alpha serving does not involve beta.
	intent := ir.Intent{Name: "noop", DomainID: a.ID(), Timestamp: 1}
	id, err := ir.ComputeIntentID(intent)
	require.NoError(t, err)
	intent.ID = id
	_, err = a.SubmitIntent(context.Background(), intent, adminA.ID)
	require.NoError(t, err)

	rt.Stop()
	require.NoError(t, <-done)
}
