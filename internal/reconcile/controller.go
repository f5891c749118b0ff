// Package reconcile turns user actions into optimistic store writes, remote
// commands and, for uploads, a bounded poll until the backend catches up.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/foxzi/reviewdesk/internal/campaign"
	"github.com/foxzi/reviewdesk/internal/gateway"
	"github.com/foxzi/reviewdesk/internal/journal"
	"github.com/foxzi/reviewdesk/internal/lifecycle"
	"github.com/foxzi/reviewdesk/internal/metrics"
	"github.com/foxzi/reviewdesk/internal/normalize"
	"github.com/foxzi/reviewdesk/internal/storage"
	"github.com/foxzi/reviewdesk/internal/store"
)

// Recorder persists finished reconciliations
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// SnapshotSaver persists the store after every successful refresh
type SnapshotSaver interface {
	SaveSnapshot(snap *storage.Snapshot) error
}

// Options configures the controller
type Options struct {
	PollInterval          time.Duration
	PollAttempts          int
	ConflictPolicy        ConflictPolicy
	MaxUnmatchedRefreshes int
	RefreshTimeout        time.Duration
	FallbackDesigners     []campaign.Designer
	DesignerPassword      string
}

// DefaultOptions returns the reference polling bounds: 18 polls, 10s apart
func DefaultOptions() Options {
	return Options{
		PollInterval:          10 * time.Second,
		PollAttempts:          18,
		ConflictPolicy:        ConflictReject,
		MaxUnmatchedRefreshes: 3,
		RefreshTimeout:        30 * time.Second,
	}
}

// Request is a user action on an existing campaign
type Request struct {
	CampaignID  string
	Action      lifecycle.Action
	Payload     lifecycle.Payload
	Attachments []gateway.Attachment
}

// Draft holds the fields of a campaign to create
type Draft struct {
	CampaignName string            `json:"campaign_name"`
	Brief        string            `json:"brief"`
	PostType     campaign.PostType `json:"post_type"`
	Deadline     string            `json:"deadline"`
	UploadDate   string            `json:"upload_date"`
	UploadTime   string            `json:"upload_time"`
	DesignerID   string            `json:"designer_id"`
	ClientName   string            `json:"client_name"`
}

// Result is returned by Dispatch and Create once the optimistic write is
// done. RemoteErr is advisory: the local change stays.
type Result struct {
	Reconciliation Reconciliation     `json:"reconciliation"`
	Campaign       *campaign.Campaign `json:"campaign,omitempty"`
	RemoteErr      error              `json:"-"`
}

// Warning returns a user-facing message for an advisory remote failure
func (r *Result) Warning() string {
	if r.RemoteErr == nil {
		return ""
	}
	return "saved locally, backend did not confirm: " + r.RemoteErr.Error()
}

type flight struct {
	rec      Reconciliation
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	canceled bool
}

// creation is an optimistic campaign the backend has not returned yet
type creation struct {
	tempID      string
	fingerprint string
	misses      int
}

type addedDesigner struct {
	designer campaign.Designer
	misses   int
}

// Controller owns every optimistic write to the campaign store
type Controller struct {
	gw        gateway.Gateway
	store     *store.Store
	recorder  Recorder
	snapshots SnapshotSaver
	logger    *slog.Logger
	opts      Options
	now       func() time.Time

	// serializes controller writes to the store; taken before mu
	writeMu sync.Mutex

	mu        sync.Mutex
	inflight  map[string]*flight
	latest    map[string]*flight
	pending   map[string]*creation
	designers []*addedDesigner
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a controller. recorder and snapshots may be nil.
func New(gw gateway.Gateway, st *store.Store, recorder Recorder, snapshots SnapshotSaver, opts Options, logger *slog.Logger) *Controller {
	def := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = def.PollAttempts
	}
	if opts.ConflictPolicy == "" {
		opts.ConflictPolicy = def.ConflictPolicy
	}
	if opts.MaxUnmatchedRefreshes <= 0 {
		opts.MaxUnmatchedRefreshes = def.MaxUnmatchedRefreshes
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = def.RefreshTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Controller{
		gw:        gw,
		store:     st,
		recorder:  recorder,
		snapshots: snapshots,
		logger:    logger.With("component", "reconcile"),
		opts:      opts,
		now:       time.Now,
		inflight:  make(map[string]*flight),
		latest:    make(map[string]*flight),
		pending:   make(map[string]*creation),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Close cancels all in-flight reconciliations and waits for their goroutines
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

// GetCampaigns returns the store contents
func (c *Controller) GetCampaigns() []campaign.Campaign {
	return c.store.List()
}

// GetCampaign returns one campaign
func (c *Controller) GetCampaign(id string) (campaign.Campaign, error) {
	cp, ok := c.store.Get(id)
	if !ok {
		return campaign.Campaign{}, store.ErrNotFound
	}
	return cp, nil
}

// GetDesigners returns the designer list
func (c *Controller) GetDesigners() []campaign.Designer {
	return c.store.Designers()
}

// Subscribe registers fn for store changes. fn runs while the controller
// writes and must not call Dispatch, Create, Cancel or Refresh.
func (c *Controller) Subscribe(fn store.Listener) (unsubscribe func()) {
	return c.store.Subscribe(fn)
}

// ApplyOptimistic validates the action and writes the result to the store
// before any network call. A rejected transition leaves the store untouched.
// It takes the campaign's reconciliation slot for the duration of the write,
// so it fails with ErrActionInFlight (or waits, under ConflictWait) while
// another operation on the campaign is outstanding.
func (c *Controller) ApplyOptimistic(ctx context.Context, id string, action lifecycle.Action, p lifecycle.Payload) (campaign.Campaign, error) {
	f, err := c.acquire(ctx, id, string(action))
	if err != nil {
		return campaign.Campaign{}, err
	}
	defer c.abandon(f)

	_, after, err := c.applyOptimistic(id, action, p)
	return after, err
}

func (c *Controller) applyOptimistic(id string, action lifecycle.Action, p lifecycle.Payload) (before, after campaign.Campaign, err error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	before, ok := c.store.Get(id)
	if !ok {
		return before, after, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}

	after, err = lifecycle.Apply(before, action, p)
	if err != nil {
		return before, after, err
	}

	if after.Status == campaign.StatusDeleted {
		c.store.Remove(id)
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	} else {
		c.store.Put(after)
	}
	return before, after, nil
}

// CommitRemote sends the command for an action already applied locally.
// Like ApplyOptimistic it holds the campaign's slot while the command runs.
func (c *Controller) CommitRemote(ctx context.Context, id string, action lifecycle.Action, p lifecycle.Payload) error {
	f, err := c.acquire(ctx, id, string(action))
	if err != nil {
		return err
	}

	cp, ok := c.store.Get(id)
	if !ok {
		cp = campaign.Campaign{ID: id}
	}

	sctx, cancel := context.WithCancel(f.ctx)
	stop := context.AfterFunc(ctx, cancel)
	defer func() {
		stop()
		cancel()
	}()

	if _, err := c.gw.Submit(sctx, commandFor(cp, action, p, nil, c.now())); err != nil {
		if c.isCanceled(f) {
			c.finish(f, StateCanceled, nil)
			return err
		}
		c.finish(f, StateFailed, err)
		return err
	}
	c.finish(f, StateConfirmed, nil)
	return nil
}

// VerifyRemoteConvergence polls the backend until the record for id
// satisfies expect or the attempt ceiling is reached. A timeout is an
// outcome, not an error; only cancellation returns ctx.Err().
func (c *Controller) VerifyRemoteConvergence(ctx context.Context, id string, expect Expectation) (Outcome, error) {
	if expect == nil {
		expect = DesignConverged
	}
	outcome := c.poll(ctx, func() string { return id }, expect, nil)
	if outcome == OutcomeCanceled {
		return outcome, ctx.Err()
	}
	return outcome, nil
}

// Dispatch validates and applies an action, sends the remote command and,
// for design uploads, starts convergence polling in the background.
func (c *Controller) Dispatch(ctx context.Context, req Request) (*Result, error) {
	f, err := c.acquire(ctx, req.CampaignID, string(req.Action))
	if err != nil {
		return nil, err
	}

	before, after, err := c.applyOptimistic(req.CampaignID, req.Action, req.Payload)
	if err != nil {
		c.abandon(f)
		return nil, err
	}

	log := c.logger.With("campaign_id", req.CampaignID, "action", req.Action, "reconciliation_id", f.rec.ID)
	log.Debug("optimistic update applied", "status", after.Status)

	res := &Result{}
	if after.Status != campaign.StatusDeleted {
		res.Campaign = &after
	}

	_, err = c.gw.Submit(f.ctx, commandFor(before, req.Action, req.Payload, req.Attachments, c.now()))
	if err != nil {
		if c.isCanceled(f) {
			res.Reconciliation = c.finish(f, StateCanceled, nil)
			return res, nil
		}
		log.Warn("remote write failed, keeping optimistic state", "error", err)
		res.RemoteErr = err
		res.Reconciliation = c.finish(f, StateFailed, err)
		c.goRefresh()
		return res, nil
	}

	if req.Action != lifecycle.ActionSubmitDesign {
		res.Reconciliation = c.finish(f, StateConfirmed, nil)
		c.goRefresh()
		return res, nil
	}

	res.Reconciliation = c.snapshot(f)
	if !c.spawn(func() { c.converge(f, log) }) {
		res.Reconciliation = c.finish(f, StateCanceled, nil)
	}
	return res, nil
}

func (c *Controller) converge(f *flight, log *slog.Logger) {
	start := c.now()
	outcome := c.poll(f.ctx, func() string { return c.campaignID(f) }, DesignConverged, func(n int) {
		c.mu.Lock()
		f.rec.Attempts = n
		c.mu.Unlock()
	})

	switch outcome {
	case OutcomeCanceled:
		log.Info("convergence polling canceled")
		c.finish(f, StateCanceled, nil)
		return
	case OutcomeConverged:
		metrics.ObserveConvergence(c.now().Sub(start))
		log.Info("remote state converged", "attempts", c.snapshot(f).Attempts)
	case OutcomeTimedOut:
		log.Warn("remote state did not converge, confirmation pending", "attempts", c.opts.PollAttempts)
	}

	// the final refresh runs whatever the outcome, unless canceled
	rctx, cancel := context.WithTimeout(f.ctx, c.opts.RefreshTimeout)
	if err := c.refresh(rctx, f); err != nil {
		log.Warn("final refresh failed", "error", err)
	}
	cancel()

	switch {
	case c.isCanceled(f):
		c.finish(f, StateCanceled, nil)
	case outcome == OutcomeTimedOut:
		c.finish(f, StateTimedOut, ErrConvergenceTimeout)
	default:
		c.finish(f, outcome.state(), nil)
	}
}

func (c *Controller) poll(ctx context.Context, currentID func() string, expect Expectation, onAttempt func(int)) Outcome {
	timer := time.NewTimer(c.opts.PollInterval)
	defer timer.Stop()

	for attempt := 1; attempt <= c.opts.PollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return OutcomeCanceled
		case <-timer.C:
		}

		if onAttempt != nil {
			onAttempt(attempt)
		}
		metrics.IncConvergencePolls()

		tree, err := c.gw.FetchCampaigns(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return OutcomeCanceled
			}
			c.logger.Debug("convergence poll failed", "attempt", attempt, "error", err)
		} else {
			id := currentID()
			for _, rc := range normalize.Campaigns(tree) {
				if rc.ID != id {
					continue
				}
				if expect(rc) {
					return OutcomeConverged
				}
				break
			}
		}

		timer.Reset(c.opts.PollInterval)
	}
	return OutcomeTimedOut
}

// Create adds an optimistic campaign under a temporary id and sends the
// creation command. The temp id is replaced as soon as the backend names
// the record, either in its response or in a later refresh.
func (c *Controller) Create(ctx context.Context, d Draft) (*Result, error) {
	d.CampaignName = strings.TrimSpace(d.CampaignName)
	if d.CampaignName == "" {
		return nil, fmt.Errorf("%w: campaign name is required", ErrInvalidDraft)
	}

	cp := campaign.Campaign{
		ID:           campaign.NewTempID(),
		CampaignName: d.CampaignName,
		Brief:        strings.TrimSpace(d.Brief),
		PostType:     campaign.ParsePostType(string(d.PostType)),
		Deadline:     d.Deadline,
		UploadDate:   d.UploadDate,
		UploadTime:   d.UploadTime,
		DesignerName: "Unassigned",
		ClientName:   d.ClientName,
		Status:       campaign.StatusNew,
		CreatedAt:    c.now().UTC(),
	}
	if cp.ClientName == "" {
		cp.ClientName = "Client"
	}
	for _, des := range c.store.Designers() {
		if d.DesignerID != "" && des.ID == d.DesignerID {
			cp.DesignerID = des.ID
			cp.DesignerName = des.Name
			cp.DesignerEmail = des.Email
			break
		}
	}

	f, err := c.acquire(ctx, cp.ID, ActionCreate)
	if err != nil {
		return nil, err
	}

	c.writeMu.Lock()
	c.store.Put(cp)
	c.mu.Lock()
	c.pending[cp.ID] = &creation{tempID: cp.ID, fingerprint: fingerprint(cp)}
	c.mu.Unlock()
	c.writeMu.Unlock()

	log := c.logger.With("campaign_id", cp.ID, "action", ActionCreate, "reconciliation_id", f.rec.ID)
	res := &Result{Campaign: &cp}

	result, err := c.gw.Submit(f.ctx, creationCommand(cp))
	switch {
	case err != nil && c.isCanceled(f):
		res.Reconciliation = c.finish(f, StateCanceled, nil)
		return res, nil
	case err != nil:
		log.Warn("campaign creation not confirmed, keeping optimistic record", "error", err)
		res.RemoteErr = err
		res.Reconciliation = c.finish(f, StateFailed, err)
		c.goRefresh()
		return res, nil
	}

	if result.ID != "" && result.ID != cp.ID {
		if c.rekeyFromResponse(f, cp.ID, result.ID) {
			log.Info("campaign confirmed with backend id", "backend_id", result.ID)
			if updated, ok := c.store.Get(result.ID); ok {
				res.Campaign = &updated
			}
		}
	}

	res.Reconciliation = c.finish(f, StateConfirmed, nil)
	c.goRefresh()
	return res, nil
}

func (c *Controller) rekeyFromResponse(f *flight, tempID, newID string) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if f.canceled {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, tempID)
	c.rekeyLocked(tempID, newID)
	c.mu.Unlock()

	if err := c.store.Rekey(tempID, newID); err != nil {
		c.logger.Warn("rekey skipped", "temp_id", tempID, "backend_id", newID, "error", err)
	}
	return true
}

// rekeyLocked moves reconciliation state from oldID to newID. Caller holds mu.
func (c *Controller) rekeyLocked(oldID, newID string) []Reconciliation {
	var finished []Reconciliation

	retag := func(f *flight) {
		f.rec.CampaignID = newID
		if f.rec.TempID == "" {
			f.rec.TempID = oldID
		}
	}

	if f, ok := c.inflight[oldID]; ok {
		delete(c.inflight, oldID)
		c.inflight[newID] = f
		retag(f)
	}
	if f, ok := c.latest[oldID]; ok {
		delete(c.latest, oldID)
		c.latest[newID] = f
		retag(f)
		if f.rec.State.Done() {
			finished = append(finished, f.rec)
		}
	}
	return finished
}

// Cancel stops the in-flight reconciliation for a campaign. Once it
// returns, that operation makes no further store writes.
func (c *Controller) Cancel(id string) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	f, ok := c.inflight[id]
	if ok {
		f.canceled = true
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	f.cancel()
	return true
}

// Reconciliation returns the in-flight reconciliation for a campaign, or
// the last finished one
func (c *Controller) Reconciliation(campaignID string) (Reconciliation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f, ok := c.inflight[campaignID]; ok {
		return f.rec, true
	}
	f, ok := c.latest[campaignID]
	if !ok {
		return Reconciliation{}, false
	}
	return f.rec, true
}

// Reconciliations returns the current reconciliation of every campaign,
// newest first
func (c *Controller) Reconciliations() []Reconciliation {
	c.mu.Lock()
	out := make([]Reconciliation, 0, len(c.latest)+len(c.inflight))
	for _, f := range c.inflight {
		out = append(out, f.rec)
	}
	for id, f := range c.latest {
		if _, busy := c.inflight[id]; !busy {
			out = append(out, f.rec)
		}
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Refresh re-reads campaigns and designers and replaces the store. On a
// read failure the previous contents stay and the error is returned as advice.
func (c *Controller) Refresh(ctx context.Context) error {
	return c.refresh(ctx, nil)
}

// Sync asks the backend to resynchronize and then refreshes
func (c *Controller) Sync(ctx context.Context) error {
	if err := c.gw.TriggerSync(ctx); err != nil {
		c.logger.Warn("sync trigger failed", "error", err)
		return err
	}
	return c.Refresh(ctx)
}

func (c *Controller) refresh(ctx context.Context, self *flight) error {
	var campaignsTree, designersTree any

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tree, err := c.gw.FetchCampaigns(gctx)
		campaignsTree = tree
		return err
	})
	g.Go(func() error {
		tree, err := c.gw.FetchDesigners(gctx)
		designersTree = tree
		return err
	})
	if err := g.Wait(); err != nil {
		metrics.IncRefresh("error")
		c.logger.Warn("refresh failed, keeping previous data", "error", err)
		return fmt.Errorf("refresh: %w", err)
	}

	remote := normalize.Campaigns(campaignsTree)
	designers := normalize.Designers(designersTree)

	c.writeMu.Lock()
	if self != nil && c.isCanceled(self) {
		c.writeMu.Unlock()
		return nil
	}

	var next []campaign.Campaign
	var rekeys [][2]string
	var finished []Reconciliation

	if len(remote) == 0 && c.store.Len() > 0 {
		c.logger.Warn("backend returned no campaigns, keeping previous data")
		next = c.store.List()
	} else {
		next, rekeys, finished = c.merge(remote, self)
	}
	designers = c.mergeDesigners(designers)

	for _, rk := range rekeys {
		if err := c.store.Rekey(rk[0], rk[1]); err != nil && !errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("rekey failed", "temp_id", rk[0], "campaign_id", rk[1], "error", err)
		}
	}
	c.store.Replace(next, designers)
	c.writeMu.Unlock()

	for _, rec := range finished {
		c.record(rec)
	}
	metrics.IncRefresh("ok")

	if c.snapshots != nil {
		snap := &storage.Snapshot{Campaigns: next, Designers: designers, SavedAt: c.now().UTC()}
		if err := c.snapshots.SaveSnapshot(snap); err != nil {
			c.logger.Warn("failed to save snapshot", "error", err)
		}
	}
	return nil
}

// merge builds the next store contents from a remote read. It matches
// pending creations to their backend records and keeps local records for
// campaigns whose reconciliation is still in flight. Caller holds writeMu.
func (c *Controller) merge(remote []campaign.Campaign, self *flight) ([]campaign.Campaign, [][2]string, []Reconciliation) {
	local := c.store.List()
	localByID := make(map[string]campaign.Campaign, len(local))
	for _, l := range local {
		localByID[l.ID] = l
	}
	remoteIDs := make(map[string]bool, len(remote))
	for _, r := range remote {
		remoteIDs[r.ID] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var rekeys [][2]string
	var finished []Reconciliation
	var extras []campaign.Campaign
	claimed := make(map[string]bool)

	tempIDs := make([]string, 0, len(c.pending))
	for id := range c.pending {
		tempIDs = append(tempIDs, id)
	}
	sort.Strings(tempIDs)

	for _, tempID := range tempIDs {
		p := c.pending[tempID]

		if remoteIDs[tempID] {
			delete(c.pending, tempID)
			claimed[tempID] = true
			continue
		}

		matched := ""
		for _, r := range remote {
			if _, known := localByID[r.ID]; known || claimed[r.ID] {
				continue
			}
			if fingerprint(r) == p.fingerprint {
				matched = r.ID
				break
			}
		}
		if matched != "" {
			claimed[matched] = true
			delete(c.pending, tempID)
			rekeys = append(rekeys, [2]string{tempID, matched})
			finished = append(finished, c.rekeyLocked(tempID, matched)...)
			c.logger.Info("temporary campaign matched backend record", "temp_id", tempID, "campaign_id", matched)
			continue
		}

		p.misses++
		if p.misses > c.opts.MaxUnmatchedRefreshes && c.inflight[tempID] == nil {
			delete(c.pending, tempID)
			if f, ok := c.latest[tempID]; ok && f.rec.State != StateCanceled {
				f.rec.State = StateTimedOut
				f.rec.Err = "campaign never appeared in backend data"
				f.rec.FinishedAt = c.now()
				finished = append(finished, f.rec)
				metrics.IncReconciliation(f.rec.Action, string(StateTimedOut))
			}
			c.logger.Warn("dropping unconfirmed campaign", "temp_id", tempID, "refreshes", p.misses-1)
			continue
		}
		if l, ok := localByID[tempID]; ok {
			extras = append(extras, l)
		}
	}

	overlay := make(map[string]campaign.Campaign)
	hidden := make(map[string]bool)
	for id, f := range c.inflight {
		if f == self || f.canceled {
			continue
		}
		if f.rec.Action == string(lifecycle.ActionDelete) {
			hidden[id] = true
			continue
		}
		l, ok := localByID[id]
		if !ok && f.rec.TempID != "" {
			l, ok = localByID[f.rec.TempID]
			l.ID = id
		}
		if ok {
			overlay[id] = l
		}
	}

	next := make([]campaign.Campaign, 0, len(extras)+len(remote))
	included := make(map[string]bool)
	for _, e := range extras {
		next = append(next, e)
		included[e.ID] = true
	}
	for _, r := range remote {
		if hidden[r.ID] || included[r.ID] {
			continue
		}
		if l, ok := overlay[r.ID]; ok {
			r = l
		}
		next = append(next, r)
		included[r.ID] = true
	}
	rest := make([]string, 0, len(overlay))
	for id := range overlay {
		if !included[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	for _, id := range rest {
		next = append(next, overlay[id])
	}

	return next, rekeys, finished
}

// mergeDesigners keeps locally added designers until the backend lists
// them, and falls back to the configured list when the backend has none.
func (c *Controller) mergeDesigners(remote []campaign.Designer) []campaign.Designer {
	c.mu.Lock()
	defer c.mu.Unlock()

	emails := make(map[string]bool, len(remote))
	for _, d := range remote {
		emails[strings.ToLower(d.Email)] = true
	}

	kept := c.designers[:0]
	out := append([]campaign.Designer(nil), remote...)
	for _, a := range c.designers {
		if emails[strings.ToLower(a.designer.Email)] {
			continue
		}
		a.misses++
		if a.misses > c.opts.MaxUnmatchedRefreshes {
			continue
		}
		kept = append(kept, a)
		out = append(out, a.designer)
	}
	c.designers = kept

	if len(out) == 0 {
		out = append(out, c.opts.FallbackDesigners...)
	}
	return out
}

// AddDesigner adds a designer locally and registers it with the backend,
// together with a first-login account. A remote failure is returned as
// advice; the designer stays listed.
func (c *Controller) AddDesigner(ctx context.Context, name, email string) (campaign.Designer, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" {
		return campaign.Designer{}, ErrInvalidDesigner
	}

	d := campaign.Designer{ID: uuid.NewString(), Name: name, Email: email}

	c.writeMu.Lock()
	c.store.AddDesigner(d)
	c.mu.Lock()
	c.designers = append(c.designers, &addedDesigner{designer: d})
	c.mu.Unlock()
	c.writeMu.Unlock()

	ts := c.now().UTC().Format(time.RFC3339)
	var errs []error

	_, err := c.gw.Submit(ctx, gateway.Command{
		Kind: gateway.KindRegisterUser,
		Fields: map[string]any{
			"id":           d.ID,
			"email":        d.Email,
			"name":         d.Name,
			"password":     c.opts.DesignerPassword,
			"role":         "Designer",
			"isFirstLogin": true,
			"createdAt":    ts,
		},
	})
	if err != nil {
		errs = append(errs, err)
	}

	_, err = c.gw.Submit(ctx, gateway.Command{
		Kind: gateway.KindNewDesigner,
		Fields: map[string]any{
			"id":        d.ID,
			"name":      d.Name,
			"email":     d.Email,
			"role":      "Designer",
			"createdAt": ts,
		},
	})
	if err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		c.logger.Warn("designer registration not confirmed", "email", d.Email, "error", errors.Join(errs...))
		return d, errors.Join(errs...)
	}
	c.logger.Info("designer added", "designer_id", d.ID, "email", d.Email)
	return d, nil
}

// acquire reserves the reconciliation slot for a campaign
func (c *Controller) acquire(ctx context.Context, id, action string) (*flight, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, context.Canceled
		}

		busy, ok := c.inflight[id]
		if !ok {
			fctx, cancel := context.WithCancel(c.ctx)
			f := &flight{
				rec: Reconciliation{
					ID:         uuid.NewString(),
					CampaignID: id,
					Action:     action,
					State:      StatePending,
					StartedAt:  c.now(),
				},
				ctx:    fctx,
				cancel: cancel,
				done:   make(chan struct{}),
			}
			c.inflight[id] = f
			n := len(c.inflight)
			c.mu.Unlock()

			metrics.SetReconciliationsInflight(n)
			return f, nil
		}

		if c.opts.ConflictPolicy != ConflictWait {
			c.mu.Unlock()
			return nil, fmt.Errorf("%w: %s %s", ErrActionInFlight, busy.rec.Action, id)
		}
		done := busy.done
		c.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// abandon releases a slot whose action was rejected before any write
func (c *Controller) abandon(f *flight) {
	c.mu.Lock()
	for id, cur := range c.inflight {
		if cur == f {
			delete(c.inflight, id)
		}
	}
	n := len(c.inflight)
	c.mu.Unlock()

	f.cancel()
	close(f.done)
	metrics.SetReconciliationsInflight(n)
}

func (c *Controller) finish(f *flight, state State, err error) Reconciliation {
	c.mu.Lock()
	f.rec.State = state
	f.rec.FinishedAt = c.now()
	if err != nil {
		f.rec.Err = err.Error()
	}
	for id, cur := range c.inflight {
		if cur == f {
			delete(c.inflight, id)
		}
	}
	c.latest[f.rec.CampaignID] = f
	rec := f.rec
	n := len(c.inflight)
	c.mu.Unlock()

	f.cancel()
	close(f.done)

	metrics.SetReconciliationsInflight(n)
	metrics.IncReconciliation(rec.Action, string(state))
	c.record(rec)
	return rec
}

func (c *Controller) record(rec Reconciliation) {
	if c.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.recorder.Record(ctx, journal.Entry{
		ID:         rec.ID,
		CampaignID: rec.CampaignID,
		TempID:     rec.TempID,
		Action:     rec.Action,
		State:      string(rec.State),
		Attempts:   rec.Attempts,
		Error:      rec.Err,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
	})
	if err != nil {
		c.logger.Warn("failed to journal reconciliation", "reconciliation_id", rec.ID, "error", err)
	}
}

func (c *Controller) snapshot(f *flight) Reconciliation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return f.rec
}

func (c *Controller) campaignID(f *flight) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return f.rec.CampaignID
}

func (c *Controller) isCanceled(f *flight) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return f.canceled
}

// spawn runs fn in a tracked goroutine unless the controller is closing
func (c *Controller) spawn(fn func()) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		fn()
	}()
	return true
}

func (c *Controller) goRefresh() {
	c.spawn(func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.opts.RefreshTimeout)
		defer cancel()
		c.refresh(ctx, nil)
	})
}

// fingerprint identifies a campaign by its creation fields
func fingerprint(c campaign.Campaign) string {
	norm := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	return norm(c.CampaignName) + "\x00" + norm(c.Brief) + "\x00" + norm(c.Deadline)
}
