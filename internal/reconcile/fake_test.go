package reconcile

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/foxzi/reviewdesk/internal/campaign"
	"github.com/foxzi/reviewdesk/internal/gateway"
	"github.com/foxzi/reviewdesk/internal/journal"
	"github.com/foxzi/reviewdesk/internal/storage"
	"github.com/foxzi/reviewdesk/internal/store"
)

// fakeGateway serves campaign rows from memory and records commands
type fakeGateway struct {
	mu         sync.Mutex
	rows       []any
	designers  []any
	fetchErr   error
	submitErr  error
	submitID   string
	submits    []gateway.Command
	fetches    int
	syncs      int
	onFetch    func(n int)
	submitHold chan struct{}
}

func (g *fakeGateway) FetchCampaigns(ctx context.Context) (any, error) {
	g.mu.Lock()
	g.fetches++
	n := g.fetches
	hook := g.onFetch
	g.mu.Unlock()

	if hook != nil {
		hook(n)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	return map[string]any{"data": append([]any(nil), g.rows...)}, nil
}

func (g *fakeGateway) FetchDesigners(ctx context.Context) (any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	return append([]any(nil), g.designers...), nil
}

func (g *fakeGateway) FetchUsers(ctx context.Context, email string) (any, error) {
	return nil, nil
}

func (g *fakeGateway) Submit(ctx context.Context, cmd gateway.Command) (*gateway.CommandResult, error) {
	g.mu.Lock()
	hold := g.submitHold
	g.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.submits = append(g.submits, cmd)
	if g.submitErr != nil {
		return nil, g.submitErr
	}
	return &gateway.CommandResult{StatusCode: 200, ID: g.submitID}, nil
}

func (g *fakeGateway) GenerateCaption(ctx context.Context, req gateway.CaptionRequest) (any, error) {
	return nil, nil
}

func (g *fakeGateway) TriggerSync(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.syncs++
	return nil
}

func (g *fakeGateway) setRows(rows ...any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rows = rows
}

func (g *fakeGateway) setFetchErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchErr = err
}

func (g *fakeGateway) fetchCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fetches
}

func (g *fakeGateway) commands() []gateway.Command {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.Command(nil), g.submits...)
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries map[string]journal.Entry
}

func (r *fakeRecorder) Record(ctx context.Context, e journal.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries == nil {
		r.entries = make(map[string]journal.Entry)
	}
	r.entries[e.ID] = e
	return nil
}

func (r *fakeRecorder) get(id string) (journal.Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

type fakeSnapshots struct {
	mu    sync.Mutex
	saved []*storage.Snapshot
}

func (s *fakeSnapshots) SaveSnapshot(snap *storage.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, snap)
	return nil
}

func row(id, name, status string, extra ...string) map[string]any {
	r := map[string]any{"Unique ID": id, "Campaign": name, "Status": status}
	for i := 0; i+1 < len(extra); i += 2 {
		r[extra[i]] = extra[i+1]
	}
	return r
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastOptions() Options {
	return Options{
		PollInterval:          5 * time.Millisecond,
		PollAttempts:          5,
		ConflictPolicy:        ConflictReject,
		MaxUnmatchedRefreshes: 3,
		RefreshTimeout:        time.Second,
	}
}

func newTestController(t *testing.T, gw *fakeGateway, opts Options, seed ...campaign.Campaign) (*Controller, *store.Store) {
	t.Helper()
	st := store.New()
	st.Replace(seed, nil)
	ctrl := New(gw, st, nil, nil, opts, testLogger())
	t.Cleanup(ctrl.Close)
	return ctrl, st
}

func waitDone(t *testing.T, ctrl *Controller, id string) Reconciliation {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rec, ok := ctrl.Reconciliation(id); ok && rec.State.Done() {
			return rec
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("reconciliation for %s did not finish", id)
	return Reconciliation{}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func uploaded(id string) campaign.Campaign {
	link := "https://cdn.example.com/" + id + ".png"
	thumb := "https://cdn.example.com/" + id + "-thumb.png"
	return campaign.Campaign{ID: id, CampaignName: "Campaign " + id, Status: campaign.StatusDesignUploaded, DesignURL: &link, ThumbnailURL: &thumb}
}

func fresh(id string) campaign.Campaign {
	return campaign.Campaign{ID: id, CampaignName: "Campaign " + id, Status: campaign.StatusNew}
}
