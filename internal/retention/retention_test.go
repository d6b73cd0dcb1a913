package retention

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/edgeserve/edgeserve/internal/crypto"
	"github.com/edgeserve/edgeserve/internal/model"
	"github.com/edgeserve/edgeserve/internal/repo"
	"github.com/edgeserve/edgeserve/internal/storage"
)

func testStore(t *testing.T) *repo.Store {
	t.Helper()
	cipher, err := crypto.NewHeaderCipher(make([]byte, 32))
	if err != nil {
		t.Fatalf("new header cipher: %v", err)
	}
	store, closer, err := repo.Open(t.TempDir(), cipher)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { closer.Close() })
	return store
}

func createProject(t *testing.T, store *repo.Store) model.Project {
	t.Helper()
	p := model.Project{
		ID:                   model.NewID(),
		Owner:                "acme",
		Name:                 "site",
		UnauthorizedBehavior: model.UnauthorizedNotFound,
		RequiredRole:         model.RoleViewer,
		StorageQuotaBytes:    1 << 30,
		CreatedAtNs:          time.Now().UnixNano(),
	}
	if err := store.Projects.Create(context.Background(), p); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func createAsset(t *testing.T, store *repo.Store, projectID model.ID, commitSha, branch, publicPath string, size int64, ageDays int) model.Asset {
	t.Helper()
	a := model.Asset{
		ID:          model.NewID(),
		ProjectID:   projectID,
		FileName:    "index.html",
		StorageKey:  "deployments/" + commitSha + publicPath,
		MimeType:    "text/html",
		Size:        size,
		CommitSha:   commitSha,
		Branch:      branch,
		PublicPath:  publicPath,
		CreatedAtNs: time.Now().Add(-time.Duration(ageDays) * 24 * time.Hour).UnixNano(),
	}
	if err := store.Assets.Create(context.Background(), a); err != nil {
		t.Fatalf("create asset: %v", err)
	}
	return a
}

func createRule(t *testing.T, store *repo.Store, rule model.RetentionRule) model.RetentionRule {
	t.Helper()
	if rule.ID == (model.ID{}) {
		rule.ID = model.NewID()
	}
	if err := store.RetentionRules.Create(context.Background(), rule); err != nil {
		t.Fatalf("create retention rule: %v", err)
	}
	return rule
}

// fakeGateway is an in-memory storage.Gateway test double that records
// every Delete/DeletePrefix call instead of touching a filesystem.
type fakeGateway struct {
	mu       sync.Mutex
	deleted  []string
	prefixes []string
}

func (g *fakeGateway) Upload(context.Context, string, io.Reader, int64) error { return nil }
func (g *fakeGateway) Delete(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, key)
	return nil
}
func (g *fakeGateway) DeletePrefix(_ context.Context, prefix string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prefixes = append(g.prefixes, prefix)
	return nil
}
func (g *fakeGateway) Download(context.Context, string) (io.ReadCloser, error) { return nil, nil }
func (g *fakeGateway) GetURL(context.Context, string) (string, error)         { return "", nil }
func (g *fakeGateway) Exists(context.Context, string) (bool, error)           { return false, nil }

var _ storage.Gateway = (*fakeGateway)(nil)

func TestRunTickSkipsRuleNotYetDue(t *testing.T) {
	store := testStore(t)
	project := createProject(t, store)
	createRule(t, store, model.RetentionRule{
		ProjectID:     project.ID,
		Name:          "default",
		RetentionDays: 1,
		Enabled:       true,
		NextRunAtNs:   time.Now().Add(time.Hour).UnixNano(),
	})

	svc := New(store, Config{Gateway: &fakeGateway{}})
	if err := svc.RunTick(context.Background(), time.Now()); err != nil {
		t.Fatalf("run tick: %v", err)
	}
}

func TestRunTickDeletesOldCommitsKeepingMinimum(t *testing.T) {
	store := testStore(t)
	project := createProject(t, store)
	rule := createRule(t, store, model.RetentionRule{
		ProjectID:     project.ID,
		Name:          "default",
		RetentionDays: 7,
		KeepMinimum:   1,
		Enabled:       true,
		NextRunAtNs:   time.Now().Add(-time.Minute).UnixNano(),
	})

	createAsset(t, store, project.ID, "commit-old-1", "main", "/index.html", 100, 30)
	createAsset(t, store, project.ID, "commit-old-2", "main", "/index.html", 200, 20)
	createAsset(t, store, project.ID, "commit-recent", "main", "/index.html", 300, 1)

	gw := &fakeGateway{}
	svc := New(store, Config{Gateway: gw})
	if err := svc.RunTick(context.Background(), time.Now()); err != nil {
		t.Fatalf("run tick: %v", err)
	}

	commits, err := store.Assets.ListDistinctCommits(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("list distinct commits: %v", err)
	}
	// commit-recent is too young to be eligible; KeepMinimum keeps the
	// newest eligible commit (commit-old-2), so only commit-old-1 goes.
	if len(commits) != 2 {
		t.Fatalf("expected commit-old-2 and commit-recent to survive, got %+v", commits)
	}
	for _, c := range commits {
		if c.CommitSha == "commit-old-1" {
			t.Fatalf("expected commit-old-1 to be deleted, got %+v", commits)
		}
	}
	if len(gw.prefixes) != 1 {
		t.Fatalf("expected 1 full-commit prefix delete, got %v", gw.prefixes)
	}

	updated, err := store.RetentionRules.Get(context.Background(), rule.ID)
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	if updated.ExecutionStartedAtNs != nil {
		t.Fatalf("expected execution lock cleared after finish")
	}
	if updated.LastRunAtNs == nil {
		t.Fatalf("expected LastRunAtNs to be set")
	}

	logs, err := store.RetentionLogs.ListByProject(context.Background(), project.ID, 10)
	if err != nil {
		t.Fatalf("list retention logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 audit row, got %d", len(logs))
	}
}

func TestRunTickHonorsBranchExclusion(t *testing.T) {
	store := testStore(t)
	project := createProject(t, store)
	createRule(t, store, model.RetentionRule{
		ProjectID:       project.ID,
		Name:            "default",
		BranchPattern:   "**",
		ExcludeBranches: []string{"release/**"},
		RetentionDays:   1,
		Enabled:         true,
		NextRunAtNs:     time.Now().Add(-time.Minute).UnixNano(),
	})

	createAsset(t, store, project.ID, "commit-main", "main", "/index.html", 100, 10)
	createAsset(t, store, project.ID, "commit-release", "release/v1", "/index.html", 100, 10)

	gw := &fakeGateway{}
	svc := New(store, Config{Gateway: gw})
	if err := svc.RunTick(context.Background(), time.Now()); err != nil {
		t.Fatalf("run tick: %v", err)
	}

	commits, err := store.Assets.ListDistinctCommits(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("list distinct commits: %v", err)
	}
	if len(commits) != 1 || commits[0].Branch != "release/v1" {
		t.Fatalf("expected release branch to survive exclusion, got %+v", commits)
	}
}

func TestRunTickKeepsCommitPinnedByAlias(t *testing.T) {
	store := testStore(t)
	project := createProject(t, store)
	createRule(t, store, model.RetentionRule{
		ProjectID:     project.ID,
		Name:          "default",
		RetentionDays: 1,
		KeepWithAlias: true,
		Enabled:       true,
		NextRunAtNs:   time.Now().Add(-time.Minute).UnixNano(),
	})

	createAsset(t, store, project.ID, "commit-pinned", "main", "/index.html", 100, 30)
	createAsset(t, store, project.ID, "commit-gone", "main", "/index.html", 100, 30)

	if err := store.Aliases.Upsert(context.Background(), model.DeploymentAlias{
		ID:          model.NewID(),
		ProjectID:   project.ID,
		Alias:       "main",
		CommitSha:   "commit-pinned",
		DeploymentID: model.NewID(),
		CreatedAtNs: time.Now().UnixNano(),
	}); err != nil {
		t.Fatalf("upsert alias: %v", err)
	}

	gw := &fakeGateway{}
	svc := New(store, Config{Gateway: gw})
	if err := svc.RunTick(context.Background(), time.Now()); err != nil {
		t.Fatalf("run tick: %v", err)
	}

	commits, err := store.Assets.ListDistinctCommits(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("list distinct commits: %v", err)
	}
	if len(commits) != 1 || commits[0].CommitSha != "commit-pinned" {
		t.Fatalf("expected only the aliased commit to survive, got %+v", commits)
	}
}

func TestRunTickPartialPathDeleteKeepsOtherAssets(t *testing.T) {
	store := testStore(t)
	project := createProject(t, store)
	createRule(t, store, model.RetentionRule{
		ProjectID:     project.ID,
		Name:          "default",
		RetentionDays: 1,
		PathMode:      model.PathModeInclude,
		PathPatterns:  []string{"/tmp/*"},
		Enabled:       true,
		NextRunAtNs:   time.Now().Add(-time.Minute).UnixNano(),
	})

	createAsset(t, store, project.ID, "commit-1", "main", "/tmp/scratch.json", 50, 10)
	keep := createAsset(t, store, project.ID, "commit-1", "main", "/index.html", 50, 10)

	gw := &fakeGateway{}
	svc := New(store, Config{Gateway: gw})
	if err := svc.RunTick(context.Background(), time.Now()); err != nil {
		t.Fatalf("run tick: %v", err)
	}

	assets, err := store.Assets.ListByCommit(context.Background(), project.ID, "commit-1")
	if err != nil {
		t.Fatalf("list by commit: %v", err)
	}
	if len(assets) != 1 || assets[0].ID != keep.ID {
		t.Fatalf("expected only index.html to survive partial delete, got %+v", assets)
	}
	if len(gw.prefixes) != 0 {
		t.Fatalf("expected no whole-commit prefix delete for a partial match, got %v", gw.prefixes)
	}
	if len(gw.deleted) != 1 {
		t.Fatalf("expected exactly one per-key delete, got %v", gw.deleted)
	}
}

func TestRunTickDryRunMakesNoChanges(t *testing.T) {
	store := testStore(t)
	project := createProject(t, store)
	createRule(t, store, model.RetentionRule{
		ProjectID:     project.ID,
		Name:          "default",
		RetentionDays: 1,
		Enabled:       true,
		NextRunAtNs:   time.Now().Add(-time.Minute).UnixNano(),
	})
	createAsset(t, store, project.ID, "commit-old", "main", "/index.html", 100, 10)

	gw := &fakeGateway{}
	svc := New(store, Config{Gateway: gw, DryRun: true})
	if err := svc.RunTick(context.Background(), time.Now()); err != nil {
		t.Fatalf("run tick: %v", err)
	}

	commits, err := store.Assets.ListDistinctCommits(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("list distinct commits: %v", err)
	}
	if len(commits) != 1 {
		t.Fatalf("expected dry-run to leave commit in place, got %+v", commits)
	}
	if len(gw.deleted) != 0 || len(gw.prefixes) != 0 {
		t.Fatalf("expected dry-run to make no storage calls")
	}

	rule, err := store.RetentionRules.ListByProject(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("list rules: %v", err)
	}
	if len(rule) != 1 || rule[0].LastRunSummary == "" {
		t.Fatalf("expected summary to still be recorded for a dry run")
	}
}

func TestRunTickReportsFreedBytesToUsageReporter(t *testing.T) {
	store := testStore(t)
	project := createProject(t, store)
	createRule(t, store, model.RetentionRule{
		ProjectID:     project.ID,
		Name:          "default",
		RetentionDays: 1,
		Enabled:       true,
		NextRunAtNs:   time.Now().Add(-time.Minute).UnixNano(),
	})
	createAsset(t, store, project.ID, "commit-old", "main", "/index.html", 777, 10)

	reporter := &recordingUsageReporter{}
	svc := New(store, Config{Gateway: &fakeGateway{}, Usage: reporter})
	if err := svc.RunTick(context.Background(), time.Now()); err != nil {
		t.Fatalf("run tick: %v", err)
	}
	if reporter.bytes != 777 {
		t.Fatalf("expected 777 bytes reported freed, got %d", reporter.bytes)
	}
	if reporter.projectID != project.ID {
		t.Fatalf("expected report for the swept project")
	}
}

type recordingUsageReporter struct {
	projectID model.ID
	bytes     int64
}

func (r *recordingUsageReporter) ReportFreedBytes(projectID model.ID, bytes int64) {
	r.projectID = projectID
	r.bytes = bytes
}

func TestRunTickDeletesAutoPreviewAliasesOnDeletedCommit(t *testing.T) {
	store := testStore(t)
	project := createProject(t, store)
	createRule(t, store, model.RetentionRule{
		ProjectID:     project.ID,
		Name:          "default",
		RetentionDays: 1,
		Enabled:       true,
		NextRunAtNs:   time.Now().Add(-time.Minute).UnixNano(),
	})

	createAsset(t, store, project.ID, "commit-gone", "main", "/index.html", 100, 30)

	preview := model.DeploymentAlias{
		ID:            model.NewID(),
		ProjectID:     project.ID,
		Alias:         "preview-pr-7",
		CommitSha:     "commit-gone",
		DeploymentID:  model.NewID(),
		IsAutoPreview: true,
		CreatedAtNs:   time.Now().UnixNano(),
	}
	if err := store.Aliases.Upsert(context.Background(), preview); err != nil {
		t.Fatalf("upsert preview alias: %v", err)
	}

	gw := &fakeGateway{}
	svc := New(store, Config{Gateway: gw})
	if err := svc.RunTick(context.Background(), time.Now()); err != nil {
		t.Fatalf("run tick: %v", err)
	}

	if _, err := store.Aliases.Get(context.Background(), preview.ID); err == nil {
		t.Fatal("expected auto-preview alias on the deleted commit to be removed")
	}
}

func TestRunTickKeepsNonPreviewAliasOnSurvivingCommit(t *testing.T) {
	store := testStore(t)
	project := createProject(t, store)
	createRule(t, store, model.RetentionRule{
		ProjectID:     project.ID,
		Name:          "default",
		RetentionDays: 1,
		KeepWithAlias: true,
		Enabled:       true,
		NextRunAtNs:   time.Now().Add(-time.Minute).UnixNano(),
	})

	createAsset(t, store, project.ID, "commit-pinned", "main", "/index.html", 100, 30)

	production := model.DeploymentAlias{
		ID:           model.NewID(),
		ProjectID:    project.ID,
		Alias:        "production",
		CommitSha:    "commit-pinned",
		DeploymentID: model.NewID(),
		CreatedAtNs:  time.Now().UnixNano(),
	}
	if err := store.Aliases.Upsert(context.Background(), production); err != nil {
		t.Fatalf("upsert production alias: %v", err)
	}

	gw := &fakeGateway{}
	svc := New(store, Config{Gateway: gw})
	if err := svc.RunTick(context.Background(), time.Now()); err != nil {
		t.Fatalf("run tick: %v", err)
	}

	if _, err := store.Aliases.Get(context.Background(), production.ID); err != nil {
		t.Fatalf("expected pinned alias to survive (its commit was never deleted): %v", err)
	}
}

func TestTryClaimPreventsDoubleExecution(t *testing.T) {
	store := testStore(t)
	project := createProject(t, store)
	rule := createRule(t, store, model.RetentionRule{
		ProjectID:     project.ID,
		Name:          "default",
		RetentionDays: 1,
		Enabled:       true,
		NextRunAtNs:   time.Now().Add(-time.Minute).UnixNano(),
	})

	now := time.Now().UnixNano()
	claimed, err := store.RetentionRules.TryClaim(context.Background(), rule.ID, now)
	if err != nil {
		t.Fatalf("try claim: %v", err)
	}
	if !claimed {
		t.Fatalf("expected first claim to succeed")
	}

	claimedAgain, err := store.RetentionRules.TryClaim(context.Background(), rule.ID, now)
	if err != nil {
		t.Fatalf("try claim again: %v", err)
	}
	if claimedAgain {
		t.Fatalf("expected second claim on a locked rule to fail")
	}
}
