// Package retention implements the daily retention sweep (§4.J): for
// every enabled RetentionRule whose NextRunAtNs has passed, select
// eligible commits by branch/path pattern and age, keep the minimum
// number and anything pinned by a live alias, and delete the rest.
package retention

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/edgeserve/edgeserve/internal/glob"
	"github.com/edgeserve/edgeserve/internal/model"
	"github.com/edgeserve/edgeserve/internal/repo"
	"github.com/edgeserve/edgeserve/internal/storage"
)

// Schedule is the cron expression the daily tick runs on, grounded on
// the teacher's geoip.Service default update schedule shape (a single
// AddFunc-registered expression).
const Schedule = "0 3 * * *"

// UsageReporter is notified, fire and forget, of bytes a retention run
// freed for a project. An external collaborator; not implemented here
// beyond the interface and NoOpUsageReporter.
type UsageReporter interface {
	ReportFreedBytes(projectID model.ID, bytes int64)
}

// NoOpUsageReporter discards usage reports.
type NoOpUsageReporter struct{}

func (NoOpUsageReporter) ReportFreedBytes(model.ID, int64) {}

// Service runs the retention sweep on a cron schedule.
type Service struct {
	store    *repo.Store
	gateway  storage.Gateway
	usage    UsageReporter
	dryRun   bool
	logger   *slog.Logger
	cron     *cron.Cron
	cronID   cron.EntryID
}

// Config configures a retention Service.
type Config struct {
	Gateway storage.Gateway
	Usage   UsageReporter // defaults to NoOpUsageReporter
	DryRun  bool
	Logger  *slog.Logger
}

// New builds a retention Service backed by store. Call Start to register
// the cron schedule and Stop to tear it down.
func New(store *repo.Store, cfg Config) *Service {
	if cfg.Usage == nil {
		cfg.Usage = NoOpUsageReporter{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		store:   store,
		gateway: cfg.Gateway,
		usage:   cfg.Usage,
		dryRun:  cfg.DryRun,
		logger:  cfg.Logger,
		cron:    cron.New(),
	}
}

// Start registers the daily tick and starts the cron scheduler.
func (s *Service) Start() error {
	id, err := s.cron.AddFunc(Schedule, func() {
		if err := s.RunTick(context.Background(), time.Now()); err != nil {
			s.logger.Error("retention tick failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	s.cronID = id
	s.cron.Start()
	return nil
}

// Stop waits for any in-flight tick to finish and stops the scheduler.
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
}

// RunTick evaluates every due rule and runs it. Errors running one rule
// do not prevent the others from running; the first error (if any) is
// returned after every due rule has been attempted.
func (s *Service) RunTick(ctx context.Context, now time.Time) error {
	rules, err := s.store.RetentionRules.DueForRun(ctx, now.UnixNano())
	if err != nil {
		return err
	}
	var firstErr error
	for _, rule := range rules {
		if err := s.runRule(ctx, rule, now); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Service) runRule(ctx context.Context, rule model.RetentionRule, now time.Time) error {
	claimed, err := s.store.RetentionRules.TryClaim(ctx, rule.ID, now.UnixNano())
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	summary, runErr := s.sweepRule(ctx, rule, now)
	if runErr != nil {
		summary.Errors = append(summary.Errors, runErr.Error())
	}
	summary.DryRun = s.dryRun
	summary.FinishedAtNs = now.UnixNano()

	nextRun := now.Add(24 * time.Hour).UnixNano()
	if err := s.store.RetentionRules.FinishRun(ctx, rule.ID, now.UnixNano(), nextRun, summary); err != nil {
		return err
	}
	if summary.BytesFreed > 0 {
		s.usage.ReportFreedBytes(rule.ProjectID, summary.BytesFreed)
	}
	return runErr
}

// sweepRule selects eligible commits for rule and deletes the ones
// outside the retention window, honoring KeepMinimum and KeepWithAlias.
func (s *Service) sweepRule(ctx context.Context, rule model.RetentionRule, now time.Time) (model.RetentionSummary, error) {
	var summary model.RetentionSummary

	project, err := s.store.Projects.Get(ctx, rule.ProjectID)
	if err != nil {
		return summary, err
	}

	commits, err := s.store.Assets.ListDistinctCommits(ctx, rule.ProjectID)
	if err != nil {
		return summary, err
	}

	pinned, err := pinnedCommits(ctx, s.store, rule.ProjectID, rule.KeepWithAlias)
	if err != nil {
		return summary, err
	}

	eligible := selectEligible(rule, commits, now)
	// Newest first, so KeepMinimum retains the most recent commits.
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].CreatedAtNs > eligible[j].CreatedAtNs })

	toDelete := eligible
	if rule.KeepMinimum > 0 && len(toDelete) > rule.KeepMinimum {
		toDelete = toDelete[rule.KeepMinimum:]
	} else if rule.KeepMinimum > 0 {
		toDelete = nil
	}

	for _, c := range toDelete {
		if pinned[c.CommitSha] {
			continue
		}
		if err := s.deleteCommit(ctx, project, rule, c, &summary); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

// selectEligible returns the commits older than rule.RetentionDays whose
// branch matches rule.BranchPattern (and none of ExcludeBranches), per
// rule.PathMode's path filter semantics applied at delete time.
func selectEligible(rule model.RetentionRule, commits []repo.CommitSummary, now time.Time) []repo.CommitSummary {
	cutoff := now.Add(-time.Duration(rule.RetentionDays) * 24 * time.Hour).UnixNano()
	branchPattern := glob.Compile(rule.BranchPattern)
	excludes := make([]glob.Pattern, 0, len(rule.ExcludeBranches))
	for _, p := range rule.ExcludeBranches {
		excludes = append(excludes, glob.Compile(p))
	}

	var out []repo.CommitSummary
	for _, c := range commits {
		if c.CreatedAtNs > cutoff {
			continue
		}
		if rule.BranchPattern != "" && !glob.MatchBranch(branchPattern, c.Branch) {
			continue
		}
		excluded := false
		for _, ex := range excludes {
			if glob.MatchBranch(ex, c.Branch) {
				excluded = true
				break
			}
		}
		if excluded {
			continue
		}
		out = append(out, c)
	}
	return out
}

// pinnedCommits returns the set of commit SHAs currently pointed to by a
// live non-auto-preview alias in the project, when keepWithAlias is set.
// These commits are never deleted regardless of age, so a production
// alias never loses its backing assets out from under it. Auto-preview
// aliases do not pin their commit.
func pinnedCommits(ctx context.Context, store *repo.Store, projectID model.ID, keepWithAlias bool) (map[string]bool, error) {
	pinned := map[string]bool{}
	if !keepWithAlias {
		return pinned, nil
	}
	aliases, err := store.Aliases.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, a := range aliases {
		if a.IsAutoPreview {
			continue
		}
		pinned[a.CommitSha] = true
	}
	return pinned, nil
}

// deleteCommit deletes one commit's assets (full, unless rule.PathMode
// restricts the delete to a subset of the commit's files), its storage
// objects, and writes the audit log row.
func (s *Service) deleteCommit(ctx context.Context, project model.Project, rule model.RetentionRule, c repo.CommitSummary, summary *model.RetentionSummary) error {
	assets, err := s.store.Assets.ListByCommit(ctx, rule.ProjectID, c.CommitSha)
	if err != nil {
		return err
	}

	toDelete, partial := filterByPath(rule, assets)

	var freed int64
	var keys []string
	ids := make([]model.ID, 0, len(toDelete))
	for _, a := range toDelete {
		freed += a.Size
		keys = append(keys, a.StorageKey)
		ids = append(ids, a.ID)
	}

	if s.dryRun {
		summary.CommitsDeleted++
		summary.AssetsDeleted += len(toDelete)
		summary.BytesFreed += freed
		return nil
	}

	if s.gateway != nil {
		if !partial {
			if err := s.gateway.DeletePrefix(ctx, storage.CommitPrefix(project.Owner, project.Name, c.CommitSha)); err != nil {
				return err
			}
		} else {
			for _, key := range keys {
				if err := s.gateway.Delete(ctx, key); err != nil {
					return err
				}
			}
		}
	}

	if partial {
		if err := s.store.Assets.DeleteByIDs(ctx, ids); err != nil {
			return err
		}
	} else {
		if err := s.store.Assets.DeleteByCommit(ctx, rule.ProjectID, c.CommitSha); err != nil {
			return err
		}
		if err := s.store.Aliases.DeleteByCommit(ctx, rule.ProjectID, c.CommitSha); err != nil {
			return err
		}
	}

	if err := s.store.RetentionLogs.Create(ctx, model.RetentionLog{
		ID:          model.NewID(),
		ProjectID:   rule.ProjectID,
		RuleID:      &rule.ID,
		CommitSha:   c.CommitSha,
		Branch:      c.Branch,
		AssetCount:  len(toDelete),
		FreedBytes:  freed,
		IsPartial:   partial,
		DeletedAtNs: time.Now().UnixNano(),
	}); err != nil {
		return err
	}

	summary.CommitsDeleted++
	summary.AssetsDeleted += len(toDelete)
	summary.BytesFreed += freed
	return nil
}

// filterByPath applies rule.PathMode/PathPatterns to assets, returning
// the subset to delete and whether the result is a partial (not
// whole-commit) deletion.
func filterByPath(rule model.RetentionRule, assets []model.Asset) ([]model.Asset, bool) {
	if rule.PathMode == model.PathModeNone || len(rule.PathPatterns) == 0 {
		return assets, false
	}

	patterns := make([]glob.Pattern, 0, len(rule.PathPatterns))
	for _, p := range rule.PathPatterns {
		patterns = append(patterns, glob.Compile(p))
	}

	matches := func(publicPath string) bool {
		for _, p := range patterns {
			if p.Match(publicPath) {
				return true
			}
		}
		return false
	}

	var out []model.Asset
	for _, a := range assets {
		hit := matches(a.PublicPath)
		if rule.PathMode == model.PathModeInclude && hit {
			out = append(out, a)
		}
		if rule.PathMode == model.PathModeExclude && !hit {
			out = append(out, a)
		}
	}
	return out, len(out) != len(assets)
}
