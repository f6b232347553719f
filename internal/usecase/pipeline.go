package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"DigestCurator/internal/domain"
	"DigestCurator/internal/metrics"
	"DigestCurator/internal/ports"
)

// LastIngestMarker is the settings key holding the last successful ingest time.
const LastIngestMarker = "last_ingest_at"

// PipelineSettings tunes the delivery cycle.
type PipelineSettings struct {
	Lookback       time.Duration
	IngestCooldown time.Duration
	SendLimit      int
	UserDelay      time.Duration
}

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Store       ports.HealthChecker
	Runs        ports.RunRepository
	Markers     ports.MarkerStore
	Digests     ports.DigestRepository
	Users       ports.UserRepository
	Ledger      ports.Ledger
	Ranker      ports.Ranker
	Mailer      ports.Mailer
	Notifier    ports.Notifier
	Ingest      ports.Stage
	Enrich      ports.Stage
	Transcripts ports.Stage
	Summarize   ports.Stage
	Settings    PipelineSettings
	Logger      *slog.Logger
	Now         func() time.Time
	Sleep       func(ctx context.Context, d time.Duration) error
}

// RunOptions alters a single cycle.
type RunOptions struct {
	ForceIngest bool
}

// Pipeline implements the INIT → INGEST → ENRICH → SUMMARIZE → PERSONALIZE cycle.
type Pipeline struct {
	store       ports.HealthChecker
	runs        ports.RunRepository
	markers     ports.MarkerStore
	digests     ports.DigestRepository
	users       ports.UserRepository
	ledger      ports.Ledger
	ranker      ports.Ranker
	mailer      ports.Mailer
	notifier    ports.Notifier
	ingest      ports.Stage
	enrich      ports.Stage
	transcripts ports.Stage
	summarize   ports.Stage
	settings    PipelineSettings
	logger      *slog.Logger
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	p := &Pipeline{
		store:       deps.Store,
		runs:        deps.Runs,
		markers:     deps.Markers,
		digests:     deps.Digests,
		users:       deps.Users,
		ledger:      deps.Ledger,
		ranker:      deps.Ranker,
		mailer:      deps.Mailer,
		notifier:    deps.Notifier,
		ingest:      deps.Ingest,
		enrich:      deps.Enrich,
		transcripts: deps.Transcripts,
		summarize:   deps.Summarize,
		settings:    deps.Settings,
		logger:      deps.Logger,
		now:         deps.Now,
		sleep:       deps.Sleep,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.sleep == nil {
		p.sleep = sleepContext
	}
	if p.settings.SendLimit <= 0 {
		p.settings.SendLimit = 10
	}
	if p.settings.Lookback <= 0 {
		p.settings.Lookback = 24 * time.Hour
	}
	return p
}

// Run executes one cycle and returns the finalized run snapshot. The error is
// non-nil only when the cycle ended FAILED.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (domain.PipelineRun, error) {
	c := &cycle{
		p:       p,
		started: p.now(),
		stage:   domain.StageInit,
		logger:  p.logger,
	}
	c.logText.WriteString("Pipeline started...")

	err := c.execute(ctx, opts)
	return c.finish(context.WithoutCancel(ctx), err), err
}

// cycle holds the state of one Run invocation.
type cycle struct {
	p       *Pipeline
	runID   string
	started time.Time
	stage   domain.Stage
	result  domain.RunResult
	logText strings.Builder
	logger  *slog.Logger
}

func (c *cycle) execute(ctx context.Context, opts RunOptions) error {
	p := c.p
	c.openRun(ctx)

	if p.digests == nil || p.users == nil || p.ledger == nil || p.ranker == nil || p.mailer == nil {
		return errors.New("pipeline misconfigured: digests, users, ledger, ranker and mailer are required")
	}
	if p.store != nil {
		if err := p.store.Ping(ctx); err != nil {
			return fmt.Errorf("datastore unavailable: %w", err)
		}
	}

	c.enter(domain.StageIngest)
	c.runIngest(ctx, opts.ForceIngest)

	c.enter(domain.StageEnrich)
	c.result.Enrich = c.runStage(ctx, "Enrich", p.enrich)
	c.result.Transcripts = c.runStage(ctx, "Transcripts", p.transcripts)

	c.enter(domain.StageSummarize)
	c.result.Summarize = c.runStage(ctx, "Summarize", p.summarize)

	c.enter(domain.StagePersonalize)
	if err := c.personalize(ctx); err != nil {
		return err
	}

	c.enter(domain.StageDone)
	return nil
}

func (c *cycle) openRun(ctx context.Context) {
	if c.p.runs == nil {
		return
	}
	run, err := c.p.runs.CreateRun(ctx, c.started)
	if err != nil {
		c.logger.Warn("could not create pipeline run, continuing without run tracking", "error", err)
		return
	}
	c.runID = run.ID
	c.logger = c.logger.With("run_id", run.ID)
}

func (c *cycle) enter(stage domain.Stage) {
	c.stage = stage
	c.logger.Debug("entering stage", "stage", stage)
}

// note appends a line to the run log, in memory and in the datastore.
func (c *cycle) note(ctx context.Context, format string, args ...any) {
	entry := fmt.Sprintf(format, args...)
	at := c.p.now()
	fmt.Fprintf(&c.logText, "\n[%s] %s", at.Format("15:04:05"), entry)
	c.logger.Info(entry, "stage", c.stage)

	if c.runID == "" {
		return
	}
	if err := c.p.runs.AppendRunLog(ctx, c.runID, entry, at); err != nil {
		c.logger.Warn("append run log failed", "error", err)
	}
}

func (c *cycle) runIngest(ctx context.Context, force bool) {
	p := c.p
	if p.ingest == nil {
		c.result.Ingest = domain.StageReport{Skipped: true}
		return
	}

	if !force && p.markers != nil && p.settings.IngestCooldown > 0 {
		last, ok, err := p.markers.Marker(ctx, LastIngestMarker)
		switch {
		case err != nil:
			c.logger.Warn("read ingest marker failed", "error", err)
		case ok && c.started.Sub(last) < p.settings.IngestCooldown:
			c.result.Ingest = domain.StageReport{Skipped: true}
			c.note(ctx, "Ingest skipped: last ingest %s ago is within the %s cooldown",
				c.started.Sub(last).Round(time.Second), p.settings.IngestCooldown)
			return
		}
	}

	report, err := p.ingest.Process(ctx)
	c.result.Ingest = report
	if err != nil {
		c.note(ctx, "Ingest failed: %v", err)
		return
	}

	if p.markers != nil {
		if err := p.markers.SetMarker(ctx, LastIngestMarker, p.now()); err != nil {
			c.logger.Warn("write ingest marker failed", "error", err)
		}
	}
	c.note(ctx, "Ingest complete: %d new of %d fetched", report.Processed, report.Total)
}

func (c *cycle) runStage(ctx context.Context, name string, stage ports.Stage) domain.StageReport {
	if stage == nil {
		return domain.StageReport{Skipped: true}
	}
	report, err := stage.Process(ctx)
	if err != nil {
		c.note(ctx, "%s failed: %v", name, err)
		return report
	}
	if report.Unavailable > 0 {
		c.note(ctx, "%s complete: %d processed (%d unavailable), %d failed, %d total",
			name, report.Processed, report.Unavailable, report.Failed, report.Total)
		return report
	}
	c.note(ctx, "%s complete: %d processed, %d failed, %d total", name, report.Processed, report.Failed, report.Total)
	return report
}

func (c *cycle) personalize(ctx context.Context) error {
	p := c.p

	digests, err := p.digests.RecentDigests(ctx, c.started.Add(-p.settings.Lookback), false)
	if err != nil {
		return fmt.Errorf("load recent digests: %w", err)
	}
	users, err := p.users.ActiveUsers(ctx)
	if err != nil {
		return fmt.Errorf("load active users: %w", err)
	}
	c.note(ctx, "Personalizing %d recent digests for %d active users", len(digests), len(users))

	for i, u := range users {
		outcome := c.processUser(ctx, u, digests)
		c.result.Users = append(c.result.Users, outcome)
		c.result.UsersProcessed++
		metrics.UsersProcessed.Inc()

		if c.runID != "" {
			if err := p.runs.SetUsersProcessed(ctx, c.runID, c.result.UsersProcessed); err != nil {
				c.logger.Warn("update users processed failed", "error", err)
			}
		}
		c.note(ctx, "%s", describeOutcome(u, outcome))

		if i < len(users)-1 && p.settings.UserDelay > 0 {
			if err := p.sleep(ctx, p.settings.UserDelay); err != nil {
				return fmt.Errorf("inter-user delay interrupted: %w", err)
			}
		}
	}
	return nil
}

// processUser isolates one user: errors and panics end up in the outcome.
func (c *cycle) processUser(ctx context.Context, u domain.User, digests []domain.Digest) (outcome domain.UserOutcome) {
	outcome.UserID = u.ID
	defer func() {
		if r := recover(); r != nil {
			outcome.Error = fmt.Sprintf("panic: %v", r)
			c.logger.Error("user processing panicked", "user_id", u.ID, "email", u.Email, "panic", r)
		}
	}()

	if err := c.handleUser(ctx, u, digests, &outcome); err != nil {
		outcome.Error = err.Error()
		c.logger.Error("user processing failed", "user_id", u.ID, "email", u.Email, "error", err)
	}
	return outcome
}

func (c *cycle) handleUser(ctx context.Context, u domain.User, digests []domain.Digest, outcome *domain.UserOutcome) error {
	p := c.p

	user, err := p.users.GetUser(ctx, u.ID)
	if err != nil {
		return fmt.Errorf("refresh user: %w", err)
	}
	if !user.Active {
		outcome.Skipped = "inactive"
		return nil
	}

	if user.NeedsAdminWelcome() {
		c.sendAdminWelcome(ctx, user)
	}

	existing, err := p.ledger.ExistingFor(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("load existing recommendations: %w", err)
	}
	unseen := make([]domain.Digest, 0, len(digests))
	for _, d := range digests {
		if _, ok := existing[d.ID]; !ok {
			unseen = append(unseen, d)
		}
	}
	outcome.Candidates = len(unseen)
	if len(unseen) == 0 {
		outcome.Skipped = "no unseen digests"
		return nil
	}

	profile := user.Profile()
	ranked, err := p.ranker.Rank(ctx, unseen, profile)
	if err != nil {
		return fmt.Errorf("rank digests: %w", err)
	}
	outcome.Ranked = len(ranked)
	if len(ranked) == 0 {
		outcome.Skipped = "nothing relevant"
		return nil
	}

	top := ranked
	if len(top) > p.settings.SendLimit {
		top = top[:p.settings.SendLimit]
	}

	fresh := make([]domain.RankedItem, 0, len(top))
	for _, item := range top {
		_, isNew, err := p.ledger.Record(ctx, user.ID, item.Digest.ID, item.Score, item.Rank, item.Reasoning)
		if err != nil {
			if errors.Is(err, domain.ErrDigestNotFound) {
				continue
			}
			return fmt.Errorf("record recommendation: %w", err)
		}
		if isNew {
			fresh = append(fresh, item)
			c.result.Recommendations++
		}
	}
	outcome.Forwarded = len(fresh)
	if len(fresh) == 0 {
		outcome.Skipped = "already recommended"
		return nil
	}

	// Recommendations stay recorded when the send fails, so these items are
	// not offered to the user again.
	res := p.mailer.SendDigest(ctx, user, profile, fresh)
	if !res.Success {
		metrics.Deliveries.WithLabelValues("failed").Inc()
		return fmt.Errorf("deliver digest: %s", res.Error)
	}
	metrics.Deliveries.WithLabelValues("sent").Inc()
	outcome.Delivered = true
	c.result.Deliveries++

	ids := make([]string, len(fresh))
	for i, item := range fresh {
		ids[i] = item.Digest.ID
	}
	if _, err := p.digests.MarkDigestsSent(ctx, ids, p.now()); err != nil {
		c.logger.Warn("mark digests sent failed", "user_id", user.ID, "error", err)
	}
	return nil
}

func (c *cycle) sendAdminWelcome(ctx context.Context, user domain.User) {
	if err := c.p.mailer.SendAdminWelcome(ctx, user); err != nil {
		c.logger.Warn("admin welcome failed", "user_id", user.ID, "error", err)
		return
	}
	if err := c.p.users.MarkAdminWelcomeSent(ctx, user.ID); err != nil {
		c.logger.Warn("flag admin welcome failed", "user_id", user.ID, "error", err)
		return
	}
	c.note(ctx, "Sent admin welcome to %s", user.Email)
}

func (c *cycle) finish(ctx context.Context, runErr error) domain.PipelineRun {
	p := c.p

	status := domain.RunStatusSuccess
	if runErr != nil {
		status = domain.RunStatusFailed
		c.result.FailedStage = c.stage
		c.result.Error = runErr.Error()
		c.note(ctx, "Pipeline FAILED during %s: %v", c.stage, runErr)
		c.stage = domain.StageFailed
	} else {
		c.note(ctx, "Pipeline finished: %d users, %d recommendations, %d deliveries",
			c.result.UsersProcessed, c.result.Recommendations, c.result.Deliveries)
	}

	ended := p.now()
	if c.runID != "" {
		if err := p.runs.FinishRun(ctx, c.runID, status, c.result, ended); err != nil {
			c.logger.Warn("finalize pipeline run failed", "error", err)
		}
	}

	metrics.PipelineRuns.WithLabelValues(string(status)).Inc()
	metrics.RunDuration.Observe(ended.Sub(c.started).Seconds())

	result := c.result
	run := domain.PipelineRun{
		ID:             c.runID,
		Status:         status,
		StartedAt:      c.started,
		EndedAt:        &ended,
		LogSummary:     c.logText.String(),
		UsersProcessed: c.result.UsersProcessed,
		Result:         &result,
	}

	if p.notifier != nil {
		if err := p.notifier.PublishRunSummary(ctx, FormatRunSummary(run)); err != nil {
			c.logger.Warn("publish run summary failed", "error", err)
		}
	}
	return run
}

func describeOutcome(u domain.User, o domain.UserOutcome) string {
	switch {
	case o.Error != "":
		return fmt.Sprintf("User %s failed: %s", u.Email, o.Error)
	case o.Delivered:
		return fmt.Sprintf("User %s: sent %d new items", u.Email, o.Forwarded)
	default:
		return fmt.Sprintf("User %s: skipped (%s)", u.Email, o.Skipped)
	}
}

// FormatRunSummary renders a short operator-facing report of a finished run.
func FormatRunSummary(run domain.PipelineRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Digest pipeline %s\n", run.Status)
	if run.EndedAt != nil {
		fmt.Fprintf(&b, "Duration: %s\n", run.EndedAt.Sub(run.StartedAt).Round(time.Second))
	}
	if r := run.Result; r != nil {
		fmt.Fprintf(&b, "Ingest: %s\n", formatReport(r.Ingest))
		fmt.Fprintf(&b, "Enrich: %s\n", formatReport(r.Enrich))
		fmt.Fprintf(&b, "Transcripts: %s\n", formatReport(r.Transcripts))
		fmt.Fprintf(&b, "Summarize: %s\n", formatReport(r.Summarize))
		fmt.Fprintf(&b, "Users: %d, recommendations: %d, deliveries: %d", r.UsersProcessed, r.Recommendations, r.Deliveries)
		if r.Error != "" {
			fmt.Fprintf(&b, "\nError (%s): %s", r.FailedStage, r.Error)
		}
	}
	return b.String()
}

func formatReport(r domain.StageReport) string {
	if r.Skipped {
		return "skipped"
	}
	if r.Unavailable > 0 {
		return fmt.Sprintf("%d/%d ok (%d unavailable), %d failed", r.Processed, r.Total, r.Unavailable, r.Failed)
	}
	return fmt.Sprintf("%d/%d ok, %d failed", r.Processed, r.Total, r.Failed)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
