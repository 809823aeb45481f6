package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reelforge/reelforge/internal/genapi"
	"github.com/reelforge/reelforge/internal/models"
)

var (
	ErrWorkflowBusy        = errors.New("a workflow for this tool is already running")
	ErrWorkflowInvalid     = errors.New("workflow is not valid")
	ErrNothingToDispatch   = errors.New("workflow produces no jobs")
	ErrInsufficientCredits = errors.New("not enough credits")
	ErrAccountSuspended    = errors.New("account is suspended")
)

// CreditStore is the balance surface the dispatcher needs: one atomic deduct
// up front, a refund if nothing started, and the profile for the suspension
// check.
type CreditStore interface {
	GetByID(ctx context.Context, userID string) (*models.Profile, error)
	SpendCredits(ctx context.Context, userID string, amount int) (bool, error)
	RefundCredits(ctx context.Context, userID string, amount int) error
}

type GenerationStore interface {
	Create(ctx context.Context, g *models.Generation) error
	UpdateStatus(ctx context.Context, id string, status models.GenerationStatus, resultURL, errMsg string) error
	CountActive(ctx context.Context, userID, tool string) (int, error)
}

type AuditStore interface {
	Insert(ctx context.Context, entry *models.AuditLogEntry) error
}

// VendorClient is the async generation API: submit a task, then poll it.
type VendorClient interface {
	CreateTask(ctx context.Context, model string, input map[string]any) (string, error)
	TaskStatus(ctx context.Context, taskID string) (genapi.TaskState, error)
}

// correlation maps a generation record to the node it animates and the vendor
// task carrying it. The poller uses it to route status updates back.
type correlation struct {
	NodeID     string
	VendorTask string
}

// CorrelationTable is the in-memory index of in-flight generations. It is
// owned by the dispatcher instance, not a package global, so tests and
// multi-tenant setups each get their own.
type CorrelationTable struct {
	mu      sync.Mutex
	entries map[string]correlation
}

func NewCorrelationTable() *CorrelationTable {
	return &CorrelationTable{entries: map[string]correlation{}}
}

func (t *CorrelationTable) put(genID string, c correlation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[genID] = c
}

func (t *CorrelationTable) remove(genID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, genID)
}

// Lookup returns the node a generation belongs to.
func (t *CorrelationTable) Lookup(genID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.entries[genID]
	return c.NodeID, ok
}

func (t *CorrelationTable) active() map[string]correlation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]correlation, len(t.entries))
	for k, v := range t.entries {
		out[k] = v
	}
	return out
}

// Dispatcher turns a validated graph into vendor tasks. Credits for the whole
// run are deducted once before anything is submitted; if not a single job
// starts, the full amount is refunded.
type Dispatcher struct {
	credits     CreditStore
	generations GenerationStore
	audit       AuditStore
	vendor      VendorClient
	table       *CorrelationTable
	log         *slog.Logger

	delay        time.Duration
	stagger      time.Duration
	pollInterval time.Duration
}

func NewDispatcher(credits CreditStore, generations GenerationStore, audit AuditStore, vendor VendorClient, table *CorrelationTable, log *slog.Logger, delay, stagger, pollInterval time.Duration) *Dispatcher {
	if table == nil {
		table = NewCorrelationTable()
	}
	return &Dispatcher{
		credits:      credits,
		generations:  generations,
		audit:        audit,
		vendor:       vendor,
		table:        table,
		log:          log,
		delay:        delay,
		stagger:      stagger,
		pollInterval: pollInterval,
	}
}

func (d *Dispatcher) Table() *CorrelationTable { return d.table }

// RunResult summarizes a dispatch: the generation ids created and what the
// run cost after any refund.
type RunResult struct {
	GenerationIDs []string
	CreditsSpent  int
}

// Run validates, prices, deducts, and launches the graph for one tool. Only
// one run per user per tool may be in flight at a time.
func (d *Dispatcher) Run(ctx context.Context, userID string, g Graph, tool Tool) (*RunResult, error) {
	profile, err := d.credits.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if profile == nil {
		return nil, fmt.Errorf("profile %s not found", userID)
	}
	if profile.Suspended() {
		return nil, ErrAccountSuspended
	}

	active, err := d.generations.CountActive(ctx, userID, string(tool))
	if err != nil {
		return nil, fmt.Errorf("count active: %w", err)
	}
	if active > 0 {
		return nil, ErrWorkflowBusy
	}

	if res := ValidateWorkflow(g, tool); !res.IsValid {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowInvalid, res.Errors[0])
	}

	jobs := PlanJobs(g, tool)
	if len(jobs) == 0 {
		return nil, ErrNothingToDispatch
	}
	total := 0
	for _, j := range jobs {
		total += j.Credits
	}

	ok, err := d.credits.SpendCredits(ctx, userID, total)
	if err != nil {
		return nil, fmt.Errorf("spend credits: %w", err)
	}
	if !ok {
		return nil, ErrInsufficientCredits
	}

	var started []string
	var failures []error
	switch tool {
	case ToolLipSync, ToolInfiniteTalk:
		started, failures = d.launchSequential(ctx, userID, jobs)
	default:
		started, failures = d.launchParallel(ctx, userID, jobs)
	}

	if len(started) == 0 {
		if err := d.credits.RefundCredits(ctx, userID, total); err != nil {
			d.log.Error("refund after failed dispatch", "user_id", userID, "amount", total, "error", err)
		}
		return nil, fmt.Errorf("no jobs started: %w", errors.Join(failures...))
	}

	d.writeAudit(ctx, userID, tool, total, len(started))
	d.log.Info("workflow dispatched",
		"user_id", userID, "tool", tool,
		"jobs", len(jobs), "started", len(started), "credits", total)

	return &RunResult{GenerationIDs: started, CreditsSpent: total}, nil
}

// launchSequential submits jobs one at a time with a pacing delay: the
// duration-priced tools rate-limit aggressively on the vendor side.
func (d *Dispatcher) launchSequential(ctx context.Context, userID string, jobs []Job) ([]string, []error) {
	var started []string
	var failures []error
	for i, job := range jobs {
		if i > 0 && d.delay > 0 {
			select {
			case <-ctx.Done():
				failures = append(failures, ctx.Err())
				return started, failures
			case <-time.After(d.delay):
			}
		}
		id, err := d.launchJob(ctx, userID, job)
		if err != nil {
			failures = append(failures, err)
			continue
		}
		started = append(started, id)
	}
	return started, failures
}

// launchParallel fans jobs out concurrently with a small stagger between
// goroutine starts.
func (d *Dispatcher) launchParallel(ctx context.Context, userID string, jobs []Job) ([]string, []error) {
	var mu sync.Mutex
	var started []string
	var failures []error
	var wg sync.WaitGroup

	for i, job := range jobs {
		if i > 0 && d.stagger > 0 {
			time.Sleep(d.stagger)
		}
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			id, err := d.launchJob(ctx, userID, job)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			started = append(started, id)
		}(job)
	}
	wg.Wait()
	return started, failures
}

// launchJob records the generation, submits the vendor task, and registers
// the correlation. A submit failure marks the generation failed without
// touching its siblings.
func (d *Dispatcher) launchJob(ctx context.Context, userID string, job Job) (string, error) {
	gen := &models.Generation{
		ID:          uuid.NewString(),
		UserID:      userID,
		Tool:        string(job.Tool),
		NodeID:      job.NodeID,
		Status:      models.GenerationPending,
		CreditsUsed: job.Credits,
	}
	if err := d.generations.Create(ctx, gen); err != nil {
		return "", fmt.Errorf("create generation for node %s: %w", job.NodeID, err)
	}

	taskID, err := d.vendor.CreateTask(ctx, vendorModel(job), vendorInput(job))
	if err != nil {
		if uerr := d.generations.UpdateStatus(ctx, gen.ID, models.GenerationFailed, "", err.Error()); uerr != nil {
			d.log.Error("mark generation failed", "generation_id", gen.ID, "error", uerr)
		}
		return "", fmt.Errorf("submit node %s: %w", job.NodeID, err)
	}

	d.table.put(gen.ID, correlation{NodeID: job.NodeID, VendorTask: taskID})
	if err := d.generations.UpdateStatus(ctx, gen.ID, models.GenerationProcessing, "", ""); err != nil {
		d.log.Error("mark generation processing", "generation_id", gen.ID, "error", err)
	}
	return gen.ID, nil
}

// PollOnce checks every in-flight generation once and finalizes the ones
// whose vendor task reached a terminal state. It returns the number of
// generations still in flight.
func (d *Dispatcher) PollOnce(ctx context.Context) (int, error) {
	entries := d.table.active()
	remaining := len(entries)
	var errs []error
	for genID, c := range entries {
		state, err := d.vendor.TaskStatus(ctx, c.VendorTask)
		if err != nil {
			errs = append(errs, fmt.Errorf("poll task %s: %w", c.VendorTask, err))
			continue
		}
		if !state.Done() {
			continue
		}
		if state.Succeeded() {
			resultURL := ""
			if len(state.ResultURLs) > 0 {
				resultURL = state.ResultURLs[0]
			}
			if err := d.generations.UpdateStatus(ctx, genID, models.GenerationCompleted, resultURL, ""); err != nil {
				errs = append(errs, fmt.Errorf("complete generation %s: %w", genID, err))
				continue
			}
			d.log.Info("generation completed", "generation_id", genID, "node_id", c.NodeID)
		} else {
			msg := state.FailMsg
			if msg == "" {
				msg = "generation failed"
			}
			if err := d.generations.UpdateStatus(ctx, genID, models.GenerationFailed, "", msg); err != nil {
				errs = append(errs, fmt.Errorf("fail generation %s: %w", genID, err))
				continue
			}
			d.log.Warn("generation failed", "generation_id", genID, "node_id", c.NodeID, "fail_code", state.FailCode, "fail_msg", msg)
		}
		d.table.remove(genID)
		remaining--
	}
	return remaining, errors.Join(errs...)
}

// Poll drives PollOnce on an interval until the table drains or the context
// ends. Poll errors are logged and retried on the next tick.
func (d *Dispatcher) Poll(ctx context.Context) error {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			remaining, err := d.PollOnce(ctx)
			if err != nil {
				d.log.Error("poll generations", "error", err)
			}
			if remaining == 0 {
				return nil
			}
		}
	}
}

func (d *Dispatcher) writeAudit(ctx context.Context, userID string, tool Tool, credits, started int) {
	if d.audit == nil {
		return
	}
	entry := &models.AuditLogEntry{
		UserID:  userID,
		Action:  models.AuditWorkflowDispatched,
		Details: fmt.Sprintf(`{"tool":%q,"credits":%d,"jobs":%d}`, tool, credits, started),
	}
	if err := d.audit.Insert(ctx, entry); err != nil {
		d.log.Warn("audit write failed", "user_id", userID, "action", entry.Action, "error", err)
	}
}

// vendorModel maps a job to the vendor's model identifier.
func vendorModel(job Job) string {
	switch job.Tool {
	case ToolSora2:
		if job.ImageURL != "" {
			return "sora-2/image-to-video"
		}
		return "sora-2/text-to-video"
	case ToolVeo3:
		if job.Speed == SpeedQuality {
			return "veo-3/quality"
		}
		return "veo-3/fast"
	case ToolLipSync:
		return "lipsync/pro"
	case ToolInfiniteTalk:
		return "infinite-talk"
	case ToolAvatar:
		return "avatar/pro"
	}
	return string(job.Tool)
}

// vendorInput builds the model input payload for a job.
func vendorInput(job Job) map[string]any {
	input := map[string]any{}
	if job.Prompt != "" {
		input["prompt"] = job.Prompt
	}
	if job.ImageURL != "" {
		input["image_url"] = job.ImageURL
	}
	if job.AudioURL != "" {
		input["audio_url"] = job.AudioURL
	}
	if job.VideoURL != "" {
		input["video_url"] = job.VideoURL
	}
	if job.Duration > 0 {
		input["duration"] = job.Duration
	}
	if job.AspectRatio != "" {
		input["aspect_ratio"] = job.AspectRatio
	}
	return input
}
