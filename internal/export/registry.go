package export

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

	"github.com/ivlev/animexport/internal/logging"
)

// ErrClosed is returned by CreateJob after Close.
var ErrClosed = errors.New("export registry closed")

// Options configure a Registry.
type Options struct {
	// MaxConcurrentJobs defaults to 1.
	MaxConcurrentJobs int
	// PollInterval bounds how long the queue waits for a free slot between
	// wake-ups. Defaults to 100ms.
	PollInterval time.Duration
	// JobTimeout fails a running job that takes longer; 0 disables it.
	JobTimeout time.Duration
	Logger     *slog.Logger
}

type entry struct {
	plugin   Plugin
	priority int
	seq      int
	enabled  bool
}

// PluginStatus describes a registered plugin.
type PluginStatus struct {
	Info     Info `json:"info"`
	Priority int  `json:"priority"`
	Enabled  bool `json:"enabled"`
}

// Registry holds the format plugins and runs export jobs through a FIFO
// queue with a concurrency ceiling.
type Registry struct {
	mu            sync.Mutex
	plugins       map[string]*entry
	seq           int
	jobs          map[string]*job
	order         []string
	queue         []*job
	running       int
	maxConcurrent int
	processing    bool
	closed        bool

	pollInterval time.Duration
	jobTimeout   time.Duration
	wake         chan struct{}
	wg           sync.WaitGroup
	baseCtx      context.Context
	stop         context.CancelFunc
	logger       *slog.Logger
	now          func() time.Time
}

func NewRegistry(opts Options) *Registry {
	if opts.MaxConcurrentJobs < 1 {
		opts.MaxConcurrentJobs = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Registry{
		plugins:       make(map[string]*entry),
		jobs:          make(map[string]*job),
		maxConcurrent: opts.MaxConcurrentJobs,
		pollInterval:  opts.PollInterval,
		jobTimeout:    opts.JobTimeout,
		wake:          make(chan struct{}, 1),
		baseCtx:       ctx,
		stop:          stop,
		logger:        logging.WithComponent(opts.Logger, "registry"),
		now:           time.Now,
	}
}

// Register adds or replaces a plugin. It starts enabled when IsSupported
// reports true.
func (r *Registry) Register(p Plugin, priority int) {
	info := p.Info()
	supported := p.IsSupported()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.plugins[info.ID] = &entry{plugin: p, priority: priority, seq: r.seq, enabled: supported}
	if !supported {
		r.logger.Warn("export plugin unsupported in this environment", "plugin", info.ID)
	}
}

func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.plugins[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	e.enabled = enabled
	return nil
}

// Plugin returns an enabled plugin by id.
func (r *Registry) Plugin(id string) (Plugin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(id)
}

func (r *Registry) lookup(id string) (Plugin, error) {
	e, ok := r.plugins[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	if !e.enabled {
		return nil, fmt.Errorf("%w: %s", ErrPluginDisabled, id)
	}
	return e.plugin, nil
}

// Plugins lists enabled plugins, highest priority first.
func (r *Registry) Plugins() []Plugin {
	var out []Plugin
	for _, st := range r.Describe() {
		if st.Enabled {
			p, _ := r.Plugin(st.Info.ID)
			if p != nil {
				out = append(out, p)
			}
		}
	}
	return out
}

// Describe lists every registered plugin including disabled ones.
func (r *Registry) Describe() []PluginStatus {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.plugins))
	for _, e := range r.plugins {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority > entries[j].priority
		}
		return entries[i].seq < entries[j].seq
	})
	out := make([]PluginStatus, len(entries))
	for i, e := range entries {
		out[i] = PluginStatus{Info: e.plugin.Info(), Priority: e.priority, Enabled: e.enabled}
	}
	return out
}

func (r *Registry) PluginsByCategory(c Category) []Plugin {
	var out []Plugin
	for _, p := range r.Plugins() {
		if p.Info().Category == c {
			out = append(out, p)
		}
	}
	return out
}

// PluginForExtension finds the enabled plugin producing files with ext
// (with or without the leading dot).
func (r *Registry) PluginForExtension(ext string) (Plugin, error) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, p := range r.Plugins() {
		if strings.EqualFold(p.Info().Extension, ext) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: extension %q", ErrPluginNotFound, ext)
}

// CreateJob validates the settings against the plugin, enqueues a job and
// returns its id without waiting. Settings that fail validation return a
// *ValidationError and no job is created.
func (r *Registry) CreateJob(pluginID string, ectx *Context) (string, error) {
	if ectx == nil {
		return "", errors.New("export context is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrClosed
	}
	p, err := r.lookup(pluginID)
	if err != nil {
		return "", err
	}
	if errs := p.Validate(ectx.Settings); len(errs) > 0 {
		return "", &ValidationError{Errors: errs}
	}

	j := &job{
		Job: Job{
			ID:        uuid.NewString(),
			PluginID:  pluginID,
			Status:    StatusPending,
			Settings:  ectx.Settings,
			CreatedAt: r.now(),
		},
		plugin: p,
		ectx:   ectx,
		done:   make(chan struct{}),
	}
	r.jobs[j.ID] = j
	r.order = append(r.order, j.ID)
	r.queue = append(r.queue, j)

	logging.WithJobID(r.logger, j.ID).Info("job queued", "plugin", pluginID, "queue_length", len(r.queue))

	if !r.processing {
		r.processing = true
		r.wg.Add(1)
		go r.processQueue()
	}
	r.signal()
	return j.ID, nil
}

func (r *Registry) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// processQueue starts pending jobs in FIFO order while slots are free and
// exits once the queue drains.
func (r *Registry) processQueue() {
	defer r.wg.Done()

	timer := time.NewTimer(r.pollInterval)
	defer timer.Stop()

	for {
		r.mu.Lock()
		if r.closed || len(r.queue) == 0 {
			r.processing = false
			r.mu.Unlock()
			return
		}
		if r.running >= r.maxConcurrent {
			r.mu.Unlock()
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(r.pollInterval)
			select {
			case <-r.wake:
			case <-timer.C:
			}
			continue
		}

		j := r.queue[0]
		r.queue = r.queue[1:]
		if err := j.transition(StatusRunning, r.now()); err != nil {
			r.mu.Unlock()
			continue
		}
		ctx, cancel := context.WithCancel(r.baseCtx)
		if r.jobTimeout > 0 {
			ctx, cancel = context.WithTimeout(r.baseCtx, r.jobTimeout)
		}
		j.cancel = cancel
		r.running++
		r.wg.Add(1)
		r.mu.Unlock()

		go r.execute(ctx, j)
	}
}

func (r *Registry) execute(ctx context.Context, j *job) {
	defer r.wg.Done()
	defer j.cancel()

	logger := logging.WithJobID(r.logger, j.ID)
	logger.Info("job started", "plugin", j.PluginID)

	ectx := *j.ectx
	ectx.Logger = logging.WithJobID(j.ectx.Log(), j.ID)
	ectx.OnProgress = func(p Progress) {
		r.mu.Lock()
		if j.Status != StatusRunning {
			r.mu.Unlock()
			return
		}
		j.Progress = p.Progress
		j.Stage = p.Stage
		j.Message = p.Message
		r.mu.Unlock()

		if j.ectx.OnProgress != nil {
			j.ectx.OnProgress(p)
		}
	}

	result, err := runPlugin(ctx, j.plugin, &ectx)
	result, err = r.settle(ctx, j, result, err)

	if err != nil {
		logger.Error("job failed", "error", err)
	} else {
		r.mu.Lock()
		status := j.Status
		r.mu.Unlock()
		logger.Info("job finished", "status", status, "size", result.Size)
	}

	j.finish(result, err)
	r.signal()
}

func runPlugin(ctx context.Context, p Plugin, ectx *Context) (res *Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res, err = nil, fmt.Errorf("plugin %s panicked: %v", p.Info().ID, rec)
		}
	}()
	return p.Export(ctx, ectx)
}

// settle records the outcome on the job and decides which terminal
// callback the caller gets. A job cancelled while running stays cancelled
// whatever the plugin returned.
func (r *Registry) settle(ctx context.Context, j *job, result *Result, err error) (*Result, error) {
	if err == nil && result != nil && result.Success && j.ectx.Annotate != nil {
		j.ectx.Annotate(result)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.running--
	now := r.now()

	var outErr error
	switch {
	case j.Status == StatusCancelled:
		if result == nil || result.Success || result.Code != CodeCancelled {
			result = Failed(CodeCancelled, "export cancelled")
		}
	case errors.Is(ctx.Err(), context.DeadlineExceeded) && (err != nil || result == nil || !result.Success):
		result = Failed(CodeTimeout, "export exceeded the %s time limit", r.jobTimeout)
		outErr = &ExportError{Code: result.Code, Message: result.Error}
		j.transition(StatusFailed, now)
	case err != nil:
		result = Failed(CodeInternal, "%v", err)
		outErr = err
		j.transition(StatusFailed, now)
	case result == nil:
		result = Failed(CodeInternal, "plugin %s returned no result", j.PluginID)
		outErr = &ExportError{Code: result.Code, Message: result.Error}
		j.transition(StatusFailed, now)
	case result.Success:
		j.Progress = 1
		j.Stage = StageComplete
		j.transition(StatusCompleted, now)
	case result.Code == CodeCancelled:
		j.transition(StatusCancelled, now)
	default:
		outErr = &ExportError{Code: result.Code, Message: result.Error}
		j.transition(StatusFailed, now)
	}

	j.Result = result
	if !result.Success {
		j.Error = result.Error
		if j.Status == StatusFailed {
			j.Stage = StageError
		}
	}
	return result, outErr
}

// CancelJob cancels a pending or running job. A pending job never starts
// and gets its terminal callback right away; a running job is marked
// cancelled immediately and its plugin is asked to stop through its context.
func (r *Registry) CancelJob(id string) error {
	r.mu.Lock()
	j, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	switch j.Status {
	case StatusPending:
		j.transition(StatusCancelled, r.now())
		j.Result = Failed(CodeCancelled, "export cancelled before it started")
		j.Error = j.Result.Error
		r.removeQueued(j)
		result := j.Result
		r.mu.Unlock()

		logging.WithJobID(r.logger, id).Info("pending job cancelled")
		j.finish(result, nil)
		return nil
	case StatusRunning:
		j.transition(StatusCancelled, r.now())
		j.Error = "export cancelled"
		cancel := j.cancel
		r.mu.Unlock()

		logging.WithJobID(r.logger, id).Info("running job cancelled")
		cancel()
		return nil
	default:
		status := j.Status
		r.mu.Unlock()
		return fmt.Errorf("%w: job %s is already %s", ErrInvalidTransition, id, status)
	}
}

func (r *Registry) removeQueued(j *job) {
	for i, q := range r.queue {
		if q == j {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			return
		}
	}
}

// GetJob returns a snapshot of the job.
func (r *Registry) GetJob(id string) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return j.snapshot(), nil
}

// Done returns a channel closed once the job's terminal callback has fired.
func (r *Registry) Done(id string) (<-chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return j.done, nil
}

// Jobs returns snapshots of all retained jobs in creation order.
func (r *Registry) Jobs() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Job, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.jobs[id].snapshot())
	}
	return out
}

// ClearCompletedJobs drops terminal jobs and returns how many were removed.
func (r *Registry) ClearCompletedJobs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.order[:0]
	removed := 0
	for _, id := range r.order {
		if r.jobs[id].Status.Terminal() {
			delete(r.jobs, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
	return removed
}

// SetMaxConcurrentJobs changes the ceiling; values below 1 become 1.
func (r *Registry) SetMaxConcurrentJobs(n int) {
	if n < 1 {
		n = 1
	}
	r.mu.Lock()
	r.maxConcurrent = n
	r.mu.Unlock()
	r.signal()
}

func (r *Registry) MaxConcurrentJobs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxConcurrent
}

// Close cancels every pending and running job and waits for the workers
// to return or ctx to expire.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	var ids []string
	for _, id := range r.order {
		if !r.jobs[id].Status.Terminal() {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.CancelJob(id)
	}
	r.stop()
	r.signal()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
