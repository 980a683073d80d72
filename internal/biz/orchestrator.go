package biz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"ChainPulse/internal/conf"
	pkglog "ChainPulse/pkg/log"
)

// ErrAlreadyBootstrapped is returned when ExecuteColdStart is invoked twice.
// Orchestration is a single-run sequence; retries go through
// RetryFailedServices.
var ErrAlreadyBootstrapped = errors.New("cold start orchestration already ran")

// Load phases, recorded with every terminal outcome.
const (
	phaseCritical    = "critical"
	phaseProgressive = "progressive"
	phaseRetry       = "retry"
)

// ColdStartMetrics aggregates one orchestration run.
type ColdStartMetrics struct {
	CriticalServicesLoaded int      `json:"critical_services_loaded"`
	TotalServicesLoaded    int      `json:"total_services_loaded"`
	FailedServices         []string `json:"failed_services"`
	FallbackServices       []string `json:"fallback_services"`
	OverallDurationMs      int64    `json:"overall_duration_ms"`
	TimeToFirstPaintMs     int64    `json:"time_to_first_paint_ms"`
	TimeToInteractiveMs    int64    `json:"time_to_interactive_ms"`
}

type orchestratorConfig struct {
	progressive       bool
	batchSize         int
	batchInterval     time.Duration
	loadTimeout       time.Duration
	slowThreshold     time.Duration
	warmingEnabled    bool
	backgroundRefresh bool
	warmupServices    []string
	warmDelay         time.Duration
}

func orchestratorConfigFrom(cc *conf.ColdStart) orchestratorConfig {
	cfg := orchestratorConfig{
		progressive:       true,
		batchSize:         3,
		batchInterval:     time.Second,
		loadTimeout:       10 * time.Second,
		slowThreshold:     3 * time.Second,
		warmingEnabled:    true,
		backgroundRefresh: true,
		warmDelay:         5 * time.Second,
	}
	if cc == nil {
		return cfg
	}
	cfg.progressive = cc.Progressive
	if cc.BatchSize > 0 {
		cfg.batchSize = int(cc.BatchSize)
	}
	if d := cc.BatchInterval.AsDuration(); d > 0 {
		cfg.batchInterval = d
	}
	if d := cc.LoadTimeout.AsDuration(); d > 0 {
		cfg.loadTimeout = d
	}
	if d := cc.SlowLoadThreshold.AsDuration(); d > 0 {
		cfg.slowThreshold = d
	}
	if w := cc.CacheWarming; w != nil {
		cfg.warmingEnabled = w.Enabled
		cfg.backgroundRefresh = w.BackgroundRefresh
		cfg.warmupServices = append([]string(nil), w.WarmupServices...)
		if d := w.Delay.AsDuration(); d > 0 {
			cfg.warmDelay = d
		}
	}
	return cfg
}

// ColdStartOrchestrator boots every registered service in three phases:
// critical services concurrently, the rest in priority-ordered batches, then
// an optional background cache warm. One instance per process, one run per
// process start.
type ColdStartOrchestrator struct {
	cfg orchestratorConfig

	mu            sync.Mutex
	defs          map[string]*ServiceDefinition
	ran           bool
	startAt       time.Time
	interactiveAt time.Time
	metrics       ColdStartMetrics

	tracker   *LoadTracker
	telemetry *Telemetry
	audit     AuditLogger
	lh        *pkglog.LogHelper
	logger    *log.Helper

	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewColdStartOrchestrator creates the orchestrator. The returned cleanup
// stops the background warm goroutine.
func NewColdStartOrchestrator(cc *conf.ColdStart, telemetry *Telemetry, audit AuditLogger, logger log.Logger) (*ColdStartOrchestrator, func(), error) {
	o := &ColdStartOrchestrator{
		cfg:       orchestratorConfigFrom(cc),
		defs:      make(map[string]*ServiceDefinition),
		metrics:   ColdStartMetrics{FailedServices: []string{}, FallbackServices: []string{}},
		tracker:   NewLoadTracker(),
		telemetry: telemetry,
		audit:     audit,
		lh:        pkglog.NewLogHelper(logger),
		logger:    log.NewHelper(logger),
		stop:      make(chan struct{}),
	}
	return o, o.Close, nil
}

// Register adds a service definition. Definitions must be registered before
// orchestration starts; a registration that would close a dependency cycle
// is rejected with a CycleError.
func (o *ColdStartOrchestrator) Register(def ServiceDefinition) error {
	if err := def.normalize(o.cfg.loadTimeout); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ran {
		return fmt.Errorf("cannot register service %s: orchestration already ran", def.Name)
	}
	if _, ok := o.defs[def.Name]; ok {
		return fmt.Errorf("service %s already registered", def.Name)
	}
	o.defs[def.Name] = &def
	if cycle := o.findCycleLocked(def.Name); cycle != nil {
		delete(o.defs, def.Name)
		return &CycleError{Cycle: cycle}
	}
	o.tracker.Register(def.Name)

	o.logger.Debugf("registered service %s (priority=%s deps=%d timeout=%s)",
		def.Name, def.Priority, len(def.Dependencies), def.Timeout)
	return nil
}

// findCycleLocked walks the known dependency edges from start and reports a
// path start -> ... -> start, or nil when no cycle goes through start.
// Unregistered dependencies cannot close a cycle yet; the cycle is caught
// when its final member registers.
func (o *ColdStartOrchestrator) findCycleLocked(start string) []string {
	visited := make(map[string]bool)
	var walk func(node string, path []string) []string
	walk = func(node string, path []string) []string {
		def, ok := o.defs[node]
		if !ok {
			return nil
		}
		for _, dep := range def.Dependencies {
			if dep == start {
				return append(append([]string(nil), path...), dep)
			}
			if visited[dep] {
				continue
			}
			visited[dep] = true
			if cycle := walk(dep, append(path, dep)); cycle != nil {
				return cycle
			}
		}
		return nil
	}
	return walk(start, []string{start})
}

// ExecuteColdStart runs the full bootstrap: critical phase, progressive
// phase when enabled, then schedules the background cache warm. Individual
// service failures never abort the run; they are tallied in the returned
// metrics.
func (o *ColdStartOrchestrator) ExecuteColdStart(ctx context.Context) (ColdStartMetrics, error) {
	o.mu.Lock()
	if o.ran {
		o.mu.Unlock()
		return o.Metrics(), ErrAlreadyBootstrapped
	}
	o.ran = true
	o.startAt = time.Now()
	o.metrics = ColdStartMetrics{FailedServices: []string{}, FallbackServices: []string{}}
	total := len(o.defs)
	o.mu.Unlock()

	if err := o.validateGraph(); err != nil {
		return o.Metrics(), err
	}

	ctx, correlationID := pkglog.EnsureCorrelation(ctx, "coldstart", "coldstart.execute")
	stopTotal := o.telemetry.StartTiming(ctx, "coldstart.total")
	o.lh.Bootstrap("Cold start beginning",
		"services", total,
		"progressive", o.cfg.progressive,
		"correlation_id", correlationID)

	o.runCriticalPhase(ctx)
	o.finalizeFirstPaint()

	var phaseErr error
	if o.cfg.progressive {
		phaseErr = o.runProgressivePhase(ctx)
	}

	overall := stopTotal()
	o.mu.Lock()
	o.metrics.OverallDurationMs = overall.Milliseconds()
	if !o.interactiveAt.IsZero() {
		o.metrics.TimeToInteractiveMs = o.interactiveAt.Sub(o.startAt).Milliseconds()
	}
	m := o.metricsCopyLocked()
	o.mu.Unlock()

	if o.audit != nil {
		o.audit.LogColdStartComplete(ctx, m.TotalServicesLoaded, len(m.FailedServices), len(m.FallbackServices), overall)
	}
	o.lh.Bootstrap("Cold start complete",
		"loaded", m.TotalServicesLoaded,
		"critical_loaded", m.CriticalServicesLoaded,
		"failed", len(m.FailedServices),
		"fallback", len(m.FallbackServices),
		"duration_ms", m.OverallDurationMs,
		"ttfp_ms", m.TimeToFirstPaintMs,
		"tti_ms", m.TimeToInteractiveMs)
	o.telemetry.RecordMetric(ctx, "coldstart.time_to_first_paint", float64(m.TimeToFirstPaintMs), "ms", nil)
	o.telemetry.RecordMetric(ctx, "coldstart.time_to_interactive", float64(m.TimeToInteractiveMs), "ms", nil)

	o.scheduleWarm()
	return m, phaseErr
}

// validateGraph rejects dependencies that were never registered. Cycles are
// already impossible here; Register refuses the edge that would close one.
func (o *ColdStartOrchestrator) validateGraph() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, def := range o.defs {
		for _, dep := range def.Dependencies {
			if _, ok := o.defs[dep]; !ok {
				return &UnknownServiceError{Name: dep}
			}
		}
	}
	return nil
}

// runCriticalPhase loads every critical service concurrently, least
// dependencies first. All services settle before the phase returns;
// failures are tallied, never propagated.
func (o *ColdStartOrchestrator) runCriticalPhase(ctx context.Context) {
	names := o.criticalServices()
	if len(names) == 0 {
		return
	}
	o.lh.Bootstrap("Critical phase starting", "services", names)

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(n string) {
			defer wg.Done()
			o.loadService(ctx, n, phaseCritical)
		}(name)
	}
	wg.Wait()
}

// runProgressivePhase loads the remaining services in fixed-size batches
// with an inter-batch delay, ordered by priority tier then dependency count.
func (o *ColdStartOrchestrator) runProgressivePhase(ctx context.Context) error {
	var names []string
	states := o.tracker.All()
	o.mu.Lock()
	for name, def := range o.defs {
		if def.Priority == PriorityCritical {
			continue
		}
		if st, ok := states[name]; ok && st.Status == LoadPending {
			names = append(names, name)
		}
	}
	o.mu.Unlock()
	if len(names) == 0 {
		return nil
	}

	o.sortForProgressive(names)
	o.lh.Bootstrap("Progressive phase starting",
		"services", len(names),
		"batch_size", o.cfg.batchSize)
	return o.runBatches(ctx, names, phaseProgressive)
}

// runBatches processes names in batches of the configured size, waiting the
// inter-batch delay between them.
func (o *ColdStartOrchestrator) runBatches(ctx context.Context, names []string, phase string) error {
	for start := 0; start < len(names); start += o.cfg.batchSize {
		end := start + o.cfg.batchSize
		if end > len(names) {
			end = len(names)
		}
		batch := names[start:end]
		o.logger.Debugf("%s batch %d: %v", phase, start/o.cfg.batchSize+1, batch)

		var wg sync.WaitGroup
		for _, name := range batch {
			wg.Add(1)
			go func(n string) {
				defer wg.Done()
				o.loadService(ctx, n, phase)
			}(name)
		}
		wg.Wait()

		if end < len(names) {
			select {
			case <-time.After(o.cfg.batchInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// loadService runs one service through its full load sequence: dependency
// wait, initializer race, optional health check, terminal bookkeeping.
func (o *ColdStartOrchestrator) loadService(ctx context.Context, name, phase string) {
	o.mu.Lock()
	def, ok := o.defs[name]
	o.mu.Unlock()
	if !ok {
		return
	}

	ctx = pkglog.WithCorrelationContext(ctx, pkglog.GenerateCorrelationID(), name, "coldstart.load")
	o.tracker.MarkLoading(name)
	stopTiming := o.telemetry.StartTiming(ctx, "coldstart.load."+name)

	if err := o.awaitDependencies(ctx, def); err != nil {
		stopTiming()
		// A blocked service fails outright; its own fallback never applies
		o.settle(ctx, def, phase, LoadFailed, err)
		return
	}

	_, err := awaitCall(ctx, def.Name, "load", def.Timeout, def.Initializer)
	if err == nil && def.HealthCheck != nil {
		healthy, herr := awaitHealthCheck(ctx, def.Name, def.Timeout, def.HealthCheck)
		if herr != nil {
			err = herr
		} else if !healthy {
			err = &HealthCheckError{Service: def.Name}
		}
	}
	stopTiming()

	switch {
	case err == nil:
		o.settle(ctx, def, phase, LoadLoaded, nil)
	case def.HasFallback():
		o.settle(ctx, def, phase, LoadFallback, err)
	default:
		o.settle(ctx, def, phase, LoadFailed, err)
	}
}

// awaitDependencies blocks until every dependency settles. A dependency that
// failed without fallback poisons this service: the initializer must never
// run.
func (o *ColdStartOrchestrator) awaitDependencies(ctx context.Context, def *ServiceDefinition) error {
	for _, dep := range def.Dependencies {
		st, err := o.tracker.AwaitTerminal(ctx, dep)
		if err != nil {
			return err
		}
		if st.Status != LoadFailed {
			continue
		}
		o.mu.Lock()
		depDef, ok := o.defs[dep]
		o.mu.Unlock()
		if !ok || !depDef.HasFallback() {
			return &DependencyError{Service: def.Name, Dependency: dep}
		}
	}
	return nil
}

// settle records the terminal outcome of one load attempt: tracker state,
// run metrics, audit trail, logs, and the time-to-interactive watermark.
func (o *ColdStartOrchestrator) settle(ctx context.Context, def *ServiceDefinition, phase string, status LoadStatus, cause error) {
	o.tracker.Complete(def.Name, status, cause)
	st, _ := o.tracker.State(def.Name)

	o.mu.Lock()
	switch status {
	case LoadLoaded:
		o.metrics.TotalServicesLoaded++
		if def.Priority == PriorityCritical {
			o.metrics.CriticalServicesLoaded++
		}
		o.metrics.FailedServices = removeString(o.metrics.FailedServices, def.Name)
	case LoadFallback:
		o.metrics.FallbackServices = appendUnique(o.metrics.FallbackServices, def.Name)
		o.metrics.FailedServices = removeString(o.metrics.FailedServices, def.Name)
	case LoadFailed:
		o.metrics.FailedServices = appendUnique(o.metrics.FailedServices, def.Name)
	}
	o.maybeInteractiveLocked()
	o.mu.Unlock()

	if o.audit != nil {
		o.audit.LogServiceLoad(ctx, def.Name, string(status), phase,
			time.Duration(st.DurationMs)*time.Millisecond, status == LoadFallback)
	}
	o.lh.LoadCompleted(ctx, def.Name, string(status), st.DurationMs, "phase", phase)

	switch status {
	case LoadFallback:
		o.lh.Fallback("Service degraded to fallback data",
			"service", def.Name,
			"phase", phase,
			"error", cause.Error())
	case LoadFailed:
		o.telemetry.RecordError(ctx, cause, map[string]interface{}{
			"service": def.Name,
			"phase":   phase,
		})
	}

	if o.cfg.slowThreshold > 0 && st.DurationMs > o.cfg.slowThreshold.Milliseconds() {
		o.lh.SlowLoad(ctx, def.Name, st.DurationMs, o.cfg.slowThreshold.Milliseconds())
	}
}

// maybeInteractiveLocked stamps the moment every critical and high priority
// service has reached loaded or fallback. Stamped at most once per run.
func (o *ColdStartOrchestrator) maybeInteractiveLocked() {
	if !o.interactiveAt.IsZero() {
		return
	}
	states := o.tracker.All()
	for name, def := range o.defs {
		if def.Priority != PriorityCritical && def.Priority != PriorityHigh {
			continue
		}
		st, ok := states[name]
		if !ok || (st.Status != LoadLoaded && st.Status != LoadFallback) {
			return
		}
	}
	o.interactiveAt = time.Now()
}

// finalizeFirstPaint derives time-to-first-paint as the longest critical
// service duration, the stand-in used when no navigation timing exists.
func (o *ColdStartOrchestrator) finalizeFirstPaint() {
	states := o.tracker.All()
	o.mu.Lock()
	defer o.mu.Unlock()
	var longest int64
	for name, def := range o.defs {
		if def.Priority != PriorityCritical {
			continue
		}
		if st, ok := states[name]; ok && st.DurationMs > longest {
			longest = st.DurationMs
		}
	}
	o.metrics.TimeToFirstPaintMs = longest
}

// RetryFailedServices re-attempts every service currently in failed state
// through the progressive-load path and returns the updated metrics.
func (o *ColdStartOrchestrator) RetryFailedServices(ctx context.Context) (ColdStartMetrics, error) {
	o.mu.Lock()
	ran := o.ran
	o.mu.Unlock()
	if !ran {
		return o.Metrics(), errors.New("cold start has not run yet")
	}

	var names []string
	for _, st := range o.tracker.All() {
		if st.Status == LoadFailed {
			names = append(names, st.ServiceName)
		}
	}
	if len(names) == 0 {
		return o.Metrics(), nil
	}

	o.sortForProgressive(names)
	o.lh.Retry("Retrying failed services", "services", names)
	err := o.runBatches(ctx, names, phaseRetry)
	return o.Metrics(), err
}

// WarmCaches re-invokes the configured warmup initializers to refresh their
// caches. Warm failures are logged and counted but never touch the
// orchestration metrics or loading states.
func (o *ColdStartOrchestrator) WarmCaches(ctx context.Context) (warmed, failed int) {
	ctx, _ = pkglog.EnsureCorrelation(ctx, "coldstart", "coldstart.warm")
	start := time.Now()

	for _, name := range o.cfg.warmupServices {
		o.mu.Lock()
		def, ok := o.defs[name]
		o.mu.Unlock()
		if !ok {
			o.lh.Warmup("Skipping unregistered warmup service", "service", name)
			continue
		}
		if _, err := awaitCall(ctx, name, "warmup", def.Timeout, def.Initializer); err != nil {
			failed++
			o.lh.Warmup("Cache warm failed", "service", name, "error", err.Error())
			continue
		}
		warmed++
		o.lh.Warmup("Cache warmed", "service", name)
	}

	if o.audit != nil {
		o.audit.LogWarmCycle(ctx, warmed, failed, time.Since(start))
	}
	return warmed, failed
}

// scheduleWarm arms the one-shot background warm when cache warming and
// background refresh are both enabled.
func (o *ColdStartOrchestrator) scheduleWarm() {
	if !o.cfg.warmingEnabled || !o.cfg.backgroundRefresh || len(o.cfg.warmupServices) == 0 {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		select {
		case <-time.After(o.cfg.warmDelay):
		case <-o.stop:
			return
		}
		o.WarmCaches(context.Background())
	}()
}

// WarmingEnabled reports whether periodic re-warming should run.
func (o *ColdStartOrchestrator) WarmingEnabled() bool {
	return o.cfg.warmingEnabled
}

// Metrics returns a copy of the current run metrics.
func (o *ColdStartOrchestrator) Metrics() ColdStartMetrics {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.metricsCopyLocked()
}

func (o *ColdStartOrchestrator) metricsCopyLocked() ColdStartMetrics {
	m := o.metrics
	m.FailedServices = append([]string(nil), o.metrics.FailedServices...)
	m.FallbackServices = append([]string(nil), o.metrics.FallbackServices...)
	return m
}

// States returns a copy of every service's LoadingState.
func (o *ColdStartOrchestrator) States() map[string]LoadingState {
	return o.tracker.All()
}

// State returns the LoadingState of one service.
func (o *ColdStartOrchestrator) State(name string) (LoadingState, bool) {
	return o.tracker.State(name)
}

// ServiceNames returns every registered service name, sorted.
func (o *ColdStartOrchestrator) ServiceNames() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	names := make([]string, 0, len(o.defs))
	for name := range o.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close stops the background warm goroutine. Safe to call multiple times.
func (o *ColdStartOrchestrator) Close() {
	o.closeOnce.Do(func() { close(o.stop) })
	o.wg.Wait()
}

// criticalServices returns the critical tier sorted by ascending dependency
// count, name as tie break.
func (o *ColdStartOrchestrator) criticalServices() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var names []string
	for name, def := range o.defs {
		if def.Priority == PriorityCritical {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		di := len(o.defs[names[i]].Dependencies)
		dj := len(o.defs[names[j]].Dependencies)
		if di != dj {
			return di < dj
		}
		return names[i] < names[j]
	})
	return names
}

// sortForProgressive orders names by priority tier, then dependency count,
// then name.
func (o *ColdStartOrchestrator) sortForProgressive(names []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	sort.Slice(names, func(i, j int) bool {
		a, b := o.defs[names[i]], o.defs[names[j]]
		if a.Priority.rank() != b.Priority.rank() {
			return a.Priority.rank() < b.Priority.rank()
		}
		if len(a.Dependencies) != len(b.Dependencies) {
			return len(a.Dependencies) < len(b.Dependencies)
		}
		return a.Name < b.Name
	})
}

// awaitCall races fn against timeout. On timeout the goroutine running fn is
// abandoned to finish in the background; only ctx cancellation reaches it.
func awaitCall(ctx context.Context, service, stage string, timeout time.Duration, fn Initializer) (interface{}, error) {
	type outcome struct {
		value interface{}
		err   error
	}

	done := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome{value: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.value, r.err
	case <-timer.C:
		return nil, &TimeoutError{Service: service, Stage: stage, Timeout: timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func awaitHealthCheck(ctx context.Context, service string, timeout time.Duration, hc HealthCheck) (bool, error) {
	v, err := awaitCall(ctx, service, "health_check", timeout, func(c context.Context) (interface{}, error) {
		ok, herr := hc(c)
		return ok, herr
	})
	if err != nil {
		return false, err
	}
	healthy, _ := v.(bool)
	return healthy, nil
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

func removeString(list []string, v string) []string {
	for i, s := range list {
		if s == v {
			out := make([]string, 0, len(list)-1)
			out = append(out, list[:i]...)
			return append(out, list[i+1:]...)
		}
	}
	return list
}
