package analysis

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/albops/logengine/internal/config"
	"github.com/albops/logengine/internal/storage"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Strategy identifies which data path Analyze took to satisfy a request.
type Strategy string

const (
	StrategyFull              Strategy = "full"
	StrategyAggregated        Strategy = "aggregated"
	StrategyStreamingSampled  Strategy = "streaming_sampled"
)

// AnalyzeOptions tunes one Analyze call; zero values fall back to cfg.
type AnalyzeOptions struct {
	MaxInactivity         time.Duration
	MinRequestsPerSession int
	MaxPatternLength      int
	MinSupport            float64
	ForceStrategy         Strategy
}

// ProgressCallback reports coarse progress during a long Analyze call.
type ProgressCallback func(stage string, processed, total int)

// Orchestrator selects a strategy, reconstructs sessions, discovers
// patterns, and builds the workflow summary, caching results by
// (filter, options).
type Orchestrator struct {
	store    *storage.Storage
	cfg      config.AnalysisConfig
	session  config.SessionConfig
	pattern  config.PatternConfig
	logger   log.Logger
	cache    *resultCache
	onProgress ProgressCallback
}

// New returns an Orchestrator backed by store.
func New(store *storage.Storage, cfg config.Config, logger log.Logger) *Orchestrator {
	return &Orchestrator{
		store:   store,
		cfg:     cfg.Analysis,
		session: cfg.Session,
		pattern: cfg.Pattern,
		logger:  logger,
		cache:   newResultCache(cfg.Analysis.CacheExpiry()),
	}
}

// SetProgressCallback installs a callback invoked at coarse stage
// boundaries during Analyze.
func (o *Orchestrator) SetProgressCallback(cb ProgressCallback) { o.onProgress = cb }

// UpdateConfig copies the positive numeric fields of partial over the
// current AnalysisConfig and always overwrites UseSampling,
// UseAggregationTables and EnableCaching with partial's values.
// CacheExpiryMs is not applied.
func (o *Orchestrator) UpdateConfig(partial config.AnalysisConfig) {
	if partial.MaxSessionsForFullAnalysis > 0 {
		o.cfg.MaxSessionsForFullAnalysis = partial.MaxSessionsForFullAnalysis
	}
	if partial.SamplingRate > 0 {
		o.cfg.SamplingRate = partial.SamplingRate
	}
	if partial.StreamingBatchSize > 0 {
		o.cfg.StreamingBatchSize = partial.StreamingBatchSize
	}
	if partial.MaxProcessingTimeMs > 0 {
		o.cfg.MaxProcessingTimeMs = partial.MaxProcessingTimeMs
	}
	o.cfg.UseSampling = partial.UseSampling
	o.cfg.UseAggregationTables = partial.UseAggregationTables
	o.cfg.EnableCaching = partial.EnableCaching
}

// ClearCache drops every cached result.
func (o *Orchestrator) ClearCache() { o.cache.clear() }

func (o *Orchestrator) report(stage string, processed, total int) {
	if o.onProgress != nil {
		o.onProgress(stage, processed, total)
	}
}

func (o *Orchestrator) sessionOptions(opts AnalyzeOptions) SessionOptions {
	so := SessionOptions{
		MaxInactivity:         opts.MaxInactivity,
		MinRequestsPerSession: opts.MinRequestsPerSession,
	}
	if so.MaxInactivity <= 0 {
		so.MaxInactivity = time.Duration(o.session.MaxInactivityMinutes) * time.Minute
	}
	if so.MinRequestsPerSession <= 0 {
		so.MinRequestsPerSession = o.session.MinRequestsPerSession
	}
	return so.withDefaults()
}

func (o *Orchestrator) patternOptions(opts AnalyzeOptions) PatternOptions {
	po := PatternOptions{
		MaxPatternLength: opts.MaxPatternLength,
		MinSupport:       opts.MinSupport,
	}
	if po.MaxPatternLength <= 0 {
		po.MaxPatternLength = o.pattern.MaxPatternLength
	}
	if po.MinSupport <= 0 {
		po.MinSupport = o.pattern.MinSupport
	}
	return po.withDefaults()
}

func toFilterCriteria(f Filter) storage.FilterCriteria {
	fc := storage.FilterCriteria{
		StartTime: f.Start,
		EndTime:   f.End,
	}
	if len(f.ClientIPs) == 1 {
		fc.ClientIP = f.ClientIPs[0]
	}
	if len(f.DomainNames) == 1 {
		fc.DomainName = f.DomainNames[0]
	}
	if len(f.StatusCodes) > 0 {
		fc.ELBStatusCodes = f.StatusCodes
	}
	return fc
}

// Analyze runs the full workflow analysis pipeline: strategy selection,
// session reconstruction, pattern discovery, and insight generation.
// StrategyAggregated loads rows the same way as StrategyFull, from
// log_entries capped at storage.MaxQueryRows; no summary table is read.
func (o *Orchestrator) Analyze(ctx context.Context, filter Filter, opts AnalyzeOptions) (*Result, error) {
	start := time.Now()
	key := cacheKey(filter, opts)
	if o.cfg.EnableCaching {
		if cached, ok := o.cache.get(key, start); ok {
			return cached, nil
		}
	}

	fc := toFilterCriteria(filter)
	total, err := o.store.Count(ctx, fc)
	if err != nil {
		return nil, fmt.Errorf("analysis: count rows: %w", err)
	}

	strategy := opts.ForceStrategy
	if strategy == "" {
		strategy = o.selectStrategy(total)
	}
	level.Debug(o.logger).Log("msg", "analysis strategy selected", "strategy", strategy, "rows", total)

	maxProcessing := o.cfg.MaxProcessingTime()
	deadline := start.Add(maxProcessing)

	var rows []storage.LogRecordRow
	var partial bool
	var samplingApplied bool
	var samplingRate float64

	switch strategy {
	case StrategyStreamingSampled:
		rows, partial, samplingApplied, samplingRate, err = o.streamSampled(ctx, fc, deadline)
	default:
		rows, err = o.store.Query(ctx, storage.QueryOptions{
			Filter:  fc,
			Limit:   storage.MaxQueryRows,
			Timeout: maxProcessing,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("analysis: load rows: %w", err)
	}

	o.report("sessions", 0, len(rows))
	sessions := ReconstructSessions(rows, o.sessionOptions(opts))
	if len(sessions) > 1000 {
		sessions = sessions[:1000]
	}
	o.report("sessions", len(sessions), len(sessions))

	o.report("patterns", 0, len(sessions))
	patterns := DiscoverPatterns(sessions, o.patternOptions(opts))
	transition := BuildTransitionMatrix(sessions)
	o.report("patterns", len(patterns), len(patterns))

	entries, exits := EntryExitEndpoints(sessions)
	dropOffs := DropOffPoints(sessions)
	insights := buildInsights(sessions, patterns, dropOffs)
	funnels := buildFunnels(patterns)

	summary := WorkflowSummary{
		TotalSessions:   len(sessions),
		EntryEndpoints:  entries,
		ExitEndpoints:   exits,
		DropOffPoints:   dropOffs,
		Insights:        insights,
		Funnels:         funnels,
		SamplingApplied: samplingApplied,
		SamplingRate:    samplingRate,
	}

	result := &Result{
		Sessions:       sessions,
		Analysis:       WorkflowAnalysis{Patterns: patterns, Transition: transition},
		Summary:        summary,
		ProcessingMs:   time.Since(start).Milliseconds(),
		Timestamp:      start,
		AppliedFilters: filter,
		Partial:        partial,
	}

	if o.cfg.EnableCaching {
		o.cache.put(key, result, start)
	}
	return result, nil
}

func (o *Orchestrator) selectStrategy(totalRows int64) Strategy {
	if totalRows <= int64(o.cfg.MaxSessionsForFullAnalysis) {
		return StrategyFull
	}
	if o.cfg.UseAggregationTables {
		return StrategyAggregated
	}
	return StrategyStreamingSampled
}

// streamSampled walks log_entries in StreamingBatchSize chunks, applying
// Bernoulli subsampling at SamplingRate, aborting with a partial result if
// MaxProcessingTimeMs is exceeded.
func (o *Orchestrator) streamSampled(ctx context.Context, fc storage.FilterCriteria, deadline time.Time) ([]storage.LogRecordRow, bool, bool, float64, error) {
	rate := o.cfg.SamplingRate
	if !o.cfg.UseSampling || rate <= 0 || rate >= 1 {
		rate = 1
	}

	var kept []storage.LogRecordRow
	var seen int64
	partial := false

	err := o.store.QueryStream(ctx, fc, o.cfg.StreamingBatchSize, func(r storage.LogRecordRow) error {
		if time.Now().After(deadline) {
			partial = true
			return errStopStream
		}
		seen++
		if rate >= 1 || bernoulliKeep(seen, rate) {
			kept = append(kept, r)
		}
		return nil
	})
	if err != nil && err != errStopStream {
		return nil, false, false, 0, err
	}
	return kept, partial, rate < 1, rate, nil
}

var errStopStream = fmt.Errorf("analysis: processing deadline exceeded")

// bernoulliKeep deterministically approximates Bernoulli(rate) sampling
// from a monotonically increasing sequence counter, avoiding a
// process-global random source so results stay reproducible.
func bernoulliKeep(seq int64, rate float64) bool {
	step := 1.0 / rate
	prevBucket := math.Floor(float64(seq-1) / step)
	bucket := math.Floor(float64(seq) / step)
	return bucket != prevBucket
}

func buildInsights(sessions []Session, patterns []WorkflowPattern, dropOffs []DropOffPoint) []Insight {
	var insights []Insight

	sortedDropOffs := append([]DropOffPoint(nil), dropOffs...)
	sort.Slice(sortedDropOffs, func(i, j int) bool { return sortedDropOffs[i].DropOffRate > sortedDropOffs[j].DropOffRate })
	for i, d := range sortedDropOffs {
		if i >= 3 || d.DropOffRate <= 0.3 {
			break
		}
		severity := "medium"
		if d.DropOffRate > 0.5 {
			severity = "high"
		}
		insights = append(insights, Insight{
			Kind:     "high_drop_off",
			Message:  fmt.Sprintf("%.0f%% of sessions exit at %s", d.DropOffRate*100, d.Endpoint),
			Severity: severity,
			Patterns: []string{d.Endpoint},
		})
	}

	sortedPatterns := append([]WorkflowPattern(nil), patterns...)
	sort.Slice(sortedPatterns, func(i, j int) bool { return sortedPatterns[i].Frequency > sortedPatterns[j].Frequency })
	if len(sortedPatterns) > 0 {
		top := sortedPatterns[0]
		insights = append(insights, Insight{
			Kind:     "common_pattern",
			Message:  fmt.Sprintf("most common workflow occurs in %d sessions", top.SupportSessions),
			Severity: "low",
			Patterns: top.Steps,
		})
	}

	errorProne := 0
	for _, p := range sortedPatterns {
		if errorProne >= 2 {
			break
		}
		if p.SuccessRate < 0.8 {
			insights = append(insights, Insight{
				Kind:     "error_prone_path",
				Message:  fmt.Sprintf("pattern succeeds only %.0f%% of the time", p.SuccessRate*100),
				Severity: "medium",
				Patterns: p.Steps,
			})
			errorProne++
		}
	}

	if len(sessions) > 0 {
		var totalMs float64
		for _, s := range sessions {
			totalMs += float64(s.Duration.Milliseconds())
		}
		mean := totalMs / float64(len(sessions))
		long := 0
		for _, s := range sessions {
			if float64(s.Duration.Milliseconds()) > mean*3 {
				long++
			}
		}
		if mean > 0 && float64(long)/float64(len(sessions)) > 0.05 {
			insights = append(insights, Insight{
				Kind:     "long_session",
				Message:  fmt.Sprintf("%d sessions (%.0f%%) run over 3x the mean session duration", long, float64(long)/float64(len(sessions))*100),
				Severity: "low",
			})
		}
	}

	return insights
}

func buildFunnels(patterns []WorkflowPattern) []Funnel {
	sorted := append([]WorkflowPattern(nil), patterns...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Frequency > sorted[j].Frequency })
	if len(sorted) > 5 {
		sorted = sorted[:5]
	}
	funnels := make([]Funnel, 0, len(sorted))
	for _, p := range sorted {
		funnels = append(funnels, Funnel{
			Name:           fmt.Sprintf("%s -> %s", p.Steps[0], p.Steps[len(p.Steps)-1]),
			Steps:          p.Steps,
			ConversionRate: p.SuccessRate,
		})
	}
	return funnels
}

// GetSession returns the session with the given ID from the most recent
// cached or freshly-computed result matching filter, or an error if no
// session has that ID.
func (o *Orchestrator) GetSession(ctx context.Context, filter Filter, opts AnalyzeOptions, sessionID string) (*Session, error) {
	result, err := o.Analyze(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	for i := range result.Sessions {
		if result.Sessions[i].SessionID == sessionID {
			return &result.Sessions[i], nil
		}
	}
	return nil, fmt.Errorf("analysis: session %q not found", sessionID)
}

// SimilarPatterns returns the patterns from a fresh Analyze call that
// share their first endpoint with the pattern identified by patternID.
func (o *Orchestrator) SimilarPatterns(ctx context.Context, filter Filter, opts AnalyzeOptions, patternID string) ([]WorkflowPattern, error) {
	result, err := o.Analyze(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var target *WorkflowPattern
	for i := range result.Analysis.Patterns {
		if result.Analysis.Patterns[i].ID == patternID {
			target = &result.Analysis.Patterns[i]
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("analysis: pattern %q not found", patternID)
	}
	var similar []WorkflowPattern
	for _, p := range result.Analysis.Patterns {
		if p.ID != target.ID && len(p.Steps) > 0 && p.Steps[0] == target.Steps[0] {
			similar = append(similar, p)
		}
	}
	return similar, nil
}
