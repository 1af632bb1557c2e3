package learning

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Prediction thresholds on success rate.
const (
	likelySuccessRate = 0.7
	likelyFailureRate = 0.3
)

// Timing predictions treat a mean actual/estimate ratio within this band
// around 1 as accurate.
const timingTolerance = 0.1

// Extractor derives candidate patterns from execution history.
//
// Extraction is a pure function of the input records and the config
// (apart from CreatedAt); it never fails.
type Extractor struct {
	cfg     Config
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithExtractorMetrics sets the metrics recorder.
func WithExtractorMetrics(m *Metrics) ExtractorOption {
	return func(e *Extractor) {
		e.metrics = m
	}
}

// WithExtractorClock sets the clock used for CreatedAt.
func WithExtractorClock(now func() time.Time) ExtractorOption {
	return func(e *Extractor) {
		if now != nil {
			e.now = now
		}
	}
}

// NewExtractor creates an Extractor.
func NewExtractor(cfg Config, logger *zap.Logger, opts ...ExtractorOption) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Extractor{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// extractionStats summarizes one extraction pass.
type extractionStats struct {
	groups       int
	undersampled int
	redundant    int
}

// ExtractAllPatterns groups records along every grouping dimension and
// emits success-rate and timing patterns for each group with at least
// MinGroupSize members.
//
// Output is sorted by confidence (descending) then ID. Empty input yields
// an empty, non-nil slice.
func (e *Extractor) ExtractAllPatterns(records []ExecutionRecord) []Pattern {
	patterns, _ := e.extract(context.Background(), records)
	return patterns
}

func (e *Extractor) extract(ctx context.Context, records []ExecutionRecord) ([]Pattern, extractionStats) {
	var stats extractionStats
	patterns := make([]Pattern, 0)
	if len(records) == 0 {
		return patterns, stats
	}

	groups := groupRecords(records)
	stats.groups = len(groups)
	createdAt := e.now().UTC()

	// Groups come most specific first, so the first condition to claim a
	// member set is the one kept.
	seen := map[PatternType]map[string]bool{
		PatternTypeSuccessRate: {},
		PatternTypeTiming:      {},
	}
	claim := func(t PatternType, members []int) bool {
		key := memberKey(members)
		if seen[t][key] {
			stats.redundant++
			return false
		}
		seen[t][key] = true
		return true
	}

	for _, g := range groups {
		if len(g.members) < e.cfg.MinGroupSize {
			stats.undersampled++
			e.logger.Debug("dropping undersampled group",
				zap.String("condition", g.cond.Key()),
				zap.Int("size", len(g.members)),
				zap.Int("min_group_size", e.cfg.MinGroupSize))
			continue
		}

		if claim(PatternTypeSuccessRate, g.members) {
			patterns = append(patterns, e.successRatePattern(g, records, createdAt))
		}

		timed := make([]int, 0, len(g.members))
		for _, i := range g.members {
			if records[i].timed() {
				timed = append(timed, i)
			}
		}
		if len(timed) >= e.cfg.MinGroupSize && claim(PatternTypeTiming, timed) {
			patterns = append(patterns, e.timingPattern(g, timed, records, createdAt))
		}
	}

	sortPatterns(patterns)

	var successRate, timing int
	for _, p := range patterns {
		if p.Type == PatternTypeTiming {
			timing++
		} else {
			successRate++
		}
	}
	e.metrics.recordPatterns(ctx, PatternTypeSuccessRate, successRate)
	e.metrics.recordPatterns(ctx, PatternTypeTiming, timing)
	e.metrics.recordUndersampled(ctx, stats.undersampled)

	e.logger.Debug("extracted patterns",
		zap.Int("records", len(records)),
		zap.Int("groups", stats.groups),
		zap.Int("undersampled", stats.undersampled),
		zap.Int("redundant", stats.redundant),
		zap.Int("patterns", len(patterns)))

	return patterns, stats
}

func (e *Extractor) successRatePattern(g *recordGroup, records []ExecutionRecord, createdAt time.Time) Pattern {
	n := len(g.members)
	successes := 0
	for _, i := range g.members {
		if records[i].Success {
			successes++
		}
	}
	rate := clampUnit(float64(successes) / float64(n))
	label := g.label()

	return Pattern{
		ID:   PatternID(PatternTypeSuccessRate, g.cond),
		Name: "Success rate: " + label,
		Type: PatternTypeSuccessRate,
		Description: fmt.Sprintf("Tasks with %s succeeded %d of %d times (%.0f%%)",
			label, successes, n, rate*100),
		Condition:       g.cond.Clone(),
		Prediction:      successPrediction(rate),
		SuccessRate:     rate,
		SampleSize:      n,
		ConfidenceScore: ConfidenceScore(rate, n, e.cfg.PriorStrength),
		CreatedAt:       createdAt,
	}
}

func (e *Extractor) timingPattern(g *recordGroup, timed []int, records []ExecutionRecord, createdAt time.Time) Pattern {
	n := len(timed)
	onTime := 0
	ratioSum := 0.0
	for _, i := range timed {
		r := records[i]
		if r.ActualMinutes <= r.EstimatedMinutes {
			onTime++
		}
		ratioSum += r.ActualMinutes / r.EstimatedMinutes
	}
	rate := clampUnit(float64(onTime) / float64(n))
	meanRatio := ratioSum / float64(n)
	label := g.label()

	return Pattern{
		ID:   PatternID(PatternTypeTiming, g.cond),
		Name: "Timing: " + label,
		Type: PatternTypeTiming,
		Description: fmt.Sprintf("Tasks with %s finished within estimate %d of %d times; actual effort averaged %.2fx the estimate",
			label, onTime, n, meanRatio),
		Condition:       g.cond.Clone(),
		Prediction:      timingPrediction(meanRatio),
		SuccessRate:     rate,
		SampleSize:      n,
		ConfidenceScore: ConfidenceScore(rate, n, e.cfg.PriorStrength),
		CreatedAt:       createdAt,
	}
}

func successPrediction(rate float64) string {
	pct := rate * 100
	switch {
	case rate >= likelySuccessRate:
		return fmt.Sprintf("likely to succeed (%.0f%% success rate)", pct)
	case rate <= likelyFailureRate:
		return fmt.Sprintf("likely to fail (%.0f%% success rate)", pct)
	default:
		return fmt.Sprintf("uncertain outcome (%.0f%% success rate)", pct)
	}
}

func timingPrediction(meanRatio float64) string {
	switch {
	case meanRatio > 1+timingTolerance:
		return fmt.Sprintf("expect overrun: actual effort averages %.0f%% over estimate", (meanRatio-1)*100)
	case meanRatio < 1-timingTolerance:
		return fmt.Sprintf("expect underrun: actual effort averages %.0f%% under estimate", (1-meanRatio)*100)
	default:
		return "estimates are accurate to within 10%"
	}
}

// sortPatterns orders by confidence descending, then ID.
func sortPatterns(patterns []Pattern) {
	sort.SliceStable(patterns, func(i, j int) bool {
		if patterns[i].ConfidenceScore != patterns[j].ConfidenceScore {
			return patterns[i].ConfidenceScore > patterns[j].ConfidenceScore
		}
		return patterns[i].ID < patterns[j].ID
	})
}

// groupAttr is one constraint a record satisfies.
type groupAttr struct {
	key   string
	value any
	token string
	label string
}

type attributeFunc func(ExecutionRecord) (groupAttr, bool)

// dimensions are the attribute combinations records are grouped by.
var dimensions = [][]attributeFunc{
	{priorityAttribute},
	{categoryAttribute},
	{durationAttribute},
	{priorityAttribute, durationAttribute},
	{categoryAttribute, priorityAttribute},
}

func priorityAttribute(r ExecutionRecord) (groupAttr, bool) {
	v := normalize(r.Priority)
	if v == "" {
		return groupAttr{}, false
	}
	return groupAttr{key: "priority", value: v, token: "priority=" + v, label: "priority " + v}, true
}

func categoryAttribute(r ExecutionRecord) (groupAttr, bool) {
	v := normalize(r.Category)
	if v == "" {
		return groupAttr{}, false
	}
	return groupAttr{key: "category", value: v, token: "category=" + v, label: "category " + v}, true
}

// Duration buckets on estimated minutes: [0,30), [30,120), [120,inf).
const (
	shortTaskMinutes = 30.0
	longTaskMinutes  = 120.0
)

func durationAttribute(r ExecutionRecord) (groupAttr, bool) {
	est := r.EstimatedMinutes
	if !finitePositive(est) {
		return groupAttr{}, false
	}
	a := groupAttr{key: "estimated_minutes"}
	switch {
	case est < shortTaskMinutes:
		a.value = map[string]any{"<": shortTaskMinutes}
		a.token = "duration=short"
		a.label = "estimate under 30 minutes"
	case est < longTaskMinutes:
		a.value = map[string]any{">=": shortTaskMinutes, "<": longTaskMinutes}
		a.token = "duration=medium"
		a.label = "estimate of 30-120 minutes"
	default:
		a.value = map[string]any{">=": longTaskMinutes}
		a.token = "duration=long"
		a.label = "estimate of 120+ minutes"
	}
	return a, true
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// recordGroup is the set of records (by index) satisfying a condition.
type recordGroup struct {
	cond    Condition
	labels  []string
	members []int
}

func (g *recordGroup) label() string {
	return strings.Join(g.labels, " and ")
}

// groupRecords builds every candidate group, ordered most specific first
// and then by canonical condition.
func groupRecords(records []ExecutionRecord) []*recordGroup {
	byKey := make(map[string]*recordGroup)

	for i, r := range records {
		for _, dim := range dimensions {
			attrs := make([]groupAttr, 0, len(dim))
			for _, fn := range dim {
				a, ok := fn(r)
				if !ok {
					break
				}
				attrs = append(attrs, a)
			}
			if len(attrs) != len(dim) {
				continue
			}

			tokens := make([]string, len(attrs))
			for j, a := range attrs {
				tokens[j] = a.token
			}
			key := strings.Join(tokens, "&")

			g, ok := byKey[key]
			if !ok {
				g = &recordGroup{cond: Condition{}}
				for _, a := range attrs {
					g.cond[a.key] = a.value
					g.labels = append(g.labels, a.label)
				}
				byKey[key] = g
			}
			g.members = append(g.members, i)
		}
	}

	groups := make([]*recordGroup, 0, len(byKey))
	for _, g := range byKey {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if len(groups[i].cond) != len(groups[j].cond) {
			return len(groups[i].cond) > len(groups[j].cond)
		}
		return groups[i].cond.Key() < groups[j].cond.Key()
	})
	return groups
}

func memberKey(members []int) string {
	var b strings.Builder
	for i, m := range members {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(m))
	}
	return b.String()
}
