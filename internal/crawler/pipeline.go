package crawler

import (
	"context"
	"log/slog"

	"github.com/JdoesTech/bookstoscrape/internal/detector"
	"github.com/JdoesTech/bookstoscrape/pkg/types"
)

// Pipeline runs one full pass: crawl the site, then feed every extracted
// book through change detection and attach the resulting records to the
// report.
type Pipeline struct {
	engine   *Engine
	detector *detector.Detector
	logger   *slog.Logger
}

// NewPipeline combines a crawl engine with a change detector.
func NewPipeline(engine *Engine, det *detector.Detector, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{engine: engine, detector: det, logger: logger}
}

// Run executes the pipeline. The report is returned even when the crawl was
// interrupted so that partial results remain observable.
func (p *Pipeline) Run(ctx context.Context) (*types.CrawlReport, error) {
	report, err := p.engine.Run(ctx)
	if err != nil {
		return report, err
	}
	if p.detector != nil {
		report.Changes = p.detector.ProcessAll(ctx, report.Books)
	}
	p.logChangeSummary(report.Changes)
	return report, ctx.Err()
}

func (p *Pipeline) logChangeSummary(changes []types.ChangeRecord) {
	if len(changes) == 0 {
		p.logger.Info("no changes detected")
		return
	}
	byKind := make(map[types.ChangeKind]int)
	for _, c := range changes {
		byKind[c.Kind]++
	}
	attrs := []any{"total", len(changes)}
	for _, kind := range []types.ChangeKind{
		types.ChangeNewItem, types.ChangePrice, types.ChangeAvailability,
		types.ChangeMetadata, types.ChangeRating, types.ChangeOther,
	} {
		if n := byKind[kind]; n > 0 {
			attrs = append(attrs, string(kind), n)
		}
	}
	p.logger.Info("change summary", attrs...)
}
