// Package pipeline runs the annotation batch: it enriches matched variants
// with validity, frequency and literature evidence and interprets each row.
package pipeline

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/variant-interpretation-server/internal/domain"
	"github.com/variant-interpretation-server/internal/matcher"
	"github.com/variant-interpretation-server/internal/reference"
)

const defaultWorkers = 4

// RowInterpreter produces the narrative interpretation for one annotated row
type RowInterpreter interface {
	Interpret(ctx context.Context, rec domain.AnnotatedRecord) string
}

// ProgressFunc receives each finished record. Calls are made in input order
// and never concurrently.
type ProgressFunc func(index int, rec domain.AnnotatedRecord)

// LinkFunc renders an external browser link for a variant
type LinkFunc func(domain.Variant) string

// Aggregator enriches matched variants using a bounded pool of workers.
type Aggregator struct {
	validity    *reference.ValidityTable
	frequency   domain.FrequencySource
	literature  domain.LiteratureSource
	link        LinkFunc
	interpreter RowInterpreter
	workers     int
	logger      *logrus.Logger
}

// AggregatorOption configures an Aggregator
type AggregatorOption func(*Aggregator)

// WithWorkers sets the worker pool size; 1 processes rows sequentially
func WithWorkers(n int) AggregatorOption {
	return func(a *Aggregator) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithInterpreter runs interpreter on every row after enrichment
func WithInterpreter(interpreter RowInterpreter) AggregatorOption {
	return func(a *Aggregator) { a.interpreter = interpreter }
}

// WithLink attaches a browser link to every enriched row
func WithLink(link LinkFunc) AggregatorOption {
	return func(a *Aggregator) { a.link = link }
}

// NewAggregator creates an aggregator over the given evidence sources
func NewAggregator(validity *reference.ValidityTable, frequency domain.FrequencySource, literature domain.LiteratureSource, logger *logrus.Logger, opts ...AggregatorOption) *Aggregator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	a := &Aggregator{
		validity:   validity,
		frequency:  frequency,
		literature: literature,
		workers:    defaultWorkers,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Annotate enriches the matched pairs and returns one record per matched pair
// in input order. Unmatched pairs are skipped. A failure in one row is
// recorded on that row and never affects the others.
//
// When ctx is cancelled no new rows are started and Annotate returns the
// records completed before cancellation, still in input order, together with
// ctx.Err().
func (a *Aggregator) Annotate(ctx context.Context, pairs []matcher.Pair, progress ProgressFunc) ([]domain.AnnotatedRecord, error) {
	matched := make([]matcher.Pair, 0, len(pairs))
	for _, p := range pairs {
		if p.Matched() {
			matched = append(matched, p)
		}
	}

	results := make([]domain.AnnotatedRecord, len(matched))
	emitter := newOrderedEmitter(len(matched), progress)

	g := new(errgroup.Group)
	g.SetLimit(a.workers)

	for i, pair := range matched {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				emitter.skip(i)
				return nil
			}
			rec := a.annotateRow(ctx, pair)
			if ctx.Err() != nil {
				emitter.skip(i)
				return nil
			}
			results[i] = rec
			emitter.done(i, rec)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		completed := emitter.completed()
		partial := make([]domain.AnnotatedRecord, 0, len(completed))
		for _, i := range completed {
			partial = append(partial, results[i])
		}
		a.logger.WithFields(logrus.Fields{
			"completed": len(partial),
			"matched":   len(matched),
		}).Warn("Annotation cancelled")
		return partial, err
	}
	return results, nil
}

// annotateRow gathers the evidence for one matched pair. Frequency and
// literature lookups run concurrently.
func (a *Aggregator) annotateRow(ctx context.Context, pair matcher.Pair) domain.AnnotatedRecord {
	rec := domain.AnnotatedRecord{
		Variant:  pair.Variant,
		Matched:  true,
		Clinical: pair.Record,
		Validity: a.validity.Classify(pair.Record.Gene),
	}

	if a.link != nil {
		rec.GnomADLink = a.link(pair.Variant)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		rec.Frequency = a.frequency.FetchFrequency(ctx, pair.Variant)
	}()
	go func() {
		defer wg.Done()
		rec.Literature = a.literature.FetchReferences(ctx, pair.Record.RecordID)
	}()
	wg.Wait()

	rec.Warnings = append(rec.Warnings, rec.FetchWarnings()...)
	for _, w := range rec.Warnings {
		a.logger.WithFields(logrus.Fields{
			"variant":   pair.Variant.String(),
			"record_id": pair.Record.RecordID.String,
		}).Warn(w)
	}

	if a.interpreter != nil && ctx.Err() == nil {
		rec.Interpretation = a.interpreter.Interpret(ctx, rec)
	}
	return rec
}

// orderedEmitter forwards finished rows to a progress callback in input
// order, holding back rows that finish ahead of earlier ones.
type orderedEmitter struct {
	mu       sync.Mutex
	progress ProgressFunc
	state    []rowState
	records  []domain.AnnotatedRecord
	next     int
}

type rowState uint8

const (
	rowPending rowState = iota
	rowDone
	rowSkipped
)

func newOrderedEmitter(n int, progress ProgressFunc) *orderedEmitter {
	return &orderedEmitter{
		progress: progress,
		state:    make([]rowState, n),
		records:  make([]domain.AnnotatedRecord, n),
	}
}

func (e *orderedEmitter) done(i int, rec domain.AnnotatedRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state[i] = rowDone
	e.records[i] = rec
	e.flush()
}

func (e *orderedEmitter) skip(i int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state[i] = rowSkipped
	e.flush()
}

func (e *orderedEmitter) flush() {
	for e.next < len(e.state) && e.state[e.next] != rowPending {
		if e.state[e.next] == rowDone && e.progress != nil {
			e.progress(e.next, e.records[e.next])
		}
		e.records[e.next] = domain.AnnotatedRecord{}
		e.next++
	}
}

// completed returns the indexes of finished rows in ascending order
func (e *orderedEmitter) completed() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []int
	for i, s := range e.state {
		if s == rowDone {
			out = append(out, i)
		}
	}
	return out
}
