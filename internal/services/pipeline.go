package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"salesmerge/internal/config"
	"salesmerge/internal/csvio"
	"salesmerge/internal/models"
	"salesmerge/internal/observability"
)

const (
	// SubHeaderRowIndex is the data row the sales export always fills with a
	// secondary header. It is dropped by position, not by content, so a file
	// without that row loses a real record.
	SubHeaderRowIndex = 1

	batchSize = 2000

	mappingProductCol  = 0
	mappingCategoryCol = 3
)

var (
	// ErrNoData is returned when an operation needs a main table that has not
	// been uploaded yet.
	ErrNoData = errors.New("no sales data loaded")
	// ErrUnknownCountry is returned when a selection names a country that is
	// neither "all" nor present in the data.
	ErrUnknownCountry = errors.New("unknown country")
)

// DescriptorSource picks the dataset Top-N rows take their product name,
// brand and category from.
type DescriptorSource int

const (
	// DescriptorsUnfiltered uses the first record of the whole table, even if
	// it ships to a different country than the filter.
	DescriptorsUnfiltered DescriptorSource = iota
	// DescriptorsFiltered uses the first record inside the country filter.
	DescriptorsFiltered
)

func (d DescriptorSource) String() string {
	if d == DescriptorsFiltered {
		return "filtered"
	}
	return "unfiltered"
}

func ParseDescriptorSource(s string) (DescriptorSource, error) {
	switch strings.ToLower(s) {
	case "", "unfiltered":
		return DescriptorsUnfiltered, nil
	case "filtered":
		return DescriptorsFiltered, nil
	}
	return DescriptorsUnfiltered, fmt.Errorf("unknown descriptor source %q", s)
}

type Options struct {
	Coercion      CoercionPolicy
	Descriptors   DescriptorSource
	DropSubHeader bool
	DefaultTopN   int
	Workers       int
}

func DefaultOptions() Options {
	return Options{
		Coercion:      CoercionLenient,
		Descriptors:   DescriptorsUnfiltered,
		DropSubHeader: true,
		DefaultTopN:   5,
		Workers:       4,
	}
}

// OptionsFromConfig converts validated pipeline configuration.
func OptionsFromConfig(cfg config.PipelineConfig) (Options, error) {
	coercion, err := ParseCoercionPolicy(cfg.Coercion)
	if err != nil {
		return Options{}, err
	}
	descriptors, err := ParseDescriptorSource(cfg.Descriptors)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Coercion:      coercion,
		Descriptors:   descriptors,
		DropSubHeader: cfg.DropSubHeader,
		DefaultTopN:   cfg.DefaultTopN,
		Workers:       cfg.Workers,
	}, nil
}

// RowError describes a rejected main-table row. Line counts the header as
// line 1.
type RowError struct {
	Line  int    `json:"line"`
	Field string `json:"field"`
	Value string `json:"value"`
	Err   string `json:"error"`
}

type IngestReport struct {
	Kind             string     `json:"kind"`
	Rows             int        `json:"rows"`
	SubHeaderDropped bool       `json:"sub_header_dropped"`
	CoercionFailures int        `json:"coercion_failures"`
	Rejected         []RowError `json:"rejected,omitempty"`
	Warnings         []string   `json:"warnings,omitempty"`
	Countries        int        `json:"countries,omitempty"`
	Mapped           int        `json:"mapped,omitempty"`
	Backfilled       int        `json:"backfilled,omitempty"`
	Duration         string     `json:"duration"`
}

// Settings is the user's current Top-N selection.
type Settings struct {
	Country string `json:"country"`
	TopN    int    `json:"top_n"`
}

// Pipeline owns one user's merge state: the main records, the category
// mapping, the derived country list and the Top-N selection. Every method
// runs to completion under the pipeline lock, so uploads for the same
// pipeline never interleave.
type Pipeline struct {
	mu         sync.Mutex
	opts       Options
	logger     *slog.Logger
	records    []models.SalesRecord
	loaded     bool
	categories models.CategoryMap
	countries  []string
	settings   Settings
	updated    time.Time
}

func NewPipeline(opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Pipeline{
		opts:       opts,
		logger:     logger,
		categories: models.CategoryMap{},
		settings:   Settings{TopN: opts.DefaultTopN},
	}
}

var mainColumns = [][]string{
	{models.ColSaleDate},
	{models.ColOrderDateTime},
	{models.ColOrderID},
	{models.ColBrand},
	{models.ColPromoCode},
	{models.ColProductID},
	{models.ColProductName},
	{models.ColQuantity},
	{models.ColShipCountry},
	{models.ColAmount, models.ColAmountAlt},
}

// IngestMain replaces the record collection with the normalised rows of a
// main-table upload and recomputes the country list.
func (p *Pipeline) IngestMain(ctx context.Context, table *csvio.Table) (IngestReport, error) {
	ctx, span := observability.StartSpan(ctx, "pipeline.ingest_main")
	defer span.End(p.logger)

	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	report := IngestReport{Kind: "main"}

	if p.opts.DropSubHeader && table.Len() > SubHeaderRowIndex {
		table = table.Without(SubHeaderRowIndex)
		report.SubHeaderDropped = true
	}
	for _, issue := range csvio.MissingColumns(table, mainColumns...) {
		report.Warnings = append(report.Warnings, issue.String())
	}

	records, failures, rejected, err := p.normalize(ctx, table, report.SubHeaderDropped)
	if err != nil {
		span.SetError(err)
		return IngestReport{}, fmt.Errorf("normalize rows: %w", err)
	}

	p.records = records
	p.loaded = true
	p.countries = countryIndex(records)
	p.settings.Country = ""
	if len(p.countries) > 0 {
		p.settings.Country = p.countries[0]
	}
	p.updated = time.Now()

	report.Rows = len(records)
	report.CoercionFailures = failures
	report.Rejected = rejected
	report.Countries = len(p.countries)
	report.Duration = time.Since(start).String()

	span.SetTag("rows", fmt.Sprint(report.Rows))
	p.logger.Info("main table ingested",
		"rows", report.Rows,
		"coercion_failures", failures,
		"rejected", len(rejected),
		"countries", report.Countries,
		"duration", time.Since(start),
	)
	return report, nil
}

type normalized struct {
	record   models.SalesRecord
	amount   FieldResult
	rejected bool
}

// normalize converts rows in parallel batches; results keep file order.
func (p *Pipeline) normalize(ctx context.Context, table *csvio.Table, dropped bool) ([]models.SalesRecord, int, []RowError, error) {
	out := make([]normalized, table.Len())

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)

	for lo := 0; lo < table.Len(); lo += batchSize {
		hi := min(lo+batchSize, table.Len())
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				out[i] = p.normalizeRow(table, i)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, nil, err
	}

	records := make([]models.SalesRecord, 0, len(out))
	var failures int
	var rejected []RowError
	for i, n := range out {
		if n.amount.OK() {
			records = append(records, n.record)
			continue
		}
		failures++
		if !n.rejected {
			records = append(records, n.record)
			continue
		}
		rejected = append(rejected, RowError{
			Line:  fileLine(i, dropped),
			Field: models.ColAmount,
			Value: n.amount.Raw,
			Err:   n.amount.Err.Error(),
		})
	}
	return records, failures, rejected, nil
}

func (p *Pipeline) normalizeRow(table *csvio.Table, i int) normalized {
	get := func(name string) string {
		v, _ := table.Value(i, name)
		return v
	}

	raw, ok := table.Value(i, models.ColAmount)
	if !ok || raw == "" {
		raw = get(models.ColAmountAlt)
	}
	amount := parseNumber(raw)

	productID := get(models.ColProductID)
	return normalized{
		record: models.SalesRecord{
			SaleDate:      get(models.ColSaleDate),
			OrderDateTime: get(models.ColOrderDateTime),
			OrderID:       sanitizeOrderID(get(models.ColOrderID)),
			Brand:         get(models.ColBrand),
			PromoCode:     get(models.ColPromoCode),
			ProductID:     productID,
			ProductName:   get(models.ColProductName),
			Quantity:      get(models.ColQuantity),
			ShipCountry:   get(models.ColShipCountry),
			AmountKRW:     amount.Value,
			Category:      p.categories[productID],
		},
		amount:   amount,
		rejected: !amount.OK() && p.opts.Coercion == CoercionStrict,
	}
}

// fileLine maps a post-drop data index back to its line in the upload.
func fileLine(i int, dropped bool) int {
	if dropped && i >= SubHeaderRowIndex {
		i++
	}
	return i + 2
}

// IngestMapping replaces the category mapping and back-fills the category
// of every loaded record that the new mapping covers. Records whose product
// is not in the mapping keep their category.
func (p *Pipeline) IngestMapping(ctx context.Context, table *csvio.Table) (IngestReport, error) {
	_, span := observability.StartSpan(ctx, "pipeline.ingest_mapping")
	defer span.End(p.logger)

	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	report := IngestReport{Kind: "mapping"}

	productCol := table.Column(models.ColProductID)
	if productCol < 0 {
		productCol = mappingProductCol
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("column %q not found, using column %d", models.ColProductID, mappingProductCol+1))
	}
	categoryCol := table.Column(models.ColCategory)
	if categoryCol < 0 {
		categoryCol = mappingCategoryCol
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("column %q not found, using column %d", models.ColCategory, mappingCategoryCol+1))
	}

	categories := make(models.CategoryMap, table.Len())
	for i := range table.Rows {
		productID, ok := table.At(i, productCol)
		if !ok {
			report.Warnings = append(report.Warnings, fmt.Sprintf("line %d: no product id", i+2))
			continue
		}
		category, _ := table.At(i, categoryCol)
		categories[productID] = category
	}
	p.categories = categories

	for i := range p.records {
		// An empty mapped category counts as unmapped.
		if c := categories[p.records[i].ProductID]; c != "" {
			p.records[i].Category = c
			report.Backfilled++
		}
	}
	p.updated = time.Now()

	report.Rows = table.Len()
	report.Mapped = len(categories)
	report.Duration = time.Since(start).String()

	p.logger.Info("category mapping ingested",
		"rows", report.Rows,
		"mapped", report.Mapped,
		"backfilled", report.Backfilled,
		"duration", time.Since(start),
	)
	return report, nil
}

// countryIndex lists distinct ship countries in first-seen order.
func countryIndex(records []models.SalesRecord) []string {
	seen := make(map[string]struct{})
	var countries []string
	for _, r := range records {
		if _, ok := seen[r.ShipCountry]; ok {
			continue
		}
		seen[r.ShipCountry] = struct{}{}
		countries = append(countries, r.ShipCountry)
	}
	return countries
}

// Loaded reports whether a main table has been ingested.
func (p *Pipeline) Loaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}

// Records returns a copy of the merged records.
func (p *Pipeline) Records() ([]models.SalesRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.loaded {
		return nil, ErrNoData
	}
	return slices.Clone(p.records), nil
}

// Categories returns a copy of the current mapping.
func (p *Pipeline) Categories() models.CategoryMap {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(models.CategoryMap, len(p.categories))
	for k, v := range p.categories {
		out[k] = v
	}
	return out
}

// Countries returns the country list and the current selection.
func (p *Pipeline) Countries() ([]string, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.countries), p.settings.Country
}

func (p *Pipeline) Settings() Settings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings
}

// Select stores a new Top-N selection. topN is not bounds-checked; values
// <= 0 simply produce empty results.
func (p *Pipeline) Select(country string, topN int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// An empty country means nothing is selected yet.
	if country != "" && country != models.AllCountries && !slices.Contains(p.countries, country) {
		return fmt.Errorf("%w: %q", ErrUnknownCountry, country)
	}
	p.settings = Settings{Country: country, TopN: topN}
	return nil
}

// TopN ranks the loaded records for a country filter.
func (p *Pipeline) TopN(ctx context.Context, country string, n int) ([]models.TopNRow, error) {
	_, span := observability.StartSpan(ctx, "pipeline.top_n")
	defer span.End(p.logger)
	span.SetTag("country", country)

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.loaded || country == "" {
		return nil, ErrNoData
	}
	return RankTopN(p.records, country, n, p.opts.Descriptors), nil
}

func (p *Pipeline) Stats() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()

	return map[string]any{
		"loaded":       p.loaded,
		"record_count": len(p.records),
		"mapped":       len(p.categories),
		"countries":    len(p.countries),
		"country":      p.settings.Country,
		"top_n":        p.settings.TopN,
		"last_updated": p.updated,
	}
}
