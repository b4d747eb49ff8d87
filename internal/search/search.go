// Package search answers similarity queries over source summaries. Summary
// text is embedded with the OpenAI embeddings API and stored in a Milvus
// collection together with redshift and classification metadata. A query
// embeds its text (or reuses an obj's stored vector) and runs a top-k inner
// product search, optionally filtered by a boolean metadata expression.
package search

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/skyhub/skyhub-go/internal/conf"
	"github.com/skyhub/skyhub-go/internal/datastore"
	"github.com/skyhub/skyhub-go/internal/errors"
	"github.com/skyhub/skyhub-go/internal/logging"
	"github.com/skyhub/skyhub-go/internal/observability/metrics"
)

const componentName = "search"

var (
	serviceLogger *slog.Logger
	closeLogger   func() error
)

func init() {
	var err error
	serviceLogger, closeLogger, err = logging.NewFileLogger("logs/search.log", componentName, slog.LevelDebug)
	if err != nil || serviceLogger == nil {
		serviceLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))
		closeLogger = func() error { return nil }
	}
}

// CloseLogger releases the package's file logger.
func CloseLogger() error {
	return closeLogger()
}

// Query modes as they appear on the metrics "mode" label.
const (
	modeText   = "text"
	modeObject = "object"
)

// Metric status and cache outcome label values.
const (
	statusSuccess = "success"
	statusError   = "error"
	cacheHit      = "hit"
	cacheMiss     = "miss"
)

const (
	defaultK        = 5
	maxK            = 100
	defaultCacheTTL = 15 * time.Minute

	// unknownRedshift marks vectors of objs without a measured redshift.
	// Milvus scalar fields always carry a value, so absence needs a sentinel.
	unknownRedshift = -1.0
)

// Request is the body of a summary similarity query. Exactly one of Q and
// ObjID must be set.
type Request struct {
	Q                   string   `json:"q"`
	ObjID               string   `json:"objID"`
	K                   *int     `json:"k"`
	ZMin                *float64 `json:"z_min"`
	ZMax                *float64 `json:"z_max"`
	ClassificationTypes []string `json:"classificationTypes"`
}

// Result is one scored source out of the vector index.
type Result struct {
	ObjID    string         `json:"objID"`
	Score    float32        `json:"score"`
	Metadata ResultMetadata `json:"metadata"`
}

// ResultMetadata carries the scalar metadata stored alongside each vector.
type ResultMetadata struct {
	Redshift *float64 `json:"redshift,omitempty"`
	Class    string   `json:"class,omitempty"`
}

// embedder turns text into an embedding vector.
type embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// summarizer drafts a prose summary from a factual source description.
type summarizer interface {
	Summarize(ctx context.Context, facts string) (string, error)
}

// searchMatch is one scored row returned by the vector index.
type searchMatch struct {
	ObjID    string
	Score    float32
	Redshift float64
	Class    string
}

// indexRecord is the vector plus scalar metadata stored per obj.
type indexRecord struct {
	ObjID     string
	Embedding []float32
	Redshift  float64
	Class     string
}

// vectorIndex is the slice of the vector database the service depends on.
type vectorIndex interface {
	Search(ctx context.Context, vector []float32, k int, expr string) ([]searchMatch, error)
	Fetch(ctx context.Context, objID string) ([]float32, error)
	Insert(ctx context.Context, rec indexRecord) error
	Remove(ctx context.Context, objID string) error
	Ping(ctx context.Context) error
	Close() error
}

// Service runs summary similarity queries and keeps the vector index in
// step with the datastore.
type Service struct {
	settings   conf.SearchSettings
	ds         datastore.Interface
	embedder   embedder
	summarizer summarizer
	index      vectorIndex
	cache      *cache.Cache
	metrics    *metrics.SearchMetrics
}

// New connects the OpenAI and Milvus clients and makes sure the summary
// collection exists. The datastore supplies obj facts for indexing.
func New(ctx context.Context, settings conf.SearchSettings, ds datastore.Interface, m *metrics.SearchMetrics) (*Service, error) {
	if ds == nil {
		return nil, errors.Newf("search requires a datastore").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if settings.Milvus.Address == "" {
		return nil, errors.Newf("search requires a milvus address").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}

	ai, err := newOpenAIClient(settings.OpenAI, m)
	if err != nil {
		return nil, err
	}
	index, err := newMilvusIndex(ctx, settings.Milvus)
	if err != nil {
		return nil, err
	}

	ttl := settings.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	serviceLogger.Info("search service initialized",
		"milvus_address", settings.Milvus.Address,
		"collection", settings.Milvus.Collection,
		"embedding_model", string(ai.embeddingModel),
		"summarize", settings.OpenAI.Summarize,
		"cache_ttl", ttl)

	return &Service{
		settings:   settings,
		ds:         ds,
		embedder:   ai,
		summarizer: ai,
		index:      index,
		cache:      cache.New(ttl, 2*ttl),
		metrics:    m,
	}, nil
}

// Query runs one similarity search. A text query is embedded (with a TTL
// cache on the normalized text); an objID query reuses that obj's stored
// vector and drops the obj itself from the results. Results come back
// ordered by score, best first.
func (s *Service) Query(ctx context.Context, req *Request) ([]Result, error) {
	hasQ := strings.TrimSpace(req.Q) != ""
	hasObjID := strings.TrimSpace(req.ObjID) != ""
	if !hasQ && !hasObjID {
		return nil, queryValidationError(`one of "q" or "objID" is required`)
	}
	if hasQ && hasObjID {
		return nil, queryValidationError(`cannot specify both "q" and "objID"`)
	}

	k := defaultK
	if req.K != nil {
		k = *req.K
	}
	if k < 1 || k > maxK {
		return nil, queryValidationError(fmt.Sprintf("k must be between 1 and %d", maxK))
	}
	if req.ZMin != nil && req.ZMax != nil && *req.ZMin > *req.ZMax {
		return nil, queryValidationError("z_min must be less than or equal to z_max")
	}

	mode := modeText
	if hasObjID {
		mode = modeObject
	}
	expr := buildFilterExpr(req.ZMin, req.ZMax, req.ClassificationTypes)

	started := time.Now()
	results, err := s.run(ctx, req, mode, k, expr)
	if err != nil {
		s.recordQuery(mode, statusError)
		return nil, err
	}
	s.recordQuery(mode, statusSuccess)
	s.recordStage(metrics.SearchStageTotal, started)
	s.recordResultSize(mode, len(results))

	serviceLogger.Debug("summary query served",
		"mode", mode, "k", k, "expr", expr, "results", len(results))
	return results, nil
}

func (s *Service) run(ctx context.Context, req *Request, mode string, k int, expr string) ([]Result, error) {
	var vector []float32
	var err error
	topK := k
	if mode == modeText {
		vector, err = s.embedQuery(ctx, req.Q)
	} else {
		// The queried obj usually matches itself, so ask for one extra row.
		topK = k + 1
		vector, err = s.index.Fetch(ctx, req.ObjID)
	}
	if err != nil {
		return nil, err
	}

	queryStart := time.Now()
	matches, err := s.index.Search(ctx, vector, topK, expr)
	if err != nil {
		return nil, err
	}
	s.recordStage(metrics.SearchStageVectorQuery, queryStart)

	results := make([]Result, 0, k)
	for _, m := range matches {
		if mode == modeObject && m.ObjID == req.ObjID {
			continue
		}
		results = append(results, toResult(m))
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// embedQuery embeds query text, caching vectors by the normalized text so
// repeated queries skip the embeddings API.
func (s *Service) embedQuery(ctx context.Context, q string) ([]float32, error) {
	key := normalizeQuery(q)
	if cached, found := s.cache.Get(key); found {
		if vector, ok := cached.([]float32); ok {
			s.recordCache(cacheHit)
			return vector, nil
		}
	}
	s.recordCache(cacheMiss)

	started := time.Now()
	vector, err := s.embedder.Embed(ctx, q)
	if err != nil {
		return nil, err
	}
	s.recordStage(metrics.SearchStageEmbedding, started)
	s.cache.Set(key, vector, cache.DefaultExpiration)
	return vector, nil
}

// Ping reports whether the vector index is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.index.Ping(ctx)
}

// Close releases the vector index connection.
func (s *Service) Close() error {
	return s.index.Close()
}

// buildFilterExpr combines the optional redshift bounds and classification
// list into a Milvus boolean expression. An empty string means no filter.
func buildFilterExpr(zMin, zMax *float64, classes []string) string {
	var clauses []string
	if zMin != nil {
		clauses = append(clauses, fmt.Sprintf("%s >= %s", fieldRedshift, formatFloat(*zMin)))
	}
	if zMax != nil {
		clauses = append(clauses, fmt.Sprintf("%s <= %s", fieldRedshift, formatFloat(*zMax)))
	}
	if len(classes) > 0 {
		quoted := make([]string, len(classes))
		for i, class := range classes {
			quoted[i] = strconv.Quote(class)
		}
		clauses = append(clauses, fmt.Sprintf("%s in [%s]", fieldClass, strings.Join(quoted, ", ")))
	}
	return strings.Join(clauses, " && ")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// normalizeQuery folds case and collapses whitespace so trivially reworded
// queries share a cache entry.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

func toResult(m searchMatch) Result {
	result := Result{ObjID: m.ObjID, Score: m.Score}
	if m.Redshift != unknownRedshift {
		redshift := m.Redshift
		result.Metadata.Redshift = &redshift
	}
	result.Metadata.Class = m.Class
	return result
}

func queryValidationError(msg string) error {
	return errors.Newf("%s", msg).
		Component(componentName).
		Category(errors.CategoryValidation).
		Context("operation", "summary_query").
		Build()
}

func (s *Service) recordQuery(mode, status string) {
	if s.metrics != nil {
		s.metrics.RecordQuery(mode, status)
	}
}

func (s *Service) recordStage(stage string, since time.Time) {
	if s.metrics != nil {
		s.metrics.RecordStageDuration(stage, time.Since(since).Seconds())
	}
}

func (s *Service) recordResultSize(mode string, size int) {
	if s.metrics != nil {
		s.metrics.RecordResultSize(mode, size)
	}
}

func (s *Service) recordCache(result string) {
	if s.metrics != nil {
		s.metrics.RecordCacheOperation(result)
	}
}

func (s *Service) recordIndexUpsert(status string) {
	if s.metrics != nil {
		s.metrics.RecordIndexUpsert(status)
	}
}

func (s *Service) recordSummaryGeneration(status string) {
	if s.metrics != nil {
		s.metrics.RecordSummaryGeneration(status)
	}
}
