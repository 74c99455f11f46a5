package agent

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xaenox/lab-agent/internal/models"
	"github.com/xaenox/lab-agent/internal/search"
	"go.uber.org/zap"
)

// Filters narrow retrieval results by file metadata before ranking.
type Filters struct {
	FileTypes    []string
	MaxSizeBytes int64
	ModifiedFrom time.Time
	ModifiedTo   time.Time
}

// Retriever finds the datasets relevant to a query. Search errors degrade
// to an empty result rather than failing the turn.
type Retriever struct {
	search     search.Service
	maxResults int
	sampleRows int
	logger     *zap.Logger
}

func NewRetriever(svc search.Service, maxResults int, logger *zap.Logger) *Retriever {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Retriever{
		search:     svc,
		maxResults: maxResults,
		sampleRows: 3,
		logger:     logger,
	}
}

// Retrieve searches for candidate datasets, filters them against the
// extracted entities and metadata filters, ranks them, and enriches the
// survivors with filesystem metadata and sample rows.
func (r *Retriever) Retrieve(ctx context.Context, query string, entities map[string][]string, filters *Filters) models.RetrievalResult {
	docs, err := r.search.Search(ctx, query, r.maxResults*2)
	if err != nil {
		r.logger.Error("search failed, returning empty retrieval",
			zap.Error(err),
			zap.String("query", query))
		docs = nil
	}

	docs = filterByEntities(docs, entities)
	if filters != nil {
		docs = applyMetadataFilters(docs, filters)
	}
	docs = r.rank(docs, entities)
	if len(docs) > r.maxResults {
		docs = docs[:r.maxResults]
	}

	enriched := make([]models.RetrievedDocument, 0, len(docs))
	paths := make([]string, 0, len(docs))
	for _, doc := range docs {
		enriched = append(enriched, r.enrich(doc))
		paths = append(paths, doc.Metadata.FilePath)
	}

	return models.RetrievalResult{
		Documents:  enriched,
		FilePaths:  paths,
		Metadata:   aggregateMetadata(enriched),
		Confidence: retrievalConfidence(enriched, entities),
	}
}

// filterByEntities keeps documents whose file name matches a file entity.
// When nothing matches, the unfiltered set is kept so a typo in the file
// name does not empty the results.
func filterByEntities(docs []search.Document, entities map[string][]string) []search.Document {
	fileEntities := entities[models.LabelFiles]
	if len(fileEntities) == 0 {
		return docs
	}

	var matched []search.Document
	for _, doc := range docs {
		nameLower := strings.ToLower(doc.Metadata.FileName)
		for _, want := range fileEntities {
			if strings.Contains(nameLower, strings.ToLower(want)) {
				matched = append(matched, doc)
				break
			}
		}
	}
	if len(matched) == 0 {
		return docs
	}

	columns := entities[models.LabelColumns]
	if len(columns) == 0 {
		return matched
	}
	var narrowed []search.Document
	for _, doc := range matched {
		if docHasAnyColumn(doc, columns) {
			narrowed = append(narrowed, doc)
		}
	}
	if len(narrowed) == 0 {
		return matched
	}
	return narrowed
}

func docHasAnyColumn(doc search.Document, columns []string) bool {
	for _, want := range columns {
		wantLower := strings.ToLower(want)
		for _, col := range doc.Metadata.Columns {
			if strings.Contains(strings.ToLower(col), wantLower) {
				return true
			}
		}
	}
	return false
}

func applyMetadataFilters(docs []search.Document, filters *Filters) []search.Document {
	var out []search.Document
	for _, doc := range docs {
		if len(filters.FileTypes) > 0 {
			ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(doc.Metadata.FileName)), ".")
			allowed := false
			for _, t := range filters.FileTypes {
				if ext == strings.ToLower(strings.TrimPrefix(t, ".")) {
					allowed = true
					break
				}
			}
			if !allowed {
				continue
			}
		}
		if filters.MaxSizeBytes > 0 && doc.Metadata.FileSize > filters.MaxSizeBytes {
			continue
		}
		if !filters.ModifiedFrom.IsZero() && doc.Metadata.ModifiedAt.Before(filters.ModifiedFrom) {
			continue
		}
		if !filters.ModifiedTo.IsZero() && doc.Metadata.ModifiedAt.After(filters.ModifiedTo) {
			continue
		}
		out = append(out, doc)
	}
	return out
}

// rank scores each document against the extracted entities and sorts
// stably so equally-scored documents keep their search order.
func (r *Retriever) rank(docs []search.Document, entities map[string][]string) []search.Document {
	type scored struct {
		doc   search.Document
		score float64
	}
	fileEntities := entities[models.LabelFiles]
	columnEntities := entities[models.LabelColumns]

	results := make([]scored, len(docs))
	for i, doc := range docs {
		score := 0.5
		nameLower := strings.ToLower(doc.Metadata.FileName)
		for _, want := range fileEntities {
			if strings.Contains(nameLower, strings.ToLower(want)) {
				score += 0.3
			}
		}
		for _, want := range columnEntities {
			if docHasAnyColumn(doc, []string{want}) {
				score += 0.2
			}
		}
		if !doc.Metadata.ModifiedAt.IsZero() {
			score += 0.1
		}
		results[i] = scored{doc: doc, score: score}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	out := make([]search.Document, len(results))
	for i, s := range results {
		out[i] = s.doc
	}
	return out
}

// enrich fills in filesystem metadata and a sample preview. Files that no
// longer exist on disk keep their indexed metadata only.
func (r *Retriever) enrich(doc search.Document) models.RetrievedDocument {
	out := models.RetrievedDocument{
		FilePath:    doc.Metadata.FilePath,
		FileName:    doc.Metadata.FileName,
		Description: doc.Text,
		Columns:     doc.Metadata.Columns,
		FileSize:    doc.Metadata.FileSize,
		ModifiedAt:  doc.Metadata.ModifiedAt,
	}

	info, err := os.Stat(doc.Metadata.FilePath)
	if err != nil {
		r.logger.Debug("stat failed during enrichment",
			zap.String("path", doc.Metadata.FilePath),
			zap.Error(err))
		return out
	}
	out.FileSize = info.Size()
	out.ModifiedAt = info.ModTime()

	if sample, err := readSample(doc.Metadata.FilePath, r.sampleRows); err == nil {
		out.Sample = sample
		if len(out.Columns) == 0 {
			out.Columns = sample.Columns
		}
	}
	return out
}

func readSample(path string, rows int) (*models.SamplePreview, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		reader.Comma = '\t'
	}
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, err
	}
	preview := &models.SamplePreview{Columns: header}
	for i := 0; i < rows; i++ {
		record, err := reader.Read()
		if err != nil {
			break
		}
		row := make(map[string]string, len(header))
		for j, col := range header {
			if j < len(record) {
				row[col] = record[j]
			}
		}
		preview.Rows = append(preview.Rows, row)
	}
	return preview, nil
}

func aggregateMetadata(docs []models.RetrievedDocument) models.RetrievalMetadata {
	meta := models.RetrievalMetadata{TotalFiles: len(docs)}
	columns := make(map[string]struct{})
	types := make(map[string]struct{})

	for _, doc := range docs {
		for _, col := range doc.Columns {
			columns[col] = struct{}{}
		}
		if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(doc.FileName)), "."); ext != "" {
			types[ext] = struct{}{}
		}
		meta.TotalSizeBytes += doc.FileSize
	}

	for col := range columns {
		meta.UniqueColumns = append(meta.UniqueColumns, col)
	}
	sort.Strings(meta.UniqueColumns)
	for t := range types {
		meta.FileTypes = append(meta.FileTypes, t)
	}
	sort.Strings(meta.FileTypes)
	meta.ColumnCount = len(meta.UniqueColumns)
	return meta
}

// retrievalConfidence starts at 0.6 for any non-empty result, adds up to
// 0.3 for the share of all extracted entities matched in the results, and
// 0.1 when more than one document was found.
func retrievalConfidence(docs []models.RetrievedDocument, entities map[string][]string) float64 {
	if len(docs) == 0 {
		return 0
	}

	total := 0
	matched := 0
	for _, values := range entities {
		for _, want := range values {
			total++
			wantLower := strings.ToLower(want)
			for _, doc := range docs {
				if strings.Contains(strings.ToLower(doc.FileName), wantLower) || columnListHas(doc.Columns, wantLower) {
					matched++
					break
				}
			}
		}
	}

	confidence := 0.6
	if total > 0 {
		share := float64(matched) / float64(total)
		if share > 1 {
			share = 1
		}
		confidence += 0.3 * share
	}
	if len(docs) >= 2 {
		confidence += 0.1
	}
	return clamp(confidence)
}

func columnListHas(columns []string, wantLower string) bool {
	for _, col := range columns {
		if strings.Contains(strings.ToLower(col), wantLower) {
			return true
		}
	}
	return false
}
