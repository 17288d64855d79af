// Package queryset stores learning-to-rank query collections: one global
// feature matrix whose rows are documents grouped contiguously by query, the
// documents' relevance labels, and the row-offset index mapping a query id
// to its row range.
package queryset

import (
	"fmt"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/ricesearch/oltr-sim/internal/pkg/errors"
)

// QuerySet is an ordered collection of queries. It is read-only once the
// driver has applied Adjust.
type QuerySet struct {
	features *mat.Dense
	labels   []int
	indptr   []int
	qids     []string
}

// New builds a QuerySet. indptr must start at 0, be strictly increasing (every
// query has at least one document) and end at the number of rows. qids may be
// nil, in which case queries are named by position.
func New(features *mat.Dense, labels []int, indptr []int, qids []string) (*QuerySet, error) {
	if features == nil {
		return nil, errors.ValidationError("feature matrix is required")
	}
	rows, _ := features.Dims()
	if len(labels) != rows {
		return nil, errors.DataInconsistencyError(
			fmt.Sprintf("%d labels for %d feature rows", len(labels), rows))
	}
	if err := validateIndptr(indptr, rows); err != nil {
		return nil, err
	}
	for i, l := range labels {
		if l < 0 {
			return nil, errors.ValidationError(fmt.Sprintf("negative relevance label %d at row %d", l, i))
		}
	}

	n := len(indptr) - 1
	if qids == nil {
		qids = make([]string, n)
		for i := range qids {
			qids[i] = strconv.Itoa(i)
		}
	}
	if len(qids) != n {
		return nil, errors.DataInconsistencyError(
			fmt.Sprintf("%d query identifiers for %d queries", len(qids), n))
	}

	return &QuerySet{
		features: features,
		labels:   labels,
		indptr:   indptr,
		qids:     qids,
	}, nil
}

func validateIndptr(indptr []int, rows int) error {
	if len(indptr) < 2 {
		return errors.ValidationError("query collection must contain at least one query")
	}
	if indptr[0] != 0 {
		return errors.DataInconsistencyError(fmt.Sprintf("row offsets start at %d, want 0", indptr[0]))
	}
	for i := 1; i < len(indptr); i++ {
		if indptr[i] <= indptr[i-1] {
			return errors.DataInconsistencyError(
				fmt.Sprintf("row offsets not strictly increasing at query %d", i-1))
		}
	}
	if last := indptr[len(indptr)-1]; last != rows {
		return errors.DataInconsistencyError(
			fmt.Sprintf("row offsets end at %d, matrix has %d rows", last, rows))
	}
	return nil
}

// NumQueries returns the number of queries.
func (qs *QuerySet) NumQueries() int { return len(qs.indptr) - 1 }

// NumDocuments returns the total number of document rows.
func (qs *QuerySet) NumDocuments() int { return len(qs.labels) }

// NumFeatures returns the number of feature columns.
func (qs *QuerySet) NumFeatures() int {
	_, c := qs.features.Dims()
	return c
}

// Indptr returns the global row-offset index. The slice must not be modified.
func (qs *QuerySet) Indptr() []int { return qs.indptr }

// QueryID returns the identifier a query carried in its source file.
func (qs *QuerySet) QueryID(qid int) string { return qs.qids[qid] }

// RowRange returns the half-open row range of a query.
func (qs *QuerySet) RowRange(qid int) (start, end int) {
	return qs.indptr[qid], qs.indptr[qid+1]
}

// DocumentCount returns the number of documents of a query.
func (qs *QuerySet) DocumentCount(qid int) int {
	return qs.indptr[qid+1] - qs.indptr[qid]
}

// Relevance returns a query's relevance labels in document order. The slice
// aliases the collection and must not be modified.
func (qs *QuerySet) Relevance(qid int) []int {
	start, end := qs.RowRange(qid)
	return qs.labels[start:end:end]
}

// Labels returns every relevance label in row order.
func (qs *QuerySet) Labels() []int { return qs.labels }

// Features returns a view of a query's feature rows.
func (qs *QuerySet) Features(qid int) mat.Matrix {
	start, end := qs.RowRange(qid)
	return qs.features.Slice(start, end, 0, qs.NumFeatures())
}

// FeatureMatrix returns the global feature matrix.
func (qs *QuerySet) FeatureMatrix() mat.Matrix { return qs.features }

// Rows gathers the given global rows into a new matrix, in order.
func (qs *QuerySet) Rows(rows []int) (*mat.Dense, error) {
	if len(rows) == 0 {
		return nil, errors.ValidationError("no rows requested")
	}
	out := mat.NewDense(len(rows), qs.NumFeatures(), nil)
	for i, r := range rows {
		if r < 0 || r >= qs.NumDocuments() {
			return nil, errors.DataInconsistencyError(
				fmt.Sprintf("row %d outside [0,%d)", r, qs.NumDocuments()))
		}
		out.SetRow(i, qs.features.RawRowView(r))
	}
	return out, nil
}

// Subset returns a new QuerySet holding the given queries in the given order.
// Ids may repeat.
func (qs *QuerySet) Subset(ids []int) (*QuerySet, error) {
	if len(ids) == 0 {
		return nil, errors.ValidationError("empty query subset")
	}
	indptr := make([]int, 1, len(ids)+1)
	qids := make([]string, len(ids))
	var rows []int
	for i, qid := range ids {
		if qid < 0 || qid >= qs.NumQueries() {
			return nil, errors.NotFoundError(fmt.Sprintf("query %d", qid))
		}
		start, end := qs.RowRange(qid)
		for r := start; r < end; r++ {
			rows = append(rows, r)
		}
		indptr = append(indptr, len(rows))
		qids[i] = qs.qids[qid]
	}

	features, err := qs.Rows(rows)
	if err != nil {
		return nil, err
	}
	labels := make([]int, len(rows))
	for i, r := range rows {
		labels[i] = qs.labels[r]
	}
	return New(features, labels, indptr, qids)
}

// FindConstantFeatures returns the columns whose value never changes.
func FindConstantFeatures(qs *QuerySet) []int {
	var constant []int
	col := make([]float64, qs.NumDocuments())
	for j := 0; j < qs.NumFeatures(); j++ {
		mat.Col(col, j, qs.features)
		if floats.Max(col) == floats.Min(col) {
			constant = append(constant, j)
		}
	}
	return constant
}

// AdjustOptions controls the one-off preprocessing applied at load time.
type AdjustOptions struct {
	// RemoveFeatures lists columns to drop.
	RemoveFeatures []int
	// Scale rescales every kept column to [0,1] using its min and max.
	Scale bool
}

// Adjust removes the listed feature columns and optionally min-max scales
// the remaining ones.
func (qs *QuerySet) Adjust(opts AdjustOptions) error {
	remove := make(map[int]bool, len(opts.RemoveFeatures))
	for _, j := range opts.RemoveFeatures {
		if j < 0 || j >= qs.NumFeatures() {
			return errors.ValidationError(fmt.Sprintf("feature %d outside [0,%d)", j, qs.NumFeatures()))
		}
		remove[j] = true
	}
	var keep []int
	for j := 0; j < qs.NumFeatures(); j++ {
		if !remove[j] {
			keep = append(keep, j)
		}
	}
	if len(keep) == 0 {
		return errors.ValidationError("adjustment would remove every feature")
	}

	rows := qs.NumDocuments()
	adjusted := mat.NewDense(rows, len(keep), nil)
	col := make([]float64, rows)
	for k, j := range keep {
		mat.Col(col, j, qs.features)
		if opts.Scale {
			lo, hi := floats.Min(col), floats.Max(col)
			if hi > lo {
				floats.AddConst(-lo, col)
				floats.Scale(1/(hi-lo), col)
			} else {
				for i := range col {
					col[i] = 0
				}
			}
		}
		adjusted.SetCol(k, col)
	}
	qs.features = adjusted
	return nil
}

// Summary describes a collection for reporting.
type Summary struct {
	Queries        int         `json:"queries"`
	Documents      int         `json:"documents"`
	Features       int         `json:"features"`
	MeanDocuments  float64     `json:"mean_documents"`
	StdDocuments   float64     `json:"std_documents"`
	LabelHistogram map[int]int `json:"label_histogram"`
}

// Describe summarises the collection.
func (qs *QuerySet) Describe() Summary {
	counts := make([]float64, qs.NumQueries())
	for qid := range counts {
		counts[qid] = float64(qs.DocumentCount(qid))
	}
	mean, std := stat.MeanStdDev(counts, nil)
	if len(counts) < 2 {
		std = 0
	}
	hist := make(map[int]int)
	for _, l := range qs.labels {
		hist[l]++
	}
	return Summary{
		Queries:        qs.NumQueries(),
		Documents:      qs.NumDocuments(),
		Features:       qs.NumFeatures(),
		MeanDocuments:  mean,
		StdDocuments:   std,
		LabelHistogram: hist,
	}
}
