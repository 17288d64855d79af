package queryset

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/ricesearch/oltr-sim/internal/pkg/errors"
)

// LoadOptions controls LETOR parsing.
type LoadOptions struct {
	// NumFeatures fixes the matrix width. Zero infers it from the largest
	// feature id in the input.
	NumFeatures int
}

type letorRow struct {
	label  int
	values map[int]float64
}

// LoadFile reads a LETOR/SVMlight text file.
func LoadFile(path string, opts LoadOptions) (*QuerySet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	qs, err := LoadText(f, opts)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return qs, nil
}

// LoadText parses lines of the form
//
//	<relevance> qid:<id> <feature>:<value> ... [# comment]
//
// Feature ids are 1-based. Consecutive lines sharing a qid form one query.
func LoadText(r io.Reader, opts LoadOptions) (*QuerySet, error) {
	var (
		rows   []letorRow
		indptr = []int{0}
		qids   []string
		maxFid int
	)

	scanner := bufio.NewScanner(r)
	const maxLine = 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxLine)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 || !strings.HasPrefix(fields[1], "qid:") {
			return nil, errors.ValidationError(fmt.Sprintf("line %d: expected '<label> qid:<id> ...'", lineNo))
		}

		label, err := strconv.Atoi(fields[0])
		if err != nil {
			// Graded labels written as floats ("2.0") are accepted, fractions are not.
			f, ferr := strconv.ParseFloat(fields[0], 64)
			if ferr != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
				return nil, errors.ValidationError(fmt.Sprintf("line %d: invalid label %q", lineNo, fields[0]))
			}
			label = int(f)
		}
		qid := strings.TrimPrefix(fields[1], "qid:")

		row := letorRow{label: label, values: make(map[int]float64, len(fields)-2)}
		for _, tok := range fields[2:] {
			k, v, ok := strings.Cut(tok, ":")
			if !ok {
				return nil, errors.ValidationError(fmt.Sprintf("line %d: malformed feature %q", lineNo, tok))
			}
			fid, err := strconv.Atoi(k)
			if err != nil || fid < 1 {
				return nil, errors.ValidationError(fmt.Sprintf("line %d: invalid feature id %q", lineNo, k))
			}
			val, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, errors.ValidationError(fmt.Sprintf("line %d: invalid value %q", lineNo, v))
			}
			row.values[fid] = val
			maxFid = max(maxFid, fid)
		}

		if len(qids) == 0 || qids[len(qids)-1] != qid {
			if len(qids) > 0 {
				indptr = append(indptr, len(rows))
			}
			qids = append(qids, qid)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning input: %w", err)
	}
	if len(rows) == 0 {
		return nil, errors.ValidationError("no documents in input")
	}
	indptr = append(indptr, len(rows))

	width := maxFid
	if opts.NumFeatures > 0 {
		if maxFid > opts.NumFeatures {
			return nil, errors.ValidationError(
				fmt.Sprintf("feature id %d exceeds configured width %d", maxFid, opts.NumFeatures))
		}
		width = opts.NumFeatures
	}
	if width == 0 {
		return nil, errors.ValidationError("input has no features")
	}

	features := mat.NewDense(len(rows), width, nil)
	labels := make([]int, len(rows))
	for i, row := range rows {
		labels[i] = row.label
		for fid, val := range row.values {
			features.Set(i, fid-1, val)
		}
	}
	return New(features, labels, indptr, qids)
}
