package experiment

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ricesearch/oltr-sim/internal/config"
	"github.com/ricesearch/oltr-sim/internal/pkg/errors"
	"github.com/ricesearch/oltr-sim/internal/pkg/hash"
	"github.com/ricesearch/oltr-sim/internal/pkg/logger"
	"github.com/ricesearch/oltr-sim/internal/queryset"
	"github.com/ricesearch/oltr-sim/internal/ranking"
)

// Random stream ids. Every consumer of randomness owns one stream of the
// experiment seed so that adding a learner does not perturb the others.
const (
	streamDriver uint64 = iota
	streamWeights
	streamTrainData
	streamValidData
	streamTestData
	streamClickOffline
	streamClickOfflineUsers
	streamLearners // learner i uses streamLearners+2i, its users +2i+1
)

// LoadData loads or generates the train, valid and test collections
// concurrently and applies the one-off preprocessing.
func LoadData(ctx context.Context, cfg config.DataConfig, seed uint64, log *logger.Logger) (queryset.Collections, error) {
	if log == nil {
		log = logger.Discard()
	}

	var (
		cs queryset.Collections
		g  *errgroup.Group
	)
	g, ctx = errgroup.WithContext(ctx)

	if cfg.TrainPath == "" {
		s := cfg.Synthetic
		weights := queryset.SyntheticWeights(ranking.NewSource(seed, streamWeights), s.Features)
		generate := func(queries int, stream uint64, dst **queryset.QuerySet) func() error {
			return func() error {
				qs, err := queryset.Generate(ranking.NewSource(seed, stream), queryset.GenerateOptions{
					Queries:      queries,
					MinDocuments: s.MinDocuments,
					MaxDocuments: s.MaxDocuments,
					Features:     s.Features,
					MaxGrade:     s.MaxGrade,
					Noise:        s.Noise,
					Weights:      weights,
				})
				if err != nil {
					return err
				}
				*dst = qs
				return ctx.Err()
			}
		}
		g.Go(generate(s.TrainQueries, streamTrainData, &cs.Train))
		g.Go(generate(s.ValidQueries, streamValidData, &cs.Valid))
		g.Go(generate(s.TestQueries, streamTestData, &cs.Test))
	} else {
		opts := queryset.LoadOptions{NumFeatures: cfg.NumFeatures}
		load := func(path string, dst **queryset.QuerySet) func() error {
			return func() error {
				if path == "" {
					return nil
				}
				qs, err := queryset.LoadFile(path, opts)
				if err != nil {
					return fmt.Errorf("loading %s: %w", path, err)
				}
				*dst = qs
				return ctx.Err()
			}
		}
		g.Go(load(cfg.TrainPath, &cs.Train))
		g.Go(load(cfg.ValidPath, &cs.Valid))
		g.Go(load(cfg.TestPath, &cs.Test))
	}

	if err := g.Wait(); err != nil {
		return queryset.Collections{}, err
	}

	width := cs.Train.NumFeatures()
	for _, c := range []queryset.Collection{queryset.Valid, queryset.Test} {
		qs, err := cs.Resolve(c)
		if err != nil {
			continue
		}
		if qs.NumFeatures() != width {
			return queryset.Collections{}, errors.DataInconsistencyError(fmt.Sprintf(
				"%s collection has %d features, train has %d (set data.num_features)", c, qs.NumFeatures(), width))
		}
	}

	if cfg.Preprocess {
		removed, err := cs.Preprocess()
		if err != nil {
			return queryset.Collections{}, fmt.Errorf("preprocessing: %w", err)
		}
		log.Info("Preprocessed collections",
			"removed_features", len(removed),
			"features", cs.Train.NumFeatures(),
		)
	}

	for _, c := range []queryset.Collection{queryset.Train, queryset.Valid, queryset.Test} {
		if qs, err := cs.Resolve(c); err == nil {
			s := qs.Describe()
			log.Info("Loaded collection",
				"collection", c.String(),
				"queries", s.Queries,
				"documents", s.Documents,
				"features", s.Features,
			)
		}
	}

	return cs, nil
}

// DataDigests fingerprints the collections a run used: the SHA256 of every
// loaded file, or one id for the generator settings.
func DataDigests(cfg config.DataConfig, seed uint64) (map[string]string, error) {
	if cfg.TrainPath == "" {
		id := hash.Synthetic(seed, cfg.Synthetic)
		return map[string]string{"train": id, "valid": id, "test": id}, nil
	}
	digests := make(map[string]string, 3)
	for name, path := range map[string]string{"train": cfg.TrainPath, "valid": cfg.ValidPath, "test": cfg.TestPath} {
		if path == "" {
			continue
		}
		sum, err := hash.File(path)
		if err != nil {
			return nil, fmt.Errorf("fingerprinting %s collection: %w", name, err)
		}
		digests[name] = sum
	}
	return digests, nil
}
