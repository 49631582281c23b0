package harvest

import (
	"fmt"
	"iter"
	"log/slog"

	"github.com/Develata/rss-ai-news/internal/extract"
	"github.com/Develata/rss-ai-news/internal/store"
)

// existenceChunkSize bounds the IN-clause width of dedup lookups.
const existenceChunkSize = 500

// Stage deduplicates harvested items against the store and persists the
// fresh ones in batches.
type Stage struct {
	store     *store.Store
	batchSize int
}

// NewStage builds a Stage committing every batchSize records.
func NewStage(st *store.Store, batchSize int) *Stage {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Stage{store: st, batchSize: batchSize}
}

// Persist filters items already known by link or fingerprint and inserts the
// remainder. A failed batch commit is dropped, not retried; those items come
// back on the next harvest since they were never recorded. Returns the number
// of records committed.
func (s *Stage) Persist(items []extract.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	links := make([]string, 0, len(items))
	prints := make([]string, 0, len(items))
	for _, it := range items {
		links = append(links, it.Link)
		if it.Fingerprint != "" {
			prints = append(prints, it.Fingerprint)
		}
	}

	knownLinks, err := s.store.ExistingLinks(links, existenceChunkSize)
	if err != nil {
		return 0, fmt.Errorf("checking existing links: %w", err)
	}
	knownPrints, err := s.store.ExistingFingerprints(prints, existenceChunkSize)
	if err != nil {
		return 0, fmt.Errorf("checking existing fingerprints: %w", err)
	}

	committed := 0
	batch := make([]store.Record, 0, s.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		n, err := s.store.InsertBatch(batch)
		if err != nil {
			slog.Error("insert batch dropped", "size", len(batch), "error", err)
		}
		committed += n
		batch = batch[:0]
	}

	for rec := range s.freshRecords(items, knownLinks, knownPrints) {
		batch = append(batch, rec)
		if len(batch) >= s.batchSize {
			flush()
		}
	}
	flush()

	slog.Info("staging complete", "harvested", len(items), "committed", committed)
	return committed, nil
}

// freshRecords yields store records for items not yet known, deduplicating
// within the run as well: a link or fingerprint seen earlier in the same
// harvest suppresses later repeats.
func (s *Stage) freshRecords(items []extract.Item, knownLinks, knownPrints map[string]struct{}) iter.Seq[store.Record] {
	return func(yield func(store.Record) bool) {
		seenLinks := make(map[string]struct{}, len(items))
		seenPrints := make(map[string]struct{}, len(items))

		for _, it := range items {
			if _, ok := knownLinks[it.Link]; ok {
				continue
			}
			if _, ok := seenLinks[it.Link]; ok {
				continue
			}
			seenLinks[it.Link] = struct{}{}

			if it.Fingerprint != "" {
				if _, ok := knownPrints[it.Fingerprint]; ok {
					continue
				}
				if _, ok := seenPrints[it.Fingerprint]; ok {
					continue
				}
				seenPrints[it.Fingerprint] = struct{}{}
			}

			rec := store.Record{
				Title:       it.Title,
				Link:        it.Link,
				Fingerprint: it.Fingerprint,
				Body:        it.Body,
				Source:      it.Source,
				Category:    it.Category,
				CreatedAt:   it.FetchedAt,
			}
			if !yield(rec) {
				return
			}
		}
	}
}
