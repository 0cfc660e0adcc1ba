package sink

import (
	"errors"

	"github.com/masahif/vectorcrawl/internal/crawler"
)

type tee []RecordStore

// Tee writes to every store in order, stopping at the first error
func Tee(stores ...RecordStore) RecordStore {
	return tee(stores)
}

func (t tee) SaveRecords(records []*crawler.EnrichedRecord) error {
	for _, s := range t {
		if err := s.SaveRecords(records); err != nil {
			return err
		}
	}
	return nil
}

func (t tee) SaveOutcome(outcome *crawler.Outcome) error {
	for _, s := range t {
		if err := s.SaveOutcome(outcome); err != nil {
			return err
		}
	}
	return nil
}

// Flush and Close visit every store even after a failure
func (t tee) Flush() error {
	var errs []error
	for _, s := range t {
		errs = append(errs, s.Flush())
	}
	return errors.Join(errs...)
}

func (t tee) Close() error {
	var errs []error
	for _, s := range t {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
