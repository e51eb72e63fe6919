package riverjobs

import (
	"context"
	"errors"
	"time"

	"github.com/riverqueue/river"
)

type PurgeSigninsArgs struct {
	RetentionDays int `json:"retention_days,omitempty"`
	BatchSize     int `json:"batch_size,omitempty"`
}

func (PurgeSigninsArgs) Kind() string { return "loginkit_purge_signins" }

func (args PurgeSigninsArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue: river.QueueDefault,
		UniqueOpts: river.UniqueOpts{
			ByArgs:   true,
			ByPeriod: 24 * time.Hour,
			ByQueue:  true,
		},
	}
}

// SigninPurger deletes sign-in audit rows older than cutoff in batches.
// *pgstore.SigninLog implements it.
type SigninPurger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time, batch int) (int64, error)
}

// PurgeSigninsWorker trims the sign-in audit log to a retention window.
type PurgeSigninsWorker struct {
	river.WorkerDefaults[PurgeSigninsArgs]
	purger SigninPurger
}

func NewPurgeSigninsWorker(purger SigninPurger) *PurgeSigninsWorker {
	return &PurgeSigninsWorker{purger: purger}
}

func (w *PurgeSigninsWorker) Timeout(*river.Job[PurgeSigninsArgs]) time.Duration {
	return 10 * time.Minute
}

func (w *PurgeSigninsWorker) Work(ctx context.Context, job *river.Job[PurgeSigninsArgs]) error {
	if w == nil || w.purger == nil {
		return errors.New("loginkit purge: signin store not configured")
	}
	retention := job.Args.RetentionDays
	if retention <= 0 {
		retention = 90
	}
	batch := job.Args.BatchSize
	if batch <= 0 {
		batch = 500
	}
	cutoff := time.Now().AddDate(0, 0, -retention)
	for {
		n, err := w.purger.PurgeOlderThan(ctx, cutoff, batch)
		if err != nil {
			return err
		}
		if n < int64(batch) {
			return nil
		}
	}
}
