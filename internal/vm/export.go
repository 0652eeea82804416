package vm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rtm0/era5-anomaly/internal/era5"
)

// Inserter sends one batch of records.
type Inserter interface {
	Insert(ctx context.Context, recs []era5.Record) error
}

// Export inserts recs in batches of recsPerInsert using concurrency workers.
// It returns the number of records sent and the errors of failed batches.
// Progress is logged per latitude row of the grid.
func (c *Client) Export(ctx context.Context, recs []era5.Record, rowLen, concurrency, recsPerInsert int) (int, error) {
	return export(ctx, c, c.logger.Info, recs, rowLen, concurrency, recsPerInsert)
}

type progressFunc func(msg string, args ...any)

func export(ctx context.Context, ins Inserter, progress progressFunc, recs []era5.Record, rowLen, concurrency, recsPerInsert int) (int, error) {
	if concurrency < 1 || recsPerInsert < 1 || rowLen < 1 {
		return 0, fmt.Errorf("invalid export settings: concurrency=%d recsPerInsert=%d rowLen=%d", concurrency, recsPerInsert, rowLen)
	}

	type result struct {
		n   int
		err error
	}
	recsCh := make(chan []era5.Record)
	progressCh := make(chan result)
	var wg sync.WaitGroup
	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for row := range recsCh {
				n := len(row)
				var errs []error
				for begin := 0; begin < n; begin += recsPerInsert {
					limit := min(begin+recsPerInsert, n)
					if err := ins.Insert(ctx, row[begin:limit]); err != nil {
						errs = append(errs, err)
					}
				}
				progressCh <- result{n: n, err: errors.Join(errs...)}
			}
		}()
	}

	var (
		inserted int
		errs     []error
		done     = make(chan struct{})
	)
	go func() {
		defer close(done)
		total := float64(len(recs))
		start := time.Now()
		for r := range progressCh {
			if r.err != nil {
				errs = append(errs, r.err)
				continue
			}
			inserted += r.n
			percent := fmt.Sprintf("%.2f%%", 100*float64(inserted)/total)
			duration := time.Since(start).Round(1 * time.Second)
			progress("progress", "inserted", percent, "in", duration)
		}
	}()

	var ctxErr error
feed:
	for begin := 0; begin < len(recs); begin += rowLen {
		select {
		case recsCh <- recs[begin:min(begin+rowLen, len(recs))]:
		case <-ctx.Done():
			ctxErr = ctx.Err()
			break feed
		}
	}
	close(recsCh)
	wg.Wait()
	close(progressCh)
	<-done
	return inserted, errors.Join(append(errs, ctxErr)...)
}
