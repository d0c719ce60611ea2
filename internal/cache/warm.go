package cache

import (
	"context"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// Warm embeds every text under model that is not yet cached, using at most workers
// concurrent source calls, then flushes the cache once. It returns the number of new
// entries. Duplicate texts cause a single source call.
func (c *Cache) Warm(ctx context.Context, texts []string, model string, workers int) (int, error) {
	if workers < 1 {
		workers = 1
	}
	seen := make(map[string]struct{}, len(texts))
	var missing []string
	for _, t := range texts {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if !c.Contains(Key{Text: t, Model: model}) {
			missing = append(missing, t)
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return 0, err
	}
	defer pool.Release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		added    int
	)
	for _, text := range missing {
		text := text
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			_, err := c.get(ctx, Key{Text: text, Model: model}, false)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				return
			}
			added++
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			if firstErr == nil {
				firstErr = submitErr
			}
			mu.Unlock()
			break
		}
	}
	wg.Wait()

	if added > 0 {
		if err := c.Flush(); err != nil {
			return added, err
		}
	}
	c.logger.Info("warmed embedding cache",
		zap.String("model", model), zap.Int("added", added), zap.Int("requested", len(missing)))
	return added, firstErr
}
