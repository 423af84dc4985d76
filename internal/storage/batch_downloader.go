package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BatchDownloader coordinates parallel downloads from object storage into a
// local staging directory.
type BatchDownloader struct {
	storage     ObjectStorage
	concurrency int
	destDir     string
}

// BatchResult contains the outcome of a batch download operation.
type BatchResult struct {
	// LocalPaths maps object path to the downloaded local file.
	LocalPaths map[string]string
	// Errors maps object path to its download failure.
	Errors    map[string]error
	Downloads int
}

// NewBatchDownloader creates a new batch downloader.
// concurrency is the maximum number of parallel downloads; destDir receives the files.
func NewBatchDownloader(storage ObjectStorage, concurrency int, destDir string) *BatchDownloader {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &BatchDownloader{
		storage:     storage,
		concurrency: concurrency,
		destDir:     destDir,
	}
}

// Download fetches every object in parallel. Per-object failures are reported
// in the result; the returned error is only set when the context ends before
// all downloads were scheduled.
func (b *BatchDownloader) Download(ctx context.Context, objectPaths []string) (*BatchResult, error) {
	result := &BatchResult{
		LocalPaths: make(map[string]string, len(objectPaths)),
		Errors:     make(map[string]error),
	}
	if len(objectPaths) == 0 {
		return result, nil
	}

	sem := semaphore.NewWeighted(int64(b.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var acquireErr error

	for _, p := range objectPaths {
		if err := sem.Acquire(ctx, 1); err != nil {
			acquireErr = fmt.Errorf("semaphore acquire failed: %w", err)
			break
		}

		wg.Add(1)
		go func(objectPath, local string) {
			defer sem.Release(1)
			defer wg.Done()

			err := b.storage.Download(ctx, objectPath, local)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[objectPath] = err
				return
			}
			result.LocalPaths[objectPath] = local
			result.Downloads++
		}(p, b.localPath(p))
	}

	wg.Wait()

	return result, acquireErr
}

// localPath flattens the object path into a single file name so that
// objects with equal base names in different directories do not collide.
func (b *BatchDownloader) localPath(objectPath string) string {
	flat := strings.ReplaceAll(strings.Trim(objectPath, "/"), "/", "__")
	return filepath.Join(b.destDir, flat)
}
