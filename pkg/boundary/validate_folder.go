package boundary

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sourcegraph/conc/pool"

	"github.com/tbcv/engine/pkg/router"
	"github.com/tbcv/engine/pkg/store"
)

// ValidateFolderRequest is validate_folder's input.
type ValidateFolderRequest struct {
	Caller    string
	Dir       string
	Pattern   string
	Workers   int
	Family    string
	Recursive bool
}

// ValidateFolder walks Dir for files matching Pattern and validates each,
// fanning out across Workers goroutines. A per-file failure does not stop
// the walk; it is reported alongside successes.
func (b *Boundary) ValidateFolder(ctx context.Context, req ValidateFolderRequest) ([]*store.ValidationRecord, map[string]error) {
	if err := b.guardMutation(req.Caller); err != nil {
		return nil, map[string]error{req.Dir: err}
	}

	var paths []string
	walkErr := filepath.WalkDir(req.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !req.Recursive && path != req.Dir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(req.Dir, path)
		if err != nil {
			return err
		}
		ok, err := router.MatchesPattern(req.Pattern, filepath.ToSlash(rel))
		if err != nil {
			return fmt.Errorf("boundary: matching pattern %q: %w", req.Pattern, err)
		}
		if ok {
			paths = append(paths, path)
		}
		return nil
	})
	if walkErr != nil {
		return nil, map[string]error{req.Dir: walkErr}
	}

	workers := req.Workers
	if workers <= 0 {
		workers = 1
	}

	type outcome struct {
		path   string
		record *store.ValidationRecord
		err    error
	}

	p := pool.NewWithResults[outcome]().WithMaxGoroutines(workers)
	for _, path := range paths {
		path := path
		p.Go(func() outcome {
			if err := languageGate(path); err != nil {
				return outcome{path: path, err: err}
			}
			content, err := os.ReadFile(path)
			if err != nil {
				return outcome{path: path, err: err}
			}
			record, err := b.runAndPersist(ctx, content, path, req.Family, nil)
			return outcome{path: path, record: record, err: err}
		})
	}
	results := p.Wait()

	records := make([]*store.ValidationRecord, 0, len(results))
	errs := map[string]error{}
	for _, r := range results {
		if r.err != nil {
			errs[r.path] = r.err
			continue
		}
		records = append(records, r.record)
	}
	return records, errs
}
