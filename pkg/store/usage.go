package store

import (
	"context"
	"time"

	"github.com/loomlab/loom/internal/observability"
)

// ThreadUsage sums token counts and estimated cost across one thread's
// messages.
func (s *Store) ThreadUsage(ctx context.Context, threadID string) (Usage, error) {
	start := time.Now()
	defer func() {
		observability.RecordStoreOp("thread_usage", time.Since(start))
	}()

	messages, err := s.Messages(ctx, threadID)
	if err != nil {
		return Usage{}, err
	}

	var total Usage
	for _, msg := range messages {
		if msg.Usage != nil {
			total.Add(*msg.Usage)
		}
	}

	return total, nil
}

// TreeUsage recursively merges usage across a thread and all delegation
// descendants, down to maxDepth.
func (s *Store) TreeUsage(ctx context.Context, threadID string, maxDepth int) (Usage, error) {
	start := time.Now()
	defer func() {
		observability.RecordStoreOp("tree_usage", time.Since(start))
	}()

	return s.treeUsage(ctx, threadID, 0, maxDepth)
}

func (s *Store) treeUsage(ctx context.Context, threadID string, depth, maxDepth int) (Usage, error) {
	total, err := s.ThreadUsage(ctx, threadID)
	if err != nil {
		return Usage{}, err
	}

	if maxDepth > 0 && depth+1 >= maxDepth {
		return total, nil
	}

	childIDs, err := s.childThreadIDs(ctx, threadID)
	if err != nil {
		return Usage{}, err
	}

	for _, childID := range childIDs {
		childUsage, err := s.treeUsage(ctx, childID, depth+1, maxDepth)
		if err != nil {
			return Usage{}, err
		}
		total.Add(childUsage)
	}

	return total, nil
}
