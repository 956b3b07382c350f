package chronicle

import "sync"

// batchCursor carries the position of a batch scan across runs. Each run
// resumes after the last stream the previous run visited and wraps around
// to the start of the key space, so streams that fail on every run cannot
// hold every slot of the batch.
type batchCursor struct {
	mu   sync.Mutex
	next string
	prev string
}

// pageAfter lists up to limit items starting after the cursor. list must
// return items ordered by key and honor its after and limit arguments.
// A limit of zero lists everything and resets the cursor.
func pageAfter[T any](c *batchCursor, limit int, key func(T) string, list func(after string, limit int) ([]T, error)) ([]T, error) {
	c.mu.Lock()
	after := c.next
	c.mu.Unlock()

	if limit <= 0 {
		after = ""
	}

	items, err := list(after, limit)
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(items) < limit && after != "" {
		wrapped, err := list("", limit-len(items))
		if err != nil {
			return nil, err
		}
		for _, item := range wrapped {
			if key(item) > after {
				break
			}
			items = append(items, item)
		}
	}

	next := ""
	if limit > 0 && len(items) >= limit {
		next = key(items[len(items)-1])
	}

	c.mu.Lock()
	c.prev, c.next = after, next
	c.mu.Unlock()

	return items, nil
}

// interrupted rewinds the cursor to the last key actually visited when a
// run stops early. An empty key restores the position the run started from.
func (c *batchCursor) interrupted(lastVisited string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if lastVisited == "" {
		c.next = c.prev
		return
	}
	c.next = lastVisited
}
