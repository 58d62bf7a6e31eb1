package repofake

import (
	"context"
	"sync"

	"github.com/spec-kit/moderation-service/internal/repository"
)

var _ repository.ChangeFeed = (*Feed)(nil)

// Feed is a synchronous in-process change feed. Publish delivers to every
// watcher before returning.
type Feed struct {
	mu        sync.Mutex
	nextID    int
	watchers  map[int]feedWatcher
	published []repository.Change
	watchErr  error
}

type feedWatcher struct {
	topic string
	fn    func(repository.Change)
}

// NewFeed returns a feed with no watchers.
func NewFeed() *Feed {
	return &Feed{watchers: map[int]feedWatcher{}}
}

// Publish implements repository.ChangeFeed.
func (f *Feed) Publish(ctx context.Context, change repository.Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.published = append(f.published, change)
	var targets []func(repository.Change)
	for _, w := range f.watchers {
		if w.topic == change.Topic() || (change.DocumentID != "" && w.topic == change.Collection) {
			targets = append(targets, w.fn)
		}
	}
	f.mu.Unlock()

	for _, fn := range targets {
		fn(change)
	}
	return nil
}

// Watch implements repository.ChangeFeed.
func (f *Feed) Watch(ctx context.Context, topic string, fn func(repository.Change)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	if f.watchErr != nil {
		err := f.watchErr
		f.mu.Unlock()
		return nil, err
	}
	id := f.nextID
	f.nextID++
	f.watchers[id] = feedWatcher{topic: topic, fn: fn}
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.watchers, id)
	}, nil
}

// FailWatches makes every later Watch return err. A nil err restores the feed.
func (f *Feed) FailWatches(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watchErr = err
}

// Watchers returns the number of live subscriptions.
func (f *Feed) Watchers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watchers)
}

// Published returns every change seen so far.
func (f *Feed) Published() []repository.Change {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]repository.Change(nil), f.published...)
}
