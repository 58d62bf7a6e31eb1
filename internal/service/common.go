package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/moderation-service/internal/domain"
	"github.com/spec-kit/moderation-service/internal/remote"
	"github.com/spec-kit/moderation-service/internal/repository"
	apperrors "github.com/spec-kit/moderation-service/pkg/util"
)

// maxBatchAttempts bounds how often a conflicting batch is replayed whole.
const maxBatchAttempts = 3

// RemoteLink is the slice of remote.Link the services depend on.
type RemoteLink interface {
	Reachable() bool
	Diagnostic() string
	Do(ctx context.Context, op string, kind remote.OpKind, fn func(ctx context.Context) error) error
}

// runBatch executes fn atomically through the link, replaying the whole
// batch when it loses a race with a concurrent writer.
func runBatch(ctx context.Context, link RemoteLink, store *repository.Store, op string, kind remote.OpKind, fn func(tx repository.Repositories) error) error {
	var err error
	for attempt := 0; attempt < maxBatchAttempts; attempt++ {
		err = link.Do(ctx, op, kind, func(ctx context.Context) error {
			return store.Batches.RunBatch(ctx, fn)
		})
		if !errors.Is(err, apperrors.ErrConcurrentModification) {
			return err
		}
	}
	return err
}

func newAuditEntry(actorID string, action domain.AuditAction, targetID string, details map[string]any, at time.Time) domain.AuditEntry {
	return domain.AuditEntry{
		ID:        domain.NewAuditID(at),
		ActorID:   actorID,
		Action:    action,
		TargetID:  targetID,
		Details:   details,
		CreatedAt: at,
	}
}

// notifyChange publishes a change on the feed. A lost notification is
// covered by polling, so failures are only logged.
func notifyChange(ctx context.Context, feed repository.ChangeFeed, logger *zap.Logger, collection, documentID, op string, at time.Time) {
	if feed == nil {
		return
	}
	change := repository.Change{Collection: collection, DocumentID: documentID, Op: op, At: at}
	if err := feed.Publish(ctx, change); err != nil {
		logger.Warn("change notification failed",
			zap.String("topic", change.Topic()),
			zap.Error(err),
		)
	}
}

// feedSubscription holds one watch per topic on a change feed. ensure
// subscribes whatever topics have no live watch, so a feed that was down
// when watching started is picked up again later.
type feedSubscription struct {
	ctx      context.Context
	feed     repository.ChangeFeed
	logger   *zap.Logger
	topics   []string
	onChange func(repository.Change)

	mu           sync.Mutex
	unsubscribes map[string]func()
	failed       map[string]bool
	closed       bool
}

func newFeedSubscription(ctx context.Context, feed repository.ChangeFeed, logger *zap.Logger, onChange func(repository.Change), topics ...string) *feedSubscription {
	return &feedSubscription{
		ctx:          ctx,
		feed:         feed,
		logger:       logger,
		topics:       topics,
		onChange:     onChange,
		unsubscribes: make(map[string]func()),
		failed:       make(map[string]bool),
	}
}

// ensure subscribes every topic without a live watch and returns how many
// topics are subscribed.
func (s *feedSubscription) ensure() int {
	if s.feed == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ctx.Err() != nil {
		return len(s.unsubscribes)
	}
	for _, topic := range s.topics {
		if _, ok := s.unsubscribes[topic]; ok {
			continue
		}
		unsubscribe, err := s.feed.Watch(s.ctx, topic, s.onChange)
		if err != nil {
			if !s.failed[topic] {
				s.logger.Warn("push channel unavailable; relying on polling", zap.String("topic", topic), zap.Error(err))
			}
			s.failed[topic] = true
			continue
		}
		if s.failed[topic] {
			s.logger.Info("push channel restored", zap.String("topic", topic))
			delete(s.failed, topic)
		}
		s.unsubscribes[topic] = unsubscribe
	}
	return len(s.unsubscribes)
}

// close removes every watch. ensure does nothing afterwards.
func (s *feedSubscription) close() {
	s.mu.Lock()
	unsubscribes := s.unsubscribes
	s.unsubscribes = map[string]func(){}
	s.closed = true
	s.mu.Unlock()

	for _, unsubscribe := range unsubscribes {
		unsubscribe()
	}
}
