package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/moderation-service/internal/cache"
	"github.com/spec-kit/moderation-service/internal/clock"
	"github.com/spec-kit/moderation-service/internal/events"
	"github.com/spec-kit/moderation-service/internal/observability"
)

// Presenter is the presentation layer as seen by enforcement.
type Presenter interface {
	// ShowSanction displays a ban notice that offers no dismiss action.
	ShowSanction(identityID string, notice events.BanDetectedPayload)
	ShowBlockingWarning(identityID string, warning events.WarningCreatedPayload)
	QueueWarning(identityID string, warning events.WarningCreatedPayload)
	Redirect(identityID, route string)
}

// TeardownHook runs after local credentials were dropped.
type TeardownHook func(ctx context.Context, identityID string)

// EnforcementController turns BanDetected and blocking warnings into a
// notice, a grace period and a local teardown, once per event key.
type EnforcementController struct {
	dispatcher    events.Dispatcher
	cache         *cache.Cache
	presenter     Presenter
	clock         clock.Clock
	logger        *zap.Logger
	metrics       *observability.Metrics
	gracePeriod   time.Duration
	redirectRoute string

	mu          sync.Mutex
	handled     map[string]struct{}
	pending     map[string]clock.Timer
	hooks       []TeardownHook
	unsubscribe []func()
}

// EnforcementDependencies bundles collaborators for the controller.
type EnforcementDependencies struct {
	Dispatcher    events.Dispatcher
	Cache         *cache.Cache
	Presenter     Presenter
	Clock         clock.Clock
	Logger        *zap.Logger
	Metrics       *observability.Metrics
	GracePeriod   time.Duration
	RedirectRoute string
}

// NewEnforcementController constructs the controller.
func NewEnforcementController(deps EnforcementDependencies) *EnforcementController {
	return &EnforcementController{
		dispatcher:    deps.Dispatcher,
		cache:         deps.Cache,
		presenter:     deps.Presenter,
		clock:         deps.Clock,
		logger:        deps.Logger.Named("enforcement"),
		metrics:       deps.Metrics,
		gracePeriod:   deps.GracePeriod,
		redirectRoute: deps.RedirectRoute,
		handled:       make(map[string]struct{}),
		pending:       make(map[string]clock.Timer),
	}
}

// OnTeardown registers a hook run by every teardown.
func (c *EnforcementController) OnTeardown(hook TeardownHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook)
}

// RegisterHandlers subscribes to events.
func (c *EnforcementController) RegisterHandlers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.unsubscribe) > 0 {
		return
	}
	c.unsubscribe = append(c.unsubscribe,
		c.dispatcher.Subscribe(events.EventBanDetected, c.handleBanDetected),
		c.dispatcher.Subscribe(events.EventWarningCreated, c.handleWarningCreated),
	)
}

// Stop unsubscribes and cancels pending teardowns. A cancelled teardown is
// released so the event is enforced again once handlers are registered.
func (c *EnforcementController) Stop() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	for key, timer := range c.pending {
		timer.Stop()
		delete(c.pending, key)
		delete(c.handled, key)
	}
	c.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
}

// claim marks key handled and reports whether this call won it. Keys that
// lead to a teardown are held until the teardown finishes, so a later
// detection of the same sanction (a new login) is enforced again.
func (c *EnforcementController) claim(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, done := c.handled[key]; done {
		return false
	}
	c.handled[key] = struct{}{}
	return true
}

func (c *EnforcementController) handleBanDetected(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.BanDetectedPayload)
	if !ok {
		return fmt.Errorf("ban detected: unexpected payload %T", event.Payload)
	}
	key := "ban:" + event.Key
	if !c.claim(key) {
		return nil
	}

	c.logger.Info("enforcing sanction",
		zap.String("identity_id", event.IdentityID),
		zap.String("sanction_id", payload.SanctionID),
		zap.String("kind", string(payload.Kind)),
	)
	c.presenter.ShowSanction(event.IdentityID, payload)
	c.scheduleTeardown(key, event.IdentityID)
	return nil
}

func (c *EnforcementController) handleWarningCreated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.WarningCreatedPayload)
	if !ok {
		return fmt.Errorf("warning created: unexpected payload %T", event.Payload)
	}
	key := "warning:" + event.Key
	if !c.claim(key) {
		return nil
	}

	if !payload.Blocking() {
		c.presenter.QueueWarning(event.IdentityID, payload)
		return nil
	}
	c.logger.Info("enforcing terminal warning",
		zap.String("identity_id", event.IdentityID),
		zap.String("warning_id", payload.ID),
	)
	c.presenter.ShowBlockingWarning(event.IdentityID, payload)
	c.scheduleTeardown(key, event.IdentityID)
	return nil
}

func (c *EnforcementController) scheduleTeardown(key, identityID string) {
	if c.gracePeriod <= 0 {
		c.teardown(key, identityID)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[key] = c.clock.AfterFunc(c.gracePeriod, func() {
		c.teardown(key, identityID)
	})
}

func (c *EnforcementController) teardown(key, identityID string) {
	c.mu.Lock()
	delete(c.pending, key)
	hooks := append([]TeardownHook(nil), c.hooks...)
	c.mu.Unlock()

	ctx := context.Background()
	c.dropCredentials(ctx, identityID)
	for _, hook := range hooks {
		hook(ctx, identityID)
	}
	c.metrics.Teardown()
	c.logger.Info("local session torn down", zap.String("identity_id", identityID), zap.String("redirect", c.redirectRoute))
	c.presenter.Redirect(identityID, c.redirectRoute)

	c.mu.Lock()
	delete(c.handled, key)
	c.mu.Unlock()
}

// dropCredentials removes the cached session and, when it belongs to
// identityID, the current identity pointer. The cached sanction and role
// stay so an outage keeps resolving the ban.
func (c *EnforcementController) dropCredentials(ctx context.Context, identityID string) {
	if err := c.cache.DeleteSession(ctx, identityID); err != nil {
		c.logger.Warn("drop cached session", zap.String("identity_id", identityID), zap.Error(err))
	}
	current, ok, err := c.cache.CurrentIdentity(ctx)
	if err != nil {
		c.logger.Warn("read cached identity", zap.Error(err))
		return
	}
	if ok && current.ID == identityID {
		if err := c.cache.ClearCurrentIdentity(ctx); err != nil {
			c.logger.Warn("clear cached identity", zap.String("identity_id", identityID), zap.Error(err))
		}
	}
}

// LogPresenter renders enforcement actions as log lines. Used by headless
// processes that have no interactive surface.
type LogPresenter struct {
	Logger *zap.Logger
}

func (p LogPresenter) ShowSanction(identityID string, notice events.BanDetectedPayload) {
	p.Logger.Info("sanction notice",
		zap.String("identity_id", identityID),
		zap.String("reason", notice.Reason),
		zap.String("kind", string(notice.Kind)),
		zap.Duration("time_remaining", notice.TimeRemaining),
	)
}

func (p LogPresenter) ShowBlockingWarning(identityID string, warning events.WarningCreatedPayload) {
	p.Logger.Info("blocking warning", zap.String("identity_id", identityID), zap.String("title", warning.Title))
}

func (p LogPresenter) QueueWarning(identityID string, warning events.WarningCreatedPayload) {
	p.Logger.Info("warning queued", zap.String("identity_id", identityID), zap.String("title", warning.Title))
}

func (p LogPresenter) Redirect(identityID, route string) {
	p.Logger.Info("redirect", zap.String("identity_id", identityID), zap.String("route", route))
}
