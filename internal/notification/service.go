package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skyhub/skyhub-go/internal/errors"
	"github.com/skyhub/skyhub-go/internal/logging"
	"github.com/skyhub/skyhub-go/internal/observability/metrics"
)

const (
	// DefaultMaxNotifications caps the in-memory store.
	DefaultMaxNotifications = 1000
	// DefaultCleanupInterval is how often expired notifications are purged.
	DefaultCleanupInterval = 5 * time.Minute
	// DefaultRateLimitMaxEvents bounds notifications created per window.
	DefaultRateLimitMaxEvents = 100
	// DefaultChannelBufferSize is the per-subscriber channel depth.
	DefaultChannelBufferSize = 16
)

const componentName = "notification"

var (
	serviceLogger *slog.Logger
	closeLogger   func() error
)

func init() {
	var err error
	serviceLogger, closeLogger, err = logging.NewFileLogger("logs/notification.log", componentName, slog.LevelInfo)
	if err != nil || serviceLogger == nil {
		serviceLogger = logging.ForService(componentName)
		closeLogger = func() error { return nil }
	}
}

// CloseLogger releases the package log file.
func CloseLogger() error {
	if closeLogger != nil {
		return closeLogger()
	}
	return nil
}

// Subscriber represents a notification subscriber
type Subscriber struct {
	ch     chan *Notification
	ctx    context.Context
	cancel context.CancelFunc
}

// ServiceConfig holds the configuration for the notification service.
type ServiceConfig struct {
	// Debug enables debug logging for the service
	Debug bool
	// MaxNotifications is the maximum number of notifications to keep in memory
	MaxNotifications int
	// CleanupInterval is how often to clean up expired notifications
	CleanupInterval time.Duration
	// RateLimitWindow is the time window for rate limiting
	RateLimitWindow time.Duration
	// RateLimitMaxEvents is the maximum number of events per window
	RateLimitMaxEvents int
}

// DefaultServiceConfig returns a default configuration
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		MaxNotifications:   DefaultMaxNotifications,
		CleanupInterval:    DefaultCleanupInterval,
		RateLimitWindow:    1 * time.Minute,
		RateLimitMaxEvents: DefaultRateLimitMaxEvents,
	}
}

// Service manages notifications: storage, broadcast to subscribers and
// rate limiting. Push delivery to external providers is handled by the
// Dispatcher, which is itself a subscriber.
type Service struct {
	store         NotificationStore
	subscribers   []*Subscriber
	subscribersMu sync.RWMutex
	rateLimiter   *rateLimiter
	cleanupTicker *time.Ticker
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	logger        *slog.Logger
	config        *ServiceConfig
	metrics       *metrics.NotificationMetrics
}

// NewService creates a new notification service and starts its cleanup worker.
func NewService(config *ServiceConfig) *Service {
	if config == nil {
		config = DefaultServiceConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	service := &Service{
		store:         NewInMemoryStore(config.MaxNotifications),
		subscribers:   make([]*Subscriber, 0),
		rateLimiter:   newRateLimiter(config.RateLimitWindow, config.RateLimitMaxEvents),
		cleanupTicker: time.NewTicker(config.CleanupInterval),
		ctx:           ctx,
		cancel:        cancel,
		logger:        serviceLogger,
		config:        config,
	}

	service.logger.Info("notification service initialized",
		"max_notifications", config.MaxNotifications,
		"cleanup_interval", config.CleanupInterval,
		"rate_limit_window", config.RateLimitWindow,
		"rate_limit_max_events", config.RateLimitMaxEvents)

	service.wg.Add(1)
	go service.cleanupLoop()

	return service
}

// SetMetrics attaches delivery metrics. Safe to leave unset.
func (s *Service) SetMetrics(m *metrics.NotificationMetrics) {
	s.metrics = m
}

// Create adds a new notification to the system and broadcasts it.
func (s *Service) Create(notifType Type, priority Priority, title, message string) (*Notification, error) {
	return s.publish(NewNotification(notifType, priority, title, message))
}

// CreateWithComponent creates a notification tagged with a source component.
func (s *Service) CreateWithComponent(notifType Type, priority Priority, title, message, component string) (*Notification, error) {
	return s.publish(NewNotification(notifType, priority, title, message).WithComponent(component))
}

// CreateForUser creates a notification targeted at a single user.
func (s *Service) CreateForUser(userID uint, notifType Type, priority Priority, title, message string) (*Notification, error) {
	return s.publish(NewNotification(notifType, priority, title, message).WithUser(userID))
}

// Publish stores and broadcasts a caller-constructed notification. Used
// when the caller needs metadata or expiry set before broadcast.
func (s *Service) Publish(n *Notification) (*Notification, error) {
	return s.publish(n)
}

func (s *Service) publish(n *Notification) (*Notification, error) {
	if !s.rateLimiter.Allow() {
		if s.config.Debug {
			s.logger.Debug("notification rate limit exceeded",
				"type", n.Type,
				"priority", n.Priority)
		}
		return nil, errors.Newf("notification rate limit exceeded").
			Component(componentName).
			Category(errors.CategoryLimit).
			Build()
	}

	if err := s.store.Save(n); err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryNotification).
			Context("operation", "save_notification").
			Build()
	}

	s.broadcast(n)

	if s.config.Debug {
		s.logger.Debug("notification created and broadcast",
			"id", n.ID,
			"type", n.Type,
			"user_id", n.UserID)
	}

	return n, nil
}

// Get retrieves a notification by ID
func (s *Service) Get(id string) (*Notification, error) {
	return s.store.Get(id)
}

// List returns notifications based on filter options
func (s *Service) List(filter *FilterOptions) ([]*Notification, error) {
	return s.store.List(filter)
}

// MarkAsRead updates a notification's status to read
func (s *Service) MarkAsRead(id string) error {
	if id == "" {
		return errors.Newf("notification ID cannot be empty").
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}

	notification, err := s.store.Get(id)
	if err != nil {
		return err
	}

	notification.MarkAsRead()
	return s.store.Update(notification)
}

// MarkAsAcknowledged updates a notification's status to acknowledged
func (s *Service) MarkAsAcknowledged(id string) error {
	if id == "" {
		return errors.Newf("notification ID cannot be empty").
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}

	notification, err := s.store.Get(id)
	if err != nil {
		return err
	}

	notification.MarkAsAcknowledged()
	return s.store.Update(notification)
}

// Delete removes a notification
func (s *Service) Delete(id string) error {
	if id == "" {
		return errors.Newf("notification ID cannot be empty").
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}
	return s.store.Delete(id)
}

// GetUnreadCount returns the number of unread notifications
func (s *Service) GetUnreadCount() (int, error) {
	return s.store.GetUnreadCount()
}

// CreateErrorNotification creates a notification from an error, deriving
// title, priority and component from the categorized error when available.
func (s *Service) CreateErrorNotification(err error) (*Notification, error) {
	var title, message, component string
	var priority Priority

	var enhancedErr *errors.EnhancedError
	if errors.As(err, &enhancedErr) {
		component = enhancedErr.GetComponent()
		category := enhancedErr.GetCategory()
		message = enhancedErr.Error()

		switch category {
		case string(errors.CategorySystem), string(errors.CategoryDatabase):
			priority = PriorityCritical
			title = "Critical System Error"
		case string(errors.CategoryNetwork), string(errors.CategoryHTTP), string(errors.CategoryFacility):
			priority = PriorityHigh
			title = fmt.Sprintf("%s Error", category)
		default:
			priority = PriorityMedium
			title = "Application Error"
		}
	} else {
		priority = PriorityMedium
		title = "Application Error"
		message = err.Error()
		component = "unknown"
	}

	return s.CreateWithComponent(TypeError, priority, title, message, component)
}

// Subscribe creates a channel receiving every subsequently created
// notification. The returned context is cancelled when the subscription
// ends; subscribers must not close the channel.
func (s *Service) Subscribe() (<-chan *Notification, context.Context) {
	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()

	ctx, cancel := context.WithCancel(s.ctx)
	sub := &Subscriber{
		ch:     make(chan *Notification, DefaultChannelBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
	s.subscribers = append(s.subscribers, sub)

	if s.config.Debug {
		s.logger.Debug("new subscriber added", "total_subscribers", len(s.subscribers))
	}

	return sub.ch, ctx
}

// Unsubscribe removes a notification channel. It cancels the subscriber's
// context but does not close the channel.
func (s *Service) Unsubscribe(ch <-chan *Notification) {
	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()

	for i, subscriber := range s.subscribers {
		if subscriber.ch == ch {
			subscriber.cancel()
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			break
		}
	}
}

// broadcast delivers a clone of the notification to every live subscriber.
// Slow subscribers are skipped rather than blocked on; cancelled ones are
// pruned in passing.
func (s *Service) broadcast(notification *Notification) {
	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()

	active := s.subscribers[:0]
	for _, sub := range s.subscribers {
		select {
		case <-sub.ctx.Done():
			continue
		default:
		}

		select {
		case sub.ch <- notification.Clone():
		default:
			s.logger.Warn("subscriber channel full, dropping notification",
				"notification_id", notification.ID)
		}
		active = append(active, sub)
	}
	s.subscribers = active

	if s.metrics != nil {
		s.metrics.SetQueueDepth(len(active))
	}
}

// cleanupLoop removes expired notifications periodically
func (s *Service) cleanupLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.cleanupTicker.C:
			if err := s.store.DeleteExpired(); err != nil {
				s.logger.Error("failed to delete expired notifications", "error", err)
			}
		}
	}
}

// Stop terminates the service: cancels all subscriptions and halts the
// cleanup worker.
func (s *Service) Stop() {
	s.cancel()
	s.cleanupTicker.Stop()
	s.wg.Wait()

	s.subscribersMu.Lock()
	for _, sub := range s.subscribers {
		sub.cancel()
		close(sub.ch)
	}
	s.subscribers = nil
	s.subscribersMu.Unlock()
}
