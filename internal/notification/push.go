package notification

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/k3a/html2text"

	"github.com/skyhub/skyhub-go/internal/conf"
	"github.com/skyhub/skyhub-go/internal/errors"
	"github.com/skyhub/skyhub-go/internal/observability/metrics"
)

// Provider defines an external push delivery backend.
// Implementations must be safe for concurrent use.
type Provider interface {
	GetName() string
	ValidateConfig() error
	Send(ctx context.Context, n *Notification) error
	SupportsType(notifType Type) bool
	IsEnabled() bool
}

const (
	defaultSendTimeout = 30 * time.Second
	maxSendAttempts    = 3
	retryDelay         = 5 * time.Second
)

// Dispatcher subscribes to a Service and forwards notifications to the
// configured push providers. Node agent rejections often arrive as HTML
// fragments; message bodies are flattened to plain text before delivery.
type Dispatcher struct {
	service   *Service
	providers []Provider
	metrics   *metrics.NotificationMetrics
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewDispatcher builds a dispatcher from the notification settings. Providers
// whose configuration fails validation are logged and skipped so one broken
// shoutrrr URL does not take down the rest.
func NewDispatcher(settings *conf.NotificationSettings, service *Service, m *metrics.NotificationMetrics) *Dispatcher {
	d := &Dispatcher{
		service: service,
		metrics: m,
	}

	for i := range settings.Providers {
		pc := &settings.Providers[i]
		if !pc.Enabled {
			continue
		}
		prov := NewShoutrrrProvider(pc.Name, pc.Enabled, pc.URLs, pc.Types, pc.Timeout)
		if err := prov.ValidateConfig(); err != nil {
			serviceLogger.Error("push provider config invalid",
				"name", prov.GetName(), "error", err)
			continue
		}
		d.providers = append(d.providers, prov)
		if d.metrics != nil {
			d.metrics.UpdateHealthStatus(prov.GetName(), true)
		}
	}

	return d
}

// Providers returns the validated, enabled providers.
func (d *Dispatcher) Providers() []Provider {
	return d.providers
}

// Start subscribes to the notification service and begins forwarding.
// A no-op when no providers validated.
func (d *Dispatcher) Start() {
	if len(d.providers) == 0 {
		serviceLogger.Info("push delivery enabled but no providers configured")
		return
	}

	ch, subCtx := d.service.Subscribe()
	ctx, cancel := context.WithCancel(subCtx)
	d.cancel = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case notif, ok := <-ch:
				if !ok || notif == nil {
					return
				}
				d.dispatch(ctx, notif)
			case <-ctx.Done():
				return
			}
		}
	}()

	serviceLogger.Info("push dispatcher started", "providers", len(d.providers))
}

// Stop halts forwarding and waits for in-flight sends.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Dispatcher) dispatch(ctx context.Context, notif *Notification) {
	flattened := notif.Clone()
	flattened.Message = FlattenMessage(flattened.Message)

	for _, prov := range d.providers {
		if !prov.IsEnabled() || !prov.SupportsType(notif.Type) {
			continue
		}

		d.wg.Add(1)
		go func(prov Provider) {
			defer d.wg.Done()
			d.send(ctx, prov, flattened)
		}(prov)
	}
}

func (d *Dispatcher) send(ctx context.Context, prov Provider, notif *Notification) {
	var timer *metrics.DeliveryTimer
	if d.metrics != nil {
		timer = d.metrics.StartDeliveryTimer()
	}

	var err error
	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, defaultSendTimeout)
		err = prov.Send(attemptCtx, notif)
		cancel()
		if err == nil {
			break
		}
		if attempt == maxSendAttempts || ctx.Err() != nil {
			break
		}
		if d.metrics != nil {
			d.metrics.RecordRetryAttempt(prov.GetName())
		}
		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return
		}
	}

	status := "success"
	if err != nil {
		status = "error"
		serviceLogger.Error("push send failed",
			"provider", prov.GetName(),
			"notification_id", notif.ID,
			"error", err)
		if d.metrics != nil {
			d.metrics.RecordDeliveryError(prov.GetName(), string(notif.Type), errorCategory(err))
			d.metrics.UpdateHealthStatus(prov.GetName(), false)
		}
	} else if d.metrics != nil {
		d.metrics.UpdateHealthStatus(prov.GetName(), true)
	}

	if timer != nil {
		timer.ObserveDuration(prov.GetName(), string(notif.Type), status)
	}
}

func errorCategory(err error) string {
	var enhanced *errors.EnhancedError
	if errors.As(err, &enhanced) {
		return enhanced.GetCategory()
	}
	return "unknown"
}

// FlattenMessage converts HTML fragments in a message to plain text.
// Messages without markup pass through unchanged apart from whitespace
// normalization of the converted output.
func FlattenMessage(message string) string {
	if !strings.ContainsAny(message, "<>") {
		return message
	}
	flat := html2text.HTML2Text(message)
	return strings.TrimSpace(flat)
}
