package notification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyhub/skyhub-go/internal/conf"
)

type capturingProvider struct {
	mu      sync.Mutex
	name    string
	types   map[Type]bool
	sent    []*Notification
	sendErr error
}

func (p *capturingProvider) GetName() string       { return p.name }
func (p *capturingProvider) ValidateConfig() error { return nil }
func (p *capturingProvider) IsEnabled() bool       { return true }

func (p *capturingProvider) SupportsType(t Type) bool {
	if len(p.types) == 0 {
		return true
	}
	return p.types[t]
}

func (p *capturingProvider) Send(_ context.Context, n *Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent = append(p.sent, n)
	return nil
}

func (p *capturingProvider) sentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func (p *capturingProvider) lastSent() *Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sent) == 0 {
		return nil
	}
	return p.sent[len(p.sent)-1]
}

func startTestDispatcher(t *testing.T, svc *Service, providers ...Provider) *Dispatcher {
	t.Helper()
	d := &Dispatcher{service: svc, providers: providers}
	d.Start()
	t.Cleanup(d.Stop)
	return d
}

func waitForSends(t *testing.T, p *capturingProvider, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if p.sentCount() >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d sends, got %d", want, p.sentCount())
}

func TestDispatcherForwardsToProvider(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, nil)
	prov := &capturingProvider{name: "capture"}
	startTestDispatcher(t, svc, prov)

	_, err := svc.Create(TypeFacility, PriorityHigh, "Rejected", "bad airmass")
	require.NoError(t, err)

	waitForSends(t, prov, 1)
	assert.Equal(t, "Rejected", prov.lastSent().Title)
}

func TestDispatcherRespectsTypeFilter(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, nil)
	prov := &capturingProvider{
		name:  "errors-only",
		types: map[Type]bool{TypeError: true},
	}
	startTestDispatcher(t, svc, prov)

	_, err := svc.Create(TypeInfo, PriorityLow, "ignored", "m")
	require.NoError(t, err)
	_, err = svc.Create(TypeError, PriorityHigh, "delivered", "m")
	require.NoError(t, err)

	waitForSends(t, prov, 1)
	// Give a skipped info notification time to have been (wrongly) sent.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, prov.sentCount())
	assert.Equal(t, "delivered", prov.lastSent().Title)
}

func TestDispatcherFlattensHTML(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, nil)
	prov := &capturingProvider{name: "capture"}
	startTestDispatcher(t, svc, prov)

	_, err := svc.Create(TypeFacility, PriorityHigh, "Rejected",
		"<html><body><p>proposal <b>expired</b></p></body></html>")
	require.NoError(t, err)

	waitForSends(t, prov, 1)
	assert.Equal(t, "proposal expired", prov.lastSent().Message)
}

func TestFlattenMessage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "no credit available", "no credit available"},
		{"tags stripped", "<p>schedule <i>rejected</i></p>", "schedule rejected"},
		{"plain with punctuation", "airmass 2.0, seeing 1.2", "airmass 2.0, seeing 1.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, FlattenMessage(tt.in))
		})
	}
}

func TestNewDispatcherSkipsInvalidProvider(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, nil)

	settings := &conf.NotificationSettings{
		Enabled: true,
		Providers: []conf.PushProviderConfig{
			{Name: "no-urls", Enabled: true}, // invalid: no URLs
			{Name: "disabled", Enabled: false, URLs: []string{"generic://example.invalid"}},
		},
	}

	d := NewDispatcher(settings, svc, nil)
	assert.Empty(t, d.Providers())
}

func TestShoutrrrProviderValidation(t *testing.T) {
	t.Parallel()

	t.Run("disabled provider validates", func(t *testing.T) {
		t.Parallel()
		p := NewShoutrrrProvider("p", false, nil, nil, 0)
		require.NoError(t, p.ValidateConfig())
	})

	t.Run("enabled without URLs fails", func(t *testing.T) {
		t.Parallel()
		p := NewShoutrrrProvider("p", true, nil, nil, 0)
		require.Error(t, p.ValidateConfig())
	})

	t.Run("send before validate fails", func(t *testing.T) {
		t.Parallel()
		p := NewShoutrrrProvider("p", true, []string{"generic://example.invalid"}, nil, 0)
		err := p.Send(context.Background(), NewNotification(TypeInfo, PriorityLow, "t", "m"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not initialized")
	})

	t.Run("empty types admit everything", func(t *testing.T) {
		t.Parallel()
		p := NewShoutrrrProvider("p", true, nil, nil, 0)
		assert.True(t, p.SupportsType(TypeFacility))
	})

	t.Run("listed types filter", func(t *testing.T) {
		t.Parallel()
		p := NewShoutrrrProvider("p", true, nil, []string{"error"}, 0)
		assert.True(t, p.SupportsType(TypeError))
		assert.False(t, p.SupportsType(TypeInfo))
	})
}
