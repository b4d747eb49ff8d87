package facility

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyhub/skyhub-go/internal/datastore"
	"github.com/skyhub/skyhub-go/internal/errors"
)

// fakeAPI is a minimal API implementation for registry tests.
type fakeAPI struct {
	name        string
	instruments []string
}

func (f *fakeAPI) Facility() string      { return f.name }
func (f *fakeAPI) Instruments() []string { return f.instruments }

func (f *fakeAPI) Submit(context.Context, *datastore.FollowupRequest) error { return nil }
func (f *fakeAPI) Delete(context.Context, *datastore.FollowupRequest) error { return nil }

func (f *fakeAPI) FormSchema(string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (f *fakeAPI) ValidatePayload(_ string, payload map[string]any) (map[string]any, error) {
	return payload, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	lt := &fakeAPI{name: "LT", instruments: []string{"IO:O", "IO:I", "SPRAT"}}
	require.NoError(t, registry.Register(lt))

	got, err := registry.Get("LT")
	require.NoError(t, err)
	assert.Same(t, lt, got)

	got, err = registry.ForInstrument("SPRAT")
	require.NoError(t, err)
	assert.Same(t, lt, got)
}

func TestRegistryUnknownLookups(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()

	_, err := registry.Get("ZTF")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	_, err = registry.ForInstrument("IO:O")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	require.NoError(t, registry.Register(&fakeAPI{name: "LT", instruments: []string{"IO:O"}}))

	err := registry.Register(&fakeAPI{name: "LT", instruments: []string{"SPRAT"}})
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))

	// A different facility must not claim an instrument already served.
	err = registry.Register(&fakeAPI{name: "OTHER", instruments: []string{"IO:O"}})
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
}

func TestRegistryRejectsNil(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	require.Error(t, registry.Register(nil))
}

func TestRegistryFacilities(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	require.NoError(t, registry.Register(&fakeAPI{name: "ZTF"}))
	require.NoError(t, registry.Register(&fakeAPI{name: "LT", instruments: []string{"IO:O"}}))

	assert.Equal(t, []string{"LT", "ZTF"}, registry.Facilities())
}
