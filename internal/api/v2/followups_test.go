package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/skyhub/skyhub-go/internal/datastore"
	"github.com/skyhub/skyhub-go/internal/errors"
	"github.com/skyhub/skyhub-go/internal/facility"
)

// fakeFacility implements facility.API for handler tests.
type fakeFacility struct {
	name        string
	instruments []string
	schema      json.RawMessage
	validateErr error
	submitErr   error
	deleteErr   error
	submitted   []uint
	deleted     []uint
}

func (f *fakeFacility) Facility() string      { return f.name }
func (f *fakeFacility) Instruments() []string { return f.instruments }

func (f *fakeFacility) FormSchema(string) (json.RawMessage, error) {
	if f.schema == nil {
		return nil, errors.Newf("no schema").Category(errors.CategoryNotFound).Build()
	}
	return f.schema, nil
}

func (f *fakeFacility) ValidatePayload(_ string, payload map[string]any) (map[string]any, error) {
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	return payload, nil
}

func (f *fakeFacility) Submit(_ context.Context, req *datastore.FollowupRequest) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, req.ID)
	req.Status = facility.StatusSubmitted
	return nil
}

func (f *fakeFacility) Delete(_ context.Context, req *datastore.FollowupRequest) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, req.ID)
	req.Status = facility.StatusDeleted
	return nil
}

func newTestRegistry(t *testing.T, fake *fakeFacility) *facility.Registry {
	t.Helper()
	registry := facility.NewRegistry()
	require.NoError(t, registry.Register(fake))
	return registry
}

func testAllocation(groupID uint) datastore.Allocation {
	return datastore.Allocation{
		ID:           3,
		ProposalID:   "PL04B17",
		GroupID:      groupID,
		InstrumentID: 5,
		Instrument:   datastore.Instrument{ID: 5, Name: "IOO", Type: datastore.InstrumentTypeSpectrograph},
	}
}

func TestCreateFollowupRequestSubmits(t *testing.T) {
	ds := new(MockDataStore)
	fake := &fakeFacility{name: "LT", instruments: []string{"IOO"}}
	controller, e := newTestController(t, ds, WithFacilities(newTestRegistry(t, fake)))

	actor := testActor()
	allocation := testAllocation(1)

	ds.On("GetObj", "ZTF21abcdef").Return(datastore.Obj{ID: "ZTF21abcdef"}, nil)
	ds.On("GetAllocation", uint(3)).Return(allocation, nil)
	ds.On("CreateFollowupRequest", mock.AnythingOfType("*datastore.FollowupRequest")).
		Run(func(args mock.Arguments) {
			req := args.Get(0).(*datastore.FollowupRequest)
			req.ID = 11
		}).Return(nil)
	ds.On("GetFollowupRequest", uint(11)).Return(datastore.FollowupRequest{
		ID:           11,
		ObjID:        "ZTF21abcdef",
		AllocationID: 3,
		Allocation:   allocation,
		RequesterID:  actor.User.ID,
		Status:       facility.StatusSubmitted,
	}, nil)

	body := `{"allocationId":3,"objId":"ZTF21abcdef","payload":{"exposure_time":120},"targetGroupIds":[1]}`
	ds.On("GetGroup", uint(1)).Return(datastore.Group{ID: 1, Name: "Transients"}, nil)

	ctx, rec := newTestContext(e, http.MethodPost, "/api/v2/followup_requests", body, actor)
	require.NoError(t, controller.CreateFollowupRequest(ctx))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uint{11}, fake.submitted)

	var resp FollowupRequestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, facility.StatusSubmitted, resp.Status)
	assert.Equal(t, "IOO", resp.Instrument)
}

func TestCreateFollowupRequestOutsideAllocationGroup(t *testing.T) {
	ds := new(MockDataStore)
	fake := &fakeFacility{name: "LT", instruments: []string{"IOO"}}
	controller, e := newTestController(t, ds, WithFacilities(newTestRegistry(t, fake)))

	ds.On("GetObj", "ZTF21abcdef").Return(datastore.Obj{ID: "ZTF21abcdef"}, nil)
	ds.On("GetAllocation", uint(3)).Return(testAllocation(9), nil)

	body := `{"allocationId":3,"objId":"ZTF21abcdef","payload":{}}`
	ctx, rec := newTestContext(e, http.MethodPost, "/api/v2/followup_requests", body, testActor())
	require.NoError(t, controller.CreateFollowupRequest(ctx))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, fake.submitted)
}

func TestCreateFollowupRequestInvalidPayload(t *testing.T) {
	ds := new(MockDataStore)
	fake := &fakeFacility{
		name:        "LT",
		instruments: []string{"IOO"},
		validateErr: errors.Newf("exposure_time is required").
			Category(errors.CategoryFacilityPayload).Build(),
	}
	controller, e := newTestController(t, ds, WithFacilities(newTestRegistry(t, fake)))

	ds.On("GetObj", "ZTF21abcdef").Return(datastore.Obj{ID: "ZTF21abcdef"}, nil)
	ds.On("GetAllocation", uint(3)).Return(testAllocation(1), nil)

	body := `{"allocationId":3,"objId":"ZTF21abcdef","payload":{}}`
	ctx, rec := newTestContext(e, http.MethodPost, "/api/v2/followup_requests", body, testActor())
	require.NoError(t, controller.CreateFollowupRequest(ctx))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, fake.submitted)
}

func TestDeleteFollowupRequestAborts(t *testing.T) {
	ds := new(MockDataStore)
	fake := &fakeFacility{name: "LT", instruments: []string{"IOO"}}
	controller, e := newTestController(t, ds, WithFacilities(newTestRegistry(t, fake)))

	actor := testActor()
	request := datastore.FollowupRequest{
		ID:           11,
		ObjID:        "ZTF21abcdef",
		AllocationID: 3,
		Allocation:   testAllocation(1),
		RequesterID:  actor.User.ID,
		Status:       facility.StatusSubmitted,
	}

	ds.On("GetFollowupRequestForUser", actor, uint(11)).Return(request, nil)
	ds.On("CanManageFollowupRequest", actor, mock.AnythingOfType("*datastore.FollowupRequest")).Return(true, nil)
	deletedCopy := request
	deletedCopy.Status = facility.StatusDeleted
	ds.On("GetFollowupRequest", uint(11)).Return(deletedCopy, nil)

	ctx, rec := newTestContext(e, http.MethodDelete, "/api/v2/followup_requests/11", "", actor)
	ctx.SetParamNames("id")
	ctx.SetParamValues("11")
	require.NoError(t, controller.DeleteFollowupRequest(ctx))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uint{11}, fake.deleted)

	var resp FollowupRequestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, facility.StatusDeleted, resp.Status)
}

func TestDeleteFollowupRequestNotManager(t *testing.T) {
	ds := new(MockDataStore)
	fake := &fakeFacility{name: "LT", instruments: []string{"IOO"}}
	controller, e := newTestController(t, ds, WithFacilities(newTestRegistry(t, fake)))

	actor := testActor()
	request := datastore.FollowupRequest{ID: 11, Allocation: testAllocation(1), RequesterID: 99}

	ds.On("GetFollowupRequestForUser", actor, uint(11)).Return(request, nil)
	ds.On("CanManageFollowupRequest", actor, mock.AnythingOfType("*datastore.FollowupRequest")).Return(false, nil)

	ctx, rec := newTestContext(e, http.MethodDelete, "/api/v2/followup_requests/11", "", actor)
	ctx.SetParamNames("id")
	ctx.SetParamValues("11")
	require.NoError(t, controller.DeleteFollowupRequest(ctx))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, fake.deleted)
}

func TestListFollowupRequests(t *testing.T) {
	ds := new(MockDataStore)
	controller, e := newTestController(t, ds)

	actor := testActor()
	ds.On("ListFollowupRequests", actor, "ZTF21abcdef").Return([]datastore.FollowupRequest{
		{ID: 1, ObjID: "ZTF21abcdef", Status: facility.StatusSubmitted},
		{ID: 2, ObjID: "ZTF21abcdef", Status: facility.StatusDeleted},
	}, nil)

	ctx, rec := newTestContext(e, http.MethodGet, "/api/v2/followup_requests?objID=ZTF21abcdef", "", actor)
	require.NoError(t, controller.ListFollowupRequests(ctx))

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		FollowupRequests []FollowupRequestResponse `json:"followupRequests"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.FollowupRequests, 2)
}

func TestGetInstrumentForm(t *testing.T) {
	ds := new(MockDataStore)
	fake := &fakeFacility{
		name:        "LT",
		instruments: []string{"IOO"},
		schema:      json.RawMessage(`{"type":"object","properties":{"exposure_time":{"type":"number"}}}`),
	}
	controller, e := newTestController(t, ds, WithFacilities(newTestRegistry(t, fake)))

	t.Run("known instrument", func(t *testing.T) {
		ctx, rec := newTestContext(e, http.MethodGet, "/api/v2/facility/instruments/IOO/form", "", testActor())
		ctx.SetParamNames("name")
		ctx.SetParamValues("IOO")
		require.NoError(t, controller.GetInstrumentForm(ctx))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "exposure_time")
	})

	t.Run("unknown instrument", func(t *testing.T) {
		ctx, rec := newTestContext(e, http.MethodGet, "/api/v2/facility/instruments/SPRAT/form", "", testActor())
		ctx.SetParamNames("name")
		ctx.SetParamValues("SPRAT")
		require.NoError(t, controller.GetInstrumentForm(ctx))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
