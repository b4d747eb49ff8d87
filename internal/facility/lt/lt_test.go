package lt

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyhub/skyhub-go/internal/conf"
	"github.com/skyhub/skyhub-go/internal/datastore"
	"github.com/skyhub/skyhub-go/internal/errors"
	"github.com/skyhub/skyhub-go/internal/facility"
	"github.com/skyhub/skyhub-go/internal/secrets"
)

var _ facility.API = (*Client)(nil)

const (
	nodeAgentURL = "http://lt.example.org:8080/node_agent2/node_agent?wsdl"

	testAltdataJSON = `{"username":"ltproposal","password":"secret","LT_proposalID":"LT2026A-005"}`

	iooPayload = `{"exposure_time":300,"exposure_counts":1,"maximum_airmass":2,` +
		`"maximum_seeing":1.2,"sky_brightness":2,"photometric":true,` +
		`"start_date":"2026-03-01T19:00:00","end_date":"2026-03-05T07:00:00",` +
		`"observation_choices":["g"]}`

	confirmReply = `<?xml version="1.0" encoding="ISO-8859-1"?>` + "\n" +
		`<RTML xmlns="http://www.rtml.org/v3.1a" mode="confirm" uid="ZTF25aabcdef-7-1740000000" version="3.1a"></RTML>`
)

// eventsRecorder captures the refresh events and notifications a facility
// client emits while recording an outcome.
type eventsRecorder struct {
	refreshedObjs  []string
	refreshedUsers []uint
	notified       []string
}

func (r *eventsRecorder) RefreshSource(objID string) {
	r.refreshedObjs = append(r.refreshedObjs, objID)
}

func (r *eventsRecorder) RefreshFollowupRequests(userID uint) {
	r.refreshedUsers = append(r.refreshedUsers, userID)
}

func (r *eventsRecorder) Notify(_ uint, message, _ string) {
	r.notified = append(r.notified, message)
}

func newTestStore(t *testing.T) datastore.Interface {
	t.Helper()
	settings := &conf.Settings{}
	settings.Database.SQLite.Enabled = true
	settings.Database.SQLite.Path = t.TempDir() + "/test.db"

	ds := datastore.New(settings)
	require.NoError(t, ds.Open(), "Failed to open database")
	t.Cleanup(func() {
		assert.NoError(t, ds.Close(), "Failed to close datastore")
	})
	return ds
}

// newTestClient builds an LT client against a fresh SQLite store with a
// pinned clock and the client's HTTP transport intercepted by httpmock.
func newTestClient(t *testing.T) (*Client, *eventsRecorder) {
	t.Helper()

	ds := newTestStore(t)
	cipher, err := secrets.NewCipher("lt-unit-test-secret")
	require.NoError(t, err)

	events := &eventsRecorder{}
	client, err := New(conf.LTSettings{
		Enabled:       true,
		Host:          "lt.example.org",
		Port:          "8080",
		SiteLatitude:  28.7624,
		SiteLongitude: -17.8792,
	}, ds, cipher, events, nil)
	require.NoError(t, err)
	client.now = func() time.Time { return time.Unix(1740000000, 0) }

	httpmock.ActivateNonDefault(client.soap.http.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	return client, events
}

// seedFollowupRequest stores the object, allocation chain and a pending
// followup request, then reloads it with associations the way the API layer
// hands requests to facility clients.
func seedFollowupRequest(t *testing.T, c *Client, instrumentName, payload string) *datastore.FollowupRequest {
	t.Helper()

	user := &datastore.User{Username: "astro"}
	require.NoError(t, c.ds.CreateUser(user))
	group := &datastore.Group{Name: "Transients"}
	require.NoError(t, c.ds.CreateGroup(group))
	telescope := &datastore.Telescope{Name: "Liverpool Telescope", Latitude: 28.7624, Longitude: -17.8792}
	require.NoError(t, c.ds.CreateTelescope(telescope))

	instrumentType := "imager"
	if instrumentName == InstrumentSPRAT {
		instrumentType = "spectrograph"
	}
	instrument := &datastore.Instrument{Name: instrumentName, Type: instrumentType, TelescopeID: telescope.ID}
	require.NoError(t, c.ds.CreateInstrument(instrument))

	encrypted, err := c.cipher.EncryptString(testAltdataJSON)
	require.NoError(t, err)
	allocation := &datastore.Allocation{
		ProposalID:   "LT2026A-005",
		InstrumentID: instrument.ID,
		GroupID:      group.ID,
		Altdata:      encrypted,
	}
	require.NoError(t, c.ds.CreateAllocation(allocation))

	obj := &datastore.Obj{ID: "ZTF25aabcdef", RA: 187.5, Dec: -5.5}
	require.NoError(t, c.ds.CreateObj(obj))

	req := &datastore.FollowupRequest{
		ID:           7,
		ObjID:        obj.ID,
		AllocationID: allocation.ID,
		RequesterID:  user.ID,
		Status:       facility.StatusPendingSubmission,
		Payload:      payload,
	}
	require.NoError(t, c.ds.CreateFollowupRequest(req))

	loaded, err := c.ds.GetFollowupRequest(req.ID)
	require.NoError(t, err)
	return &loaded
}

// soapResult wraps an RTML document in the node agent's SOAP response
// envelope, entity-escaped the way the real service returns it.
func soapResult(t *testing.T, rtml string) string {
	t.Helper()
	var escaped bytes.Buffer
	require.NoError(t, xml.EscapeText(&escaped, []byte(rtml)))
	return `<?xml version="1.0" encoding="ISO-8859-1"?>` +
		`<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://schemas.xmlsoap.org/soap/envelope/">` +
		`<SOAP-ENV:Body><handle_rtmlResponse xmlns="urn:/node_agent2">` +
		`<Result>` + escaped.String() + `</Result>` +
		`</handle_rtmlResponse></SOAP-ENV:Body></SOAP-ENV:Envelope>`
}

// capturedEnvelope decodes the SOAP request body a test responder captured.
type capturedEnvelope struct {
	Body struct {
		HandleRTML struct {
			Document string `xml:"RTML_String"`
		} `xml:"handle_rtml"`
	} `xml:"Body"`
}

func registerNodeAgent(t *testing.T, replyRTML string) (body *[]byte, header *http.Header) {
	t.Helper()
	body = new([]byte)
	header = new(http.Header)
	httpmock.RegisterResponder(http.MethodPost, nodeAgentURL,
		func(req *http.Request) (*http.Response, error) {
			data, err := io.ReadAll(req.Body)
			if err != nil {
				return nil, err
			}
			*body = data
			*header = req.Header.Clone()
			return httpmock.NewStringResponse(http.StatusOK, soapResult(t, replyRTML)), nil
		})
	return body, header
}

func TestSubmitConfirmed(t *testing.T) {
	client, events := newTestClient(t)
	req := seedFollowupRequest(t, client, InstrumentIOO, iooPayload)
	body, header := registerNodeAgent(t, confirmReply)

	require.NoError(t, client.Submit(context.Background(), req))

	assert.Equal(t, facility.StatusSubmitted, req.Status)
	reloaded, err := client.ds.GetFollowupRequest(req.ID)
	require.NoError(t, err)
	assert.Equal(t, facility.StatusSubmitted, reloaded.Status)

	assert.Equal(t, 1, httpmock.GetTotalCallCount())
	assert.Equal(t, "urn:/node_agent2#handle_rtml", header.Get("SOAPAction"))
	assert.Equal(t, "text/xml; charset=utf-8", header.Get("Content-Type"))
	assert.Equal(t, "ltproposal", header.Get("Username"))
	assert.Equal(t, "secret", header.Get("Password"))
	assert.Equal(t, "SkyHub", header.Get("User-Agent"))

	require.True(t, bytes.HasPrefix(*body, []byte(xml.Header)))
	var envelope capturedEnvelope
	require.NoError(t, xml.Unmarshal(*body, &envelope))
	assert.Equal(t, goldenIOORequest, envelope.Body.HandleRTML.Document)

	transaction, err := client.ds.GetFirstFacilityTransaction(req.ID)
	require.NoError(t, err)
	assert.Equal(t, goldenIOORequest, transaction.Request)
	assert.Equal(t, confirmReply, transaction.Response)
	assert.Equal(t, req.ID, transaction.FollowupRequestID)
	assert.Equal(t, req.RequesterID, transaction.InitiatorID)

	assert.Equal(t, []string{"ZTF25aabcdef"}, events.refreshedObjs)
	assert.Equal(t, []uint{req.RequesterID}, events.refreshedUsers)
	assert.Empty(t, events.notified)
}

func TestSubmitRejected(t *testing.T) {
	client, events := newTestClient(t)
	req := seedFollowupRequest(t, client, InstrumentIOO, iooPayload)
	rejectReply := `<?xml version="1.0" encoding="ISO-8859-1"?>` + "\n" +
		`<RTML xmlns="http://www.rtml.org/v3.1a" mode="reject" version="3.1a">` +
		`<Error> Proposal LT2026A-005 not active. </Error></RTML>`
	registerNodeAgent(t, rejectReply)

	require.NoError(t, client.Submit(context.Background(), req))

	assert.Equal(t, "rejected: Proposal LT2026A-005 not active.", req.Status)
	reloaded, err := client.ds.GetFollowupRequest(req.ID)
	require.NoError(t, err)
	assert.Equal(t, "rejected: Proposal LT2026A-005 not active.", reloaded.Status)

	transaction, err := client.ds.GetFirstFacilityTransaction(req.ID)
	require.NoError(t, err)
	assert.Equal(t, rejectReply, transaction.Response)

	require.Len(t, events.notified, 1)
	assert.Equal(t,
		"LT rejected followup request 7 for ZTF25aabcdef: Proposal LT2026A-005 not active.",
		events.notified[0])
}

func TestSubmitRejectionStripsHTML(t *testing.T) {
	client, _ := newTestClient(t)
	req := seedFollowupRequest(t, client, InstrumentIOO, iooPayload)
	rejectReply := `<?xml version="1.0" encoding="ISO-8859-1"?>` +
		`<RTML xmlns="http://www.rtml.org/v3.1a" mode="reject" version="3.1a">` +
		`<Error>&lt;b&gt;quota exceeded&lt;/b&gt;</Error></RTML>`
	registerNodeAgent(t, rejectReply)

	require.NoError(t, client.Submit(context.Background(), req))
	assert.Equal(t, "rejected: quota exceeded", req.Status)
}

func TestSubmitTransportFailure(t *testing.T) {
	client, events := newTestClient(t)
	req := seedFollowupRequest(t, client, InstrumentIOO, iooPayload)
	httpmock.RegisterResponder(http.MethodPost, nodeAgentURL,
		httpmock.NewErrorResponder(fmt.Errorf("connection refused")))

	require.NoError(t, client.Submit(context.Background(), req))

	assert.Equal(t, facility.StatusFailedSubmit, req.Status)
	reloaded, err := client.ds.GetFollowupRequest(req.ID)
	require.NoError(t, err)
	assert.Equal(t, facility.StatusFailedSubmit, reloaded.Status)

	// No exchange completed, so no transaction row is written.
	_, err = client.ds.GetFirstFacilityTransaction(req.ID)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	require.Len(t, events.notified, 1)
	assert.Equal(t, "Submission of followup request 7 for ZTF25aabcdef to LT failed.", events.notified[0])
}

func TestSubmitNodeAgentHTTPError(t *testing.T) {
	client, _ := newTestClient(t)
	req := seedFollowupRequest(t, client, InstrumentIOO, iooPayload)
	httpmock.RegisterResponder(http.MethodPost, nodeAgentURL,
		httpmock.NewStringResponder(http.StatusBadGateway, "upstream down"))

	require.NoError(t, client.Submit(context.Background(), req))

	assert.Equal(t, facility.StatusFailedSubmit, req.Status)
	_, err := client.ds.GetFirstFacilityTransaction(req.ID)
	assert.True(t, errors.IsNotFound(err))
}

// A response that came back but does not parse as RTML still gets its
// transaction row so the exchange can be audited.
func TestSubmitGarbledResponse(t *testing.T) {
	client, _ := newTestClient(t)
	req := seedFollowupRequest(t, client, InstrumentIOO, iooPayload)
	registerNodeAgent(t, "not rtml at all <")

	require.NoError(t, client.Submit(context.Background(), req))

	assert.Equal(t, facility.StatusFailedSubmit, req.Status)
	transaction, err := client.ds.GetFirstFacilityTransaction(req.ID)
	require.NoError(t, err)
	assert.Equal(t, goldenIOORequest, transaction.Request)
	assert.Equal(t, "not rtml at all <", transaction.Response)
}

func TestSubmitValidationFailures(t *testing.T) {
	client, events := newTestClient(t)
	registerNodeAgent(t, confirmReply)

	encrypted, err := client.cipher.EncryptString(testAltdataJSON)
	require.NoError(t, err)
	partial, err := client.cipher.EncryptString(`{"username":"ltproposal"}`)
	require.NoError(t, err)

	tests := []struct {
		name     string
		req      *datastore.FollowupRequest
		category errors.ErrorCategory
	}{
		{
			name: "missing altdata",
			req: &datastore.FollowupRequest{
				ID: 12, ObjID: "ZTF25aabcdef", Payload: iooPayload,
				Allocation: datastore.Allocation{Instrument: datastore.Instrument{Name: InstrumentIOO}},
			},
			category: errors.CategoryValidation,
		},
		{
			name: "undecryptable altdata",
			req: &datastore.FollowupRequest{
				ID: 13, ObjID: "ZTF25aabcdef", Payload: iooPayload,
				Allocation: datastore.Allocation{
					Altdata:    "bm90LXJlYWwtY2lwaGVydGV4dA==",
					Instrument: datastore.Instrument{Name: InstrumentIOO},
				},
			},
			category: errors.CategoryValidation,
		},
		{
			name: "incomplete credentials",
			req: &datastore.FollowupRequest{
				ID: 14, ObjID: "ZTF25aabcdef", Payload: iooPayload,
				Allocation: datastore.Allocation{
					Altdata:    partial,
					Instrument: datastore.Instrument{Name: InstrumentIOO},
				},
			},
			category: errors.CategoryValidation,
		},
		{
			name: "garbled stored payload",
			req: &datastore.FollowupRequest{
				ID: 15, ObjID: "ZTF25aabcdef", Payload: "{",
				Allocation: datastore.Allocation{
					Altdata:    encrypted,
					Instrument: datastore.Instrument{Name: InstrumentIOO},
				},
			},
			category: errors.CategoryFacilityPayload,
		},
		{
			name: "unknown instrument",
			req: &datastore.FollowupRequest{
				ID: 16, ObjID: "ZTF25aabcdef", Payload: iooPayload,
				Allocation: datastore.Allocation{
					Altdata:    encrypted,
					Instrument: datastore.Instrument{Name: "FORS2"},
				},
			},
			category: errors.CategoryNotFound,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := client.Submit(context.Background(), tc.req)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, tc.category))
		})
	}

	// Validation failures never reach the node agent or emit events.
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
	assert.Empty(t, events.refreshedObjs)
	assert.Empty(t, events.notified)
}

func TestDeleteConfirmed(t *testing.T) {
	client, events := newTestClient(t)
	req := seedFollowupRequest(t, client, InstrumentIOO, iooPayload)
	require.NoError(t, client.ds.SaveFacilityTransaction(&datastore.FacilityTransaction{
		Request:           goldenIOORequest,
		Response:          confirmReply,
		FollowupRequestID: req.ID,
		InitiatorID:       req.RequesterID,
	}))
	body, _ := registerNodeAgent(t, confirmReply)

	require.NoError(t, client.Delete(context.Background(), req))

	assert.Equal(t, facility.StatusDeleted, req.Status)
	reloaded, err := client.ds.GetFollowupRequest(req.ID)
	require.NoError(t, err)
	assert.Equal(t, facility.StatusDeleted, reloaded.Status)

	var envelope capturedEnvelope
	require.NoError(t, xml.Unmarshal(*body, &envelope))
	assert.Equal(t, goldenAbort, envelope.Body.HandleRTML.Document)

	assert.Equal(t, []string{"ZTF25aabcdef"}, events.refreshedObjs)
	assert.Empty(t, events.notified)
}

func TestDeleteWithoutTransaction(t *testing.T) {
	client, _ := newTestClient(t)
	req := seedFollowupRequest(t, client, InstrumentIOO, iooPayload)
	registerNodeAgent(t, confirmReply)

	err := client.Delete(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}

func TestDeleteRejected(t *testing.T) {
	client, events := newTestClient(t)
	req := seedFollowupRequest(t, client, InstrumentIOO, iooPayload)
	require.NoError(t, client.ds.SaveFacilityTransaction(&datastore.FacilityTransaction{
		Request:           goldenIOORequest,
		Response:          confirmReply,
		FollowupRequestID: req.ID,
		InitiatorID:       req.RequesterID,
	}))
	rejectReply := `<?xml version="1.0" encoding="ISO-8859-1"?>` +
		`<RTML xmlns="http://www.rtml.org/v3.1a" mode="reject" version="3.1a">` +
		`<Error>Too late to abort.</Error></RTML>`
	registerNodeAgent(t, rejectReply)

	require.NoError(t, client.Delete(context.Background(), req))

	assert.Equal(t, "rejected: Too late to abort.", req.Status)
	require.Len(t, events.notified, 1)
	assert.Equal(t,
		"LT rejected aborting followup request 7 for ZTF25aabcdef: Too late to abort.",
		events.notified[0])
}

func TestNewConfigValidation(t *testing.T) {
	ds := newTestStore(t)
	cipher, err := secrets.NewCipher("lt-unit-test-secret")
	require.NoError(t, err)

	valid := conf.LTSettings{Host: "lt.example.org", Port: "8080"}

	_, err = New(conf.LTSettings{Port: "8080"}, ds, cipher, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	_, err = New(valid, nil, cipher, nil, nil)
	require.Error(t, err)

	_, err = New(valid, ds, nil, nil, nil)
	require.Error(t, err)

	client, err := New(valid, ds, cipher, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "LT", client.Facility())
	assert.Equal(t, []string{InstrumentIOO, InstrumentIOI, InstrumentSPRAT}, client.Instruments())
}
