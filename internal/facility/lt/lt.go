// Package lt integrates the Liverpool Telescope node agent. Followup
// requests for the IO:O and IO:I imagers and the SPRAT spectrograph are
// expressed as RTML v3.1a documents and submitted over the node agent's
// SOAP handle_rtml operation, authenticated with per-allocation credentials
// from the encrypted altdata blob.
//
// Submission outcomes are recorded on the followup request status: the node
// agent confirming yields "submitted" (or "deleted" for aborts), anything
// else yields "rejected: {error}", and transport failures yield "failed to
// submit" / "failed to delete". There is no automatic retry.
package lt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/k3a/html2text"
	"golang.org/x/time/rate"

	"github.com/skyhub/skyhub-go/internal/conf"
	"github.com/skyhub/skyhub-go/internal/datastore"
	"github.com/skyhub/skyhub-go/internal/ephem"
	"github.com/skyhub/skyhub-go/internal/errors"
	"github.com/skyhub/skyhub-go/internal/facility"
	"github.com/skyhub/skyhub-go/internal/httpclient"
	"github.com/skyhub/skyhub-go/internal/logging"
	"github.com/skyhub/skyhub-go/internal/observability/metrics"
	"github.com/skyhub/skyhub-go/internal/secrets"
)

// FacilityName is the registry key for the Liverpool Telescope.
const FacilityName = "LT"

// Instrument names as they appear on datastore.Instrument rows.
const (
	InstrumentIOO   = "IO:O"
	InstrumentIOI   = "IO:I"
	InstrumentSPRAT = "SPRAT"
)

const componentName = "facility-lt"

var (
	serviceLogger *slog.Logger
	closeLogger   func() error
)

func init() {
	var err error
	serviceLogger, closeLogger, err = logging.NewFileLogger("logs/facility-lt.log", componentName, slog.LevelDebug)
	if err != nil || serviceLogger == nil {
		serviceLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))
		closeLogger = func() error { return nil }
	}
}

// CloseLogger releases the package's file logger.
func CloseLogger() error {
	return closeLogger()
}

// altdata is the decrypted per-allocation credential blob.
type altdata struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	ProposalID string `json:"LT_proposalID"`
}

// Client implements facility.API for the Liverpool Telescope.
type Client struct {
	settings conf.LTSettings
	ds       datastore.Interface
	cipher   *secrets.Cipher
	events   facility.Events
	metrics  *metrics.FacilityMetrics
	soap     *soapClient
	site     *ephem.Site

	// now is replaceable so tests can pin document uids.
	now func() time.Time
}

// New builds an LT client from configuration. The cipher decrypts
// allocation altdata; events may be nil when no transports are wired.
func New(settings conf.LTSettings, ds datastore.Interface, cipher *secrets.Cipher, events facility.Events, m *metrics.FacilityMetrics) (*Client, error) {
	if settings.Host == "" || settings.Port == "" {
		return nil, errors.Newf("LT facility requires a node agent host and port").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if ds == nil {
		return nil, errors.Newf("LT facility requires a datastore").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cipher == nil {
		return nil, errors.Newf("LT facility requires the altdata cipher").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if events == nil {
		events = facility.NopEvents{}
	}

	var limiter *rate.Limiter
	if settings.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(settings.RequestsPerMinute)/60.0), 1)
	}

	httpConfig := httpclient.DefaultConfig()
	if settings.Timeout > 0 {
		httpConfig.DefaultTimeout = settings.Timeout
	}

	return &Client{
		settings: settings,
		ds:       ds,
		cipher:   cipher,
		events:   events,
		metrics:  m,
		soap: &soapClient{
			http:    httpclient.New(&httpConfig),
			url:     fmt.Sprintf("http://%s:%s/node_agent2/node_agent?wsdl", settings.Host, settings.Port),
			limiter: limiter,
			metrics: m,
		},
		site: ephem.NewSite(settings.SiteLatitude, settings.SiteLongitude),
		now:  time.Now,
	}, nil
}

// Facility returns the registry key.
func (c *Client) Facility() string {
	return FacilityName
}

// Instruments lists the instruments served by this facility.
func (c *Client) Instruments() []string {
	return []string{InstrumentIOO, InstrumentIOI, InstrumentSPRAT}
}

// FormSchema returns the observation form schema for an instrument.
func (c *Client) FormSchema(instrument string) (json.RawMessage, error) {
	return formSchema(instrument)
}

// ValidatePayload checks an observation form, applies defaults, and returns
// the normalized payload. The scheduling window must overlap an observing
// night at the telescope site.
func (c *Client) ValidatePayload(instrument string, payload map[string]any) (map[string]any, error) {
	return validatePayload(instrument, payload, c.site)
}

// Submit builds the RTML document for the request, sends it to the node
// agent, and records the outcome: status, facility transaction, refresh
// events, and a notification on failure.
//
// Validation problems (bad altdata, malformed payload) are returned as
// errors without touching the request. Once the network call happens, the
// outcome lands on the request status and Submit returns nil.
func (c *Client) Submit(ctx context.Context, req *datastore.FollowupRequest) error {
	instrument := req.Allocation.Instrument.Name
	creds, err := c.decodeAltdata(req.Allocation.Altdata)
	if err != nil {
		return err
	}
	obs, err := parseObservation(instrument, []byte(req.Payload))
	if err != nil {
		return err
	}
	doc, err := newObservationDocument(req, obs, creds, c.now())
	if err != nil {
		return err
	}
	document, err := encodeDocument(doc)
	if err != nil {
		return err
	}

	serviceLogger.Debug("submitting followup request",
		"followup_request_id", req.ID,
		"obj_id", req.ObjID,
		"instrument", instrument,
		"uid", doc.UID)

	response, err := c.exchange(ctx, document, creds, metrics.FacilityOpSubmit)
	if err != nil {
		serviceLogger.Error("followup request submission failed",
			"followup_request_id", req.ID,
			"error", err)
		return c.recordOutcome(req, instrument, exchangeResult{
			status: facility.StatusFailedSubmit,
			notify: fmt.Sprintf("Submission of followup request %d for %s to LT failed.", req.ID, req.ObjID),
		})
	}

	reply, err := decodeReply(response)
	if err != nil {
		serviceLogger.Error("could not decode node agent response",
			"followup_request_id", req.ID,
			"error", err)
		c.recordRequestError(metrics.FacilityOpSubmit, err)
		return c.recordOutcome(req, instrument, exchangeResult{
			status:   facility.StatusFailedSubmit,
			request:  document,
			response: response,
			notify:   fmt.Sprintf("Submission of followup request %d for %s to LT failed.", req.ID, req.ObjID),
		})
	}

	result := exchangeResult{request: document, response: response}
	if reply.Mode == modeConfirm {
		result.status = facility.StatusSubmitted
	} else {
		errText := rejectionText(reply)
		result.status = facility.StatusRejectedPrefix + errText
		result.notify = fmt.Sprintf("LT rejected followup request %d for %s: %s", req.ID, req.ObjID, errText)
	}

	serviceLogger.Info("followup request submission recorded",
		"followup_request_id", req.ID,
		"status", result.status)
	return c.recordOutcome(req, instrument, result)
}

// Delete aborts a previously submitted request. The abort document reuses
// the uid the node agent echoed in its submission response, read back from
// the first recorded facility transaction.
func (c *Client) Delete(ctx context.Context, req *datastore.FollowupRequest) error {
	instrument := req.Allocation.Instrument.Name
	creds, err := c.decodeAltdata(req.Allocation.Altdata)
	if err != nil {
		return err
	}

	first, err := c.ds.GetFirstFacilityTransaction(req.ID)
	if err != nil {
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryValidation).
			Context("followup_request_id", req.ID).
			Context("detail", "no recorded submission to abort").
			Build()
	}
	submitted, err := decodeReply(first.Response)
	if err != nil {
		return err
	}
	if submitted.UID == "" {
		return errors.Newf("recorded node agent response for followup request %d carries no uid", req.ID).
			Component(componentName).
			Category(errors.CategoryFacility).
			Context("followup_request_id", req.ID).
			Build()
	}

	document, err := encodeDocument(newAbortDocument(submitted.UID, creds))
	if err != nil {
		return err
	}

	serviceLogger.Debug("aborting followup request",
		"followup_request_id", req.ID,
		"uid", submitted.UID)

	response, err := c.exchange(ctx, document, creds, metrics.FacilityOpDelete)
	if err != nil {
		serviceLogger.Error("followup request abort failed",
			"followup_request_id", req.ID,
			"error", err)
		return c.recordOutcome(req, instrument, exchangeResult{
			status: facility.StatusFailedDelete,
			notify: fmt.Sprintf("Aborting followup request %d for %s on LT failed.", req.ID, req.ObjID),
		})
	}

	reply, err := decodeReply(response)
	if err != nil {
		serviceLogger.Error("could not decode node agent abort response",
			"followup_request_id", req.ID,
			"error", err)
		c.recordRequestError(metrics.FacilityOpDelete, err)
		return c.recordOutcome(req, instrument, exchangeResult{
			status:   facility.StatusFailedDelete,
			request:  document,
			response: response,
			notify:   fmt.Sprintf("Aborting followup request %d for %s on LT failed.", req.ID, req.ObjID),
		})
	}

	result := exchangeResult{request: document, response: response}
	if reply.Mode == modeConfirm {
		result.status = facility.StatusDeleted
	} else {
		errText := rejectionText(reply)
		result.status = facility.StatusRejectedPrefix + errText
		result.notify = fmt.Sprintf("LT rejected aborting followup request %d for %s: %s", req.ID, req.ObjID, errText)
	}

	serviceLogger.Info("followup request abort recorded",
		"followup_request_id", req.ID,
		"status", result.status)
	return c.recordOutcome(req, instrument, result)
}

// decodeAltdata decrypts and parses an allocation's credential blob.
// Failures are validation errors so the API layer answers 400 before any
// network traffic happens.
func (c *Client) decodeAltdata(encrypted string) (*altdata, error) {
	if strings.TrimSpace(encrypted) == "" {
		return nil, errors.Newf("allocation has no altdata credentials for LT").
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}
	plaintext, err := c.cipher.DecryptString(encrypted)
	if err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryValidation).
			Context("detail", "could not decrypt allocation altdata").
			Build()
	}
	var creds altdata
	if err := json.Unmarshal([]byte(plaintext), &creds); err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryValidation).
			Context("detail", "allocation altdata is not valid JSON").
			Build()
	}
	if creds.Username == "" || creds.Password == "" || creds.ProposalID == "" {
		return nil, errors.Newf("allocation altdata must provide username, password and LT_proposalID").
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}
	return &creds, nil
}

// exchange performs one rate-limited SOAP call with latency and document
// size accounting.
func (c *Client) exchange(ctx context.Context, document string, creds *altdata, operation string) (string, error) {
	if c.metrics != nil {
		c.metrics.RecordDocumentSize(FacilityName, metrics.DirectionRequest, len(document))
	}
	var timer *metrics.RequestTimer
	if c.metrics != nil {
		timer = c.metrics.StartRequestTimer()
	}
	response, err := c.soap.handleRTML(ctx, document, creds)
	if timer != nil {
		timer.ObserveDuration(FacilityName, operation)
	}
	if err != nil {
		c.recordRequestError(operation, err)
		return "", err
	}
	if c.metrics != nil {
		c.metrics.RecordDocumentSize(FacilityName, metrics.DirectionResponse, len(response))
	}
	return response, nil
}

// exchangeResult is what recordOutcome persists after a node agent
// exchange. Request and response are both empty when the exchange never
// completed; notify is empty when no user notification should fire.
type exchangeResult struct {
	status   string
	request  string
	response string
	notify   string
}

// recordOutcome persists the transaction row and status, updates the
// in-memory request, bumps metrics, and emits refresh events. The status
// update is the load-bearing write; a failed transaction insert is logged
// and skipped so the request never sticks in a pre-submission state after
// the node agent already saw it.
func (c *Client) recordOutcome(req *datastore.FollowupRequest, instrument string, result exchangeResult) error {
	if result.request != "" && result.response != "" {
		transaction := &datastore.FacilityTransaction{
			Request:           result.request,
			Response:          result.response,
			FollowupRequestID: req.ID,
			InitiatorID:       req.RequesterID,
		}
		if err := c.ds.SaveFacilityTransaction(transaction); err != nil {
			serviceLogger.Error("failed to record facility transaction",
				"followup_request_id", req.ID,
				"error", err)
		}
	}

	if err := c.ds.UpdateFollowupRequestStatus(req.ID, result.status); err != nil {
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryDatabase).
			Context("followup_request_id", req.ID).
			Context("status", result.status).
			Build()
	}
	req.Status = result.status

	if c.metrics != nil {
		c.metrics.RecordSubmission(FacilityName, instrument, statusLabel(result.status))
	}

	c.events.RefreshSource(req.ObjID)
	c.events.RefreshFollowupRequests(req.RequesterID)
	if result.notify != "" {
		c.events.Notify(req.RequesterID, result.notify, "error")
	}
	return nil
}

func (c *Client) recordRequestError(operation string, err error) {
	if c.metrics == nil {
		return
	}
	errorType := "network"
	switch {
	case errors.IsCategory(err, errors.CategoryFacility):
		errorType = "facility"
	case errors.IsCategory(err, errors.CategoryTimeout):
		errorType = "timeout"
	}
	c.metrics.RecordRequestError(FacilityName, operation, errorType)
}

// rejectionText flattens the node agent's error text for statuses and
// notifications; some node agent deployments wrap errors in HTML.
func rejectionText(reply *rtmlReply) string {
	text := strings.TrimSpace(html2text.HTML2Text(reply.firstError()))
	if text == "" {
		return "unknown error"
	}
	return text
}

// statusLabel collapses statuses to a bounded metrics label set.
func statusLabel(status string) string {
	switch {
	case strings.HasPrefix(status, facility.StatusRejectedPrefix):
		return "rejected"
	case status == facility.StatusFailedSubmit || status == facility.StatusFailedDelete:
		return "failed"
	default:
		return status
	}
}
