package lt

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/time/rate"

	"github.com/skyhub/skyhub-go/internal/errors"
	"github.com/skyhub/skyhub-go/internal/httpclient"
	"github.com/skyhub/skyhub-go/internal/observability/metrics"
)

const (
	soapEnvelopeNamespace = "http://schemas.xmlsoap.org/soap/envelope/"
	nodeAgentNamespace    = "urn:/node_agent2"
	soapActionHandleRTML  = "urn:/node_agent2#handle_rtml"
	soapContentType       = "text/xml; charset=utf-8"

	// maxResponseBytes bounds node agent responses; RTML replies are a few
	// kilobytes at most.
	maxResponseBytes = 4 << 20
)

// soapClient speaks the node agent's handle_rtml operation: SOAP 1.1 over
// HTTP with per-allocation Username/Password headers. Calls are rate
// limited per facility host.
type soapClient struct {
	http    *httpclient.Client
	url     string
	limiter *rate.Limiter
	metrics *metrics.FacilityMetrics
}

type soapEnvelope struct {
	XMLName   xml.Name `xml:"soapenv:Envelope"`
	Namespace string   `xml:"xmlns:soapenv,attr"`
	Body      soapBody `xml:"soapenv:Body"`
}

type soapBody struct {
	HandleRTML soapHandleRTML `xml:"handle_rtml"`
}

type soapHandleRTML struct {
	Namespace string `xml:"xmlns,attr"`
	Document  string `xml:"RTML_String"`
}

// handleRTML submits an RTML document and returns the RTML text the node
// agent replied with. Transport failures, SOAP faults and unparseable
// envelopes are network or facility errors; interpreting the returned RTML
// is the caller's job.
func (s *soapClient) handleRTML(ctx context.Context, document string, creds *altdata) (string, error) {
	if err := s.waitForSlot(ctx); err != nil {
		return "", errors.New(err).
			Component(componentName).
			Category(errors.CategoryNetwork).
			Context("operation", "rate_limit_wait").
			Build()
	}

	envelope, err := xml.Marshal(soapEnvelope{
		Namespace: soapEnvelopeNamespace,
		Body: soapBody{HandleRTML: soapHandleRTML{
			Namespace: nodeAgentNamespace,
			Document:  document,
		}},
	})
	if err != nil {
		return "", errors.New(err).
			Component(componentName).
			Category(errors.CategoryState).
			Context("operation", "encode_soap_envelope").
			Build()
	}
	payload := append([]byte(xml.Header), envelope...)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return "", errors.New(err).
			Component(componentName).
			Category(errors.CategoryNetwork).
			Context("url", s.url).
			Build()
	}
	req.Header.Set("Content-Type", soapContentType)
	req.Header.Set("SOAPAction", soapActionHandleRTML)
	req.Header.Set("Username", creds.Username)
	req.Header.Set("Password", creds.Password)

	resp, err := s.http.Do(ctx, req)
	if err != nil {
		return "", errors.New(err).
			Component(componentName).
			Category(errors.CategoryNetwork).
			Context("url", s.url).
			Context("operation", "handle_rtml").
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", errors.New(err).
			Component(componentName).
			Category(errors.CategoryNetwork).
			Context("operation", "read_response").
			Build()
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Newf("node agent returned HTTP %d", resp.StatusCode).
			Component(componentName).
			Category(errors.CategoryNetwork).
			Context("url", s.url).
			Context("status_code", resp.StatusCode).
			Build()
	}

	return parseSOAPResponse(body)
}

// waitForSlot blocks until the rate limiter admits another call.
func (s *soapClient) waitForSlot(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	start := time.Now()
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordRateLimitWait(FacilityName, time.Since(start).Seconds())
	}
	return nil
}

// parseSOAPResponse extracts the RTML result string from a SOAP response
// envelope. The node agent serves Latin-1 encoded envelopes, so raw bytes
// go through a charset-aware decoder. SOAP faults surface as facility
// errors carrying the fault string.
func parseSOAPResponse(body []byte) (string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	decoder.CharsetReader = byteCharsetReader

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", errors.New(err).
				Component(componentName).
				Category(errors.CategoryFacility).
				Context("operation", "decode_soap_envelope").
				Build()
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "faultstring":
			var fault string
			if err := decoder.DecodeElement(&fault, &start); err != nil {
				return "", errors.New(err).
					Component(componentName).
					Category(errors.CategoryFacility).
					Context("operation", "decode_soap_fault").
					Build()
			}
			return "", errors.Newf("node agent SOAP fault: %s", strings.TrimSpace(fault)).
				Component(componentName).
				Category(errors.CategoryFacility).
				Context("operation", "handle_rtml").
				Build()
		case "Result", "return":
			var result string
			if err := decoder.DecodeElement(&result, &start); err != nil {
				return "", errors.New(err).
					Component(componentName).
					Category(errors.CategoryFacility).
					Context("operation", "decode_soap_result").
					Build()
			}
			return result, nil
		}
	}

	return "", errors.Newf("SOAP response contains no result element").
		Component(componentName).
		Category(errors.CategoryFacility).
		Context("operation", "decode_soap_envelope").
		Build()
}

// byteCharsetReader transcodes legacy charsets declared on raw response
// bytes into UTF-8.
func byteCharsetReader(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(charset) {
	case "utf-8", "us-ascii":
		return input, nil
	case "iso-8859-1", "latin1":
		return charmap.ISO8859_1.NewDecoder().Reader(input), nil
	}
	return nil, errors.Newf("unsupported charset %q in node agent response", charset).
		Component(componentName).
		Category(errors.CategoryFacility).
		Build()
}
