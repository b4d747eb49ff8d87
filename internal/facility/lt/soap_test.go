package lt

import (
	"encoding/xml"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyhub/skyhub-go/internal/errors"
)

func TestEnvelopeEncoding(t *testing.T) {
	t.Parallel()

	envelope := soapEnvelope{
		Namespace: soapEnvelopeNamespace,
		Body: soapBody{HandleRTML: soapHandleRTML{
			Namespace: nodeAgentNamespace,
			Document:  `<RTML mode="request"/>`,
		}},
	}

	data, err := xml.Marshal(envelope)
	require.NoError(t, err)
	assert.Equal(t,
		`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">`+
			`<soapenv:Body>`+
			`<handle_rtml xmlns="urn:/node_agent2">`+
			`<RTML_String>&lt;RTML mode=&#34;request&#34;/&gt;</RTML_String>`+
			`</handle_rtml>`+
			`</soapenv:Body>`+
			`</soapenv:Envelope>`,
		string(data))
}

func TestParseSOAPResponseResult(t *testing.T) {
	t.Parallel()

	body := []byte(`<?xml version="1.0" encoding="ISO-8859-1"?>` +
		`<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://schemas.xmlsoap.org/soap/envelope/"` +
		` xmlns:xsd="http://www.w3.org/2001/XMLSchema"` +
		` xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"` +
		` SOAP-ENV:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">` +
		`<SOAP-ENV:Body>` +
		`<namesp1:handle_rtmlResponse xmlns:namesp1="urn:/node_agent2">` +
		`<Result xsi:type="xsd:string">&lt;RTML mode="confirm" uid="x"&gt;&lt;/RTML&gt;</Result>` +
		`</namesp1:handle_rtmlResponse>` +
		`</SOAP-ENV:Body>` +
		`</SOAP-ENV:Envelope>`)

	result, err := parseSOAPResponse(body)
	require.NoError(t, err)
	assert.Equal(t, `<RTML mode="confirm" uid="x"></RTML>`, result)
}

// Some node agent deployments name the rpc result element "return" instead
// of "Result".
func TestParseSOAPResponseReturnElement(t *testing.T) {
	t.Parallel()

	body := []byte(`<?xml version="1.0" encoding="UTF-8"?>` +
		`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">` +
		`<soap:Body><handle_rtmlResponse>` +
		`<return>&lt;RTML mode="reject"&gt;&lt;/RTML&gt;</return>` +
		`</handle_rtmlResponse></soap:Body></soap:Envelope>`)

	result, err := parseSOAPResponse(body)
	require.NoError(t, err)
	assert.Equal(t, `<RTML mode="reject"></RTML>`, result)
}

func TestParseSOAPResponseFault(t *testing.T) {
	t.Parallel()

	body := []byte(`<?xml version="1.0" encoding="UTF-8"?>` +
		`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">` +
		`<soap:Body><soap:Fault>` +
		`<faultcode>soap:Server</faultcode>` +
		`<faultstring>Application error: unknown method</faultstring>` +
		`</soap:Fault></soap:Body></soap:Envelope>`)

	_, err := parseSOAPResponse(body)
	require.Error(t, err)
	assert.ErrorContains(t, err, "node agent SOAP fault: Application error: unknown method")
	assert.True(t, errors.IsCategory(err, errors.CategoryFacility))
}

// The node agent serves Latin-1 bytes; parseSOAPResponse must transcode them
// so the rest of the pipeline sees UTF-8 text.
func TestParseSOAPResponseLatin1(t *testing.T) {
	t.Parallel()

	body := []byte("<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>" +
		"<Envelope><Body><handle_rtmlResponse>" +
		"<Result>proposition d\xe9sactiv\xe9e</Result>" +
		"</handle_rtmlResponse></Body></Envelope>")

	result, err := parseSOAPResponse(body)
	require.NoError(t, err)
	assert.Equal(t, "proposition désactivée", result)
}

func TestParseSOAPResponseNoResult(t *testing.T) {
	t.Parallel()

	body := []byte(`<?xml version="1.0" encoding="UTF-8"?>` +
		`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">` +
		`<soap:Body><handle_rtmlResponse></handle_rtmlResponse></soap:Body></soap:Envelope>`)

	_, err := parseSOAPResponse(body)
	require.Error(t, err)
	assert.ErrorContains(t, err, "SOAP response contains no result element")
	assert.True(t, errors.IsCategory(err, errors.CategoryFacility))
}

func TestParseSOAPResponseMalformed(t *testing.T) {
	t.Parallel()

	_, err := parseSOAPResponse([]byte("<Envelope><Body>"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFacility))
}
