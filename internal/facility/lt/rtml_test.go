package lt

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyhub/skyhub-go/internal/datastore"
	"github.com/skyhub/skyhub-go/internal/errors"
)

func testRequest(instrument string) *datastore.FollowupRequest {
	return &datastore.FollowupRequest{
		ID:    7,
		ObjID: "ZTF25aabcdef",
		Obj:   datastore.Obj{ID: "ZTF25aabcdef", RA: 187.5, Dec: -5.5},
		Allocation: datastore.Allocation{
			Instrument: datastore.Instrument{Name: instrument},
		},
		RequesterID: 3,
	}
}

func testObservation() *observation {
	return &observation{
		Filters:        []string{"g"},
		Grating:        "red",
		ExposureTime:   300,
		ExposureCounts: 1,
		MaximumAirmass: 2,
		MaximumSeeing:  1.2,
		SkyBrightness:  2,
		Photometric:    true,
		StartDate:      time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2026, 3, 5, 7, 0, 0, 0, time.UTC),
	}
}

func testCreds() *altdata {
	return &altdata{Username: "ltproposal", Password: "secret", ProposalID: "LT2026A-005"}
}

const goldenIOORequest = `<RTML xmlns="http://www.rtml.org/v3.1a" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xsi:schemaLocation="http://www.rtml.org/v3.1a http://telescope.livjm.ac.uk/rtml/RTML-nightly.xsd" mode="request" uid="ZTF25aabcdef-7-1740000000" version="3.1a">
  <Project ProjectID="LT2026A-005">
    <Contact>
      <Username>ltproposal</Username>
      <Name>ltproposal</Name>
    </Contact>
  </Project>
  <Schedule>
    <Device name="IO:O" type="camera">
      <SpectralRegion>optical</SpectralRegion>
      <Setup>
        <Filter type="G"></Filter>
        <Detector>
          <Binning>
            <X units="pixels">2</X>
            <Y units="pixels">2</Y>
          </Binning>
        </Detector>
      </Setup>
    </Device>
    <Exposure count="1">
      <Value units="seconds">300</Value>
    </Exposure>
    <Target name="ZTF25aabcdef">
      <Coordinates>
        <RightAscension units="Hours">
          <Hours>12</Hours>
          <Minutes>30</Minutes>
          <Seconds>0.00</Seconds>
        </RightAscension>
        <Declination units="Degrees">
          <Degrees>-5</Degrees>
          <Arcminutes>30</Arcminutes>
          <Arcseconds>0.00</Arcseconds>
        </Declination>
        <Equinox>J2000</Equinox>
      </Coordinates>
    </Target>
    <AirmassConstraint maximum="2"></AirmassConstraint>
    <SkyConstraint>
      <Flux>2</Flux>
      <Units>magnitudes/square-arcsecond</Units>
    </SkyConstraint>
    <SeeingConstraint maximum="1.2" units="arcseconds"></SeeingConstraint>
    <ExtinctionConstraint>
      <Clouds>clear</Clouds>
    </ExtinctionConstraint>
    <DateTimeConstraint type="include">
      <DateTimeStart system="UT" value="2026-03-01T19:00:00+00:00"></DateTimeStart>
      <DateTimeEnd system="UT" value="2026-03-05T07:00:00+00:00"></DateTimeEnd>
    </DateTimeConstraint>
  </Schedule>
</RTML>`

const goldenAbort = `<RTML xmlns="http://www.rtml.org/v3.1a" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xsi:schemaLocation="http://www.rtml.org/v3.1a http://telescope.livjm.ac.uk/rtml/RTML-nightly.xsd" mode="abort" uid="ZTF25aabcdef-7-1740000000" version="3.1a">
  <Project ProjectID="LT2026A-005">
    <Contact>
      <Username>ltproposal</Username>
      <Name>ltproposal</Name>
      <Communication></Communication>
    </Contact>
  </Project>
</RTML>`

func TestObservationDocumentIOO(t *testing.T) {
	t.Parallel()

	doc, err := newObservationDocument(testRequest(InstrumentIOO), testObservation(), testCreds(), time.Unix(1740000000, 0))
	require.NoError(t, err)

	document, err := encodeDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, goldenIOORequest, document)
}

func TestAbortDocument(t *testing.T) {
	t.Parallel()

	document, err := encodeDocument(newAbortDocument("ZTF25aabcdef-7-1740000000", testCreds()))
	require.NoError(t, err)
	assert.Equal(t, goldenAbort, document)
}

func TestObservationDocumentSchedulePerFilter(t *testing.T) {
	t.Parallel()

	obs := testObservation()
	obs.Filters = []string{"g", "r", "z"}
	doc, err := newObservationDocument(testRequest(InstrumentIOO), obs, testCreds(), time.Unix(1740000000, 0))
	require.NoError(t, err)

	document, err := encodeDocument(doc)
	require.NoError(t, err)

	assert.Equal(t, 3, strings.Count(document, "<Schedule>"))
	gIdx := strings.Index(document, `<Filter type="G">`)
	rIdx := strings.Index(document, `<Filter type="R">`)
	zIdx := strings.Index(document, `<Filter type="Z">`)
	require.NotEqual(t, -1, gIdx)
	require.NotEqual(t, -1, rIdx)
	require.NotEqual(t, -1, zIdx)
	assert.Less(t, gIdx, rIdx)
	assert.Less(t, rIdx, zIdx)
}

func TestObservationDocumentIOI(t *testing.T) {
	t.Parallel()

	obs := testObservation()
	obs.Filters = []string{"H"}
	obs.Photometric = false
	doc, err := newObservationDocument(testRequest(InstrumentIOI), obs, testCreds(), time.Unix(1740000000, 0))
	require.NoError(t, err)

	document, err := encodeDocument(doc)
	require.NoError(t, err)

	assert.Contains(t, document, `<Device name="IO:I" type="camera">`)
	assert.Contains(t, document, "<SpectralRegion>infrared</SpectralRegion>")
	assert.Contains(t, document, `<Filter type="H">`)
	assert.Contains(t, document, `<X units="pixels">2</X>`)
	assert.Contains(t, document, "<Clouds>light</Clouds>")
}

func TestObservationDocumentSPRAT(t *testing.T) {
	t.Parallel()

	doc, err := newObservationDocument(testRequest(InstrumentSPRAT), testObservation(), testCreds(), time.Unix(1740000000, 0))
	require.NoError(t, err)

	document, err := encodeDocument(doc)
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(document, "<Schedule>"))
	assert.Contains(t, document, `<Device name="Sprat" type="spectrograph">`)
	assert.Contains(t, document, "<SpectralRegion>optical</SpectralRegion>")
	assert.Contains(t, document, `<Grating name="red">`)
	assert.Contains(t, document, `<X units="pixels">1</X>`)
	assert.NotContains(t, document, "<Filter")
}

func TestObservationDocumentUnknownInstrument(t *testing.T) {
	t.Parallel()

	_, err := newObservationDocument(testRequest("FORS2"), testObservation(), testCreds(), time.Unix(1740000000, 0))
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestFormatRightAscension(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		degrees float64
		hours   int
		minutes int
		seconds string
	}{
		{"zero", 0, 0, 0, "0.00"},
		{"mid sky", 187.5, 12, 30, "0.00"},
		{"six hours", 90, 6, 0, "0.00"},
		{"fractional seconds", 10.684708, 0, 42, "44.33"},
		{"negative wraps", -7.5, 23, 30, "0.00"},
		{"seconds carry into minutes", 7.4999999, 0, 30, "0.00"},
		{"carry wraps past midnight", 359.99999, 0, 0, "0.00"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := formatRightAscension(tc.degrees)
			assert.Equal(t, "Hours", got.Units)
			assert.Equal(t, tc.hours, got.Hours)
			assert.Equal(t, tc.minutes, got.Minutes)
			assert.Equal(t, tc.seconds, got.Seconds)
		})
	}
}

func TestFormatDeclination(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		degrees    float64
		sexDegrees string
		arcminutes int
		arcseconds string
	}{
		{"positive", 41.26875, "+41", 16, "7.50"},
		{"negative", -5.5, "-5", 30, "0.00"},
		{"sign survives zero degrees", -0.75, "-0", 45, "0.00"},
		{"zero", 0, "+0", 0, "0.00"},
		{"near pole", 89.5, "+89", 30, "0.00"},
		{"arcseconds carry into arcminutes", 40.499999, "+40", 30, "0.00"},
		{"arcseconds carry into degrees", -29.9999999, "-30", 0, "0.00"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := formatDeclination(tc.degrees)
			assert.Equal(t, "Degrees", got.Units)
			assert.Equal(t, tc.sexDegrees, got.Degrees)
			assert.Equal(t, tc.arcminutes, got.Arcminutes)
			assert.Equal(t, tc.arcseconds, got.Arcseconds)
		})
	}
}

func TestDecodeReplyConfirm(t *testing.T) {
	t.Parallel()

	response := `<?xml version="1.0" encoding="ISO-8859-1"?>
<RTML xmlns="http://www.rtml.org/v3.1a" mode="confirm" uid="ZTF25aabcdef-7-1740000000" version="3.1a"></RTML>`

	reply, err := decodeReply(response)
	require.NoError(t, err)
	assert.Equal(t, "confirm", reply.Mode)
	assert.Equal(t, "ZTF25aabcdef-7-1740000000", reply.UID)
	assert.Empty(t, reply.Errors)
}

func TestDecodeReplyRejection(t *testing.T) {
	t.Parallel()

	response := `<?xml version="1.0" encoding="ISO-8859-1"?>
<RTML xmlns="http://www.rtml.org/v3.1a" mode="reject" uid="x" version="3.1a">
  <Error>Proposal LT2026A-005 does not exist.</Error>
</RTML>`

	reply, err := decodeReply(response)
	require.NoError(t, err)
	assert.Equal(t, "reject", reply.Mode)
	assert.Equal(t, "Proposal LT2026A-005 does not exist.", reply.firstError())
}

func TestDecodeReplyKeepsNonASCIIErrorText(t *testing.T) {
	t.Parallel()

	// By the time the reply reaches decodeReply the SOAP layer has already
	// transcoded it to UTF-8; the stale charset declaration must not
	// corrupt the text.
	response := `<?xml version="1.0" encoding="ISO-8859-1"?>
<RTML xmlns="http://www.rtml.org/v3.1a" mode="reject" version="3.1a"><Error>proposition désactivée</Error></RTML>`

	reply, err := decodeReply(response)
	require.NoError(t, err)
	assert.Equal(t, "proposition désactivée", reply.firstError())
}

func TestDecodeReplyMalformed(t *testing.T) {
	t.Parallel()

	_, err := decodeReply("this is not xml <")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFacility))

	_, err = decodeReply("<Envelope></Envelope>")
	require.Error(t, err)

	_, err = decodeReply("")
	require.Error(t, err)
}
