package lt

import (
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/skyhub/skyhub-go/internal/datastore"
	"github.com/skyhub/skyhub-go/internal/errors"
)

// RTML v3.1a document constants used by the LT node agent.
const (
	rtmlNamespace      = "http://www.rtml.org/v3.1a"
	xsiNamespace       = "http://www.w3.org/2001/XMLSchema-instance"
	rtmlSchemaLocation = "http://www.rtml.org/v3.1a http://telescope.livjm.ac.uk/rtml/RTML-nightly.xsd"
	rtmlVersion        = "3.1a"

	modeRequest = "request"
	modeAbort   = "abort"
	modeConfirm = "confirm"
)

// rtmlDocument is the root of an outbound RTML request or abort document.
// encoding/xml cannot emit namespace prefixes directly, so the namespace
// declarations are written as literal attributes.
type rtmlDocument struct {
	XMLName        xml.Name       `xml:"RTML"`
	Namespace      string         `xml:"xmlns,attr"`
	XSINamespace   string         `xml:"xmlns:xsi,attr"`
	SchemaLocation string         `xml:"xsi:schemaLocation,attr"`
	Mode           string         `xml:"mode,attr"`
	UID            string         `xml:"uid,attr"`
	Version        string         `xml:"version,attr"`
	Project        rtmlProject    `xml:"Project"`
	Schedules      []rtmlSchedule `xml:"Schedule"`
}

type rtmlProject struct {
	ProjectID string      `xml:"ProjectID,attr"`
	Contact   rtmlContact `xml:"Contact"`
}

// Contact carries the proposal account name twice; the node agent reads
// Username for authentication context and Name for display. Abort documents
// additionally include an empty Communication element.
type rtmlContact struct {
	Username      string    `xml:"Username"`
	Name          string    `xml:"Name"`
	Communication *struct{} `xml:"Communication,omitempty"`
}

// rtmlSchedule is one observation block. The node agent expects the device,
// exposure, target and constraints in this exact order.
type rtmlSchedule struct {
	Device     rtmlDevice               `xml:"Device"`
	Exposure   rtmlExposure             `xml:"Exposure"`
	Target     rtmlTarget               `xml:"Target"`
	Airmass    rtmlAirmassConstraint    `xml:"AirmassConstraint"`
	Sky        rtmlSkyConstraint        `xml:"SkyConstraint"`
	Seeing     rtmlSeeingConstraint     `xml:"SeeingConstraint"`
	Extinction rtmlExtinctionConstraint `xml:"ExtinctionConstraint"`
	Window     rtmlDateTimeConstraint   `xml:"DateTimeConstraint"`
}

type rtmlDevice struct {
	Name           string    `xml:"name,attr"`
	Type           string    `xml:"type,attr"`
	SpectralRegion string    `xml:"SpectralRegion"`
	Setup          rtmlSetup `xml:"Setup"`
}

type rtmlSetup struct {
	Filter   *rtmlFilter  `xml:"Filter,omitempty"`
	Grating  *rtmlGrating `xml:"Grating,omitempty"`
	Detector rtmlDetector `xml:"Detector"`
}

type rtmlFilter struct {
	Type string `xml:"type,attr"`
}

type rtmlGrating struct {
	Name string `xml:"name,attr"`
}

type rtmlDetector struct {
	Binning rtmlBinning `xml:"Binning"`
}

type rtmlBinning struct {
	X rtmlPixels `xml:"X"`
	Y rtmlPixels `xml:"Y"`
}

type rtmlPixels struct {
	Units string `xml:"units,attr"`
	Value int    `xml:",chardata"`
}

type rtmlExposure struct {
	Count string            `xml:"count,attr"`
	Value rtmlExposureValue `xml:"Value"`
}

type rtmlExposureValue struct {
	Units string `xml:"units,attr"`
	Value string `xml:",chardata"`
}

type rtmlTarget struct {
	Name        string          `xml:"name,attr"`
	Coordinates rtmlCoordinates `xml:"Coordinates"`
}

type rtmlCoordinates struct {
	RightAscension rtmlRightAscension `xml:"RightAscension"`
	Declination    rtmlDeclination    `xml:"Declination"`
	Equinox        string             `xml:"Equinox"`
}

type rtmlRightAscension struct {
	Units   string `xml:"units,attr"`
	Hours   int    `xml:"Hours"`
	Minutes int    `xml:"Minutes"`
	Seconds string `xml:"Seconds"`
}

// rtmlDeclination carries the sign on the Degrees element so that
// declinations between -1 and 0 degrees keep their sign.
type rtmlDeclination struct {
	Units      string `xml:"units,attr"`
	Degrees    string `xml:"Degrees"`
	Arcminutes int    `xml:"Arcminutes"`
	Arcseconds string `xml:"Arcseconds"`
}

type rtmlAirmassConstraint struct {
	Maximum string `xml:"maximum,attr"`
}

type rtmlSkyConstraint struct {
	Flux  string `xml:"Flux"`
	Units string `xml:"Units"`
}

type rtmlSeeingConstraint struct {
	Maximum string `xml:"maximum,attr"`
	Units   string `xml:"units,attr"`
}

type rtmlExtinctionConstraint struct {
	Clouds string `xml:"Clouds"`
}

type rtmlDateTimeConstraint struct {
	Type  string       `xml:"type,attr"`
	Start rtmlDateTime `xml:"DateTimeStart"`
	End   rtmlDateTime `xml:"DateTimeEnd"`
}

type rtmlDateTime struct {
	System string `xml:"system,attr"`
	Value  string `xml:"value,attr"`
}

// newObservationDocument builds the RTML request document for a followup
// request. One Schedule is emitted per selected filter (IO:O, IO:I) or a
// single Schedule for the chosen grating (SPRAT). The uid embeds the object
// id, the request id and the submission time so retries never collide.
func newObservationDocument(req *datastore.FollowupRequest, obs *observation, creds *altdata, now time.Time) (*rtmlDocument, error) {
	doc := &rtmlDocument{
		Namespace:      rtmlNamespace,
		XSINamespace:   xsiNamespace,
		SchemaLocation: rtmlSchemaLocation,
		Mode:           modeRequest,
		UID:            fmt.Sprintf("%s-%d-%d", req.ObjID, req.ID, now.Unix()),
		Version:        rtmlVersion,
		Project:        newProject(creds, false),
	}

	target := newTarget(req.ObjID, req.Obj.RA, req.Obj.Dec)

	switch req.Allocation.Instrument.Name {
	case InstrumentIOO:
		for _, filter := range obs.Filters {
			doc.Schedules = append(doc.Schedules, newSchedule(imagerDevice("IO:O", "optical", filter), obs, target))
		}
	case InstrumentIOI:
		for _, filter := range obs.Filters {
			doc.Schedules = append(doc.Schedules, newSchedule(imagerDevice("IO:I", "infrared", filter), obs, target))
		}
	case InstrumentSPRAT:
		doc.Schedules = append(doc.Schedules, newSchedule(spratDevice(obs.Grating), obs, target))
	default:
		return nil, errors.Newf("facility LT does not serve instrument %q", req.Allocation.Instrument.Name).
			Component(componentName).
			Category(errors.CategoryNotFound).
			Context("instrument", req.Allocation.Instrument.Name).
			Build()
	}

	return doc, nil
}

// newAbortDocument builds the RTML abort document for a previously accepted
// request. The uid must be the one echoed by the node agent's submission
// response, not the uid we generated.
func newAbortDocument(uid string, creds *altdata) *rtmlDocument {
	return &rtmlDocument{
		Namespace:      rtmlNamespace,
		XSINamespace:   xsiNamespace,
		SchemaLocation: rtmlSchemaLocation,
		Mode:           modeAbort,
		UID:            uid,
		Version:        rtmlVersion,
		Project:        newProject(creds, true),
	}
}

func newProject(creds *altdata, withCommunication bool) rtmlProject {
	contact := rtmlContact{Username: creds.Username, Name: creds.Username}
	if withCommunication {
		contact.Communication = &struct{}{}
	}
	return rtmlProject{ProjectID: creds.ProposalID, Contact: contact}
}

func newSchedule(device rtmlDevice, obs *observation, target rtmlTarget) rtmlSchedule {
	return rtmlSchedule{
		Device: device,
		Exposure: rtmlExposure{
			Count: strconv.FormatInt(obs.ExposureCounts, 10),
			Value: rtmlExposureValue{Units: "seconds", Value: formatValue(obs.ExposureTime)},
		},
		Target:  target,
		Airmass: rtmlAirmassConstraint{Maximum: formatValue(obs.MaximumAirmass)},
		Sky: rtmlSkyConstraint{
			Flux:  formatValue(obs.SkyBrightness),
			Units: "magnitudes/square-arcsecond",
		},
		Seeing:     rtmlSeeingConstraint{Maximum: formatValue(obs.MaximumSeeing), Units: "arcseconds"},
		Extinction: rtmlExtinctionConstraint{Clouds: cloudCondition(obs.Photometric)},
		Window: rtmlDateTimeConstraint{
			Type:  "include",
			Start: rtmlDateTime{System: "UT", Value: formatWindowTime(obs.StartDate)},
			End:   rtmlDateTime{System: "UT", Value: formatWindowTime(obs.EndDate)},
		},
	}
}

func imagerDevice(name, spectralRegion, filter string) rtmlDevice {
	return rtmlDevice{
		Name:           name,
		Type:           "camera",
		SpectralRegion: spectralRegion,
		Setup: rtmlSetup{
			Filter:   &rtmlFilter{Type: strings.ToUpper(filter)},
			Detector: detectorBinning(2),
		},
	}
}

func spratDevice(grating string) rtmlDevice {
	return rtmlDevice{
		Name:           "Sprat",
		Type:           "spectrograph",
		SpectralRegion: "optical",
		Setup: rtmlSetup{
			Grating:  &rtmlGrating{Name: grating},
			Detector: detectorBinning(1),
		},
	}
}

func detectorBinning(pixels int) rtmlDetector {
	return rtmlDetector{Binning: rtmlBinning{
		X: rtmlPixels{Units: "pixels", Value: pixels},
		Y: rtmlPixels{Units: "pixels", Value: pixels},
	}}
}

func newTarget(objID string, ra, dec float64) rtmlTarget {
	return rtmlTarget{
		Name: objID,
		Coordinates: rtmlCoordinates{
			RightAscension: formatRightAscension(ra),
			Declination:    formatDeclination(dec),
			Equinox:        "J2000",
		},
	}
}

// cloudCondition maps the photometric flag to the extinction constraint the
// node agent understands.
func cloudCondition(photometric bool) string {
	if photometric {
		return "clear"
	}
	return "light"
}

// formatRightAscension converts right ascension in degrees to sexagesimal
// hours, minutes and seconds (two decimals).
func formatRightAscension(degrees float64) rtmlRightAscension {
	ra := math.Mod(degrees, 360)
	if ra < 0 {
		ra += 360
	}
	// round to centiseconds before splitting so 59.999s carries into the
	// minutes field instead of printing as 60.00
	centi := int64(math.Round(ra / 15 * 360000))
	centi %= 24 * 360000
	h := int(centi / 360000)
	centi %= 360000
	m := int(centi / 6000)
	seconds := float64(centi%6000) / 100
	return rtmlRightAscension{
		Units:   "Hours",
		Hours:   h,
		Minutes: m,
		Seconds: strconv.FormatFloat(seconds, 'f', 2, 64),
	}
}

// formatDeclination converts declination in degrees to signed sexagesimal
// degrees, arcminutes and arcseconds (two decimals).
func formatDeclination(degrees float64) rtmlDeclination {
	sign := "+"
	if degrees < 0 {
		sign = "-"
	}
	centi := int64(math.Round(math.Abs(degrees) * 360000))
	d := int(centi / 360000)
	centi %= 360000
	m := int(centi / 6000)
	arcseconds := float64(centi%6000) / 100
	return rtmlDeclination{
		Units:      "Degrees",
		Degrees:    sign + strconv.Itoa(d),
		Arcminutes: m,
		Arcseconds: strconv.FormatFloat(arcseconds, 'f', 2, 64),
	}
}

// formatValue renders constraint and exposure numbers without a forced
// decimal point, e.g. 2 rather than 2.000000.
func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatWindowTime renders a scheduling window boundary the way the node
// agent expects: seconds precision with an explicit +00:00 offset.
func formatWindowTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05") + "+00:00"
}

// encodeDocument serializes an RTML document with two-space indentation.
func encodeDocument(doc *rtmlDocument) (string, error) {
	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", errors.New(err).
			Component(componentName).
			Category(errors.CategoryState).
			Context("operation", "encode_rtml").
			Build()
	}
	return string(data), nil
}

// rtmlReply is the decoded view of a node agent RTML response.
type rtmlReply struct {
	Mode   string
	UID    string
	Errors []string
}

func (r *rtmlReply) firstError() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0]
}

// decodeReply parses an RTML response already decoded to UTF-8 text by the
// SOAP layer. Node agent responses declare ISO-8859-1 in their XML prolog
// even though the text has been transcoded by then, so the declared charset
// is accepted and passed through unchanged.
func decodeReply(document string) (*rtmlReply, error) {
	decoder := xml.NewDecoder(strings.NewReader(document))
	decoder.CharsetReader = textCharsetReader

	reply := &rtmlReply{}
	sawRoot := false
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.New(err).
				Component(componentName).
				Category(errors.CategoryFacility).
				Context("operation", "decode_rtml").
				Build()
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if !sawRoot {
			if start.Name.Local != "RTML" {
				return nil, errors.Newf("unexpected root element %q in node agent response", start.Name.Local).
					Component(componentName).
					Category(errors.CategoryFacility).
					Context("operation", "decode_rtml").
					Build()
			}
			for _, attr := range start.Attr {
				switch attr.Name.Local {
				case "mode":
					reply.Mode = attr.Value
				case "uid":
					reply.UID = attr.Value
				}
			}
			sawRoot = true
			continue
		}
		if start.Name.Local == "Error" {
			var text string
			if err := decoder.DecodeElement(&text, &start); err != nil {
				return nil, errors.New(err).
					Component(componentName).
					Category(errors.CategoryFacility).
					Context("operation", "decode_rtml").
					Build()
			}
			reply.Errors = append(reply.Errors, strings.TrimSpace(text))
		}
	}
	if !sawRoot {
		return nil, errors.Newf("node agent response contains no RTML document").
			Component(componentName).
			Category(errors.CategoryFacility).
			Context("operation", "decode_rtml").
			Build()
	}
	return reply, nil
}

// textCharsetReader accepts charset declarations on documents that have
// already been decoded to UTF-8 text. Raw byte transcoding happens at the
// SOAP layer; here the declaration is only tolerated.
func textCharsetReader(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(charset) {
	case "utf-8", "us-ascii", "iso-8859-1", "latin1":
		return input, nil
	}
	return nil, fmt.Errorf("unsupported charset %q", charset)
}
