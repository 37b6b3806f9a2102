package notification

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"enrollsync/internal/constants"
	apperrors "enrollsync/pkg/errors"
)

const (
	HeaderSubmittedTimestamp = constants.HeaderSubmittedTimestamp
	HeaderPublishable        = constants.HeaderPublishable

	dateLayout = "20060102"
)

// ErrMalformed is returned for payloads that cannot yield a View.
var ErrMalformed = apperrors.ErrUnprocessable.WithDetail("reason", "malformed enrollment event")

// Raw is one stored transaction before parsing.
type Raw struct {
	TransactionID string
	BatchID       string
	Headers       map[string]string
	Body          string
	ReceivedAt    time.Time
}

type enrollmentEventDoc struct {
	XMLName xml.Name `xml:"enrollment_event"`
	Header  struct {
		SubmittedTimestamp string `xml:"submitted_timestamp"`
	} `xml:"header"`
	Body struct {
		Publishable *bool         `xml:"is_trading_partner_publishable"`
		Enrollment  enrollmentDoc `xml:"enrollment"`
	} `xml:"event>body>enrollment_event_body"`
}

type enrollmentDoc struct {
	Type   string    `xml:"type"`
	Market string    `xml:"market"`
	Policy policyDoc `xml:"policy"`
}

type policyDoc struct {
	ID        string        `xml:"id>id"`
	Enrollees []enrolleeDoc `xml:"enrollees>enrollee"`
	Plan      struct {
		ID           string `xml:"id>id"`
		CoverageType string `xml:"coverage_type"`
		PlanYear     string `xml:"plan_year"`
	} `xml:"enrollment>plan"`
	EmployerID string `xml:"enrollment>shop_market>employer_link>id>id"`
}

type enrolleeDoc struct {
	MemberID     string `xml:"member>id>id"`
	IsSubscriber bool   `xml:"is_subscriber"`
	Benefit      struct {
		BeginDate string `xml:"begin_date"`
		EndDate   string `xml:"end_date"`
	} `xml:"benefit"`
}

// Parse decodes a raw transaction into its View. Every failure wraps
// ErrMalformed.
func Parse(raw Raw) (View, error) {
	var doc enrollmentEventDoc
	if err := xml.Unmarshal([]byte(raw.Body), &doc); err != nil {
		return View{}, malformed("invalid xml", err)
	}

	enr := doc.Body.Enrollment
	v := View{
		TransactionID:   raw.TransactionID,
		BatchID:         raw.BatchID,
		Headers:         copyHeaders(raw.Headers),
		Body:            raw.Body,
		ReceivedAt:      raw.ReceivedAt,
		HbxEnrollmentID: resourceID(enr.Policy.ID),
		ProductID:       resourceID(enr.Policy.Plan.ID),
		EmployerID:      resourceID(enr.Policy.EmployerID),
		Action:          ParseAction(enr.Type),
		Publishable:     true,
	}

	if v.HbxEnrollmentID == "" {
		return View{}, malformed("missing policy id", nil)
	}
	if v.Action == "" {
		return View{}, malformed("missing enrollment action", nil)
	}

	v.CoverageType = CoverageType(resourceID(enr.Policy.Plan.CoverageType))
	if !v.CoverageType.Valid() {
		return View{}, malformed(fmt.Sprintf("unknown coverage type %q", enr.Policy.Plan.CoverageType), nil)
	}

	year, err := strconv.Atoi(strings.TrimSpace(enr.Policy.Plan.PlanYear))
	if err != nil {
		return View{}, malformed("invalid plan year", err)
	}
	v.ActiveYear = year

	var subscriber *enrolleeDoc
	for i := range enr.Policy.Enrollees {
		e := &enr.Policy.Enrollees[i]
		v.MemberIDs = append(v.MemberIDs, resourceID(e.MemberID))
		if e.IsSubscriber && subscriber == nil {
			subscriber = e
		}
	}
	if subscriber == nil {
		return View{}, malformed("no subscriber enrollee", nil)
	}
	v.SubscriberID = resourceID(subscriber.MemberID)

	start, err := parseDate(subscriber.Benefit.BeginDate)
	if err != nil || start.IsZero() {
		return View{}, malformed("invalid subscriber begin date", err)
	}
	v.SubscriberStart = start

	end, err := parseDate(subscriber.Benefit.EndDate)
	if err != nil {
		return View{}, malformed("invalid subscriber end date", err)
	}
	if !end.IsZero() {
		v.SubscriberEnd = &end
	}

	v.SubmittedAt, err = submittedAt(doc.Header.SubmittedTimestamp, raw)
	if err != nil {
		return View{}, malformed("invalid submitted timestamp", err)
	}

	switch {
	case doc.Body.Publishable != nil:
		v.Publishable = *doc.Body.Publishable
	case raw.Headers[HeaderPublishable] != "":
		if b, err := strconv.ParseBool(raw.Headers[HeaderPublishable]); err == nil {
			v.Publishable = b
		}
	}

	return v, nil
}

// ParseEvent parses raw and wraps the result; unparseable input yields an
// event already dropped as malformed together with the parse error.
func ParseEvent(raw Raw, position int) (*Event, error) {
	v, err := Parse(raw)
	if err != nil {
		return NewMalformed(raw, position), err
	}
	return New(v, position), nil
}

func submittedAt(fromBody string, raw Raw) (time.Time, error) {
	s := strings.TrimSpace(raw.Headers[HeaderSubmittedTimestamp])
	if s == "" {
		s = strings.TrimSpace(fromBody)
	}
	if s == "" {
		return raw.ReceivedAt.UTC(), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05 -0700", "2006-01-02 15:04:05 MST"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// resourceID returns the fragment after '#' of an openhbx URN, or s itself.
func resourceID(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '#'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func malformed(msg string, cause error) error {
	err := ErrMalformed.WithDetail("message", msg)
	if cause != nil {
		return err.WithCause(cause)
	}
	return err
}
