// Package notificationtest builds enrollment event views and payloads for tests.
package notificationtest

import (
	"fmt"
	"strings"
	"time"

	"enrollsync/internal/notification"
)

type Option func(v *notification.View)

var DefaultSubmittedAt = time.Date(2021, time.January, 5, 9, 0, 0, 0, time.UTC)

// View returns an individual-market health initial enrollment for subscriber
// S1 starting 2021-01-01, modified by opts.
func View(opts ...Option) notification.View {
	v := notification.View{
		TransactionID:   "txn-1",
		BatchID:         "batch-1",
		HbxEnrollmentID: "E1",
		SubscriberID:    "S1",
		MemberIDs:       []string{"S1"},
		ProductID:       "P1",
		ActiveYear:      2021,
		CoverageType:    notification.CoverageHealth,
		Action:          notification.ActionInitial,
		SubscriberStart: notification.Date(2021, time.January, 1),
		SubmittedAt:     DefaultSubmittedAt,
		Publishable:     true,
		Headers:         map[string]string{},
	}
	for _, opt := range opts {
		opt(&v)
	}
	return v
}

func Event(position int, opts ...Option) *notification.Event {
	return notification.New(View(opts...), position)
}

func WithID(id string) Option {
	return func(v *notification.View) { v.HbxEnrollmentID = id }
}

func WithTransactionID(id string) Option {
	return func(v *notification.View) { v.TransactionID = id }
}

func WithSubscriber(id string) Option {
	return func(v *notification.View) {
		v.SubscriberID = id
		v.MemberIDs = []string{id}
	}
}

func WithEmployer(id string) Option {
	return func(v *notification.View) { v.EmployerID = id }
}

func WithCoverage(c notification.CoverageType) Option {
	return func(v *notification.View) { v.CoverageType = c }
}

func WithProduct(id string) Option {
	return func(v *notification.View) { v.ProductID = id }
}

func WithAction(a notification.Action) Option {
	return func(v *notification.View) { v.Action = a }
}

func WithYear(year int) Option {
	return func(v *notification.View) { v.ActiveYear = year }
}

func WithStart(y int, m time.Month, d int) Option {
	return func(v *notification.View) { v.SubscriberStart = notification.Date(y, m, d) }
}

func WithEnd(y int, m time.Month, d int) Option {
	return func(v *notification.View) {
		end := notification.Date(y, m, d)
		v.SubscriberEnd = &end
	}
}

func WithoutEnd() Option {
	return func(v *notification.View) { v.SubscriberEnd = nil }
}

func WithSubmitted(t time.Time) Option {
	return func(v *notification.View) { v.SubmittedAt = t }
}

func Silent() Option {
	return func(v *notification.View) { v.Publishable = false }
}

// Term is a termination of id ending on y-m-d.
func Term(id string, y int, m time.Month, d int) []Option {
	return []Option{WithID(id), WithAction(notification.ActionTerminate), WithEnd(y, m, d)}
}

// XML renders v as an enrollment event document that Parse accepts.
func XML(v notification.View) string {
	var b strings.Builder
	end := ""
	if v.SubscriberEnd != nil {
		end = v.SubscriberEnd.Format("20060102")
	}

	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<enrollment_event xmlns="http://openhbx.org/api/terms/1.0">`)
	fmt.Fprintf(&b, `<header><submitted_timestamp>%s</submitted_timestamp></header>`, v.SubmittedAt.Format(time.RFC3339))
	b.WriteString(`<event><body><enrollment_event_body>`)
	fmt.Fprintf(&b, `<is_trading_partner_publishable>%t</is_trading_partner_publishable>`, v.Publishable)
	b.WriteString(`<enrollment>`)
	fmt.Fprintf(&b, `<type>%s</type>`, v.Action)
	market := "individual"
	if v.EmployerID != "" {
		market = "shop"
	}
	fmt.Fprintf(&b, `<market>urn:openhbx:terms:v1:aca_marketplace#%s</market>`, market)
	b.WriteString(`<policy>`)
	fmt.Fprintf(&b, `<id><id>urn:openhbx:hbx:me0:resources:v1:policy:hbx_id#%s</id></id>`, v.HbxEnrollmentID)
	b.WriteString(`<enrollees>`)
	members := v.MemberIDs
	if len(members) == 0 {
		members = []string{v.SubscriberID}
	}
	for _, m := range members {
		fmt.Fprintf(&b, `<enrollee><member><id><id>urn:openhbx:hbx:me0:resources:v1:person:hbx_id#%s</id></id></member>`, m)
		fmt.Fprintf(&b, `<is_subscriber>%t</is_subscriber>`, m == v.SubscriberID)
		fmt.Fprintf(&b, `<benefit><begin_date>%s</begin_date><end_date>%s</end_date></benefit></enrollee>`,
			v.SubscriberStart.Format("20060102"), end)
	}
	b.WriteString(`</enrollees><enrollment><plan>`)
	fmt.Fprintf(&b, `<id><id>urn:openhbx:hbx:me0:resources:v1:plan:hios_id#%s</id></id>`, v.ProductID)
	fmt.Fprintf(&b, `<coverage_type>urn:openhbx:terms:v1:qhp_benefit_coverage#%s</coverage_type>`, v.CoverageType)
	fmt.Fprintf(&b, `<plan_year>%d</plan_year></plan>`, v.ActiveYear)
	if v.EmployerID != "" {
		fmt.Fprintf(&b, `<shop_market><employer_link><id><id>urn:openhbx:hbx:me0:resources:v1:employer:hbx_id#%s</id></id></employer_link></shop_market>`, v.EmployerID)
	}
	b.WriteString(`</enrollment></policy></enrollment></enrollment_event_body></body></event></enrollment_event>`)
	return b.String()
}
