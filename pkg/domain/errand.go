package domain

import (
	"encoding"
	"strings"
)

// ErrandCategory is the fixed top-level classification bucket for fault reports.
const ErrandCategory = "FELANMALAN"

// Fixed values the backend stamps on every outgoing errand.
const (
	ReporterUserID  = "d4e5f6a7-b8c9-4d0e-a1f2-3b4c5d6e7f80"
	ChannelExternal = "ESERVICE_EXTERNAL"
)

type ErrandStatus string

const (
	StatusNew     ErrandStatus = "NEW"
	StatusOngoing ErrandStatus = "ONGOING"
)

// ActiveStatuses are the statuses shown on the map.
var ActiveStatuses = []ErrandStatus{StatusNew, StatusOngoing}

// Parameter keys carrying the report location.
const (
	ParamCoordinates    = "coordinates"
	ParamCoordinatesCRS = "coordinates_crs"
	CRSProjected        = "EPSG:3006"
)

type Parameter struct {
	Key    string   `json:"key"`
	Values []string `json:"values"`
}

type Classification struct {
	Category string `json:"category"`
	Type     string `json:"type"`
}

type ContactChannel struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type Stakeholder struct {
	ContactChannels []ContactChannel `json:"contactChannels"`
	Role            string           `json:"role"`
}

// ErrandDraft is the client-supplied part of an errand, decoded from the `errand`
// multipart field. Server-owned fields are not accepted here.
type ErrandDraft struct {
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	Classification *Classification `json:"classification,omitempty"`
	Priority       string          `json:"priority,omitempty"`
	Stakeholders   []Stakeholder   `json:"stakeholders,omitempty"`
	Parameters     []Parameter     `json:"parameters,omitempty"`
}

// Param returns the parameter with the given key, or nil.
func (d *ErrandDraft) Param(key string) *Parameter {
	for i := range d.Parameters {
		if d.Parameters[i].Key == key {
			return &d.Parameters[i]
		}
	}
	return nil
}

// RemoveParam drops every parameter with the given key.
func (d *ErrandDraft) RemoveParam(key string) {
	out := d.Parameters[:0]
	for _, p := range d.Parameters {
		if p.Key != key {
			out = append(out, p)
		}
	}
	d.Parameters = out
}

// Validate checks the structure of a draft before any fixed field is merged.
func (d *ErrandDraft) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return NewHTTPError(400, MsgInvalidPayload)
	}
	for _, p := range d.Parameters {
		if strings.TrimSpace(p.Key) == "" {
			return NewHTTPError(400, MsgInvalidPayload)
		}
	}
	for _, s := range d.Stakeholders {
		for _, ch := range s.ContactChannels {
			if strings.TrimSpace(ch.Type) == "" || strings.TrimSpace(ch.Value) == "" {
				return NewHTTPError(400, MsgInvalidPayload)
			}
		}
	}
	return nil
}

// NewErrand is the payload POSTed to the upstream errand collection.
type NewErrand struct {
	ErrandDraft
	ReporterUserID string       `json:"reporterUserId"`
	Channel        string       `json:"channel"`
	Status         ErrandStatus `json:"status"`
}

// Errand is an upstream errand record.
type Errand struct {
	ID             string          `json:"id"`
	ErrandNumber   string          `json:"errandNumber,omitempty"`
	Title          string          `json:"title,omitempty"`
	Description    string          `json:"description,omitempty"`
	Status         ErrandStatus    `json:"status"`
	Created        string          `json:"created"`
	Classification *Classification `json:"classification,omitempty"`
	Parameters     []Parameter     `json:"parameters,omitempty"`
}

// ErrandPage is one page of the upstream errand listing.
type ErrandPage struct {
	Content       []Errand `json:"content"`
	TotalElements int      `json:"totalElements"`
}

// CreatedErrand is returned to the client on a successful submission.
type CreatedErrand struct {
	ID           string `json:"id"`
	ErrandNumber string `json:"errandNumber,omitempty"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ErrandMarker is the map projection of an active fault report.
type ErrandMarker struct {
	ID                 string       `json:"id"`
	ErrandNumber       string       `json:"errandNumber,omitempty"`
	Title              string       `json:"title,omitempty"`
	Description        string       `json:"description,omitempty"`
	ClassificationType string       `json:"classificationType,omitempty"`
	Status             ErrandStatus `json:"status"`
	Created            string       `json:"created"`
	Coordinates        Point        `json:"coordinates"`
}

// Upload is an in-memory file part, either received from a client or sent upstream.
type Upload struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Attachment is a proxied attachment body.
type Attachment struct {
	ContentType string
	Data        []byte
}

var (
	_ encoding.TextMarshaler = ErrandStatus("")
)

func (s ErrandStatus) MarshalText() ([]byte, error) { return []byte(string(s)), nil }
