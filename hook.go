package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"text/template"
)

type Hook struct {
	Cards         []Card          `json:"cards"`
	SystemActions []SystemActions `json:"systemActions"`
}

type Card struct {
	UUID              string            `json:"uuid,omitempty"`
	Summary           string            `json:"summary"`
	Detail            string            `json:"detail"`
	Indicator         string            `json:"indicator"`
	Source            Source            `json:"source"`
	SelectionBehavior string            `json:"selectionBehavior,omitempty"`
	Links             []Link            `json:"links,omitempty"`
	OverrideReasons   []OverrideReasons `json:"overrideReasons,omitempty"`
	Suggestions       []Suggestion      `json:"suggestions,omitempty"`
}

type Source struct {
	Label string  `json:"label"`
	URL   string  `json:"url,omitempty"`
	Topic *Coding `json:"topic,omitempty"`
}

type Suggestion struct {
	Label   string   `json:"label"`
	UUID    string   `json:"uuid"`
	Actions []Action `json:"actions"`
}

type Action struct {
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Resource    interface{} `json:"resource"`
}

type ServiceRequest struct {
	ResourceType string            `json:"resourceType"`
	Status       string            `json:"status"`
	Intent       string            `json:"intent"`
	Code         CodeableConcept   `json:"code"`
	Subject      ResourceReference `json:"subject"`
}

type OverrideReasons struct {
	Coding []Coding `json:"coding"`
}

type SystemActions struct {
	// Define fields if needed
}

// gapDetail is what the card detail template renders for one open gap.
type gapDetail struct {
	Measure     string
	MeasureName string
	Patient     string
	Age         int
	Lookback    string
	PeriodEnd   string
	Note        string
}

const cardDetailTemplate = `{{.Patient}} (age {{.Age}}) is in the {{.MeasureName}} population with no qualifying service in the last {{.Lookback}} as of {{.PeriodEnd}}.{{if .Note}} Note: {{.Note}}.{{end}}`

var cardDetail = template.Must(template.New("cardDetail").Parse(cardDetailTemplate))

func parseCDSHooksRequest(body io.Reader) (HookRequest, error) {

	reqBytes, err := io.ReadAll(body)
	if err != nil {
		return HookRequest{}, err
	}

	// Unmarshal response into struct
	var hookRequest HookRequest
	if err := json.Unmarshal(reqBytes, &hookRequest); err != nil {
		return HookRequest{}, fmt.Errorf("unable to unmarshal hooks message: %v", err)
	}
	if hookRequest.Context.PatientId == "" {
		return HookRequest{}, fmt.Errorf("hooks message has no context.patientId")
	}

	return hookRequest, nil
}

func generateCardDetail(m map[string]string) (string, error) {
	var buf bytes.Buffer
	if err := cardDetail.Execute(&buf, m); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func structToMap(s any) map[string]string {
	// Initialize map
	result := make(map[string]string)

	// Create value and type fields
	val := reflect.ValueOf(s)
	typ := reflect.TypeOf(s)

	// Iterate over struct fields
	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		value := val.Field(i)

		// Convert values to string
		var strValue string
		switch value.Kind() {
		case reflect.Bool:
			strValue = strconv.FormatBool(value.Bool())
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			strValue = strconv.FormatInt(value.Int(), 10)
		case reflect.String:
			strValue = value.String()
		default:
			strValue = fmt.Sprintf("%v", value.Interface()) // Fallback for other types
		}

		// Append result to map
		result[field.Name] = strValue
	}
	return result
}

// longestLookback describes the widest evidence window of a measure.
func longestLookback(def *MeasureDefinition) Lookback {
	var longest Lookback
	months := -1
	for _, set := range def.Evidence {
		l := set.Lookback
		if total := l.Years*12 + l.Months; total > months {
			months = total
			longest = l
		}
	}
	return longest
}

// buildCareGapHook turns a member report into one warning card per open gap.
func buildCareGapHook(report *MemberReport) (Hook, error) {
	// Build basic Hook response
	hook := Hook{
		Cards:         []Card{},
		SystemActions: []SystemActions{},
	}

	for _, gap := range report.gaps() {
		def := gap.Definition
		age, _ := ageAt(report.Member.BirthDate, report.End)
		name := report.Member.Name
		if name == "" {
			name = report.Member.reference()
		}

		detail, err := generateCardDetail(structToMap(gapDetail{
			Measure:     def.Code,
			MeasureName: def.Name,
			Patient:     name,
			Age:         age,
			Lookback:    longestLookback(def).String(),
			PeriodEnd:   report.End.Format(dateFormat),
			Note:        def.Note,
		}))
		if err != nil {
			return Hook{}, fmt.Errorf("%v (patient: %s, measure: %s)", err, report.Member.ID, def.Code)
		}

		hook.addCard(def, detail)
		hook.addOrderSuggestion(len(hook.Cards)-1, def, report.Member.ID)
	}

	return hook, nil
}

func (h *Hook) addCard(def *MeasureDefinition, detail string) {
	h.Cards = append(h.Cards, Card{
		Summary:   fmt.Sprintf("Care gap: %s", def.Name),
		Indicator: "warning",
		Detail:    detail,
		Source: Source{
			Label: "HEDIS Quality Measures",
			Topic: &Coding{
				System: "urn:hedis:measure",
				Code:   def.Code,
			},
		},
	})
}

func (h *Hook) addSuggestion(card int) {
	// Check if suggestions list exists, if not, build it
	if h.Cards[card].Suggestions == nil {
		h.Cards[card].Suggestions = []Suggestion{}
	}
}

// addOrderSuggestion proposes a draft order for the first service that would
// close the gap.
func (h *Hook) addOrderSuggestion(card int, def *MeasureDefinition, patId string) {
	if len(def.Evidence) == 0 || len(def.Evidence[0].Codes.Codes) == 0 {
		return
	}

	// Check if suggestions list exists, if not, build it
	if h.Cards[card].Suggestions == nil {
		h.addSuggestion(card)
	}

	set := def.Evidence[0]
	suggestion := Suggestion{
		Label: fmt.Sprintf("Order %s", set.Label),
		UUID:  fmt.Sprintf("%s-order-request", def.Code),
		Actions: []Action{
			{
				Type:        "create",
				Description: fmt.Sprintf("%s to close the %s gap", set.Label, def.Code),
				Resource: ServiceRequest{
					ResourceType: "ServiceRequest",
					Status:       "draft",
					Intent:       "proposal",
					Code: CodeableConcept{
						Coding: []Coding{
							{
								System: "http://www.ama-assn.org/go/cpt",
								Code:   set.Codes.Codes[0],
							},
						},
						Text: set.Label,
					},
					Subject: ResourceReference{
						Reference: fmt.Sprintf("Patient/%s", patId),
					},
				},
			},
		},
	}

	// Append suggestion to current suggestion list
	h.Cards[card].Suggestions = append(h.Cards[card].Suggestions, suggestion)
}
