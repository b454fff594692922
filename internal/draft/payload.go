package draft

import (
	"encoding/json"
)

// Defaults applied when a draft is turned into a CV.
const (
	DefaultTitle      = "Untitled CV"
	DefaultTemplateID = "template-classic"
	DefaultMainColor  = "#0076d1"
	DefaultLanguage   = "en"
)

// Payload is the normalized CV content bundle stored on a draft.
// Only ParsePayload produces values that are safe to hash and persist.
type Payload struct {
	Title           string          `json:"title,omitempty"`
	TemplateID      string          `json:"templateId"`
	MainColor       string          `json:"mainColor"`
	CVData          json.RawMessage `json:"cvData"`
	DisplaySettings map[string]bool `json:"displaySettings,omitempty"`
	Language        string          `json:"language"`
	PhotoKey        string          `json:"photoKey,omitempty"`
}

// CVFields returns the title, template and color a CV derived from p gets.
func (p Payload) CVFields() (title, templateID, mainColor string) {
	title, templateID, mainColor = p.Title, p.TemplateID, p.MainColor
	if title == "" {
		title = DefaultTitle
	}
	if templateID == "" {
		templateID = DefaultTemplateID
	}
	if mainColor == "" {
		mainColor = DefaultMainColor
	}
	return title, templateID, mainColor
}

// cvDocument is the JSON stored in cvs.data.
type cvDocument struct {
	CVData          json.RawMessage `json:"cvData"`
	DisplaySettings map[string]bool `json:"displaySettings,omitempty"`
	Language        string          `json:"language"`
}

// Document returns the JSON stored in the CV data column.
func (p Payload) Document() ([]byte, error) {
	return json.Marshal(cvDocument{
		CVData:          p.CVData,
		DisplaySettings: p.DisplaySettings,
		Language:        p.Language,
	})
}
