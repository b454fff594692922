package draft

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var (
	templateIDPattern = regexp.MustCompile(`^[a-z0-9-]+$`)
	colorPattern      = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)
	settingKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

	payloadValidator = newValidator()
)

// payloadRequest is the wire shape accepted from the editor.
type payloadRequest struct {
	Title           string          `json:"title" validate:"max=200"`
	TemplateID      string          `json:"templateId" validate:"required,max=64,templateid"`
	MainColor       string          `json:"mainColor" validate:"required,cvcolor"`
	CVData          json.RawMessage `json:"cvData" validate:"required"`
	DisplaySettings map[string]bool `json:"displaySettings" validate:"omitempty,max=64,dive,keys,settingkey,endkeys"`
	Language        string          `json:"language" validate:"omitempty,oneof=en fr de es it pt nl"`
	PhotoKey        string          `json:"photoKey" validate:"omitempty,photokey"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	mustRegister(v, "templateid", func(fl validator.FieldLevel) bool {
		return templateIDPattern.MatchString(fl.Field().String())
	})
	mustRegister(v, "cvcolor", func(fl validator.FieldLevel) bool {
		return colorPattern.MatchString(fl.Field().String())
	})
	mustRegister(v, "settingkey", func(fl validator.FieldLevel) bool {
		return settingKeyPattern.MatchString(fl.Field().String())
	})
	mustRegister(v, "photokey", func(fl validator.FieldLevel) bool {
		return IsValidPhotoKey(fl.Field().String())
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %s: %v", tag, err))
	}
}

// ParsePayload decodes and validates a raw request body. It returns either a
// normalized Payload or a *ValidationError describing every rejected field.
func ParsePayload(raw []byte) (Payload, error) {
	var req payloadRequest
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		verr := &ValidationError{}
		if name, ok := unknownField(err); ok {
			verr.add(name, "unknown", "is not a recognized field")
		} else {
			verr.add("body", "json", decodeMessage(err))
		}
		return Payload{}, verr
	}
	if _, err := dec.Token(); err != io.EOF {
		verr := &ValidationError{}
		verr.add("body", "json", "request body must contain a single JSON object")
		return Payload{}, verr
	}

	req.Title = strings.TrimSpace(req.Title)
	req.TemplateID = strings.TrimSpace(req.TemplateID)
	req.MainColor = strings.TrimSpace(req.MainColor)
	req.Language = strings.TrimSpace(req.Language)
	req.PhotoKey = strings.TrimSpace(req.PhotoKey)
	if bytes.Equal(bytes.TrimSpace(req.CVData), []byte("null")) {
		req.CVData = nil
	}

	verr := &ValidationError{}
	if err := payloadValidator.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return Payload{}, fmt.Errorf("validate payload: %w", err)
		}
		for _, fe := range fieldErrs {
			verr.add(fieldPath(fe), fe.Tag(), fieldMessage(fe))
		}
	}

	var cvData json.RawMessage
	if len(req.CVData) > 0 {
		canonical, err := canonicalObject(req.CVData)
		if err != nil {
			verr.add("cvData", "object", "must be a JSON object")
		} else {
			cvData = canonical
		}
	}

	if len(verr.Errors) > 0 {
		return Payload{}, verr
	}

	lang := req.Language
	if lang == "" {
		lang = DefaultLanguage
	}
	settings := req.DisplaySettings
	if len(settings) == 0 {
		settings = nil
	}

	return Payload{
		Title:           req.Title,
		TemplateID:      req.TemplateID,
		MainColor:       strings.ToLower(req.MainColor),
		CVData:          cvData,
		DisplaySettings: settings,
		Language:        lang,
		PhotoKey:        req.PhotoKey,
	}, nil
}

// IsValidPhotoKey accepts object keys under the user or anonymous asset prefixes.
func IsValidPhotoKey(key string) bool {
	if key == "" || !utf8.ValidString(key) {
		return false
	}
	if !strings.HasPrefix(key, "user-assets/") && !strings.HasPrefix(key, "anon-assets/") {
		return false
	}
	if strings.Contains(key, "..") || strings.Contains(key, "\\") || strings.Contains(key, "//") {
		return false
	}
	if len(key) > 200 {
		return false
	}
	lower := strings.ToLower(key)
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".webp"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// canonicalObject re-encodes a JSON object with sorted keys and original number literals.
func canonicalObject(raw json.RawMessage) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data")
	}
	if _, ok := value.(map[string]any); !ok {
		return nil, errors.New("not an object")
	}
	return json.Marshal(value)
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s long", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "templateid":
		return "may only contain lowercase letters, digits and dashes"
	case "cvcolor":
		return "must be a hex color such as #0076d1"
	case "settingkey":
		return "keys may only contain letters, digits and underscores"
	case "photokey":
		return "must reference an uploaded image"
	default:
		return "is invalid"
	}
}

// unknownField extracts the key named by the decoder's unknown field error,
// which has no typed form.
func unknownField(err error) (string, bool) {
	const prefix = "json: unknown field "
	msg := err.Error()
	if !strings.HasPrefix(msg, prefix) {
		return "", false
	}
	return strings.Trim(strings.TrimPrefix(msg, prefix), `"`), true
}

func decodeMessage(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return fmt.Sprintf("field %s has the wrong type", typeErr.Field)
	}
	return "request body must be a JSON object"
}
