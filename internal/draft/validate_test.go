package draft

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fieldsOf(t *testing.T, err error) map[string]string {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected *ValidationError, got %v", err)
	out := make(map[string]string, len(verr.Errors))
	for _, fe := range verr.Errors {
		out[fe.Field] = fe.Rule
	}
	return out
}

func TestParsePayloadNormalizes(t *testing.T) {
	p, err := ParsePayload([]byte(`{
		"title": "  Dev CV  ",
		"templateId": "template-classic",
		"mainColor": "#0076D1",
		"cvData": {"b": 1.50, "a": {"z": true, "y": null}},
		"displaySettings": {"showPhoto": true, "show_email": false}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "Dev CV", p.Title)
	assert.Equal(t, "template-classic", p.TemplateID)
	assert.Equal(t, "#0076d1", p.MainColor)
	assert.Equal(t, "en", p.Language)
	assert.JSONEq(t, `{"a":{"y":null,"z":true},"b":1.50}`, string(p.CVData))
	assert.Equal(t, `{"a":{"y":null,"z":true},"b":1.50}`, string(p.CVData), "keys sorted, number literal kept")
	assert.Equal(t, map[string]bool{"showPhoto": true, "show_email": false}, p.DisplaySettings)
}

func TestParsePayloadRequiredFields(t *testing.T) {
	_, err := ParsePayload([]byte(`{}`))
	fields := fieldsOf(t, err)

	assert.Equal(t, "required", fields["templateId"])
	assert.Equal(t, "required", fields["mainColor"])
	assert.Equal(t, "required", fields["cvData"])
}

func TestParsePayloadRejects(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		field string
		rule  string
	}{
		{"bad color", `{"templateId":"t","mainColor":"blue","cvData":{}}`, "mainColor", "cvcolor"},
		{"four digit color", `{"templateId":"t","mainColor":"#abcd","cvData":{}}`, "mainColor", "cvcolor"},
		{"uppercase template", `{"templateId":"Classic","mainColor":"#fff","cvData":{}}`, "templateId", "templateid"},
		{"cvData array", `{"templateId":"t","mainColor":"#fff","cvData":[1,2]}`, "cvData", "object"},
		{"cvData null", `{"templateId":"t","mainColor":"#fff","cvData":null}`, "cvData", "required"},
		{"language", `{"templateId":"t","mainColor":"#fff","cvData":{},"language":"xx"}`, "language", "oneof"},
		{"setting key", `{"templateId":"t","mainColor":"#fff","cvData":{},"displaySettings":{"bad key":true}}`, "displaySettings[bad key]", "settingkey"},
		{"photo key outside prefix", `{"templateId":"t","mainColor":"#fff","cvData":{},"photoKey":"other/1.png"}`, "photoKey", "photokey"},
		{"title too long", `{"title":"` + strings.Repeat("x", 201) + `","templateId":"t","mainColor":"#fff","cvData":{}}`, "title", "max"},
		{"wrong type", `{"templateId":7,"mainColor":"#fff","cvData":{}}`, "body", "json"},
		{"not json", `nope`, "body", "json"},
		{"unknown field", `{"templateId":"t","mainColor":"#fff","cvData":{},"isPublished":true}`, "isPublished", "unknown"},
		{"trailing value", `{"templateId":"t","mainColor":"#fff","cvData":{}} {"templateId":"u"}`, "body", "json"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParsePayload([]byte(tc.body))
			fields := fieldsOf(t, err)
			assert.Equal(t, tc.rule, fields[tc.field], "fields: %v", fields)
		})
	}
}

func TestParsePayloadCollectsAllErrors(t *testing.T) {
	_, err := ParsePayload([]byte(`{"templateId":"BAD","mainColor":"x","cvData":"str"}`))
	fields := fieldsOf(t, err)
	assert.Len(t, fields, 3)
	assert.Contains(t, err.Error(), "mainColor")
}

func TestIsValidPhotoKey(t *testing.T) {
	valid := []string{
		"user-assets/7/photo.png",
		"anon-assets/abc/photo.JPEG",
		"user-assets/7/a.webp",
	}
	invalid := []string{
		"",
		"user-assets/7/../8/photo.png",
		"user-assets//photo.png",
		"user-assets\\7\\photo.png",
		"user-assets/7/photo.gif",
		"user-assets/" + strings.Repeat("a", 200) + ".png",
		"other/photo.png",
	}
	for _, key := range valid {
		assert.True(t, IsValidPhotoKey(key), key)
	}
	for _, key := range invalid {
		assert.False(t, IsValidPhotoKey(key), key)
	}
}
