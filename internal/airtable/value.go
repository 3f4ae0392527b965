package airtable

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the wire format of date-only fields
const DateLayout = "2006-01-02"

// Kind tags a Value with the shape of its payload
type Kind int

const (
	KindAbsent Kind = iota
	KindText
	KindNumber
	KindBool
	KindDate
	KindDateTime
	KindSelect
	KindMultiSelect
	KindLinks
	KindAttachments
	KindUser
)

// Value is a Source-A field value parsed into its declared type once at
// the client boundary. Exactly one payload field is meaningful for a
// given Kind; the zero Value means the field is empty.
type Value struct {
	Kind Kind
	Text string    // KindText, KindSelect, KindUser
	Num  float64   // KindNumber
	Bool bool      // KindBool
	Time time.Time // KindDate, KindDateTime
	List []string  // KindMultiSelect, KindLinks, KindAttachments
}

// IsAbsent reports whether the value represents an empty field
func (v Value) IsAbsent() bool { return v.Kind == KindAbsent }

func Text(s string) Value            { return Value{Kind: KindText, Text: s} }
func Number(f float64) Value         { return Value{Kind: KindNumber, Num: f} }
func Bool(b bool) Value              { return Value{Kind: KindBool, Bool: b} }
func Date(t time.Time) Value         { return Value{Kind: KindDate, Time: t} }
func DateTime(t time.Time) Value     { return Value{Kind: KindDateTime, Time: t} }
func Select(name string) Value       { return Value{Kind: KindSelect, Text: name} }
func MultiSelect(ns []string) Value  { return Value{Kind: KindMultiSelect, List: ns} }
func Links(ids []string) Value       { return Value{Kind: KindLinks, List: ids} }
func Attachments(us []string) Value  { return Value{Kind: KindAttachments, List: us} }
func User(display string) Value      { return Value{Kind: KindUser, Text: display} }

// ParseValue decodes a raw field payload using the field's declared type.
func ParseValue(field Field, raw json.RawMessage) (Value, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Value{}, nil
	}

	switch field.Type {
	case TypeSingleLineText, TypeMultilineText, TypeRichText, TypeURL, TypeEmail, TypePhoneNumber:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, parseErr(field, err)
		}
		return Text(s), nil

	case TypeNumber, TypeCurrency, TypePercent, TypeDuration, TypeRating, TypeCount, TypeAutoNumber:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return Value{}, parseErr(field, err)
		}
		return Number(f), nil

	case TypeCheckbox:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return Value{}, parseErr(field, err)
		}
		return Bool(b), nil

	case TypeDate:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, parseErr(field, err)
		}
		t, err := time.Parse(DateLayout, s)
		if err != nil {
			return Value{}, parseErr(field, err)
		}
		return Date(t), nil

	case TypeDateTime, TypeCreatedTime, TypeModifiedTime:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, parseErr(field, err)
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return Value{}, parseErr(field, err)
		}
		return DateTime(t), nil

	case TypeSingleSelect:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			// some endpoints return the full choice object
			var c Choice
			if err2 := json.Unmarshal(raw, &c); err2 != nil {
				return Value{}, parseErr(field, err)
			}
			return Select(c.Name), nil
		}
		return Select(s), nil

	case TypeMultipleSelects:
		var names []string
		if err := json.Unmarshal(raw, &names); err != nil {
			return Value{}, parseErr(field, err)
		}
		return MultiSelect(names), nil

	case TypeRecordLinks:
		var ids []string
		if err := json.Unmarshal(raw, &ids); err != nil {
			return Value{}, parseErr(field, err)
		}
		return Links(ids), nil

	case TypeAttachments:
		var atts []struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(raw, &atts); err != nil {
			return Value{}, parseErr(field, err)
		}
		urls := make([]string, 0, len(atts))
		for _, a := range atts {
			urls = append(urls, a.URL)
		}
		return Attachments(urls), nil

	case TypeCreatedBy, TypeModifiedBy:
		var u struct {
			Name  string `json:"name"`
			Email string `json:"email"`
		}
		if err := json.Unmarshal(raw, &u); err != nil {
			return Value{}, parseErr(field, err)
		}
		if u.Name == "" {
			return User(u.Email), nil
		}
		return User(u.Name), nil

	case TypeBarcode:
		var bc struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(raw, &bc); err != nil {
			return Value{}, parseErr(field, err)
		}
		return Text(bc.Text), nil

	case TypeButton:
		var btn struct {
			Label string `json:"label"`
			URL   string `json:"url"`
		}
		if err := json.Unmarshal(raw, &btn); err != nil {
			return Value{}, parseErr(field, err)
		}
		return Text(btn.Label), nil

	case TypeFormula, TypeRollup, TypeLookup:
		return parseComputed(field, raw)

	default:
		return parseLoose(raw)
	}
}

// parseComputed parses formula/rollup/lookup output. When the schema
// declares a result type the payload is parsed as that type; lookups
// wrap scalar results in arrays.
func parseComputed(field Field, raw json.RawMessage) (Value, error) {
	trimmed := bytes.TrimSpace(raw)
	if field.Options != nil && field.Options.Result != nil {
		resultField := Field{ID: field.ID, Name: field.Name, Type: field.Options.Result.Type}
		if len(trimmed) > 0 && trimmed[0] == '[' && field.Options.Result.Type != TypeMultipleSelects && field.Options.Result.Type != TypeRecordLinks {
			var elems []json.RawMessage
			if err := json.Unmarshal(raw, &elems); err != nil {
				return Value{}, parseErr(field, err)
			}
			items := make([]string, 0, len(elems))
			for _, e := range elems {
				v, err := ParseValue(resultField, e)
				if err != nil {
					return Value{}, err
				}
				items = append(items, v.Display())
			}
			return MultiSelect(items), nil
		}
		return ParseValue(resultField, raw)
	}
	return parseLoose(raw)
}

// parseLoose handles payloads with no declared type: JSON scalars map to
// the matching kind, arrays flatten to strings.
func parseLoose(raw json.RawMessage) (Value, error) {
	var any interface{}
	if err := json.Unmarshal(raw, &any); err != nil {
		return Value{}, err
	}
	switch v := any.(type) {
	case nil:
		return Value{}, nil
	case string:
		return Text(v), nil
	case float64:
		return Number(v), nil
	case bool:
		return Bool(v), nil
	case []interface{}:
		items := make([]string, 0, len(v))
		for _, e := range v {
			items = append(items, fmt.Sprintf("%v", e))
		}
		return MultiSelect(items), nil
	default:
		return Text(fmt.Sprintf("%v", v)), nil
	}
}

// Display renders a scalar value as user-facing text. List kinds are
// not covered; callers join those themselves.
func (v Value) Display() string {
	switch v.Kind {
	case KindText, KindSelect, KindUser:
		return v.Text
	case KindNumber:
		return trimFloat(v.Num)
	case KindBool:
		if v.Bool {
			return "TRUE"
		}
		return "FALSE"
	case KindDate:
		return v.Time.Format(DateLayout)
	case KindDateTime:
		return v.Time.UTC().Format(time.RFC3339)
	default:
		return ""
	}
}

func trimFloat(f float64) string {
	s := fmt.Sprintf("%.6f", f)
	for len(s) > 0 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}
	return s
}

// wire serializes a value for create/update payloads
func (v Value) wire() interface{} {
	switch v.Kind {
	case KindText, KindSelect, KindUser:
		return v.Text
	case KindNumber:
		return v.Num
	case KindBool:
		return v.Bool
	case KindDate:
		return v.Time.Format(DateLayout)
	case KindDateTime:
		return v.Time.UTC().Format(time.RFC3339)
	case KindMultiSelect, KindLinks:
		return v.List
	case KindAttachments:
		atts := make([]map[string]string, 0, len(v.List))
		for _, u := range v.List {
			atts = append(atts, map[string]string{"url": u})
		}
		return atts
	default:
		return nil
	}
}

func parseErr(field Field, err error) error {
	return fmt.Errorf("parse field %s (%s): %w", field.Name, field.Type, err)
}
