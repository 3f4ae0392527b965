package airtable

// Base is one Airtable base visible to the connected account
type Base struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	PermissionLevel string `json:"permissionLevel,omitempty"`
}

// FieldType is the declared type of an Airtable field
type FieldType string

const (
	TypeSingleLineText  FieldType = "singleLineText"
	TypeMultilineText   FieldType = "multilineText"
	TypeRichText        FieldType = "richText"
	TypeNumber          FieldType = "number"
	TypeCurrency        FieldType = "currency"
	TypePercent         FieldType = "percent"
	TypeDuration        FieldType = "duration"
	TypeCheckbox        FieldType = "checkbox"
	TypeDate            FieldType = "date"
	TypeDateTime        FieldType = "dateTime"
	TypeSingleSelect    FieldType = "singleSelect"
	TypeMultipleSelects FieldType = "multipleSelects"
	TypeURL             FieldType = "url"
	TypeEmail           FieldType = "email"
	TypePhoneNumber     FieldType = "phoneNumber"
	TypeAttachments     FieldType = "multipleAttachments"
	TypeRecordLinks     FieldType = "multipleRecordLinks"
	TypeFormula         FieldType = "formula"
	TypeRollup          FieldType = "rollup"
	TypeLookup          FieldType = "multipleLookupValues"
	TypeCount           FieldType = "count"
	TypeAutoNumber      FieldType = "autoNumber"
	TypeBarcode         FieldType = "barcode"
	TypeRating          FieldType = "rating"
	TypeButton          FieldType = "button"
	TypeCreatedTime     FieldType = "createdTime"
	TypeModifiedTime    FieldType = "lastModifiedTime"
	TypeCreatedBy       FieldType = "createdBy"
	TypeModifiedBy      FieldType = "lastModifiedBy"
)

// ReadOnly reports whether the field is computed upstream and can never
// be written back.
func (t FieldType) ReadOnly() bool {
	switch t {
	case TypeFormula, TypeRollup, TypeLookup, TypeCount, TypeAutoNumber,
		TypeButton, TypeCreatedTime, TypeModifiedTime, TypeCreatedBy, TypeModifiedBy:
		return true
	}
	return false
}

// Choice is one allowed option of a select field
type Choice struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// FieldResult carries the resolved output type of a computed field
type FieldResult struct {
	Type FieldType `json:"type"`
}

// FieldOptions holds the type-specific options the sync engine cares
// about. Airtable returns more; the rest is ignored on decode.
type FieldOptions struct {
	Choices       []Choice     `json:"choices,omitempty"`
	LinkedTableID string       `json:"linkedTableId,omitempty"`
	Result        *FieldResult `json:"result,omitempty"`
	Precision     int          `json:"precision,omitempty"`
}

// Field describes one column of an Airtable table
type Field struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Type    FieldType     `json:"type"`
	Options *FieldOptions `json:"options,omitempty"`
}

// ChoiceNames returns the option names of a select field, nil otherwise
func (f Field) ChoiceNames() []string {
	if f.Options == nil || len(f.Options.Choices) == 0 {
		return nil
	}
	names := make([]string, 0, len(f.Options.Choices))
	for _, c := range f.Options.Choices {
		names = append(names, c.Name)
	}
	return names
}

// Table describes one table of a base, including its field schema
type Table struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	PrimaryFieldID string  `json:"primaryFieldId"`
	Fields         []Field `json:"fields"`
}

// FieldByID returns the field with the given id, or false
func (t *Table) FieldByID(id string) (Field, bool) {
	for _, f := range t.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// PrimaryField returns the table's primary field, or false
func (t *Table) PrimaryField() (Field, bool) {
	return t.FieldByID(t.PrimaryFieldID)
}

// Record is one Airtable record with its values parsed per the table
// schema. Fields is keyed by field id; absent keys mean the field is
// empty upstream.
type Record struct {
	ID          string
	CreatedTime string
	Fields      map[string]Value
}
