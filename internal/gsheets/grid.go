package gsheets

import (
	"context"
	"fmt"
	"net/http"
)

type gridRange struct {
	SheetID          int64 `json:"sheetId"`
	StartRowIndex    int   `json:"startRowIndex"`
	EndRowIndex      int   `json:"endRowIndex"`
	StartColumnIndex int   `json:"startColumnIndex"`
	EndColumnIndex   int   `json:"endColumnIndex"`
}

type dimensionRange struct {
	SheetID    int64  `json:"sheetId"`
	Dimension  string `json:"dimension"`
	StartIndex int    `json:"startIndex"`
	EndIndex   int    `json:"endIndex"`
}

type batchRequest struct {
	DeleteDimension *struct {
		Range dimensionRange `json:"range"`
	} `json:"deleteDimension,omitempty"`
	AppendDimension *struct {
		SheetID   int64  `json:"sheetId"`
		Dimension string `json:"dimension"`
		Length    int    `json:"length"`
	} `json:"appendDimension,omitempty"`
	UpdateDimensionProperties *struct {
		Range      dimensionRange `json:"range"`
		Properties struct {
			HiddenByUser bool `json:"hiddenByUser"`
		} `json:"properties"`
		Fields string `json:"fields"`
	} `json:"updateDimensionProperties,omitempty"`
	SetDataValidation *setDataValidation `json:"setDataValidation,omitempty"`
}

type setDataValidation struct {
	Range gridRange       `json:"range"`
	Rule  *validationRule `json:"rule,omitempty"`
}

type validationRule struct {
	Condition struct {
		Type   string           `json:"type"`
		Values []conditionValue `json:"values"`
	} `json:"condition"`
	Strict       bool `json:"strict"`
	ShowCustomUI bool `json:"showCustomUi"`
}

type conditionValue struct {
	UserEnteredValue string `json:"userEnteredValue"`
}

func (c *Client) batchUpdate(ctx context.Context, spreadsheetID, op string, requests []batchRequest) error {
	if len(requests) == 0 {
		return nil
	}
	u := fmt.Sprintf("%s/v4/spreadsheets/%s:batchUpdate", c.baseURL, spreadsheetID)
	body := struct {
		Requests []batchRequest `json:"requests"`
	}{Requests: requests}
	return c.do(ctx, op, http.MethodPost, u, nil, body, nil)
}

// DeleteRows removes count rows starting at the zero-based startIndex
func (c *Client) DeleteRows(ctx context.Context, spreadsheetID string, sheetID int64, startIndex, count int) error {
	if count <= 0 {
		return nil
	}
	req := batchRequest{}
	req.DeleteDimension = &struct {
		Range dimensionRange `json:"range"`
	}{Range: dimensionRange{
		SheetID:    sheetID,
		Dimension:  "ROWS",
		StartIndex: startIndex,
		EndIndex:   startIndex + count,
	}}
	return c.batchUpdate(ctx, spreadsheetID, "delete rows", []batchRequest{req})
}

// EnsureColumnCount grows the sheet's column dimension to at least
// minColumns. No-op when the sheet is already wide enough.
func (c *Client) EnsureColumnCount(ctx context.Context, spreadsheetID string, sheetID int64, minColumns int) error {
	meta, err := c.GetSpreadsheetMeta(ctx, spreadsheetID)
	if err != nil {
		return err
	}

	current := 0
	for _, s := range meta.Sheets {
		if s.SheetID == sheetID {
			current = s.ColumnCount
			break
		}
	}
	if current >= minColumns {
		return nil
	}

	req := batchRequest{}
	req.AppendDimension = &struct {
		SheetID   int64  `json:"sheetId"`
		Dimension string `json:"dimension"`
		Length    int    `json:"length"`
	}{SheetID: sheetID, Dimension: "COLUMNS", Length: minColumns - current}
	return c.batchUpdate(ctx, spreadsheetID, "append columns", []batchRequest{req})
}

// HideColumn hides one zero-based column from the end user
func (c *Client) HideColumn(ctx context.Context, spreadsheetID string, sheetID int64, columnIndex int) error {
	req := batchRequest{}
	req.UpdateDimensionProperties = &struct {
		Range      dimensionRange `json:"range"`
		Properties struct {
			HiddenByUser bool `json:"hiddenByUser"`
		} `json:"properties"`
		Fields string `json:"fields"`
	}{
		Range: dimensionRange{
			SheetID:    sheetID,
			Dimension:  "COLUMNS",
			StartIndex: columnIndex,
			EndIndex:   columnIndex + 1,
		},
		Fields: "hiddenByUser",
	}
	req.UpdateDimensionProperties.Properties.HiddenByUser = true
	return c.batchUpdate(ctx, spreadsheetID, "hide column", []batchRequest{req})
}

// ValidationRule restricts one column's data rows to a list of allowed
// values, rendered as a dropdown.
type ValidationRule struct {
	ColumnIndex   int
	StartRow      int // zero-based, inclusive
	EndRow        int // zero-based, exclusive
	AllowedValues []string
	Strict        bool
	ShowDropdown  bool
}

// SetDataValidation installs dropdown rules in one batch
func (c *Client) SetDataValidation(ctx context.Context, spreadsheetID string, sheetID int64, rules []ValidationRule) error {
	requests := make([]batchRequest, 0, len(rules))
	for _, r := range rules {
		rule := &validationRule{Strict: r.Strict, ShowCustomUI: r.ShowDropdown}
		rule.Condition.Type = "ONE_OF_LIST"
		for _, v := range r.AllowedValues {
			rule.Condition.Values = append(rule.Condition.Values, conditionValue{UserEnteredValue: v})
		}

		requests = append(requests, batchRequest{
			SetDataValidation: &setDataValidation{
				Range: gridRange{
					SheetID:          sheetID,
					StartRowIndex:    r.StartRow,
					EndRowIndex:      r.EndRow,
					StartColumnIndex: r.ColumnIndex,
					EndColumnIndex:   r.ColumnIndex + 1,
				},
				Rule: rule,
			},
		})
	}
	return c.batchUpdate(ctx, spreadsheetID, "set data validation", requests)
}
