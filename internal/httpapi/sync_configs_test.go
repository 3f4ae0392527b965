package httpapi

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/erauner12/tablebridge/internal/store"
)

func validCreateBody() map[string]any {
	return map[string]any{
		"airtableBaseId":  "appBase1",
		"airtableTableId": "tblTasks",
		"spreadsheetId":   "spreadsheet-1",
		"sheetName":       "Tasks",
		"fieldMapping":    map[string]int{"fldName": 0, "fldScore": 1},
		"direction":       "a_to_b",
	}
}

func TestCreateSyncConfig(t *testing.T) {
	env := newTestEnv(t)

	w := env.doRequest(t, "POST", "/v1/sync-configs", validCreateBody())
	if w.Code != 201 {
		t.Fatalf("status = %d, want 201; body: %s", w.Code, w.Body.String())
	}

	var resp syncConfigResponse
	decodeBody(t, w, &resp)
	if resp.ID == uuid.Nil {
		t.Error("response has no id")
	}
	if !resp.Active {
		t.Error("active should default to true")
	}
	if resp.ConflictPolicy != "A_WINS" {
		t.Errorf("conflictPolicy = %s, want default A_WINS", resp.ConflictPolicy)
	}
	if resp.Direction != store.DirectionAToB {
		t.Errorf("direction = %s", resp.Direction)
	}
	if env.usage.created[testUserID] != 1 {
		t.Errorf("configs created counter = %d, want 1", env.usage.created[testUserID])
	}
}

func TestCreateSyncConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(body map[string]any)
		want   string
	}{
		{"missing base", func(b map[string]any) { delete(b, "airtableBaseId") }, "airtableBaseId"},
		{"missing spreadsheet", func(b map[string]any) { delete(b, "spreadsheetId") }, "spreadsheetId"},
		{"missing sheet name", func(b map[string]any) { delete(b, "sheetName") }, "sheetName"},
		{"bad direction", func(b map[string]any) { b["direction"] = "sideways" }, "direction"},
		{"bad policy", func(b map[string]any) { b["conflictPolicy"] = "COIN_FLIP" }, "conflictPolicy"},
		{"empty mapping", func(b map[string]any) { b["fieldMapping"] = map[string]int{} }, "fieldMapping"},
		{"negative column", func(b map[string]any) { b["fieldMapping"] = map[string]int{"fldName": -1} }, "negative"},
		{"duplicate column", func(b map[string]any) {
			b["fieldMapping"] = map[string]int{"fldName": 2, "fldScore": 2}
		}, "both map to column 2"},
		{"reserved column", func(b map[string]any) { b["fieldMapping"] = map[string]int{"fldName": 26} }, "reserved"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			body := validCreateBody()
			tc.mutate(body)

			w := env.doRequest(t, "POST", "/v1/sync-configs", body)
			if w.Code != 400 {
				t.Fatalf("status = %d, want 400; body: %s", w.Code, w.Body.String())
			}
			if !containsText(w.Body.String(), tc.want) {
				t.Errorf("error %q does not mention %q", w.Body.String(), tc.want)
			}
		})
	}
}

func TestCreateSyncConfigPlanLimit(t *testing.T) {
	env := newTestEnv(t)
	// pro allows three configs
	for i := 0; i < 3; i++ {
		env.seedConfig(t, store.DirectionAToB)
	}

	w := env.doRequest(t, "POST", "/v1/sync-configs", validCreateBody())
	if w.Code != 402 {
		t.Fatalf("status = %d, want 402; body: %s", w.Code, w.Body.String())
	}
	if !containsText(w.Body.String(), "plan allows 3") {
		t.Errorf("error should name the limit: %s", w.Body.String())
	}
}

func TestListSyncConfigs(t *testing.T) {
	env := newTestEnv(t)
	env.seedConfig(t, store.DirectionAToB)
	env.seedConfig(t, store.DirectionBidirectional)

	w := env.doRequest(t, "GET", "/v1/sync-configs", nil)
	if w.Code != 200 {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	var resp struct {
		SyncConfigs []syncConfigResponse `json:"syncConfigs"`
	}
	decodeBody(t, w, &resp)
	if len(resp.SyncConfigs) != 2 {
		t.Errorf("listed %d configs, want 2", len(resp.SyncConfigs))
	}
}

func TestListSyncConfigsEmpty(t *testing.T) {
	env := newTestEnv(t)

	w := env.doRequest(t, "GET", "/v1/sync-configs", nil)
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	if !containsText(w.Body.String(), `"syncConfigs":[]`) {
		t.Errorf("empty list should marshal as []: %s", w.Body.String())
	}
}

func TestGetSyncConfig(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.seedConfig(t, store.DirectionAToB)

	w := env.doRequest(t, "GET", "/v1/sync-configs/"+cfg.ID.String(), nil)
	if w.Code != 200 {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	var resp syncConfigResponse
	decodeBody(t, w, &resp)
	if resp.ID != cfg.ID || resp.AirtableBaseID != "appBase1" {
		t.Errorf("wrong config returned: %+v", resp)
	}

	if w := env.doRequest(t, "GET", "/v1/sync-configs/"+uuid.NewString(), nil); w.Code != 404 {
		t.Errorf("unknown id: status = %d, want 404", w.Code)
	}
	if w := env.doRequest(t, "GET", "/v1/sync-configs/not-a-uuid", nil); w.Code != 400 {
		t.Errorf("bad id: status = %d, want 400", w.Code)
	}
}

func TestPatchSyncConfig(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.seedConfig(t, store.DirectionBidirectional)

	w := env.doRequest(t, "PATCH", "/v1/sync-configs/"+cfg.ID.String(), map[string]any{
		"conflictPolicy": "B_WINS",
		"active":         false,
	})
	if w.Code != 200 {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	var resp syncConfigResponse
	decodeBody(t, w, &resp)
	if resp.ConflictPolicy != "B_WINS" || resp.Active {
		t.Errorf("patch not applied: %+v", resp)
	}
	// untouched fields survive
	if resp.SheetName != "Tasks" || len(resp.FieldMapping) != 2 {
		t.Errorf("patch clobbered unrelated fields: %+v", resp)
	}
	if len(env.chkpts.deleted) != 0 {
		t.Error("checkpoint dropped without a mapping change")
	}
}

func TestPatchSyncConfigDirectionImmutable(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.seedConfig(t, store.DirectionAToB)

	w := env.doRequest(t, "PATCH", "/v1/sync-configs/"+cfg.ID.String(), map[string]any{
		"direction": "b_to_a",
	})
	if w.Code != 400 {
		t.Fatalf("status = %d, want 400; body: %s", w.Code, w.Body.String())
	}
	if !containsText(w.Body.String(), "immutable") {
		t.Errorf("error should say the direction is immutable: %s", w.Body.String())
	}

	// sending the current direction is a no-op, not an error
	w = env.doRequest(t, "PATCH", "/v1/sync-configs/"+cfg.ID.String(), map[string]any{
		"direction": "a_to_b",
		"active":    false,
	})
	if w.Code != 200 {
		t.Fatalf("same-direction patch: status = %d; body: %s", w.Code, w.Body.String())
	}
}

func TestPatchSyncConfigMappingChangeDropsCheckpoint(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.seedConfig(t, store.DirectionBidirectional)

	w := env.doRequest(t, "PATCH", "/v1/sync-configs/"+cfg.ID.String(), map[string]any{
		"fieldMapping": map[string]int{"fldName": 0, "fldScore": 1, "fldDue": 2},
	})
	if w.Code != 200 {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	if len(env.chkpts.deleted) != 1 || env.chkpts.deleted[0] != cfg.ID {
		t.Errorf("checkpoint not dropped after mapping change: %v", env.chkpts.deleted)
	}

	// resending the identical mapping must not drop it again
	w = env.doRequest(t, "PATCH", "/v1/sync-configs/"+cfg.ID.String(), map[string]any{
		"fieldMapping": map[string]int{"fldName": 0, "fldScore": 1, "fldDue": 2},
	})
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	if len(env.chkpts.deleted) != 1 {
		t.Errorf("identical mapping dropped the checkpoint: %v", env.chkpts.deleted)
	}
}

func TestPatchSyncConfigValidation(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.seedConfig(t, store.DirectionAToB)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"bad policy", map[string]any{"conflictPolicy": "COIN_FLIP"}},
		{"empty sheet name", map[string]any{"sheetName": ""}},
		{"reserved column", map[string]any{"fieldMapping": map[string]int{"fldName": 26}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := env.doRequest(t, "PATCH", "/v1/sync-configs/"+cfg.ID.String(), tc.body)
			if w.Code != 400 {
				t.Errorf("status = %d, want 400; body: %s", w.Code, w.Body.String())
			}
		})
	}

	if w := env.doRequest(t, "PATCH", "/v1/sync-configs/"+uuid.NewString(), map[string]any{"active": false}); w.Code != 404 {
		t.Errorf("unknown id: status = %d, want 404", w.Code)
	}
}

func TestDeleteSyncConfig(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.seedConfig(t, store.DirectionAToB)

	w := env.doRequest(t, "DELETE", "/v1/sync-configs/"+cfg.ID.String(), nil)
	if w.Code != 204 {
		t.Fatalf("status = %d, want 204; body: %s", w.Code, w.Body.String())
	}
	if got, _ := env.configs.Get(context.Background(), testUserID, cfg.ID); got != nil {
		t.Error("config still present after delete")
	}

	if w := env.doRequest(t, "DELETE", "/v1/sync-configs/"+cfg.ID.String(), nil); w.Code != 404 {
		t.Errorf("second delete: status = %d, want 404", w.Code)
	}
}

func TestSyncConfigsRequireAuth(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("GET", "/v1/sync-configs", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != 401 {
		t.Errorf("status = %d, want 401 without credentials", w.Code)
	}
}
