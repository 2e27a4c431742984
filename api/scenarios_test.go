/*
scenarios_test.go - Tests for demo scenarios

PURPOSE:
	Loads every scenario through the API and checks the position at its
	query date matches the documented expectation. These double as
	end-to-end tests of ingestion, storage and resolution.
*/
package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_ProduceExpectedPosition(t *testing.T) {
	for _, s := range scenarios {
		t.Run(s.ID, func(t *testing.T) {
			// GIVEN: The scenario loaded through the API
			_, srv := newTestServer(t)
			rec := do(t, srv, http.MethodPost, "/api/scenarios/load", `{"scenario_id":"`+s.ID+`"}`)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			// WHEN: Querying at the scenario's date
			resp := position(t, srv, "date="+s.QueryDate)

			// THEN: The documented position comes back
			want := decimal.RequireFromString(s.Expected).InexactFloat64()
			assert.Equal(t, want, resp.TaxPosition)
		})
	}
}

func TestLoadScenario_ReplacesPreviousData(t *testing.T) {
	_, srv := newTestServer(t)

	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/scenarios/load", `{"scenario_id":"payment-only"}`).Code)
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/scenarios/load", `{"scenario_id":"fully-paid"}`).Code)

	assert.Equal(t, 0.0, position(t, srv, "date=2024-02-22T17:29:39Z").TaxPosition)
}

func TestLoadScenario_Unknown(t *testing.T) {
	_, srv := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/api/scenarios/load", `{"scenario_id":"nope"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/api/scenarios/load", `{}`).Code)
}

func TestListAndCurrentScenario(t *testing.T) {
	_, srv := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/scenarios/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []ScenarioDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Len(t, list, len(scenarios))

	rec = do(t, srv, http.MethodGet, "/api/scenarios/current", "")
	assert.Equal(t, "null\n", rec.Body.String())

	do(t, srv, http.MethodPost, "/api/scenarios/load", `{"scenario_id":"backdated-amendment"}`)
	rec = do(t, srv, http.MethodGet, "/api/scenarios/current", "")
	var current ScenarioDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&current))
	assert.Equal(t, "backdated-amendment", current.ID)

	rec = do(t, srv, http.MethodPost, "/api/scenarios/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, srv, http.MethodGet, "/api/scenarios/current", "")
	assert.Equal(t, "null\n", rec.Body.String())
	assert.Equal(t, 0.0, position(t, srv, "date=2024-02-22T11:00:00Z").TaxPosition)
}
