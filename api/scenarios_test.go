package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/campus-engine/identity"
	"github.com/warp/campus-engine/ledger"
)

func TestListScenarios(t *testing.T) {
	ts := newTestServer(t)

	var res ListResponse[ScenarioDTO]
	require.Equal(t, http.StatusOK, ts.do("GET", "/api/scenarios", ts.token(identity.RoleStaff, orgA), nil, &res))

	assert.Equal(t, len(scenarios), res.Count)
	for _, s := range res.Items {
		_, ok := loaders[s.ID]
		assert.True(t, ok, "scenario %s has no loader", s.ID)
	}
}

func TestLoadScenario_Campus(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.token(identity.RoleAdmin, orgA)

	// WHEN: The whole campus is seeded
	var res ScenarioResult
	require.Equal(t, http.StatusCreated, ts.do("POST", "/api/scenarios/load", admin, LoadScenarioRequest{ScenarioID: "campus"}, &res))

	// THEN: Every workflow left its mark
	for _, key := range []string{"admission", "invoices", "accounts", "staff", "structure", "payment"} {
		assert.Contains(t, res.Created, key)
	}

	// AND: Balances follow the postings
	var accounts ListResponse[ledger.Account]
	require.Equal(t, http.StatusOK, ts.do("GET", "/api/accounts", admin, nil, &accounts))
	require.Equal(t, 2, accounts.Count)
	balances := map[ledger.AccountType]string{}
	for _, a := range accounts.Items {
		balances[a.Type] = a.Balance.String()
	}
	assert.Equal(t, "5200", balances[ledger.AccountCash])
	assert.Equal(t, "10000", balances[ledger.AccountBank])
}

func TestLoadScenario_Errors(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusNotFound,
		ts.do("POST", "/api/scenarios/load", ts.token(identity.RoleAdmin, orgA), LoadScenarioRequest{ScenarioID: "nope"}, nil))
	assert.Equal(t, http.StatusForbidden,
		ts.do("POST", "/api/scenarios/load", ts.token(identity.RoleStaff, orgA), LoadScenarioRequest{ScenarioID: "ledger"}, nil))

	// Super admins must name the organization
	assert.Equal(t, http.StatusBadRequest,
		ts.do("POST", "/api/scenarios/load", ts.token(identity.RoleSuperAdmin, ""), LoadScenarioRequest{ScenarioID: "ledger"}, nil))
	assert.Equal(t, http.StatusCreated,
		ts.do("POST", "/api/scenarios/load", ts.token(identity.RoleSuperAdmin, ""), LoadScenarioRequest{ScenarioID: "ledger", OrganizationID: orgB}, nil))
}

func TestResetDatabase(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.token(identity.RoleAdmin, orgA)
	super := ts.token(identity.RoleSuperAdmin, "")
	require.Equal(t, http.StatusCreated, ts.do("POST", "/api/scenarios/load", admin, LoadScenarioRequest{ScenarioID: "ledger"}, nil))

	// GIVEN: Only super admins may reset
	assert.Equal(t, http.StatusForbidden, ts.do("POST", "/api/scenarios/reset", admin, nil, nil))

	// WHEN: A super admin resets
	require.Equal(t, http.StatusOK, ts.do("POST", "/api/scenarios/reset", super, nil, nil))

	// THEN: Nothing is left in any organization
	var accounts ListResponse[ledger.Account]
	require.Equal(t, http.StatusOK, ts.do("GET", "/api/accounts", super, nil, &accounts))
	assert.Zero(t, accounts.Count)
}
