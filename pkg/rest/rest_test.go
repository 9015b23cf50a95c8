package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dian4554/otter/pkg/controller"
	"github.com/dian4554/otter/pkg/groups"
	"github.com/dian4554/otter/pkg/supervisor"
)

type restRig struct {
	store  *groups.MemoryStore
	sup    *supervisor.Supervisor
	router *gin.Engine
}

func newRestRig(t *testing.T) *restRig {
	t.Helper()
	logger := hclog.NewNullLogger()
	store := groups.NewMemoryStore(groups.NewLocalLocker(), 4, 100, logger)
	sup := supervisor.New(supervisor.NewStubProvider(), 10, logger)
	ctrl := controller.New(store, sup, logger)
	srv := NewServer(store, ctrl, nil, 100, logger)
	return &restRig{store: store, sup: sup, router: srv.Router()}
}

func (r *restRig) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.router.ServeHTTP(w, req)
	return w
}

func groupManifest(minEntities int) map[string]any {
	return map[string]any{
		"groupConfiguration": map[string]any{
			"name":        "workers",
			"cooldown":    0,
			"minEntities": minEntities,
		},
		"launchConfiguration": map[string]any{
			"type": "launch_server",
			"args": map[string]any{
				"server": map[string]any{"name": "worker", "flavorRef": "performance1-2"},
			},
		},
	}
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func TestHealth(t *testing.T) {
	r := newRestRig(t)
	w := r.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestLimits(t *testing.T) {
	r := newRestRig(t)
	w := r.do(t, http.MethodGet, "/v1.0/tenant-1/limits", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Limits struct {
			Absolute struct {
				MaxGroups int `json:"maxGroups"`
			} `json:"absolute"`
		} `json:"limits"`
	}
	decodeBody(t, w, &body)
	assert.Equal(t, 100, body.Limits.Absolute.MaxGroups)
}

func TestGroupLifecycle(t *testing.T) {
	r := newRestRig(t)

	w := r.do(t, http.MethodPost, "/v1.0/tenant-1/groups", groupManifest(0))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created groups.Group
	decodeBody(t, w, &created)
	require.NotEmpty(t, created.ID)

	w = r.do(t, http.MethodGet, "/v1.0/tenant-1/groups", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), created.ID)

	w = r.do(t, http.MethodGet, "/v1.0/tenant-1/groups/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "launchConfiguration")

	w = r.do(t, http.MethodDelete, "/v1.0/tenant-1/groups/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = r.do(t, http.MethodGet, "/v1.0/tenant-1/groups/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NoSuchScalingGroupError")
}

func TestCreateGroupValidationError(t *testing.T) {
	r := newRestRig(t)

	manifest := groupManifest(0)
	manifest["groupConfiguration"].(map[string]any)["name"] = ""
	w := r.do(t, http.MethodPost, "/v1.0/tenant-1/groups", manifest)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "InvalidJsonError")
}

// TestCreateGroupConverges verifies a group with minEntities launches
// servers immediately
func TestCreateGroupConverges(t *testing.T) {
	r := newRestRig(t)

	w := r.do(t, http.MethodPost, "/v1.0/tenant-1/groups", groupManifest(2))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created groups.Group
	decodeBody(t, w, &created)

	require.Eventually(t, func() bool {
		w := r.do(t, http.MethodGet, "/v1.0/tenant-1/groups/"+created.ID+"/state", nil)
		if w.Code != http.StatusOK {
			return false
		}
		var body struct {
			Group groups.GroupState `json:"group"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			return false
		}
		return len(body.Group.Active) == 2 && len(body.Group.Pending) == 0
	}, 5*time.Second, 20*time.Millisecond)
	r.sup.Stop()
}

func TestConfigRoundTrip(t *testing.T) {
	r := newRestRig(t)

	w := r.do(t, http.MethodPost, "/v1.0/tenant-1/groups", groupManifest(0))
	require.Equal(t, http.StatusCreated, w.Code)
	var created groups.Group
	decodeBody(t, w, &created)

	w = r.do(t, http.MethodPut, "/v1.0/tenant-1/groups/"+created.ID+"/config", map[string]any{
		"name":        "renamed",
		"cooldown":    60,
		"minEntities": 0,
	})
	assert.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = r.do(t, http.MethodGet, "/v1.0/tenant-1/groups/"+created.ID+"/config", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "renamed")
}

func TestPolicyEndpoints(t *testing.T) {
	r := newRestRig(t)

	w := r.do(t, http.MethodPost, "/v1.0/tenant-1/groups", groupManifest(0))
	require.Equal(t, http.StatusCreated, w.Code)
	var created groups.Group
	decodeBody(t, w, &created)
	base := "/v1.0/tenant-1/groups/" + created.ID + "/policies"

	w = r.do(t, http.MethodPost, base, []map[string]any{
		{"name": "scale up", "change": 2, "cooldown": 0},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var createdPolicies struct {
		Policies []*groups.Policy `json:"policies"`
	}
	decodeBody(t, w, &createdPolicies)
	require.Len(t, createdPolicies.Policies, 1)
	policyID := createdPolicies.Policies[0].ID

	w = r.do(t, http.MethodGet, base+"/"+policyID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// execute scales the group up
	w = r.do(t, http.MethodPost, base+"/"+policyID+"/execute", nil)
	assert.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	// immediate re-execute produces no change and is refused
	w = r.do(t, http.MethodPost, base+"/"+policyID+"/execute", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "CannotExecutePolicyError")

	w = r.do(t, http.MethodDelete, base+"/"+policyID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = r.do(t, http.MethodGet, base+"/"+policyID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NoSuchPolicyError")
	r.sup.Stop()
}

// TestCapabilityExecute exercises anonymous execution through a capability
// URL: a valid hash fires the policy, a bogus one gets the same 202 so the
// hash space cannot be probed
func TestCapabilityExecute(t *testing.T) {
	r := newRestRig(t)

	w := r.do(t, http.MethodPost, "/v1.0/tenant-1/groups", groupManifest(0))
	require.Equal(t, http.StatusCreated, w.Code)
	var created groups.Group
	decodeBody(t, w, &created)

	w = r.do(t, http.MethodPost, "/v1.0/tenant-1/groups/"+created.ID+"/policies", []map[string]any{
		{"name": "scale up", "change": 1, "cooldown": 0},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var createdPolicies struct {
		Policies []*groups.Policy `json:"policies"`
	}
	decodeBody(t, w, &createdPolicies)
	require.Len(t, createdPolicies.Policies, 1)
	token := createdPolicies.Policies[0].Capability
	require.NotNil(t, token)

	w = r.do(t, http.MethodPost, "/v1.0/execute/"+token.Version+"/"+token.Hash, nil)
	assert.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	require.Eventually(t, func() bool {
		g, err := r.store.GetGroup(context.Background(), "tenant-1", created.ID)
		return err == nil && g.State.Desired == 1
	}, 5*time.Second, 20*time.Millisecond)

	// unknown hash answers 202 as well, and changes nothing
	w = r.do(t, http.MethodPost, "/v1.0/execute/1/ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	g, err := r.store.GetGroup(context.Background(), "tenant-1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, g.State.Desired)
	r.sup.Stop()
}

func TestPauseBlocksExecution(t *testing.T) {
	r := newRestRig(t)

	w := r.do(t, http.MethodPost, "/v1.0/tenant-1/groups", groupManifest(0))
	require.Equal(t, http.StatusCreated, w.Code)
	var created groups.Group
	decodeBody(t, w, &created)
	base := "/v1.0/tenant-1/groups/" + created.ID

	w = r.do(t, http.MethodPost, base+"/policies", []map[string]any{
		{"name": "scale up", "change": 1},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var createdPolicies struct {
		Policies []*groups.Policy `json:"policies"`
	}
	decodeBody(t, w, &createdPolicies)
	policyID := createdPolicies.Policies[0].ID

	w = r.do(t, http.MethodPost, base+"/pause", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = r.do(t, http.MethodPost, base+"/policies/"+policyID+"/execute", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = r.do(t, http.MethodPost, base+"/resume", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = r.do(t, http.MethodPost, base+"/policies/"+policyID+"/execute", nil)
	assert.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	r.sup.Stop()
}

func TestDeleteNonEmptyGroup(t *testing.T) {
	r := newRestRig(t)

	w := r.do(t, http.MethodPost, "/v1.0/tenant-1/groups", groupManifest(1))
	require.Equal(t, http.StatusCreated, w.Code)
	var created groups.Group
	decodeBody(t, w, &created)

	require.Eventually(t, func() bool {
		st, err := r.store.ViewState(context.Background(), "tenant-1", created.ID)
		return err == nil && len(st.Active) == 1
	}, 5*time.Second, 20*time.Millisecond)

	w = r.do(t, http.MethodDelete, "/v1.0/tenant-1/groups/"+created.ID, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "GroupNotEmptyError")
	r.sup.Stop()
}

func TestGroupLimitError(t *testing.T) {
	logger := hclog.NewNullLogger()
	store := groups.NewMemoryStore(groups.NewLocalLocker(), 1, 1, logger)
	sup := supervisor.New(supervisor.NewStubProvider(), 10, logger)
	srv := NewServer(store, controller.New(store, sup, logger), nil, 1, logger)
	r := &restRig{store: store, sup: sup, router: srv.Router()}

	w := r.do(t, http.MethodPost, "/v1.0/tenant-1/groups", groupManifest(0))
	require.Equal(t, http.StatusCreated, w.Code)

	w = r.do(t, http.MethodPost, "/v1.0/tenant-1/groups", groupManifest(0))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "GroupLimitError")
}

func TestGetLockWithoutNode(t *testing.T) {
	r := newRestRig(t)
	w := r.do(t, http.MethodGet, "/v1.0/locks/jobs/nightly", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NoSuchLockError")
}

func TestUnknownGroupRoutes(t *testing.T) {
	r := newRestRig(t)
	for _, path := range []string{
		"/v1.0/tenant-1/groups/nope",
		"/v1.0/tenant-1/groups/nope/state",
		"/v1.0/tenant-1/groups/nope/policies",
	} {
		w := r.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, fmt.Sprintf("GET %s", path))
	}
}
