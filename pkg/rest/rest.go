// Package rest exposes the tenant-facing HTTP surface: scaling group and
// policy CRUD, group state control, tenant limits, lock inspection, health,
// and metrics.
package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dian4554/otter/pkg/controller"
	"github.com/dian4554/otter/pkg/groups"
	"github.com/dian4554/otter/pkg/raft"
	"github.com/dian4554/otter/pkg/types"
)

type Server struct {
	store     groups.Store
	ctrl      *controller.Controller
	node      *raft.Node
	maxGroups int
	log       hclog.Logger
}

func NewServer(store groups.Store, ctrl *controller.Controller, node *raft.Node, maxGroups int, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.Default()
	}
	return &Server{
		store:     store,
		ctrl:      ctrl,
		node:      node,
		maxGroups: maxGroups,
		log:       logger.Named("rest"),
	}
}

// Router builds the gin engine with every route mounted.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1.0")
	{
		v1.GET("/locks/*lockId", s.getLock)
		v1.POST("/execute/:capabilityVersion/:capabilityHash", s.executeCapability)
		v1.GET("/:tenantId/limits", s.limits)

		g := v1.Group("/:tenantId/groups")
		{
			g.GET("", s.listGroups)
			g.POST("", s.createGroup)
			g.GET("/:groupId", s.getGroup)
			g.DELETE("/:groupId", s.deleteGroup)
			g.GET("/:groupId/config", s.getConfig)
			g.PUT("/:groupId/config", s.putConfig)
			g.GET("/:groupId/launch", s.getLaunch)
			g.PUT("/:groupId/launch", s.putLaunch)
			g.GET("/:groupId/state", s.getState)
			g.POST("/:groupId/pause", s.pause)
			g.POST("/:groupId/resume", s.resume)

			g.GET("/:groupId/policies", s.listPolicies)
			g.POST("/:groupId/policies", s.createPolicies)
			g.GET("/:groupId/policies/:policyId", s.getPolicy)
			g.PUT("/:groupId/policies/:policyId", s.putPolicy)
			g.DELETE("/:groupId/policies/:policyId", s.deletePolicy)
			g.POST("/:groupId/policies/:policyId/execute", s.executePolicy)
		}
	}

	return r
}

type errorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

func fail(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	kind := "InternalError"

	switch {
	case errors.Is(err, groups.ErrNoSuchGroup):
		code, kind = http.StatusNotFound, "NoSuchScalingGroupError"
	case errors.Is(err, groups.ErrNoSuchPolicy):
		code, kind = http.StatusNotFound, "NoSuchPolicyError"
	case errors.Is(err, types.ErrLockNotFound):
		code, kind = http.StatusNotFound, "NoSuchLockError"
	case errors.Is(err, groups.ErrInvalidConfig):
		code, kind = http.StatusBadRequest, "InvalidJsonError"
	case errors.Is(err, groups.ErrGroupLimitReached):
		code, kind = http.StatusUnprocessableEntity, "GroupLimitError"
	case errors.Is(err, groups.ErrGroupNotEmpty):
		code, kind = http.StatusForbidden, "GroupNotEmptyError"
	case errors.Is(err, controller.ErrCannotExecutePolicy):
		code, kind = http.StatusForbidden, "CannotExecutePolicyError"
	}

	c.JSON(code, gin.H{"error": errorBody{Code: code, Type: kind, Message: err.Error()}})
}

func (s *Server) health(c *gin.Context) {
	c.Header("X-Response-Id", "health_check")
	healthy := true
	if s.node != nil {
		healthy = s.node.GetLeader() != ""
	}
	c.JSON(http.StatusOK, gin.H{"healthy": healthy})
}

func (s *Server) limits(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"limits": gin.H{
			"absolute": gin.H{
				"maxGroups": s.maxGroups,
			},
		},
	})
}

func (s *Server) getLock(c *gin.Context) {
	lockID := c.Param("lockId")
	if len(lockID) > 0 && lockID[0] == '/' {
		lockID = lockID[1:]
	}
	if s.node == nil {
		fail(c, types.ErrLockNotFound)
		return
	}
	view, err := s.node.LockView(lockID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type createGroupRequest struct {
	GroupConfiguration  groups.GroupConfig  `json:"groupConfiguration"`
	LaunchConfiguration groups.LaunchConfig `json:"launchConfiguration"`
	ScalingPolicies     []*groups.Policy    `json:"scalingPolicies"`
}

func (s *Server) createGroup(c *gin.Context) {
	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, groups.ErrInvalidConfig)
		return
	}

	g, err := s.store.CreateGroup(c.Request.Context(), c.Param("tenantId"),
		req.GroupConfiguration, req.LaunchConfiguration, req.ScalingPolicies)
	if err != nil {
		fail(c, err)
		return
	}

	// bring the group to its minimum size straight away
	if g.Config.MinEntities > 0 && s.ctrl != nil {
		if err := s.ctrl.Converge(c.Request.Context(), g.TenantID, g.ID); err != nil {
			s.log.Warn("initial converge failed", "group_id", g.ID, "error", err)
		}
	}

	c.JSON(http.StatusCreated, g)
}

func (s *Server) listGroups(c *gin.Context) {
	out, err := s.store.ListGroups(c.Request.Context(), c.Param("tenantId"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": out})
}

func (s *Server) getGroup(c *gin.Context) {
	m, err := s.store.ViewManifest(c.Request.Context(), c.Param("tenantId"), c.Param("groupId"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) deleteGroup(c *gin.Context) {
	if err := s.store.DeleteGroup(c.Request.Context(), c.Param("tenantId"), c.Param("groupId")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getConfig(c *gin.Context) {
	g, err := s.store.GetGroup(c.Request.Context(), c.Param("tenantId"), c.Param("groupId"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groupConfiguration": g.Config})
}

func (s *Server) putConfig(c *gin.Context) {
	var cfg groups.GroupConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		fail(c, groups.ErrInvalidConfig)
		return
	}
	if err := s.store.UpdateConfig(c.Request.Context(), c.Param("tenantId"), c.Param("groupId"), cfg); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getLaunch(c *gin.Context) {
	g, err := s.store.GetGroup(c.Request.Context(), c.Param("tenantId"), c.Param("groupId"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"launchConfiguration": g.Launch})
}

func (s *Server) putLaunch(c *gin.Context) {
	var launch groups.LaunchConfig
	if err := c.ShouldBindJSON(&launch); err != nil {
		fail(c, groups.ErrInvalidConfig)
		return
	}
	if err := s.store.UpdateLaunchConfig(c.Request.Context(), c.Param("tenantId"), c.Param("groupId"), launch); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getState(c *gin.Context) {
	st, err := s.store.ViewState(c.Request.Context(), c.Param("tenantId"), c.Param("groupId"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": st})
}

func (s *Server) pause(c *gin.Context) {
	s.setPaused(c, true)
}

func (s *Server) resume(c *gin.Context) {
	s.setPaused(c, false)
}

func (s *Server) setPaused(c *gin.Context, paused bool) {
	err := s.store.ModifyState(c.Request.Context(), c.Param("tenantId"), c.Param("groupId"),
		func(st *groups.GroupState) error {
			st.Paused = paused
			return nil
		})
	if err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listPolicies(c *gin.Context) {
	out, err := s.store.ListPolicies(c.Request.Context(), c.Param("tenantId"), c.Param("groupId"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"policies": out})
}

func (s *Server) createPolicies(c *gin.Context) {
	var policies []*groups.Policy
	if err := c.ShouldBindJSON(&policies); err != nil {
		fail(c, groups.ErrInvalidConfig)
		return
	}
	out, err := s.store.CreatePolicies(c.Request.Context(), c.Param("tenantId"), c.Param("groupId"), policies)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"policies": out})
}

func (s *Server) getPolicy(c *gin.Context) {
	p, err := s.store.GetPolicy(c.Request.Context(), c.Param("tenantId"), c.Param("groupId"), c.Param("policyId"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"policy": p})
}

func (s *Server) putPolicy(c *gin.Context) {
	var p groups.Policy
	if err := c.ShouldBindJSON(&p); err != nil {
		fail(c, groups.ErrInvalidConfig)
		return
	}
	p.ID = c.Param("policyId")
	if err := s.store.UpdatePolicy(c.Request.Context(), c.Param("tenantId"), c.Param("groupId"), &p); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) deletePolicy(c *gin.Context) {
	if err := s.store.DeletePolicy(c.Request.Context(), c.Param("tenantId"), c.Param("groupId"), c.Param("policyId")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// anonymous policy execution through a capability URL. the response is 202
// whether or not anything fired, so capability hashes cannot be probed
func (s *Server) executeCapability(c *gin.Context) {
	tenantID, groupID, p, err := s.store.FindByCapability(c.Request.Context(),
		c.Param("capabilityVersion"), c.Param("capabilityHash"))
	if err == nil {
		err = s.ctrl.ExecutePolicy(c.Request.Context(), tenantID, groupID, p.ID, 0)
	}
	if err != nil {
		s.log.Info("capability execution did not fire", "error", err)
	}
	c.JSON(http.StatusAccepted, gin.H{})
}

func (s *Server) executePolicy(c *gin.Context) {
	err := s.ctrl.ExecutePolicy(c.Request.Context(),
		c.Param("tenantId"), c.Param("groupId"), c.Param("policyId"), 0)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{})
}
