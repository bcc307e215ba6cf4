package httpapi

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/orchestrik/kernel/internal/contracts"
	"github.com/orchestrik/kernel/internal/orchestrator"
)

func (s *Server) registerRoutes() {
	v1 := s.router.Group("/v1")

	v1.POST("/agents", s.handleRegisterAgent)
	v1.POST("/agents/:agentId/spawn", s.handleSpawn)
	v1.GET("/agents/:agentId/mailbox/dlq", s.handleListDeadLetters)
	v1.POST("/agents/:agentId/mailbox/dlq/:messageId/requeue", s.handleRequeueDeadLetter)

	v1.POST("/route", s.handleRoute)
	v1.POST("/execute", s.handleExecute)
	v1.POST("/route-execute", s.handleRouteExecute)

	v1.GET("/runs/:runId", s.handleRunStatus)
	v1.POST("/runs/:runId/abort", s.handleAbortRun)
	v1.GET("/runs/:runId/stream", s.handleStreamRun)
}

func (s *Server) handleRegisterAgent(c *gin.Context) {
	var req registerAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	profile, err := s.kernel.RegisterAgent(contracts.AgentProfile{
		AgentID:      req.AgentID,
		Role:         req.Role,
		SystemPrompt: req.SystemPrompt,
		Limits:       req.Limits,
		Flags:        req.Flags,
		Capabilities: req.Capabilities,
		Metadata:     req.Metadata,
	})
	if err != nil {
		fail(c, "RegisterAgent", err)
		return
	}
	created(c, profile)
}

func (s *Server) handleSpawn(c *gin.Context) {
	var req spawnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	child, err := s.kernel.Spawn(orchestrator.SpawnCommand{
		ControllerAgentID: c.Param("agentId"),
		ParentRunID:       req.ParentRunID,
		AgentID:           req.AgentID,
		Overrides: contracts.AgentProfile{
			Role:         req.Role,
			SystemPrompt: req.SystemPrompt,
			Limits:       req.Limits,
			Flags:        req.Flags,
			Capabilities: req.Capabilities,
			Metadata:     req.Metadata,
		},
	})
	if err != nil {
		fail(c, "Spawn", err)
		return
	}
	created(c, child)
}

func (s *Server) handleListDeadLetters(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	letters := s.kernel.ListDeadLetters(c.Param("agentId"), limit)
	ok(c, gin.H{"messages": letters})
}

func (s *Server) handleRequeueDeadLetter(c *gin.Context) {
	var req requeueDeadLetterRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	msg, requeued := s.kernel.RequeueDeadLetter(c.Param("agentId"), c.Param("messageId"), req.DelayMs, req.ResetAttempts)
	if !requeued {
		notFound(c, "dead letter not found")
		return
	}
	ok(c, msg)
}

func (s *Server) handleRoute(c *gin.Context) {
	var req routeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	decision, err := s.kernel.Route(toRouterRequest(req))
	if err != nil {
		fail(c, "Route", err)
		return
	}
	ok(c, decision)
}

func (s *Server) handleExecute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	handle, err := s.kernel.Execute(orchestrator.ExecuteCommand{
		AgentID:     req.AgentID,
		ParentRunID: req.ParentRunID,
		Model:       req.Model,
		Input:       req.Input,
		Metadata:    req.Metadata,
	})
	if err != nil {
		fail(c, "Execute", err)
		return
	}
	created(c, handle)
}

func (s *Server) handleRouteExecute(c *gin.Context) {
	var req routeExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	handle, err := s.kernel.RouteAndExecute(toRouterRequest(req.routeRequest), req.Input)
	if err != nil {
		fail(c, "RouteAndExecute", err)
		return
	}
	created(c, handle)
}

func (s *Server) handleRunStatus(c *gin.Context) {
	run, err := s.kernel.Status(c.Param("runId"))
	if err != nil {
		fail(c, "Status", err)
		return
	}
	ok(c, run)
}

func (s *Server) handleAbortRun(c *gin.Context) {
	s.kernel.Abort(c.Param("runId"))
	ok(c, gin.H{"runId": c.Param("runId"), "aborted": true})
}
