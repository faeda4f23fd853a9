package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/govcore/internal/agent"
	"github.com/fyrsmithlabs/govcore/internal/deployment"
	"github.com/fyrsmithlabs/govcore/internal/governance"
	"github.com/fyrsmithlabs/govcore/internal/versionctl"
)

// maxObservations bounds one POST /observations batch.
const maxObservations = 10000

func (s *Server) handleHealth(c echo.Context) error {
	h := s.core.Health()
	resp := HealthResponse{Status: "ok", Health: h}
	if s.tel != nil {
		th := s.tel.Health()
		resp.Telemetry = &th
	}
	if !h.Healthy() {
		resp.Status = "degraded"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.core.Status())
}

func (s *Server) handleHistory(c echo.Context) error {
	return c.JSON(http.StatusOK, s.core.PhaseHistory())
}

func (s *Server) handleAudit(c echo.Context) error {
	since, err := uintParam(c, "since", 0)
	if err != nil {
		return err
	}
	decisions, evicted := s.core.Audit(since)
	return c.JSON(http.StatusOK, AuditResponse{Decisions: decisions, Evicted: evicted})
}

func (s *Server) handleAuthorizations(c echo.Context) error {
	n, err := intParam(c, "n", 50)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.core.Authorizations(n))
}

func (s *Server) handleTransparency(c echo.Context) error {
	return c.JSON(http.StatusOK, s.core.Transparency())
}

func (s *Server) handleChecklist(c echo.Context) error {
	return c.JSON(http.StatusOK, s.core.Checklist())
}

func (s *Server) handlePreview(c echo.Context) error {
	n, err := intParam(c, "n", 20)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.core.Preview(n))
}

func (s *Server) handleDrift(c echo.Context) error {
	return c.JSON(http.StatusOK, s.core.Drift())
}

func (s *Server) handleIncidents(c echo.Context) error {
	var sev governance.Severity
	if v := c.QueryParam("severity"); v != "" {
		if err := sev.UnmarshalText([]byte(v)); err != nil {
			return badRequest(err.Error())
		}
	}
	return c.JSON(http.StatusOK, s.core.Incidents(sev))
}

func (s *Server) handleResolveIncident(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return badRequest("incident id must be a number")
	}
	if err := s.core.ResolveIncident(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleApprovals(c echo.Context) error {
	state := governance.ApprovalState(c.QueryParam("state"))
	switch state {
	case "", governance.ApprovalPending, governance.ApprovalApproved,
		governance.ApprovalRejected, governance.ApprovalExpired:
	default:
		return badRequest("unknown approval state " + strconv.Quote(string(state)))
	}
	return c.JSON(http.StatusOK, s.core.Approvals(state))
}

func (s *Server) handleApproval(c echo.Context) error {
	a, err := s.core.Approval(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (s *Server) handleApprove(c echo.Context) error {
	var req NoteRequest
	if err := bindOptional(c, &req); err != nil {
		return err
	}
	a, err := s.core.Approve(c.Request().Context(), c.Param("id"), req.Note)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (s *Server) handleReject(c echo.Context) error {
	var req NoteRequest
	if err := bindOptional(c, &req); err != nil {
		return err
	}
	a, err := s.core.Reject(c.Request().Context(), c.Param("id"), req.Note)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (s *Server) handleSetPhase(c echo.Context) error {
	var req PhaseRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	to, err := deployment.ParsePhase(req.Phase)
	if err != nil {
		return err
	}
	if req.Reason == "" {
		req.Reason = "operator request"
	}
	t, err := s.core.SetPhase(c.Request().Context(), to, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, TransitionResponse{Transition: t})
}

func (s *Server) handleAutoTransitions(c echo.Context) error {
	var req AutoRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	s.core.SetAutoTransitions(c.Request().Context(), req.Advance, req.Rollback)
	return c.JSON(http.StatusOK, s.core.Status().Phase)
}

func (s *Server) handleQueryMode(c echo.Context) error {
	var req QueryModeRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	s.core.SetQueryMode(c.Request().Context(), req.Enabled)
	return c.JSON(http.StatusOK, QueryModeRequest{Enabled: s.core.QueryMode()})
}

func (s *Server) handleCycle(c echo.Context) error {
	var req CycleRequest
	if err := bindOptional(c, &req); err != nil {
		return err
	}
	rec, err := s.core.Tick(c.Request().Context(), req.Metrics)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) handleRecommendation(c echo.Context) error {
	var req RecommendationRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	rec := agent.Recommendation{
		Agent:       req.Agent,
		Action:      req.Action,
		Confidence:  req.Confidence,
		Timestamp:   time.Now(),
		Explanation: req.Explanation,
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := s.core.PostRecommendation(c.Request().Context(), rec); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleObservations(c echo.Context) error {
	var req ObservationRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if len(req.Outcomes) == 0 {
		return badRequest("outcomes must not be empty")
	}
	if len(req.Outcomes) > maxObservations {
		return badRequest("too many outcomes in one batch")
	}
	ctx := c.Request().Context()
	resp := ObservationResponse{}
	for _, ok := range req.Outcomes {
		resp.Drift = s.core.Observe(ctx, ok)
		resp.Applied++
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRetrain(c echo.Context) error {
	return c.JSON(http.StatusOK, RetrainResponse{Issued: s.core.RetryRetrain(c.Request().Context())})
}

func (s *Server) handleVersions(c echo.Context) error {
	return c.JSON(http.StatusOK, s.core.Versions())
}

func (s *Server) handleVersionHistory(c echo.Context) error {
	return c.JSON(http.StatusOK, s.core.VersionHistory())
}

func (s *Server) handleVersion(c echo.Context) error {
	id, err := versionParam(c.Param("id"))
	if err != nil {
		return err
	}
	v, err := s.core.Version(id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (s *Server) handleDiff(c echo.Context) error {
	a, err := versionParam(c.QueryParam("a"))
	if err != nil {
		return err
	}
	b, err := versionParam(c.QueryParam("b"))
	if err != nil {
		return err
	}
	d, err := s.core.DiffVersions(a, b)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) handleCommit(c echo.Context) error {
	var req CommitRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	v, err := s.core.CommitVersion(c.Request().Context(), req.Artifact, req.Metadata)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, v)
}

func (s *Server) handleTag(c echo.Context) error {
	var req TagRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := s.core.TagVersion(c.Request().Context(), req.ID, req.Label); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleUntag(c echo.Context) error {
	if err := s.core.UntagVersion(c.Request().Context(), c.Param("label")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRollback(c echo.Context) error {
	var req RollbackRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	v, err := s.core.RollbackVersion(c.Request().Context(), req.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (s *Server) handleGC(c echo.Context) error {
	var req GCRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	var (
		res versionctl.GCResult
		err error
	)
	if req.Before > 0 {
		res, err = s.core.GCBefore(ctx, req.Before)
	} else {
		if req.KeepLast <= 0 {
			return badRequest("keep_last must be positive")
		}
		res, err = s.core.GC(ctx, req.KeepLast)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// bindOptional binds a body when one was sent.
func bindOptional(c echo.Context, out any) error {
	if c.Request().ContentLength == 0 {
		return nil
	}
	return c.Bind(out)
}

func intParam(c echo.Context, name string, def int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, badRequest(name + " must be a non-negative integer")
	}
	return n, nil
}

func uintParam(c echo.Context, name string, def uint64) (uint64, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, badRequest(name + " must be a non-negative integer")
	}
	return n, nil
}

func versionParam(v string) (versionctl.ID, error) {
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil || n == 0 {
		return 0, badRequest("version id must be a positive integer")
	}
	return versionctl.ID(n), nil
}
