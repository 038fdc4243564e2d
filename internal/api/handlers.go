package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/jinzhu/copier"
	"go.uber.org/multierr"

	"github.com/Autumn-27/ScopeSentry-sub000/internal/apperr"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/dedup"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/dispatch"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/timeutil"
	"github.com/Autumn-27/ScopeSentry-sub000/pkg/types"
)

// NodeView is a node as listed by the API.
type NodeView struct {
	Name       string `json:"name"`
	State      string `json:"state"`
	Status     string `json:"status"`
	Version    string `json:"version"`
	MaxTaskNum int    `json:"maxTaskNum"`
	UpdateTime string `json:"updateTime"`
	Running    int64  `json:"running"`
	Finished   int64  `json:"finished"`
	CPUNum     string `json:"cpuNum"`
	MemNum     string `json:"memNum"`
}

type nodeStateRequest struct {
	Name  string `json:"name"`
	State bool   `json:"state"`
}

type nodeNamesRequest struct {
	Names []string `json:"names"`
}

type nodeNameRequest struct {
	Name string `json:"name"`
}

type nodeCommandRequest struct {
	Name    string            `json:"name"`
	Type    types.CommandType `json:"type"`
	Content string            `json:"content"`
}

type jobRequest struct {
	ID       types.JobID   `json:"id"`
	Kind     types.JobKind `json:"kind"`
	RunnerID types.RunID   `json:"runnerId"`
	Targets  []string      `json:"targets"`
}

type entryRequest struct {
	ID types.JobID `json:"id"`
}

type dedupRequest struct {
	Collections []string `json:"collections"`
}

func (s *Server) nodeViews(nodes []types.Node) ([]NodeView, error) {
	views := make([]NodeView, len(nodes))
	if err := copier.Copy(&views, &nodes); err != nil {
		return nil, err
	}
	for i, n := range nodes {
		views[i].State = n.State.Code()
		views[i].Status = string(n.State)
		if !n.LastHeartbeat.IsZero() {
			views[i].UpdateTime = timeutil.Format(n.LastHeartbeat, s.loc)
		}
	}
	return views, nil
}

func (s *Server) nodeData(c *fiber.Ctx) error {
	nodes, err := s.deps.Nodes.List(c.UserContext())
	if err != nil {
		return Fail(c, err)
	}
	views, err := s.nodeViews(nodes)
	if err != nil {
		return Fail(c, err)
	}
	return Success(c, fiber.Map{"list": views})
}

func (s *Server) nodeOnline(c *fiber.Ctx) error {
	names, err := s.deps.Nodes.ListOnline(c.UserContext())
	if err != nil {
		return Fail(c, err)
	}
	if names == nil {
		names = []string{}
	}
	return Success(c, fiber.Map{"list": names})
}

func (s *Server) nodeState(c *fiber.Ctx) error {
	var req nodeStateRequest
	if err := c.BodyParser(&req); err != nil || req.Name == "" {
		return BadRequest(c, "")
	}
	if err := s.deps.Nodes.SetState(c.UserContext(), req.Name, req.State); err != nil {
		return Fail(c, err)
	}
	return Success(c, nil)
}

func (s *Server) nodeDelete(c *fiber.Ctx) error {
	var req nodeNamesRequest
	if err := c.BodyParser(&req); err != nil || len(req.Names) == 0 {
		return BadRequest(c, "")
	}
	var errs error
	for _, name := range req.Names {
		errs = multierr.Append(errs, s.deps.Nodes.Remove(c.UserContext(), name))
	}
	if errs != nil {
		return Fail(c, errs)
	}
	return Success(c, nil)
}

func (s *Server) nodeRestart(c *fiber.Ctx) error {
	var req nodeNameRequest
	if err := c.BodyParser(&req); err != nil || req.Name == "" {
		return BadRequest(c, "")
	}
	if err := s.deps.Commands.Send(c.UserContext(), req.Name, types.CommandRestart, ""); err != nil {
		return Fail(c, err)
	}
	return Success(c, nil)
}

func (s *Server) nodeLog(c *fiber.Ctx) error {
	var req nodeNameRequest
	if err := c.BodyParser(&req); err != nil || req.Name == "" {
		return BadRequest(c, "")
	}
	logs, err := s.deps.Logs.Read(c.UserContext(), req.Name)
	if err != nil {
		return Fail(c, err)
	}
	return Success(c, fiber.Map{"logs": logs})
}

func (s *Server) nodeHeartbeat(c *fiber.Ctx) error {
	var hb types.HeartbeatInfo
	if err := c.BodyParser(&hb); err != nil || hb.Name == "" {
		return BadRequest(c, "")
	}
	if err := s.deps.Nodes.Heartbeat(c.UserContext(), hb); err != nil {
		return Fail(c, err)
	}
	return Success(c, nil)
}

func (s *Server) nodeCommand(c *fiber.Ctx) error {
	var req nodeCommandRequest
	if err := c.BodyParser(&req); err != nil {
		return BadRequest(c, "")
	}
	if err := s.deps.Commands.Send(c.UserContext(), req.Name, req.Type, req.Content); err != nil {
		return Fail(c, err)
	}
	return Success(c, nil)
}

func parseJob(c *fiber.Ctx) (jobRequest, bool) {
	var req jobRequest
	if err := c.BodyParser(&req); err != nil || req.ID == "" {
		return req, false
	}
	if req.Kind == "" {
		req.Kind = types.JobKindTask
	}
	return req, req.Kind.Valid()
}

func (s *Server) taskDispatch(c *fiber.Ctx) error {
	req, ok := parseJob(c)
	if !ok {
		return BadRequest(c, "")
	}
	if err := s.deps.Dispatch.DispatchJob(c.UserContext(), req.Kind, req.ID); err != nil {
		return Fail(c, err)
	}
	return Success(c, fiber.Map{"id": req.ID})
}

func (s *Server) taskStop(c *fiber.Ctx) error {
	req, ok := parseJob(c)
	if !ok {
		return BadRequest(c, "")
	}
	run := req.RunnerID
	if run == "" {
		run = req.ID.OnDemandRun()
	}
	if err := s.deps.Dispatch.Stop(c.UserContext(), run); err != nil {
		return Fail(c, err)
	}
	return Success(c, nil)
}

func (s *Server) taskPause(c *fiber.Ctx) error {
	req, ok := parseJob(c)
	if !ok || req.Kind != types.JobKindTask {
		return BadRequest(c, "")
	}
	if err := s.deps.Dispatch.Pause(c.UserContext(), req.ID); err != nil {
		return Fail(c, err)
	}
	return Success(c, nil)
}

func (s *Server) taskResume(c *fiber.Ctx) error {
	req, ok := parseJob(c)
	if !ok || req.Kind != types.JobKindTask {
		return BadRequest(c, "")
	}
	if err := s.deps.Dispatch.Resume(c.UserContext(), req.ID); err != nil {
		return Fail(c, err)
	}
	return Success(c, nil)
}

func (s *Server) taskProgress(c *fiber.Ctx) error {
	req, ok := parseJob(c)
	if !ok {
		return BadRequest(c, "")
	}
	p, err := s.deps.Progress.Progress(c.UserContext(), req.Kind, req.ID, req.RunnerID)
	if err != nil {
		return Fail(c, err)
	}
	return Success(c, fiber.Map{"progress": p})
}

func (s *Server) taskProgressInfo(c *fiber.Ctx) error {
	req, ok := parseJob(c)
	if !ok {
		return BadRequest(c, "")
	}
	ctx := c.UserContext()
	targets := req.Targets
	if len(targets) == 0 {
		job, err := s.deps.Jobs.GetJob(ctx, req.Kind, req.ID)
		if err != nil {
			return Fail(c, err)
		}
		targets = dispatch.NormalizeTargets(job.Targets())
	}
	run := req.RunnerID
	if run == "" {
		run = req.ID.OnDemandRun()
	}
	detail, err := s.deps.Progress.Detail(ctx, run, targets)
	if err != nil {
		return Fail(c, err)
	}
	return Success(c, fiber.Map{"list": detail})
}

func (s *Server) entry(c *fiber.Ctx, fn func(types.JobID) error) error {
	var req entryRequest
	if err := c.BodyParser(&req); err != nil || req.ID == "" {
		return BadRequest(c, "")
	}
	if err := fn(req.ID); err != nil {
		return Fail(c, err)
	}
	return Success(c, nil)
}

func (s *Server) schedulerEnable(c *fiber.Ctx) error {
	return s.entry(c, func(id types.JobID) error { return s.deps.Scheduler.Enable(c.UserContext(), id) })
}

func (s *Server) schedulerDisable(c *fiber.Ctx) error {
	return s.entry(c, func(id types.JobID) error { return s.deps.Scheduler.Disable(c.UserContext(), id) })
}

func (s *Server) schedulerTrigger(c *fiber.Ctx) error {
	return s.entry(c, func(id types.JobID) error { return s.deps.Scheduler.Fire(c.UserContext(), id) })
}

func (s *Server) dedupRun(c *fiber.Ctx) error {
	var req dedupRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return BadRequest(c, "")
		}
	}
	var (
		sums []dedup.Summary
		err  error
	)
	if len(req.Collections) == 0 {
		sums, err = s.deps.Dedup.RunConfigured(c.UserContext())
	} else {
		sums, err = s.deps.Dedup.Run(c.UserContext(), req.Collections)
	}
	if err != nil && !apperr.Is(err, apperr.KindPartial) {
		return Fail(c, err)
	}
	data := fiber.Map{"summaries": sums}
	if err != nil {
		data["error"] = err.Error()
	}
	return Success(c, data)
}

func (s *Server) projectID(c *fiber.Ctx) error {
	name := c.Query("name")
	if name == "" {
		return BadRequest(c, "name is required")
	}
	id, ok, err := s.deps.Projects.ID(c.UserContext(), name)
	if err != nil {
		return Fail(c, err)
	}
	if !ok {
		return Fail(c, apperr.NotFound("api.projectID", "project not found: %s", name))
	}
	return Success(c, fiber.Map{"id": id})
}
