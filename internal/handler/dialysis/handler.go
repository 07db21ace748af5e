package dialysis

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-ops/internal/handler"
	"github.com/jwalitptl/clinic-ops/internal/middleware"
	"github.com/jwalitptl/clinic-ops/internal/model"
	"github.com/jwalitptl/clinic-ops/internal/service/dialysis"
)

type Handler struct {
	svc *dialysis.Service
}

func NewHandler(svc *dialysis.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the dialysis unit API. Registry writes go through
// adminOnly; session work is open to every signed-in staff member.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, adminOnly gin.HandlerFunc) {
	d := r.Group("/dialysis")

	patients := d.Group("/patients")
	{
		patients.GET("", h.ListPatients)
		patients.POST("", adminOnly, h.RegisterPatient)
		patients.GET("/:id", h.GetPatient)
		patients.PUT("/:id", adminOnly, h.UpdatePatient)
		patients.DELETE("/:id", adminOnly, h.DeactivatePatient)
		patients.GET("/:id/history", h.PatientHistory)
	}

	machines := d.Group("/machines")
	{
		machines.GET("", h.ListMachines)
		machines.POST("", adminOnly, h.RegisterMachine)
		machines.GET("/:id", h.GetMachine)
		machines.PUT("/:id", adminOnly, h.UpdateMachine)
		machines.PUT("/:id/status", adminOnly, h.SetMachineStatus)
	}

	sessions := d.Group("/sessions")
	{
		sessions.GET("", h.ListSessions)
		sessions.POST("", h.ScheduleSession)
		sessions.GET("/:id", h.GetSession)
		sessions.POST("/:id/start", h.StartSession)
		sessions.POST("/:id/end", h.EndSession)
		sessions.POST("/:id/checkpoints", h.RecordCheckpoint)
		sessions.POST("/:id/cancel", h.CancelSession)
	}

	d.GET("/slots", h.SessionsForSlot)
	d.GET("/report", h.Report)
}

func (h *Handler) ListPatients(c *gin.Context) {
	var q struct {
		Status model.PatientStatus `form:"status" binding:"omitempty,oneof=active inactive"`
	}
	if !handler.BindQuery(c, &q) {
		return
	}
	patients, err := h.svc.ListPatients(c.Request.Context(), q.Status)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, patients)
}

func (h *Handler) RegisterPatient(c *gin.Context) {
	var in dialysis.PatientInput
	if !handler.BindJSON(c, &in) {
		return
	}
	patient, err := h.svc.RegisterPatient(c.Request.Context(), in)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.Created(c, patient)
}

func (h *Handler) GetPatient(c *gin.Context) {
	patient, err := h.svc.GetPatient(c.Request.Context(), c.Param("id"))
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, patient)
}

func (h *Handler) UpdatePatient(c *gin.Context) {
	var in dialysis.PatientInput
	if !handler.BindJSON(c, &in) {
		return
	}
	patient, err := h.svc.UpdatePatient(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, patient)
}

func (h *Handler) DeactivatePatient(c *gin.Context) {
	if err := h.svc.DeactivatePatient(c.Request.Context(), c.Param("id")); err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, gin.H{"id": c.Param("id"), "status": model.PatientStatusInactive})
}

func (h *Handler) PatientHistory(c *gin.Context) {
	sessions, err := h.svc.PatientHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, sessions)
}

func (h *Handler) ListMachines(c *gin.Context) {
	machines, err := h.svc.ListMachines(c.Request.Context())
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, machines)
}

func (h *Handler) RegisterMachine(c *gin.Context) {
	var in dialysis.MachineInput
	if !handler.BindJSON(c, &in) {
		return
	}
	machine, err := h.svc.RegisterMachine(c.Request.Context(), in)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.Created(c, machine)
}

func (h *Handler) GetMachine(c *gin.Context) {
	machine, err := h.svc.GetMachine(c.Request.Context(), c.Param("id"))
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, machine)
}

func (h *Handler) UpdateMachine(c *gin.Context) {
	var in dialysis.MachineInput
	if !handler.BindJSON(c, &in) {
		return
	}
	machine, err := h.svc.UpdateMachine(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, machine)
}

type machineStatusRequest struct {
	Status            model.MachineStatus `json:"status" binding:"required,oneof=available maintenance"`
	NextMaintenanceAt *time.Time          `json:"nextMaintenanceAt"`
}

func (h *Handler) SetMachineStatus(c *gin.Context) {
	var req machineStatusRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	if err := h.svc.SetMachineStatus(ctx, c.Param("id"), req.Status, req.NextMaintenanceAt); err != nil {
		handler.Fail(c, err)
		return
	}
	machine, err := h.svc.GetMachine(ctx, c.Param("id"))
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, machine)
}

func (h *Handler) ListSessions(c *gin.Context) {
	var f dialysis.SessionFilter
	if !handler.BindQuery(c, &f) {
		return
	}
	sessions, err := h.svc.ListSessions(c.Request.Context(), f)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, sessions)
}

func (h *Handler) ScheduleSession(c *gin.Context) {
	var req dialysis.ScheduleRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	id, err := h.svc.ScheduleSession(ctx, req, middleware.StaffName(c))
	if err != nil {
		handler.Fail(c, err)
		return
	}
	h.respondSession(c, id, true)
}

func (h *Handler) GetSession(c *gin.Context) {
	h.respondSession(c, c.Param("id"), false)
}

func (h *Handler) StartSession(c *gin.Context) {
	var pre dialysis.VitalsInput
	if !handler.BindJSON(c, &pre) {
		return
	}
	if err := h.svc.StartSession(c.Request.Context(), c.Param("id"), pre); err != nil {
		handler.Fail(c, err)
		return
	}
	h.respondSession(c, c.Param("id"), false)
}

func (h *Handler) EndSession(c *gin.Context) {
	var req dialysis.EndRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	if err := h.svc.EndSession(c.Request.Context(), c.Param("id"), req); err != nil {
		handler.Fail(c, err)
		return
	}
	h.respondSession(c, c.Param("id"), false)
}

func (h *Handler) RecordCheckpoint(c *gin.Context) {
	var in dialysis.CheckpointInput
	if !handler.BindJSON(c, &in) {
		return
	}
	id, err := h.svc.RecordMonitoringCheckpoint(c.Request.Context(), c.Param("id"), in, middleware.StaffName(c))
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.Created(c, gin.H{"id": id, "sessionId": c.Param("id")})
}

func (h *Handler) CancelSession(c *gin.Context) {
	if err := h.svc.CancelSession(c.Request.Context(), c.Param("id")); err != nil {
		handler.Fail(c, err)
		return
	}
	h.respondSession(c, c.Param("id"), false)
}

func (h *Handler) SessionsForSlot(c *gin.Context) {
	var q struct {
		Date string `form:"date" binding:"required,isodate"`
		Time string `form:"time" binding:"required,hhmm"`
	}
	if !handler.BindQuery(c, &q) {
		return
	}
	sessions, err := h.svc.SessionsForSlot(c.Request.Context(), q.Date, q.Time)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, sessions)
}

func (h *Handler) Report(c *gin.Context) {
	report, err := h.svc.Report(c.Request.Context())
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, report)
}

func (h *Handler) respondSession(c *gin.Context, id string, created bool) {
	sess, err := h.svc.GetSession(c.Request.Context(), id)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	if created {
		handler.Created(c, sess)
		return
	}
	handler.OK(c, sess)
}
