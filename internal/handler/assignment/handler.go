package assignment

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-ops/internal/handler"
	"github.com/jwalitptl/clinic-ops/internal/middleware"
	"github.com/jwalitptl/clinic-ops/internal/service/assignment"
)

type Handler struct {
	svc *assignment.Service
}

func NewHandler(svc *assignment.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	assignments := r.Group("/assignments")
	{
		assignments.GET("", h.List)
		assignments.POST("", h.Create)
		assignments.GET("/:id", h.Get)
		assignments.POST("/:id/claim", h.Claim)
		assignments.POST("/:id/release", h.Release)
		assignments.POST("/:id/complete", h.Complete)
	}
}

func (h *Handler) List(c *gin.Context) {
	var q assignment.ListQuery
	if !handler.BindQuery(c, &q) {
		return
	}
	board, err := h.svc.List(c.Request.Context(), q, middleware.StaffID(c))
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, board)
}

func (h *Handler) Create(c *gin.Context) {
	var req assignment.CreateRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	created, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.Created(c, created)
}

func (h *Handler) Get(c *gin.Context) {
	item, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, item)
}

func (h *Handler) Claim(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.svc.Claim(ctx, c.Param("id"), middleware.StaffID(c), middleware.StaffName(c)); err != nil {
		handler.Fail(c, err)
		return
	}
	h.Get(c)
}

func (h *Handler) Release(c *gin.Context) {
	if err := h.svc.Release(c.Request.Context(), c.Param("id"), middleware.StaffID(c)); err != nil {
		handler.Fail(c, err)
		return
	}
	h.Get(c)
}

func (h *Handler) Complete(c *gin.Context) {
	if err := h.svc.Complete(c.Request.Context(), c.Param("id")); err != nil {
		handler.Fail(c, err)
		return
	}
	h.Get(c)
}
