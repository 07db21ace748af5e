package auth

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-ops/internal/handler"
	"github.com/jwalitptl/clinic-ops/internal/middleware"
	"github.com/jwalitptl/clinic-ops/internal/model"
	"github.com/jwalitptl/clinic-ops/internal/service/auth"
)

type Handler struct {
	svc *auth.Service
}

func NewHandler(svc *auth.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterPublicRoutes mounts the routes that need no token.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.POST("/auth/login", h.Login)
}

// RegisterRoutes mounts the authenticated routes. adminOnly guards staff
// registration.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, adminOnly gin.HandlerFunc) {
	r.GET("/auth/me", h.Me)
	r.POST("/staff", adminOnly, h.RegisterStaff)
}

func (h *Handler) Login(c *gin.Context) {
	var req model.LoginRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	resp, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, resp)
}

func (h *Handler) Me(c *gin.Context) {
	handler.OK(c, gin.H{
		"id":   middleware.StaffID(c),
		"name": middleware.StaffName(c),
		"role": c.GetString(middleware.ContextStaffRole),
	})
}

func (h *Handler) RegisterStaff(c *gin.Context) {
	var req auth.RegisterRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	staff, err := h.svc.RegisterStaff(c.Request.Context(), req)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.Created(c, staff)
}
