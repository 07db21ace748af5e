// Package handler holds the request helpers shared by the API handlers.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-ops/pkg/httputil"
)

// BindJSON decodes and validates the body into req. It writes the 400
// response itself and reports false when the request is unusable.
func BindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httputil.RespondWithBindError(c, err)
		return false
	}
	return true
}

// BindQuery is BindJSON for query strings.
func BindQuery(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		httputil.RespondWithBindError(c, err)
		return false
	}
	return true
}

func OK(c *gin.Context, data interface{}) {
	httputil.RespondWithSuccess(c, http.StatusOK, data)
}

func Created(c *gin.Context, data interface{}) {
	httputil.RespondWithSuccess(c, http.StatusCreated, data)
}

func Fail(c *gin.Context, err error) {
	httputil.RespondWithError(c, err)
}
