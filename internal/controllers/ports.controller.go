package controllers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"trafficwatch/internal/services"

	"emperror.dev/errors"
	"github.com/gin-gonic/gin"
)

type addPortRequest struct {
	// number or numeric string
	Port interface{} `json:"port"`
}

func (h *Handler) GetPorts(c *gin.Context) {
	c.JSON(http.StatusOK, h.Engine.Ports())
}

func (h *Handler) AddPort(c *gin.Context) {
	var req addPortRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Port == nil {
		respond(c, http.StatusBadRequest, false, "missing port parameter")
		return
	}

	port, err := parsePortValue(req.Port)
	if err != nil {
		respond(c, http.StatusBadRequest, false, "port must be a number")
		return
	}

	switch err := h.Engine.AddPort(port); {
	case err == nil:
		respond(c, http.StatusOK, true, fmt.Sprintf("Port %d added", port))
	case errors.Is(err, services.ErrPortExists):
		respond(c, http.StatusConflict, false, "port already exists")
	case errors.Is(err, services.ErrInvalidPort):
		respond(c, http.StatusBadRequest, false, "invalid port number")
	default:
		respond(c, http.StatusInternalServerError, false, err.Error())
	}
}

func (h *Handler) RemovePort(c *gin.Context) {
	port, ok := portParam(c)
	if !ok {
		return
	}

	switch err := h.Engine.RemovePort(port); {
	case err == nil:
		respond(c, http.StatusOK, true, fmt.Sprintf("Port %d removed", port))
	case errors.Is(err, services.ErrLastPort):
		respond(c, http.StatusBadRequest, false, "cannot remove the last monitored port")
	case errors.Is(err, services.ErrPortNotMonitored):
		respond(c, http.StatusNotFound, false, "port is not monitored")
	default:
		respond(c, http.StatusInternalServerError, false, err.Error())
	}
}

func parsePortValue(v interface{}) (int, error) {
	switch p := v.(type) {
	case float64:
		if p != float64(int(p)) {
			return 0, errors.Errorf("port %v is not an integer", p)
		}
		return int(p), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(p))
	default:
		return 0, errors.Errorf("unsupported port value %v", v)
	}
}
