package controllers

import (
	"bytes"
	"fmt"
	"net/http"

	"trafficwatch/internal/services"

	"github.com/gin-gonic/gin"
)

func (h *Handler) GetAllStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.Engine.AllPortStats())
}

func (h *Handler) GetStats(c *gin.Context) {
	port, ok := portParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.Engine.PortStats(port))
}

func (h *Handler) ResetStats(c *gin.Context) {
	port, ok := portParam(c)
	if !ok {
		return
	}
	if err := h.Engine.ResetPort(port); err != nil {
		respond(c, http.StatusBadRequest, false, "failed to reset")
		return
	}
	respond(c, http.StatusOK, true, fmt.Sprintf("Stats for port %d reset", port))
}

func (h *Handler) GetSeries(c *gin.Context) {
	port, ok := portParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.Engine.Series(port))
}

func (h *Handler) GetHistory(c *gin.Context) {
	port, ok := portParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.Engine.History(port))
}

// ExportCSV offers the port's daily statistics as a CSV attachment
func (h *Handler) ExportCSV(c *gin.Context) {
	port, ok := portParam(c)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := services.WriteDailyCSV(&buf, h.Engine.DailyRecords(port)); err != nil {
		respond(c, http.StatusInternalServerError, false, err.Error())
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+services.ExportFilename(port))
	c.Data(http.StatusOK, "text/csv", buf.Bytes())
}
