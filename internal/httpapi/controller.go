// Package httpapi exposes the scheduling engine over HTTP for the board UI:
// week navigation, the rendering query surface, event mutations and the
// Excel export.
package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/takanerehabili-creator/Completed-version-sub000/internal/export"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/lifecycle"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/model"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/schedule"
)

type ScheduleController struct {
	controller *schedule.Controller
	exporter   *export.WeekExporter
	logger     *zerolog.Logger
}

func NewScheduleController(c *schedule.Controller, logger *zerolog.Logger) *ScheduleController {
	return &ScheduleController{
		controller: c,
		exporter:   export.NewWeekExporter(c.Cache(), c.Resolver()),
		logger:     logger,
	}
}

func (s *ScheduleController) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/week", s.currentWeek)
		api.POST("/week/navigate", s.navigate)
		api.GET("/weeks/:week/events", s.weekEvents)
		api.GET("/weeks/:week/export", s.exportWeek)
		api.POST("/weeks/:week/reconnect", s.reconnect)

		api.GET("/staff", s.staffForDate)
		api.GET("/staff/active", s.staffActive)

		api.POST("/events", s.saveEvent)
		api.DELETE("/events/:id", s.deleteEvent)

		api.POST("/overrides", s.saveOverride)
		api.POST("/leaves", s.createLeave)
		api.POST("/staff/rename", s.renameStaff)
	}
}

func (s *ScheduleController) currentWeek(ctx *gin.Context) {
	week := s.controller.CurrentWeek()
	ctx.JSON(http.StatusOK, gin.H{"week": week, "events": s.controller.WeekEvents()})
}

type navigateRequest struct {
	Date      string `json:"date"`
	Direction int    `json:"direction"`
}

func (s *ScheduleController) navigate(ctx *gin.Context) {
	var req navigateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var week string
	switch {
	case req.Date != "":
		if _, err := model.ParseDate(req.Date); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid date format"})
			return
		}
		week = s.controller.GoToDate(req.Date)
	case req.Direction != 0:
		week = s.controller.ChangeWeek(req.Direction)
	default:
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "date or direction is required"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"week": week})
}

func (s *ScheduleController) weekEvents(ctx *gin.Context) {
	week := ctx.Param("week")
	if _, err := model.ParseDate(week); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid week key"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"week":   week,
		"loaded": s.controller.Cache().IsLoaded(week),
		"events": s.controller.Cache().Events(week),
	})
}

func (s *ScheduleController) exportWeek(ctx *gin.Context) {
	week := ctx.Param("week")
	if _, err := model.ParseDate(week); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid week key"})
		return
	}
	ctx.Header("Content-Disposition", fmt.Sprintf("attachment; filename=schedule-%s.xlsx", week))
	ctx.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := s.exporter.Export(ctx.Writer, week); err != nil {
		s.logger.Error().Err(err).Str("week", week).Msg("export failed")
		ctx.Status(http.StatusInternalServerError)
	}
}

func (s *ScheduleController) reconnect(ctx *gin.Context) {
	week := ctx.Param("week")
	if _, err := model.ParseDate(week); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid week key"})
		return
	}
	s.controller.Subscriptions().ManualReconnect(week)
	ctx.JSON(http.StatusOK, gin.H{"week": week})
}

func (s *ScheduleController) staffForDate(ctx *gin.Context) {
	date := ctx.Query("date")
	if _, err := model.ParseDate(date); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid date"})
		return
	}
	if slot := ctx.Query("time"); slot != "" {
		ctx.JSON(http.StatusOK, gin.H{"staff": s.controller.GetStaffForTimeSlot(date, slot)})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"staff":   s.controller.GetStaffForDate(date),
		"holiday": s.controller.IsHoliday(date),
	})
}

func (s *ScheduleController) staffActive(ctx *gin.Context) {
	member := ctx.Query("member")
	date := ctx.Query("date")
	slot := ctx.Query("time")
	if member == "" || slot == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "member and time are required"})
		return
	}
	if _, err := model.ParseDate(date); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid date"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"active":      s.controller.IsStaffActiveAtTime(member, date, slot),
		"onLeave":     s.controller.IsStaffLeave(member, date, slot),
		"daySchedule": s.controller.IsDaySchedule(member, date, slot),
	})
}

type saveEventRequest struct {
	Event            model.Event `json:"event" binding:"required"`
	EditSessionStart string      `json:"editSessionStart"`
	Overwrite        bool        `json:"overwrite"`
}

func (s *ScheduleController) saveEvent(ctx *gin.Context) {
	var req saveEventRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var sessionStart time.Time
	if req.EditSessionStart != "" {
		var err error
		sessionStart, err = time.Parse(time.RFC3339, req.EditSessionStart)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid editSessionStart"})
			return
		}
	}

	res, err := s.controller.SaveEvent(ctx.Request.Context(), lifecycle.SaveRequest{
		Draft:            req.Event,
		EditSessionStart: sessionStart,
		Overwrite:        req.Overwrite,
	})
	if err != nil {
		s.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"event":           res.Event,
		"generated":       res.Generated,
		"siblingsDeleted": res.SiblingsDeleted,
	})
}

func (s *ScheduleController) deleteEvent(ctx *gin.Context) {
	id := ctx.Param("id")
	var err error
	switch mode := ctx.DefaultQuery("mode", "auto"); mode {
	case "single":
		err = s.controller.DeleteSingle(ctx.Request.Context(), id)
	case "from":
		err = s.controller.DeleteFrom(ctx.Request.Context(), id)
	case "auto":
		err = s.controller.DeleteEvent(ctx.Request.Context(), id)
	default:
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "unknown mode " + mode})
		return
	}
	if err != nil {
		s.writeError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (s *ScheduleController) saveOverride(ctx *gin.Context) {
	var o model.StaffOverride
	if err := ctx.ShouldBindJSON(&o); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.controller.SaveOverride(ctx.Request.Context(), o); err != nil {
		s.writeError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (s *ScheduleController) createLeave(ctx *gin.Context) {
	var leave model.StaffLeave
	if err := ctx.ShouldBindJSON(&leave); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.controller.CreateLeave(ctx.Request.Context(), leave); err != nil {
		s.writeError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

type renameStaffRequest struct {
	OldName string `json:"oldName" binding:"required"`
	NewName string `json:"newName" binding:"required"`
}

func (s *ScheduleController) renameStaff(ctx *gin.Context) {
	var req renameStaffRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.controller.RenameStaff(ctx.Request.Context(), req.OldName, req.NewName); err != nil {
		s.writeError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

// writeError maps the engine's error taxonomy onto HTTP statuses. A
// concurrent modification returns the stored record so the UI can run the
// overwrite confirmation.
func (s *ScheduleController) writeError(ctx *gin.Context, err error) {
	var race *lifecycle.ConcurrentModificationError
	switch {
	case errors.As(err, &race):
		ctx.JSON(http.StatusConflict, gin.H{
			"error":  "concurrent modification",
			"stored": race.Stored,
		})
	case lifecycle.IsValidation(err):
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case lifecycle.IsConflict(err):
		ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case lifecycle.IsNotFound(err):
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		s.logger.Error().Err(err).Msg("store operation failed")
		ctx.JSON(http.StatusBadGateway, gin.H{"error": "store operation failed, retry"})
	}
}
