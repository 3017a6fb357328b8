package api

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/feed"
	"faceattend/internal/report"
)

type handler struct {
	svc      *attendance.Service
	feed     feed.Feed
	issuer   *auth.Issuer
	passcode string
	health   map[string]HealthCheck
	maxBytes int64
	logger   *zap.Logger
}

func (h *handler) healthz(c *gin.Context) {
	status := http.StatusOK
	checks := gin.H{}
	for name, check := range h.health {
		if err := check(c.Request.Context()); err != nil {
			h.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			checks[name] = false
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = true
	}
	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	c.JSON(status, gin.H{"status": overall, "checks": checks})
}

func (h *handler) issueToken(c *gin.Context) {
	if h.issuer == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "auth_disabled", "message": "operator auth is not enabled"})
		return
	}
	var req struct {
		Passcode string `json:"passcode" binding:"required"`
		Operator string `json:"operator"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "missing_input", "passcode is required")
		return
	}
	if !auth.CheckPasscode(req.Passcode, h.passcode) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "wrong passcode"})
		return
	}
	operator := req.Operator
	if operator == "" {
		operator = "operator"
	}
	h.writeTokens(c, operator)
}

func (h *handler) refreshToken(c *gin.Context) {
	if h.issuer == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "auth_disabled", "message": "operator auth is not enabled"})
		return
	}
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "missing_input", "refresh_token is required")
		return
	}
	claims, err := h.issuer.Parse(req.RefreshToken, auth.TokenRefresh)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "invalid refresh token"})
		return
	}
	h.writeTokens(c, claims.Subject)
}

func (h *handler) writeTokens(c *gin.Context, subject string) {
	pair, err := h.issuer.Issue(subject)
	if err != nil {
		h.logger.Error("token issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// upload reads the request image, answering the client itself on failure.
func (h *handler) upload(c *gin.Context) (imageRequest, []byte, bool) {
	req, img, err := readUpload(c, h.maxBytes)
	switch {
	case err == nil:
		return req, img, true
	case errors.Is(err, errTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload_too_large", "message": err.Error()})
	default:
		badRequest(c, "bad_request", err.Error())
	}
	return req, nil, false
}

func (h *handler) enroll(c *gin.Context) {
	req, img, ok := h.upload(c)
	if !ok {
		return
	}
	st, err := h.svc.Enroll(c.Request.Context(), attendance.EnrollRequest{
		Name:      req.Name,
		StudentID: req.StudentID,
		Image:     img,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

func (h *handler) listStudents(c *gin.Context) {
	students, err := h.svc.ListStudents(c.Request.Context(), c.Query("q"))
	if err != nil {
		writeError(c, err)
		return
	}
	if students == nil {
		students = []attendance.Student{}
	}
	c.JSON(http.StatusOK, gin.H{"students": students, "total": len(students)})
}

func (h *handler) getStudent(c *gin.Context) {
	st, err := h.svc.GetStudent(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *handler) studentPhoto(c *gin.Context) {
	photo, err := h.svc.StudentPhoto(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	switch {
	case len(photo.Data) > 0:
		c.Header("Cache-Control", "private, max-age=3600")
		c.Data(http.StatusOK, photo.ContentType, photo.Data)
	case photo.URL != "":
		c.Redirect(http.StatusFound, photo.URL)
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "photo_not_found", "message": "student has no photo"})
	}
}

func (h *handler) deleteStudent(c *gin.Context) {
	if err := h.svc.DeleteStudent(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) studentAttendance(c *gin.Context) {
	records, err := h.svc.StudentAttendance(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if records == nil {
		records = []attendance.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (h *handler) markManual(c *gin.Context) {
	st, rec, err := h.svc.MarkManual(c.Request.Context(), c.Param("id"))
	if errors.Is(err, attendance.ErrAlreadyMarked) {
		status, body := errorBody(err, gin.H{"student": st, "record": rec})
		c.JSON(status, body)
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"student": st, "record": rec})
}

func (h *handler) scan(c *gin.Context) {
	_, img, ok := h.upload(c)
	if !ok {
		return
	}
	res, err := h.svc.Scan(c.Request.Context(), img)
	if errors.Is(err, attendance.ErrAlreadyMarked) {
		status, body := errorBody(err, gin.H{
			"student":    res.Student,
			"record":     res.Record,
			"confidence": res.Confidence,
		})
		c.JSON(status, body)
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) today(c *gin.Context) {
	sum, err := h.svc.TodaySummary(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// day resolves ?date=YYYY-MM-DD, defaulting to today.
func (h *handler) day(c *gin.Context) (attendance.Day, bool) {
	date := c.Query("date")
	if date == "" {
		return h.svc.Today(), true
	}
	day, err := attendance.ParseDay(date, h.svc.Location())
	if err != nil {
		badRequest(c, "bad_date", "date must be YYYY-MM-DD")
		return attendance.Day{}, false
	}
	return day, true
}

func (h *handler) attendanceOn(c *gin.Context) {
	day, ok := h.day(c)
	if !ok {
		return
	}
	records, err := h.svc.AttendanceOn(c.Request.Context(), day)
	if err != nil {
		writeError(c, err)
		return
	}
	if records == nil {
		records = []attendance.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"date": day.String(), "records": records})
}

func (h *handler) export(c *gin.Context) {
	day, ok := h.day(c)
	if !ok {
		return
	}
	sum, err := h.svc.SummaryOn(c.Request.Context(), day)
	if err != nil {
		writeError(c, err)
		return
	}
	var buf bytes.Buffer
	if err := report.Write(&buf, sum, h.svc.Location()); err != nil {
		h.logger.Error("export failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "export failed"})
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+report.Filename(sum.Date))
	c.Data(http.StatusOK, report.ContentType, buf.Bytes())
}

func (h *handler) recentFeed(c *gin.Context) {
	if h.feed == nil {
		c.JSON(http.StatusOK, gin.H{"events": []attendance.Event{}})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	events, err := h.feed.Recent(c.Request.Context(), limit)
	if err != nil {
		h.logger.Warn("feed read failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "feed_unavailable", "message": "recent activity unavailable"})
		return
	}
	if events == nil {
		events = []attendance.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
