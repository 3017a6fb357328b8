package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"faceattend/internal/attendance"
)

var statusByCode = map[string]int{
	"missing_input":        http.StatusBadRequest,
	"no_face_detected":     http.StatusUnprocessableEntity,
	"duplicate_student_id": http.StatusConflict,
	"no_students_enrolled": http.StatusPreconditionFailed,
	"not_recognized":       http.StatusNotFound,
	"already_marked":       http.StatusConflict,
	"student_not_found":    http.StatusNotFound,
	"storage_failure":      http.StatusInternalServerError,
	"provider_unavailable": http.StatusBadGateway,
}

// errorBody builds the JSON error body for err; extra keys are merged in.
func errorBody(err error, extra gin.H) (int, gin.H) {
	code := attendance.Code(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	msg := err.Error()
	switch {
	case errors.Is(err, attendance.ErrStorageFailure):
		msg = attendance.ErrStorageFailure.Error()
	case errors.Is(err, attendance.ErrProviderUnavailable):
		msg = attendance.ErrProviderUnavailable.Error()
	case code == "internal":
		msg = "internal error"
	}

	body := gin.H{"error": code, "message": msg}
	for k, v := range extra {
		body[k] = v
	}
	return status, body
}

func writeError(c *gin.Context, err error) {
	status, body := errorBody(err, nil)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, code, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": code, "message": msg})
}
