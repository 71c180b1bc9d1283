package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"rollcall/internal/attendance"
)

var statusByCode = map[attendance.Code]int{
	attendance.CodeLocked:          http.StatusConflict,
	attendance.CodeNotFound:        http.StatusNotFound,
	attendance.CodeInvalidArgument: http.StatusBadRequest,
	attendance.CodePersistence:     http.StatusBadGateway,
	attendance.CodeInternal:        http.StatusInternalServerError,
}

func errorBody(code, msg string) gin.H {
	return gin.H{"error": gin.H{"code": code, "message": msg}}
}

// fail maps a domain error onto its HTTP status and the JSON error body.
func (h *handler) fail(c *gin.Context, err error) {
	code := attendance.CodeOf(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	msg := "internal error"
	var de *attendance.Error
	if errors.As(err, &de) {
		msg = de.Message
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, errorBody(string(code), msg))
}

// badRequest reports a binding failure, naming the offending fields.
func badRequest(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		parts := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
		err = errors.New(strings.Join(parts, "; "))
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody(string(attendance.CodeInvalidArgument), err.Error()))
}

var validatorsOnce sync.Once

// registerValidators adds the attendance_status tag and reports fields by json name.
func registerValidators() {
	validatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("attendance_status", func(fl validator.FieldLevel) bool {
			_, err := attendance.ParseStatus(fl.Field().String())
			return err == nil
		})
	})
}
