package httpapi

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/queue"
	"rollcall/internal/report"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *handler) token(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	staff, tokens, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("UNAUTHENTICATED", "invalid email or password"))
			return
		}
		h.fail(c, attendance.Internal("login failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens, "role": staff.Role, "name": staff.Name})
}

func (h *handler) refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	tokens, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("UNAUTHENTICATED", "invalid refresh token"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

func (h *handler) offerings(c *gin.Context) {
	offerings, err := h.svc.Offerings(c.Request.Context(), c.Query("status"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offerings": offerings})
}

func (h *handler) roster(c *gin.Context) {
	students, err := h.svc.Roster(c.Request.Context(), c.Param("id"), c.Query("q"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students, "total": len(students)})
}

func (h *handler) lectures(c *gin.Context) {
	lectures, err := h.svc.Lectures(c.Request.Context(), c.Query("offering_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lectures": lectures})
}

func (h *handler) lock(c *gin.Context) {
	ctx, cancel := h.persistCtx(c)
	defer cancel()
	lecture, err := h.svc.Lock(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	// ?wait=true holds the response until commits admitted before the lock have drained
	if c.Query("wait") == "true" {
		if err := h.svc.WaitCommits(ctx, lecture.ID); err != nil {
			h.fail(c, attendance.Persistence("waiting for in-flight commits", err))
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"lecture": lecture, "commits_in_flight": h.svc.CommitsInFlight(lecture.ID)})
}

func (h *handler) unlock(c *gin.Context) {
	ctx, cancel := h.persistCtx(c)
	defer cancel()
	lecture, err := h.svc.Unlock(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lecture": lecture})
}

func (h *handler) lectureStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required,oneof=scheduled completed cancelled rescheduled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	lecture, err := h.svc.SetLectureStatus(c.Request.Context(), c.Param("id"), attendance.LectureStatus(req.Status))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lecture": lecture})
}

// sessionRow is one roster line as the marking screen shows it.
type sessionRow struct {
	Student attendance.Student `json:"student"`
	Status  attendance.Status  `json:"status"`
	Marked  bool               `json:"marked"`
}

type sessionView struct {
	ID      string             `json:"id"`
	Lecture attendance.Lecture `json:"lecture"`
	Locked  bool               `json:"locked"`
	Changed bool               `json:"changed"`
	Rows    []sessionRow       `json:"rows"`
	Stats   attendance.Stats   `json:"stats"`
}

func viewSession(s *attendance.Session) sessionView {
	v := sessionView{
		ID:      s.ID,
		Lecture: s.Lecture,
		Locked:  s.Draft.Gate().Locked(),
		Changed: s.Draft.Changed(),
		Rows:    make([]sessionRow, len(s.Roster)),
		Stats:   s.Stats(),
	}
	v.Lecture.Locked = v.Locked
	for i, st := range s.Roster {
		_, marked := s.Draft.Get(st.ID)
		v.Rows[i] = sessionRow{Student: st, Status: s.Draft.Display(st.ID), Marked: marked}
	}
	return v
}

func (h *handler) openSession(c *gin.Context) {
	sess, err := h.svc.OpenSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewSession(sess))
}

func (h *handler) session(c *gin.Context) {
	sess, err := h.svc.Session(c.Param("sid"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewSession(sess))
}

func (h *handler) closeSession(c *gin.Context) {
	if err := h.svc.CloseSession(c.Param("sid")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type markRequest struct {
	Status string `json:"status" binding:"required,attendance_status"`
}

func (h *handler) mark(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	status, err := attendance.ParseStatus(req.Status)
	if err != nil {
		h.fail(c, err)
		return
	}
	sess, err := h.svc.Mark(c.Request.Context(), c.Param("sid"), c.Param("student_id"), status)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewSession(sess))
}

type bulkRequest struct {
	Status     string   `json:"status" binding:"required,attendance_status"`
	StudentIDs []string `json:"student_ids" binding:"omitempty,dive,required"`
	Query      string   `json:"q"`
}

func (h *handler) bulkMark(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	status, err := attendance.ParseStatus(req.Status)
	if err != nil {
		h.fail(c, err)
		return
	}
	n, err := h.svc.BulkMark(c.Request.Context(), c.Param("sid"), req.StudentIDs, req.Query, status)
	if err != nil {
		h.fail(c, err)
		return
	}
	sess, err := h.svc.Session(c.Param("sid"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": n, "session": viewSession(sess)})
}

type commitResponse struct {
	Results []attendance.JobResult `json:"results"`
	Failed  int                    `json:"failed"`
	Stats   attendance.Stats       `json:"stats"`
	Session sessionView            `json:"session"`
}

func (h *handler) commit(c *gin.Context) {
	if async, _ := strconv.ParseBool(c.Query("async")); async {
		h.commitAsync(c)
		return
	}
	ctx, cancel := h.persistCtx(c)
	defer cancel()
	out, err := h.svc.Commit(ctx, c.Param("sid"))
	h.respondCommit(c, out, err)
}

func (h *handler) retry(c *gin.Context) {
	ctx, cancel := h.persistCtx(c)
	defer cancel()
	out, err := h.svc.RetryCommit(ctx, c.Param("sid"))
	h.respondCommit(c, out, err)
}

// respondCommit answers 200 even when some operations failed; callers read Failed.
func (h *handler) respondCommit(c *gin.Context, out attendance.CommitOutcome, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	sess, err := h.svc.Session(c.Param("sid"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, commitResponse{
		Results: attendance.JobResults(out.Results),
		Failed:  out.Failed,
		Stats:   out.Stats,
		Session: viewSession(sess),
	})
}

func (h *handler) commitAsync(c *gin.Context) {
	if h.queue == nil {
		h.fail(c, attendance.Invalid("asynchronous commits are not enabled"))
		return
	}
	ctx, cancel := h.persistCtx(c)
	defer cancel()
	job, err := h.svc.CreateCommitJob(ctx, c.Param("sid"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.queue.Publish(ctx, queue.Commit(job.ID)); err != nil {
		h.fail(c, attendance.Persistence("enqueue commit job", err))
		return
	}
	h.log.Info("commit job queued", zap.String("job_id", job.ID), zap.String("lecture_id", job.LectureID))
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (h *handler) job(c *gin.Context) {
	job, err := h.svc.Job(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job, "failed": job.Failed()})
}

func (h *handler) records(c *gin.Context) {
	q := attendance.RecordQuery{
		LectureID: c.Query("lecture_id"),
		StudentID: c.Query("student_id"),
		Query:     c.Query("q"),
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			h.fail(c, attendance.Invalid("limit must be a non-negative integer"))
			return
		}
		q.Limit = limit
	}
	records, err := h.svc.Records(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (h *handler) studentAttendance(c *gin.Context) {
	out, err := h.svc.StudentAttendance(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *handler) overview(c *gin.Context) {
	ov, err := h.svc.Overview(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ov)
}

func (h *handler) trend(c *gin.Context) {
	months := 6
	if v := c.Query("months"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.fail(c, attendance.Invalid("months must be an integer"))
			return
		}
		months = n
	}
	points, err := h.svc.Trend(c.Request.Context(), months)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trend": points})
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (h *handler) workbook(c *gin.Context) {
	students, records, err := h.svc.Report(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	var buf bytes.Buffer
	if err := report.Write(&buf, students, records); err != nil {
		h.fail(c, attendance.Internal("render workbook", err))
		return
	}
	name := "attendance-" + time.Now().UTC().Format("20060102") + ".xlsx"
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}
