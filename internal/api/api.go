package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/edukita/schoolboard/internal/attempt"
	"github.com/edukita/schoolboard/internal/domain"
	"github.com/edukita/schoolboard/internal/errors"
	"github.com/edukita/schoolboard/internal/event"
	"github.com/edukita/schoolboard/internal/profile"
	"github.com/edukita/schoolboard/internal/quiz"
	"github.com/edukita/schoolboard/internal/report"
	"github.com/edukita/schoolboard/internal/session"
	"github.com/edukita/schoolboard/internal/telemetry"
)

type Config struct {
	Router       *gin.Engine
	EventBus     *event.Bus
	Session      *session.Service
	Quiz         QuizService
	Attempt      *attempt.Service
	Profiles     *profile.Store
	Redis        Redis
	PubsubPrefix string
	JWTSecret    string
	TokenTTL     time.Duration
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// QuizService is the authoring backend the API serves.
type QuizService interface {
	Create(ctx context.Context, req quiz.CreateRequest) (*domain.Quiz, error)
	Get(ctx context.Context, id string) (*domain.Quiz, error)
	List(ctx context.Context, req quiz.ListRequest) ([]domain.Quiz, error)
	Delete(ctx context.Context, id string) error
}

// API is the JSON surface the dashboard consumes. Bearer tokens address
// server-side session contexts; all role checks run against the resolved
// session, never against anything the client sends.
type API struct {
	sessions *session.Service
	quizzes  QuizService
	attempts *attempt.Service
	profiles *profile.Store

	redis  Redis
	prefix string

	jwtSecret []byte
	tokenTTL  time.Duration
}

func New(c Config) *API {
	a := &API{
		sessions:  c.Session,
		quizzes:   c.Quiz,
		attempts:  c.Attempt,
		profiles:  c.Profiles,
		redis:     c.Redis,
		prefix:    c.PubsubPrefix,
		jwtSecret: []byte(c.JWTSecret),
		tokenTTL:  c.TokenTTL,
	}

	v1 := c.Router.Group("/v1")
	v1.POST("/auth/signup", a.signUp)
	v1.POST("/auth/signin", a.signIn)

	authed := v1.Group("", a.requireSession)
	authed.POST("/auth/signout", a.signOut)
	authed.GET("/session", a.getSession)
	authed.GET("/quizzes", a.listQuizzes)
	authed.GET("/students/:id/report", a.studentReport)

	students := authed.Group("", a.requireRole(domain.RoleStudent))
	students.POST("/attempts", a.submitAttempt)

	authors := authed.Group("", a.requireAuthor)
	authors.POST("/quizzes", a.createQuiz)
	authors.DELETE("/quizzes/:id", a.deleteQuiz)
	authors.PUT("/students/:id/attendance/:date", a.markAttendance)
	authors.GET("/reports/classes", a.classReport)
	authors.GET("/reports/attendance", a.schoolAttendance)

	// Push notifications out to per-student redis channels.
	c.EventBus.Subscribe(domain.EventNameAttemptRecorded, func(ctx context.Context, e event.Event) error {
		return a.publishAttemptRecorded(ctx, e.(domain.EventAttemptRecorded))
	})
	c.EventBus.Subscribe(domain.EventNameAttendanceMarked, func(ctx context.Context, e event.Event) error {
		return a.publishAttendanceMarked(ctx, e.(domain.EventAttendanceMarked))
	})

	return a
}

type signUpRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Role     string `json:"role" binding:"required"`
	Name     string `json:"name"`
	Class    string `json:"class"`
}

func (a *API) signUp(c *gin.Context) {
	var req signUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	ss, err := a.sessions.SignUp(c.Request.Context(), session.SignUpRequest{
		Email:    req.Email,
		Password: req.Password,
		Role:     domain.Role(req.Role),
		Name:     req.Name,
		Class:    req.Class,
	})
	a.finishAuth(c, ss, err)
}

type signInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (a *API) signIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	ss, err := a.sessions.SignIn(c.Request.Context(), session.SignInRequest{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		telemetry.SignIns.WithLabelValues("failed").Inc()
	} else {
		telemetry.SignIns.WithLabelValues("ready").Inc()
	}
	a.finishAuth(c, ss, err)
}

func (a *API) finishAuth(c *gin.Context, ss domain.Session, err error) {
	if err != nil {
		e := errors.Convert(err)
		c.JSON(e.HTTPStatusCode(), gin.H{
			"error":   e,
			"session": sessionView(ss),
		})
		return
	}

	token, terr := a.issueToken(ss.ID)
	if terr != nil {
		abortWithError(c, terr)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session": sessionView(ss),
		"token":   token,
	})
}

func (a *API) signOut(c *gin.Context) {
	ss := currentSession(c)
	if err := a.sessions.SignOut(c.Request.Context(), ss.ID); err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"session": sessionView(domain.Session{Status: domain.SessionUnauthenticated})})
}

func (a *API) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"session": sessionView(currentSession(c))})
}

func (a *API) createQuiz(c *gin.Context) {
	var req quiz.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}
	req.CreatedBy = currentSession(c).Identity.ID

	q, err := a.quizzes.Create(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"quiz": q})
}

func (a *API) deleteQuiz(c *gin.Context) {
	ss := currentSession(c)
	id := c.Param("id")

	// A teacher may only delete their own quizzes; admins may delete any.
	if ss.Role != domain.RoleAdmin {
		q, err := a.quizzes.Get(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		if q.CreatedBy != ss.Identity.ID {
			abortWithError(c, errors.New(errors.CodePermissionDenied,
				errors.WithMessagef("quiz belongs to another author")))
			return
		}
	}

	if err := a.quizzes.Delete(c.Request.Context(), id); err != nil {
		abortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) listQuizzes(c *gin.Context) {
	ss := currentSession(c)

	var req quiz.ListRequest
	if ss.Role == domain.RoleStudent {
		p, err := a.profiles.Get(c.Request.Context(), ss.Identity.ID)
		if err != nil {
			abortWithError(c, err)
			return
		}
		req.Class = p.Class
	}

	quizzes, err := a.quizzes.List(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"quizzes": quizzes})
}

type submitAttemptRequest struct {
	QuizID string `json:"quiz_id" binding:"required"`
	// Answers maps question index to chosen option index.
	Answers map[int]int `json:"answers" binding:"required"`
}

func (a *API) submitAttempt(c *gin.Context) {
	ss := currentSession(c)

	var req submitAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	q, err := a.quizzes.Get(c.Request.Context(), req.QuizID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	p, err := a.profiles.Get(c.Request.Context(), ss.Identity.ID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if !q.VisibleTo(p.Class) {
		abortWithError(c, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("quiz is not available for class %q", p.Class)))
		return
	}

	res, err := a.attempts.Submit(c.Request.Context(), attempt.SubmitRequest{
		StudentID: ss.Identity.ID,
		Quiz:      *q,
		Answers:   req.Answers,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": res})
}

type markAttendanceRequest struct {
	Status string `json:"status" binding:"required"`
}

func (a *API) markAttendance(c *gin.Context) {
	var req markAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	err := a.profiles.MarkAttendance(c.Request.Context(),
		c.Param("id"), c.Param("date"), domain.AttendanceStatus(req.Status))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) studentReport(c *gin.Context) {
	ss := currentSession(c)
	studentID := c.Param("id")

	// Students see their own report; teachers and admins see anyone's.
	if ss.Role == domain.RoleStudent && ss.Identity.ID != studentID {
		abortWithError(c, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("report belongs to another student")))
		return
	}

	rec, err := a.profiles.Attendance(c.Request.Context(), studentID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	attempts, err := a.profiles.Attempts(c.Request.Context(), studentID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"attendance": report.Attendance(rec),
		"attempts":   attempts,
	})
}

func (a *API) classReport(c *gin.Context) {
	students, err := a.profiles.ListByRole(c.Request.Context(), domain.RoleStudent)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"histogram": report.ClassHistogramDense(students)})
}

func (a *API) schoolAttendance(c *gin.Context) {
	students, err := a.profiles.ListByRole(c.Request.Context(), domain.RoleStudent)
	if err != nil {
		abortWithError(c, err)
		return
	}

	records := make([]domain.AttendanceRecord, 0, len(students))
	for _, s := range students {
		rec, err := a.profiles.Attendance(c.Request.Context(), s.ID)
		if err != nil {
			abortWithError(c, err)
			return
		}
		records = append(records, rec)
	}

	c.JSON(http.StatusOK, gin.H{"attendance": report.SchoolWide(records)})
}

type sessionJSON struct {
	ID     string               `json:"id,omitempty"`
	Email  string               `json:"email,omitempty"`
	Role   domain.Role          `json:"role,omitempty"`
	Status domain.SessionStatus `json:"status"`
	Reason string               `json:"reason,omitempty"`
}

func sessionView(ss domain.Session) sessionJSON {
	v := sessionJSON{
		ID:     ss.ID,
		Role:   ss.Role,
		Status: ss.Status,
		Reason: ss.Reason,
	}
	if ss.Identity != nil {
		v.Email = ss.Identity.Email
	}
	return v
}

func abortWithError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{"error": e})
}
