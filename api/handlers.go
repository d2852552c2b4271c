package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"roadmap-api/csvimport"
	"roadmap-api/domain"
)

// RoadmapNotFoundError is implemented by storage errors signalling that an
// enrollment has no roadmap yet.
type RoadmapNotFoundError interface {
	error
	RoadmapNotFound()
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, auth Authenticator, deduper Deduper, logger *log.Logger) {
	e.GET("/api/enrollments", getEnrollments(store, auth))
	e.GET("/api/roadmaps", getRoadmap(store, auth, logger))
	e.POST("/api/roadmaps", postRoadmap(store, auth, deduper, logger))
	e.POST("/api/commands", postCommands(store, auth, deduper, logger))
	e.POST("/api/roadmaps/import", importRoadmapCSV(auth))
	e.GET("/api/roadmaps/template", getTemplate(auth))
	e.GET("/api/outbox/stats", getOutboxStatsHandler(auth))
	e.GET("/healthz", healthz(store))

	initCommandSender(store, logger)
}

type enrollmentsResponse struct {
	Enrollments []domain.Enrollment `json:"enrollments"`
}

func healthz(_ Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func getEnrollments(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		enrollments, err := store.FetchEnrollments(ctx, userID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, enrollmentsResponse{Enrollments: enrollments})
	}
}

func getRoadmap(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newRoadmapRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		enrollmentID := strings.TrimSpace(c.QueryParam("enrollmentId"))
		if enrollmentID == "" {
			metrics.SetErrorStage("missing_enrollment_id")
			err = c.String(http.StatusBadRequest, "enrollmentId is required")
			return err
		}

		fetchStart := time.Now()
		roadmap, fetchErr := store.FetchRoadmap(ctx, userID, enrollmentID)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			var notFound RoadmapNotFoundError
			if errors.As(fetchErr, &notFound) {
				metrics.SetErrorStage("not_found")
				err = c.String(http.StatusNotFound, "no roadmap for enrollment")
				return err
			}
			metrics.SetErrorStage("storage")
			c.Logger().Error(fetchErr)
			err = c.String(http.StatusInternalServerError, fetchErr.Error())
			return err
		}

		metrics.SetMilestonesReturned(len(roadmap.Milestones))
		progress := domain.Summarize(roadmap, time.Now())
		metrics.SetTasksReturned(progress.TotalTasks)

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, roadmapResponse{Roadmap: roadmap, Progress: progress})
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func postRoadmap(store Storage, auth Authenticator, deduper Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		lr := io.LimitReader(c.Request().Body, importMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()

		var req createRoadmapRequest
		if err := dec.Decode(&req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		req.EnrollmentID = strings.TrimSpace(req.EnrollmentID)
		req.Title = strings.TrimSpace(req.Title)
		if req.EnrollmentID == "" || req.Title == "" {
			return c.String(http.StatusBadRequest, "enrollmentId and title are required")
		}

		enrollments, err := store.FetchEnrollments(ctx, userID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if !hasEnrollment(enrollments, req.EnrollmentID) {
			return c.String(http.StatusNotFound, "enrollment not found")
		}

		roadmap := domain.Roadmap{
			ID:           uuid.NewString(),
			EnrollmentID: req.EnrollmentID,
			Title:        req.Title,
			Description:  req.Description,
			Milestones:   req.Milestones,
		}
		roadmap.Normalize()

		data, err := sonic.Marshal(domain.RoadmapCreatedData{
			RoadmapID:    roadmap.ID,
			EnrollmentID: roadmap.EnrollmentID,
			Title:        roadmap.Title,
			Description:  roadmap.Description,
			Milestones:   roadmap.Milestones,
		})
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to encode roadmap")
		}

		cmds := []domain.Command{{
			EntityType: domain.EntityRoadmap,
			Type:       domain.RoadmapCreated,
			Data:       data,
		}}
		keys := finalizeCommands(cmds)

		if err := submitCommands(ctx, c, store, deduper, logger, userID, cmds); err != nil {
			return err
		}
		return c.JSON(http.StatusAccepted, createRoadmapResponse{RoadmapID: roadmap.ID, IdempotencyKeys: keys})
	}
}

func postCommands(store Storage, auth Authenticator, deduper Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		lr := io.LimitReader(c.Request().Body, postCommandMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()

		cmds := make([]domain.Command, 0, 4)
		if err := dec.Decode(&cmds); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if len(cmds) == 0 {
			return c.JSON(http.StatusAccepted, postCommandResponse{})
		}

		keys := finalizeCommands(cmds)
		if err := submitCommands(ctx, c, store, deduper, logger, userID, cmds); err != nil {
			return err
		}
		return c.JSON(http.StatusAccepted, postCommandResponse{IdempotencyKeys: keys})
	}
}

// submitCommands records idempotency keys, hands fresh commands to the
// durable outbox, and falls back to an inline enqueue when the outbox is
// saturated. Returns an echo error response when the submission failed; the
// caller writes the success response.
func submitCommands(ctx context.Context, c echo.Context, store Storage, deduper Deduper, logger *log.Logger, userID string, cmds []domain.Command) error {
	fresh := cmds
	var added []domain.Command
	if deduper != nil {
		results, err := deduper.AddCommands(ctx, userID, cmds)
		if err != nil {
			rollbackCommands(deduper, userID, commandsWhere(cmds, results))
			c.Logger().Errorf("deduper failed: %v", err)
			return c.String(http.StatusInternalServerError, "failed to record commands")
		}
		fresh = make([]domain.Command, 0, len(cmds))
		for i := range cmds {
			if results[i] {
				fresh = append(fresh, cmds[i])
			}
		}
		added = fresh
		// Every command was a duplicate: the original submission already
		// carried them, so this retry is complete.
		if len(fresh) == 0 {
			return nil
		}
	}

	job := enqueueJob{userID: userID, cmds: fresh, added: idempotencyKeys(added)}
	err := enqueueCommands(job)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errOutboxSaturated) {
		rollbackCommands(deduper, userID, added)
		c.Logger().Errorf("outbox enqueue failed: %v", err)
		return c.String(http.StatusInternalServerError, "failed to enqueue commands")
	}

	if logger != nil {
		logger.Warn("command outbox saturated; processing inline")
	}
	inlineCtx, cancel := context.WithTimeout(context.Background(), envDur("ENQUEUE_TIMEOUT", 60*time.Second))
	defer cancel()
	if err := store.EnqueueCommands(inlineCtx, userID, fresh); err != nil {
		rollbackCommands(deduper, userID, added)
		c.Logger().Errorf("enqueue inline failed: %v", err)
		return c.String(http.StatusInternalServerError, "failed to enqueue commands")
	}
	return nil
}

func commandsWhere(cmds []domain.Command, results []bool) []domain.Command {
	out := make([]domain.Command, 0, len(cmds))
	for i := range results {
		if i < len(cmds) && results[i] {
			out = append(out, cmds[i])
		}
	}
	return out
}

func idempotencyKeys(cmds []domain.Command) []string {
	if len(cmds) == 0 {
		return nil
	}
	keys := make([]string, len(cmds))
	for i := range cmds {
		keys[i] = cmds[i].IdempotencyKey
	}
	return keys
}

func rollbackCommands(deduper Deduper, userID string, cmds []domain.Command) {
	if deduper == nil {
		return
	}
	for _, cmd := range cmds {
		_ = deduper.RemoveCommand(context.Background(), userID, cmd)
	}
}

func hasEnrollment(enrollments []domain.Enrollment, id string) bool {
	for _, e := range enrollments {
		if e.ID == id {
			return true
		}
	}
	return false
}

func importRoadmapCSV(auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		if !isCSVContentType(c.Request().Header.Get(echo.HeaderContentType)) {
			return c.String(http.StatusUnsupportedMediaType, "expected a text/csv body")
		}

		body, err := io.ReadAll(io.LimitReader(c.Request().Body, importMaxSize))
		if err != nil {
			return c.String(http.StatusBadRequest, "failed to read body")
		}

		milestones, parseErr := parseCSV(string(body))
		if parseErr != nil {
			c.Logger().Errorf("csv import: %v", parseErr)
			return c.String(http.StatusBadRequest, importParseErrorMessage)
		}

		tasks := 0
		for _, m := range milestones {
			tasks += len(m.Tasks)
		}
		return c.JSON(http.StatusOK, importResponse{
			Milestones: milestones,
			Count:      importCounts{Milestones: len(milestones), Tasks: tasks},
		})
	}
}

// parseCSV shields the handler from parser panics on unexpected input; the
// parser itself never reports malformed rows, it skips them.
func parseCSV(text string) (milestones []domain.Milestone, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("csv parse panic: %v", r)
		}
	}()
	return csvimport.Parse(text), nil
}

func isCSVContentType(header string) bool {
	mediaType := strings.TrimSpace(strings.SplitN(header, ";", 2)[0])
	switch strings.ToLower(mediaType) {
	case "text/csv", "application/csv", "text/plain":
		return true
	}
	return false
}

func getOutboxStatsHandler(auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		stats, err := getOutboxStats()
		if err != nil {
			return c.String(http.StatusServiceUnavailable, err.Error())
		}
		return c.JSON(http.StatusOK, stats)
	}
}

func getTemplate(auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+csvimport.TemplateFilename+`"`)
		return c.Blob(http.StatusOK, "text/csv", []byte(csvimport.Template()))
	}
}
