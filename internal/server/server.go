package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"planline/internal/app"
	"planline/internal/config"
	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid scheduled-task transition PLANNED -> COMPLETED"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Planline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Planline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerBlocks(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerPlan(group, cfg.Engine)
	registerSched(group, cfg.Engine)
	registerAnalytics(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerUserConfig(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var te *engine.InvalidTransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{
			"from": te.From, "to": te.To,
		})
	}
	switch {
	case errors.Is(err, engine.ErrInvalidInput):
		return newAPIError(http.StatusBadRequest, "invalid_input", err.Error(), nil)
	case errors.Is(err, engine.ErrNoCapacity):
		return newAPIError(http.StatusConflict, "no_capacity", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") ||
		strings.Contains(lowered, "required") || strings.Contains(lowered, "must be") {
		return newAPIError(http.StatusBadRequest, "invalid_input", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_input"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// engineForUser rebinds the shared engine to one user's planner config,
// seeding the user and defaults on first contact.
func engineForUser(ctx context.Context, base engine.Engine, userID string) (engine.Engine, error) {
	if userID == "" {
		return base, fmt.Errorf("%w: user_id is required", engine.ErrInvalidInput)
	}
	_, cfg, err := app.ResolveUserAndConfig(ctx, userID, base.Repo)
	if err != nil {
		return base, err
	}
	bound := base
	bound.Config = cfg
	return bound, nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Planline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "user-status",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/status",
		Summary:     "User planning status",
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		u, err := e.Repo.GetUser(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := e.Repo.CountTasksByStatus(ctx, u.ID)
		if err != nil {
			return nil, handleError(err)
		}
		active, err := e.Repo.ListScheduled(ctx, repo.ScheduledFilters{UserID: u.ID, ActiveOnly: true})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"user_id":          u.ID,
			"task_counts":      counts,
			"active_scheduled": len(active),
		}}, nil
	})
}

func registerBlocks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-block",
		Method:        http.MethodPost,
		Path:          "/blocks",
		Summary:       "Register energy block",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateBlockRequest `json:"body"`
	}) (*struct {
		Body domain.EnergyBlock `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ue, err := engineForUser(ctx, e, input.Body.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		workdays := true
		if input.Body.AppliesOnWorkdays != nil {
			workdays = *input.Body.AppliesOnWorkdays
		}
		opts := engine.BlockCreateOptions{
			UserID:            input.Body.UserID,
			Name:              input.Body.Name,
			StartTime:         input.Body.StartTime,
			EndTime:           input.Body.EndTime,
			RequiredEnergy:    input.Body.RequiredEnergy,
			PrimaryContext:    input.Body.PrimaryContext,
			AlternateContexts: input.Body.AlternateContexts,
			IsBreak:           input.Body.IsBreak,
			AppliesOnWorkdays: workdays,
			AppliesOnWeekends: input.Body.AppliesOnWeekends,
			AppliesOnHolidays: input.Body.AppliesOnHolidays,
			SortOrder:         input.Body.SortOrder,
			ActorID:           actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		b, err := ue.CreateBlock(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.EnergyBlock `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-blocks",
		Method:      http.MethodGet,
		Path:        "/blocks",
		Summary:     "List energy blocks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		UserID     string `query:"user_id"`
		ActiveOnly bool   `query:"active_only"`
	}) (*struct {
		Body []domain.EnergyBlock `json:"body"`
	}, error) {
		if input.UserID == "" {
			return nil, newAPIError(http.StatusBadRequest, "invalid_input", "user_id is required", nil)
		}
		items, err := e.Repo.ListBlocks(ctx, repo.BlockFilters{UserID: input.UserID, ActiveOnly: input.ActiveOnly})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.EnergyBlock `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-block",
		Method:      http.MethodGet,
		Path:        "/blocks/{block_id}",
		Summary:     "Get energy block",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		BlockID string `path:"block_id"`
	}) (*struct {
		Body domain.EnergyBlock `json:"body"`
	}, error) {
		b, err := e.Repo.GetBlock(ctx, input.BlockID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.EnergyBlock `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-block",
		Method:      http.MethodPatch,
		Path:        "/blocks/{block_id}",
		Summary:     "Update energy block",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		BlockID string             `path:"block_id"`
		Body    UpdateBlockRequest `json:"body"`
	}) (*struct {
		Body domain.EnergyBlock `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.UpdateBlock(ctx, engine.BlockUpdateOptions{
			ID:                input.BlockID,
			Name:              input.Body.Name,
			StartTime:         input.Body.StartTime,
			EndTime:           input.Body.EndTime,
			RequiredEnergy:    input.Body.RequiredEnergy,
			PrimaryContext:    input.Body.PrimaryContext,
			AlternateContexts: input.Body.AlternateContexts,
			SortOrder:         input.Body.SortOrder,
			IsActive:          input.Body.IsActive,
			ActorID:           actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.EnergyBlock `json:"body"`
		}{Body: b}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Add task to the pool",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ue, err := engineForUser(ctx, e, input.Body.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		opts := engine.TaskCreateOptions{
			UserID:            input.Body.UserID,
			Title:             input.Body.Title,
			Priority:          input.Body.Priority,
			EstimatedDuration: input.Body.EstimatedDuration,
			RequiredContext:   input.Body.RequiredContext,
			ActorID:           actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.DueDate != nil {
			opts.DueDate = *input.Body.DueDate
		}
		if input.Body.RequiredEnergy != nil {
			opts.RequiredEnergy = *input.Body.RequiredEnergy
		}
		t, err := ue.CreateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id"`
		Status string `query:"status"`
		Limit  int    `query:"limit"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		if input.UserID == "" {
			return nil, newAPIError(http.StatusBadRequest, "invalid_input", "user_id is required", nil)
		}
		items, err := e.Repo.ListTasks(ctx, repo.TaskFilters{UserID: input.UserID, Status: input.Status, Limit: input.Limit})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UpdateTask(ctx, engine.TaskUpdateOptions{
			ID:                input.TaskID,
			Title:             input.Body.Title,
			Priority:          input.Body.Priority,
			Status:            input.Body.Status,
			DueDate:           input.Body.DueDate,
			EstimatedDuration: input.Body.EstimatedDuration,
			RequiredContext:   input.Body.RequiredContext,
			RequiredEnergy:    input.Body.RequiredEnergy,
			ActorID:           actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})
}

func registerPlan(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "plan-run",
		Method:      http.MethodPost,
		Path:        "/plan/run",
		Summary:     "Schedule tasks over a date range",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body PlanRunRequest `json:"body"`
	}) (*struct {
		Body PlanResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ue, err := engineForUser(ctx, e, input.Body.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := ue.ScheduleTasks(ctx, input.Body.UserID, input.Body.From, input.Body.To, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanResponse `json:"body"`
		}{Body: planResponse(res)}, nil
	})
}

func registerSched(api huma.API, e engine.Engine) {
	type schedPath struct {
		SchedID string `path:"sched_id"`
	}
	type schedResponse struct {
		Body domain.ScheduledTask `json:"body"`
	}
	withUserEngine := func(ctx context.Context, schedID string) (engine.Engine, error) {
		s, err := e.Repo.GetScheduled(ctx, schedID)
		if err != nil {
			return e, err
		}
		return engineForUser(ctx, e, s.UserID)
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-scheduled",
		Method:      http.MethodGet,
		Path:        "/sched",
		Summary:     "List scheduled tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		UserID  string `query:"user_id"`
		BlockID string `query:"block_id"`
		TaskID  string `query:"task_id"`
		From    string `query:"from"`
		To      string `query:"to"`
		Status  string `query:"status"`
	}) (*struct {
		Body []domain.ScheduledTask `json:"body"`
	}, error) {
		if input.UserID == "" {
			return nil, newAPIError(http.StatusBadRequest, "invalid_input", "user_id is required", nil)
		}
		items, err := e.Repo.ListScheduled(ctx, repo.ScheduledFilters{
			UserID:   input.UserID,
			BlockID:  input.BlockID,
			TaskID:   input.TaskID,
			DateFrom: input.From,
			DateTo:   input.To,
			Status:   input.Status,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ScheduledTask `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-scheduled",
		Method:      http.MethodGet,
		Path:        "/sched/{sched_id}",
		Summary:     "Get scheduled task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *schedPath) (*schedResponse, error) {
		s, err := e.Repo.GetScheduled(ctx, input.SchedID)
		if err != nil {
			return nil, handleError(err)
		}
		return &schedResponse{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-scheduled",
		Method:      http.MethodPost,
		Path:        "/sched/{sched_id}/start",
		Summary:     "Start a scheduled task",
		Errors:      []int{http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *schedPath) (*schedResponse, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ue, err := withUserEngine(ctx, input.SchedID)
		if err != nil {
			return nil, handleError(err)
		}
		s, err := ue.StartTask(ctx, input.SchedID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &schedResponse{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-scheduled",
		Method:      http.MethodPost,
		Path:        "/sched/{sched_id}/complete",
		Summary:     "Complete a scheduled task",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SchedID string                   `path:"sched_id"`
		Body    CompleteScheduledRequest `json:"body"`
	}) (*schedResponse, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ue, err := withUserEngine(ctx, input.SchedID)
		if err != nil {
			return nil, handleError(err)
		}
		s, err := ue.CompleteTask(ctx, input.SchedID, input.Body.ActualDuration, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &schedResponse{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-scheduled",
		Method:      http.MethodPost,
		Path:        "/sched/{sched_id}/cancel",
		Summary:     "Cancel a scheduled task",
		Errors:      []int{http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *schedPath) (*schedResponse, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ue, err := withUserEngine(ctx, input.SchedID)
		if err != nil {
			return nil, handleError(err)
		}
		s, err := ue.CancelTask(ctx, input.SchedID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &schedResponse{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reschedule-scheduled",
		Method:      http.MethodPost,
		Path:        "/sched/{sched_id}/reschedule",
		Summary:     "Reschedule a scheduled task",
		Errors:      []int{http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SchedID string                     `path:"sched_id"`
		Body    RescheduleScheduledRequest `json:"body"`
	}) (*schedResponse, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ue, err := withUserEngine(ctx, input.SchedID)
		if err != nil {
			return nil, handleError(err)
		}
		s, err := ue.RescheduleTask(ctx, input.SchedID, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &schedResponse{Body: s}, nil
	})
}

func registerAnalytics(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-analytics",
		Method:      http.MethodGet,
		Path:        "/analytics",
		Summary:     "List energy analytics",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		UserID  string `query:"user_id"`
		BlockID string `query:"block_id"`
		Date    string `query:"date"`
		From    string `query:"from"`
		To      string `query:"to"`
	}) (*struct {
		Body []domain.EnergyAnalytics `json:"body"`
	}, error) {
		if input.UserID == "" {
			return nil, newAPIError(http.StatusBadRequest, "invalid_input", "user_id is required", nil)
		}
		items, err := e.Repo.ListAnalytics(ctx, repo.AnalyticsFilters{
			UserID:   input.UserID,
			BlockID:  input.BlockID,
			Date:     input.Date,
			DateFrom: input.From,
			DateTo:   input.To,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.EnergyAnalytics `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recompute-analytics",
		Method:      http.MethodPost,
		Path:        "/analytics/recompute",
		Summary:     "Recompute daily analytics",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body RecomputeAnalyticsRequest `json:"body"`
	}) (*struct {
		Body []domain.EnergyAnalytics `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ue, err := engineForUser(ctx, e, input.Body.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := ue.RecomputeDailyAnalytics(ctx, input.Body.UserID, input.Body.Date, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.EnergyAnalytics `json:"body"`
		}{Body: items}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Latest events",
	}, func(ctx context.Context, input *struct {
		UserID     string `query:"user_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		items, err := e.Repo.LatestEvents(ctx, limit, input.UserID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

func registerUserConfig(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-user-config",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/config",
		Summary:     "Get planner config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*struct {
		Body config.Config `json:"body"`
	}, error) {
		cfg, err := e.Repo.GetUserConfig(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body config.Config `json:"body"`
		}{Body: *cfg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-user-config",
		Method:      http.MethodPut,
		Path:        "/users/{user_id}/config",
		Summary:     "Replace planner config",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UserID string        `path:"user_id"`
		Body   config.Config `json:"body"`
	}) (*struct {
		Body config.Config `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetUser(ctx, input.UserID); err != nil {
			return nil, handleError(err)
		}
		cfg := input.Body
		if err := e.Repo.UpsertUserConfig(ctx, input.UserID, &cfg); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body config.Config `json:"body"`
		}{Body: cfg}, nil
	})
}
