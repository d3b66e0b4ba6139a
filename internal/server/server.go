// Package server exposes the rebuild tracker over HTTP.
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

	"freshline/internal/domain"
	"freshline/internal/engine"
	"freshline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	BaseURL  string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"artifact build 42 not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Freshline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Freshline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	urls := urlBuilder{base: cfg.BaseURL, apiPath: basePath}

	registerDocs(router, basePath)
	registerHealth(group)
	registerEvents(group, cfg.Engine, urls)
	registerBuilds(group, cfg.Engine, urls)
	registerAudit(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

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
	var ve *domain.ValueError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{
			"field": ve.Field,
			"valid": ve.Valid,
		})
	}
	var uk *domain.UnknownKindError
	if errors.As(err, &uk) {
		return newAPIError(http.StatusBadRequest, "unknown_event_kind", err.Error(), map[string]any{"kind": uk.Kind})
	}
	var uc *domain.UnknownCodeError
	if errors.As(err, &uc) {
		return newAPIError(http.StatusBadRequest, "unknown_event_code", err.Error(), map[string]any{"code": uc.Code})
	}
	var pd *engine.PolicyDeniedError
	if errors.As(err, &pd) {
		return newAPIError(http.StatusForbidden, "policy_denied", err.Error(), map[string]any{
			"name": pd.Name,
			"type": pd.Type.String(),
		})
	}
	var ce *domain.CycleError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusInternalServerError, "dependency_cycle", err.Error(), map[string]any{"build_id": ce.BuildID})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrConflict) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "missing") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
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
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Freshline API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
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

func registerEvents(api huma.API, e engine.Engine, urls urlBuilder) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-event",
		Method:        http.MethodPost,
		Path:          "/events",
		Summary:       "Get or create an event",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateEventRequest `json:"body"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		if input.Body.MessageID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "message_id is required", nil)
		}
		kind, err := parseKindValue(input.Body.Kind)
		if err != nil {
			return nil, handleError(err)
		}
		ev, created, err := e.GetOrCreateEvent(ctx, engine.EventOptions{
			MessageID: input.Body.MessageID,
			SearchKey: input.Body.SearchKey,
			Kind:      kind,
			Released:  input.Body.Released,
			ComposeID: input.Body.ComposeID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := eventResponse(ev, urls)
		resp.Created = &created
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Kind      string `query:"kind"`
		SearchKey string `query:"search_key"`
		Released  string `query:"released" enum:",true,false"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    int64  `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		f := repo.EventFilters{
			SearchKey: input.SearchKey,
			Limit:     normalizeLimit(input.Limit) + 1,
			CursorID:  input.Cursor,
		}
		if input.Kind != "" {
			kind, err := domain.ParseEventKind(input.Kind)
			if err != nil {
				return nil, handleError(err)
			}
			f.Kind = kind
		}
		switch input.Released {
		case "true":
			t := true
			f.Released = &t
		case "false":
			fa := false
			f.Released = &fa
		}
		events, err := e.Repo.ListEvents(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(events) > limit {
			events = events[:limit]
			resp.NextCursor = events[limit-1].ID
		}
		for _, ev := range events {
			resp.Items = append(resp.Items, eventResponse(ev, urls))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-event",
		Method:      http.MethodGet,
		Path:        "/events/{id}",
		Summary:     "Get event",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		ev, err := e.Repo.GetEvent(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		builds, err := e.Repo.ListEventBuilds(ctx, ev.ID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := eventResponse(ev, urls)
		resp.Builds = buildSummaries(builds)
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-event-released",
		Method:      http.MethodPatch,
		Path:        "/events/{id}/released",
		Summary:     "Set the released flag",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body struct {
			Released bool `json:"released"`
		} `json:"body"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		if err := e.SetEventReleased(ctx, input.ID, input.Body.Released); err != nil {
			return nil, handleError(err)
		}
		ev, err := e.Repo.GetEvent(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: eventResponse(ev, urls)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-event-dependency",
		Method:        http.MethodPost,
		Path:          "/events/{id}/dependencies",
		Summary:       "Record that the event was caused by another event",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body struct {
			DependsOnID int64 `json:"depends_on_id"`
		} `json:"body"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if err := e.AddEventDependency(ctx, input.ID, input.Body.DependsOnID); err != nil {
			return nil, handleError(err)
		}
		deps, err := e.EventDependencies(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: eventResponses(deps, urls)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-event-dependencies",
		Method:      http.MethodGet,
		Path:        "/events/{id}/dependencies",
		Summary:     "List the events this event depends on",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		deps, err := e.EventDependencies(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: eventResponses(deps, urls)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-event-builds",
		Method:      http.MethodGet,
		Path:        "/events/{id}/builds",
		Summary:     "List the event's builds",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body []BuildResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetEvent(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		builds, err := e.Repo.ListEventBuilds(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []BuildResponse `json:"body"`
		}{Body: buildResponses(ctx, e, builds, urls)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-event-builds",
		Method:      http.MethodPatch,
		Path:        "/events/{id}/builds/state",
		Summary:     "Transition every build of the event",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   int64                  `path:"id"`
		Body TransitionStateRequest `json:"body"`
	}) (*struct {
		Body []BuildResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetEvent(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		state, err := domain.ParseBuildState("state", input.Body.State)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.TransitionEventBuilds(ctx, input.ID, state, input.Body.Reason); err != nil {
			return nil, handleError(err)
		}
		builds, err := e.Repo.ListEventBuilds(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []BuildResponse `json:"body"`
		}{Body: buildResponses(ctx, e, builds, urls)}, nil
	})
}

func registerBuilds(api huma.API, e engine.Engine, urls urlBuilder) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-build",
		Method:        http.MethodPost,
		Path:          "/builds",
		Summary:       "Create an artifact build",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateBuildRequest `json:"body"`
	}) (*struct {
		Body BuildResponse `json:"body"`
	}, error) {
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		typ, err := domain.ParseArtifactType("type", input.Body.Type)
		if err != nil {
			return nil, handleError(err)
		}
		opts := engine.BuildCreateOptions{
			EventID:     input.Body.EventID,
			Name:        input.Body.Name,
			Type:        typ,
			OriginalNVR: input.Body.OriginalNVR,
			DepOnID:     input.Body.DepOnID,
			BuildID:     input.Body.BuildID,
			BuildArgs:   input.Body.BuildArgs,
		}
		if input.Body.State != nil {
			state, err := domain.ParseBuildState("state", input.Body.State)
			if err != nil {
				return nil, handleError(err)
			}
			opts.State = &state
		}
		b, err := e.CreateBuild(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BuildResponse `json:"body"`
		}{Body: buildResponse(ctx, e, b, urls)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-builds",
		Method:      http.MethodGet,
		Path:        "/builds",
		Summary:     "List builds",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		EventID int64  `query:"event_id"`
		State   string `query:"state"`
		Type    string `query:"type"`
		Name    string `query:"name"`
		Limit   int    `query:"limit" default:"50"`
		Cursor  int64  `query:"cursor"`
	}) (*struct {
		Body paginatedBuilds `json:"body"`
	}, error) {
		f := repo.BuildFilters{
			EventID:  input.EventID,
			Name:     input.Name,
			Limit:    normalizeLimit(input.Limit) + 1,
			CursorID: input.Cursor,
		}
		if input.State != "" {
			state, err := domain.ParseBuildState("state", input.State)
			if err != nil {
				return nil, handleError(err)
			}
			f.State = &state
		}
		if input.Type != "" {
			typ, err := domain.ParseArtifactType("type", input.Type)
			if err != nil {
				return nil, handleError(err)
			}
			f.Type = &typ
		}
		builds, err := e.Repo.ListBuilds(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		resp := paginatedBuilds{Items: []BuildResponse{}}
		if len(builds) > limit {
			builds = builds[:limit]
			resp.NextCursor = builds[limit-1].ID
		}
		resp.Items = buildResponses(ctx, e, builds, urls)
		return &struct {
			Body paginatedBuilds `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-build",
		Method:      http.MethodGet,
		Path:        "/builds/{id}",
		Summary:     "Get build",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body BuildResponse `json:"body"`
	}, error) {
		b, err := e.Repo.GetBuild(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BuildResponse `json:"body"`
		}{Body: buildResponse(ctx, e, b, urls)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-build",
		Method:      http.MethodPatch,
		Path:        "/builds/{id}/state",
		Summary:     "Transition a build, cascading failures to dependents",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   int64                  `path:"id"`
		Body TransitionStateRequest `json:"body"`
	}) (*struct {
		Body BuildResponse `json:"body"`
	}, error) {
		state, err := domain.ParseBuildState("state", input.Body.State)
		if err != nil {
			return nil, handleError(err)
		}
		b, err := e.Transition(ctx, input.ID, state, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BuildResponse `json:"body"`
		}{Body: buildResponse(ctx, e, b, urls)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-build",
		Method:      http.MethodPatch,
		Path:        "/builds/{id}",
		Summary:     "Record build-system id or rebuilt NVR",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   int64              `path:"id"`
		Body UpdateBuildRequest `json:"body"`
	}) (*struct {
		Body BuildResponse `json:"body"`
	}, error) {
		if input.Body.BuildID == nil && input.Body.RebuiltNVR == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "build_id or rebuilt_nvr is required", nil)
		}
		b, err := e.Repo.GetBuild(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Body.BuildID != nil {
			b, err = e.MarkBuildSubmitted(ctx, input.ID, *input.Body.BuildID)
			if err != nil {
				return nil, handleError(err)
			}
		}
		if input.Body.RebuiltNVR != nil {
			b, err = e.SetRebuiltNVR(ctx, input.ID, *input.Body.RebuiltNVR)
			if err != nil {
				return nil, handleError(err)
			}
		}
		return &struct {
			Body BuildResponse `json:"body"`
		}{Body: buildResponse(ctx, e, b, urls)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-build-dependents",
		Method:      http.MethodGet,
		Path:        "/builds/{id}/dependents",
		Summary:     "List builds depending on this build",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body []BuildResponse `json:"body"`
	}, error) {
		deps, err := e.Dependents(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []BuildResponse `json:"body"`
		}{Body: buildResponses(ctx, e, deps, urls)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-build-root",
		Method:      http.MethodGet,
		Path:        "/builds/{id}/root",
		Summary:     "Resolve the top of the build's dependency chain",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body *BuildResponse `json:"body"`
	}, error) {
		root, err := e.RootDependency(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		var body *BuildResponse
		if root != nil {
			resp := buildResponse(ctx, e, *root, urls)
			body = &resp
		}
		return &struct {
			Body *BuildResponse `json:"body"`
		}{Body: body}, nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "List audit entries after a cursor",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Cursor int64 `query:"cursor"`
		Limit  int   `query:"limit" default:"100"`
	}) (*struct {
		Body []AuditResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 100
		}
		entries, err := e.Repo.AuditAfter(ctx, limit, input.Cursor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AuditResponse `json:"body"`
		}{Body: auditResponses(entries)}, nil
	})
}

func normalizeLimit(n int) int {
	if n <= 0 {
		return 50
	}
	if n > 200 {
		return 200
	}
	return n
}

// parseKindValue accepts either a kind name or its numeric code.
func parseKindValue(v any) (domain.EventKind, error) {
	switch k := v.(type) {
	case string:
		return domain.ParseEventKind(k)
	case float64:
		return domain.KindOf(int(k))
	case int:
		return domain.KindOf(k)
	case nil:
		return "", &domain.UnknownKindError{Kind: ""}
	default:
		return "", &domain.UnknownKindError{Kind: fmt.Sprintf("%v", v)}
	}
}
