package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"civicdesk/internal/bot"
	"civicdesk/internal/engine"
	"civicdesk/internal/projection"
	"civicdesk/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine     engine.Engine
	Projection projection.Service
	Bot        bot.Responder
	BasePath   string
	UploadsDir string
	Auth       AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"illegal_transition"`
	Message string         `json:"message" example:"cannot move a resolved complaint"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"status\":\"resolved\"}"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the CivicDesk API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(cfg.Auth))
	hcfg := huma.DefaultConfig("CivicDesk API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerSubmit(group, cfg.Engine, cfg.UploadsDir)
	registerStatusUpdate(group, cfg.Engine)
	registerClassify(group, cfg.Engine)
	registerComplaints(group, cfg.Projection)
	registerMyComplaints(group, cfg.Projection)
	registerBot(group, cfg.Bot)
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
	var verr *engine.ValidationError
	if errors.As(err, &verr) {
		return newAPIError(http.StatusBadRequest, "bad_request", verr.Msg, nil)
	}
	if errors.Is(err, engine.ErrIllegalTransition) {
		return newAPIError(http.StatusUnprocessableEntity, "illegal_transition", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", "complaint not found", nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "illegal_transition"
	case http.StatusUnauthorized:
		return "unauthorized"
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
			spec, _ = oas.MarshalJSON()
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
    <title>CivicDesk API Docs</title>
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

func registerSubmit(api huma.API, e engine.Engine, uploadsDir string) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-complaint",
		Method:      http.MethodPost,
		Path:        "/submit-complaint",
		Summary:     "Submit a complaint",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		RawBody multipart.Form
	}) (*struct {
		Body StatusMessageResponse `json:"body"`
	}, error) {
		form := input.RawBody
		opts := engine.SubmitOptions{
			UserID:      formValue(form, "userId"),
			UserName:    formValue(form, "userName"),
			Mobile:      formValue(form, "mobile"),
			Description: formValue(form, "description"),
		}
		lat, err := coordinateField(form, "lat", "latitude")
		if err != nil {
			return nil, err
		}
		opts.Lat = lat
		lng, err := coordinateField(form, "lng", "longitude")
		if err != nil {
			return nil, err
		}
		opts.Lng = lng
		if files := form.File["image"]; len(files) > 0 {
			stored, err := saveUpload(files[0], uploadsDir)
			if err != nil {
				return nil, newAPIError(http.StatusInternalServerError, "internal_error", "failed to store image", map[string]any{"error": err.Error()})
			}
			opts.ImagePath = stored
		}
		if _, err := e.Submit(ctx, opts); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusMessageResponse `json:"body"`
		}{Body: StatusMessageResponse{
			Success: true,
			Message: "Complaint saved successfully",
		}}, nil
	})
}

// coordinateField reads a coordinate from the form under its canonical
// name, accepting the long-form alias older clients send.
func coordinateField(form multipart.Form, name, alias string) (*float64, error) {
	raw := formValue(form, name)
	if raw == "" {
		raw = formValue(form, alias)
	}
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid "+name, map[string]any{name: raw})
	}
	return &v, nil
}

func registerStatusUpdate(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "update-complaint-status",
		Method:      http.MethodPost,
		Path:        "/update-complaint-status",
		Summary:     "Update complaint status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body UpdateStatusRequest `json:"body"`
	}) (*struct {
		Body StatusMessageResponse `json:"body"`
	}, error) {
		if input.Body.ComplaintID == "" || input.Body.Status == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "complaintId and status are required", nil)
		}
		actor := resolveActor(ctx, input.Body.AdminName)
		if _, err := e.Transition(ctx, input.Body.ComplaintID, input.Body.Status, actor, input.Body.Forced); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusMessageResponse `json:"body"`
		}{Body: StatusMessageResponse{
			Success: true,
			Message: fmt.Sprintf("Status updated to %s", input.Body.Status),
		}}, nil
	})
}

func registerClassify(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "classify-complaint",
		Method:      http.MethodPost,
		Path:        "/classify-complaint",
		Summary:     "Classify a complaint",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body ClassifyRequest `json:"body"`
	}) (*struct {
		Body StatusMessageResponse `json:"body"`
	}, error) {
		if input.Body.ComplaintID == "" || input.Body.Department == "" || input.Body.Priority == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "complaintId, department and priority are required", nil)
		}
		actor := resolveActor(ctx, input.Body.AdminName)
		c, err := e.Classify(ctx, input.Body.ComplaintID, input.Body.Department, input.Body.Priority, actor)
		if err != nil {
			return nil, handleError(err)
		}
		deadline := ""
		if c.Deadline != nil {
			deadline = *c.Deadline
		}
		return &struct {
			Body StatusMessageResponse `json:"body"`
		}{Body: StatusMessageResponse{
			Success: true,
			Message: fmt.Sprintf("Complaint classified, deadline %s", deadline),
		}}, nil
	})
}

func registerComplaints(api huma.API, p projection.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-complaints",
		Method:      http.MethodGet,
		Path:        "/complaints",
		Summary:     "List all complaints",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Department string `query:"department"`
	}) (*struct {
		Body OverviewResponse `json:"body"`
	}, error) {
		ov, err := p.AllComplaints(ctx, input.Department)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OverviewResponse `json:"body"`
		}{Body: overviewResponse(ov)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-complaint",
		Method:      http.MethodGet,
		Path:        "/complaints/{id}",
		Summary:     "Get complaint",
		Errors: []int{
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ComplaintResponse `json:"body"`
	}, error) {
		dec, err := p.One(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ComplaintResponse `json:"body"`
		}{Body: complaintResponse(dec)}, nil
	})
}

func registerMyComplaints(api huma.API, p projection.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "my-complaints",
		Method:      http.MethodGet,
		Path:        "/my-complaints",
		Summary:     "List complaints for a citizen",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		UserID string `query:"userId"`
	}) (*struct {
		Body ComplaintListResponse `json:"body"`
	}, error) {
		if input.UserID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "userId is required", nil)
		}
		items, err := p.MyComplaints(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ComplaintListResponse `json:"body"`
		}{Body: ComplaintListResponse{Items: mapComplaints(items)}}, nil
	})
}

func registerBot(api huma.API, r bot.Responder) {
	huma.Register(api, huma.Operation{
		OperationID: "bot-query",
		Method:      http.MethodPost,
		Path:        "/bot-query",
		Summary:     "General helper bot query",
	}, func(ctx context.Context, input *struct {
		Body BotQueryRequest `json:"body"`
	}) (*struct {
		Body BotReplyResponse `json:"body"`
	}, error) {
		return &struct {
			Body BotReplyResponse `json:"body"`
		}{Body: BotReplyResponse{Reply: r.Answer(input.Body.Message)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "bot-check-status",
		Method:      http.MethodPost,
		Path:        "/bot-check-status",
		Summary:     "Complaint status via the helper bot",
	}, func(ctx context.Context, input *struct {
		Body BotCheckStatusRequest `json:"body"`
	}) (*struct {
		Body BotReplyResponse `json:"body"`
	}, error) {
		return &struct {
			Body BotReplyResponse `json:"body"`
		}{Body: BotReplyResponse{Reply: r.CheckStatus(ctx, input.Body.UserID, input.Body.Message)}}, nil
	})
}

func formValue(form multipart.Form, key string) string {
	if vals := form.Value[key]; len(vals) > 0 {
		return strings.TrimSpace(vals[0])
	}
	return ""
}

// saveUpload copies the attachment into uploadsDir under a random name,
// keeping only the original extension. The stored path is relative so the
// record stays valid if the workspace moves.
func saveUpload(fh *multipart.FileHeader, uploadsDir string) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	name := uuid.New().String() + strings.ToLower(filepath.Ext(fh.Filename))
	dst, err := os.Create(filepath.Join(uploadsDir, name))
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", err
	}
	return filepath.Join("uploads", name), nil
}
