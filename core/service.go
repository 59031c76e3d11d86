package core

import (
	"context"
	"image"
	"time"
)

type ServiceCategory string

const (
	CategoryImage ServiceCategory = "image"
	CategoryVideo ServiceCategory = "video"
	Category3D    ServiceCategory = "3d"
)

type APIStatus string

const (
	APIStatusNone       APIStatus = ""
	APIStatusInProgress APIStatus = "IN_PROGRESS"
	APIStatusCompleted  APIStatus = "COMPLETED"
	APIStatusFailed     APIStatus = "FAILED"
)

type (
	Parameter struct {
		Name         string   `json:"name"`
		Type         string   `json:"type"`
		Label        string   `json:"label"`
		Description  string   `json:"description,omitempty"`
		Required     bool     `json:"required,omitempty"`
		DefaultValue any      `json:"defaultValue,omitempty"`
		Options      []string `json:"options,omitempty"`
		Min          *float64 `json:"min,omitempty"`
		Max          *float64 `json:"max,omitempty"`
		Step         *float64 `json:"step,omitempty"`
		UI           *bool    `json:"ui,omitempty"`
	}

	Examples struct {
		Input  []string `json:"input"`
		Output []string `json:"output"`
	}

	// AIService is one entry of the service catalog.
	AIService struct {
		ID             string          `json:"id"`
		Name           string          `json:"name"`
		Description    string          `json:"description"`
		Category       ServiceCategory `json:"category"`
		Icon           string          `json:"icon"`
		Home           bool            `json:"home"`
		Overview       string          `json:"overview,omitempty"`
		InputTypes     []string        `json:"inputTypes"`
		Parameters     []Parameter     `json:"parameters"`
		WorkerID       string          `json:"workerId"`
		Cost           string          `json:"cost"`
		ProcessingTime string          `json:"processingTime"`
		Delay          string          `json:"delay"`
		Examples       *Examples       `json:"examples,omitempty"`
		Divisible      int             `json:"divisible,omitempty"`
	}

	Timing struct {
		DelayTime     float64 `json:"delayTime"`
		ExecutionTime float64 `json:"executionTime"`
	}

	JobOptions struct {
		Prompt      string `json:"prompt"`
		Instruction string `json:"instruction"`
		LoraModel   string `json:"loraModel,omitempty"`
		LayerName   string `json:"layerName"`
	}

	JobResult struct {
		Success bool   `json:"success,omitempty"`
		Error   bool   `json:"error,omitempty"`
		Message string `json:"message"`
		LayerID string `json:"layerId,omitempty"`
	}

	// ServiceJob is one invocation of an external AI service.
	ServiceJob struct {
		ID          string      `json:"id"`
		ExternalID  string      `json:"tostaiJobId,omitempty"`
		ServiceID   string      `json:"serviceId"`
		ServiceName string      `json:"serviceName"`
		Progress    int         `json:"progress"`
		Status      string      `json:"status"`
		APIStatus   APIStatus   `json:"apiStatus"`
		Result      *JobResult  `json:"result"`
		Timing      *Timing     `json:"timing"`
		Options     *JobOptions `json:"options"`
		Polling     bool        `json:"polling"`
		// ResultURL is the result reference found in the execution response.
		ResultURL string   `json:"resultUrl,omitempty"`
		Billing   *Billing `json:"billing,omitempty"`
		LayerID   string   `json:"layerId,omitempty"`
		// Dismissed hides a finished job from the session's job list.
		Dismissed bool `json:"dismissed,omitempty"`
		// InputLayer is an owned copy of the first input layer taken at submission.
		InputLayer *Layer    `json:"inputLayer,omitempty"`
		CreatedAt  time.Time `json:"createdAt"`
	}
)

// Hidden reports whether the parameter is explicitly excluded from the UI,
// which marks it as an input slot filled by the editor.
func (p Parameter) Hidden() bool {
	return p.UI != nil && !*p.UI
}

// HasInputSlot reports whether the service declares a hidden parameter named name.
func (s AIService) HasInputSlot(name string) bool {
	for _, p := range s.Parameters {
		if p.Name == name && p.Hidden() {
			return true
		}
	}
	return false
}

func (s AIService) TextInput() bool {
	for _, t := range s.InputTypes {
		if t == "text" {
			return true
		}
	}
	return false
}

// Terminal reports whether the job reached COMPLETED or FAILED.
func (j ServiceJob) Terminal() bool {
	return j.APIStatus == APIStatusCompleted || j.APIStatus == APIStatusFailed
}

type (
	// Uploader stores a rasterized layer and returns a URL the executor can read.
	Uploader interface {
		Upload(ctx context.Context, blob []byte, filename string) (string, error)
	}

	// Executor dispatches a payload to the execution endpoint.
	Executor interface {
		Submit(ctx context.Context, service AIService, payload map[string]any) (*ExecutionResponse, error)
		Status(ctx context.Context, externalID string) (*ExecutionResponse, error)
	}

	ResultFetcher interface {
		Fetch(ctx context.Context, url string) ([]byte, error)
	}

	GLBRenderer interface {
		Render(ctx context.Context, url string) (image.Image, error)
	}

	VideoDecoder interface {
		Decode(ctx context.Context, data []byte) (VideoHandle, error)
	}

	// Matter removes the background of an image, returning an image of the same size.
	Matter interface {
		RemoveBackground(ctx context.Context, img image.Image) (image.Image, error)
	}

	ModelLoader interface {
		Load(ctx context.Context) (Matter, error)
	}

	TextMeasurer interface {
		MeasureText(text string, fontSize float64, fontFamily string) float64
	}

	Catalog interface {
		Services() []AIService
		Service(id string) (AIService, bool)
	}

	ExecutionOutput struct {
		Result any `json:"result"`
	}

	// ExecutionResponse is the result shape shared by submit and status calls.
	ExecutionResponse struct {
		ID            string           `json:"id"`
		Status        string           `json:"status"`
		Output        *ExecutionOutput `json:"output,omitempty"`
		Result        any              `json:"result,omitempty"`
		URL           any              `json:"url,omitempty"`
		DelayTime     float64          `json:"delayTime,omitempty"`
		ExecutionTime float64          `json:"executionTime,omitempty"`
		Billing       *Billing         `json:"billing,omitempty"`
		Error         any              `json:"error,omitempty"`
	}
)
