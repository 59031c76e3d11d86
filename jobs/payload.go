package jobs

import (
	"canvas-studio/core"
	"math"
)

// Input slot parameter names.
const (
	ParamInputImage      = "input_image"
	ParamInputImage1     = "input_image1"
	ParamInputImage2     = "input_image2"
	ParamInputImageCheck = "input_image_check"
	ParamStartImage      = "start_image"
	ParamEndImage        = "end_image"
)

func pairedInputs(s core.AIService) bool {
	return s.HasInputSlot(ParamInputImage1) && s.HasInputSlot(ParamInputImage2)
}

func frameInputs(s core.AIService) bool {
	return s.HasInputSlot(ParamStartImage) && s.HasInputSlot(ParamEndImage)
}

// RequiredInputs returns how many input layers the service takes: two when
// it declares a hidden input_image1/input_image2 or start_image/end_image
// pair, else one.
func RequiredInputs(s core.AIService) int {
	if pairedInputs(s) || frameInputs(s) {
		return 2
	}
	return 1
}

// UploadParamNames returns the parameter each of n uploaded layers fills.
func UploadParamNames(s core.AIService, n int) []string {
	if n == 2 {
		if frameInputs(s) {
			return []string{ParamStartImage, ParamEndImage}
		}
		return []string{ParamInputImage1, ParamInputImage2}
	}
	name := ParamInputImage
	switch {
	case s.HasInputSlot(ParamInputImage):
	case s.HasInputSlot(ParamInputImage1):
		name = ParamInputImage1
	case s.HasInputSlot(ParamInputImageCheck):
		name = ParamInputImageCheck
	}
	names := make([]string, n)
	for i := range names {
		names[i] = name
	}
	return names
}

// ParamValues merges user values over the declared parameter defaults.
func ParamValues(s core.AIService, values map[string]any) map[string]any {
	out := make(map[string]any, len(s.Parameters))
	for _, p := range s.Parameters {
		if p.DefaultValue != nil {
			out[p.Name] = p.DefaultValue
		}
	}
	for k, v := range values {
		out[k] = v
	}
	return out
}

// BuildPayload assembles the execution payload. Every declared parameter with
// a non-empty value is sent, then the uploaded URLs and the output size.
func BuildPayload(s core.AIService, values map[string]any, uploads map[string]string, inputs []core.Layer, jobID, webhook string) map[string]any {
	merged := ParamValues(s, values)
	input := map[string]any{"job_id": jobID}
	for _, p := range s.Parameters {
		v, ok := merged[p.Name]
		if !ok || v == nil || v == "" || p.Name == "job_id" {
			continue
		}
		input[p.Name] = v
	}
	if !s.TextInput() {
		for name, url := range uploads {
			input[name] = url
		}
	}

	switch {
	case truthy(merged["custom_size"]):
		input["width"] = math.Round(number(merged["width"]))
		input["height"] = math.Round(number(merged["height"]))
	case len(inputs) == 2 && frameInputs(s):
		input["width"] = math.Round(math.Max(inputs[0].Width, inputs[1].Width))
		input["height"] = math.Round(math.Max(inputs[0].Height, inputs[1].Height))
	case len(inputs) > 0:
		input["width"] = math.Round(inputs[0].Width)
		input["height"] = math.Round(inputs[0].Height)
	}

	payload := map[string]any{"input": input}
	if webhook != "" {
		payload["webhook"] = webhook
	}
	return payload
}

// JobOptions extracts the prompt fields recorded on a job.
func JobOptions(s core.AIService, values map[string]any) *core.JobOptions {
	merged := ParamValues(s, values)
	prompt, _ := merged["prompt"].(string)
	if prompt == "" {
		prompt, _ = merged["positive_prompt"].(string)
	}
	instruction, _ := merged["instruction"].(string)
	return &core.JobOptions{
		Prompt:      prompt,
		Instruction: instruction,
		LoraModel:   loraModel(s.ID),
		LayerName:   s.Name,
	}
}

func loraModel(serviceID string) string {
	switch serviceID {
	case "anime":
		return "Qwen-Image-Edit-2509-Photo-to-Anime_000001000.safetensors"
	case "chibi":
		return "qwen_3d_chibi_lora_v1_000000820.safetensors"
	case "color":
		return "PanelPainter_V2.safetensors"
	case "enhance":
		return "qwen-edit-enhance_000004250.safetensors"
	}
	return ""
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
