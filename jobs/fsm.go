package jobs

import (
	"canvas-studio/core"
	"fmt"
	"net/url"
)

// Job status strings.
const (
	StatusCapturing          = "Capturing selected layer..."
	StatusProcessing         = "Processing..."
	StatusComplete           = "Processing complete!"
	StatusAddingResult       = "Adding result to canvas..."
	StatusFailed             = "Processing failed"
	StatusUploadFailed       = "Upload failed"
	StatusStatusCheckFailed  = "Status check failed"
	StatusUnexpectedProgress = "Processing failed - proxy server returned unexpected status"
	StatusInvalidResultURL   = "API returned invalid result URL"
)

type EventKind int

const (
	UploadStarted EventKind = iota
	UploadFailed
	SubmitFailed
	Submitted
	StatusChecked
	StatusCheckFailed
	Materialized
	MaterializeFailed
)

func (k EventKind) String() string {
	switch k {
	case UploadStarted:
		return "upload_started"
	case UploadFailed:
		return "upload_failed"
	case SubmitFailed:
		return "submit_failed"
	case Submitted:
		return "submitted"
	case StatusChecked:
		return "status_checked"
	case StatusCheckFailed:
		return "status_check_failed"
	case Materialized:
		return "materialized"
	case MaterializeFailed:
		return "materialize_failed"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is one step of a job's progress.
type Event struct {
	Kind EventKind
	// Response is set for Submitted and StatusChecked.
	Response *core.ExecutionResponse
	// Local selects local-mode classification of IN_PROGRESS.
	Local bool
	// Err is the failure for the *Failed kinds.
	Err error
	// Message is the success message for Materialized.
	Message string
	// LayerID is the layer added by Materialized.
	LayerID string
}

// Effect is the side effect the caller must run after a transition.
type Effect int

const (
	EffectNone Effect = iota
	EffectCheckStatus
	EffectMaterialize
)

// Advance applies ev to job and returns the new job state and the effect to
// run next. It does not touch its input.
func Advance(job core.ServiceJob, ev Event) (core.ServiceJob, Effect) {
	switch ev.Kind {
	case UploadStarted:
		job.Progress, job.Status = 60, StatusProcessing
		return job, EffectNone

	case UploadFailed:
		return fail(job, StatusUploadFailed, ProcessErrorMessage(errText(ev.Err, "Upload failed"))), EffectNone

	case SubmitFailed:
		return fail(job, StatusFailed, ProcessErrorMessage(errText(ev.Err, "Processing failed"))), EffectNone

	case Submitted:
		return classifySubmit(job, ev.Response, ev.Local)

	case StatusChecked:
		return classifyStatus(job, ev.Response)

	case StatusCheckFailed:
		return fail(job, StatusStatusCheckFailed, "Failed to check job status"), EffectNone

	case Materialized:
		job.Progress = 100
		job.Status = ev.Message
		if job.Status == "" {
			job.Status = StatusComplete
		}
		job.APIStatus = core.APIStatusCompleted
		job.Result = &core.JobResult{Success: true, Message: ev.Message, LayerID: ev.LayerID}
		job.Polling = false
		return job, EffectNone

	case MaterializeFailed:
		msg := errText(ev.Err, "Failed to process result")
		return fail(job, msg, msg), EffectNone
	}
	return job, EffectNone
}

func classifySubmit(job core.ServiceJob, resp *core.ExecutionResponse, local bool) (core.ServiceJob, Effect) {
	if resp == nil {
		return fail(job, StatusFailed, "Processing failed - unexpected response format"), EffectNone
	}
	job.Progress, job.Status = 60, StatusProcessing

	switch core.APIStatus(resp.Status) {
	case core.APIStatusCompleted:
		if u, ok := outputResult(resp); ok {
			return received(job, resp, u), EffectMaterialize
		}
	case core.APIStatusFailed:
		return fail(job, StatusFailed, ProcessErrorMessage(orDefault(resp.Error, "Job failed"))), EffectNone
	case core.APIStatusInProgress:
		if !local {
			return fail(job, StatusUnexpectedProgress, "Proxy server returned IN_PROGRESS status instead of final result"), EffectNone
		}
		job.ExternalID = resp.ID
		job.Status = StatusProcessing
		job.APIStatus = core.APIStatusInProgress
		job.Progress = 70
		job.Polling = true
		return job, EffectCheckStatus
	}

	// Unknown shapes still succeed if they carry a URL-shaped result.
	ref, found := resultReference(resp)
	if !found {
		msg := "Processing failed - unexpected response format"
		switch {
		case resp.Billing != nil && resp.Billing.Note != "":
			msg = resp.Billing.Note
		case resp.Status == "CANCELLED":
			msg = "Job was cancelled"
		case truthy(resp.Error):
			msg = fmt.Sprint(resp.Error)
		}
		return fail(job, StatusFailed, msg), EffectNone
	}
	s, ok := ref.(string)
	if !ok || !isURL(s) {
		return fail(job, StatusInvalidResultURL, fmt.Sprintf("API returned invalid result URL: %v", ref)), EffectNone
	}
	return received(job, resp, s), EffectMaterialize
}

func classifyStatus(job core.ServiceJob, resp *core.ExecutionResponse) (core.ServiceJob, Effect) {
	if resp == nil {
		return fail(job, StatusStatusCheckFailed, "Failed to check job status"), EffectNone
	}
	switch core.APIStatus(resp.Status) {
	case core.APIStatusCompleted:
		if u, ok := outputResult(resp); ok {
			return received(job, resp, u), EffectMaterialize
		}
	case core.APIStatusFailed:
		return fail(job, StatusFailed, ProcessErrorMessage(orDefault(resp.Error, "Job failed"))), EffectNone
	}
	job.Status = StatusProcessing
	job.APIStatus = core.APIStatus(resp.Status)
	if job.APIStatus == core.APIStatusNone {
		job.APIStatus = core.APIStatusInProgress
	}
	job.Progress = 80
	job.Polling = false
	return job, EffectNone
}

// received records a usable result. The job stays in progress until the
// result is on the canvas; only Materialized or MaterializeFailed end it.
func received(job core.ServiceJob, resp *core.ExecutionResponse, resultURL string) core.ServiceJob {
	job.Status = StatusAddingResult
	job.APIStatus = core.APIStatusInProgress
	job.Progress = 90
	job.Polling = false
	job.Timing = &core.Timing{DelayTime: resp.DelayTime, ExecutionTime: resp.ExecutionTime}
	job.ResultURL = resultURL
	job.Billing = resp.Billing
	return job
}

func fail(job core.ServiceJob, status, message string) core.ServiceJob {
	job.Progress = 100
	job.Status = status
	job.APIStatus = core.APIStatusFailed
	job.Result = &core.JobResult{Error: true, Message: message}
	job.Polling = false
	return job
}

// outputResult returns output.result when it is a non-empty string.
func outputResult(resp *core.ExecutionResponse) (string, bool) {
	if resp.Output == nil {
		return "", false
	}
	s, ok := resp.Output.Result.(string)
	return s, ok && s != ""
}

// resultReference looks for a result in output.result, result and url, in
// that order.
func resultReference(resp *core.ExecutionResponse) (any, bool) {
	if resp.Output != nil && truthy(resp.Output.Result) {
		return resp.Output.Result, true
	}
	if truthy(resp.Result) {
		return resp.Result, true
	}
	if truthy(resp.URL) {
		return resp.URL, true
	}
	return nil, false
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && (u.Host != "" || u.Opaque != "")
}

func orDefault(v any, fallback string) any {
	if !truthy(v) {
		return fallback
	}
	return v
}

func errText(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	return err.Error()
}
