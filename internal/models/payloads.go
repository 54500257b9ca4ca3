package models

// These structs define the JSON payloads exchanged with the video
// generation Cloud Workflow.

// VideoWorkflowArgument is the execution argument for the video workflow.
type VideoWorkflowArgument struct {
	ImageURI  string `json:"imageUri"`
	MIMEType  string `json:"mimeType"`
	Prompt    string `json:"prompt"`
	OutputURI string `json:"outputUri"`
}

// VideoWorkflowResult is the execution result of the video workflow.
type VideoWorkflowResult struct {
	Status   string `json:"status"`
	VideoURI string `json:"videoUri"`
}
