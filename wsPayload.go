package main

type WsBaseMessage struct {
	Type string `json:"type"`
}

// WsQueueUpdate mirrors the pending queue after every mutation.
type WsQueueUpdate struct {
	WsBaseMessage
	Jobs []Job `json:"jobs"`
}

// WsWorkerProgress is broadcast on every pipeline stage transition.
type WsWorkerProgress struct {
	WsBaseMessage
	WorkerID int     `json:"workerId"`
	JobID    int64   `json:"jobId"`
	Stage    string  `json:"stage"`
	Progress float64 `json:"progress"`
}

// WsJobFinished announces a job leaving the pipeline.
type WsJobFinished struct {
	WsBaseMessage
	JobID  int64  `json:"jobId"`
	Failed bool   `json:"failed"`
	Error  string `json:"error,omitempty"`
}
