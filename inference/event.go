package inference

// Event status values, as seen by the UI.
const (
	StatusInitiate = "initiate"
	StatusProgress = "progress"
	StatusDone     = "done"
	StatusReady    = "ready"
	StatusStart    = "start"
	StatusUpdate   = "update"
	StatusComplete = "complete"
	StatusError    = "error"
)

// Event is a discriminated union of worker notifications.
// Check the concrete type via type switch.
type Event interface {
	Status() string
}

// InitiateEvent is emitted when a model file starts loading.
type InitiateEvent struct {
	File string
}

// ProgressEvent reports bytes loaded for one model file.
type ProgressEvent struct {
	File     string
	Progress float64 // 0-100
	Loaded   int64
	Total    int64
}

// DoneEvent is emitted when one model file has finished loading.
type DoneEvent struct {
	File string
}

// ReadyEvent is emitted once the model can serve requests.
type ReadyEvent struct{}

// StartEvent is emitted when generation for a request begins.
type StartEvent struct {
	Kind Kind
}

// UpdateEvent reports generation progress. PartialText is set by backends
// that stream output.
type UpdateEvent struct {
	Kind            Kind
	TokensPerSecond float64
	PartialText     string
}

// CompleteEvent carries the final output of a request.
type CompleteEvent struct {
	Kind Kind
	Text string
}

// ErrorEvent is emitted when a request fails.
type ErrorEvent struct {
	Kind Kind
	Err  error
}

func (InitiateEvent) Status() string { return StatusInitiate }
func (ProgressEvent) Status() string { return StatusProgress }
func (DoneEvent) Status() string     { return StatusDone }
func (ReadyEvent) Status() string    { return StatusReady }
func (StartEvent) Status() string    { return StatusStart }
func (UpdateEvent) Status() string   { return StatusUpdate }
func (CompleteEvent) Status() string { return StatusComplete }
func (ErrorEvent) Status() string    { return StatusError }
