package types

// PipelineState represents the lifecycle state of the detection pipeline.
type PipelineState string

// Pipeline lifecycle states.
const (
	StateStopped  PipelineState = "stopped"
	StateStarting PipelineState = "starting"
	StateRunning  PipelineState = "running"
	StateStopping PipelineState = "stopping"
)

// PipelineStatus is a point-in-time view of the detection pipeline.
type PipelineStatus struct {
	State         PipelineState `json:"state"`                   // Lifecycle state
	Uptime        string        `json:"uptime,omitempty"`        // Human-readable uptime
	LevelDB       float64       `json:"level_db"`                // Level of the most recent block
	PeakDB        float64       `json:"peak_db"`                 // Held peak block level
	Detection     string        `json:"detection"`               // "idle" or "triggered"
	InHours       bool          `json:"in_operating_hours"`      // Detection is currently active
	QueueDepth    int           `json:"queue_depth"`             // Snapshots awaiting persistence
	QueueCapacity int           `json:"queue_capacity"`          // Maximum queued snapshots
	FileCounter   int           `json:"file_counter"`            // Number of the next capture file
	Triggers      int64         `json:"triggers"`                // Threshold crossings since start
	Saved         int64         `json:"saved"`                   // Captures written
	Rejected      int64         `json:"rejected"`                // Captures failing validation
	Dropped       int64         `json:"dropped"`                 // Captures refused by a full queue
	Failed        int64         `json:"failed"`                  // Captures that could not be written
	LastTrigger   string        `json:"last_trigger,omitempty"`  // RFC3339 time of the last trigger
	StreamStatus  string        `json:"stream_status,omitempty"` // Last reported driver status
	Version       *VersionInfo  `json:"version,omitempty"`       // Version information
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
}
