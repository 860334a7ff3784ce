// Structure of the job-completion events relayed by Beacon.

package entity

// LogEntry is one immutable record read from the durable event log.
// The gateway only ever reads entries, the async worker owns the appends.
type LogEntry struct {
	// Cursor in <millis>-<seq> form, comparable lexicographically within a channel
	ID string
	// Raw JSON payload appended by the producer
	Payload string
}

// JobEvent mirrors the payload the async worker writes for a finished job.
// ID carries the log cursor and is injected by the gateway before delivery,
// never by the producer.
type JobEvent struct {
	ID        string   `json:"id,omitempty"`
	ChannelID string   `json:"channel_id"`
	JobID     string   `json:"job_id"`
	UserID    string   `json:"user_id"`
	Status    string   `json:"status"`
	Errors    []string `json:"errors,omitempty"`
	ResultURL string   `json:"result_url,omitempty"`
}
