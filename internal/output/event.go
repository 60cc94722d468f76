package output

import "encoding/json"

// Event types.
const (
	EventStatusReported = "status.reported"
	EventRunFinished    = "run.finished"
)

// Event is a lifecycle record for structured status output.
//
// In NDJSON mode, sinks emit every Event (one JSON object per line):
// - status.reported, once per milestone record
// - run.finished, once with the run outcome
//
// JSON mode aggregates the records of status.reported events into one array.
type Event struct {
	Type     string          `json:"type"`
	Stage    string          `json:"stage,omitempty"`
	Status   string          `json:"status,omitempty"`
	Record   json.RawMessage `json:"record,omitempty"`
	Outcome  string          `json:"outcome,omitempty"`
	ExitCode int             `json:"exit_code,omitempty"`
}

// StatusEvent wraps an already encoded status record.
func StatusEvent(stage, status string, record json.RawMessage) Event {
	return Event{Type: EventStatusReported, Stage: stage, Status: status, Record: record}
}

// records collects the status records that JSON aggregate mode writes on Close.
type records []json.RawMessage

func (r *records) add(v any) {
	e, ok := v.(Event)
	if !ok || e.Type != EventStatusReported || len(e.Record) == 0 {
		return
	}
	*r = append(*r, e.Record)
}

func (r records) encodeTo(enc *json.Encoder) error {
	out := r
	if out == nil {
		out = records{}
	}
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
