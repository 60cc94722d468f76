package status

import (
	"fmt"
	"net/http"
)

// TransportError is a failure to deliver a status record. It is logged and
// never stops the run.
type TransportError struct {
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return "failed to send status report: " + e.Err.Error()
	}
	return fmt.Sprintf("failed to send status report (%d %s): %v", e.StatusCode, http.StatusText(e.StatusCode), e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
