package matcher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Extract locates the first '{' and the last '}' in output and decodes the
// enclosed span. Log lines printed around the document are ignored.
func Extract(output []byte) (*Result, error) {
	start := bytes.IndexByte(output, '{')
	end := bytes.LastIndexByte(output, '}')
	if start == -1 || end == -1 || end < start {
		return nil, ErrResultNotFound
	}

	var payload struct {
		Success    flexBool `json:"success"`
		Distance   float64  `json:"distance"`
		RollNumber string   `json:"roll_number"`
		Error      string   `json:"error"`
	}
	if err := json.Unmarshal(output[start:end+1], &payload); err != nil {
		return nil, &MalformedError{Raw: string(output), Err: err}
	}

	return &Result{
		Success:    bool(payload.Success),
		RollNumber: payload.RollNumber,
		Distance:   payload.Distance,
		Message:    payload.Error,
	}, nil
}

// flexBool accepts true/false as well as the 0/1 integers some matchers print.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	raw := string(bytes.TrimSpace(data))
	switch raw {
	case "null", "false", `"false"`, "0", `"0"`:
		*b = false
		return nil
	case "true", `"true"`, "1", `"1"`:
		*b = true
		return nil
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		*b = n != 0
		return nil
	}
	return fmt.Errorf("success: cannot interpret %s as a boolean", raw)
}
