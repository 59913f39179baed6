package types

// CountRequest is the body of an increment or decrement call.
type CountRequest struct {
	Operator string `json:"operator"`
	Delta    int    `json:"delta,omitempty"` // defaults to 1
}

type CountsResponse struct {
	OK         bool   `json:"ok"`
	Period     string `json:"period"`
	Male       int    `json:"male"`
	Female     int    `json:"female"`
	Total      int    `json:"total"`
	Location   string `json:"location,omitempty"`
	ServerTime string `json:"server_time"`
}

type LocationRequest struct {
	Location string `json:"location"`
}

type LocationResponse struct {
	Location string `json:"location"`
}

type LogEntryResponse struct {
	Timestamp string `json:"timestamp"`
	Operator  string `json:"operator"`
	Location  string `json:"location"`
	Action    string `json:"action"`
	Total     int    `json:"total"`
}

type LogResponse struct {
	Period  string             `json:"period"`
	Entries []LogEntryResponse `json:"entries"`
	Skipped int                `json:"skipped,omitempty"`
}

type RolloverResponse struct {
	From          string `json:"from,omitempty"`
	To            string `json:"to"`
	Rolled        bool   `json:"rolled"`
	RollupWritten bool   `json:"rollup_written"`
	Total         int    `json:"total"`
}

// DetectionSnapshot is one reading from the detection service. A nil field
// means the service reported nothing for that category this cycle. A value
// equal to the current count is not an overwrite: nothing is written or
// logged for it.
type DetectionSnapshot struct {
	Male   *int `json:"male,omitempty"`
	Female *int `json:"female,omitempty"`
}

func (s DetectionSnapshot) Empty() bool { return s.Male == nil && s.Female == nil }
