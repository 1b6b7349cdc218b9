package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdPollNow      CommandType = "poll_now"
	CmdPollSearch   CommandType = "poll_search"
	CmdToggleSearch CommandType = "toggle_search"
	CmdPause        CommandType = "pause"
	CmdResume       CommandType = "resume"
	CmdProbe        CommandType = "probe_providers"
)

type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	SearchID string `json:"search_id,omitempty"`
}

// ParseParams decodes the command payload; an empty payload yields zero params.
func (c *Command) ParseParams() (*CommandParams, error) {
	var params CommandParams
	if len(c.Params) > 0 {
		if err := json.Unmarshal(c.Params, &params); err != nil {
			return nil, err
		}
	}
	return &params, nil
}
