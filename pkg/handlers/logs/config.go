package logs

import "time"

// StreamConfig controls the log stream connection.
type StreamConfig struct {
	PingPeriod     time.Duration `json:"ping_period"`
	WriteWait      time.Duration `json:"write_wait"`
	MaxMessageSize int64         `json:"max_message_size"`
	// PollWait bounds each wait for new lines, so supersession and
	// batch deadlines are noticed promptly.
	PollWait time.Duration `json:"poll_wait"`
}

// NewDefaultStreamConfig returns the production stream settings.
func NewDefaultStreamConfig() *StreamConfig {
	return &StreamConfig{
		PingPeriod:     30 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 4 * 1024,
		PollWait:       200 * time.Millisecond,
	}
}
