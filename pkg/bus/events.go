package bus

import "time"

// Topic layout under the broker prefix. Every station publishes under
// ground/<id>/.
const (
	topicRoot = "ground/"

	// TopicDiscover matches every station's retained status.
	TopicDiscover = topicRoot + "+/status"
)

// TelemetryTopic is where a station publishes decoded telemetry.
func TelemetryTopic(station string) string {
	return topicRoot + station + "/telemetry"
}

// StatusTopic carries the retained station status.
func StatusTopic(station string) string {
	return topicRoot + station + "/status"
}

// CommandTopic receives operator command submissions.
func CommandTopic(station string) string {
	return topicRoot + station + "/cmd"
}

// CommandResultTopic carries command outcomes.
func CommandResultTopic(station string) string {
	return topicRoot + station + "/cmd/result"
}

// StationFromTopic extracts the station ID from a prefix-relative
// topic, or "" if the topic is not under ground/.
func StationFromTopic(topic string) string {
	if len(topic) <= len(topicRoot) || topic[:len(topicRoot)] != topicRoot {
		return ""
	}
	rest := topic[len(topicRoot):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i]
		}
	}
	return ""
}

// TelemetryEvent is the JSON payload on the telemetry topic.
type TelemetryEvent struct {
	Station string    `json:"station"`
	At      time.Time `json:"at"`
	// Clock is the rover time of day, hh:mm:ss.
	Clock   string  `json:"clock"`
	Lat     float32 `json:"lat"`
	Long    float32 `json:"long"`
	Alt     float32 `json:"alt"`
	Speed   float32 `json:"speed"`
	Sats    uint8   `json:"sats"`
	Heading uint16  `json:"heading"`
	// RSSI is measured at the station, RoverRSSI is what the rover
	// reported seeing.
	RSSI       int16  `json:"rssi"`
	RoverRSSI  int16  `json:"rover_rssi"`
	FreeMemory uint16 `json:"free_memory"`
	Status     string `json:"status"`
}

// StationStatus is the retained JSON payload on the status topic. A
// nil payload (the LWT) means the station is gone.
type StationStatus struct {
	Station     string     `json:"station"`
	Online      bool       `json:"online"`
	FrequencyHz uint32     `json:"frequency_hz"`
	LastHeard   *time.Time `json:"last_heard,omitempty"`
	Pending     int        `json:"pending"`
	At          time.Time  `json:"at"`
}

// CommandRequest is the JSON payload operators publish on the cmd
// topic. ID correlates the eventual result.
type CommandRequest struct {
	ID      string `json:"id"`
	Command string `json:"command"`
}

// CommandResult is the JSON payload on the cmd/result topic.
type CommandResult struct {
	ID     string    `json:"id"`
	OK     bool      `json:"ok"`
	Error  string    `json:"error,omitempty"`
	Chunks int       `json:"chunks"`
	At     time.Time `json:"at"`
}
