package event

import "time"

// Topic is a mediator channel name.
type Topic string

// [MEDIATOR_TOPICS]
const (
	TopicOnline         Topic = "online"
	TopicOffline        Topic = "offline"
	TopicSearch         Topic = "search"
	TopicRandom         Topic = "random"
	TopicRandomInterval Topic = "randomInterval"
	TopicIntervalStop   Topic = "randomInterval.stop"
)

func (t Topic) String() string { return string(t) }

// Status is broadcast on TopicOnline / TopicOffline.
type Status struct {
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

// NewStatus stamps a status notification with the current time.
func NewStatus(online bool) Status {
	return Status{Online: online, At: time.Now()}
}
