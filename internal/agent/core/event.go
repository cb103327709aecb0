package core

// EventType names a message flowing between the agent and the update
// service. Events map to MQTT topic segments in the hub.
type EventType string

const (
	EventRegister      EventType = "agent.register"
	EventOnline        EventType = "agent.online"
	EventUpdateCommand EventType = "update.command"
	EventCommandStatus EventType = "update.status"
	EventProgress      EventType = "update.progress"
)
