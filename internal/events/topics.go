package events

const (
	TopicConnStatus = "conn.status"
	TopicPresence   = "presence.snapshot"
	TopicMessageIn  = "message.in"
)
