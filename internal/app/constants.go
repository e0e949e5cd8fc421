package app

const (
	// Name is used for the user config directory and notifications.
	Name = "chatgo"

	ConfigFilename = "config.json"
	LogFilename    = "chatgo.log"
)
