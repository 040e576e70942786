package events

const (
	TopicDevice = "osvnsh:events:device"
	TopicPath   = "osvnsh:events:path"
)
