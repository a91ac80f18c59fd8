package lesson

type NoticeKind string

const (
	NoticeInfo    NoticeKind = "info"
	NoticeWarning NoticeKind = "warning"
	// NoticeError is for failures the user must know about, such as a
	// recording that could not be saved.
	NoticeError NoticeKind = "error"
)

// Notice is a localized message for the user.
type Notice struct {
	Kind NoticeKind
	Key  string // translation key, e.g. lesson.recordingEmpty
	Text string
}

func (c *Controller) notify(kind NoticeKind, key string, params map[string]string) {
	n := Notice{Kind: kind, Key: key, Text: c.loc.TWithParams(key, params)}
	select {
	case c.notices <- n:
	default:
		c.logger.Printf("[lesson] notice dropped: %s", n.Text)
	}
}
