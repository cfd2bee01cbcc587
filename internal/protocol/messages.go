package protocol

import "time"

// PlaybackStatus is the wire form of a playback status update broadcast on
// the bus. Text is only set on the first update of a session.
type PlaybackStatus struct {
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text,omitempty"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const SubjectPlaybackStatus = "reed.playback.status"

// StatusSubject returns the subject for one kind of update, e.g.
// reed.playback.status.playing. Subscribers can use "<prefix>.>" to receive
// all of them.
func StatusSubject(prefix, kind string) string {
	if prefix == "" {
		prefix = SubjectPlaybackStatus
	}
	return prefix + "." + kind
}
