package pipeline

// NoticeKind classifies a user-facing notice
type NoticeKind string

const (
	// NoticeMathUnavailable is emitted once when math engine initialization
	// fails while Math is selected and the mode reverts to Text
	NoticeMathUnavailable NoticeKind = "math_unavailable"
	// NoticeCaptureFailed reports an acquisition or decode failure
	NoticeCaptureFailed NoticeKind = "capture_failed"
	// NoticeRecognitionFailed reports a failed recognition attempt
	NoticeRecognitionFailed NoticeKind = "recognition_failed"
)

// Notice is a message for the user
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
	Err     error      `json:"-"`
}
