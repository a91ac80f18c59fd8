package models

// AIFeedbackType says which field of AIFeedback is populated.
type AIFeedbackType string

const (
	FeedbackTip           AIFeedbackType = "tip"
	FeedbackGrammar       AIFeedbackType = "grammar"
	FeedbackPhrase        AIFeedbackType = "phrase"
	FeedbackPronunciation AIFeedbackType = "pronunciation"
)

// AIFeedback is returned by the AI assist function and rebroadcast to
// every participant.
type AIFeedback struct {
	Type               AIFeedbackType `json:"type"`
	Tip                string         `json:"tip,omitempty"`
	GrammarCorrection  string         `json:"grammar_correction,omitempty"`
	SuggestedPhrase    string         `json:"suggested_phrase,omitempty"`
	PronunciationScore *int           `json:"pronunciation_score,omitempty"`
}

// AIFeedbackRequest is sent to the AI assist function.
type AIFeedbackRequest struct {
	Level string `json:"level"`
	Topic string `json:"topic"`
}
