package answer

import "time"

// Source is one supporting chunk reference stored on an answer.
type Source struct {
	DocumentID int64 `json:"document_id"`
	ChunkIndex int   `json:"chunk_index"`
	// RelevanceScore is the chunk's similarity, 1 - distance/2.
	RelevanceScore float64 `json:"relevance_score"`
}

// Answer is the generated (or edited) response to one RFP question.
type Answer struct {
	// ID is the persisted answer row, zero until stored.
	ID             int64    `json:"id,omitempty"`
	QuestionID     int64    `json:"question_id"`
	QuestionNumber int      `json:"question_number"`
	QuestionText   string   `json:"question_text"`
	Text           string   `json:"answer_text"`
	Confidence     float64  `json:"confidence_score"`
	Sources        []Source `json:"source_documents"`
	// NoContext marks answers generated without any retrieved chunk; Note
	// then carries NoContextAnswer.
	NoContext bool   `json:"no_context,omitempty"`
	Note      string `json:"note,omitempty"`
	// Error is the per-question failure marker; Text is empty and
	// Confidence is 0 when set.
	Error       string     `json:"error,omitempty"`
	GeneratedAt time.Time  `json:"generated_at"`
	Edited      bool       `json:"edited"`
	EditedAt    *time.Time `json:"edited_at,omitempty"`
}

// Failed reports whether the answer carries an error marker.
func (a *Answer) Failed() bool { return a.Error != "" }

// MarkNoContext flags a as generated without supporting context.
func (a *Answer) MarkNoContext() {
	a.NoContext = true
	a.Note = NoContextAnswer
}
