package protocol

import "time"

// SynthesizeRequest is a speech synthesis request received on the bus.
type SynthesizeRequest struct {
	RequestID   string `json:"request_id,omitempty"`
	Text        string `json:"text"`
	Description string `json:"description,omitempty"`
	Format      string `json:"format,omitempty"`
}

// SynthesizeReply carries the synthesized audio back to the requester.
type SynthesizeReply struct {
	RequestID      string    `json:"request_id"`
	Audio          []byte    `json:"audio,omitempty"`
	ContentType    string    `json:"content_type,omitempty"`
	SampleRate     int       `json:"sample_rate,omitempty"`
	SegmentsTotal  int       `json:"segments_total,omitempty"`
	SegmentsFailed int       `json:"segments_failed,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Error          string    `json:"error,omitempty"`
}

const (
	SubjectSynthesize = "speech.synthesize"
)
