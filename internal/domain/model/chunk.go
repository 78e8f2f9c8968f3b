package model

// Chunk is one increment of a job's streamed output. Seq is strictly
// increasing per job starting at 0; nothing follows a final chunk.
type Chunk struct {
	JobID   string
	Seq     uint64
	Payload []byte
	Final   bool
}
