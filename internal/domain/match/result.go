package match

// Result is one ranked similarity match (immutable value object).
type Result struct {
	documentID string
	agentName  string
	similarity float64
}

// New creates a match result.
func New(documentID, agentName string, similarity float64) Result {
	return Result{documentID: documentID, agentName: agentName, similarity: similarity}
}

// DocumentID returns the matched document identifier.
func (r Result) DocumentID() string { return r.documentID }

// AgentName returns the agent the matched document routes to.
func (r Result) AgentName() string { return r.agentName }

// Similarity returns the cosine similarity score in [-1, 1].
func (r Result) Similarity() float64 { return r.similarity }
