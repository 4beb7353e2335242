package embed

// RemoteEmbedRequest is the wire request body for a remote embedding call
// (Ollama-compatible `/api/embed` shape: a model name plus one string or
// a batch of strings).
type RemoteEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

// RemoteEmbedResponse is the wire response body.
type RemoteEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// RemoteModelInfo describes one model the remote host advertises.
type RemoteModelInfo struct {
	Name string `json:"name"`
}

// RemoteModelListResponse is the wire response body for model discovery.
type RemoteModelListResponse struct {
	Models []RemoteModelInfo `json:"models"`
}
