package service

import "context"

// Advisor is the external LLM-backed advisory surface. The core never calls it;
// UIs talk to it directly and it is declared here so they share one contract.
type Advisor interface {
	Analyze(ctx context.Context, image []byte, mimeType string) (Diagnosis, error)
	Translate(ctx context.Context, text, lang string) (string, error)
}
