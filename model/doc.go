// Package model implements a streaming client for OpenAI-style completion
// APIs. It speaks the Responses API natively over SSE and can adapt a
// chat-completions endpoint to the same event shape, so the agent loop
// consumes one stream type regardless of the upstream protocol.
package model
