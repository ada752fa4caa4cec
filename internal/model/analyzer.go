package model

import (
	"context"
)

// Analyzer turns a traffic summary prompt into prose produced by an AI model.
type Analyzer interface {
	// AnalyzeTraffic receives a prompt and returns the model's answer.
	AnalyzeTraffic(ctx context.Context, prompt string) (string, error)
}
