package llm

import (
	"context"

	vertexgenai "cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/iterator"
)

type VertexGemini struct {
	client *vertexgenai.Client
	model  *vertexgenai.GenerativeModel
}

type VertexOptions struct {
	ProjectID   string
	Location    string
	Model       string
	Instruction string
	MaxTokens   int32
}

func NewVertexGemini(ctx context.Context, o VertexOptions) (*VertexGemini, error) {
	c, err := vertexgenai.NewClient(ctx, o.ProjectID, o.Location)
	if err != nil {
		return nil, err
	}

	if o.Model == "" {
		o.Model = "gemini-1.5-flash"
	}

	m := c.GenerativeModel(o.Model)
	m.SetTemperature(0.4)
	if o.MaxTokens > 0 {
		m.SetMaxOutputTokens(o.MaxTokens)
	}
	if o.Instruction != "" {
		m.SystemInstruction = &vertexgenai.Content{Parts: []vertexgenai.Part{vertexgenai.Text(o.Instruction)}}
	}
	return &VertexGemini{client: c, model: m}, nil
}

func (v *VertexGemini) Close() error { return v.client.Close() }

func (v *VertexGemini) StreamAnswer(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	out := make(chan string, 32)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		it := v.model.GenerateContentStream(ctx, vertexgenai.Text(prompt))
		for {
			resp, err := it.Next()
			if err == iterator.Done {
				return
			}
			if err != nil {
				errs <- err
				return
			}

			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if t, ok := part.(vertexgenai.Text); ok && string(t) != "" {
						out <- string(t)
					}
				}
			}
		}
	}()

	return out, errs
}
