package pipeline

import (
	"context"
	"fmt"
)

// Processor is one pipeline stage. It may return the frame unchanged,
// return a replacement, or return nil to swallow the frame.
type Processor interface {
	Name() string
	ProcessFrame(ctx context.Context, frame Frame, dir Direction) (Frame, error)
}

// Pipeline runs frames through its stages in order. Downstream frames
// visit stages first to last, upstream frames last to first.
type Pipeline struct {
	stages []Processor
}

// New builds a pipeline from the given stages.
func New(stages ...Processor) *Pipeline {
	return &Pipeline{stages: stages}
}

// Process pushes one frame through the pipeline and returns whatever
// comes out the far end. A swallowed frame returns nil without error.
func (p *Pipeline) Process(ctx context.Context, frame Frame, dir Direction) (Frame, error) {
	for i := range p.stages {
		stage := p.stages[i]
		if dir == Upstream {
			stage = p.stages[len(p.stages)-1-i]
		}

		out, err := stage.ProcessFrame(ctx, frame, dir)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", stage.Name(), err)
		}
		if out == nil {
			return nil, nil
		}
		frame = out
	}
	return frame, nil
}
