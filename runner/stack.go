package runner

import (
	"errors"

	"github.com/trailofbits/optik/evm"
)

// ErrStackUnderflow is returned when a frame is popped from an empty
// engine stack.
var ErrStackUnderflow = errors.New("engine stack underflow")

// Frame is one call frame on the engine stack. It owns an execution
// context and remembers the world state mark taken when the frame was
// entered, so that a revert of the frame undoes exactly its own writes.
type Frame struct {
	Context  evm.Context
	Code     evm.Hash // hash of the code executing in this frame
	GasLimit evm.Gas  // gas budget of this frame

	worldMark evm.Snapshot
	logs      []evm.Log // logs emitted by this frame, dropped on revert
}

// EngineStack is the strictly LIFO stack of call frames of one
// transaction execution. Only the top frame is ever stepped; nested calls
// push, terminations pop.
type EngineStack struct {
	frames []*Frame
}

// Depth returns the number of frames on the stack. The top-level frame of
// a running transaction makes the depth 1.
func (s *EngineStack) Depth() int {
	return len(s.frames)
}

// Top returns the currently executing frame, or nil on an empty stack.
func (s *EngineStack) Top() *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// Push enters a new frame executing the given context.
func (s *EngineStack) Push(ctx evm.Context, code evm.Hash, gas evm.Gas, worldMark evm.Snapshot) *Frame {
	frame := &Frame{
		Context:   ctx,
		Code:      code,
		GasLimit:  gas,
		worldMark: worldMark,
	}
	s.frames = append(s.frames, frame)
	return frame
}

// Pop removes and returns the top frame.
func (s *EngineStack) Pop() (*Frame, error) {
	if len(s.frames) == 0 {
		return nil, ErrStackUnderflow
	}
	frame := s.frames[len(s.frames)-1]
	s.frames[len(s.frames)-1] = nil
	s.frames = s.frames[:len(s.frames)-1]
	return frame, nil
}
