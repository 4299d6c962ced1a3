package engine

import "errors"

var (
	// ErrFlowNotFound marks a call_flow naming an unregistered flow.
	ErrFlowNotFound = errors.New("flow not found")
	// ErrMaxFlowDepth marks recursion past the engine depth cap.
	ErrMaxFlowDepth = errors.New("max flow depth exceeded")
	// ErrFlowAborted carries an abort raised inside a flow.
	ErrFlowAborted = errors.New("flow aborted")
	// ErrParameter marks a missing or type-mismatched flow argument.
	ErrParameter = errors.New("invalid flow parameter")
)
