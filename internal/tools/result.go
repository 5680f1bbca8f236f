package tools

// Result is the outcome of a tool execution, fed back to the model as a
// tool result block.
type Result struct {
	// Content is the text returned to the model.
	Content string

	// IsError marks the result as a failure (missing file, bad arguments,
	// non-zero exit). The model sees it and can recover.
	IsError bool

	// Violation marks a security policy rejection. Violations are a
	// subset of errors and are counted separately by the agent loop.
	Violation bool
}

// TextResult returns a successful result.
func TextResult(content string) *Result {
	return &Result{Content: content}
}

// ErrorResult returns a failed result the model can react to.
func ErrorResult(content string) *Result {
	return &Result{Content: content, IsError: true}
}

// ViolationResult returns a security rejection.
func ViolationResult(content string) *Result {
	return &Result{Content: content, IsError: true, Violation: true}
}
