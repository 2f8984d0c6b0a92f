package messaging

import "fmt"

// SyntaxError reports malformed template content. Authoring-time validation
// should catch these before a template is eligible for matching; the renderer
// guards against them again at render time.
type SyntaxError struct {
	TemplateID int64
	Field      string
	Err        error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("template %d: invalid %s template syntax: %v",
		e.TemplateID, e.Field, e.Err)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// UndefinedVariableError reports a reference to a context variable that was
// not supplied to the renderer.
type UndefinedVariableError struct {
	TemplateID int64
	Field      string
	Variable   string
}

func (e *UndefinedVariableError) Error() string {
	return fmt.Sprintf("template %d: %s template references undefined variable %q",
		e.TemplateID, e.Field, e.Variable)
}

// RenderError reports a template that parsed cleanly but failed during
// evaluation, such as a field access on a nil value.
type RenderError struct {
	TemplateID int64
	Field      string
	Err        error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("template %d: error rendering %s template: %v",
		e.TemplateID, e.Field, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// InheritanceCycleError reports a cycle in a template extends chain.
type InheritanceCycleError struct {
	TemplateID int64
}

func (e *InheritanceCycleError) Error() string {
	return fmt.Sprintf("template %d: extends chain contains a cycle", e.TemplateID)
}
