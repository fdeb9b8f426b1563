// Package template deduplicates expression structure.
//
// Templatize replaces every constant of an expression with a fresh
// parameter, yielding a shape (a Lambda over those parameters) and the list
// of hoisted constants. Shapes are fingerprinted and interned in a Registry,
// so structurally identical expressions share one template identifier. The
// templatized form is
//
//	Invoke(Parameter(templateID), constants...)
//
// and Detemplatize restores the original by beta reduction.
package template
