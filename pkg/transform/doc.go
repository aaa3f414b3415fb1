// Package transform turns a source document into an endpoint-specific
// payload using a declarative mapping.
//
// Documents are generic JSON-shaped trees: map[string]any, []any, string,
// bool, nil and the numeric types produced by encoding/json or built in Go
// code. Rules read a value with a path expression ("alert.items[0].name",
// `labels["team.name"]`), optionally pass it through a named built-in, and
// write it to a target path, creating intermediate objects and arrays.
//
// Apply never fails. A missing or broken mapping yields the default payload
// shape so one misconfigured endpoint cannot block the others.
package transform
