// Package workflow holds the fixed engine graph templates and projects
// per-request generation parameters onto them. Each supported variant has
// its own template and its own table of node coordinates; projection writes
// only those coordinates and never walks the graph generically.
package workflow
