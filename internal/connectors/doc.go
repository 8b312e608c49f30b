// Package connectors provides implementations of the DocumentSource
// interface. Each source knows how to list and watch raw policy files
// from one kind of location.
package connectors
