// Package services implements the driving port interfaces.
// Services contain the core business logic of question answering and
// ingestion and orchestrate calls to driven ports (adapters).
package services
