// Package normalisers provides implementations of the Normaliser interface
// for the policy document formats. Each normaliser knows how to extract text
// content from a specific MIME type.
//
// The package also holds what every format shares: stable document ids,
// policy id inference, section detection and the registry that selects a
// normaliser by MIME type.
//
// Normalisers are registered with the Registry at startup.
package normalisers
