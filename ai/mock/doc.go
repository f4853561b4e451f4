// Package mock provides test doubles for the ai package interfaces.
//
// The mocks generate deterministic vectors by default and allow custom
// behavior injection via function fields for failure-path testing.
package mock
