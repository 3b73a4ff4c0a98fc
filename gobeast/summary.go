package main

import (
	"bitbucket.org/Davydov/gobeast/mcmc"
	"bitbucket.org/Davydov/gobeast/trace"
)

// RunSummary is storing gobeast run summary information.
type RunSummary struct {
	// Version stores gobeast version.
	Version string `json:"version"`
	// CommandLine is an array storing binary name and all command-line parameters.
	CommandLine []string `json:"commandLine"`
	// Seed is the seed of the first chain, chain k uses seed+k.
	Seed int64 `json:"seed"`
	// RunID is a unique identifier of the run.
	RunID string `json:"runID"`
	// Time is the computations time in seconds.
	Time float64 `json:"time"`
	// Chains are the summaries of all the chains.
	Chains []ChainSummary `json:"chains"`
}

// ChainSummary is the chain summary with the posterior summary of the
// logged columns.
type ChainSummary struct {
	*mcmc.Summary
	Columns []trace.ColumnSummary `json:"columns,omitempty"`
	// Error is set if the chain failed.
	Error string `json:"error,omitempty"`
}
