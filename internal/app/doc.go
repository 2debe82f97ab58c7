// Package app wires the key lifecycle, signing, verification, backup and
// receipt components into the use cases a front end calls.
//
// Responsibilities:
// - Build the component graph from configuration.
// - Orchestrate the sign flow: ensure a key, sign, verify locally, issue a receipt.
//
// Non-responsibilities:
// - Prompt rendering, file dialogs and other platform UI.
// - Persisting signatures to a backend.
package app
