// Package export implements the project export state machine.
//
// A Machine moves through
//
//	Idle -> Triggered -> Polling -> Finished | Failed | NotFound
//
// It triggers the server-side export once, then polls the export status at a
// fixed interval until the server reports finished, failed or none. Poll
// errors and unknown statuses keep the machine polling; only ctx ends an
// unfinished export.
//
// While polling, the machine feeds a progress.Tracker with an estimate: one
// point per poll up to 90, then 100 once the export is finished. The value
// is a UI hint, not a measurement.
package export
