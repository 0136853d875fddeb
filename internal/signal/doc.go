// Package signal implements the behavioral signal engine: a per-page-visit
// event pipeline that turns low-level interaction events (pointer, scroll,
// hover, keyboard, touch) into heuristic counters and delivers one telemetry
// payload when the visit ends.
//
// A host adapter owns the page. It calls Install once per page, forwards
// normalized events to the returned Engine and signals the end of the visit
// through BeforeUnload and/or PageHide. Whichever exit signal arrives first
// builds and sends the payload; every later one is a no-op.
//
// Without a project key the engine is inert: events are accepted and ignored,
// and nothing is stored or sent.
package signal
