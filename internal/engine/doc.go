// Package engine contains the simulation rules: scaled time advancement,
// condition state machines, scripted event firing, action execution,
// rubric scoring, and display-time vitals noise.
//
// ARCHITECTURAL RULE: every evaluation here is deterministic given
// (scenario, session, sim-time, action log). Randomness exists only in
// the display noise generator, which never touches persisted state.
package engine
