// Package components holds concrete parameter owners used by the converter
// runtime. Each embeds *param.Component, declares its parameters in its
// constructor, and installs itself as the verifier when its parameters have
// joint invariants. Real-time methods (Tick, Apply) read active values only.
package components
