package types

// Topic tokens shared by the services.
const (
	TokParam     = "param"
	TokCommand   = "command"
	TokStatus    = "status"
	TokManifest  = "manifest"
	TokGet       = "get"
	TokConverter = "converter"
	TokState     = "state"
	TokConfig    = "config"
	TokPresets   = "presets"
	TokBridge    = "bridge"
)
