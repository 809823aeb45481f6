package workflow

import "math"

// minPromptLen is the shortest prompt a generator will accept.
const minPromptLen = 3

// Per-second rates for the paired producer/sink tools; the sink's audio
// duration drives the price.
var perSecondRates = map[Tool]int{
	ToolLipSync:      2,
	ToolInfiniteTalk: 2,
}

// Flat per-job rates. Veo3 is priced by speed tier instead.
var perJobRates = map[Tool]int{
	ToolSora2:  10,
	ToolAvatar: 15,
}

var veo3Rates = map[Speed]int{
	SpeedFast:    10,
	SpeedQuality: 30,
}

// jobRate prices one job for the tool, taking the node's speed tier into
// account where the tool has one.
func jobRate(tool Tool, node Node) int {
	if tool == ToolVeo3 {
		if rate, ok := veo3Rates[node.Data.Speed]; ok {
			return rate
		}
		return veo3Rates[SpeedFast]
	}
	return perJobRates[tool]
}

// durationRate prices one producer/sink pair from the sink's audio duration.
// Partial seconds round up.
func durationRate(tool Tool, seconds float64) int {
	if seconds <= 0 {
		return 0
	}
	return int(math.Ceil(seconds)) * perSecondRates[tool]
}

func validPrompt(s string) bool {
	return len(s) >= minPromptLen
}
