package workflow

import "fmt"

// ValidationResult reports whether a graph can run the selected tool. Errors
// block dispatch entirely; the first one is shown to the user.
type ValidationResult struct {
	IsValid  bool   `json:"isValid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Job is one unit of work for the vendor: a single video/avatar generation,
// attributed to the node whose state tracks it.
type Job struct {
	NodeID      string
	Tool        Tool
	Prompt      string
	ImageURL    string
	AudioURL    string
	VideoURL    string
	Duration    float64
	Speed       Speed
	AspectRatio string
	Credits     int
}

// Outputs is the dry-run summary of a graph: how many videos a run would
// produce and what it would cost.
type Outputs struct {
	TotalVideos  int `json:"totalVideos"`
	TotalCredits int `json:"totalCredits"`
}

// pairing describes the two-role tools: a producer node type wired into a
// consumer sink whose audio duration drives pricing.
type pairing struct {
	producer      NodeKind
	producerAsset func(Node) string
	producerName  string
}

var pairings = map[Tool]pairing{
	ToolLipSync:      {producer: NodeVideo, producerAsset: func(n Node) string { return n.Data.VideoURL }, producerName: "video"},
	ToolInfiniteTalk: {producer: NodeImage, producerAsset: func(n Node) string { return n.Data.ImageURL }, producerName: "image"},
}

// ValidateWorkflow checks graph well-formedness for the tool. An input node
// that exists but is connected to nothing is always an error, never a silent
// no-op: the user either wires it up or removes it.
func ValidateWorkflow(g Graph, tool Tool) ValidationResult {
	res := ValidationResult{}
	switch tool {
	case ToolLipSync, ToolInfiniteTalk:
		validatePairing(g, tool, &res)
	case ToolSora2, ToolVeo3:
		validateGenerator(g, tool, &res)
	case ToolAvatar:
		validateMultiRef(g, &res)
	default:
		res.Errors = append(res.Errors, fmt.Sprintf("unknown tool %q", tool))
	}
	res.IsValid = len(res.Errors) == 0
	return res
}

// CalculateOutputs simulates a dispatch without side effects. It stays
// consistent with ValidateWorkflow: a non-empty graph that plans zero jobs is
// always also invalid.
func CalculateOutputs(g Graph, tool Tool) Outputs {
	jobs := PlanJobs(g, tool)
	out := Outputs{TotalVideos: len(jobs)}
	for _, j := range jobs {
		out.TotalCredits += j.Credits
	}
	return out
}

// PlanJobs enumerates the jobs a run of the tool would dispatch, in dispatch
// order. A job priced at zero credits is never emitted.
func PlanJobs(g Graph, tool Tool) []Job {
	switch tool {
	case ToolLipSync, ToolInfiniteTalk:
		return planPairingJobs(g, tool)
	case ToolSora2, ToolVeo3:
		return planGeneratorJobs(g, tool)
	case ToolAvatar:
		return planMultiRefJobs(g)
	default:
		return nil
	}
}

func validatePairing(g Graph, tool Tool, res *ValidationResult) {
	p := pairings[tool]
	producers := g.nodesOfKind(p.producer)
	sinks := g.nodesOfKind(NodeAudio)

	if len(producers) == 0 {
		res.Errors = append(res.Errors, fmt.Sprintf("add at least one %s node", p.producerName))
	}
	if len(sinks) == 0 {
		res.Errors = append(res.Errors, "add at least one audio node")
	}

	for _, prod := range producers {
		if !g.connected(prod.ID) {
			res.Errors = append(res.Errors, fmt.Sprintf("%s node %s is not connected to anything", p.producerName, prod.ID))
			continue
		}
		if p.producerAsset(prod) == "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s node %s has no %s yet", p.producerName, prod.ID, p.producerName))
		}
	}

	for _, sink := range sinks {
		if sink.Data.AudioURL == "" || sink.Data.AudioDuration <= 0 {
			res.Errors = append(res.Errors, fmt.Sprintf("audio node %s needs an audio file with a known duration", sink.ID))
		}
		valid := false
		seen := false
		for _, src := range g.sourcesOf(sink.ID) {
			if src.Kind != p.producer {
				continue
			}
			seen = true
			if p.producerAsset(src) != "" {
				valid = true
			}
		}
		if !seen {
			res.Errors = append(res.Errors, fmt.Sprintf("audio node %s has no connected %s node", sink.ID, p.producerName))
		} else if !valid {
			res.Errors = append(res.Errors, fmt.Sprintf("audio node %s has no connected %s with content", sink.ID, p.producerName))
		}
	}
}

func planPairingJobs(g Graph, tool Tool) []Job {
	p := pairings[tool]
	var jobs []Job
	counted := map[string]bool{}
	for _, c := range g.Connections {
		src, okSrc := g.node(c.Source)
		sink, okSink := g.node(c.Target)
		if !okSrc || !okSink || src.Kind != p.producer || sink.Kind != NodeAudio {
			continue
		}
		key := c.Source + "->" + c.Target
		if counted[key] {
			continue
		}
		counted[key] = true
		if p.producerAsset(src) == "" || sink.Data.AudioURL == "" || sink.Data.AudioDuration <= 0 {
			continue
		}
		credits := durationRate(tool, sink.Data.AudioDuration)
		if credits <= 0 {
			continue
		}
		jobs = append(jobs, Job{
			NodeID:      sink.ID,
			Tool:        tool,
			ImageURL:    src.Data.ImageURL,
			VideoURL:    src.Data.VideoURL,
			AudioURL:    sink.Data.AudioURL,
			Duration:    sink.Data.AudioDuration,
			AspectRatio: sink.Data.AspectRatio,
			Credits:     credits,
		})
	}
	return jobs
}

func validateGenerator(g Graph, tool Tool, res *ValidationResult) {
	gens := g.nodesOfKind(generatorKind(tool))
	if len(gens) == 0 {
		res.Errors = append(res.Errors, fmt.Sprintf("add a %s node", tool))
	}
	for _, gen := range gens {
		if !validPrompt(gen.Data.Prompt) {
			res.Errors = append(res.Errors, fmt.Sprintf("node %s needs a prompt of at least %d characters", gen.ID, minPromptLen))
		}
	}
	for _, ref := range g.nodesOfKind(NodeReference) {
		if !g.connected(ref.ID) {
			res.Errors = append(res.Errors, fmt.Sprintf("reference node %s is not connected; connect it or remove it", ref.ID))
			continue
		}
		if ref.Data.ImageURL == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("reference node %s has no image", ref.ID))
		}
	}
}

func planGeneratorJobs(g Graph, tool Tool) []Job {
	// A dangling reference anywhere suppresses the text-mode fallback: the
	// graph is flagged invalid for it, and the dry-run totals must agree.
	hasDangling := false
	for _, ref := range g.nodesOfKind(NodeReference) {
		if !g.connected(ref.ID) {
			hasDangling = true
			break
		}
	}

	var jobs []Job
	for _, gen := range g.nodesOfKind(generatorKind(tool)) {
		if !validPrompt(gen.Data.Prompt) {
			continue
		}
		refs := resolveReferences(g, gen.ID, map[string]bool{})
		rate := jobRate(tool, gen)
		switch {
		case len(refs) > 0:
			for _, img := range refs {
				jobs = append(jobs, Job{
					NodeID:      gen.ID,
					Tool:        tool,
					Prompt:      gen.Data.Prompt,
					ImageURL:    img,
					Speed:       gen.Data.Speed,
					AspectRatio: gen.Data.AspectRatio,
					Credits:     rate,
				})
			}
		case !hasDangling:
			jobs = append(jobs, Job{
				NodeID:      gen.ID,
				Tool:        tool,
				Prompt:      gen.Data.Prompt,
				Speed:       gen.Data.Speed,
				AspectRatio: gen.Data.AspectRatio,
				Credits:     rate,
			})
		}
	}
	return jobs
}

// resolveReferences collects the reference images feeding a generator,
// following generator-to-generator edges transitively: a reference wired into
// an upstream generator also counts for the downstream one. The visited set
// terminates cycles; the result is de-duplicated in connection order.
func resolveReferences(g Graph, genID string, visited map[string]bool) []string {
	if visited[genID] {
		return nil
	}
	visited[genID] = true

	var images []string
	seen := map[string]bool{}
	add := func(urls []string) {
		for _, u := range urls {
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			images = append(images, u)
		}
	}

	for _, src := range g.sourcesOf(genID) {
		switch {
		case src.Kind == NodeReference:
			add([]string{src.Data.ImageURL})
		case src.Kind.Generator():
			add(resolveReferences(g, src.ID, visited))
		}
	}
	return images
}

func validateMultiRef(g Graph, res *ValidationResult) {
	gens := g.nodesOfKind(NodeAvatar)
	if len(gens) == 0 {
		res.Errors = append(res.Errors, "add an avatar node")
	}
	for _, gen := range gens {
		if !validPrompt(gen.Data.Prompt) {
			res.Errors = append(res.Errors, fmt.Sprintf("node %s needs a prompt of at least %d characters", gen.ID, minPromptLen))
		}
	}
	for _, container := range g.nodesOfKind(NodeMultiRef) {
		if !g.connected(container.ID) {
			res.Errors = append(res.Errors, fmt.Sprintf("reference pack %s is not connected; connect it or remove it", container.ID))
			continue
		}
		if len(container.Data.Images) == 0 {
			res.Errors = append(res.Errors, fmt.Sprintf("reference pack %s is empty", container.ID))
		}
	}
}

func planMultiRefJobs(g Graph) []Job {
	// An orphan reference pack anywhere zeroes the whole computation: the
	// workflow cannot run until the dangling node is resolved.
	for _, container := range g.nodesOfKind(NodeMultiRef) {
		if !g.connected(container.ID) {
			return nil
		}
	}

	var jobs []Job
	for _, gen := range g.nodesOfKind(NodeAvatar) {
		if !validPrompt(gen.Data.Prompt) {
			continue
		}
		var images []string
		seen := map[string]bool{}
		for _, src := range g.sourcesOf(gen.ID) {
			if src.Kind != NodeMultiRef {
				continue
			}
			for _, img := range src.Data.Images {
				if img == "" || seen[img] {
					continue
				}
				seen[img] = true
				images = append(images, img)
			}
		}
		rate := jobRate(ToolAvatar, gen)
		if len(images) == 0 {
			jobs = append(jobs, Job{NodeID: gen.ID, Tool: ToolAvatar, Prompt: gen.Data.Prompt, AspectRatio: gen.Data.AspectRatio, Credits: rate})
			continue
		}
		for _, img := range images {
			jobs = append(jobs, Job{NodeID: gen.ID, Tool: ToolAvatar, Prompt: gen.Data.Prompt, ImageURL: img, AspectRatio: gen.Data.AspectRatio, Credits: rate})
		}
	}
	return jobs
}
