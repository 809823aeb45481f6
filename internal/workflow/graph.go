// Package workflow interprets the node-graph a user builds on the canvas:
// validation, job planning and credit pricing, then dispatch to the
// generation vendor and poll-based result routing.
package workflow

// Tool selects which generator pipeline a graph is evaluated against.
type Tool string

const (
	ToolSora2        Tool = "sora2"
	ToolVeo3         Tool = "veo3"
	ToolLipSync      Tool = "lipsync"
	ToolInfiniteTalk Tool = "infinitetalk"
	ToolAvatar       Tool = "avatar"
)

func (t Tool) Valid() bool {
	switch t {
	case ToolSora2, ToolVeo3, ToolLipSync, ToolInfiniteTalk, ToolAvatar:
		return true
	}
	return false
}

type NodeKind string

const (
	// Generator nodes, one kind per tool.
	NodeSora2        NodeKind = "sora2"
	NodeVeo3         NodeKind = "veo3"
	NodeAvatar       NodeKind = "avatar"
	NodeLipSync      NodeKind = "lipsync"
	NodeInfiniteTalk NodeKind = "infinitetalk"

	// Input and utility nodes.
	NodeReference NodeKind = "reference"
	NodeMultiRef  NodeKind = "multiref"
	NodeImage     NodeKind = "image"
	NodeAudio     NodeKind = "audio"
	NodeVideo     NodeKind = "video"
	NodeScript    NodeKind = "script"
	NodePrompt    NodeKind = "prompt"
	NodeVoice     NodeKind = "voice"
	NodeExport    NodeKind = "export"
)

func (k NodeKind) Generator() bool {
	switch k {
	case NodeSora2, NodeVeo3, NodeAvatar, NodeLipSync, NodeInfiniteTalk:
		return true
	}
	return false
}

// generatorKind maps a tool to its generator node kind.
func generatorKind(t Tool) NodeKind {
	return NodeKind(t)
}

// Speed is the veo3 quality/speed tier; it changes the per-job rate.
type Speed string

const (
	SpeedFast    Speed = "fast"
	SpeedQuality Speed = "quality"
)

// NodeData holds the per-kind payload. Fields are sparse; which ones matter
// depends on the node kind.
type NodeData struct {
	Prompt        string   `json:"prompt,omitempty"`
	ImageURL      string   `json:"image_url,omitempty"`
	Images        []string `json:"images,omitempty"` // multiref container contents
	AudioURL      string   `json:"audio_url,omitempty"`
	AudioDuration float64  `json:"audio_duration,omitempty"` // seconds
	VideoURL      string   `json:"video_url,omitempty"`
	AspectRatio   string   `json:"aspect_ratio,omitempty"`
	Speed         Speed    `json:"speed,omitempty"`
}

type Node struct {
	ID   string   `json:"id"`
	Kind NodeKind `json:"type"`
	Data NodeData `json:"data"`
}

// Connection is a directed edge: source feeds target.
type Connection struct {
	ID     string `json:"id"`
	Source string `json:"sourceNodeId"`
	Target string `json:"targetNodeId"`
}

type Graph struct {
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
}

func (g Graph) node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// connected reports whether the node participates in any edge.
func (g Graph) connected(id string) bool {
	for _, c := range g.Connections {
		if c.Source == id || c.Target == id {
			return true
		}
	}
	return false
}

// sourcesOf returns the nodes feeding into target.
func (g Graph) sourcesOf(target string) []Node {
	var out []Node
	for _, c := range g.Connections {
		if c.Target != target {
			continue
		}
		if n, ok := g.node(c.Source); ok {
			out = append(out, n)
		}
	}
	return out
}

func (g Graph) nodesOfKind(kind NodeKind) []Node {
	var out []Node
	for _, n := range g.Nodes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}
