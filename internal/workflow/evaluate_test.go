package workflow

import "testing"

func node(id string, kind NodeKind, data NodeData) Node {
	return Node{ID: id, Kind: kind, Data: data}
}

func edge(source, target string) Connection {
	return Connection{ID: source + "-" + target, Source: source, Target: target}
}

func TestValidateWorkflowLipSync(t *testing.T) {
	t.Run("valid_pair", func(t *testing.T) {
		g := Graph{
			Nodes: []Node{
				node("v1", NodeVideo, NodeData{VideoURL: "https://cdn/video.mp4"}),
				node("a1", NodeAudio, NodeData{AudioURL: "https://cdn/audio.mp3", AudioDuration: 12}),
			},
			Connections: []Connection{edge("v1", "a1")},
		}
		res := ValidateWorkflow(g, ToolLipSync)
		if !res.IsValid {
			t.Fatalf("expected valid, got errors=%v", res.Errors)
		}
	})

	t.Run("missing_audio_duration", func(t *testing.T) {
		g := Graph{
			Nodes: []Node{
				node("v1", NodeVideo, NodeData{VideoURL: "https://cdn/video.mp4"}),
				node("a1", NodeAudio, NodeData{AudioURL: "https://cdn/audio.mp3"}),
			},
			Connections: []Connection{edge("v1", "a1")},
		}
		if res := ValidateWorkflow(g, ToolLipSync); res.IsValid {
			t.Fatal("expected invalid when audio duration is unknown")
		}
	})

	t.Run("unconnected_video_is_error", func(t *testing.T) {
		g := Graph{
			Nodes: []Node{
				node("v1", NodeVideo, NodeData{VideoURL: "https://cdn/a.mp4"}),
				node("v2", NodeVideo, NodeData{VideoURL: "https://cdn/b.mp4"}),
				node("a1", NodeAudio, NodeData{AudioURL: "https://cdn/audio.mp3", AudioDuration: 5}),
			},
			Connections: []Connection{edge("v1", "a1")},
		}
		if res := ValidateWorkflow(g, ToolLipSync); res.IsValid {
			t.Fatal("expected invalid with a dangling video node")
		}
	})

	t.Run("no_nodes", func(t *testing.T) {
		if res := ValidateWorkflow(Graph{}, ToolLipSync); res.IsValid {
			t.Fatal("expected invalid for empty graph")
		}
	})
}

func TestCalculateOutputsLipSync(t *testing.T) {
	t.Run("duration_pricing_rounds_up", func(t *testing.T) {
		g := Graph{
			Nodes: []Node{
				node("v1", NodeVideo, NodeData{VideoURL: "https://cdn/video.mp4"}),
				node("a1", NodeAudio, NodeData{AudioURL: "https://cdn/audio.mp3", AudioDuration: 11.2}),
			},
			Connections: []Connection{edge("v1", "a1")},
		}
		out := CalculateOutputs(g, ToolLipSync)
		if out.TotalVideos != 1 {
			t.Fatalf("expected 1 video, got %d", out.TotalVideos)
		}
		if out.TotalCredits != 24 {
			t.Fatalf("expected ceil(11.2)*2 = 24 credits, got %d", out.TotalCredits)
		}
	})

	t.Run("duplicate_connection_counted_once", func(t *testing.T) {
		g := Graph{
			Nodes: []Node{
				node("v1", NodeVideo, NodeData{VideoURL: "https://cdn/video.mp4"}),
				node("a1", NodeAudio, NodeData{AudioURL: "https://cdn/audio.mp3", AudioDuration: 4}),
			},
			Connections: []Connection{
				edge("v1", "a1"),
				{ID: "dup", Source: "v1", Target: "a1"},
			},
		}
		out := CalculateOutputs(g, ToolLipSync)
		if out.TotalVideos != 1 {
			t.Fatalf("expected duplicate edge deduped, got %d videos", out.TotalVideos)
		}
	})

	t.Run("two_pairs_priced_independently", func(t *testing.T) {
		g := Graph{
			Nodes: []Node{
				node("v1", NodeVideo, NodeData{VideoURL: "https://cdn/a.mp4"}),
				node("v2", NodeVideo, NodeData{VideoURL: "https://cdn/b.mp4"}),
				node("a1", NodeAudio, NodeData{AudioURL: "https://cdn/a.mp3", AudioDuration: 3}),
				node("a2", NodeAudio, NodeData{AudioURL: "https://cdn/b.mp3", AudioDuration: 7}),
			},
			Connections: []Connection{edge("v1", "a1"), edge("v2", "a2")},
		}
		out := CalculateOutputs(g, ToolLipSync)
		if out.TotalVideos != 2 || out.TotalCredits != 20 {
			t.Fatalf("expected 2 videos / 20 credits, got %d / %d", out.TotalVideos, out.TotalCredits)
		}
	})
}

func TestCalculateOutputsInfiniteTalk(t *testing.T) {
	t.Run("image_audio_pair", func(t *testing.T) {
		g := Graph{
			Nodes: []Node{
				node("i1", NodeImage, NodeData{ImageURL: "https://cdn/face.png"}),
				node("a1", NodeAudio, NodeData{AudioURL: "https://cdn/speech.mp3", AudioDuration: 6.4}),
			},
			Connections: []Connection{edge("i1", "a1")},
		}
		if res := ValidateWorkflow(g, ToolInfiniteTalk); !res.IsValid {
			t.Fatalf("expected valid, got errors=%v", res.Errors)
		}
		out := CalculateOutputs(g, ToolInfiniteTalk)
		if out.TotalVideos != 1 || out.TotalCredits != 14 {
			t.Fatalf("expected 1 video / ceil(6.4)*2 = 14 credits, got %d / %d", out.TotalVideos, out.TotalCredits)
		}
		jobs := PlanJobs(g, ToolInfiniteTalk)
		if len(jobs) != 1 {
			t.Fatalf("expected 1 job, got %d", len(jobs))
		}
		if jobs[0].ImageURL != "https://cdn/face.png" || jobs[0].AudioURL != "https://cdn/speech.mp3" {
			t.Fatalf("job missing pair assets: %+v", jobs[0])
		}
	})

	t.Run("image_without_url_is_error", func(t *testing.T) {
		g := Graph{
			Nodes: []Node{
				node("i1", NodeImage, NodeData{}),
				node("a1", NodeAudio, NodeData{AudioURL: "https://cdn/speech.mp3", AudioDuration: 3}),
			},
			Connections: []Connection{edge("i1", "a1")},
		}
		if res := ValidateWorkflow(g, ToolInfiniteTalk); res.IsValid {
			t.Fatal("expected invalid when the connected image has no URL")
		}
		if out := CalculateOutputs(g, ToolInfiniteTalk); out.TotalCredits != 0 {
			t.Fatalf("expected no credits for an empty image, got %d", out.TotalCredits)
		}
	})

	t.Run("video_node_does_not_pair", func(t *testing.T) {
		g := Graph{
			Nodes: []Node{
				node("v1", NodeVideo, NodeData{VideoURL: "https://cdn/clip.mp4"}),
				node("a1", NodeAudio, NodeData{AudioURL: "https://cdn/speech.mp3", AudioDuration: 3}),
			},
			Connections: []Connection{edge("v1", "a1")},
		}
		if out := CalculateOutputs(g, ToolInfiniteTalk); out.TotalVideos != 0 {
			t.Fatalf("video producer must not satisfy an image pairing, got %d videos", out.TotalVideos)
		}
	})
}

func TestCalculateOutputsSora2(t *testing.T) {
	t.Run("text_only", func(t *testing.T) {
		g := Graph{Nodes: []Node{node("g1", NodeSora2, NodeData{Prompt: "a cat surfing"})}}
		out := CalculateOutputs(g, ToolSora2)
		if out.TotalVideos != 1 || out.TotalCredits != 10 {
			t.Fatalf("expected 1 video / 10 credits, got %d / %d", out.TotalVideos, out.TotalCredits)
		}
	})

	t.Run("three_references_three_jobs", func(t *testing.T) {
		g := Graph{
			Nodes: []Node{
				node("g1", NodeSora2, NodeData{Prompt: "a cat surfing"}),
				node("r1", NodeReference, NodeData{ImageURL: "https://cdn/1.png"}),
				node("r2", NodeReference, NodeData{ImageURL: "https://cdn/2.png"}),
				node("r3", NodeReference, NodeData{ImageURL: "https://cdn/3.png"}),
			},
			Connections: []Connection{edge("r1", "g1"), edge("r2", "g1"), edge("r3", "g1")},
		}
		out := CalculateOutputs(g, ToolSora2)
		if out.TotalVideos != 3 || out.TotalCredits != 30 {
			t.Fatalf("expected 3 videos / 30 credits, got %d / %d", out.TotalVideos, out.TotalCredits)
		}
	})

	t.Run("dangling_reference_suppresses_text_fallback", func(t *testing.T) {
		g := Graph{
			Nodes: []Node{
				node("g1", NodeSora2, NodeData{Prompt: "a cat surfing"}),
				node("r1", NodeReference, NodeData{ImageURL: "https://cdn/1.png"}),
			},
		}
		out := CalculateOutputs(g, ToolSora2)
		if out.TotalVideos != 0 {
			t.Fatalf("expected 0 videos with dangling reference, got %d", out.TotalVideos)
		}
		if res := ValidateWorkflow(g, ToolSora2); res.IsValid {
			t.Fatal("dangling reference must also fail validation")
		}
	})

	t.Run("transitive_references_via_chained_generators", func(t *testing.T) {
		g := Graph{
			Nodes: []Node{
				node("g1", NodeSora2, NodeData{Prompt: "scene one"}),
				node("g2", NodeSora2, NodeData{Prompt: "scene two"}),
				node("r1", NodeReference, NodeData{ImageURL: "https://cdn/1.png"}),
			},
			Connections: []Connection{edge("r1", "g1"), edge("g1", "g2")},
		}
		jobs := PlanJobs(g, ToolSora2)
		byNode := map[string]int{}
		for _, j := range jobs {
			byNode[j.NodeID]++
			if j.ImageURL != "https://cdn/1.png" {
				t.Fatalf("expected inherited reference image, got %q", j.ImageURL)
			}
		}
		if byNode["g1"] != 1 || byNode["g2"] != 1 {
			t.Fatalf("expected one job per generator, got %v", byNode)
		}
	})

	t.Run("generator_cycle_terminates", func(t *testing.T) {
		g := Graph{
			Nodes: []Node{
				node("g1", NodeSora2, NodeData{Prompt: "scene one"}),
				node("g2", NodeSora2, NodeData{Prompt: "scene two"}),
				node("r1", NodeReference, NodeData{ImageURL: "https://cdn/1.png"}),
			},
			Connections: []Connection{edge("r1", "g1"), edge("g1", "g2"), edge("g2", "g1")},
		}
		out := CalculateOutputs(g, ToolSora2)
		if out.TotalVideos != 2 {
			t.Fatalf("expected cycle to terminate with 2 jobs, got %d", out.TotalVideos)
		}
	})

	t.Run("short_prompt_invalid", func(t *testing.T) {
		g := Graph{Nodes: []Node{node("g1", NodeSora2, NodeData{Prompt: "hi"})}}
		if res := ValidateWorkflow(g, ToolSora2); res.IsValid {
			t.Fatal("expected short prompt to fail validation")
		}
		if out := CalculateOutputs(g, ToolSora2); out.TotalVideos != 0 {
			t.Fatalf("expected 0 videos for invalid prompt, got %d", out.TotalVideos)
		}
	})
}

func TestCalculateOutputsVeo3(t *testing.T) {
	t.Run("speed_tiers", func(t *testing.T) {
		fast := Graph{Nodes: []Node{node("g1", NodeVeo3, NodeData{Prompt: "a drone shot", Speed: SpeedFast})}}
		quality := Graph{Nodes: []Node{node("g1", NodeVeo3, NodeData{Prompt: "a drone shot", Speed: SpeedQuality})}}
		if out := CalculateOutputs(fast, ToolVeo3); out.TotalCredits != 10 {
			t.Fatalf("expected fast tier at 10, got %d", out.TotalCredits)
		}
		if out := CalculateOutputs(quality, ToolVeo3); out.TotalCredits != 30 {
			t.Fatalf("expected quality tier at 30, got %d", out.TotalCredits)
		}
	})

	t.Run("unset_speed_defaults_to_fast", func(t *testing.T) {
		g := Graph{Nodes: []Node{node("g1", NodeVeo3, NodeData{Prompt: "a drone shot"})}}
		if out := CalculateOutputs(g, ToolVeo3); out.TotalCredits != 10 {
			t.Fatalf("expected default fast tier at 10, got %d", out.TotalCredits)
		}
	})
}

func TestCalculateOutputsAvatar(t *testing.T) {
	t.Run("connected_pack_one_job_per_image", func(t *testing.T) {
		g := Graph{
			Nodes: []Node{
				node("g1", NodeAvatar, NodeData{Prompt: "talking head"}),
				node("m1", NodeMultiRef, NodeData{Images: []string{"https://cdn/1.png", "https://cdn/2.png"}}),
			},
			Connections: []Connection{edge("m1", "g1")},
		}
		out := CalculateOutputs(g, ToolAvatar)
		if out.TotalVideos != 2 || out.TotalCredits != 30 {
			t.Fatalf("expected 2 videos / 30 credits, got %d / %d", out.TotalVideos, out.TotalCredits)
		}
	})

	t.Run("orphan_pack_zeroes_everything", func(t *testing.T) {
		g := Graph{
			Nodes: []Node{
				node("g1", NodeAvatar, NodeData{Prompt: "talking head"}),
				node("m1", NodeMultiRef, NodeData{Images: []string{"https://cdn/1.png"}}),
			},
		}
		out := CalculateOutputs(g, ToolAvatar)
		if out.TotalVideos != 0 || out.TotalCredits != 0 {
			t.Fatalf("expected zero outputs with orphan pack, got %d / %d", out.TotalVideos, out.TotalCredits)
		}
		if res := ValidateWorkflow(g, ToolAvatar); res.IsValid {
			t.Fatal("orphan pack must fail validation")
		}
	})

	t.Run("no_pack_single_job", func(t *testing.T) {
		g := Graph{Nodes: []Node{node("g1", NodeAvatar, NodeData{Prompt: "talking head"})}}
		out := CalculateOutputs(g, ToolAvatar)
		if out.TotalVideos != 1 || out.TotalCredits != 15 {
			t.Fatalf("expected 1 video / 15 credits, got %d / %d", out.TotalVideos, out.TotalCredits)
		}
	})
}

// Every graph that plans zero jobs while holding nodes for the tool must
// also fail validation; the dry-run totals and the validator may never
// disagree in that direction.
func TestZeroOutputsImpliesInvalid(t *testing.T) {
	cases := []struct {
		name string
		tool Tool
		g    Graph
	}{
		{
			name: "sora2_dangling_reference",
			tool: ToolSora2,
			g: Graph{Nodes: []Node{
				node("g1", NodeSora2, NodeData{Prompt: "a cat surfing"}),
				node("r1", NodeReference, NodeData{ImageURL: "https://cdn/1.png"}),
			}},
		},
		{
			name: "sora2_short_prompt",
			tool: ToolSora2,
			g:    Graph{Nodes: []Node{node("g1", NodeSora2, NodeData{Prompt: "no"})}},
		},
		{
			name: "avatar_orphan_pack",
			tool: ToolAvatar,
			g: Graph{Nodes: []Node{
				node("g1", NodeAvatar, NodeData{Prompt: "talking head"}),
				node("m1", NodeMultiRef, NodeData{Images: []string{"https://cdn/1.png"}}),
			}},
		},
		{
			name: "lipsync_empty_audio",
			tool: ToolLipSync,
			g: Graph{
				Nodes: []Node{
					node("v1", NodeVideo, NodeData{VideoURL: "https://cdn/a.mp4"}),
					node("a1", NodeAudio, NodeData{}),
				},
				Connections: []Connection{edge("v1", "a1")},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := CalculateOutputs(tc.g, tc.tool)
			res := ValidateWorkflow(tc.g, tc.tool)
			if out.TotalVideos == 0 && res.IsValid {
				t.Fatalf("zero planned videos but validation passed: %+v", res)
			}
		})
	}
}
