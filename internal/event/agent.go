package event

// Agent tags identify which backend pipeline node produced a message.
// They match the node names of the research graph.
const (
	AgentCoordinator      = "coordinator"
	AgentPlanner          = "planner"
	AgentResearcher       = "researcher"
	AgentCoder            = "coder"
	AgentReporter         = "reporter"
	AgentPodcastGenerator = "podcast_generator"
)

// artifactProducingAgents are the agents whose finished output is a
// deliverable rather than conversational chatter.
var artifactProducingAgents = map[string]bool{
	AgentPlanner:          true,
	AgentCoder:            true,
	AgentReporter:         true,
	AgentPodcastGenerator: true,
}

// IsArtifactProducing reports whether messages from the given agent are
// candidates for artifact projection.
func IsArtifactProducing(agent string) bool {
	return artifactProducingAgents[agent]
}
