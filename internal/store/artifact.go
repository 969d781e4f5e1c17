package store

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/yadra-ai/workspace-gateway/internal/event"
)

// Artifact is a derived deliverable projected from message state. It is a
// pure function of the messages and artifact hints in a thread; nothing is
// stored back, so projection and message state can never disagree.
type Artifact struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`

	// Type is the deliverable kind (plan, report, code, podcast) and
	// MimeType the renderer hint for it.
	Type     string `json:"type"`
	MimeType string `json:"mime_type"`

	Title   string `json:"title"`
	Summary string `json:"summary,omitempty"`
	Content string `json:"content"`

	Agent       string    `json:"agent,omitempty"`
	IsStreaming bool      `json:"is_streaming"`
	CreatedAt   time.Time `json:"created_at"`

	seq uint64
}

// streamingContentThreshold gates still-streaming messages out of the
// artifact panel until they have accumulated enough content to be worth
// rendering.
const streamingContentThreshold = 80

const summaryMaxLen = 100

type projection struct {
	version   uint64
	artifacts []Artifact
}

// ArtifactsForThread projects the thread's current artifacts. Results are
// memoized against the store version, so repeated reads between mutations
// return the identical slice and downstream caches stay warm.
func (s *Store) ArtifactsForThread(threadID string) []Artifact {
	s.mu.RLock()
	cached, ok := s.projCache[threadID]
	if ok && cached.version == s.version {
		s.mu.RUnlock()
		return cached.artifacts
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.projCache[threadID]; ok && cached.version == s.version {
		return cached.artifacts
	}

	arts := s.projectArtifactsLocked(threadID)
	s.projCache[threadID] = projection{version: s.version, artifacts: arts}
	return arts
}

// ArtifactsByURLParam resolves the identity mapping and projects the
// mapped thread's artifacts. The bool reports whether the mapping exists.
func (s *Store) ArtifactsByURLParam(urlParam string) ([]Artifact, bool) {
	threadID, ok := s.ThreadIDByURLParam(urlParam)
	if !ok {
		return nil, false
	}
	return s.ArtifactsForThread(threadID), true
}

func (s *Store) projectArtifactsLocked(threadID string) []Artifact {
	t, ok := s.threads[threadID]
	if !ok {
		return nil
	}

	byID := make(map[string]int)
	var arts []Artifact

	for _, mid := range t.MessageIDs {
		m := s.messages[mid]
		if m == nil || !isArtifactCandidate(m) {
			continue
		}
		a := artifactFromMessage(m)
		byID[a.ID] = len(arts)
		arts = append(arts, a)
	}

	// Out-of-band hints merge by id: a hint for a known artifact fills
	// gaps, an unknown one becomes its own entry.
	for _, h := range t.ArtifactHints {
		if idx, ok := byID[h.ArtifactID]; ok {
			mergeHint(&arts[idx], h)
			continue
		}
		arts = append(arts, artifactFromHint(threadID, h))
	}

	sort.SliceStable(arts, func(i, j int) bool { return arts[i].seq < arts[j].seq })
	return arts
}

// isArtifactCandidate decides whether a message surfaces in the artifact
// panel. System chatter never does; otherwise the producer's category tag
// wins, falling back to the agent heuristic. Streaming messages wait until
// they carry enough content.
func isArtifactCandidate(m *Message) bool {
	if m.Content == "" || m.Category == CategorySystem {
		return false
	}
	switch m.Category {
	case CategoryPlan, CategoryReport, CategoryArtifact:
	default:
		if !event.IsArtifactProducing(m.Agent) {
			return false
		}
	}
	if m.IsStreaming && len(m.Content) < streamingContentThreshold {
		return false
	}
	return true
}

func artifactFromMessage(m *Message) Artifact {
	typ, mime := artifactTypeFor(m)
	return Artifact{
		ID:          "artifact-" + m.ID,
		ThreadID:    m.ThreadID,
		Type:        typ,
		MimeType:    mime,
		Title:       artifactTitle(m.Content, typ),
		Summary:     summarize(m.Content),
		Content:     m.Content,
		Agent:       m.Agent,
		IsStreaming: m.IsStreaming,
		CreatedAt:   m.CreatedAt,
		seq:         m.seq,
	}
}

func artifactFromHint(threadID string, h event.Artifact) Artifact {
	typ := h.Type
	if typ == "" {
		typ = "report"
	}
	return Artifact{
		ID:       h.ArtifactID,
		ThreadID: threadID,
		Type:     typ,
		MimeType: mimeForType(typ),
		Title:    h.Title,
		Summary:  summarize(h.Content),
		Content:  h.Content,
		seq:      ^uint64(0), // hints without a backing message sort last
	}
}

func mergeHint(a *Artifact, h event.Artifact) {
	if h.Title != "" {
		a.Title = h.Title
	}
	if h.Type != "" {
		a.Type = h.Type
		a.MimeType = mimeForType(h.Type)
	}
	// Hint content wins only when longer: the message copy may still be
	// accumulating while the hint carried the finished payload.
	if len(h.Content) > len(a.Content) {
		a.Content = h.Content
		a.Summary = summarize(h.Content)
	}
}

func artifactTypeFor(m *Message) (typ, mime string) {
	switch m.Category {
	case CategoryPlan:
		return "plan", "text/markdown"
	case CategoryReport:
		return "report", "text/markdown"
	}
	switch m.Agent {
	case event.AgentPlanner:
		return "plan", "text/markdown"
	case event.AgentCoder:
		return "code", "text/x-code"
	case event.AgentPodcastGenerator:
		return "podcast", "audio/mp3"
	default:
		return "report", "text/markdown"
	}
}

func mimeForType(typ string) string {
	switch typ {
	case "code":
		return "text/x-code"
	case "podcast":
		return "audio/mp3"
	default:
		return "text/markdown"
	}
}

// artifactTitle uses the first markdown heading when present, otherwise a
// generic label per type.
func artifactTitle(content, typ string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
	}
	switch typ {
	case "plan":
		return "Research Plan"
	case "code":
		return "Code Output"
	case "podcast":
		return "Podcast"
	default:
		return "Research Report"
	}
}

// summarize produces a short preview, preferring a sentence boundary and
// never splitting a rune.
func summarize(content string) string {
	text := strings.TrimSpace(content)
	// Strip leading markdown heading lines from the preview.
	for strings.HasPrefix(text, "#") {
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = strings.TrimSpace(text[i+1:])
		} else {
			text = ""
		}
	}
	if text == "" {
		return ""
	}

	runes := []rune(text)
	if len(runes) <= summaryMaxLen {
		return text
	}
	cut := runes[:summaryMaxLen]
	for i := len(cut) - 1; i > summaryMaxLen/2; i-- {
		if isSentenceEnd(cut[i]) {
			return string(cut[:i+1])
		}
	}
	for i := len(cut) - 1; i > summaryMaxLen/2; i-- {
		if unicode.IsSpace(cut[i]) {
			return string(cut[:i]) + "…"
		}
	}
	return string(cut) + "…"
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}
