package manifest

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/taskhub/hub/internal/huberr"
	"github.com/taskhub/hub/types"
)

const frontmatterDelim = "---"

// block is one frontmatter section plus the markdown body following it
// up to the next delimiter, kept verbatim so Serialize can round-trip
// the title/description prose that is opaque to the core.
type block struct {
	pr   types.PR
	body string
}

// Manifest is the parsed, validated set of PRs loaded from the task
// manifest document.
type Manifest struct {
	blocks []block
}

// Parse splits doc into frontmatter blocks, unmarshals each into a
// types.PR, and validates every cross-PR invariant. It returns a
// huberr.Error on the first violation: Invariant-kind for a duplicate
// pr_id, Structure-kind otherwise.
func Parse(doc string) (*Manifest, error) {
	rawBlocks, err := splitBlocks(doc)
	if err != nil {
		return nil, err
	}

	m := &Manifest{}
	seen := make(map[string]bool, len(rawBlocks))

	for i, raw := range rawBlocks {
		var pr types.PR
		if err := yaml.Unmarshal([]byte(raw.frontmatter), &pr); err != nil {
			return nil, huberr.New(huberr.ErrMalformedManifest,
				fmt.Sprintf("block %d: invalid yaml frontmatter", i)).WithCause(err)
		}

		if err := validatePR(&pr); err != nil {
			return nil, err
		}

		if seen[pr.ID] {
			return nil, huberr.New(huberr.ErrDuplicatePRID,
				fmt.Sprintf("duplicate pr_id %q", pr.ID))
		}
		seen[pr.ID] = true

		m.blocks = append(m.blocks, block{pr: pr, body: raw.body})
	}

	for _, b := range m.blocks {
		for _, dep := range b.pr.Dependencies {
			if !seen[dep] {
				return nil, huberr.New(huberr.ErrMissingField,
					fmt.Sprintf("pr %q depends on unknown pr_id %q", b.pr.ID, dep))
			}
		}
	}

	if cyc := findCycle(m.blocks); cyc != "" {
		return nil, huberr.New(huberr.ErrDependencyCycle,
			fmt.Sprintf("dependency cycle involving %q", cyc))
	}

	return m, nil
}

// PRs returns every PR in document order.
func (m *Manifest) PRs() []types.PR {
	prs := make([]types.PR, len(m.blocks))
	for i, b := range m.blocks {
		prs[i] = b.pr
	}
	return prs
}

// Update replaces the stored PR record matching pr.ID's dynamic fields,
// used before Serialize to commit a cold_state transition.
func (m *Manifest) Update(pr types.PR) {
	for i := range m.blocks {
		if m.blocks[i].pr.ID == pr.ID {
			m.blocks[i].pr = pr
			return
		}
	}
}

// Serialize renders the manifest back to markdown+frontmatter text.
// Dynamic runtime-only fields (hot_state, agent_id) are never written,
// matching the manifest's role as cold-state-only storage.
func (m *Manifest) Serialize() (string, error) {
	var sb strings.Builder
	for _, b := range m.blocks {
		data, err := yaml.Marshal(b.pr)
		if err != nil {
			return "", fmt.Errorf("marshal pr %q: %w", b.pr.ID, err)
		}
		sb.WriteString(frontmatterDelim)
		sb.WriteByte('\n')
		sb.Write(data)
		sb.WriteString(frontmatterDelim)
		sb.WriteByte('\n')
		sb.WriteString(b.body)
	}
	return sb.String(), nil
}

func validatePR(pr *types.PR) error {
	if pr.ID == "" {
		return huberr.New(huberr.ErrMissingField, "pr_id is required")
	}
	if pr.Title == "" {
		return huberr.New(huberr.ErrMissingField, fmt.Sprintf("pr %q: title is required", pr.ID))
	}
	if !pr.ColdState.Valid() {
		return huberr.New(huberr.ErrMalformedManifest,
			fmt.Sprintf("pr %q: invalid cold_state %q", pr.ID, pr.ColdState))
	}
	if !pr.Priority.Valid() {
		return huberr.New(huberr.ErrMalformedManifest,
			fmt.Sprintf("pr %q: invalid priority %q", pr.ID, pr.Priority))
	}
	if pr.Complexity.Score < 1 || pr.Complexity.Score > 10 {
		return huberr.New(huberr.ErrMalformedManifest,
			fmt.Sprintf("pr %q: complexity.score must be in [1,10]", pr.ID))
	}
	if pr.Complexity.EstimatedMinutes < 1 || pr.Complexity.EstimatedMinutes > 600 {
		return huberr.New(huberr.ErrMalformedManifest,
			fmt.Sprintf("pr %q: complexity.estimated_minutes must be in [1,600]", pr.ID))
	}
	return nil
}

// findCycle runs Kahn's algorithm over the dependency edges and
// returns the id of a PR left unprocessed (i.e. part of a cycle), or
// "" if the graph is acyclic.
func findCycle(blocks []block) string {
	indegree := make(map[string]int, len(blocks))
	dependents := make(map[string][]string, len(blocks))

	for _, b := range blocks {
		if _, ok := indegree[b.pr.ID]; !ok {
			indegree[b.pr.ID] = 0
		}
		for _, dep := range b.pr.Dependencies {
			indegree[b.pr.ID]++
			dependents[dep] = append(dependents[dep], b.pr.ID)
		}
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if processed == len(indegree) {
		return ""
	}
	for id, deg := range indegree {
		if deg > 0 {
			return id
		}
	}
	return ""
}
