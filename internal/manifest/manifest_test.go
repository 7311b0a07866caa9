package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskhub/hub/internal/huberr"
	"github.com/taskhub/hub/types"
)

const twoPRDoc = `---
pr_id: PR-001
title: Build the scheduler
cold_state: new
priority: high
complexity: {score: 5, estimated_minutes: 50, suggested_model: sonnet}
dependencies: []
estimated_files:
  - {path: internal/scheduler/scheduler.go, action: create}
---
Some description of PR-001.

---
pr_id: PR-002
title: Build the registry
cold_state: new
priority: medium
complexity: {score: 3, estimated_minutes: 30}
dependencies: [PR-001]
---
`

func TestParse_ValidManifest(t *testing.T) {
	m, err := Parse(twoPRDoc)
	require.NoError(t, err)

	prs := m.PRs()
	require.Len(t, prs, 2)
	assert.Equal(t, "PR-001", prs[0].ID)
	assert.Equal(t, []string{"internal/scheduler/scheduler.go"}, prs[0].FilePaths())
	assert.Equal(t, "PR-002", prs[1].ID)
	assert.Equal(t, []string{"PR-001"}, prs[1].Dependencies)
}

func TestParse_DuplicatePRID(t *testing.T) {
	doc := `---
pr_id: PR-001
title: A
cold_state: new
priority: low
complexity: {score: 1, estimated_minutes: 1}
dependencies: []
---
---
pr_id: PR-001
title: B
cold_state: new
priority: low
complexity: {score: 1, estimated_minutes: 1}
dependencies: []
---
`
	_, err := Parse(doc)
	require.Error(t, err)
	assert.Equal(t, huberr.ErrDuplicatePRID, huberr.CodeOf(err))
}

func TestParse_UnclosedFrontmatter(t *testing.T) {
	doc := "---\npr_id: PR-001\ntitle: A\n"
	_, err := Parse(doc)
	require.Error(t, err)
	assert.Equal(t, huberr.ErrUnclosedFrontmatter, huberr.CodeOf(err))
}

func TestParse_DependencyCycle(t *testing.T) {
	doc := `---
pr_id: PR-001
title: A
cold_state: new
priority: low
complexity: {score: 1, estimated_minutes: 1}
dependencies: [PR-002]
---
---
pr_id: PR-002
title: B
cold_state: new
priority: low
complexity: {score: 1, estimated_minutes: 1}
dependencies: [PR-001]
---
`
	_, err := Parse(doc)
	require.Error(t, err)
	assert.Equal(t, huberr.ErrDependencyCycle, huberr.CodeOf(err))
}

func TestParse_UnresolvedDependency(t *testing.T) {
	doc := `---
pr_id: PR-001
title: A
cold_state: new
priority: low
complexity: {score: 1, estimated_minutes: 1}
dependencies: [PR-999]
---
`
	_, err := Parse(doc)
	require.Error(t, err)
	assert.Equal(t, huberr.ErrMissingField, huberr.CodeOf(err))
}

func TestParse_InvalidComplexityScore(t *testing.T) {
	doc := `---
pr_id: PR-001
title: A
cold_state: new
priority: low
complexity: {score: 11, estimated_minutes: 1}
dependencies: []
---
`
	_, err := Parse(doc)
	require.Error(t, err)
	assert.Equal(t, huberr.ErrMalformedManifest, huberr.CodeOf(err))
}

func TestParse_InvalidColdState(t *testing.T) {
	doc := `---
pr_id: PR-001
title: A
cold_state: archived
priority: low
complexity: {score: 1, estimated_minutes: 1}
dependencies: []
---
`
	_, err := Parse(doc)
	require.Error(t, err)
	assert.Equal(t, huberr.ErrMalformedManifest, huberr.CodeOf(err))
}

func TestManifest_UpdateThenSerialize_RoundTrips(t *testing.T) {
	m, err := Parse(twoPRDoc)
	require.NoError(t, err)

	prs := m.PRs()
	updated := prs[0]
	updated.ColdState = types.ColdReady
	m.Update(updated)

	out, err := m.Serialize()
	require.NoError(t, err)

	reparsed, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, types.ColdReady, reparsed.PRs()[0].ColdState)
	assert.Equal(t, types.ColdNew, reparsed.PRs()[1].ColdState)
}
