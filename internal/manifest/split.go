package manifest

import (
	"strings"

	"github.com/taskhub/hub/internal/huberr"
)

type rawBlock struct {
	frontmatter string
	body        string
}

// splitBlocks scans doc for "---" delimited frontmatter sections and
// returns each section's raw YAML plus the markdown body text that
// follows it up to the next delimiter (or end of document).
func splitBlocks(doc string) ([]rawBlock, error) {
	lines := strings.Split(doc, "\n")

	var blocks []rawBlock
	i := 0
	for i < len(lines) {
		if strings.TrimSpace(lines[i]) != frontmatterDelim {
			i++
			continue
		}

		start := i + 1
		end := -1
		for j := start; j < len(lines); j++ {
			if strings.TrimSpace(lines[j]) == frontmatterDelim {
				end = j
				break
			}
		}
		if end == -1 {
			return nil, huberr.New(huberr.ErrUnclosedFrontmatter, "unclosed frontmatter block")
		}

		frontmatter := strings.Join(lines[start:end], "\n")

		bodyStart := end + 1
		bodyEnd := len(lines)
		for j := bodyStart; j < len(lines); j++ {
			if strings.TrimSpace(lines[j]) == frontmatterDelim {
				bodyEnd = j
				break
			}
		}
		body := strings.Join(lines[bodyStart:bodyEnd], "\n")
		if bodyEnd < len(lines) {
			body += "\n"
		}

		blocks = append(blocks, rawBlock{frontmatter: frontmatter, body: body})
		i = bodyEnd
	}

	return blocks, nil
}
