package agentsdk

import (
	"errors"

	"github.com/taskhub/hub/internal/huberr"
)

// Category is the agent-side error taxonomy (spec §4.11), distinct
// from internal/huberr.Kind: it is framed around what the agent should
// *do* next (retry, report, fail, shutdown) rather than what kind of
// failure occurred hub-side.
type Category string

const (
	// CategoryTransient covers network hiccups and temporary I/O
	// errors. Recovery: retry with exponential backoff.
	CategoryTransient Category = "transient"
	// CategoryAssignment covers a rejected assignment (failed
	// validation). Recovery: report, no retry.
	CategoryAssignment Category = "assignment"
	// CategoryExecution covers a do_work failure. Recovery: fail,
	// clean up, return to idle.
	CategoryExecution Category = "execution"
	// CategoryFatal covers unrecoverable conditions. Recovery: shut
	// down the agent process.
	CategoryFatal Category = "fatal"
)

// Categorize maps err to an agent-side Category. A *huberr.Error
// carries its own Kind, which this translates; any other error
// (including one returned directly by a Hooks implementation)
// defaults to CategoryExecution, since it originated in do_work.
func Categorize(err error) Category {
	var herr *huberr.Error
	if errors.As(err, &herr) {
		switch herr.Kind {
		case huberr.KindTransient:
			return CategoryTransient
		case huberr.KindFatal:
			return CategoryFatal
		case huberr.KindStructure:
			return CategoryAssignment
		case huberr.KindInvariant, huberr.KindResource:
			return CategoryExecution
		}
	}
	return CategoryExecution
}

// Recoverable reports whether category's recovery action keeps the
// agent alive (everything except CategoryFatal).
func (c Category) Recoverable() bool {
	return c != CategoryFatal
}
