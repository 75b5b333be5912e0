package engine

import "fmt"

// LotOrdering selects which open lots a disposal consumes first. It is an
// injected policy: the disposal engine receives one ordering for the whole
// run instead of branching on a mode string at every call site.
type LotOrdering int

const (
	// OldestFirst consumes lots in acquisition order (FIFO).
	OldestFirst LotOrdering = iota
	// HighestCostFirst consumes the lot with the highest current unit cost
	// basis first (HIFO). The candidate set is re-evaluated before every
	// draw, not sorted once per disposal: exhausting a lot mid-disposal can
	// change which remaining lot is the most expensive.
	HighestCostFirst
)

func (o LotOrdering) String() string {
	switch o {
	case OldestFirst:
		return "FIFO"
	case HighestCostFirst:
		return "HIFO"
	default:
		return fmt.Sprintf("LotOrdering(%d)", int(o))
	}
}

// OrderingFromString maps a configured accounting-method name to an ordering.
func OrderingFromString(s string) (LotOrdering, error) {
	switch s {
	case "FIFO":
		return OldestFirst, nil
	case "HIFO":
		return HighestCostFirst, nil
	default:
		return OldestFirst, fmt.Errorf("engine: unknown accounting method %q", s)
	}
}
