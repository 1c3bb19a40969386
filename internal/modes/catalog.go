// Package modes tracks which long-running modes are active per session.
//
// Each (mode, session) pair is one small record in the modes namespace of
// a statestore.Store. A mode is either exclusive (at most one exclusive
// mode per session) or non-exclusive (stacks freely). Records older than
// the staleness threshold are ignored by queries and removed by
// CleanupStaleMarkers.
package modes

// Mode names a long-running behavioral directive.
type Mode string

const (
	ModeAutopilot  Mode = "autopilot"
	ModeUltrapilot Mode = "ultrapilot"
	ModeSwarm      Mode = "swarm"
	ModePipeline   Mode = "pipeline"
	ModeRalph      Mode = "ralph"
	ModeUltrawork  Mode = "ultrawork"
	ModeUltraQA    Mode = "ultraqa"
	ModeTeam       Mode = "team"
	ModeEcomode    Mode = "ecomode"
	ModeRalplan    Mode = "ralplan"
)

// Spec describes a mode in the catalog.
type Spec struct {
	Name        Mode
	Exclusive   bool
	Description string
}

// Catalog answers which modes exist and whether they are exclusive.
type Catalog interface {
	Lookup(m Mode) (Spec, bool)
	// Modes lists every mode in display order.
	Modes() []Mode
}

// StaticCatalog is a fixed, ordered mode table.
type StaticCatalog struct {
	specs []Spec
	index map[Mode]int
}

// NewStaticCatalog builds a catalog. Later duplicates replace earlier ones
// but keep the original position.
func NewStaticCatalog(specs ...Spec) *StaticCatalog {
	c := &StaticCatalog{index: make(map[Mode]int, len(specs))}
	for _, s := range specs {
		if i, ok := c.index[s.Name]; ok {
			c.specs[i] = s
			continue
		}
		c.index[s.Name] = len(c.specs)
		c.specs = append(c.specs, s)
	}
	return c
}

func (c *StaticCatalog) Lookup(m Mode) (Spec, bool) {
	i, ok := c.index[m]
	if !ok {
		return Spec{}, false
	}
	return c.specs[i], true
}

func (c *StaticCatalog) Modes() []Mode {
	out := make([]Mode, len(c.specs))
	for i, s := range c.specs {
		out[i] = s.Name
	}
	return out
}

// DefaultCatalog is the built-in mode table.
var DefaultCatalog Catalog = NewStaticCatalog(
	Spec{Name: ModeAutopilot, Exclusive: true, Description: "autonomous end-to-end execution"},
	Spec{Name: ModeUltrapilot, Exclusive: true, Description: "parallel autopilot across workers"},
	Spec{Name: ModeSwarm, Exclusive: true, Description: "coordinated agents sharing a task pool"},
	Spec{Name: ModePipeline, Exclusive: true, Description: "sequential agent chain"},
	Spec{Name: ModeRalph, Description: "keep working until the task is verified complete"},
	Spec{Name: ModeUltrawork, Description: "maximum parallel tool use"},
	Spec{Name: ModeUltraQA, Description: "test, verify, fix cycling"},
	Spec{Name: ModeTeam, Description: "multi-agent team coordination"},
	Spec{Name: ModeEcomode, Description: "token-efficient execution"},
	Spec{Name: ModeRalplan, Description: "iterative planning consensus"},
)
