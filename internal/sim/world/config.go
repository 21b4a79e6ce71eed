package world

type WorldConfig struct {
	// ID names the run. Tick logs, snapshots and the index are keyed by it.
	ID          string
	SceneDigest string

	TickRateHz int

	// Operational parameters.
	SnapshotEveryTicks int
	FrameEveryTicks    int
	CmdQueue           int
	MaxObservers       int
}

func (c *WorldConfig) applyDefaults() {
	if c.TickRateHz <= 0 {
		c.TickRateHz = 50
	}
	if c.SnapshotEveryTicks < 0 {
		c.SnapshotEveryTicks = 0
	}
	if c.FrameEveryTicks <= 0 {
		c.FrameEveryTicks = 5
	}
	if c.CmdQueue <= 0 {
		c.CmdQueue = 1024
	}
	if c.MaxObservers <= 0 {
		c.MaxObservers = 64
	}
}

// Dt is the fixed timestep in seconds.
func (c WorldConfig) Dt() float64 { return 1 / float64(c.TickRateHz) }
