package core

// CurriculumConfig controls level advancement from the rolling success rate
type CurriculumConfig struct {
	Enabled bool
	// Window is the number of most recent episodes the success rate is computed over
	Window int
	// Threshold is the success rate that must be reached to advance
	Threshold float64
}

func DefaultCurriculumConfig() CurriculumConfig {
	return CurriculumConfig{
		Enabled:   true,
		Window:    20,
		Threshold: 0.7,
	}
}

// curriculumTracker keeps the success history of the current level only
type curriculumTracker struct {
	config  CurriculumConfig
	history []bool
	next    int
	filled  bool
}

func newCurriculumTracker(config CurriculumConfig) *curriculumTracker {
	window := config.Window
	if window <= 0 {
		window = 1
	}
	return &curriculumTracker{
		config:  config,
		history: make([]bool, window),
	}
}

// Record adds an episode result and reports whether the level should advance.
// The window must be full before an advance is requested.
func (c *curriculumTracker) Record(success bool) bool {
	if !c.config.Enabled {
		return false
	}
	c.history[c.next] = success
	c.next = (c.next + 1) % len(c.history)
	if c.next == 0 {
		c.filled = true
	}
	if !c.filled {
		return false
	}
	return c.rate() >= c.config.Threshold
}

func (c *curriculumTracker) rate() float64 {
	successes := 0
	for _, s := range c.history {
		if s {
			successes++
		}
	}
	return float64(successes) / float64(len(c.history))
}

// Clear forgets the history, used after a level change
func (c *curriculumTracker) Clear() {
	for i := range c.history {
		c.history[i] = false
	}
	c.next = 0
	c.filled = false
}
