package codec

// Limits configures the per-field maximum string lengths used during
// sanitization. Defaults mirror spec.md §3.
type Limits struct {
	AppNameMax      int
	AppVersionMax   int
	EventVersionMax int
	EventIDMax      int
	EventTypeMax    int
	ClientIDMax     int
	LevelIDMax      int
}

// DefaultLimits returns the configured defaults from spec.md §3.
func DefaultLimits() Limits {
	return Limits{
		AppNameMax:      64,
		AppVersionMax:   64,
		EventVersionMax: 64,
		EventIDMax:      36,
		EventTypeMax:    256,
		ClientIDMax:     36,
		LevelIDMax:      64,
	}
}
