package tiller

// Specialization tailors the agent loop to a task domain without subclassing:
// the loop consults it for a per-prompt hint that is attached to the model
// call as an extra system turn.
type Specialization interface {
	// Variant tags the specialization (e.g. "general", "coder", "analyst").
	Variant() string
	// Describe returns a hint for the given prompt, or "" for none.
	Describe(prompt string) string
}
