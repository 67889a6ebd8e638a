package agent

// aliasedAgent wraps an Agent and reports a different Name(), so the same
// underlying CLI tool can be registered under more than one lookup key (for
// example, once per phase that is configured to use it).
type aliasedAgent struct {
	Agent
	name string
}

// Alias returns a, reporting name from Name() instead of a.Name(). Used to
// register one configured tool under several registry keys.
func Alias(a Agent, name string) Agent {
	return &aliasedAgent{Agent: a, name: name}
}

func (a *aliasedAgent) Name() string { return a.name }
