package registry

// Usage restricts which programs should accept a given backend.
type Usage uint8

const (
	// UsageCLI marks backends available to the xdao-license CLI.
	UsageCLI Usage = 1 << iota
	// UsageDaemon marks backends the archive daemon can serve.
	UsageDaemon
)

func (u Usage) allows(want Usage) bool { return u&want != 0 }
