package version

// Overridden at build time with -ldflags "-X despeed/internal/app/version.buildVersion=...".
var (
	buildVersion = "dev"
	builtAt      = "unknown"
)

type Info struct {
	BuildVersion string `json:"buildVersion"`
	BuiltAt      string `json:"builtAt"`
}

func Get() Info {
	return Info{
		BuildVersion: buildVersion,
		BuiltAt:      builtAt,
	}
}

func (i Info) String() string {
	if i.BuiltAt == "" || i.BuiltAt == "unknown" {
		return i.BuildVersion
	}
	return i.BuildVersion + " (built " + i.BuiltAt + ")"
}
