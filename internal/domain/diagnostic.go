package domain

// Stage names the step of a walk that produced a Diagnostic.
type Stage string

const (
	StageInactivity    Stage = "inactivity"
	StageFirstActivity Stage = "first_activity"
	StagePackageMeta   Stage = "package_meta"
	StageHeadRef       Stage = "head_ref"
)

// Diagnostic records an item that was skipped instead of failing the whole run.
// Contributor is always a hashed identity.
type Diagnostic struct {
	Repo        string `json:"repo"`
	Contributor string `json:"contributor,omitempty"`
	Package     string `json:"package,omitempty"`
	Stage       Stage  `json:"stage"`
	Reason      string `json:"reason"`
}
