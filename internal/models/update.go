package models

// UpdateInfo is the result of an update check. It is recomputed on every
// check and never persisted.
type UpdateInfo struct {
	Available      bool   `json:"available"`
	CurrentVersion string `json:"current_version"`
	LatestVersion  string `json:"latest_version"`
	ArtifactURL    string `json:"artifact_url"`
	Notes          string `json:"notes"`
	// Mandatory advises the host to block normal use until installed.
	Mandatory bool `json:"mandatory"`
}
