package types

// FileVersion is an immutable snapshot of a tracked file. Versions are
// monotonic per path; a version is never mutated after creation and only
// deleted explicitly on rollback.
type FileVersion struct {
	Path      string `json:"path"`
	Version   int    `json:"version"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"`
}
