package ir

// Version constants for the statement format and the tool.
const (
	// StatementVersion is the statement identity format version. It is part
	// of the hash domain, so bumping it re-keys every statement.
	StatementVersion = "1"

	// Version is the stitch release version.
	Version = "0.3.0"
)
