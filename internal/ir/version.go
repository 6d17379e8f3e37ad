package ir

// RelayVersion is the murelay version, reported by health checks and the CLI.
const RelayVersion = "0.1.0"

// UserAgent is sent on every request to a sequencer or compute node.
const UserAgent = "murelay/" + RelayVersion
