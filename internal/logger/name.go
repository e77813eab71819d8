package logger

// AppName prefixes every log file this tool writes.
const AppName = "tablegen"

// LogPrefixes returns the log file name prefixes to look for.
func LogPrefixes() []string { return []string{AppName} }

// PrimaryLogPrefix returns the preferred filename prefix for log files.
func PrimaryLogPrefix() string { return AppName }
